package taskcache

import "taskhive/internal/model"

// SetFields applies p to every listed task that is present.
func SetFields(ids []model.TaskID, p model.Patch) Transform {
	want := idSet(ids)
	return func(in []model.Task) []model.Task {
		out := make([]model.Task, len(in))
		for i, t := range in {
			if _, ok := want[t.ID]; ok {
				t = p.Apply(t)
			}
			out[i] = t
		}
		return out
	}
}

// Remove drops the listed tasks.
func Remove(ids []model.TaskID) Transform {
	drop := idSet(ids)
	return func(in []model.Task) []model.Task {
		out := make([]model.Task, 0, len(in))
		for _, t := range in {
			if _, ok := drop[t.ID]; ok {
				continue
			}
			out = append(out, t)
		}
		return out
	}
}

// Put replaces the task with the same id, or prepends t when absent. With
// limit > 0 the result is cut to at most limit tasks.
func Put(t model.Task, limit int) Transform {
	t = t.Clone()
	return func(in []model.Task) []model.Task {
		out := make([]model.Task, 0, len(in)+1)
		found := false
		for _, cur := range in {
			if cur.ID == t.ID {
				cur = t
				found = true
			}
			out = append(out, cur)
		}
		if !found {
			out = append([]model.Task{t}, out...)
		}
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out
	}
}

// Replace swaps in t only if a task with its id is present.
func Replace(t model.Task) Transform {
	t = t.Clone()
	return func(in []model.Task) []model.Task {
		out := make([]model.Task, len(in))
		for i, cur := range in {
			if cur.ID == t.ID {
				cur = t
			}
			out[i] = cur
		}
		return out
	}
}

func idSet(ids []model.TaskID) map[model.TaskID]struct{} {
	m := make(map[model.TaskID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
