package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskhive/internal/model"
)

const maxWatchRetries = 8

// RedisRepo stores each user's tasks in one hash, {namespace}:tasks:{userID},
// mapping task id to the task's JSON. The set {namespace}:users lists every
// user that has tasks. Writes run in a WATCH/MULTI transaction on the hash so
// bulk operations stay all-or-nothing.
type RedisRepo struct {
	rdb       *redis.Client
	namespace string
	userID    string
	now       func() time.Time
}

var (
	_ Backend = (*RedisRepo)(nil)
	_ Repo    = (*RedisRepo)(nil)
)

// NewRedisRepo returns an error if namespace is empty.
func NewRedisRepo(opts *redis.Options, namespace string) (*RedisRepo, error) {
	if namespace == "" {
		return nil, fmt.Errorf("redis namespace cannot be empty")
	}
	return &RedisRepo{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
		userID:    "default",
		now:       time.Now,
	}, nil
}

// NewRedisRepoFromURL accepts redis://[user:pass@]host:port/db URLs.
func NewRedisRepoFromURL(url, namespace string) (*RedisRepo, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisRepo(opts, namespace)
}

func (r *RedisRepo) ForUser(userID string) Repo {
	return &RedisRepo{rdb: r.rdb, namespace: r.namespace, userID: normalizeUser(userID), now: r.now}
}

func (r *RedisRepo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisRepo) Close() error {
	return r.rdb.Close()
}

func (r *RedisRepo) usersKey() string {
	return r.namespace + ":users"
}

func (r *RedisRepo) tasksKey(userID string) string {
	return r.namespace + ":tasks:" + userID
}

func decodeTasks(userID string, raw map[string]string) (*taskSet, error) {
	tasks := make(map[model.TaskID]model.Task, len(raw))
	for id, v := range raw {
		var t model.Task
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
		}
		tasks[model.TaskID(id)] = t
	}
	return newTaskSet(userID, tasks), nil
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (r *RedisRepo) load(ctx context.Context, c hashReader, userID string) (*taskSet, error) {
	raw, err := c.HGetAll(ctx, r.tasksKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks from Redis: %w", err)
	}
	return decodeTasks(userID, raw)
}

func (r *RedisRepo) read(ctx context.Context, fn func(*taskSet)) error {
	set, err := r.load(ctx, r.rdb, r.userID)
	if err != nil {
		return err
	}
	fn(set)
	return nil
}

// flush queues the writes for every task fn touched.
func (r *RedisRepo) flush(ctx context.Context, pipe redis.Pipeliner, set *taskSet) error {
	key := r.tasksKey(set.userID)
	for id := range set.dirty {
		t, ok := set.tasks[id]
		if !ok {
			pipe.HDel(ctx, key, string(id))
			continue
		}
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", id, err)
		}
		pipe.HSet(ctx, key, string(id), b)
	}
	pipe.SAdd(ctx, r.usersKey(), set.userID)
	return nil
}

// write runs fn over userID's tasks inside an optimistic transaction and
// retries when another writer changed the hash first.
func (r *RedisRepo) write(ctx context.Context, userID string, fn func(*taskSet) error) error {
	key := r.tasksKey(userID)
	txf := func(tx *redis.Tx) error {
		set, err := r.load(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(set); err != nil {
			return err
		}
		if len(set.dirty) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.flush(ctx, pipe, set)
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("failed to write %s: too much contention", key)
}

func (r *RedisRepo) Create(ctx context.Context, in model.TaskCreate) (out model.Task, err error) {
	err = r.write(ctx, r.userID, func(s *taskSet) error {
		out, err = s.create(in, r.now())
		return err
	})
	return out, err
}

func (r *RedisRepo) Get(ctx context.Context, id model.TaskID) (model.Task, error) {
	v, err := r.rdb.HGet(ctx, r.tasksKey(r.userID), string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to read task from Redis: %w", err)
	}
	var t model.Task
	if err := json.Unmarshal([]byte(v), &t); err != nil {
		return model.Task{}, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	if t.SoftDeleted {
		return model.Task{}, ErrNotFound
	}
	return t, nil
}

func (r *RedisRepo) List(ctx context.Context, f model.Filter) (out model.Page, err error) {
	err = r.read(ctx, func(s *taskSet) { out = s.list(f) })
	return out, err
}

func (r *RedisRepo) Update(ctx context.Context, id model.TaskID, p model.Patch) (out model.Task, err error) {
	err = r.write(ctx, r.userID, func(s *taskSet) error {
		out, err = s.update(id, p, r.now())
		return err
	})
	return out, err
}

func (r *RedisRepo) Toggle(ctx context.Context, id model.TaskID) (out model.Task, err error) {
	err = r.write(ctx, r.userID, func(s *taskSet) error {
		out, err = s.toggle(id, r.now())
		return err
	})
	return out, err
}

func (r *RedisRepo) Delete(ctx context.Context, id model.TaskID) error {
	return r.write(ctx, r.userID, func(s *taskSet) error { return s.remove(id, r.now()) })
}

func (r *RedisRepo) BulkUpdate(ctx context.Context, ids []model.TaskID, p model.Patch) (n int, err error) {
	err = r.write(ctx, r.userID, func(s *taskSet) error {
		n, err = s.bulkUpdate(ids, p, r.now())
		return err
	})
	return n, err
}

func (r *RedisRepo) BulkDelete(ctx context.Context, ids []model.TaskID) (n int, err error) {
	err = r.write(ctx, r.userID, func(s *taskSet) error {
		n, err = s.bulkDelete(ids, r.now())
		return err
	})
	return n, err
}

func (r *RedisRepo) ListTrash(ctx context.Context, limit, offset int) (out model.Page, err error) {
	err = r.read(ctx, func(s *taskSet) { out = s.trash(limit, offset) })
	return out, err
}

func (r *RedisRepo) Restore(ctx context.Context, id model.TaskID) (out model.Task, err error) {
	err = r.write(ctx, r.userID, func(s *taskSet) error {
		out, err = s.restore(id, r.now())
		return err
	})
	return out, err
}

func (r *RedisRepo) RestoreMany(ctx context.Context, ids []model.TaskID) (n int, err error) {
	err = r.write(ctx, r.userID, func(s *taskSet) error {
		n, err = s.restoreMany(ids, r.now())
		return err
	})
	return n, err
}

func (r *RedisRepo) PurgeTrash(ctx context.Context, before time.Time) (n int, err error) {
	err = r.write(ctx, r.userID, func(s *taskSet) error {
		n = s.purge(before)
		return nil
	})
	return n, err
}

func (r *RedisRepo) PurgeAllTrash(ctx context.Context, before time.Time) (int, error) {
	users, err := r.rdb.SMembers(ctx, r.usersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list users from Redis: %w", err)
	}
	total := 0
	for _, uid := range users {
		n := 0
		err := r.write(ctx, uid, func(s *taskSet) error {
			n = s.purge(before)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *RedisRepo) Stats(ctx context.Context) (out model.Stats, err error) {
	err = r.read(ctx, func(s *taskSet) { out = s.stats() })
	return out, err
}
