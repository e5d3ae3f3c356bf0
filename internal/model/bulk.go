package model

import "fmt"

type BulkUpdateType string

const (
	BulkStatus   BulkUpdateType = "status"
	BulkCategory BulkUpdateType = "category"
	BulkPriority BulkUpdateType = "priority"
)

type BulkParams struct {
	Status   *bool     `json:"status,omitempty"`
	Category *string   `json:"category,omitempty"`
	Priority *Priority `json:"priority,omitempty"`
}

type BulkUpdateRequest struct {
	TaskIDs    []TaskID       `json:"task_ids"`
	UpdateType BulkUpdateType `json:"update_type"`
	Params     BulkParams     `json:"params"`
}

// Field is the single task field the request sets.
func (r BulkUpdateRequest) Field() string {
	switch r.UpdateType {
	case BulkStatus:
		return "is_completed"
	case BulkCategory:
		return "category"
	case BulkPriority:
		return "priority"
	}
	return ""
}

func (r BulkUpdateRequest) Validate() error {
	if len(r.TaskIDs) == 0 {
		return invalid("task_ids", "at least one task id is required")
	}
	switch r.UpdateType {
	case BulkStatus:
		if r.Params.Status == nil {
			return invalid("params.status", "is required for update_type %q", r.UpdateType)
		}
	case BulkCategory:
		if r.Params.Category == nil {
			return invalid("params.category", "is required for update_type %q", r.UpdateType)
		}
		if err := validateCategory(*r.Params.Category); err != nil {
			return err
		}
	case BulkPriority:
		if r.Params.Priority == nil {
			return invalid("params.priority", "is required for update_type %q", r.UpdateType)
		}
		if !r.Params.Priority.Valid() {
			return invalid("params.priority", "must be one of Low, Medium, High (got %q)", *r.Params.Priority)
		}
	default:
		return invalid("update_type", "must be status, category or priority (got %q)", r.UpdateType)
	}
	return nil
}

// Patch converts the request into a patch setting exactly one field.
// Params other than the one named by UpdateType are ignored.
func (r BulkUpdateRequest) Patch() Patch {
	switch r.UpdateType {
	case BulkStatus:
		return Patch{IsCompleted: r.Params.Status}
	case BulkCategory:
		return Patch{Category: r.Params.Category}
	case BulkPriority:
		return Patch{Priority: r.Params.Priority}
	}
	return Patch{}
}

type BulkIDsRequest struct {
	TaskIDs []TaskID `json:"task_ids"`
}

func (r BulkIDsRequest) Validate() error {
	if len(r.TaskIDs) == 0 {
		return invalid("task_ids", "at least one task id is required")
	}
	return nil
}

type BulkItemError struct {
	TaskID TaskID `json:"task_id"`
	Error  string `json:"error"`
}

type BulkResult struct {
	Success       bool            `json:"success"`
	UpdatedCount  int             `json:"updated_count,omitempty"`
	DeletedCount  int             `json:"deleted_count,omitempty"`
	RestoredCount int             `json:"restored_count,omitempty"`
	PurgedCount   int             `json:"purged_count,omitempty"`
	FailedCount   int             `json:"failed_count"`
	Errors        []BulkItemError `json:"errors,omitempty"`
}

func (r BulkResult) String() string {
	return fmt.Sprintf("success=%t updated=%d deleted=%d restored=%d failed=%d",
		r.Success, r.UpdatedCount, r.DeletedCount, r.RestoredCount, r.FailedCount)
}

// DedupIDs drops empty and repeated ids, keeping first-seen order.
func DedupIDs(ids []TaskID) []TaskID {
	seen := make(map[TaskID]struct{}, len(ids))
	out := make([]TaskID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
