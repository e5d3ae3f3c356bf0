package telemetry

import "time"

type EventType string

const (
	EventTaskCreated   EventType = "task_created"
	EventTaskUpdated   EventType = "task_updated"
	EventTaskCompleted EventType = "task_completed"
	EventTaskReopened  EventType = "task_reopened"
	EventTaskDeleted   EventType = "task_deleted"
	EventTaskRestored  EventType = "task_restored"
	EventBulkUpdated   EventType = "bulk_updated"
	EventBulkDeleted   EventType = "bulk_deleted"
	EventBulkRestored  EventType = "bulk_restored"
	EventTrashPurged   EventType = "trash_purged"
)

type Event struct {
	ID        int       `json:"id"`
	UserID    string    `json:"user_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata"`
}

type EventMetadata map[string]interface{}
