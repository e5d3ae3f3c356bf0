package telemetry

import (
	"encoding/json"
	"math"
	"time"
)

// Stats summarizes a user's task activity over a period.
type Stats struct {
	Period          string            `json:"period"`
	EventCounts     map[EventType]int `json:"event_counts"`
	TasksCreated    int               `json:"tasks_created"`
	TasksCompleted  int               `json:"tasks_completed"`
	TasksDeleted    int               `json:"tasks_deleted"`
	TasksRestored   int               `json:"tasks_restored"`
	TasksPurged     int               `json:"tasks_purged"`
	CompletedPerDay float64           `json:"completed_per_day"`
	CategoryUsage   map[string]int    `json:"category_usage"`
}

// CalculateStats computes activity stats from events recorded since since.
// Bulk events count every task they touched, read from the "count" metadata.
func CalculateStats(events []Event, since, now time.Time) (Stats, error) {
	stats := Stats{
		Period:        since.Format("2006-01-02"),
		EventCounts:   make(map[EventType]int),
		CategoryUsage: make(map[string]int),
	}

	for _, event := range events {
		stats.EventCounts[event.Type]++

		var metadata EventMetadata
		if err := json.Unmarshal([]byte(event.Metadata), &metadata); err != nil {
			continue
		}

		switch event.Type {
		case EventTaskCreated:
			stats.TasksCreated++
			if cat, ok := metadata["category"].(string); ok && cat != "" {
				stats.CategoryUsage[cat]++
			}
		case EventTaskCompleted:
			stats.TasksCompleted++
		case EventTaskDeleted:
			stats.TasksDeleted++
		case EventTaskRestored:
			stats.TasksRestored++
		case EventBulkDeleted:
			stats.TasksDeleted += count(metadata)
		case EventBulkRestored:
			stats.TasksRestored += count(metadata)
		case EventBulkUpdated:
			if status, ok := metadata["status"].(bool); ok && status {
				stats.TasksCompleted += count(metadata)
			}
		case EventTrashPurged:
			stats.TasksPurged += count(metadata)
		}
	}

	days := math.Ceil(now.Sub(since).Hours() / 24)
	if days < 1 {
		days = 1
	}
	stats.CompletedPerDay = float64(stats.TasksCompleted) / days

	return stats, nil
}

func count(metadata EventMetadata) int {
	if n, ok := metadata["count"].(float64); ok {
		return int(n)
	}
	return 0
}
