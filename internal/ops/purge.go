package ops

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"taskhive/internal/telemetry"
)

// TrashPurger is the slice of task.Backend the janitor needs.
type TrashPurger interface {
	PurgeAllTrash(ctx context.Context, before time.Time) (int, error)
}

// SessionPurger drops expired sessions and OTP challenges.
type SessionPurger interface {
	PurgeExpired(now time.Time) (int, error)
}

type PurgeReport struct {
	Tasks    int `json:"tasks"`
	Sessions int `json:"sessions"`
}

// Janitor enforces trash retention and clears expired auth state.
type Janitor struct {
	Tasks     TrashPurger
	Sessions  SessionPurger
	Events    telemetry.Repository
	Retention time.Duration
	Logger    *log.Logger
	Now       func() time.Time
}

func (j *Janitor) logger() *log.Logger {
	if j.Logger == nil {
		return log.New(io.Discard)
	}
	return j.Logger
}

func (j *Janitor) now() time.Time {
	if j.Now == nil {
		return time.Now()
	}
	return j.Now()
}

// Purge runs one pass. Soft-deleted tasks older than Retention are removed
// permanently.
func (j *Janitor) Purge(ctx context.Context) (PurgeReport, error) {
	var rep PurgeReport
	now := j.now()

	if j.Tasks != nil {
		n, err := j.Tasks.PurgeAllTrash(ctx, now.Add(-j.Retention))
		if err != nil {
			return rep, err
		}
		rep.Tasks = n
		if n > 0 && j.Events != nil {
			if err := j.Events.RecordEvent("", telemetry.EventTrashPurged, telemetry.EventMetadata{"count": n, "source": "janitor"}); err != nil {
				j.logger().Warn("record event failed", "err", err)
			}
		}
	}
	if j.Sessions != nil {
		n, err := j.Sessions.PurgeExpired(now)
		if err != nil {
			return rep, err
		}
		rep.Sessions = n
	}
	return rep, nil
}

// Run calls Purge every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep, err := j.Purge(ctx)
			if err != nil {
				j.logger().Warn("janitor purge failed", "err", err)
				continue
			}
			if rep.Tasks > 0 || rep.Sessions > 0 {
				j.logger().Info("janitor purged", "tasks", rep.Tasks, "sessions", rep.Sessions)
			}
		}
	}
}
