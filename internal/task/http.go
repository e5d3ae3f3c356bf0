package task

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"taskhive/internal/auth"
	"taskhive/internal/model"
	"taskhive/internal/telemetry"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	backend       Backend
	schemas       *Schemas
	events        telemetry.Repository
	logger        *log.Logger
	userResolver  func(*http.Request) (string, bool)
	retentionDays int
	now           func() time.Time
}

func NewHandler(backend Backend, schemas *Schemas) *Handler {
	return &Handler{
		backend:       backend,
		schemas:       schemas,
		logger:        log.New(io.Discard),
		retentionDays: 30,
		now:           time.Now,
	}
}

func (h *Handler) SetEvents(events telemetry.Repository) {
	h.events = events
}

func (h *Handler) SetLogger(logger *log.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetRetentionDays sets the default age for DELETE /api/trash/cleanup.
func (h *Handler) SetRetentionDays(days int) {
	if days >= 0 {
		h.retentionDays = days
	}
}

func (h *Handler) SetUserResolver(fn func(*http.Request) (string, bool)) {
	h.userResolver = fn
}

func (h *Handler) userForRequest(r *http.Request) (string, bool) {
	if h.userResolver != nil {
		return h.userResolver(r)
	}
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		return "", false
	}
	return u.ID, true
}

// repoForRequest writes a 401 and returns ok=false when nobody is signed in.
func (h *Handler) repoForRequest(w http.ResponseWriter, r *http.Request) (Repo, string, bool) {
	uid, ok := h.userForRequest(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return nil, "", false
	}
	return h.backend.ForUser(uid), uid, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema string, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := h.schemas.Decode(schema, body, out); err != nil {
		h.writeRepoErr(w, r, err)
		return false
	}
	return true
}

// writeRepoErr maps store and validation errors onto HTTP statuses.
func (h *Handler) writeRepoErr(w http.ResponseWriter, r *http.Request, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeErr(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, model.ErrValidation):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrNotOwned):
		writeErr(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Error("task store failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) record(userID string, typ telemetry.EventType, meta telemetry.EventMetadata) {
	if h.events == nil {
		return
	}
	if err := h.events.RecordEvent(userID, typ, meta); err != nil {
		h.logger.Warn("record event failed", "type", typ, "err", err)
	}
}

func normalizePriority(p *model.Priority) error {
	if p == nil || *p == "" {
		return nil
	}
	canonical, err := model.ParsePriority(string(*p))
	if err != nil {
		return err
	}
	*p = canonical
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &model.ValidationError{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// /api/tasks  (collection)
func (h *Handler) TasksRoot(w http.ResponseWriter, r *http.Request) {
	repo, uid, ok := h.repoForRequest(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, err := model.FilterFromQuery(r.URL.Query())
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		page, err := repo.List(r.Context(), f)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)

	case http.MethodPost:
		var in model.TaskCreate
		if !h.decode(w, r, schemaTaskCreate, &in) {
			return
		}
		if err := normalizePriority(&in.Priority); err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		t, err := repo.Create(r.Context(), in)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		h.record(uid, telemetry.EventTaskCreated, telemetry.EventMetadata{
			"task_id":  t.ID,
			"priority": t.Priority,
			"category": t.Category,
		})
		writeJSON(w, http.StatusCreated, t)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// /api/tasks/stats, /api/tasks/bulk/{update,delete}, /api/tasks/{id}[/toggle]
func (h *Handler) TasksSub(w http.ResponseWriter, r *http.Request) {
	repo, uid, ok := h.repoForRequest(w, r)
	if !ok {
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	if tail == "" {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(tail, "/")

	switch {
	case len(parts) == 1 && parts[0] == "stats":
		h.stats(w, r, repo)
	case len(parts) == 2 && parts[0] == "bulk" && parts[1] == "update":
		h.bulkUpdate(w, r, repo, uid)
	case len(parts) == 2 && parts[0] == "bulk" && parts[1] == "delete":
		h.bulkDelete(w, r, repo, uid)
	case len(parts) == 1:
		h.task(w, r, repo, uid, model.TaskID(parts[0]))
	case len(parts) == 2 && parts[1] == "toggle":
		h.toggle(w, r, repo, uid, model.TaskID(parts[0]))
	default:
		writeErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request, repo Repo) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, err := repo.Stats(r.Context())
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) task(w http.ResponseWriter, r *http.Request, repo Repo, uid string, id model.TaskID) {
	switch r.Method {
	case http.MethodGet:
		t, err := repo.Get(r.Context(), id)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)

	case http.MethodPut, http.MethodPatch:
		var p model.Patch
		if !h.decode(w, r, schemaTaskPatch, &p) {
			return
		}
		if err := normalizePriority(p.Priority); err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		t, err := repo.Update(r.Context(), id, p)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		h.record(uid, telemetry.EventTaskUpdated, telemetry.EventMetadata{
			"task_id": t.ID,
			"fields":  p.Fields(),
		})
		if p.IsCompleted != nil && *p.IsCompleted {
			h.record(uid, telemetry.EventTaskCompleted, telemetry.EventMetadata{"task_id": t.ID})
		}
		writeJSON(w, http.StatusOK, t)

	case http.MethodDelete:
		if err := repo.Delete(r.Context(), id); err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		h.record(uid, telemetry.EventTaskDeleted, telemetry.EventMetadata{"task_id": id})
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, repo Repo, uid string, id model.TaskID) {
	if r.Method != http.MethodPatch {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	t, err := repo.Toggle(r.Context(), id)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	typ := telemetry.EventTaskReopened
	if t.IsCompleted {
		typ = telemetry.EventTaskCompleted
	}
	h.record(uid, typ, telemetry.EventMetadata{"task_id": t.ID})
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) bulkUpdate(w http.ResponseWriter, r *http.Request, repo Repo, uid string) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req model.BulkUpdateRequest
	if !h.decode(w, r, schemaBulkUpdate, &req) {
		return
	}
	if err := normalizePriority(req.Params.Priority); err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	n, err := repo.BulkUpdate(r.Context(), req.TaskIDs, req.Patch())
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	meta := telemetry.EventMetadata{"count": n, "update_type": req.UpdateType}
	if req.UpdateType == model.BulkStatus {
		meta["status"] = *req.Params.Status
	}
	h.record(uid, telemetry.EventBulkUpdated, meta)
	writeJSON(w, http.StatusOK, model.BulkResult{Success: true, UpdatedCount: n})
}

func (h *Handler) bulkDelete(w http.ResponseWriter, r *http.Request, repo Repo, uid string) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req model.BulkIDsRequest
	if !h.decode(w, r, schemaBulkIDs, &req) {
		return
	}
	n, err := repo.BulkDelete(r.Context(), req.TaskIDs)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	h.record(uid, telemetry.EventBulkDeleted, telemetry.EventMetadata{"count": n})
	writeJSON(w, http.StatusOK, model.BulkResult{Success: true, DeletedCount: n})
}

// /api/trash
func (h *Handler) TrashRoot(w http.ResponseWriter, r *http.Request) {
	repo, _, ok := h.repoForRequest(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, err := queryInt(r, "limit", model.DefaultListLimit)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	page, err := repo.ListTrash(r.Context(), limit, offset)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// /api/trash/restore, /api/trash/cleanup, /api/trash/{id}/restore
func (h *Handler) TrashSub(w http.ResponseWriter, r *http.Request) {
	repo, uid, ok := h.repoForRequest(w, r)
	if !ok {
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/trash/"), "/")
	parts := strings.Split(tail, "/")

	switch {
	case len(parts) == 1 && parts[0] == "restore":
		h.restoreMany(w, r, repo, uid)
	case len(parts) == 1 && parts[0] == "cleanup":
		h.cleanup(w, r, repo, uid)
	case len(parts) == 2 && parts[0] != "" && parts[1] == "restore":
		h.restore(w, r, repo, uid, model.TaskID(parts[0]))
	default:
		writeErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request, repo Repo, uid string, id model.TaskID) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	t, err := repo.Restore(r.Context(), id)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	h.record(uid, telemetry.EventTaskRestored, telemetry.EventMetadata{"task_id": t.ID})
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) restoreMany(w http.ResponseWriter, r *http.Request, repo Repo, uid string) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req model.BulkIDsRequest
	if !h.decode(w, r, schemaBulkIDs, &req) {
		return
	}
	n, err := repo.RestoreMany(r.Context(), req.TaskIDs)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	h.record(uid, telemetry.EventBulkRestored, telemetry.EventMetadata{"count": n})
	writeJSON(w, http.StatusOK, model.BulkResult{Success: true, RestoredCount: n})
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request, repo Repo, uid string) {
	if r.Method != http.MethodDelete {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	days, err := queryInt(r, "older_than_days", h.retentionDays)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	before := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := repo.PurgeTrash(r.Context(), before)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	h.record(uid, telemetry.EventTrashPurged, telemetry.EventMetadata{"count": n, "older_than_days": days})
	writeJSON(w, http.StatusOK, model.BulkResult{Success: true, PurgedCount: n})
}

// GET /api/activity/stats?since=2026-01-02 (or ?days=7)
func (h *Handler) ActivityStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userForRequest(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.events == nil {
		writeErr(w, http.StatusServiceUnavailable, "activity tracking disabled")
		return
	}

	now := h.now()
	since, err := parseSince(r, now)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	events, err := h.events.GetEvents(uid, since, nil)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	stats, err := telemetry.CalculateStats(events, since, now)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseSince(r *http.Request, now time.Time) (time.Time, error) {
	q := r.URL.Query()
	if s := strings.TrimSpace(q.Get("since")); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, &model.ValidationError{Field: "since", Message: "must be a date (2006-01-02) or RFC3339 time"}
		}
		return t, nil
	}
	days, err := queryInt(r, "days", 7)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour), nil
}
