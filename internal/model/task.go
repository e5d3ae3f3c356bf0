package model

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type TaskID string

const (
	MaxTitleLen       = 255
	MaxDescriptionLen = 1000
	MaxCategoryLen    = 100

	DefaultListLimit = 20
	MaxListLimit     = 100
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

var ErrValidation = errors.New("validation failed")

// ValidationError describes a single rejected field. It matches ErrValidation
// with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ParsePriority accepts any casing ("high", "HIGH") and returns the canonical value.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return "", invalid("priority", "must be one of Low, Medium, High (got %q)", s)
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Task struct {
	ID          TaskID     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Category    string     `json:"category,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	IsCompleted bool       `json:"is_completed"`
	UserID      string     `json:"user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SoftDeleted bool       `json:"soft_deleted"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		t.DeletedAt = &d
	}
	return t
}

func (t Task) Validate() error {
	if err := validateTitle(t.Title); err != nil {
		return err
	}
	if err := validateDescription(t.Description); err != nil {
		return err
	}
	if err := validateCategory(t.Category); err != nil {
		return err
	}
	if !t.Priority.Valid() {
		return invalid("priority", "must be one of Low, Medium, High (got %q)", t.Priority)
	}
	if t.SoftDeleted != (t.DeletedAt != nil) {
		return invalid("deleted_at", "must be set if and only if soft_deleted is true")
	}
	return nil
}

// MarkDeleted soft-deletes the task at now.
func (t *Task) MarkDeleted(now time.Time) {
	t.SoftDeleted = true
	t.DeletedAt = &now
	t.touch(now)
}

func (t *Task) MarkRestored(now time.Time) {
	t.SoftDeleted = false
	t.DeletedAt = nil
	t.touch(now)
}

// touch keeps UpdatedAt monotonic non-decreasing.
func (t *Task) touch(now time.Time) {
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

func (t *Task) Touch(now time.Time) { t.touch(now) }

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return invalid("title", "must be at most %d characters", MaxTitleLen)
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLen {
		return invalid("description", "must be at most %d characters", MaxDescriptionLen)
	}
	return nil
}

func validateCategory(cat string) error {
	if utf8.RuneCountInString(cat) > MaxCategoryLen {
		return invalid("category", "must be at most %d characters", MaxCategoryLen)
	}
	return nil
}

// TaskCreate is the payload for POST /api/tasks.
type TaskCreate struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	Category    string     `json:"category,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

func (c TaskCreate) Validate() error {
	if err := validateTitle(c.Title); err != nil {
		return err
	}
	if err := validateDescription(c.Description); err != nil {
		return err
	}
	if err := validateCategory(c.Category); err != nil {
		return err
	}
	if c.Priority != "" && !c.Priority.Valid() {
		return invalid("priority", "must be one of Low, Medium, High (got %q)", c.Priority)
	}
	return nil
}

// Task builds an unsaved task; the store assigns ID and timestamps.
func (c TaskCreate) Task() Task {
	p := c.Priority
	if p == "" {
		p = PriorityMedium
	}
	t := Task{
		Title:       strings.TrimSpace(c.Title),
		Description: c.Description,
		Priority:    p,
		Category:    strings.TrimSpace(c.Category),
		DueDate:     c.DueDate,
	}
	return t.Clone()
}

// Patch is a partial update. nil pointer => "no change".
type Patch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Category    *string    `json:"category,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	IsCompleted *bool      `json:"is_completed,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the wire names of the fields p sets.
func (p Patch) Fields() []string {
	var out []string
	if p.Title != nil {
		out = append(out, "title")
	}
	if p.Description != nil {
		out = append(out, "description")
	}
	if p.Priority != nil {
		out = append(out, "priority")
	}
	if p.Category != nil {
		out = append(out, "category")
	}
	if p.DueDate != nil {
		out = append(out, "due_date")
	}
	if p.IsCompleted != nil {
		out = append(out, "is_completed")
	}
	return out
}

func (p Patch) Validate() error {
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.Category != nil {
		if err := validateCategory(*p.Category); err != nil {
			return err
		}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return invalid("priority", "must be one of Low, Medium, High (got %q)", *p.Priority)
	}
	return nil
}

// Merge returns p with every field set in next overwriting p's value.
func (p Patch) Merge(next Patch) Patch {
	if next.Title != nil {
		p.Title = next.Title
	}
	if next.Description != nil {
		p.Description = next.Description
	}
	if next.Priority != nil {
		p.Priority = next.Priority
	}
	if next.Category != nil {
		p.Category = next.Category
	}
	if next.DueDate != nil {
		p.DueDate = next.DueDate
	}
	if next.IsCompleted != nil {
		p.IsCompleted = next.IsCompleted
	}
	return p
}

// Apply overlays the fields set in p onto t. Timestamps are left alone.
func (p Patch) Apply(t Task) Task {
	t = t.Clone()
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.IsCompleted != nil {
		t.IsCompleted = *p.IsCompleted
	}
	return t
}

// Filter scopes a task listing.
type Filter struct {
	Priority    Priority
	Category    string
	IsCompleted *bool
	Limit       int
	Offset      int
}

// Normalize clamps paging values to the API's bounds.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether t is visible under f (paging ignored).
func (f Filter) Matches(t Task) bool {
	if t.SoftDeleted {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.IsCompleted != nil && t.IsCompleted != *f.IsCompleted {
		return false
	}
	return true
}

func (f Filter) Query() url.Values {
	q := url.Values{}
	if f.Priority != "" {
		q.Set("priority", string(f.Priority))
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.IsCompleted != nil {
		q.Set("is_completed", strconv.FormatBool(*f.IsCompleted))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

// FilterFromQuery parses the list query string of GET /api/tasks.
func FilterFromQuery(q url.Values) (Filter, error) {
	var f Filter
	if s := strings.TrimSpace(q.Get("priority")); s != "" {
		p, err := ParsePriority(s)
		if err != nil {
			return Filter{}, err
		}
		f.Priority = p
	}
	f.Category = strings.TrimSpace(q.Get("category"))
	if s := strings.TrimSpace(q.Get("is_completed")); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Filter{}, invalid("is_completed", "must be a boolean")
		}
		f.IsCompleted = &b
	}
	var err error
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return Filter{}, err
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return Filter{}, err
	}
	return f.Normalize(), nil
}

func intParam(q url.Values, name string) (int, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

// Page is the list response of GET /api/tasks and GET /api/trash.
type Page struct {
	Tasks  []Task `json:"tasks"`
	Total  int    `json:"total"`
	Offset int    `json:"offset"`
}

type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}
