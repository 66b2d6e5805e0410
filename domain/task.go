package domain

import (
	"strings"
	"time"
)

// Status identifies the board column a task lives in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Valid reports whether s is a known column.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Terminal reports whether tasks in this status no longer count against a
// user's load.
func (s Status) Terminal() bool { return s == StatusDone }

// Priority is the task urgency level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single board item.
//
// Version increases by exactly one on every accepted write. The lock fields
// are ephemeral: they are never persisted and are populated from the live
// lock sessions when tasks are served to clients.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	AssignedTo  string   `json:"assignedTo"`
	CreatedBy   string   `json:"createdBy"`
	Order       int      `json:"order"`
	Version     int      `json:"version"`

	IsLocked       bool       `json:"isLocked"`
	LockedBy       string     `json:"lockedBy,omitempty"`
	LockAcquiredAt *time.Time `json:"lockAcquiredAt,omitempty"`
}

// TaskPosition is one entry of a bulk reorder: the target column and order
// slot for a task.
type TaskPosition struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Order  int    `json:"order"`
}

const (
	maxTitleLen       = 100
	maxDescriptionLen = 500
)

// reservedTitles are column names a task title must not shadow, compared
// case-insensitively.
var reservedTitles = []string{"todo", "in progress", "done", "to do", "in-progress"}

// ValidateTitle checks length and reserved-name rules. Uniqueness against the
// rest of the board is the coordination service's job.
func ValidateTitle(title string) error {
	if title == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if len(title) > maxTitleLen {
		return &ValidationError{Field: "title", Reason: "title must be at most 100 characters"}
	}
	lowered := strings.ToLower(strings.TrimSpace(title))
	for _, reserved := range reservedTitles {
		if lowered == reserved {
			return &ValidationError{Field: "title", Reason: "title must not be a column name"}
		}
	}
	return nil
}

// ValidateDescription checks the description length bound.
func ValidateDescription(desc string) error {
	if len(desc) > maxDescriptionLen {
		return &ValidationError{Field: "description", Reason: "description must be at most 500 characters"}
	}
	return nil
}

// Validate checks all field-shape rules for a task record.
func (t Task) Validate() error {
	if err := ValidateTitle(t.Title); err != nil {
		return err
	}
	if err := ValidateDescription(t.Description); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status"}
	}
	if !t.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown priority"}
	}
	if t.AssignedTo == "" {
		return &ValidationError{Field: "assignedTo", Reason: "assignee is required"}
	}
	if t.CreatedBy == "" {
		return &ValidationError{Field: "createdBy", Reason: "creator is required"}
	}
	return nil
}

// TitleEqualFold reports whether two titles collide under the board's
// case-insensitive uniqueness rule.
func TitleEqualFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
