package domain

import (
	"errors"
	"fmt"
)

// ErrNoCandidates is returned by SelectAssignee when the user set is empty.
var ErrNoCandidates = errors.New("no assignment candidates")

// ValidationError signals user-correctable bad input. Its message is safe to
// surface verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// LockConflictError signals that another user holds an unexpired edit lock on
// the task. It carries the holder so the client can explain who is editing.
type LockConflictError struct {
	TaskID string
	Holder string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("task %s is being edited by %s", e.TaskID, e.Holder)
}

// NotFoundError signals a stale task id.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

// PermissionError signals an operation restricted to the task's creator or
// current assignee.
type PermissionError struct {
	TaskID string
	UserID string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s may not modify task %s", e.UserID, e.TaskID)
}
