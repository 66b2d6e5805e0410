package domain

// ActionKind describes what an accepted mutation did to a task.
type ActionKind string

const (
	ActionCreate  ActionKind = "create"
	ActionUpdate  ActionKind = "update"
	ActionMove    ActionKind = "move"
	ActionReorder ActionKind = "reorder"
	ActionDelete  ActionKind = "delete"
)

// FieldChange records one field-level before/after pair of an accepted write.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old,omitempty"`
	New   any    `json:"new,omitempty"`
}

// ActivityRecord is one append-only audit entry. Records are never mutated
// or deleted after creation.
type ActivityRecord struct {
	ID          string        `json:"id"`
	TaskID      string        `json:"taskId,omitempty"`
	UserID      string        `json:"userId"`
	Action      ActionKind    `json:"action"`
	Changes     []FieldChange `json:"changes,omitempty"`
	Description string        `json:"description"`
	Timestamp   int64         `json:"timestamp"`
}

// DiffTasks compares two task records field by field against the fixed
// schema and returns the changed fields with their before/after values.
// Unchanged fields are omitted; version and lock state are internal and
// never diffed.
func DiffTasks(before, after Task) []FieldChange {
	var changes []FieldChange
	if before.Title != after.Title {
		changes = append(changes, FieldChange{Field: "title", Old: before.Title, New: after.Title})
	}
	if before.Description != after.Description {
		changes = append(changes, FieldChange{Field: "description", Old: before.Description, New: after.Description})
	}
	if before.Status != after.Status {
		changes = append(changes, FieldChange{Field: "status", Old: string(before.Status), New: string(after.Status)})
	}
	if before.Priority != after.Priority {
		changes = append(changes, FieldChange{Field: "priority", Old: string(before.Priority), New: string(after.Priority)})
	}
	if before.AssignedTo != after.AssignedTo {
		changes = append(changes, FieldChange{Field: "assignedTo", Old: before.AssignedTo, New: after.AssignedTo})
	}
	if before.Order != after.Order {
		changes = append(changes, FieldChange{Field: "order", Old: before.Order, New: after.Order})
	}
	return changes
}
