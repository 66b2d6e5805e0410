package domain

import "github.com/bytedance/sonic"

// EventType enumerates the closed set of messages exchanged with clients.
// The string values are the wire-level names; inside the core events are
// dispatched on the typed constant, never on the raw string.
type EventType string

const (
	EventTaskCreated        EventType = "task_created"
	EventTaskUpdated        EventType = "task_updated"
	EventTaskDeleted        EventType = "task_deleted"
	EventTaskMoved          EventType = "task_moved"
	EventTasksReordered     EventType = "tasks_reordered"
	EventUserOnline         EventType = "user_online"
	EventUserOffline        EventType = "user_offline"
	EventOnlineUsers        EventType = "online_users"
	EventEditStarted        EventType = "edit_started"
	EventEditEnded          EventType = "edit_ended"
	EventEditSessionExpired EventType = "edit_session_expired"
	EventConflictDetected   EventType = "conflict_detected"
	EventNewActivity        EventType = "new_activity"
	EventTypingStart        EventType = "typing_start"
	EventTypingStop         EventType = "typing_stop"
	EventCursorPosition     EventType = "cursor_position"
)

// Valid reports whether t is part of the event vocabulary.
func (t EventType) Valid() bool {
	switch t {
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted, EventTaskMoved,
		EventTasksReordered, EventUserOnline, EventUserOffline, EventOnlineUsers,
		EventEditStarted, EventEditEnded, EventEditSessionExpired,
		EventConflictDetected, EventNewActivity,
		EventTypingStart, EventTypingStop, EventCursorPosition:
		return true
	}
	return false
}

// Relayable reports whether clients may submit this event for verbatim
// fan-out. Everything else is produced by the coordination service itself.
func (t EventType) Relayable() bool {
	switch t {
	case EventTypingStart, EventTypingStop, EventCursorPosition:
		return true
	}
	return false
}

// Event is one broadcast message. Exactly one of Task, User, Positions,
// Activity, or Data carries the payload, depending on Type.
type Event struct {
	Type      EventType              `json:"type"`
	TaskID    string                 `json:"taskId,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	Task      *Task                  `json:"task,omitempty"`
	User      *User                  `json:"user,omitempty"`
	Users     []User                 `json:"users,omitempty"`
	Positions []TaskPosition         `json:"positions,omitempty"`
	Activity  *ActivityRecord        `json:"activity,omitempty"`
	Data      sonic.NoCopyRawMessage `json:"data,omitempty"`
	Time      int64                  `json:"time"`
}
