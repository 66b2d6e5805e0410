package api

import "boardsync/domain"

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// connectionHeader carries the caller's stream connection id so its own
// mutations are not echoed back to it.
const connectionHeader = "X-Connection-ID"

type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      domain.Status   `json:"status"`
	Priority    domain.Priority `json:"priority"`
	AssignedTo  string          `json:"assignedTo"`
	Order       *int            `json:"order"`
}

type updateTaskRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Status      *domain.Status   `json:"status"`
	Priority    *domain.Priority `json:"priority"`
	AssignedTo  *string          `json:"assignedTo"`
	Order       *int             `json:"order"`
}

type moveTaskRequest struct {
	Status domain.Status `json:"status"`
	Order  int           `json:"order"`
}

type reorderRequest struct {
	Positions []domain.TaskPosition `json:"positions"`
}

type relayEventRequest struct {
	Type   domain.EventType `json:"type"`
	TaskID string           `json:"taskId,omitempty"`
	Data   map[string]any   `json:"data,omitempty"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type usersResponse struct {
	Users []domain.User `json:"users"`
}

type activityResponse struct {
	Activity []domain.ActivityRecord `json:"activity"`
}

type lockResponse struct {
	TaskID     string `json:"taskId"`
	LockedBy   string `json:"lockedBy"`
	AcquiredAt int64  `json:"acquiredAt"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Holder string `json:"holder,omitempty"`
}
