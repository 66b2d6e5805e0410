package api

import (
	"context"

	"boardsync/board"
	"boardsync/domain"
)

// Board abstracts the coordination core for handlers.
type Board interface {
	Tasks(ctx context.Context) ([]domain.Task, error)
	Users(ctx context.Context) ([]domain.User, error)
	ActivityFeed(ctx context.Context, limit int) ([]domain.ActivityRecord, error)

	Create(ctx context.Context, userID, connID string, req board.CreateRequest) (domain.Task, error)
	Update(ctx context.Context, userID, connID, taskID string, changes board.TaskChanges) (domain.Task, error)
	Move(ctx context.Context, userID, connID, taskID string, status domain.Status, order int) (domain.Task, error)
	Delete(ctx context.Context, userID, connID, taskID string) error
	Reorder(ctx context.Context, userID, connID string, positions []domain.TaskPosition) error

	AcquireLock(ctx context.Context, userID, connID, taskID string) (board.LockSession, error)
	ReleaseLock(userID, connID, taskID string)

	Connect(user domain.User) (string, <-chan domain.Event)
	Disconnect(connID string)
	Relay(connID string, ev domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
