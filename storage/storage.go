package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"boardsync/domain"
)

// boardPartition keys every entity of the shared board. All clients see the
// same tasks, so a single partition keeps bulk reorders transactional.
const boardPartition = "board"

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	taskTable     *aztables.Client
	userTable     *aztables.Client
	activityTable *aztables.Client
	activityQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable, activityTable, activityQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	ut := svc.NewClient(usersTable)
	at := svc.NewClient(activityTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	aq, err := azqueue.NewQueueClientFromConnectionString(connStr, activityQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: tt, userTable: ut, activityTable: at, activityQueue: aq}, nil
}

// taskEntity is the durable shape of a task. Lock state is deliberately
// absent: edit locks live only in memory and a restart must never surface a
// task as durably locked.
type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	AssignedTo  string `json:"AssignedTo"`
	CreatedBy   string `json:"CreatedBy"`
	Order       int    `json:"Order"`
	Version     int    `json:"Version"`
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Priority:    domain.Priority(e.Priority),
		AssignedTo:  e.AssignedTo,
		CreatedBy:   e.CreatedBy,
		Order:       e.Order,
		Version:     e.Version,
	}
}

func toTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:      aztables.Entity{PartitionKey: boardPartition, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		Order:       t.Order,
		Version:     t.Version,
	}
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// Get retrieves a single task by id.
func (s *Storage) Get(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, boardPartition, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, &domain.NotFoundError{TaskID: id}
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.toDomain(), nil
}

// Put stores the full task record, replacing any previous version.
func (s *Storage) Put(ctx context.Context, task domain.Task) error {
	data, err := json.Marshal(toTaskEntity(task))
	if err != nil {
		return err
	}
	_, err = s.taskTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	return err
}

// FindByTitle looks for an exact title match. Case-insensitive collisions are
// the caller's concern; the table filter only supports exact comparison.
func (s *Storage) FindByTitle(ctx context.Context, title string) (domain.Task, bool, error) {
	escaped := strings.ReplaceAll(title, "'", "''")
	filter := "PartitionKey eq '" + boardPartition + "' and Title eq '" + escaped + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Task{}, false, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return domain.Task{}, false, err
			}
			return ent.toDomain(), true, nil
		}
	}
	return domain.Task{}, false, nil
}

// ListAll retrieves every task on the board.
func (s *Storage) ListAll(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.toDomain())
		}
	}
	return tasks, nil
}

// BulkUpdatePositions rewrites column and order for a set of tasks in one
// table transaction. Everything shares the board partition, so the batch
// either fully applies or fully fails.
func (s *Storage) BulkUpdatePositions(ctx context.Context, positions []domain.TaskPosition) error {
	actions := make([]aztables.TransactionAction, 0, len(positions))
	for _, p := range positions {
		ent := struct {
			aztables.Entity
			Status string `json:"Status"`
			Order  int    `json:"Order"`
		}{
			Entity: aztables.Entity{PartitionKey: boardPartition, RowKey: p.ID},
			Status: string(p.Status),
			Order:  p.Order,
		}
		data, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     data,
		})
	}
	_, err := s.taskTable.SubmitTransaction(ctx, actions, nil)
	if err != nil && isNotFound(err) {
		return &domain.NotFoundError{TaskID: "batch"}
	}
	return err
}

// Delete removes a task record.
func (s *Storage) Delete(ctx context.Context, id string) error {
	_, err := s.taskTable.DeleteEntity(ctx, boardPartition, id, nil)
	if isNotFound(err) {
		return &domain.NotFoundError{TaskID: id}
	}
	return err
}

type userEntity struct {
	aztables.Entity
	Name  string `json:"Name"`
	Email string `json:"Email"`
}

// ListUsers retrieves the full user directory.
func (s *Storage) ListUsers(ctx context.Context) ([]domain.User, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	pager := s.userTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	users := []domain.User{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent userEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			users = append(users, domain.User{ID: ent.RowKey, Name: ent.Name, Email: ent.Email})
		}
	}
	return users, nil
}

type activityEntity struct {
	aztables.Entity
	ActivityID  string `json:"ActivityID"`
	TaskID      string `json:"TaskID"`
	UserID      string `json:"UserID"`
	Action      string `json:"Action"`
	Changes     string `json:"Changes"`
	Description string `json:"Description"`
	Timestamp   int64  `json:"Timestamp"`
}

// activityRowKey inverts the timestamp so table order is newest first.
func activityRowKey(timestamp int64) string {
	return fmt.Sprintf("%019d", math.MaxInt64-timestamp)
}

// AppendActivity stores one immutable audit record.
func (s *Storage) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	changes := ""
	if len(rec.Changes) > 0 {
		data, err := json.Marshal(rec.Changes)
		if err != nil {
			return err
		}
		changes = string(data)
	}
	ent := activityEntity{
		Entity:      aztables.Entity{PartitionKey: boardPartition, RowKey: activityRowKey(rec.Timestamp)},
		ActivityID:  rec.ID,
		TaskID:      rec.TaskID,
		UserID:      rec.UserID,
		Action:      string(rec.Action),
		Changes:     changes,
		Description: rec.Description,
		Timestamp:   rec.Timestamp,
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.activityTable.AddEntity(ctx, data, nil)
	return err
}

// ListActivity retrieves up to limit records, newest first. The inverted
// row key makes the table's natural order the feed order.
func (s *Storage) ListActivity(ctx context.Context, limit int) ([]domain.ActivityRecord, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	options := &aztables.ListEntitiesOptions{Filter: &filter}
	if limit > 0 {
		top := int32(limit)
		options.Top = &top
	}
	pager := s.activityTable.NewListEntitiesPager(options)
	records := []domain.ActivityRecord{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent activityEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			rec := domain.ActivityRecord{
				ID:          ent.ActivityID,
				TaskID:      ent.TaskID,
				UserID:      ent.UserID,
				Action:      domain.ActionKind(ent.Action),
				Description: ent.Description,
				Timestamp:   ent.Timestamp,
			}
			if ent.Changes != "" {
				if err := json.Unmarshal([]byte(ent.Changes), &rec.Changes); err != nil {
					return nil, err
				}
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				return records, nil
			}
		}
	}
	return records, nil
}

// EnqueueActivity exports one audit record to the feed queue for downstream
// consumers. Delivery is best effort; the table copy is the source of truth.
func (s *Storage) EnqueueActivity(ctx context.Context, rec domain.ActivityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.activityQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}
