package board

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// TaskStore is the durable persistence the coordination core requires. Put
// is a full record replace, never a merge. BulkUpdatePositions must be
// atomic enough that a partial failure does not corrupt column ordering.
type TaskStore interface {
	Get(ctx context.Context, id string) (domain.Task, error)
	Put(ctx context.Context, task domain.Task) error
	FindByTitle(ctx context.Context, title string) (domain.Task, bool, error)
	ListAll(ctx context.Context) ([]domain.Task, error)
	BulkUpdatePositions(ctx context.Context, positions []domain.TaskPosition) error
	Delete(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListActivity(ctx context.Context, limit int) ([]domain.ActivityRecord, error)
}

// Config tunes the coordination service.
type Config struct {
	LockTimeout     time.Duration
	SweepInterval   time.Duration
	RecorderWorkers int
	RecorderBuffer  int
}

// Service is the concurrent-edit coordination core: it gates every mutation
// behind the task's edit lock, persists accepted writes with a version bump,
// records activity, and fans the change out to every other connected client.
type Service struct {
	store    TaskStore
	locks    *LockManager
	hub      *Hub
	recorder *Recorder
	logger   *log.Logger

	sweepInterval time.Duration
	taskMu        keyedMutex
	createMu      sync.Mutex
}

// NewService wires the lock manager, hub, and recorder around the store.
func NewService(store TaskStore, activity ActivityStore, logger *log.Logger, cfg Config) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Service{
		store:         store,
		locks:         NewLockManager(cfg.LockTimeout, logger),
		hub:           NewHub(logger),
		recorder:      NewRecorder(activity, logger, cfg.RecorderWorkers, cfg.RecorderBuffer),
		logger:        logger,
		sweepInterval: cfg.SweepInterval,
	}
	s.locks.SetExpiryHandler(func(session LockSession) {
		s.hub.Broadcast(domain.Event{
			Type:   domain.EventEditSessionExpired,
			TaskID: session.TaskID,
			UserID: session.UserID,
			Time:   nextTimestamp(),
		})
	})
	return s
}

// Start launches the background lock sweep.
func (s *Service) Start() { s.locks.Start(s.sweepInterval) }

// Close stops the sweep and drains the activity recorder.
func (s *Service) Close() {
	s.locks.Stop()
	s.recorder.Close()
}

// Locks exposes the lock manager for tests and decoration.
func (s *Service) Locks() *LockManager { return s.locks }

// Hub exposes the connection registry.
func (s *Service) Hub() *Hub { return s.hub }

// Tasks returns the full board with live lock state applied.
func (s *Service) Tasks(ctx context.Context) ([]domain.Task, error) {
	tasks, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	s.locks.Decorate(tasks)
	return tasks, nil
}

// Users returns the directory of assignment candidates.
func (s *Service) Users(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

// ActivityFeed returns the most recent audit records, newest first.
func (s *Service) ActivityFeed(ctx context.Context, limit int) ([]domain.ActivityRecord, error) {
	return s.store.ListActivity(ctx, limit)
}

// CreateRequest carries the user-supplied fields of a new task. An empty
// AssignedTo asks the balancer to pick the least-loaded user. A nil Order
// appends to the end of the target column.
type CreateRequest struct {
	Title       string
	Description string
	Status      domain.Status
	Priority    domain.Priority
	AssignedTo  string
	Order       *int
}

// Create validates and persists a new task, assigning it via the balancer
// when no assignee was requested.
func (s *Service) Create(ctx context.Context, userID, connID string, req CreateRequest) (domain.Task, error) {
	if req.Status == "" {
		req.Status = domain.StatusTodo
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}
	if err := domain.ValidateTitle(req.Title); err != nil {
		return domain.Task{}, err
	}
	if err := domain.ValidateDescription(req.Description); err != nil {
		return domain.Task{}, err
	}

	// The uniqueness scan and the write must not interleave with another
	// create, or two requests could both pass the scan with the same title.
	s.createMu.Lock()
	defer s.createMu.Unlock()

	tasks, err := s.store.ListAll(ctx)
	if err != nil {
		return domain.Task{}, fmt.Errorf("list tasks: %w", err)
	}
	for _, existing := range tasks {
		if domain.TitleEqualFold(existing.Title, req.Title) {
			return domain.Task{}, &domain.ValidationError{Field: "title", Reason: "title is already in use"}
		}
	}

	assignee := req.AssignedTo
	if assignee == "" {
		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return domain.Task{}, fmt.Errorf("list users: %w", err)
		}
		picked, err := domain.SelectAssignee(users, domain.LoadCounts(tasks))
		if err != nil {
			return domain.Task{}, err
		}
		assignee = picked.ID
	}

	order := 0
	if req.Order != nil {
		order = *req.Order
	} else {
		for _, existing := range tasks {
			if existing.Status == req.Status && existing.Order >= order {
				order = existing.Order + 1
			}
		}
	}

	task := domain.Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssignedTo:  assignee,
		CreatedBy:   userID,
		Order:       order,
		Version:     1,
	}
	if err := task.Validate(); err != nil {
		return domain.Task{}, err
	}
	if err := s.store.Put(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("put task: %w", err)
	}

	s.record(domain.ActivityRecord{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		UserID:      userID,
		Action:      domain.ActionCreate,
		Description: fmt.Sprintf("created %q", task.Title),
		Timestamp:   nextTimestamp(),
	}, connID)
	t := task
	s.hub.BroadcastExcept(connID, domain.Event{Type: domain.EventTaskCreated, TaskID: task.ID, UserID: userID, Task: &t, Time: nextTimestamp()})
	return task, nil
}

// TaskChanges carries the mutated fields of an update; nil pointers leave
// the field untouched.
type TaskChanges struct {
	Title       *string
	Description *string
	Status      *domain.Status
	Priority    *domain.Priority
	AssignedTo  *string
	Order       *int
}

func (c TaskChanges) apply(t *domain.Task) {
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.AssignedTo != nil {
		t.AssignedTo = *c.AssignedTo
	}
	if c.Order != nil {
		t.Order = *c.Order
	}
}

// Update applies a field mutation behind the conflict gate.
func (s *Service) Update(ctx context.Context, userID, connID, taskID string, changes TaskChanges) (domain.Task, error) {
	return s.mutate(ctx, userID, connID, taskID, domain.ActionUpdate, domain.EventTaskUpdated, changes)
}

// Move changes a task's column and position behind the conflict gate.
func (s *Service) Move(ctx context.Context, userID, connID, taskID string, status domain.Status, order int) (domain.Task, error) {
	return s.mutate(ctx, userID, connID, taskID, domain.ActionMove, domain.EventTaskMoved, TaskChanges{Status: &status, Order: &order})
}

// mutate is the shared accepted-write pipeline: per-task critical section,
// lock gate, validation, version bump, implicit lock release, per-field
// diff, activity, fan-out.
func (s *Service) mutate(ctx context.Context, userID, connID, taskID string, action domain.ActionKind, evType domain.EventType, changes TaskChanges) (domain.Task, error) {
	unlock := s.taskMu.lock(taskID)
	defer unlock()

	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.gate(taskID, userID, connID); err != nil {
		return domain.Task{}, err
	}

	before := task
	changes.apply(&task)
	task.CreatedBy = before.CreatedBy // immutable after creation
	if err := task.Validate(); err != nil {
		return domain.Task{}, err
	}
	if changes.Title != nil && !domain.TitleEqualFold(before.Title, task.Title) {
		taken, err := s.titleTaken(ctx, task.Title, taskID)
		if err != nil {
			return domain.Task{}, err
		}
		if taken {
			return domain.Task{}, &domain.ValidationError{Field: "title", Reason: "title is already in use"}
		}
	}

	task.Version = before.Version + 1
	if err := s.store.Put(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("put task: %w", err)
	}

	// Every completed edit implicitly ends the edit session.
	if session, held := s.locks.Clear(taskID); held {
		s.hub.BroadcastExcept(connID, domain.Event{Type: domain.EventEditEnded, TaskID: taskID, UserID: session.UserID, Time: nextTimestamp()})
	}

	diff := domain.DiffTasks(before, task)
	s.record(domain.ActivityRecord{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		UserID:      userID,
		Action:      action,
		Changes:     diff,
		Description: describeChange(action, task.Title, diff),
		Timestamp:   nextTimestamp(),
	}, connID)
	t := task
	s.hub.BroadcastExcept(connID, domain.Event{Type: evType, TaskID: task.ID, UserID: userID, Task: &t, Time: nextTimestamp()})
	return task, nil
}

// Delete removes a task. Only the creator or the current assignee may
// delete, and the conflict gate applies like any other mutation.
func (s *Service) Delete(ctx context.Context, userID, connID, taskID string) error {
	unlock := s.taskMu.lock(taskID)
	defer unlock()

	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.CreatedBy != userID && task.AssignedTo != userID {
		return &domain.PermissionError{TaskID: taskID, UserID: userID}
	}
	if err := s.gate(taskID, userID, connID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.locks.Clear(taskID)

	s.record(domain.ActivityRecord{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		UserID:      userID,
		Action:      domain.ActionDelete,
		Description: fmt.Sprintf("deleted %q", task.Title),
		Timestamp:   nextTimestamp(),
	}, connID)
	s.hub.BroadcastExcept(connID, domain.Event{Type: domain.EventTaskDeleted, TaskID: taskID, UserID: userID, Time: nextTimestamp()})
	return nil
}

// Reorder applies a bulk position update and fans the new layout out.
func (s *Service) Reorder(ctx context.Context, userID, connID string, positions []domain.TaskPosition) error {
	if len(positions) == 0 {
		return &domain.ValidationError{Field: "positions", Reason: "at least one position is required"}
	}
	for _, p := range positions {
		if p.ID == "" {
			return &domain.ValidationError{Field: "positions", Reason: "position entry is missing a task id"}
		}
		if !p.Status.Valid() {
			return &domain.ValidationError{Field: "positions", Reason: "unknown status"}
		}
	}
	// A bulk reorder rewrites status and order, so it is gated on every
	// affected task's edit session like any single-task mutation.
	for _, p := range positions {
		if holder, held := s.locks.HolderOf(p.ID); held && holder.UserID != userID {
			err := &domain.LockConflictError{TaskID: p.ID, Holder: holder.UserID}
			s.notifyConflict(connID, p.ID, err)
			return err
		}
	}
	if err := s.store.BulkUpdatePositions(ctx, positions); err != nil {
		return fmt.Errorf("bulk update positions: %w", err)
	}

	s.record(domain.ActivityRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		Action:      domain.ActionReorder,
		Description: fmt.Sprintf("reordered %d tasks", len(positions)),
		Timestamp:   nextTimestamp(),
	}, connID)
	s.hub.BroadcastExcept(connID, domain.Event{Type: domain.EventTasksReordered, UserID: userID, Positions: positions, Time: nextTimestamp()})
	return nil
}

// AcquireLock starts an edit session on the task and announces it.
func (s *Service) AcquireLock(ctx context.Context, userID, connID, taskID string) (LockSession, error) {
	if _, err := s.store.Get(ctx, taskID); err != nil {
		return LockSession{}, err
	}
	session, err := s.locks.Acquire(taskID, userID)
	if err != nil {
		s.notifyConflict(connID, taskID, err)
		return LockSession{}, err
	}
	s.hub.BroadcastExcept(connID, domain.Event{Type: domain.EventEditStarted, TaskID: taskID, UserID: userID, Time: nextTimestamp()})
	return session, nil
}

// ReleaseLock ends an edit session if the caller holds it.
func (s *Service) ReleaseLock(userID, connID, taskID string) {
	if s.locks.Release(taskID, userID) {
		s.hub.BroadcastExcept(connID, domain.Event{Type: domain.EventEditEnded, TaskID: taskID, UserID: userID, Time: nextTimestamp()})
	}
}

// Connect registers an authenticated client connection and returns its id
// and event channel.
func (s *Service) Connect(user domain.User) (string, <-chan domain.Event) {
	return s.hub.Register(user)
}

// Disconnect tears a connection down. When the identity fully goes offline
// every lock it still held is released and announced, so a client vanishing
// mid-edit cannot leave a task locked.
func (s *Service) Disconnect(connID string) {
	user, wentOffline := s.hub.Unregister(connID)
	if !wentOffline {
		return
	}
	for _, session := range s.locks.ReleaseAll(user.ID) {
		s.hub.Broadcast(domain.Event{Type: domain.EventEditEnded, TaskID: session.TaskID, UserID: user.ID, Time: nextTimestamp()})
	}
}

// Relay fans a client-originated indicator event (typing, cursor) out to
// every other connection, verbatim and unpersisted.
func (s *Service) Relay(connID string, ev domain.Event) error {
	if !ev.Type.Relayable() {
		return &domain.ValidationError{Field: "type", Reason: "event type cannot be relayed"}
	}
	user, ok := s.hub.UserOf(connID)
	if !ok {
		return &domain.ValidationError{Field: "connectionId", Reason: "unknown connection"}
	}
	ev.UserID = user.ID
	ev.Time = nextTimestamp()
	s.hub.BroadcastExcept(connID, ev)
	return nil
}

// gate rejects the mutation when another user holds an unexpired lock.
func (s *Service) gate(taskID, userID, connID string) error {
	if holder, held := s.locks.HolderOf(taskID); held && holder.UserID != userID {
		err := &domain.LockConflictError{TaskID: taskID, Holder: holder.UserID}
		s.notifyConflict(connID, taskID, err)
		return err
	}
	return nil
}

func (s *Service) notifyConflict(connID, taskID string, err error) {
	if connID == "" {
		return
	}
	s.hub.SendTo(connID, domain.Event{Type: domain.EventConflictDetected, TaskID: taskID, Time: nextTimestamp()})
	s.logger.WithError(err).WithField("task", taskID).Debug("conflict surfaced to client")
}

func (s *Service) record(rec domain.ActivityRecord, connID string) {
	s.recorder.Record(rec)
	r := rec
	s.hub.BroadcastExcept(connID, domain.Event{Type: domain.EventNewActivity, TaskID: rec.TaskID, UserID: rec.UserID, Activity: &r, Time: nextTimestamp()})
}

func (s *Service) titleTaken(ctx context.Context, title, excludeID string) (bool, error) {
	if existing, ok, err := s.store.FindByTitle(ctx, title); err != nil {
		return false, fmt.Errorf("find by title: %w", err)
	} else if ok && existing.ID != excludeID {
		return true, nil
	}
	tasks, err := s.store.ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("list tasks: %w", err)
	}
	for _, existing := range tasks {
		if existing.ID != excludeID && domain.TitleEqualFold(existing.Title, title) {
			return true, nil
		}
	}
	return false, nil
}

func describeChange(action domain.ActionKind, title string, diff []domain.FieldChange) string {
	switch action {
	case domain.ActionMove:
		for _, ch := range diff {
			if ch.Field == "status" {
				return fmt.Sprintf("moved %q to %v", title, ch.New)
			}
		}
		return fmt.Sprintf("repositioned %q", title)
	default:
		return fmt.Sprintf("updated %d fields of %q", len(diff), title)
	}
}

// keyedMutex provides a per-task critical section via lock striping.
type keyedMutex struct {
	shards [64]sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.shards[h.Sum32()%uint32(len(k.shards))]
	m.Lock()
	return m.Unlock
}
