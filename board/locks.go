package board

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// LockSession is the ephemeral association of one task with one edit-lock
// holder. It exists only while the lock is held.
type LockSession struct {
	TaskID     string
	UserID     string
	AcquiredAt time.Time
}

// LockManager owns the edit-lock state machine for every task on the board.
// It maintains an in-memory map of task id to session; every transition,
// including the background sweep, runs under the same mutex so a sweep can
// never race a fresh acquire. Expiry notifications fire outside the lock.
type LockManager struct {
	mu       sync.Mutex
	sessions map[string]LockSession

	timeout  time.Duration
	logger   *log.Logger
	onExpire func(LockSession)
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	sweepWG  sync.WaitGroup
}

// DefaultLockTimeout is how long an edit lock survives without release
// before any other user may steal it.
const DefaultLockTimeout = 5 * time.Minute

// DefaultSweepInterval is how often abandoned locks are force-released.
const DefaultSweepInterval = time.Minute

// NewLockManager creates a manager with the given steal/expiry timeout.
func NewLockManager(timeout time.Duration, logger *log.Logger) *LockManager {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LockManager{
		sessions: make(map[string]LockSession),
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// SetExpiryHandler registers the callback invoked once per lock the sweep
// force-releases. It must be set before Start.
func (m *LockManager) SetExpiryHandler(fn func(LockSession)) {
	m.onExpire = fn
}

// Acquire takes the edit lock on a task for a user. Re-acquiring a lock the
// user already holds is an idempotent no-op. A lock held by someone else is
// stolen when its age exceeds the timeout; otherwise a LockConflictError is
// returned carrying the current holder.
func (m *LockManager) Acquire(taskID, userID string) (LockSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.sessions[taskID]; ok {
		if existing.UserID == userID {
			return existing, nil
		}
		if now.Sub(existing.AcquiredAt) < m.timeout {
			return LockSession{}, &domain.LockConflictError{TaskID: taskID, Holder: existing.UserID}
		}
		m.logger.WithFields(log.Fields{
			"task":        taskID,
			"prev_holder": existing.UserID,
			"new_holder":  userID,
		}).Info("expired edit lock stolen")
	}

	session := LockSession{TaskID: taskID, UserID: userID, AcquiredAt: now}
	m.sessions[taskID] = session
	return session, nil
}

// Release clears the lock on a task if userID is the current holder. It
// reports whether a lock was released; releasing a lock you don't hold is
// harmless and never errors.
func (m *LockManager) Release(taskID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[taskID]
	if !ok || existing.UserID != userID {
		return false
	}
	delete(m.sessions, taskID)
	return true
}

// Clear unconditionally drops any session on the task, returning it if one
// existed. Used when an accepted write implicitly ends the edit session.
func (m *LockManager) Clear(taskID string) (LockSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[taskID]
	if ok {
		delete(m.sessions, taskID)
	}
	return existing, ok
}

// HolderOf returns the live session for a task, if any. Sessions older than
// the timeout are reported as absent: an expired lock no longer gates writes.
func (m *LockManager) HolderOf(taskID string) (LockSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[taskID]
	if !ok {
		return LockSession{}, false
	}
	if m.now().Sub(existing.AcquiredAt) >= m.timeout {
		return LockSession{}, false
	}
	return existing, true
}

// ReleaseAll drops every lock held by the user, sorted by task id for
// deterministic downstream broadcasts. Used when a client disconnects
// mid-edit.
func (m *LockManager) ReleaseAll(userID string) []LockSession {
	m.mu.Lock()
	var released []LockSession
	for taskID, s := range m.sessions {
		if s.UserID == userID {
			released = append(released, s)
			delete(m.sessions, taskID)
		}
	}
	m.mu.Unlock()

	sort.Slice(released, func(i, j int) bool { return released[i].TaskID < released[j].TaskID })
	return released
}

// Sweep force-releases every lock older than the timeout and returns the
// released sessions. It is also called periodically by the background loop.
func (m *LockManager) Sweep(now time.Time) []LockSession {
	m.mu.Lock()
	var expired []LockSession
	for taskID, s := range m.sessions {
		if now.Sub(s.AcquiredAt) >= m.timeout {
			expired = append(expired, s)
			delete(m.sessions, taskID)
		}
	}
	m.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].TaskID < expired[j].TaskID })
	return expired
}

// Start launches the periodic sweep. Each released session triggers one
// expiry notification so clients can refresh stale "being edited" badges.
func (m *LockManager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range m.Sweep(m.now()) {
					m.logger.WithFields(log.Fields{
						"task":   s.TaskID,
						"holder": s.UserID,
						"age":    m.now().Sub(s.AcquiredAt).String(),
					}).Info("edit lock expired")
					if m.onExpire != nil {
						m.onExpire(s)
					}
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (m *LockManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.sweepWG.Wait()
}

// Decorate copies live lock state onto the given tasks so served records
// satisfy the isLocked/lockedBy/lockAcquiredAt invariant.
func (m *LockManager) Decorate(tasks []domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range tasks {
		if s, ok := m.sessions[tasks[i].ID]; ok {
			at := s.AcquiredAt
			tasks[i].IsLocked = true
			tasks[i].LockedBy = s.UserID
			tasks[i].LockAcquiredAt = &at
		} else {
			tasks[i].IsLocked = false
			tasks[i].LockedBy = ""
			tasks[i].LockAcquiredAt = nil
		}
	}
}
