package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// ActivityStore persists audit records and exports them to the feed queue.
type ActivityStore interface {
	AppendActivity(ctx context.Context, rec domain.ActivityRecord) error
	EnqueueActivity(ctx context.Context, rec domain.ActivityRecord) error
}

// Recorder appends activity records off the mutation path. Record never
// blocks and never fails the mutation it documents: a saturated buffer drops
// the record with a warning, and append/export failures are logged and
// swallowed. Losing an audit entry must not roll back a task change.
type Recorder struct {
	store   ActivityStore
	logger  *log.Logger
	jobs    chan domain.ActivityRecord
	timeout time.Duration

	closeOnce sync.Once
	workerWG  sync.WaitGroup
}

// NewRecorder starts workers draining a bounded record buffer.
func NewRecorder(store ActivityStore, logger *log.Logger, workers, buffer int) *Recorder {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = 256
	}
	r := &Recorder{
		store:   store,
		logger:  logger,
		jobs:    make(chan domain.ActivityRecord, buffer),
		timeout: 30 * time.Second,
	}
	for i := 0; i < workers; i++ {
		r.workerWG.Add(1)
		go r.worker()
	}
	return r
}

// Record hands the entry to the workers without blocking the caller.
func (r *Recorder) Record(rec domain.ActivityRecord) {
	select {
	case r.jobs <- rec:
	default:
		r.logger.WithFields(log.Fields{
			"task":   rec.TaskID,
			"action": string(rec.Action),
		}).Warn("activity buffer saturated, record dropped")
	}
}

func (r *Recorder) worker() {
	defer r.workerWG.Done()
	for rec := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.AppendActivity(ctx, rec); err != nil {
			r.logger.WithError(err).WithFields(log.Fields{
				"task":   rec.TaskID,
				"action": string(rec.Action),
			}).Error("activity append failed")
			cancel()
			continue
		}
		if err := r.store.EnqueueActivity(ctx, rec); err != nil {
			r.logger.WithError(err).WithField("task", rec.TaskID).Warn("activity feed export failed")
		}
		cancel()
	}
}

// Close drains outstanding records and stops the workers.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.jobs) })
	r.workerWG.Wait()
}
