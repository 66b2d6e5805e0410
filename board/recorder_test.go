package board

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"boardsync/domain"
)

type recordingActivityStore struct {
	mu        sync.Mutex
	appended  []domain.ActivityRecord
	enqueued  []domain.ActivityRecord
	appendErr error
	queueErr  error
}

func (s *recordingActivityStore) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, rec)
	return nil
}

func (s *recordingActivityStore) EnqueueActivity(ctx context.Context, rec domain.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queueErr != nil {
		return s.queueErr
	}
	s.enqueued = append(s.enqueued, rec)
	return nil
}

func TestRecorderAppendsAndExports(t *testing.T) {
	store := &recordingActivityStore{}
	logger, _ := test.NewNullLogger()
	r := NewRecorder(store, logger, 1, 8)

	r.Record(domain.ActivityRecord{ID: "a1", TaskID: "t1", Action: domain.ActionCreate})
	r.Close()

	if len(store.appended) != 1 || store.appended[0].ID != "a1" {
		t.Fatalf("expected one appended record, got %+v", store.appended)
	}
	if len(store.enqueued) != 1 {
		t.Fatalf("expected feed export, got %+v", store.enqueued)
	}
}

func TestRecorderSwallowsStoreFailures(t *testing.T) {
	store := &recordingActivityStore{appendErr: errors.New("table down")}
	logger, hook := test.NewNullLogger()
	r := NewRecorder(store, logger, 1, 8)

	r.Record(domain.ActivityRecord{ID: "a1", TaskID: "t1"})
	r.Close()

	if len(store.enqueued) != 0 {
		t.Fatal("failed append must not be exported")
	}
	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Message == "activity append failed" {
			found = true
		}
	}
	if !found {
		t.Fatal("append failure should be logged")
	}
}

func TestRecorderExportFailureKeepsAppend(t *testing.T) {
	store := &recordingActivityStore{queueErr: errors.New("queue down")}
	logger, _ := test.NewNullLogger()
	r := NewRecorder(store, logger, 1, 8)

	r.Record(domain.ActivityRecord{ID: "a1", TaskID: "t1"})
	r.Close()

	if len(store.appended) != 1 {
		t.Fatalf("append must survive a failed export, got %+v", store.appended)
	}
}

func TestRecorderDropsOnSaturatedBuffer(t *testing.T) {
	store := &recordingActivityStore{}
	logger, hook := test.NewNullLogger()
	r := NewRecorder(store, logger, 1, 1)
	// Block the single worker so the buffer cannot drain.
	store.mu.Lock()

	for i := 0; i < 16; i++ {
		r.Record(domain.ActivityRecord{ID: "a", TaskID: "t1"})
	}

	dropped := false
	for _, entry := range hook.AllEntries() {
		if entry.Message == "activity buffer saturated, record dropped" {
			dropped = true
		}
	}
	store.mu.Unlock()
	r.Close()
	if !dropped {
		t.Fatal("saturated buffer should drop with a warning")
	}
}
