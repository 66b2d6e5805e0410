package board

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"boardsync/domain"
)

func recvEvent(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return domain.Event{}
	}
}

func drainType(t *testing.T, ch <-chan domain.Event, want domain.EventType) domain.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestRegisterSendsSnapshotToNewcomerAndIncrementToOthers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)

	_, aliceCh := h.Register(domain.User{ID: "alice"})
	if ev := recvEvent(t, aliceCh); ev.Type != domain.EventOnlineUsers || len(ev.Users) != 1 {
		t.Fatalf("expected snapshot with alice only, got %+v", ev)
	}

	_, bobCh := h.Register(domain.User{ID: "bob"})

	if ev := recvEvent(t, aliceCh); ev.Type != domain.EventUserOnline || ev.UserID != "bob" {
		t.Fatalf("expected incremental user_online for bob, got %+v", ev)
	}
	snap := recvEvent(t, bobCh)
	if snap.Type != domain.EventOnlineUsers || len(snap.Users) != 2 {
		t.Fatalf("expected full snapshot for newcomer, got %+v", snap)
	}
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)

	aliceID, aliceCh := h.Register(domain.User{ID: "alice"})
	_, bobCh := h.Register(domain.User{ID: "bob"})
	recvEvent(t, aliceCh) // snapshot
	recvEvent(t, aliceCh) // bob online
	recvEvent(t, bobCh)   // snapshot

	h.BroadcastExcept(aliceID, domain.Event{Type: domain.EventTaskUpdated, TaskID: "t1"})

	if ev := recvEvent(t, bobCh); ev.Type != domain.EventTaskUpdated || ev.TaskID != "t1" {
		t.Fatalf("expected bob to receive the update, got %+v", ev)
	}
	select {
	case ev := <-aliceCh:
		t.Fatalf("sender must never receive its own event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterBroadcastsOfflineOnLastConnection(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)

	alice1, _ := h.Register(domain.User{ID: "alice"})
	alice2, _ := h.Register(domain.User{ID: "alice"})
	_, bobCh := h.Register(domain.User{ID: "bob"})

	if _, last := h.Unregister(alice1); last {
		t.Fatal("alice still has a second connection")
	}
	user, last := h.Unregister(alice2)
	if !last || user.ID != "alice" {
		t.Fatalf("expected alice fully offline, got %+v last=%v", user, last)
	}
	if ev := drainType(t, bobCh, domain.EventUserOffline); ev.UserID != "alice" {
		t.Fatalf("expected user_offline for alice, got %+v", ev)
	}
	if users := h.OnlineUsers(); len(users) != 1 || users[0].ID != "bob" {
		t.Fatalf("unexpected presence: %+v", users)
	}
}

func TestFanOutSurvivesConcurrentDisconnects(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.Broadcast(domain.Event{Type: domain.EventTaskUpdated})
				}
			}
		}()
	}

	// A send racing a removal must drop the event, never panic.
	for i := 0; i < 5000; i++ {
		connID, _ := h.Register(domain.User{ID: "churn"})
		h.Unregister(connID)
	}
	close(stop)
	wg.Wait()
}

func TestSlowConnectionDropsInsteadOfBlocking(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)

	h.Register(domain.User{ID: "slow"}) // channel never drained
	_, fastCh := h.Register(domain.User{ID: "fast"})
	recvEvent(t, fastCh) // snapshot

	done := make(chan struct{})
	go func() {
		for i := 0; i < connBufferSize*3; i++ {
			h.Broadcast(domain.Event{Type: domain.EventTaskUpdated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out blocked behind a slow connection")
	}
}
