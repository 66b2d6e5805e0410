package board

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// connection buffer size. A client that cannot drain this many events is
// considered slow; further events to it are dropped rather than blocking
// fan-out to everyone else.
const connBufferSize = 32

type connection struct {
	id   string
	user domain.User
	ch   chan domain.Event
}

// Hub is the registry of active client connections and their presence. It
// fans state-changing events out to every other active connection; delivery
// is best-effort and at-most-once, with no replay on reconnect.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*connection
	online map[string]int // userID -> active connection count

	logger *log.Logger
}

// NewHub creates an empty connection registry.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		conns:  make(map[string]*connection),
		online: make(map[string]int),
		logger: logger,
	}
}

// Register moves an authenticated connection to Active. Existing members see
// an incremental user_online event (only for the user's first connection);
// the newcomer receives the full presence snapshot on its own channel. The
// returned channel carries every event destined for this connection until
// Unregister.
func (h *Hub) Register(user domain.User) (string, <-chan domain.Event) {
	conn := &connection{
		id:   uuid.NewString(),
		user: user,
		ch:   make(chan domain.Event, connBufferSize),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.online[user.ID]++
	first := h.online[user.ID] == 1
	h.mu.Unlock()

	if first {
		u := user
		h.BroadcastExcept(conn.id, domain.Event{Type: domain.EventUserOnline, UserID: user.ID, User: &u})
	}
	h.SendTo(conn.id, domain.Event{Type: domain.EventOnlineUsers, Users: h.OnlineUsers()})

	h.logger.WithFields(log.Fields{"conn": conn.id, "user": user.ID}).Debug("connection active")
	return conn.id, conn.ch
}

// Unregister removes a connection. When it was the user's last connection
// the remaining members see user_offline. It returns the user and whether
// the user fully went offline so the caller can end any edit sessions the
// identity still held.
//
// The channel is never closed: a broadcaster may still hold it in a fan-out
// snapshot taken before removal, and a send on a closed channel would panic.
// Readers terminate through their own request context instead.
func (h *Hub) Unregister(connID string) (domain.User, bool) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return domain.User{}, false
	}
	delete(h.conns, connID)
	h.online[conn.user.ID]--
	last := h.online[conn.user.ID] <= 0
	if last {
		delete(h.online, conn.user.ID)
	}
	h.mu.Unlock()

	if last {
		u := conn.user
		h.Broadcast(domain.Event{Type: domain.EventUserOffline, UserID: conn.user.ID, User: &u})
	}
	h.logger.WithFields(log.Fields{"conn": connID, "user": conn.user.ID}).Debug("connection closed")
	return conn.user, last
}

// Broadcast delivers the event to every active connection.
func (h *Hub) Broadcast(ev domain.Event) {
	h.BroadcastExcept("", ev)
}

// BroadcastExcept delivers the event to every active connection except the
// sender. A full per-connection buffer drops the event for that connection
// only; one slow client never delays the rest.
func (h *Hub) BroadcastExcept(senderConnID string, ev domain.Event) {
	h.mu.Lock()
	targets := make([]*connection, 0, len(h.conns))
	for id, conn := range h.conns {
		if id == senderConnID {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		select {
		case conn.ch <- ev:
		default:
			h.logger.WithFields(log.Fields{"conn": conn.id, "event": string(ev.Type)}).Warn("dropping event for slow connection")
		}
	}
}

// SendTo delivers the event to a single connection. It reports whether the
// connection exists; a full buffer counts as delivered (dropped).
func (h *Hub) SendTo(connID string, ev domain.Event) bool {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case conn.ch <- ev:
	default:
		h.logger.WithFields(log.Fields{"conn": connID, "event": string(ev.Type)}).Warn("dropping event for slow connection")
	}
	return true
}

// UserOf resolves the identity behind an active connection.
func (h *Hub) UserOf(connID string) (domain.User, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return domain.User{}, false
	}
	return conn.user, true
}

// OnlineUsers returns the current presence snapshot, sorted by user id for
// stable output.
func (h *Hub) OnlineUsers() []domain.User {
	h.mu.Lock()
	seen := make(map[string]domain.User, len(h.online))
	for _, conn := range h.conns {
		seen[conn.user.ID] = conn.user
	}
	h.mu.Unlock()

	users := make([]domain.User, 0, len(seen))
	for _, u := range seen {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}
