package hub

import (
	"encoding/json"
	"sync"

	"github.com/vitos/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// Conn is one live duplex connection of a dashboard client.
type Conn interface {
	Send(data []byte) error
	Close() error
}

type userSessions struct {
	mu    sync.Mutex // serializes sends so every conn sees broadcasts in call order
	conns map[Conn]struct{}
}

// Hub keeps, per user, the set of live connections and fans messages out to them.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]*userSessions
	logger *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		users:  make(map[string]*userSessions),
		logger: logger,
	}
}

// Register adds conn to the user's set. A user may hold any number of connections.
// The insert happens under h.mu so a concurrent Unregister cannot purge the
// entry between lookup and insert.
func (h *Hub) Register(userID string, conn Conn) {
	h.mu.Lock()
	us, ok := h.users[userID]
	if !ok {
		us = &userSessions{conns: make(map[Conn]struct{})}
		h.users[userID] = us
	}
	us.mu.Lock()
	us.conns[conn] = struct{}{}
	us.mu.Unlock()
	h.mu.Unlock()

	h.logger.Debug("Session registered", zap.String("user_id", userID))
}

// Unregister removes conn; the user entry is purged once its set is empty.
func (h *Hub) Unregister(userID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	us, ok := h.users[userID]
	if !ok {
		return
	}

	us.mu.Lock()
	delete(us.conns, conn)
	empty := len(us.conns) == 0
	us.mu.Unlock()

	if empty {
		delete(h.users, userID)
	}
	h.logger.Debug("Session unregistered", zap.String("user_id", userID))
}

// Broadcast serializes msg once and sends it to every connection of userID.
// Broken connections are skipped and pruned; a user without sessions is a no-op.
func (h *Hub) Broadcast(userID string, msg domain.Message) {
	h.mu.RLock()
	us, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}

	var broken []Conn
	us.mu.Lock()
	for conn := range us.conns {
		if err := conn.Send(data); err != nil {
			h.logger.Warn("Dropping broken session",
				zap.String("user_id", userID),
				zap.String("type", string(msg.Type)),
				zap.Error(err))
			broken = append(broken, conn)
		}
	}
	us.mu.Unlock()

	for _, conn := range broken {
		h.Unregister(userID, conn)
		_ = conn.Close()
	}
}

// Count returns the number of live connections of userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	us, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	us.mu.Lock()
	defer us.mu.Unlock()
	return len(us.conns)
}

// Users returns the ids of users with at least one live connection.
func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.users))
	for id := range h.users {
		users = append(users, id)
	}
	return users
}
