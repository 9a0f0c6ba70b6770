// README: WebSocket hub: connected driver and tenant-admin sessions receive envelopes as JSON frames.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no websocket session")

const writeWait = 5 * time.Second

// Conn is the subset of *websocket.Conn the hub writes to.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type wsSession struct {
	conn Conn
	mu   sync.Mutex
}

func (s *wsSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// Hub keys sessions by driver id or by tenant for admins. A key may hold
// several sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*wsSession]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*wsSession]struct{})}
}

func DriverKey(driverID string) string { return "driver:" + driverID }
func AdminKey(tenantID string) string  { return "admins:" + tenantID }

// Add registers conn under key and returns a function that removes it.
func (h *Hub) Add(key string, conn Conn) func() {
	s := &wsSession{conn: conn}
	h.mu.Lock()
	if h.sessions[key] == nil {
		h.sessions[key] = make(map[*wsSession]struct{})
	}
	h.sessions[key][s] = struct{}{}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.sessions[key], s)
		if len(h.sessions[key]) == 0 {
			delete(h.sessions, key)
		}
		h.mu.Unlock()
		_ = conn.Close()
	}
}

// Count returns the number of sessions registered under key.
func (h *Hub) Count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[key])
}

func (h *Hub) Deliver(_ context.Context, e Envelope) error {
	key := AdminKey(string(e.TenantID))
	if e.Audience == AudienceDriver {
		key = DriverKey(string(e.DriverID))
	}
	h.mu.RLock()
	targets := make([]*wsSession, 0, len(h.sessions[key]))
	for s := range h.sessions[key] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		// A tenant without connected admins is not an error.
		if e.Audience == AudienceDriver {
			return ErrNoSession
		}
		return nil
	}
	var errs []error
	for _, s := range targets {
		if err := s.send(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Conn = (*websocket.Conn)(nil)
