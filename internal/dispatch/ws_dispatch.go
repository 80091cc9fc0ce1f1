package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ridepool/carpool/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// WriteTimeout bounds a single push so a stalled client cannot hold up the
// publisher.
const WriteTimeout = 5 * time.Second

type conn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// WSSession is one connected client. Writes are serialized because a
// websocket connection supports a single concurrent writer.
type WSSession struct {
	conn conn
	mu   sync.Mutex
}

func (s *WSSession) Send(e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(e)
}

// WSRegistry holds one session per address. A newer connection replaces
// the older one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[models.Address]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[models.Address]*WSSession)}
}

func (r *WSRegistry) Add(addr models.Address, c *websocket.Conn) { r.add(addr, c) }

func (r *WSRegistry) add(addr models.Address, c conn) {
	r.mu.Lock()
	old := r.sessions[addr]
	r.sessions[addr] = &WSSession{conn: c}
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
}

// Remove drops the session for addr if it still belongs to c.
func (r *WSRegistry) Remove(addr models.Address, c *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[addr]; ok && s.conn == conn(c) {
		delete(r.sessions, addr)
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) Notify(addr models.Address, e models.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[addr]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(e); err != nil {
		r.drop(addr, s)
		return err
	}
	return nil
}

func (r *WSRegistry) drop(addr models.Address, s *WSSession) {
	r.mu.Lock()
	if r.sessions[addr] == s {
		delete(r.sessions, addr)
	}
	r.mu.Unlock()
	_ = s.conn.Close()
}

// Publish pushes each event to every connected recipient. Addresses without
// a session are skipped.
func (r *WSRegistry) Publish(_ context.Context, events []models.Event) error {
	var errs []error
	for _, e := range events {
		for _, addr := range e.Recipients() {
			if err := r.Notify(addr, e); err != nil && !errors.Is(err, ErrNoSession) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
