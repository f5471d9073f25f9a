// Package sse holds the server side state of MCP event-stream sessions: one
// outbound queue per connected client and the registry that maps session ids
// to queues.
package sse

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"browsermcp/internal/domain"
)

// Session is one connected /sse client.
type Session struct {
	ID         string
	RemoteAddr string
	CreatedAt  time.Time

	lastActivity atomic.Int64
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
}

// NewSessionID returns a random UUID rendered as 32 hex characters.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ParseSessionID normalises an incoming id. Both dashed and plain hex forms are accepted.
func ParseSessionID(raw string) (string, error) {
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", domain.ErrInvalidSessionID
	}
	return strings.ReplaceAll(u.String(), "-", ""), nil
}

func newSession(id, remote string, queue int) *Session {
	now := time.Now()
	s := &Session{
		ID:         id,
		RemoteAddr: remote,
		CreatedAt:  now,
		out:        make(chan []byte, queue),
		done:       make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Outbound is drained by the stream writer.
func (s *Session) Outbound() <-chan []byte { return s.out }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Send queues msg for the stream. It blocks while the queue is full until
// timeout passes, the session closes or ctx ends.
func (s *Session) Send(ctx context.Context, msg []byte, timeout time.Duration) error {
	if s.Closed() {
		return domain.ErrSessionClosed
	}
	select {
	case s.out <- msg:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.out <- msg:
		return nil
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return context.DeadlineExceeded
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
