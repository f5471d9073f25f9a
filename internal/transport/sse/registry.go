package sse

import (
	"sync"
	"time"

	"browsermcp/internal/domain"
	"browsermcp/internal/infra/logging"
)

type Options struct {
	QueueSize         int
	EnqueueTimeout    time.Duration
	KeepaliveInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 5 * time.Second
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = 15 * time.Second
	}
	return o
}

// Registry tracks live sessions by id.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
	onOpen   []func(*Session)
	onClose  []func(*Session)
	onPing   []func(*Session)
}

func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts.withDefaults(), sessions: make(map[string]*Session)}
}

func (r *Registry) Options() Options { return r.opts }

// OnOpen registers a hook run after a session is added.
func (r *Registry) OnOpen(fn func(*Session)) {
	r.mu.Lock()
	r.onOpen = append(r.onOpen, fn)
	r.mu.Unlock()
}

// OnClose registers a hook run once per session after it is removed.
func (r *Registry) OnClose(fn func(*Session)) {
	r.mu.Lock()
	r.onClose = append(r.onClose, fn)
	r.mu.Unlock()
}

// OnKeepalive registers a hook run on the stream goroutine after each
// keepalive comment is written.
func (r *Registry) OnKeepalive(fn func(*Session)) {
	r.mu.Lock()
	r.onPing = append(r.onPing, fn)
	r.mu.Unlock()
}

func (r *Registry) keepalive(s *Session) {
	r.mu.RLock()
	hooks := append([]func(*Session){}, r.onPing...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(s)
	}
}

func (r *Registry) Open(remoteAddr string) *Session {
	s := newSession(NewSessionID(), remoteAddr, r.opts.QueueSize)

	r.mu.Lock()
	r.sessions[s.ID] = s
	hooks := append([]func(*Session){}, r.onOpen...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(s)
	}
	logging.Info("sse session opened", "session_id", s.ID, "remote_addr", remoteAddr)
	return s
}

// Get looks a session up by its normalised id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Remove closes and forgets the session. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	hooks := append([]func(*Session){}, r.onClose...)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.close()
	for _, fn := range hooks {
		fn(s)
	}
	logging.Info("sse session closed", "session_id", id, "duration", time.Since(s.CreatedAt).String())
}

// CloseAll ends every stream. Used on shutdown.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
