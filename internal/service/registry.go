package service

import (
	"sync"

	"vtuber-backend/pkg/logger"
)

// Handle is a registered session.
type Handle interface {
	Close()
}

// Registry tracks the live session for each client identity. A new
// registration for an identity takes over: the previous session is closed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Handle)}
}

// Register makes h the live session for id and returns a function that
// removes it again. The returned function only removes h, never a session
// that took over since, and is safe to call more than once.
func (r *Registry) Register(id string, h Handle) func() {
	r.mu.Lock()
	prev := r.sessions[id]
	r.sessions[id] = h
	r.mu.Unlock()

	if prev != nil && prev != h {
		logger.Infof("Session %s reconnected, closing previous connection", id)
		prev.Close()
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id, h) })
	}
}

func (r *Registry) remove(id string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[id] == h {
		delete(r.sessions, id)
	}
}

func (r *Registry) Lookup(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[id]
	return h, ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every registered session. Sessions remove themselves.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			h.Close()
		}(h)
	}
	wg.Wait()
}
