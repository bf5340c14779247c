// Package sessionctx tracks which conversation is currently receiving user
// input. Inbound agent questions that arrive without explicit routing data
// are attributed to this binding.
package sessionctx

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long a binding stays valid without being refreshed.
const DefaultTTL = 30 * time.Second

// Context identifies the conversation currently receiving user attention.
type Context struct {
	AgentName string `json:"agentName"`
	SessionID string `json:"sessionId"`
}

// Registry holds at most one live Context with a time-to-live. Set is
// last-write-wins; expiry and Clear both null the binding.
type Registry struct {
	mu    sync.Mutex
	ttl   time.Duration
	cur   *Context
	timer *time.Timer
	gen   uint64
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{ttl: ttl}
}

// Set overwrites the current binding and restarts the expiry timer.
func (r *Registry) Set(c Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.cur = &c
	r.timer = time.AfterFunc(r.ttl, func() { r.expire(gen) })
}

// Clear cancels the timer and drops the binding.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
	r.cur = nil
}

// Current returns a copy of the live binding, or nil if none.
func (r *Registry) Current() *Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur == nil {
		return nil
	}
	c := *r.cur
	return &c
}

// expire drops the binding only if no Set or Clear happened since the timer
// was armed.
func (r *Registry) expire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != gen {
		return
	}
	r.cur = nil
	r.timer = nil
}
