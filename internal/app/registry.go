package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

// Registry is the live connection table.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnectionID]*core.Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnectionID]*core.Connection)}
}

func (r *Registry) Bind(c *core.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
	log.Debug().Str("module", "app.registry").Str("conn", string(c.ID())).Msg("bound connection")
}

func (r *Registry) Get(id core.ConnectionID) (*core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Unbind removes the connection and returns it if it was present.
func (r *Registry) Unbind(id core.ConnectionID) (*core.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
	return c, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ByUser returns every live connection of a user.
func (r *Registry) ByUser(uid domain.UserID) []*core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.Connection
	for _, c := range r.conns {
		if id := c.Identity(); id != nil && id.UserID == uid {
			out = append(out, c)
		}
	}
	return out
}
