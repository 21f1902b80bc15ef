package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dkeye/tabletop/internal/core"
)

var ErrNotLive = errors.New("connection not live")

type connEntry struct {
	Conn        core.Conn
	ConnectedAt time.Time
}

// Registry tracks live participant connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*connEntry)}
}

func (r *Registry) Register(id core.ConnID, conn core.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Conn: conn, ConnectedAt: time.Now()}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("live", len(r.conns)).Msg("registered connection")
}

// Unregister forgets id and returns its transport so the caller can close it.
func (r *Registry) Unregister(id core.ConnID) (core.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Dur("lifetime", time.Since(e.ConnectedAt)).Msg("unregistered connection")
	return e.Conn, true
}

func (r *Registry) IsLive(id core.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

func (r *Registry) Get(id core.ConnID) (core.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send queues f for id. Unknown ids yield ErrNotLive and nothing else happens.
func (r *Registry) Send(id core.ConnID, f core.Frame) error {
	conn, ok := r.Get(id)
	if !ok {
		return ErrNotLive
	}
	return conn.TrySend(f)
}

// Broadcast queues f on every live connection except the listed ones.
// Delivery is independent per connection: a full outbox only drops for that one.
func (r *Registry) Broadcast(f core.Frame, except ...core.ConnID) core.PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := core.PublishResult{}
	for id, e := range r.conns {
		if lo.Contains(except, id) {
			continue
		}
		if err := e.Conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "app.registry").Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

