package app

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dkeye/tabletop/internal/core"
)

// Grant answers a lock request. Position is 1-based and only set when queued.
type Grant struct {
	Granted  bool
	Position int
}

type ReleaseResult struct {
	WasOwner  bool
	WasQueued bool
	NewOwner  core.ConnID
}

// NegotiationLock lets one participant at a time drive a voice renegotiation.
// Waiters are promoted strictly in arrival order; there is no timeout.
type NegotiationLock struct {
	mu      sync.Mutex
	owner   core.ConnID
	waiters []core.ConnID
}

func NewNegotiationLock() *NegotiationLock {
	return &NegotiationLock{}
}

func (l *NegotiationLock) Request(id core.ConnID) Grant {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.owner == "":
		l.owner = id
		log.Debug().Str("module", "app.negotiation").Str("conn", string(id)).Msg("lock granted")
		return Grant{Granted: true}
	case l.owner == id:
		return Grant{Granted: true}
	}
	if i := lo.IndexOf(l.waiters, id); i >= 0 {
		return Grant{Position: i + 1}
	}
	l.waiters = append(l.waiters, id)
	log.Debug().Str("module", "app.negotiation").Str("conn", string(id)).Int("position", len(l.waiters)).Msg("lock queued")
	return Grant{Position: len(l.waiters)}
}

// Release drops id from whichever role it holds. An owner hands the lock to
// the head of the queue.
func (l *NegotiationLock) Release(id core.ConnID) ReleaseResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == "" {
		return ReleaseResult{}
	}
	if l.owner != id {
		if lo.Contains(l.waiters, id) {
			l.waiters = lo.Without(l.waiters, id)
			return ReleaseResult{WasQueued: true}
		}
		return ReleaseResult{}
	}
	l.owner = ""
	if len(l.waiters) > 0 {
		l.owner = l.waiters[0]
		l.waiters = l.waiters[1:]
	}
	log.Debug().Str("module", "app.negotiation").Str("conn", string(id)).Str("new_owner", string(l.owner)).Msg("lock released")
	return ReleaseResult{WasOwner: true, NewOwner: l.owner}
}

func (l *NegotiationLock) Owner() core.ConnID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

func (l *NegotiationLock) Waiters() []core.ConnID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.ConnID, len(l.waiters))
	copy(out, l.waiters)
	return out
}
