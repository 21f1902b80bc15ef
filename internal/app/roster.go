package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/tabletop/internal/core"
	"github.com/dkeye/tabletop/internal/domain"
)

type rosterEntry struct {
	participant domain.Participant
	seq         uint64
}

// Roster holds the participants currently in voice. Nothing here is persisted.
type Roster struct {
	mu      sync.RWMutex
	members map[core.ConnID]*rosterEntry
	nextSeq uint64
}

func NewRoster() *Roster {
	return &Roster{members: make(map[core.ConnID]*rosterEntry)}
}

// Join adds id, or renames it when it already joined.
func (r *Roster) Join(id core.ConnID, nickname string) domain.Participant {
	nickname = domain.NormalizeNickname(nickname)
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.members[id]; ok {
		e.participant.Nickname = nickname
		return e.participant
	}
	r.nextSeq++
	e := &rosterEntry{
		participant: domain.Participant{ID: string(id), Nickname: nickname},
		seq:         r.nextSeq,
	}
	r.members[id] = e
	log.Info().Str("module", "app.roster").Str("conn", string(id)).Str("nickname", nickname).Msg("joined voice")
	return e.participant
}

func (r *Roster) Leave(id core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	log.Info().Str("module", "app.roster").Str("conn", string(id)).Msg("left voice")
	return true
}

func (r *Roster) Has(id core.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

func (r *Roster) Rename(id core.ConnID, nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.members[id]
	if !ok {
		return false
	}
	e.participant.Nickname = domain.NormalizeNickname(nickname)
	return true
}

// SetSpeaking is a no-op for ids that are not in voice.
func (r *Roster) SetSpeaking(id core.ConnID, speaking bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.members[id]
	if !ok {
		return false
	}
	e.participant.Speaking = speaking
	return true
}

// Snapshot lists participants in join order.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	entries := make([]rosterEntry, 0, len(r.members))
	for _, e := range r.members {
		entries = append(entries, *e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.Participant, len(entries))
	for i, e := range entries {
		out[i] = e.participant
	}
	return out
}
