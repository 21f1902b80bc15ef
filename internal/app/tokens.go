//go:generate go run go.uber.org/mock/mockgen -source=tokens.go -destination=../mocks/mock_persister.go -package=mocks

package app

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dkeye/tabletop/internal/domain"
	"github.com/dkeye/tabletop/internal/metrics"
)

// Persister writes the whole token sequence to stable storage.
type Persister interface {
	Save(tokens []domain.Token) error
}

// TokenStore owns the ordered token sequence. Order is stacking order.
type TokenStore struct {
	mu      sync.RWMutex
	tokens  []domain.Token
	persist Persister
}

// NewTokenStore starts from initial, typically what the snapshot file held.
// Invalid or duplicate entries in initial are skipped.
func NewTokenStore(initial []domain.Token, p Persister) *TokenStore {
	s := &TokenStore{persist: p, tokens: make([]domain.Token, 0, len(initial))}
	seen := make(map[string]struct{}, len(initial))
	for _, t := range initial {
		if t.Validate() != nil {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		s.tokens = append(s.tokens, t)
	}
	return s
}

// SnapshotAll returns a copy of the current sequence.
func (s *TokenStore) SnapshotAll() []domain.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tokens)
}

func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *TokenStore) Add(t domain.Token) bool {
	if t.Validate() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(t.ID) >= 0 {
		return false
	}
	s.tokens = append(s.tokens, t.Clone())
	s.save()
	return true
}

// Update replaces the token with the same id. An unknown id still counts as
// applied so every client sees the update relayed, as before.
func (s *TokenStore) Update(t domain.Token) bool {
	if t.Validate() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(t.ID); i >= 0 {
		s.tokens[i] = t.Clone()
	}
	s.save()
	return true
}

// Reorder replaces the sequence wholesale. Input with an invalid token or a
// repeated id is not a valid sequence and is ignored.
func (s *TokenStore) Reorder(seq []domain.Token) bool {
	if seq == nil {
		return false
	}
	for _, t := range seq {
		if t.Validate() != nil {
			return false
		}
	}
	if len(lo.UniqBy(seq, func(t domain.Token) string { return t.ID })) != len(seq) {
		return false
	}
	next := lo.Map(seq, func(t domain.Token, _ int) domain.Token { return t.Clone() })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = next
	s.save()
	return true
}

// Delete removes id. Deleting an absent id is applied and changes nothing.
func (s *TokenStore) Delete(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		s.tokens = slices.Delete(s.tokens, i, i+1)
	}
	s.save()
	return true
}

func (s *TokenStore) indexOf(id string) int {
	return slices.IndexFunc(s.tokens, func(t domain.Token) bool { return t.ID == id })
}

// save runs under s.mu so writes land in mutation order. Failures leave the
// in-memory sequence authoritative.
func (s *TokenStore) save() {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(slices.Clone(s.tokens)); err != nil {
		metrics.PersistFailures.Inc()
		log.Error().Err(err).Str("module", "app.tokens").Int("tokens", len(s.tokens)).Msg("snapshot write failed")
	}
}
