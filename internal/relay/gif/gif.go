//go:generate go run go.uber.org/mock/mockgen -source=gif.go -destination=../../mocks/mock_gif_provider.go -package=mocks
// Package gif relays keyword searches to external GIF providers and
// normalizes their answers.
package gif

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLimit = 20
	MaxLimit     = 50
)

var (
	ErrInvalidQuery    = errors.New("invalid gif query")
	ErrNoProviders     = errors.New("no gif providers configured")
	ErrProvidersFailed = errors.New("all gif providers failed")
)

type Result struct {
	ID          string `json:"id"`
	PreviewURL  string `json:"previewUrl"`
	OriginalURL string `json:"originalUrl"`
}

type Query struct {
	Q      string `form:"q" binding:"required"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=50"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

func (q Query) normalize() (Query, error) {
	q.Q = strings.TrimSpace(q.Q)
	if q.Q == "" {
		return q, fmt.Errorf("%w: empty search text", ErrInvalidQuery)
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return q, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxLimit)
	}
	if q.Offset < 0 {
		return q, fmt.Errorf("%w: negative offset", ErrInvalidQuery)
	}
	return q, nil
}

type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Service fans a query out to every provider. Results keep provider order.
type Service struct {
	providers []Provider
}

func NewService(providers ...Provider) *Service {
	return &Service{providers: providers}
}

func (s *Service) Providers() int { return len(s.providers) }

// Search returns whatever the healthy providers found. It fails only when
// the query is invalid or every provider failed.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	if len(s.providers) == 0 {
		return nil, ErrNoProviders
	}

	results := make([][]Result, len(s.providers))
	errs := make([]error, len(s.providers))
	var g errgroup.Group
	for i, p := range s.providers {
		g.Go(func() error {
			res, err := p.Search(ctx, q)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
				log.Warn().Str("module", "relay.gif").Str("provider", p.Name()).Err(err).Msg("provider search failed")
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Result, 0, q.Limit)
	failed := 0
	for i := range s.providers {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, results[i]...)
	}
	if failed == len(s.providers) {
		return nil, fmt.Errorf("%w: %w", ErrProvidersFailed, errors.Join(errs...))
	}
	return out[:min(len(out), q.Limit)], nil
}
