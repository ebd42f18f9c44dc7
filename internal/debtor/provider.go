package debtor

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// ErrMissingSubject is returned when no subject id is given.
var ErrMissingSubject = errors.New("debtor: subject id is required")

// Cache stores caller-supplied debtor payloads by subject id.
type Cache interface {
	Get(ctx context.Context, subjectID string) (Context, bool, error)
	Put(ctx context.Context, subjectID string, c Context) error
}

// Provider resolves debtor contexts, preferring supplied payloads over
// synthetic demo profiles.
type Provider struct {
	cache  Cache
	logger zerolog.Logger
}

// NewProvider creates a provider backed by cache. A nil cache falls back to
// an in-memory one.
func NewProvider(cache Cache, logger zerolog.Logger) *Provider {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Provider{
		cache:  cache,
		logger: logger.With().Str("component", "debtor").Logger(),
	}
}

// Resolve returns the debtor context for subjectID. A supplied payload is
// remembered and returned verbatim; otherwise a previously supplied payload is
// used, and as a last resort a synthetic profile is generated.
func (p *Provider) Resolve(ctx context.Context, subjectID string, supplied *Context) (Context, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Context{}, ErrMissingSubject
	}

	if supplied != nil {
		if err := p.cache.Put(ctx, subjectID, *supplied); err != nil {
			p.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("failed to cache supplied payload")
		}
		return *supplied, nil
	}

	c, ok, err := p.cache.Get(ctx, subjectID)
	if err != nil {
		// A cache outage must not block a call; the synthetic profile still works.
		p.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("payload cache lookup failed")
	}
	if ok {
		return c, nil
	}

	return Synthesize(subjectID), nil
}
