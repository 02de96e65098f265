package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// ErrQuotaExhausted is the cause carried by a guarded provider's 429.
var ErrQuotaExhausted = errors.New("local quota exhausted")

// QuotaGuard enforces a request budget in front of a provider.
type QuotaGuard struct {
	core.SynthesisProvider

	limiter *limiter.Limiter
	key     string
}

// NewQuotaGuard wraps provider with a formatted rate such as "500-D" or "10-M".
func NewQuotaGuard(provider core.SynthesisProvider, rate string) (*QuotaGuard, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid quota rate %q for provider %s: %w", rate, provider.Name(), err)
	}

	return &QuotaGuard{
		SynthesisProvider: provider,
		limiter:           limiter.New(memory.NewStore(), parsed),
		key:               "provider:" + provider.Name(),
	}, nil
}

// Synthesize consumes one token, answering 429 without calling the backend when none remain.
func (g *QuotaGuard) Synthesize(
	ctx context.Context,
	text string,
	opts core.SynthesisOptions,
) (core.Synthesis, error) {
	limit, err := g.limiter.Get(ctx, g.key)
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("failed to consume quota for provider %s: %w", g.Name(), err)
	}

	if limit.Reached {
		return core.Synthesis{}, &core.ProviderError{
			Provider:   g.Name(),
			StatusCode: http.StatusTooManyRequests,
			Err:        ErrQuotaExhausted,
		}
	}

	return g.SynthesisProvider.Synthesize(ctx, text, opts)
}

// RemainingQuota reports the tokens left in the current period.
func (g *QuotaGuard) RemainingQuota(ctx context.Context) int {
	limit, err := g.limiter.Peek(ctx, g.key)
	if err != nil {
		return core.UnknownQuota
	}

	return int(limit.Remaining)
}
