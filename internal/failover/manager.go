// Package failover drives an ordered list of synthesis providers with bounded
// per-provider retries and fall-through to the next provider.
package failover

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
)

const source = "failover"

// Log formats.
const (
	logFmtProviderUnavailable = "Provider %s is unavailable, skipping"
	logFmtAttemptFailed       = "Provider %s attempt %d/%d failed: %v"
	logFmtAuthFailed          = "Provider %s rejected credentials (status %d), not retrying"
	logFmtRateLimited         = "Provider %s rate limited, backing off %s before retry"
	logFmtProviderExhausted   = "Provider %s exhausted after %d attempts, falling through"
	logFmtProviderSucceeded   = "Provider %s succeeded on attempt %d (voice %s, %d bytes)"
	logFmtStatusPanicked      = "Status check of provider %s panicked: %v"
)

// ErrProviderUnavailable is recorded when a provider's liveness probe fails.
var ErrProviderUnavailable = errors.New("provider unavailable")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// AttemptObserver receives one call per synthesize attempt.
type AttemptObserver interface {
	ObserveAttempt(provider, outcome string)
}

// Attempt outcomes reported to the observer.
const (
	OutcomeSuccess     = "success"
	OutcomeAuthFailure = "auth_failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
	OutcomeUnavailable = "unavailable"
)

// Policy is the per-provider retry policy.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	AttemptTimeout    time.Duration
	ProbeTimeout      time.Duration
}

// DefaultPolicy returns three attempts with 1s, 2s, 4s... backoff capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          5 * time.Second,
		AttemptTimeout:    time.Minute,
		ProbeTimeout:      5 * time.Second,
	}
}

// Delay returns the wait after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

// Option customises a Manager.
type Option func(*Manager)

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(sleep SleepFunc) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// WithObserver reports every attempt outcome.
func WithObserver(observer AttemptObserver) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// Manager is safe for concurrent use; its provider list never changes after construction.
type Manager struct {
	providers []core.SynthesisProvider
	policy    Policy
	sleep     SleepFunc
	observer  AttemptObserver
	log       *logger.Logger
}

// NewManager builds a Manager over providers in failover order.
func NewManager(
	providers []core.SynthesisProvider,
	policy Policy,
	log *logger.Logger,
	opts ...Option,
) (*Manager, error) {
	if len(providers) == 0 {
		return nil, core.NewError(core.CodeNoProvidersConfigured, source, nil)
	}

	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	manager := &Manager{
		providers: append([]core.SynthesisProvider(nil), providers...),
		policy:    policy,
		sleep:     sleepContext,
		log:       log,
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager, nil
}

// Providers returns the provider names in failover order.
func (m *Manager) Providers() []string {
	names := make([]string, len(m.providers))
	for i, provider := range m.providers {
		names[i] = provider.Name()
	}

	return names
}

// Generate synthesizes text with the first provider that succeeds.
func (m *Manager) Generate(ctx context.Context, text string) (core.Generation, error) {
	var (
		lastErr  error
		attempts int
	)

	for index, provider := range m.providers {
		isLast := index == len(m.providers)-1

		if !m.probeAvailable(ctx, provider) {
			m.log.Warn(logFmtProviderUnavailable, provider.Name())
			m.observe(provider.Name(), OutcomeUnavailable)

			lastErr = fmt.Errorf("%w: %s", ErrProviderUnavailable, provider.Name())

			continue
		}

		generation, used, err := m.tryProvider(ctx, provider, text)
		attempts += used

		if err == nil {
			generation.Attempts = attempts

			return generation, nil
		}

		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.Generation{}, core.NewError(core.CodeAllProvidersFailed, source, ctxErr)
		}

		if errors.Is(err, core.ErrAuthenticationFailure) && isLast {
			return core.Generation{}, err
		}
	}

	return core.Generation{}, core.NewError(core.CodeAllProvidersFailed, source, lastErr)
}

// tryProvider runs the retry loop for one provider and reports how many attempts it used.
func (m *Manager) tryProvider(
	ctx context.Context,
	provider core.SynthesisProvider,
	text string,
) (core.Generation, int, error) {
	name := provider.Name()

	var lastErr error

	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		synthesis, err := m.synthesizeOnce(ctx, provider, text)
		if err == nil {
			m.observe(name, OutcomeSuccess)
			m.log.Info(logFmtProviderSucceeded, name, attempt, synthesis.Voice, len(synthesis.Audio))

			return core.Generation{
				Audio:        synthesis.Audio,
				ProviderName: name,
				VoiceUsed:    synthesis.Voice,
				ContentType:  synthesis.ContentType,
			}, attempt, nil
		}

		if ctx.Err() != nil {
			return core.Generation{}, attempt, ctx.Err()
		}

		status := core.StatusOf(err)

		switch status {
		case http.StatusUnauthorized, http.StatusForbidden:
			m.observe(name, OutcomeAuthFailure)
			m.log.Error(logFmtAuthFailed, name, status)

			return core.Generation{}, attempt, core.NewError(core.CodeAuthenticationFailure, name, err)
		case http.StatusTooManyRequests:
			m.observe(name, OutcomeRateLimited)
			lastErr = core.NewError(core.CodeRateLimited, name, err)
		default:
			m.observe(name, OutcomeError)
			lastErr = err
		}

		m.log.Warn(logFmtAttemptFailed, name, attempt, m.policy.MaxAttempts, err)

		if attempt == m.policy.MaxAttempts {
			break
		}

		waitErr := m.backoff(ctx, name, attempt, status == http.StatusTooManyRequests)
		if waitErr != nil {
			return core.Generation{}, attempt, waitErr
		}
	}

	m.log.Warn(logFmtProviderExhausted, name, m.policy.MaxAttempts)

	return core.Generation{}, m.policy.MaxAttempts, lastErr
}

// backoff waits the standard delay; a rate-limited attempt waits one extra cycle.
func (m *Manager) backoff(ctx context.Context, name string, attempt int, rateLimited bool) error {
	delay := m.policy.Delay(attempt)

	if rateLimited {
		extra := m.policy.Delay(attempt + 1)
		m.log.Warn(logFmtRateLimited, name, delay+extra)

		err := m.sleep(ctx, extra)
		if err != nil {
			return err
		}
	}

	return m.sleep(ctx, delay)
}

func (m *Manager) synthesizeOnce(
	ctx context.Context,
	provider core.SynthesisProvider,
	text string,
) (core.Synthesis, error) {
	attemptCtx := ctx

	if m.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeout(ctx, m.policy.AttemptTimeout)
		defer cancel()
	}

	return provider.Synthesize(attemptCtx, text, core.SynthesisOptions{})
}

func (m *Manager) probeAvailable(ctx context.Context, provider core.SynthesisProvider) bool {
	probeCtx, cancel := m.probeContext(ctx)
	defer cancel()

	return provider.IsAvailable(probeCtx)
}

func (m *Manager) probeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.policy.ProbeTimeout > 0 {
		return context.WithTimeout(ctx, m.policy.ProbeTimeout)
	}

	return context.WithCancel(ctx)
}

// ProvidersStatus probes every provider concurrently and returns results in list order.
func (m *Manager) ProvidersStatus(ctx context.Context) []core.ProviderStatus {
	statuses := make([]core.ProviderStatus, len(m.providers))

	var waitGroup sync.WaitGroup

	for index, provider := range m.providers {
		waitGroup.Add(1)

		go func(slot int, probed core.SynthesisProvider) {
			defer waitGroup.Done()

			statuses[slot] = m.probeStatus(ctx, probed)
		}(index, provider)
	}

	waitGroup.Wait()

	return statuses
}

func (m *Manager) probeStatus(ctx context.Context, provider core.SynthesisProvider) (status core.ProviderStatus) {
	status = core.ProviderStatus{Name: provider.Name(), RemainingQuota: core.UnknownQuota}

	defer func() {
		if recovered := recover(); recovered != nil {
			m.log.Error(logFmtStatusPanicked, provider.Name(), recovered)

			status.Available = false
		}
	}()

	probeCtx, cancel := m.probeContext(ctx)
	defer cancel()

	status.Available = provider.IsAvailable(probeCtx)
	status.RemainingQuota = provider.RemainingQuota(probeCtx)

	return status
}

func (m *Manager) observe(provider, outcome string) {
	if m.observer != nil {
		m.observer.ObserveAttempt(provider, outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
