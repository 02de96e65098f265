package failover_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/failover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset by peer")

type scriptedProvider struct {
	name      string
	available bool
	quota     int
	results   []error
	calls     atomic.Int32
	gotText   string
	mu        sync.Mutex
}

func newProvider(name string, results ...error) *scriptedProvider {
	return &scriptedProvider{name: name, available: true, quota: core.UnknownQuota, results: results}
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Synthesize(
	_ context.Context,
	text string,
	_ core.SynthesisOptions,
) (core.Synthesis, error) {
	call := int(p.calls.Add(1)) - 1

	p.mu.Lock()
	p.gotText = text
	p.mu.Unlock()

	if call < len(p.results) && p.results[call] != nil {
		return core.Synthesis{}, p.results[call]
	}

	return core.Synthesis{Audio: []byte("RIFF-audio"), Voice: p.name + "-voice", ContentType: "audio/wav"}, nil
}

func (p *scriptedProvider) IsAvailable(context.Context) bool { return p.available }

func (p *scriptedProvider) RemainingQuota(context.Context) int { return p.quota }

func statusErr(provider string, status int) error {
	return &core.ProviderError{Provider: provider, StatusCode: status, Err: errors.New(http.StatusText(status))}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delays = append(s.delays, d)

	return nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeRecorder) ObserveAttempt(provider, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.outcomes = append(o.outcomes, provider+":"+outcome)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "failover-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newManager(
	t *testing.T,
	sleeper *sleepRecorder,
	providers ...core.SynthesisProvider,
) *failover.Manager {
	t.Helper()

	manager, err := failover.NewManager(
		providers,
		failover.DefaultPolicy(),
		testLogger(t),
		failover.WithSleep(sleeper.sleep),
	)
	require.NoError(t, err)

	return manager
}

func TestNewManager_NoProviders(t *testing.T) {
	t.Parallel()

	_, err := failover.NewManager(nil, failover.DefaultPolicy(), testLogger(t))
	require.ErrorIs(t, err, core.ErrNoProvidersConfigured)
}

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	policy := failover.DefaultPolicy()

	assert.Equal(t, time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 4*time.Second, policy.Delay(3))
	assert.Equal(t, 5*time.Second, policy.Delay(4))
	assert.Equal(t, 5*time.Second, policy.Delay(10))
}

func TestGenerate_FailTwiceThenSucceed(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	provider := newProvider("primary", errFlaky, statusErr("primary", http.StatusBadGateway))
	manager := newManager(t, sleeper, provider)

	generation, err := manager.Generate(context.Background(), "hello harbor")
	require.NoError(t, err)

	assert.Equal(t, 3, generation.Attempts)
	assert.Equal(t, "primary", generation.ProviderName)
	assert.Equal(t, "primary-voice", generation.VoiceUsed)
	assert.Equal(t, []byte("RIFF-audio"), generation.Audio)
	assert.Equal(t, "hello harbor", provider.gotText)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestGenerate_AuthFailureOnlyProvider(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	provider := newProvider("primary", statusErr("primary", http.StatusUnauthorized))
	manager := newManager(t, sleeper, provider)

	_, err := manager.Generate(context.Background(), "text")
	require.ErrorIs(t, err, core.ErrAuthenticationFailure)

	assert.Equal(t, int32(1), provider.calls.Load(), "auth failures are not retried")
	assert.Empty(t, sleeper.delays)
}

func TestGenerate_AuthFailureFallsThroughToSecondary(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	primary := newProvider("primary", statusErr("primary", http.StatusForbidden))
	secondary := newProvider("secondary")
	manager := newManager(t, sleeper, primary, secondary)

	generation, err := manager.Generate(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, "secondary", generation.ProviderName)
	assert.Equal(t, 2, generation.Attempts)
}

func TestGenerate_AllProvidersFail(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	primary := newProvider("primary", errFlaky, errFlaky, errFlaky)
	secondary := newProvider("secondary",
		statusErr("secondary", http.StatusInternalServerError),
		statusErr("secondary", http.StatusInternalServerError),
		statusErr("secondary", http.StatusServiceUnavailable),
	)
	manager := newManager(t, sleeper, primary, secondary)

	_, err := manager.Generate(context.Background(), "text")
	require.ErrorIs(t, err, core.ErrAllProvidersFailed)
	assert.Equal(t, core.CodeAllProvidersFailed, core.CodeOf(err))
	assert.Equal(t, http.StatusServiceUnavailable, core.StatusOf(err), "last error is carried")

	assert.Equal(t, int32(3), primary.calls.Load())
	assert.Equal(t, int32(3), secondary.calls.Load())
}

func TestGenerate_SkipsUnavailableProvider(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	observer := &outcomeRecorder{}
	primary := newProvider("primary")
	primary.available = false
	secondary := newProvider("secondary")

	manager, err := failover.NewManager(
		[]core.SynthesisProvider{primary, secondary},
		failover.DefaultPolicy(),
		testLogger(t),
		failover.WithSleep(sleeper.sleep),
		failover.WithObserver(observer),
	)
	require.NoError(t, err)

	generation, err := manager.Generate(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, int32(0), primary.calls.Load())
	assert.Equal(t, "secondary", generation.ProviderName)
	assert.Equal(t, 1, generation.Attempts)
	assert.Equal(t, []string{"primary:unavailable", "secondary:success"}, observer.outcomes)
}

func TestGenerate_RateLimitWaitsExtraCycle(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	provider := newProvider("primary", statusErr("primary", http.StatusTooManyRequests))
	manager := newManager(t, sleeper, provider)

	generation, err := manager.Generate(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, 2, generation.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, time.Second}, sleeper.delays)
}

func TestGenerate_RateLimitedUntilExhausted(t *testing.T) {
	t.Parallel()

	sleeper := &sleepRecorder{}
	limited := statusErr("primary", http.StatusTooManyRequests)
	provider := newProvider("primary", limited, limited, limited)
	manager := newManager(t, sleeper, provider)

	_, err := manager.Generate(context.Background(), "text")
	require.ErrorIs(t, err, core.ErrAllProvidersFailed)
	require.ErrorIs(t, err, core.ErrRateLimited)
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestGenerate_CancelledContextStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	primary := newProvider("primary", errFlaky, errFlaky, errFlaky)
	secondary := newProvider("secondary")

	manager, err := failover.NewManager(
		[]core.SynthesisProvider{primary, secondary},
		failover.DefaultPolicy(),
		testLogger(t),
		failover.WithSleep(func(context.Context, time.Duration) error {
			cancel()

			return context.Canceled
		}),
	)
	require.NoError(t, err)

	_, err = manager.Generate(ctx, "text")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), secondary.calls.Load())
}

func TestProvidersStatus_ListOrder(t *testing.T) {
	t.Parallel()

	first := newProvider("first")
	first.quota = 42
	second := newProvider("second")
	second.available = false
	third := newProvider("third")

	manager := newManager(t, &sleepRecorder{}, first, second, third)

	statuses := manager.ProvidersStatus(context.Background())
	require.Len(t, statuses, 3)

	assert.Equal(t, core.ProviderStatus{Name: "first", Available: true, RemainingQuota: 42}, statuses[0])
	assert.Equal(t, core.ProviderStatus{Name: "second", Available: false, RemainingQuota: core.UnknownQuota}, statuses[1])
	assert.Equal(t, "third", statuses[2].Name)
	assert.Equal(t, []string{"first", "second", "third"}, manager.Providers())
}

// panickingProvider fails its liveness check by panicking.
type panickingProvider struct {
	*scriptedProvider
}

func (p panickingProvider) IsAvailable(context.Context) bool { panic("liveness check exploded") }

func TestProvidersStatus_PanickingProviderIsUnavailable(t *testing.T) {
	t.Parallel()

	healthy := newProvider("healthy")
	broken := panickingProvider{scriptedProvider: newProvider("broken")}

	manager, err := failover.NewManager(
		[]core.SynthesisProvider{healthy, broken},
		failover.DefaultPolicy(),
		testLogger(t),
	)
	require.NoError(t, err)

	var statuses []core.ProviderStatus

	require.NotPanics(t, func() { statuses = manager.ProvidersStatus(context.Background()) })
	require.Len(t, statuses, 2)

	assert.True(t, statuses[0].Available)
	assert.Equal(t, core.ProviderStatus{Name: "broken", Available: false, RemainingQuota: core.UnknownQuota}, statuses[1])
}
