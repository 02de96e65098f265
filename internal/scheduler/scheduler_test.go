package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/orchestrator"
	"github.com/book-expert/narration-service/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockFetch = errors.New("mock fetch error")

type mockSource struct {
	items map[string][]core.CandidateItem
	err   map[string]error
}

func (m *mockSource) FetchCandidates(_ context.Context, collection string, _ int) ([]core.CandidateItem, error) {
	if err := m.err[collection]; err != nil {
		return nil, err
	}

	return m.items[collection], nil
}

type mockNarrator struct {
	mu        sync.Mutex
	processed map[string]bool
	batches   [][]core.CandidateItem
	err       error
}

func (m *mockNarrator) Run(_ context.Context, candidates []core.CandidateItem) (orchestrator.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = append(m.batches, candidates)

	if m.err != nil {
		return orchestrator.Result{}, m.err
	}

	return orchestrator.Result{Selected: core.SelectedRecord{SourceID: candidates[0].SourceID}}, nil
}

func (m *mockNarrator) IsProcessed(_ context.Context, sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.processed[sourceID]
}

type mockRepairer struct {
	calls int
}

func (m *mockRepairer) Repair(context.Context) (orchestrator.RepairReport, error) {
	m.calls++

	return orchestrator.RepairReport{Found: 1, Linked: 1}, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "scheduler-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     scheduler.Config
		wantErr error
		entries int
	}{
		{name: "no schedules", cfg: scheduler.Config{}, wantErr: scheduler.ErrNoSchedules},
		{name: "invalid expression", cfg: scheduler.Config{Cron: "not a cron"}},
		{name: "both schedules", cfg: scheduler.Config{Cron: "0 * * * *", RepairCron: "*/15 * * * *"}, entries: 2},
		{name: "repair only", cfg: scheduler.Config{RepairCron: "@hourly"}, entries: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sched, err := scheduler.New(tc.cfg, &mockNarrator{}, &mockSource{}, &mockRepairer{}, testLogger(t))

			switch {
			case tc.wantErr != nil:
				require.ErrorIs(t, err, tc.wantErr)
			case tc.entries == 0:
				require.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Len(t, sched.Entries(), tc.entries)

				sched.Start()
				sched.Stop()
			}
		})
	}
}

func TestRunCollections(t *testing.T) {
	t.Parallel()

	source := &mockSource{
		items: map[string][]core.CandidateItem{
			"history": {{SourceID: "t3_old"}, {SourceID: "t3_new"}},
			"science": {{SourceID: "t3_done"}},
		},
		err: map[string]error{"broken": errMockFetch},
	}
	narrator := &mockNarrator{processed: map[string]bool{"t3_old": true, "t3_done": true}}

	sched, err := scheduler.New(scheduler.Config{
		Cron:        "@daily",
		Collections: []string{"history", "science", "broken"},
		Limit:       10,
	}, narrator, source, nil, testLogger(t))
	require.NoError(t, err)

	report := sched.RunCollections(context.Background())

	assert.Equal(t, scheduler.Report{Narrated: 1, Skipped: 1, Failed: 1}, report)
	require.Len(t, narrator.batches, 1)
	assert.Equal(t, []core.CandidateItem{{SourceID: "t3_new"}}, narrator.batches[0])
}

func TestRunCollections_CountsAlreadyProcessedAsSkipped(t *testing.T) {
	t.Parallel()

	source := &mockSource{items: map[string][]core.CandidateItem{"history": {{SourceID: "t3_a"}}}}
	narrator := &mockNarrator{err: core.NewError(core.CodeAlreadyProcessed, "persisting", nil)}

	sched, err := scheduler.New(scheduler.Config{Cron: "@daily", Collections: []string{"history"}},
		narrator, source, nil, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, scheduler.Report{Skipped: 1}, sched.RunCollections(context.Background()))
}

func TestRunCollections_EmptyFetchIsSkipped(t *testing.T) {
	t.Parallel()

	source := &mockSource{items: map[string][]core.CandidateItem{"quiet": {}}}
	narrator := &mockNarrator{}

	sched, err := scheduler.New(scheduler.Config{Cron: "@daily", Collections: []string{"quiet", "unknown"}},
		narrator, source, nil, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, scheduler.Report{Skipped: 2}, sched.RunCollections(context.Background()))
	assert.Empty(t, narrator.batches, "an empty listing must not start a narration run")
}

func TestRepair(t *testing.T) {
	t.Parallel()

	repairer := &mockRepairer{}

	sched, err := scheduler.New(scheduler.Config{RepairCron: "@hourly"},
		&mockNarrator{}, &mockSource{}, repairer, testLogger(t))
	require.NoError(t, err)

	sched.Repair(context.Background())

	assert.Equal(t, 1, repairer.calls)
}
