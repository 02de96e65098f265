// Package scheduler runs narration batches and repair sweeps on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/orchestrator"
	"github.com/robfig/cron/v3"
)

const defaultRunTimeout = 10 * time.Minute

const (
	logFmtScheduled      = "Scheduled %s with '%s'"
	logFmtFetchFailed    = "Scheduled fetch of %s failed: %v"
	logFmtNothingNew     = "Every candidate of %s was already narrated"
	logFmtEmptyFetch     = "Collection %s returned no candidates"
	logFmtRunFailed      = "Scheduled narration of %s failed: %v"
	logFmtRunSucceeded   = "Scheduled narration of %s stored %s"
	logFmtRepairFailed   = "Scheduled repair failed: %v"
	logFmtRepairFinished = "Repair sweep: found %d, linked %d, failed %d"
	logFmtCronInfo       = "cron: %s %v"
	logFmtCronError      = "cron: %s: %v %v"
)

// ErrNoSchedules is returned when neither schedule is configured.
var ErrNoSchedules = errors.New("no cron schedule configured")

// Narrator runs the saga and answers whether a source id was narrated.
type Narrator interface {
	Run(ctx context.Context, candidates []core.CandidateItem) (orchestrator.Result, error)
	IsProcessed(ctx context.Context, sourceID string) bool
}

// Repairer re-links orphaned audio.
type Repairer interface {
	Repair(ctx context.Context) (orchestrator.RepairReport, error)
}

// Config configures a Scheduler.
type Config struct {
	Cron        string
	RepairCron  string
	Collections []string
	Limit       int
	Location    *time.Location
	RunTimeout  time.Duration
}

// Report summarises one pass over the configured collections.
type Report struct {
	Narrated int
	Skipped  int
	Failed   int
}

// Scheduler owns a cron runner with the narration and repair jobs.
type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	narrator Narrator
	source   core.ContentSource
	repairer Repairer
	log      *logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New registers the configured schedules. An empty expression disables its
// job; repairer may be nil when RepairCron is empty.
func New(
	cfg Config,
	narrator Narrator,
	source core.ContentSource,
	repairer Repairer,
	log *logger.Logger,
) (*Scheduler, error) {
	if cfg.Cron == "" && cfg.RepairCron == "" {
		return nil, ErrNoSchedules
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}

	cronLog := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		cfg:      cfg,
		narrator: narrator,
		source:   source,
		repairer: repairer,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}

	err := s.add("narration", cfg.Cron, func(ctx context.Context) { s.RunCollections(ctx) })
	if err != nil {
		cancel()

		return nil, err
	}

	err = s.add("repair", cfg.RepairCron, func(ctx context.Context) { s.Repair(ctx) })
	if err != nil {
		cancel()

		return nil, err
	}

	return s, nil
}

func (s *Scheduler) add(name, expr string, job func(ctx context.Context)) error {
	if expr == "" {
		return nil
	}

	_, err := s.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RunTimeout)
		defer cancel()

		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s with '%s': %w", name, expr, err)
	}

	s.log.Info(logFmtScheduled, name, expr)

	return nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Entries returns the registered cron entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// RunCollections fetches each configured collection and narrates the best
// candidate not yet narrated.
func (s *Scheduler) RunCollections(ctx context.Context) Report {
	var report Report

	for _, collection := range s.cfg.Collections {
		if ctx.Err() != nil {
			return report
		}

		items, err := s.source.FetchCandidates(ctx, collection, s.cfg.Limit)
		if err != nil {
			report.Failed++

			s.log.Warn(logFmtFetchFailed, collection, err)

			continue
		}

		if len(items) == 0 {
			report.Skipped++

			s.log.Info(logFmtEmptyFetch, collection)

			continue
		}

		fresh := s.unprocessed(ctx, items)
		if len(fresh) == 0 {
			report.Skipped++

			s.log.Info(logFmtNothingNew, collection)

			continue
		}

		result, err := s.narrator.Run(ctx, fresh)
		if err != nil {
			if errors.Is(err, core.ErrAlreadyProcessed) {
				report.Skipped++
			} else {
				report.Failed++
			}

			s.log.Warn(logFmtRunFailed, collection, err)

			continue
		}

		report.Narrated++

		s.log.Info(logFmtRunSucceeded, collection, result.Selected.SourceID)
	}

	return report
}

// Repair runs one repair sweep.
func (s *Scheduler) Repair(ctx context.Context) {
	if s.repairer == nil {
		return
	}

	report, err := s.repairer.Repair(ctx)
	if err != nil {
		s.log.Error(logFmtRepairFailed, err)

		return
	}

	if report.Found > 0 {
		s.log.Info(logFmtRepairFinished, report.Found, report.Linked, report.Failed)
	}
}

func (s *Scheduler) unprocessed(ctx context.Context, items []core.CandidateItem) []core.CandidateItem {
	fresh := make([]core.CandidateItem, 0, len(items))

	for _, item := range items {
		if s.narrator.IsProcessed(ctx, item.SourceID) {
			continue
		}

		fresh = append(fresh, item)
	}

	return fresh
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info(logFmtCronInfo, msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(logFmtCronError, msg, err, keysAndValues)
}
