package orchestrator

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/observability"
)

const (
	logFmtRepairFound  = "Repair sweep found %d unlinked record(s) with orphaned audio"
	logFmtRepairLinked = "Re-linked audio %s to record %s (%s)"
	logFmtRepairFailed = "Failed to re-link audio %s to record %s: %v"
)

// RepairReport summarises one repair sweep.
type RepairReport struct {
	Found  int
	Linked int
	Failed int
}

// Repairer re-links audio that was stored and saved but never linked,
// without synthesizing it again.
type Repairer struct {
	records core.RecordStore
	log     *logger.Logger
	metrics *observability.Metrics
}

// NewRepairer creates a Repairer. metrics may be nil.
func NewRepairer(records core.RecordStore, log *logger.Logger, metrics *observability.Metrics) *Repairer {
	return &Repairer{records: records, log: log, metrics: metrics}
}

// Repair links every unlinked selected record to its newest orphaned audio.
// A failed link is logged and counted; only a failed scan is returned.
func (r *Repairer) Repair(ctx context.Context) (RepairReport, error) {
	orphans, err := r.records.FindOrphanedAudio(ctx)
	if err != nil {
		return RepairReport{}, fmt.Errorf("failed to find orphaned audio: %w", err)
	}

	report := RepairReport{Found: len(orphans)}
	if report.Found == 0 {
		return report, nil
	}

	r.log.Info(logFmtRepairFound, report.Found)

	for _, orphan := range orphans {
		linkErr := r.records.LinkAudio(ctx, orphan.Selected.ID, orphan.Audio.ID)
		if linkErr != nil {
			report.Failed++

			r.log.Warn(logFmtRepairFailed, orphan.Audio.ID, orphan.Selected.ID, linkErr)

			continue
		}

		report.Linked++

		r.log.Info(logFmtRepairLinked, orphan.Audio.ID, orphan.Selected.ID, orphan.Selected.SourceID)
	}

	r.metrics.AddRepaired(report.Linked)

	return report, nil
}
