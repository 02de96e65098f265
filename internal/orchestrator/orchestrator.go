// Package orchestrator runs the narration saga: select the best candidate,
// persist it with duplicate detection, synthesize, upload, save the audio
// metadata and link it to the selected record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/observability"
	"github.com/book-expert/narration-service/internal/tts/audio"
	"github.com/book-expert/narration-service/internal/tts/ttsutils"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Step is one state of a saga run.
type Step string

// Saga states in execution order. Failed is terminal and reachable from any step.
const (
	StepSelecting      Step = "selecting"
	StepPersisting     Step = "persisting"
	StepSynthesizing   Step = "synthesizing"
	StepUploading      Step = "uploading"
	StepSavingMetadata Step = "saving_metadata"
	StepLinking        Step = "linking"
	StepComplete       Step = "complete"
	StepFailed         Step = "failed"
)

const (
	defaultProcessedTTL     = 10 * time.Minute
	processedCleanupFactor  = 2
	runSpanName             = "narration.run"
	attributeSourceID       = "narration.source_id"
	attributeCandidateCount = "narration.candidates"
	attributeProvider       = "narration.provider"
)

// Log formats.
const (
	logFmtStep              = "Narration %s: %s"
	logFmtSelected          = "Selected %s from %d candidates (score %.3f)"
	logFmtReusing           = "Reusing unlinked record %s for %s"
	logFmtAlreadyProcessed  = "Skipping %s: already narrated as audio %s"
	logFmtSharedRun         = "Joined in-flight narration of %s"
	logFmtFailed            = "Narration of %s failed at %s: %v"
	logFmtCompleted         = "Narrated %s with %s in %d attempt(s): %s, %s at %s"
	logFmtIsProcessedFailed = "Treating %s as unprocessed after lookup failure: %v"
	logFmtCleanerEmpty      = "Cleaner produced no text for %s, using raw title and body"
)

var errEmptyBatch = errors.New("candidate batch is empty")

// CandidateSelector picks the best item of a batch.
type CandidateSelector interface {
	SelectBest(items []core.CandidateItem) (core.CandidateScore, bool)
}

// Synthesizer turns text into audio across one or more providers.
type Synthesizer interface {
	Generate(ctx context.Context, text string) (core.Generation, error)
	ProvidersStatus(ctx context.Context) []core.ProviderStatus
}

// Result is the composite outcome of a successful run.
type Result struct {
	Selected        core.SelectedRecord
	Audio           core.AudioRecord
	AudioURL        string
	DurationSeconds float64
	Attempts        int
	Reused          bool
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithCleaner sets the text cleaner used to prepare narration text.
func WithCleaner(cleaner core.TextCleaner) Option {
	return func(o *Orchestrator) {
		o.cleaner = cleaner
	}
}

// WithMetrics records run, step and score metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithTracing emits one span per run and per step.
func WithTracing(tracing *observability.Tracing) Option {
	return func(o *Orchestrator) {
		o.tracing = tracing
	}
}

// WithClock replaces time.Now for object names.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithProcessedTTL sets how long a positive IsProcessed answer is cached.
func WithProcessedTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.processed = cache.New(ttl, ttl*processedCleanupFactor)
	}
}

// Orchestrator sequences one narration run. Runs are independent; the only
// shared state is the in-flight group and the processed cache.
type Orchestrator struct {
	selector    CandidateSelector
	synthesizer Synthesizer
	records     core.RecordStore
	blobs       core.BlobStore
	cleaner     core.TextCleaner
	log         *logger.Logger
	metrics     *observability.Metrics
	tracing     *observability.Tracing
	processed   *cache.Cache
	inflight    singleflight.Group
	now         func() time.Time
}

// New creates an Orchestrator from its collaborators.
func New(
	selector CandidateSelector,
	synthesizer Synthesizer,
	records core.RecordStore,
	blobs core.BlobStore,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	orchestrator := &Orchestrator{
		selector:    selector,
		synthesizer: synthesizer,
		records:     records,
		blobs:       blobs,
		log:         log,
		processed:   cache.New(defaultProcessedTTL, defaultProcessedTTL*processedCleanupFactor),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// Run narrates the best item of candidates. Every failure is a *core.Error
// whose code names the step that failed.
func (o *Orchestrator) Run(ctx context.Context, candidates []core.CandidateItem) (result Result, err error) {
	ctx, span := o.tracing.StartSpan(ctx, runSpanName, attribute.Int(attributeCandidateCount, len(candidates)))

	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.NewError(core.CodeUnexpected, string(StepFailed), fmt.Errorf("panic: %v", recovered))
		}

		err = asCoded(err)
		o.metrics.ObserveRun(string(core.CodeOf(err)))
		endSpan(span, err)
	}()

	if len(candidates) == 0 {
		return Result{}, o.fail("", StepSelecting, core.CodeEmptyBatch, errEmptyBatch)
	}

	o.enter("", StepSelecting)

	started := time.Now()
	choice, found := o.selector.SelectBest(candidates)
	o.metrics.ObserveStep(string(StepSelecting), time.Since(started))

	if !found {
		return Result{}, o.fail("", StepSelecting, core.CodeNoValidCandidates,
			fmt.Errorf("none of %d candidates has usable text", len(candidates)))
	}

	sourceID := choice.Item.SourceID
	span.SetAttributes(attribute.String(attributeSourceID, sourceID))
	o.metrics.SetSelectedScore(choice.TotalScore)
	o.log.Info(logFmtSelected, sourceID, len(candidates), choice.TotalScore)

	value, err, shared := o.inflight.Do(sourceID, func() (any, error) {
		return o.narrate(ctx, choice)
	})
	if shared {
		o.log.Info(logFmtSharedRun, sourceID)
	}

	if err != nil {
		return Result{}, err
	}

	narrated, ok := value.(Result)
	if !ok {
		return Result{}, core.NewError(core.CodeUnexpected, string(StepComplete),
			fmt.Errorf("unexpected in-flight result %T", value))
	}

	return narrated, nil
}

// narrate runs steps Persisting through Complete for the chosen item.
func (o *Orchestrator) narrate(ctx context.Context, choice core.CandidateScore) (result Result, err error) {
	item := choice.Item

	defer func() {
		if recovered := recover(); recovered != nil {
			err = o.fail(item.SourceID, StepFailed, core.CodeUnexpected, fmt.Errorf("panic: %v", recovered))
		}
	}()

	selected, reused, err := o.persist(ctx, choice)
	if err != nil {
		return Result{}, err
	}

	generation, err := o.synthesize(ctx, item)
	if err != nil {
		return Result{}, err
	}

	info := audio.Inspect(generation.Audio, generation.ContentType)

	blob, err := o.upload(ctx, item.SourceID, generation, info)
	if err != nil {
		return Result{}, err
	}

	audioRecord, err := o.saveMetadata(ctx, item.SourceID, generation, info, blob)
	if err != nil {
		return Result{}, err
	}

	err = o.link(ctx, selected, audioRecord)
	if err != nil {
		return Result{}, err
	}

	audioID := audioRecord.ID
	selected.AudioID = &audioID
	o.processed.SetDefault(item.SourceID, true)

	o.enter(item.SourceID, StepComplete)
	o.log.Info(logFmtCompleted, item.SourceID, generation.ProviderName, generation.Attempts,
		ttsutils.FormatDuration(audioRecord.DurationSeconds), ttsutils.FormatFileSize(audioRecord.SizeBytes),
		audioRecord.URL)

	return Result{
		Selected:        selected,
		Audio:           audioRecord,
		AudioURL:        audioRecord.URL,
		DurationSeconds: audioRecord.DurationSeconds,
		Attempts:        generation.Attempts,
		Reused:          reused,
	}, nil
}

func (o *Orchestrator) persist(ctx context.Context, choice core.CandidateScore) (core.SelectedRecord, bool, error) {
	item := choice.Item

	ctx, finish := o.stepSpan(ctx, item.SourceID, StepPersisting)
	defer finish()

	outcome, err := o.records.InsertSelected(ctx, selectedRecordFrom(choice))
	if err != nil {
		if errors.Is(err, core.ErrPersistInconsistency) {
			return core.SelectedRecord{}, false, o.fail(item.SourceID, StepPersisting, core.CodePersistInconsistency, err)
		}

		return core.SelectedRecord{}, false, o.fail(item.SourceID, StepPersisting, core.CodePersistFailed, err)
	}

	switch outcome.Kind {
	case core.Inserted:
		return outcome.Record, false, nil
	case core.ExistingUnlinked:
		o.log.Info(logFmtReusing, outcome.Record.ID, item.SourceID)

		return outcome.Record, true, nil
	case core.ExistingLinked:
		audioID := linkedAudioID(outcome.Record)

		o.processed.SetDefault(item.SourceID, true)
		o.log.Info(logFmtAlreadyProcessed, item.SourceID, audioID)

		return core.SelectedRecord{}, false, core.NewError(core.CodeAlreadyProcessed, string(StepPersisting),
			fmt.Errorf("source id %s already has audio %s", item.SourceID, audioID))
	default:
		return core.SelectedRecord{}, false, o.fail(item.SourceID, StepPersisting, core.CodePersistInconsistency,
			fmt.Errorf("store returned outcome %s for %s", outcome.Kind, item.SourceID))
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, item core.CandidateItem) (core.Generation, error) {
	ctx, finish := o.stepSpan(ctx, item.SourceID, StepSynthesizing)
	defer finish()

	generation, err := o.synthesizer.Generate(ctx, o.narrationText(item))
	if err != nil {
		return core.Generation{}, o.fail(item.SourceID, StepSynthesizing, core.CodeSynthesisFailed, err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(attributeProvider, generation.ProviderName))

	return generation, nil
}

func (o *Orchestrator) upload(
	ctx context.Context,
	sourceID string,
	generation core.Generation,
	info audio.Info,
) (core.BlobInfo, error) {
	ctx, finish := o.stepSpan(ctx, sourceID, StepUploading)
	defer finish()

	name := ttsutils.ObjectName(sourceID, generation.ProviderName, info.Format.Extension(), o.now())

	contentType := generation.ContentType
	if contentType == "" {
		contentType = info.ContentType
	}

	blob, err := o.blobs.Upload(ctx, name, generation.Audio, contentType)
	if err != nil {
		return core.BlobInfo{}, o.fail(sourceID, StepUploading, core.CodeUploadFailed, err)
	}

	if blob.Size == 0 {
		blob.Size = int64(len(generation.Audio))
	}

	return blob, nil
}

func (o *Orchestrator) saveMetadata(
	ctx context.Context,
	sourceID string,
	generation core.Generation,
	info audio.Info,
	blob core.BlobInfo,
) (core.AudioRecord, error) {
	ctx, finish := o.stepSpan(ctx, sourceID, StepSavingMetadata)
	defer finish()

	record, err := o.records.SaveAudio(ctx, core.AudioRecord{
		SourceID:        sourceID,
		URL:             blob.URL,
		DurationSeconds: info.DurationSeconds,
		SizeBytes:       blob.Size,
		Format:          string(info.Format),
		Provider:        generation.ProviderName,
		Voice:           generation.VoiceUsed,
	})
	if err != nil {
		return core.AudioRecord{}, o.fail(sourceID, StepSavingMetadata, core.CodeMetadataSaveFailed, err)
	}

	return record, nil
}

func (o *Orchestrator) link(ctx context.Context, selected core.SelectedRecord, audioRecord core.AudioRecord) error {
	ctx, finish := o.stepSpan(ctx, selected.SourceID, StepLinking)
	defer finish()

	err := o.records.LinkAudio(ctx, selected.ID, audioRecord.ID)
	if err != nil {
		return o.fail(selected.SourceID, StepLinking, core.CodeLinkFailed, err)
	}

	return nil
}

// IsProcessed reports whether sourceID has a selected record with linked
// audio. Lookup failures count as not processed.
func (o *Orchestrator) IsProcessed(ctx context.Context, sourceID string) bool {
	if _, hit := o.processed.Get(sourceID); hit {
		return true
	}

	record, err := o.records.GetSelectedBySourceID(ctx, sourceID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			o.log.Warn(logFmtIsProcessedFailed, sourceID, err)
		}

		return false
	}

	if !record.HasAudio() {
		return false
	}

	o.processed.SetDefault(sourceID, true)

	return true
}

// ProvidersStatus probes every configured provider concurrently.
func (o *Orchestrator) ProvidersStatus(ctx context.Context) []core.ProviderStatus {
	return o.synthesizer.ProvidersStatus(ctx)
}

func (o *Orchestrator) narrationText(item core.CandidateItem) string {
	if o.cleaner != nil {
		cleaned := o.cleaner.Clean(item)
		if strings.TrimSpace(cleaned) != "" {
			return cleaned
		}

		o.log.Warn(logFmtCleanerEmpty, item.SourceID)
	}

	return rawText(item)
}

func rawText(item core.CandidateItem) string {
	body := strings.TrimSpace(item.Body)
	if body == "" {
		return strings.TrimSpace(item.Title)
	}

	return strings.TrimSpace(item.Title) + "\n\n" + body
}

// stepSpan logs the transition into step and returns a func that ends its span
// and records its duration.
func (o *Orchestrator) stepSpan(ctx context.Context, sourceID string, step Step) (context.Context, func()) {
	o.enter(sourceID, step)

	started := time.Now()
	ctx, span := o.tracing.StartSpan(ctx, string(step), attribute.String(attributeSourceID, sourceID))

	return ctx, func() {
		o.metrics.ObserveStep(string(step), time.Since(started))
		span.End()
	}
}

func (o *Orchestrator) enter(sourceID string, step Step) {
	if sourceID == "" {
		sourceID = "batch"
	}

	o.log.Info(logFmtStep, sourceID, step)
}

func (o *Orchestrator) fail(sourceID string, step Step, code core.Code, cause error) error {
	if sourceID == "" {
		sourceID = "batch"
	}

	o.log.Error(logFmtFailed, sourceID, step, cause)

	return core.NewError(code, string(step), cause)
}

// asCoded wraps an uncoded error as UNEXPECTED_ERROR.
func asCoded(err error) error {
	if err == nil || core.CodeOf(err) != "" {
		return err
	}

	return core.NewError(core.CodeUnexpected, string(StepFailed), err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(core.CodeOf(err)))
	}

	span.End()
}

func linkedAudioID(record core.SelectedRecord) string {
	if record.AudioID == nil {
		return ""
	}

	return *record.AudioID
}

func selectedRecordFrom(choice core.CandidateScore) core.SelectedRecord {
	item := choice.Item

	return core.SelectedRecord{
		SourceID:        item.SourceID,
		Collection:      item.Collection,
		Title:           item.Title,
		Body:            item.Body,
		Author:          item.Author,
		PrimarySignal:   item.PrimarySignal,
		SecondarySignal: item.SecondarySignal,
		SourceCreatedAt: item.CreatedAt,
		TotalScore:      choice.TotalScore,
	}
}
