// Package worker provides a NATS worker that runs narration requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultHandleTimeout = 5 * time.Minute
	defaultQueueGroup    = "narration-service"
	defaultFetchLimit    = 25
)

// Worker-level failure codes, raised before the saga runs.
const (
	// CodeSourceUnavailable reports that candidates could not be fetched.
	CodeSourceUnavailable core.Code = "SOURCE_UNAVAILABLE"
	// CodeBadRequest reports a request payload that could not be decoded.
	CodeBadRequest core.Code = "BAD_REQUEST"
)

// Log formats.
const (
	logFmtSubscribed     = "Listening for narration requests on %s (queue %s)"
	logFmtParseFailed    = "Failed to parse narration request: %v"
	logFmtFetchFailed    = "Failed to fetch candidates of %s for workflow %s: %v"
	logFmtRunFailed      = "Narration for workflow %s failed: %v"
	logFmtRunSucceeded   = "Narration for workflow %s stored %s as %s"
	logFmtPublishFailed  = "Failed to publish completion for workflow %s: %v"
	logFmtRespondFailed  = "Failed to reply to workflow %s: %v"
	logFmtDrainFailedFmt = "failed to drain subscription: %w"
)

// ErrMissingSubject is returned when no request subject is configured.
var ErrMissingSubject = errors.New("requested subject cannot be empty")

// Narrator runs one narration saga.
type Narrator interface {
	Run(ctx context.Context, candidates []core.CandidateItem) (orchestrator.Result, error)
}

// Config configures a NatsWorker.
type Config struct {
	RequestedSubject string
	CompletedSubject string
	QueueGroup       string
	HandleTimeout    time.Duration
	DefaultLimit     int
}

// NatsWorker listens for narration requests on a NATS subject and runs them.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            Config
	narrator       Narrator
	source         core.ContentSource
	log            *logger.Logger
	ready          chan struct{}
	now            func() time.Time
}

// NewNatsWorker creates a new instance of a NATS worker. source may be nil,
// in which case requests must carry their candidates.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	narrator Narrator,
	source core.ContentSource,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.RequestedSubject == "" {
		return nil, ErrMissingSubject
	}

	if cfg.QueueGroup == "" {
		cfg.QueueGroup = defaultQueueGroup
	}

	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = defaultHandleTimeout
	}

	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultFetchLimit
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		narrator:       narrator,
		source:         source,
		log:            log,
		ready:          make(chan struct{}),
		now:            time.Now,
	}, nil
}

// Ready is closed once the subscription is registered with the server.
func (w *NatsWorker) Ready() <-chan struct{} {
	return w.ready
}

// Run subscribes and handles messages until ctx is done, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.cfg.RequestedSubject, w.cfg.QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.RequestedSubject, err)
	}

	err = w.natsConnection.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush subscription to %s: %w", w.cfg.RequestedSubject, err)
	}

	w.log.Info(logFmtSubscribed, w.cfg.RequestedSubject, w.cfg.QueueGroup)
	close(w.ready)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf(logFmtDrainFailedFmt, drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.HandleTimeout)
	defer cancel()

	event, err := w.parseEvent(msg)
	if err != nil {
		w.log.Error(logFmtParseFailed, err)
		w.rejectMessage(msg, err)

		return
	}

	completed := w.process(ctx, event)

	w.publishCompleted(msg, completed)
}

// process resolves the candidates of event and runs the saga on them.
func (w *NatsWorker) process(
	ctx context.Context,
	event *core.NarrationRequestedEvent,
) *core.NarrationCompletedEvent {
	completed := &core.NarrationCompletedEvent{Header: w.replyHeader(event.Header)}
	workflowID := event.Header.WorkflowID

	candidates, err := w.candidates(ctx, event)
	if err != nil {
		w.log.Error(logFmtFetchFailed, event.Collection, workflowID, err)

		completed.ErrorCode = CodeSourceUnavailable
		completed.ErrorMessage = err.Error()

		return completed
	}

	result, err := w.narrator.Run(ctx, candidates)
	if err != nil {
		w.log.Error(logFmtRunFailed, workflowID, err)

		completed.ErrorCode = core.CodeOf(err)
		if completed.ErrorCode == "" {
			completed.ErrorCode = core.CodeUnexpected
		}

		completed.ErrorMessage = err.Error()

		return completed
	}

	completed.SourceID = result.Selected.SourceID
	completed.SelectedID = result.Selected.ID
	completed.AudioID = result.Audio.ID
	completed.AudioURL = result.AudioURL
	completed.DurationSeconds = result.DurationSeconds

	w.log.Info(logFmtRunSucceeded, workflowID, completed.SourceID, completed.AudioURL)

	return completed
}

func (w *NatsWorker) candidates(
	ctx context.Context,
	event *core.NarrationRequestedEvent,
) ([]core.CandidateItem, error) {
	if len(event.Candidates) > 0 || event.Collection == "" || w.source == nil {
		return event.Candidates, nil
	}

	limit := event.Limit
	if limit <= 0 {
		limit = w.cfg.DefaultLimit
	}

	items, err := w.source.FetchCandidates(ctx, event.Collection, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}

	return items, nil
}

// publishCompleted replies to the requester, if any, and publishes the event
// on the completed subject.
func (w *NatsWorker) publishCompleted(msg *nats.Msg, completed *core.NarrationCompletedEvent) {
	workflowID := completed.Header.WorkflowID

	data, err := json.Marshal(completed)
	if err != nil {
		w.log.Error(logFmtPublishFailed, workflowID, err)

		return
	}

	if msg.Reply != "" {
		respondErr := msg.Respond(data)
		if respondErr != nil {
			w.log.Error(logFmtRespondFailed, workflowID, respondErr)
		}
	}

	if w.cfg.CompletedSubject == "" {
		return
	}

	publishErr := w.natsConnection.Publish(w.cfg.CompletedSubject, data)
	if publishErr != nil {
		w.log.Error(logFmtPublishFailed, workflowID, publishErr)
	}
}

// rejectMessage answers an undecodable request so the requester does not wait
// for its timeout. Nothing is published on the completed subject.
func (w *NatsWorker) rejectMessage(msg *nats.Msg, cause error) {
	if msg.Reply == "" {
		return
	}

	rejected := &core.NarrationCompletedEvent{
		Header:       w.replyHeader(events.EventHeader{}),
		ErrorCode:    CodeBadRequest,
		ErrorMessage: cause.Error(),
	}

	data, err := json.Marshal(rejected)
	if err != nil {
		w.log.Error(logFmtRespondFailed, rejected.Header.WorkflowID, err)

		return
	}

	respondErr := msg.Respond(data)
	if respondErr != nil {
		w.log.Error(logFmtRespondFailed, rejected.Header.WorkflowID, respondErr)
	}
}

func (w *NatsWorker) parseEvent(msg *nats.Msg) (*core.NarrationRequestedEvent, error) {
	var event core.NarrationRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// replyHeader keeps the workflow identity of the request under a new event id.
func (w *NatsWorker) replyHeader(request events.EventHeader) events.EventHeader {
	header := request
	header.EventID = uuid.NewString()
	header.Timestamp = w.now().UTC()

	if header.WorkflowID == "" {
		header.WorkflowID = uuid.NewString()
	}

	return header
}
