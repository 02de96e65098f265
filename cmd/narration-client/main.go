// Command narration-client sends one narration request to a running service
// or probes the configured synthesis providers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/failover"
	"github.com/book-expert/narration-service/internal/tts"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagCollectionDesc = "Collection the service should fetch candidates from"
	flagCandidatesDesc = "JSON file containing an array of candidate items"
	flagLimitDesc      = "Number of candidates the service should fetch"
	flagTimeoutDesc    = "How long to wait for the narration to complete"
	flagHealthDesc     = "Probe the configured synthesis providers and exit"
)

// Flag names.
const (
	flagCollection = "collection"
	flagCandidates = "candidates"
	flagLimit      = "limit"
	flagTimeout    = "timeout"
	flagHealth     = "health"
)

// Messages.
const (
	errEitherCollectionOrFile = "either --collection or --candidates must be provided"
	errCannotSpecifyBoth      = "cannot specify both --collection and --candidates"
	logRequestSent            = "Requested narration on %s (workflow %s)"
	logProviderStatus         = "%-20s available=%-5t remaining_quota=%d\n"
	logNarrated               = "Narrated %s -> %s (%.1fs)\n"
	logClientLogFile          = "narration-client.log"
	defaultTimeout            = 10 * time.Minute
)

var (
	// ErrMissingInput is returned when neither input flag is set.
	ErrMissingInput = errors.New(errEitherCollectionOrFile)
	// ErrConflictingInput is returned when both input flags are set.
	ErrConflictingInput = errors.New(errCannotSpecifyBoth)
	// ErrNarrationFailed is returned when the service reports a failure code.
	ErrNarrationFailed = errors.New("narration failed")
	// ErrNoHealthyProvider is returned by the health probe when every provider is down.
	ErrNoHealthyProvider = errors.New("no synthesis provider is available")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	collection string
	candidates string
	limit      int
	timeout    time.Duration
	health     bool
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logClientLogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	cfg, err := config.Load(clientLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if flags.health {
		return handleHealthCheck(cfg, clientLog, os.Stdout)
	}

	validateErr := validateArguments(flags)
	if validateErr != nil {
		return validateErr
	}

	event, err := buildRequest(flags)
	if err != nil {
		return err
	}

	return requestNarration(cfg, clientLog, event, flags.timeout, os.Stdout)
}

func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("narration-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.collection, flagCollection, "", flagCollectionDesc)
	flagSet.StringVar(&flags.candidates, flagCandidates, "", flagCandidatesDesc)
	flagSet.IntVar(&flags.limit, flagLimit, 0, flagLimitDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

func validateArguments(flags appFlags) error {
	if flags.collection == "" && flags.candidates == "" {
		return ErrMissingInput
	}

	if flags.collection != "" && flags.candidates != "" {
		return ErrConflictingInput
	}

	return nil
}

func buildRequest(flags appFlags) (core.NarrationRequestedEvent, error) {
	event := core.NarrationRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		Collection: flags.collection,
		Limit:      flags.limit,
	}

	if flags.candidates == "" {
		return event, nil
	}

	data, err := os.ReadFile(flags.candidates)
	if err != nil {
		return core.NarrationRequestedEvent{}, fmt.Errorf("failed to read candidates file: %w", err)
	}

	err = json.Unmarshal(data, &event.Candidates)
	if err != nil {
		return core.NarrationRequestedEvent{}, fmt.Errorf("failed to parse candidates file: %w", err)
	}

	return event, nil
}

func requestNarration(
	cfg *config.Config,
	clientLog *logger.Logger,
	event core.NarrationRequestedEvent,
	timeout time.Duration,
	out io.Writer,
) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("narration-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	clientLog.Info(logRequestSent, cfg.NATS.RequestedSubject, event.Header.WorkflowID)

	reply, err := natsConnection.Request(cfg.NATS.RequestedSubject, data, timeout)
	if err != nil {
		return fmt.Errorf("failed to request narration: %w", err)
	}

	var completed core.NarrationCompletedEvent

	err = json.Unmarshal(reply.Data, &completed)
	if err != nil {
		return fmt.Errorf("failed to parse reply: %w", err)
	}

	return printCompleted(out, completed)
}

func printCompleted(out io.Writer, completed core.NarrationCompletedEvent) error {
	if completed.ErrorCode != "" {
		return fmt.Errorf("%w: %s: %s", ErrNarrationFailed, completed.ErrorCode, completed.ErrorMessage)
	}

	fmt.Fprintf(out, logNarrated, completed.SourceID, completed.AudioURL, completed.DurationSeconds)

	return nil
}

// handleHealthCheck probes every configured provider and prints one line each.
func handleHealthCheck(cfg *config.Config, clientLog *logger.Logger, out io.Writer) error {
	manager, err := failover.NewManager(tts.NewProviders(cfg.Providers, clientLog), failover.Policy{
		MaxAttempts:  1,
		ProbeTimeout: cfg.Failover.ProbeTimeout(),
	}, clientLog)
	if err != nil {
		return fmt.Errorf("failed to build providers: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Failover.ProbeTimeout())
	defer cancel()

	return printStatuses(out, manager.ProvidersStatus(ctx))
}

func printStatuses(out io.Writer, statuses []core.ProviderStatus) error {
	healthy := false

	for _, status := range statuses {
		fmt.Fprintf(out, logProviderStatus, status.Name, status.Available, status.RemainingQuota)

		healthy = healthy || status.Available
	}

	if !healthy {
		return ErrNoHealthyProvider
	}

	return nil
}
