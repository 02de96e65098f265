package core

import (
	"time"

	"github.com/book-expert/events"
)

// UnknownQuota is reported by providers that cannot measure their remaining quota.
const UnknownQuota = -1

// CandidateItem is an externally sourced text unit. It is never mutated after fetch.
type CandidateItem struct {
	SourceID        string `json:"source_id"`
	Collection      string `json:"collection"`
	Title           string `json:"title"`
	Body            string `json:"body,omitempty"`
	PrimarySignal   int    `json:"primary_signal"`
	SecondarySignal int    `json:"secondary_signal"`
	Author          string `json:"author"`
	CreatedAt       int64  `json:"created_at"`
}

// CandidateScore is the ephemeral score of one item for one selection run.
type CandidateScore struct {
	Item                CandidateItem
	EngagementScore     float64
	TextLengthScore     float64
	ContentQualityScore float64
	TotalScore          float64
}

// SelectedRecord is the persisted projection of a chosen item.
type SelectedRecord struct {
	ID              string
	SourceID        string
	Collection      string
	Title           string
	Body            string
	Author          string
	PrimarySignal   int
	SecondarySignal int
	SourceCreatedAt int64
	TotalScore      float64
	AudioID         *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasAudio reports whether an audio record has been linked.
func (r SelectedRecord) HasAudio() bool {
	return r.AudioID != nil && *r.AudioID != ""
}

// AudioRecord is the metadata of one synthesized audio artifact.
type AudioRecord struct {
	ID              string
	SourceID        string
	URL             string
	DurationSeconds float64
	SizeBytes       int64
	Format          string
	Provider        string
	Voice           string
	CreatedAt       time.Time
}

// OrphanedAudio pairs an unlinked selected record with an audio record for the same source.
type OrphanedAudio struct {
	Selected SelectedRecord
	Audio    AudioRecord
}

// InsertKind tags the result of InsertSelected.
type InsertKind int

const (
	// Inserted means a new row was created.
	Inserted InsertKind = iota + 1
	// ExistingUnlinked means the source id was already stored without audio.
	ExistingUnlinked
	// ExistingLinked means the source id was already stored with audio.
	ExistingLinked
)

func (k InsertKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case ExistingUnlinked:
		return "existing_unlinked"
	case ExistingLinked:
		return "existing_linked"
	default:
		return "unknown"
	}
}

// InsertOutcome is the tagged result of persisting a selected record.
type InsertOutcome struct {
	Kind   InsertKind
	Record SelectedRecord
}

// ProviderStatus is a point-in-time probe of one provider.
type ProviderStatus struct {
	Name           string `json:"name"`
	Available      bool   `json:"available"`
	RemainingQuota int    `json:"remaining_quota"`
}

// Synthesis is the raw output of one provider call.
type Synthesis struct {
	Audio       []byte
	Voice       string
	ContentType string
}

// Generation is the outcome of a failover generate call.
type Generation struct {
	Audio        []byte
	ProviderName string
	VoiceUsed    string
	ContentType  string
	Attempts     int
}

// NarrationRequestedEvent asks the worker to narrate the best item of a batch.
// When Candidates is empty the worker fetches Limit items of Collection.
type NarrationRequestedEvent struct {
	Header     events.EventHeader `json:"header"`
	Collection string             `json:"collection,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Candidates []CandidateItem    `json:"candidates,omitempty"`
}

// NarrationCompletedEvent reports the outcome of a narration run.
type NarrationCompletedEvent struct {
	Header          events.EventHeader `json:"header"`
	SourceID        string             `json:"source_id,omitempty"`
	SelectedID      string             `json:"selected_id,omitempty"`
	AudioID         string             `json:"audio_id,omitempty"`
	AudioURL        string             `json:"audio_url,omitempty"`
	DurationSeconds float64            `json:"duration_seconds,omitempty"`
	ErrorCode       Code               `json:"error_code,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
}
