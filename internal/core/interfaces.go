// Package core defines the domain types and collaborator interfaces of the narration service.
package core

import "context"

// BlobInfo describes an uploaded audio object.
type BlobInfo struct {
	URL  string
	Size int64
}

// BlobStore defines the interface for interacting with a key-value blob store.
type BlobStore interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (BlobInfo, error)
	Download(ctx context.Context, name string) ([]byte, error)
}

// RecordStore persists selected items and their audio metadata.
//
// InsertSelected must treat the source id as a unique key. When a row for the
// source id already exists it is returned inside the outcome instead of an error.
type RecordStore interface {
	InsertSelected(ctx context.Context, record SelectedRecord) (InsertOutcome, error)
	GetSelectedBySourceID(ctx context.Context, sourceID string) (SelectedRecord, error)
	SaveAudio(ctx context.Context, record AudioRecord) (AudioRecord, error)
	LinkAudio(ctx context.Context, selectedID, audioID string) error
	FindOrphanedAudio(ctx context.Context) ([]OrphanedAudio, error)
}

// SynthesisOptions carries per-call overrides for a provider.
type SynthesisOptions struct {
	Voice    string
	Language string
}

// SynthesisProvider is one concrete voice-synthesis backend.
//
// Synthesize returns a *ProviderError when the remote service rejected the call.
// IsAvailable and RemainingQuota never fail: a failing probe reports false and -1.
type SynthesisProvider interface {
	Name() string
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (Synthesis, error)
	IsAvailable(ctx context.Context) bool
	RemainingQuota(ctx context.Context) int
}

// ContentSource returns candidate items for a collection.
type ContentSource interface {
	FetchCandidates(ctx context.Context, collection string, limit int) ([]CandidateItem, error)
}

// TextCleaner turns a candidate item into plain narration text.
type TextCleaner interface {
	Clean(item CandidateItem) string
}
