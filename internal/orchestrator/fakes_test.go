package orchestrator_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/selection"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "orchestrator-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newSelector(t *testing.T) *selection.Selector {
	t.Helper()

	opts := selection.DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }

	scorer, err := selection.NewScorer(opts)
	require.NoError(t, err)

	return selection.NewSelector(scorer)
}

// goodItem is a usable candidate about 120 words long.
func goodItem(sourceID string) core.CandidateItem {
	sentence := "The harbor archive keeps letters written by sailors to their families at home. "

	return core.CandidateItem{
		SourceID:        sourceID,
		Collection:      "AskHistorians",
		Title:           "How were letters carried across the harbor?",
		Body:            strings.TrimSpace(strings.Repeat(sentence, 6) + "\n\n" + strings.Repeat(sentence, 6)),
		PrimarySignal:   1500,
		SecondarySignal: 250,
		Author:          "archivist",
		CreatedAt:       fixedNow.Add(-2 * time.Hour).Unix(),
	}
}

// wav returns a mono 16-bit 8 kHz WAV of the given length in seconds.
func wav(seconds int) []byte {
	const (
		sampleRate = 8000
		blockAlign = 2
	)

	dataSize := seconds * sampleRate * blockAlign

	var buf bytes.Buffer

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))

	return buf.Bytes()
}

// fakeRecords is an in-memory RecordStore with atomic insert-or-return-existing.
type fakeRecords struct {
	mu       sync.Mutex
	selected map[string]core.SelectedRecord
	audio    []core.AudioRecord
	calls    int
	nextID   int

	insertErr error
	getErr    error
	saveErr   error
	linkErr   error
	panicOn   string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{selected: map[string]core.SelectedRecord{}}
}

func (f *fakeRecords) InsertSelected(_ context.Context, record core.SelectedRecord) (core.InsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.panicOn == "insert" {
		panic("insert exploded")
	}

	if f.insertErr != nil {
		return core.InsertOutcome{}, f.insertErr
	}

	if existing, ok := f.selected[record.SourceID]; ok {
		if existing.HasAudio() {
			return core.InsertOutcome{Kind: core.ExistingLinked, Record: existing}, nil
		}

		return core.InsertOutcome{Kind: core.ExistingUnlinked, Record: existing}, nil
	}

	f.nextID++
	record.ID = fmt.Sprintf("sel-%d", f.nextID)
	f.selected[record.SourceID] = record

	return core.InsertOutcome{Kind: core.Inserted, Record: record}, nil
}

func (f *fakeRecords) GetSelectedBySourceID(_ context.Context, sourceID string) (core.SelectedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.getErr != nil {
		return core.SelectedRecord{}, f.getErr
	}

	record, ok := f.selected[sourceID]
	if !ok {
		return core.SelectedRecord{}, core.ErrNotFound
	}

	return record, nil
}

func (f *fakeRecords) SaveAudio(_ context.Context, record core.AudioRecord) (core.AudioRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.saveErr != nil {
		return core.AudioRecord{}, f.saveErr
	}

	f.nextID++
	record.ID = fmt.Sprintf("audio-%d", f.nextID)
	record.CreatedAt = fixedNow
	f.audio = append(f.audio, record)

	return record, nil
}

func (f *fakeRecords) LinkAudio(_ context.Context, selectedID, audioID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.linkErr != nil {
		return f.linkErr
	}

	for sourceID, record := range f.selected {
		if record.ID != selectedID {
			continue
		}

		if record.HasAudio() && *record.AudioID != audioID {
			return fmt.Errorf("record %s already linked", selectedID)
		}

		linked := audioID
		record.AudioID = &linked
		f.selected[sourceID] = record

		return nil
	}

	return core.ErrNotFound
}

func (f *fakeRecords) FindOrphanedAudio(context.Context) ([]core.OrphanedAudio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	linked := map[string]bool{}

	for _, record := range f.selected {
		if record.HasAudio() {
			linked[*record.AudioID] = true
		}
	}

	var orphans []core.OrphanedAudio

	for _, record := range f.selected {
		if record.HasAudio() {
			continue
		}

		for i := len(f.audio) - 1; i >= 0; i-- {
			audio := f.audio[i]
			if audio.SourceID == record.SourceID && !linked[audio.ID] {
				orphans = append(orphans, core.OrphanedAudio{Selected: record, Audio: audio})

				break
			}
		}
	}

	return orphans, nil
}

func (f *fakeRecords) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *fakeRecords) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.audio)
}

func (f *fakeRecords) put(record core.SelectedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.selected[record.SourceID] = record
}

// fakeBlobs records uploads in memory.
type fakeBlobs struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	err          error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeBlobs) Upload(_ context.Context, name string, data []byte, contentType string) (core.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return core.BlobInfo{}, f.err
	}

	f.objects[name] = data
	f.contentTypes[name] = contentType

	return core.BlobInfo{URL: "mem://audio/" + name, Size: int64(len(data))}, nil
}

func (f *fakeBlobs) Download(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[name]
	if !ok {
		return nil, core.ErrNotFound
	}

	return data, nil
}

func (f *fakeBlobs) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.objects))
	for name := range f.objects {
		names = append(names, name)
	}

	return names
}

// fakeSynth returns a fixed generation unless generate is set.
type fakeSynth struct {
	mu       sync.Mutex
	texts    []string
	generate func(ctx context.Context, text string) (core.Generation, error)
	statuses []core.ProviderStatus
}

func (f *fakeSynth) Generate(ctx context.Context, text string) (core.Generation, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	generate := f.generate
	f.mu.Unlock()

	if generate != nil {
		return generate(ctx, text)
	}

	return core.Generation{
		Audio:        wav(2),
		ProviderName: "voicecloud",
		VoiceUsed:    "narrator",
		ContentType:  "audio/wav",
		Attempts:     1,
	}, nil
}

func (f *fakeSynth) ProvidersStatus(context.Context) []core.ProviderStatus {
	return f.statuses
}

func (f *fakeSynth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.texts)
}

// fixedCleaner returns the same text for every item.
type fixedCleaner struct {
	output string
}

func (c fixedCleaner) Clean(core.CandidateItem) string {
	return c.output
}
