package store

import (
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

type selectedRow struct {
	ID              string  `gorm:"primaryKey;size:36"`
	SourceID        string  `gorm:"size:128;not null;uniqueIndex:idx_selected_source_id"`
	Collection      string  `gorm:"size:128;index"`
	Title           string  `gorm:"size:1024"`
	Body            string  `gorm:"type:text"`
	Author          string  `gorm:"size:128"`
	PrimarySignal   int     `gorm:"not null;default:0"`
	SecondarySignal int     `gorm:"not null;default:0"`
	SourceCreatedAt int64   `gorm:"not null;default:0"`
	TotalScore      float64 `gorm:"not null;default:0"`
	AudioID         *string `gorm:"size:36;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (selectedRow) TableName() string {
	return "selected_items"
}

type audioRow struct {
	ID              string `gorm:"primaryKey;size:36"`
	SourceID        string `gorm:"size:128;not null;index"`
	URL             string `gorm:"size:1024;not null"`
	DurationSeconds float64
	SizeBytes       int64
	Format          string `gorm:"size:32"`
	Provider        string `gorm:"size:64"`
	Voice           string `gorm:"size:128"`
	CreatedAt       time.Time
}

func (audioRow) TableName() string {
	return "audio_records"
}

func selectedRowFrom(record core.SelectedRecord) selectedRow {
	return selectedRow{
		ID:              record.ID,
		SourceID:        record.SourceID,
		Collection:      record.Collection,
		Title:           record.Title,
		Body:            record.Body,
		Author:          record.Author,
		PrimarySignal:   record.PrimarySignal,
		SecondarySignal: record.SecondarySignal,
		SourceCreatedAt: record.SourceCreatedAt,
		TotalScore:      record.TotalScore,
		AudioID:         record.AudioID,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func (r selectedRow) toRecord() core.SelectedRecord {
	return core.SelectedRecord{
		ID:              r.ID,
		SourceID:        r.SourceID,
		Collection:      r.Collection,
		Title:           r.Title,
		Body:            r.Body,
		Author:          r.Author,
		PrimarySignal:   r.PrimarySignal,
		SecondarySignal: r.SecondarySignal,
		SourceCreatedAt: r.SourceCreatedAt,
		TotalScore:      r.TotalScore,
		AudioID:         r.AudioID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func audioRowFrom(record core.AudioRecord) audioRow {
	return audioRow{
		ID:              record.ID,
		SourceID:        record.SourceID,
		URL:             record.URL,
		DurationSeconds: record.DurationSeconds,
		SizeBytes:       record.SizeBytes,
		Format:          record.Format,
		Provider:        record.Provider,
		Voice:           record.Voice,
		CreatedAt:       record.CreatedAt,
	}
}

func (r audioRow) toRecord() core.AudioRecord {
	return core.AudioRecord{
		ID:              r.ID,
		SourceID:        r.SourceID,
		URL:             r.URL,
		DurationSeconds: r.DurationSeconds,
		SizeBytes:       r.SizeBytes,
		Format:          r.Format,
		Provider:        r.Provider,
		Voice:           r.Voice,
		CreatedAt:       r.CreatedAt,
	}
}
