// Package store persists selected items and audio metadata through GORM.
// SQLite is the default; Postgres and MySQL are selected by driver name.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	defaultSQLiteDSN = "narration.db"
	source           = "store"
)

var (
	// ErrUnknownDriver is returned for a driver name Open does not support.
	ErrUnknownDriver = errors.New("unknown database driver")
	// ErrAlreadyLinked is returned when a selected record already references different audio.
	ErrAlreadyLinked = errors.New("selected record already linked to other audio")
)

// Store implements core.RecordStore.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite || driver == "" {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", dbErr)
		}

		// SQLite serialises writers; one connection avoids SQLITE_BUSY under concurrent runs.
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db)
}

// New wraps an existing GORM handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(&selectedRow{}, &audioRow{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite, "":
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}

		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}

	return sqlDB.Close()
}

// InsertSelected inserts record unless its source id exists, then reads the
// stored row back in the same transaction and tags the outcome.
func (s *Store) InsertSelected(ctx context.Context, record core.SelectedRecord) (core.InsertOutcome, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	now := s.now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	row := selectedRowFrom(record)

	var outcome core.InsertOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("failed to insert selected record %s: %w", record.SourceID, result.Error)
		}

		var stored selectedRow

		readErr := tx.Where("source_id = ?", record.SourceID).Take(&stored).Error
		if errors.Is(readErr, gorm.ErrRecordNotFound) {
			return core.NewError(core.CodePersistInconsistency, source,
				fmt.Errorf("source id %s conflicted but no row is visible", record.SourceID))
		}

		if readErr != nil {
			return fmt.Errorf("failed to read back selected record %s: %w", record.SourceID, readErr)
		}

		outcome.Record = stored.toRecord()

		switch {
		case result.RowsAffected > 0 && stored.ID == row.ID:
			outcome.Kind = core.Inserted
		case outcome.Record.HasAudio():
			outcome.Kind = core.ExistingLinked
		default:
			outcome.Kind = core.ExistingUnlinked
		}

		return nil
	})
	if err != nil {
		return core.InsertOutcome{}, err
	}

	return outcome, nil
}

// GetSelectedBySourceID returns core.ErrNotFound when no row matches.
func (s *Store) GetSelectedBySourceID(ctx context.Context, sourceID string) (core.SelectedRecord, error) {
	var row selectedRow

	err := s.db.WithContext(ctx).Where("source_id = ?", sourceID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.SelectedRecord{}, fmt.Errorf("%w: source id %s", core.ErrNotFound, sourceID)
	}

	if err != nil {
		return core.SelectedRecord{}, fmt.Errorf("failed to load selected record %s: %w", sourceID, err)
	}

	return row.toRecord(), nil
}

// SaveAudio inserts an immutable audio record, assigning its id and timestamp.
func (s *Store) SaveAudio(ctx context.Context, record core.AudioRecord) (core.AudioRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}

	row := audioRowFrom(record)

	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		return core.AudioRecord{}, fmt.Errorf("failed to save audio record for %s: %w", record.SourceID, err)
	}

	return row.toRecord(), nil
}

// LinkAudio sets the audio reference of an unlinked selected record.
// Linking the same audio twice is a no-op; linking different audio fails.
func (s *Store) LinkAudio(ctx context.Context, selectedID, audioID string) error {
	result := s.db.WithContext(ctx).
		Model(&selectedRow{}).
		Where("id = ? AND audio_id IS NULL", selectedID).
		Updates(map[string]any{"audio_id": audioID, "updated_at": s.now().UTC()})
	if result.Error != nil {
		return fmt.Errorf("failed to link audio %s to %s: %w", audioID, selectedID, result.Error)
	}

	if result.RowsAffected == 1 {
		return nil
	}

	var row selectedRow

	err := s.db.WithContext(ctx).Where("id = ?", selectedID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: selected id %s", core.ErrNotFound, selectedID)
	}

	if err != nil {
		return fmt.Errorf("failed to inspect selected record %s: %w", selectedID, err)
	}

	if row.AudioID != nil && *row.AudioID == audioID {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrAlreadyLinked, selectedID)
}

// FindOrphanedAudio pairs every unlinked selected record with the newest audio
// record for the same source id that no selected record references.
func (s *Store) FindOrphanedAudio(ctx context.Context) ([]core.OrphanedAudio, error) {
	db := s.db.WithContext(ctx)

	var unlinked []selectedRow

	err := db.Where("audio_id IS NULL").Order("created_at").Find(&unlinked).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked records: %w", err)
	}

	linkedAudio := db.Model(&selectedRow{}).Select("audio_id").Where("audio_id IS NOT NULL")

	var orphans []core.OrphanedAudio

	for _, selected := range unlinked {
		var audio audioRow

		findErr := db.
			Where("source_id = ? AND id NOT IN (?)", selected.SourceID, linkedAudio).
			Order("created_at DESC").
			Take(&audio).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			continue
		}

		if findErr != nil {
			return nil, fmt.Errorf("failed to find audio for %s: %w", selected.SourceID, findErr)
		}

		orphans = append(orphans, core.OrphanedAudio{Selected: selected.toRecord(), Audio: audio.toRecord()})
	}

	return orphans, nil
}
