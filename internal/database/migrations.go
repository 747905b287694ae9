package database

import (
	"errors"
	"time"

	"github.com/Harinder441/daily-notes-ai/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDedupeDailyNotes = "2024-03-01_dedupe_daily_notes"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) (int64, error)
}

func serverMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationDedupeDailyNotes, apply: dedupeDailyNotes},
	}
}

func applyMigrations(db *gorm.DB, migrations []migrationDefinition, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		affected, err := migration.apply(db)
		if err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied",
				zap.String("migration", migration.name),
				zap.Int64("rows_affected", affected))
		}
	}
	return nil
}

// dedupeDailyNotes removes duplicate (user_id, note_date) rows written by clients that
// raced the fetch-then-insert path, keeping the most recently updated row of each pair.
func dedupeDailyNotes(db *gorm.DB) (int64, error) {
	var rows []notes.DailyNote
	if err := db.Order("user_id ASC, note_date ASC, updated_at_ms DESC, id DESC").Find(&rows).Error; err != nil {
		return 0, err
	}

	var duplicateIDs []string
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		key := row.UserID + "|" + row.NoteDate
		if _, ok := seen[key]; ok {
			duplicateIDs = append(duplicateIDs, row.ID)
			continue
		}
		seen[key] = struct{}{}
	}
	if len(duplicateIDs) == 0 {
		return 0, nil
	}

	result := db.Where("id IN ?", duplicateIDs).Delete(&notes.DailyNote{})
	return result.RowsAffected, result.Error
}
