package database

import (
	"fmt"

	"github.com/Harinder441/daily-notes-ai/internal/localstore"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite opens the server database holding the authoritative daily note records.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := migrateServerSchema(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// OpenLocalStore opens the device-local key-value database used by the sync client.
func OpenLocalStore(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&localstore.Entry{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("local store initialized", zap.String("path", path))
	}

	return db, nil
}

// migrateServerSchema runs data migrations before the unique (user_id, note_date) index is
// enforced on tables created by older releases.
func migrateServerSchema(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}
	if !db.Migrator().HasTable(&notes.DailyNote{}) {
		if err := db.AutoMigrate(&notes.DailyNote{}); err != nil {
			return err
		}
	}
	if err := applyMigrations(db, serverMigrations(), logger); err != nil {
		return err
	}
	return db.AutoMigrate(&notes.DailyNote{})
}

func open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
