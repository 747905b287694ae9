package localstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLocalStore wraps every failure of the device-local store. Callers treat it as fatal
// for the operation that produced it.
var ErrLocalStore = errors.New("localstore: operation failed")

// KV is the device-local durable key-value contract.
type KV interface {
	Put(ctx context.Context, key, value string) error
	// Get returns ok=false for a key that was never written.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
}

// BatchKV is implemented by stores that can write several keys atomically.
type BatchKV interface {
	KV
	PutMany(ctx context.Context, entries map[string]string) error
}

// Entry is one row of the local_entries table.
type Entry struct {
	Key       string `gorm:"column:entry_key;primaryKey;size:255;not null"`
	Value     string `gorm:"column:value;type:text;not null"`
	UpdatedAt int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "local_entries"
}

// SQLiteKV stores entries in a GORM-managed table.
type SQLiteKV struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLiteKV wraps an already migrated database handle.
func NewSQLiteKV(db *gorm.DB) (*SQLiteKV, error) {
	if db == nil {
		return nil, errors.Join(ErrLocalStore, errors.New("database handle is required"))
	}
	return &SQLiteKV{db: db, clock: time.Now}, nil
}

func (s *SQLiteKV) Put(ctx context.Context, key, value string) error {
	return s.PutMany(ctx, map[string]string{key: value})
}

func (s *SQLiteKV) PutMany(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	now := s.clock().UTC().UnixMilli()
	rows := make([]Entry, 0, len(entries))
	for key, value := range entries {
		rows = append(rows, Entry{Key: key, Value: value, UpdatedAt: now})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_ms"}),
	}).Create(&rows).Error
	if err != nil {
		return errors.Join(ErrLocalStore, err)
	}
	return nil
}

func (s *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Join(ErrLocalStore, err)
	}
	return entry.Value, true, nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&Entry{}).Error; err != nil {
		return errors.Join(ErrLocalStore, err)
	}
	return nil
}

// MemoryKV is a map-backed KV.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]string)}
}

func (m *MemoryKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *MemoryKV) PutMany(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range entries {
		m.entries[key] = value
	}
	return nil
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	return value, ok, nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
