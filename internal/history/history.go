// Package history keeps a bounded, most-recent-first archive of superseded drafts.
package history

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Harinder441/daily-notes-ai/internal/localstore"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

// DefaultLimit bounds the number of retained entries.
const DefaultLimit = 20

// ErrCorruptHistory indicates that the persisted log could not be decoded.
var ErrCorruptHistory = errors.New("history: corrupt log")

// Entry is one archived version of a day's note.
type Entry struct {
	ID        string       `json:"id"`
	Content   string       `json:"content"`
	DayKey    notes.DayKey `json:"date"`
	Timestamp time.Time    `json:"timestamp"`
	UserID    notes.UserID `json:"userId"`
}

// Log persists entries as one JSON array under localstore.HistoryKey.
type Log struct {
	kv      localstore.KV
	limit   int
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewLog binds a Log to a store. A non-positive limit selects DefaultLimit.
func NewLog(kv localstore.KV, limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{
		kv:      kv,
		limit:   limit,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Limit reports the retention bound.
func (l *Log) Limit() int {
	return l.limit
}

// Append prepends the entry and truncates the log to its limit.
func (l *Log) Append(ctx context.Context, entry Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return Entry{}, err
	}
	if entry.ID == "" {
		id, err := ulid.New(ulid.Timestamp(time.Now()), l.entropy)
		if err != nil {
			return Entry{}, fmt.Errorf("history: generate id: %w", err)
		}
		entry.ID = id.String()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	entries = append([]Entry{entry}, entries...)
	if len(entries) > l.limit {
		entries = entries[:l.limit]
	}
	if err := l.store(ctx, entries); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns a copy of the log, most recent first.
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// Clear removes every entry.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kv.Delete(ctx, localstore.HistoryKey)
}

func (l *Log) load(ctx context.Context) ([]Entry, error) {
	raw, ok, err := l.kv.Get(ctx, localstore.HistoryKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHistory, err)
	}
	return entries, nil
}

func (l *Log) store(ctx context.Context, entries []Entry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	return l.kv.Put(ctx, localstore.HistoryKey, string(payload))
}
