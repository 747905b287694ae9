package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

const (
	draftKeyPrefix    = "notes_"
	lastEditKeyPrefix = "last_edit_"
	// HistoryKey is the single global key under which the history log is persisted.
	HistoryKey = "notes_history"
)

// Draft is the device's latest copy of one day's note.
type Draft struct {
	DayKey     notes.DayKey
	Content    string
	LastEditAt time.Time
	// Present is false when the day has never been written on this device.
	Present bool
}

// DraftStore maps drafts onto the KV key layout.
type DraftStore struct {
	kv KV
}

// NewDraftStore binds a DraftStore to a KV.
func NewDraftStore(kv KV) *DraftStore {
	return &DraftStore{kv: kv}
}

// KV exposes the underlying store for components sharing it, such as the history log.
func (s *DraftStore) KV() KV {
	return s.kv
}

func draftKey(day notes.DayKey) string {
	return draftKeyPrefix + day.String()
}

func lastEditKey(day notes.DayKey) string {
	return lastEditKeyPrefix + day.String()
}

// PutDraft writes content and its edit timestamp. Both keys land in one batch when the
// store supports it.
func (s *DraftStore) PutDraft(ctx context.Context, day notes.DayKey, content string, editedAt time.Time) error {
	stamp := editedAt.UTC().Format(time.RFC3339Nano)
	if batch, ok := s.kv.(BatchKV); ok {
		if err := batch.PutMany(ctx, map[string]string{draftKey(day): content, lastEditKey(day): stamp}); err != nil {
			return wrap(err)
		}
		return nil
	}
	if err := s.kv.Put(ctx, draftKey(day), content); err != nil {
		return wrap(err)
	}
	if err := s.kv.Put(ctx, lastEditKey(day), stamp); err != nil {
		return wrap(err)
	}
	return nil
}

// GetDraft reads the draft for the day. A day without a draft yields Present=false.
func (s *DraftStore) GetDraft(ctx context.Context, day notes.DayKey) (Draft, error) {
	draft := Draft{DayKey: day}
	content, ok, err := s.kv.Get(ctx, draftKey(day))
	if err != nil {
		return draft, wrap(err)
	}
	if !ok {
		return draft, nil
	}
	draft.Content = content
	draft.Present = true

	stamp, ok, err := s.kv.Get(ctx, lastEditKey(day))
	if err != nil {
		return draft, wrap(err)
	}
	if !ok || stamp == "" {
		return draft, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return draft, fmt.Errorf("%w: last edit for %s: %v", ErrLocalStore, day, err)
	}
	draft.LastEditAt = parsed.UTC()
	return draft, nil
}

func wrap(err error) error {
	if errors.Is(err, ErrLocalStore) {
		return err
	}
	return errors.Join(ErrLocalStore, err)
}
