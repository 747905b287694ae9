package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Harinder441/daily-notes-ai/internal/localstore"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

func TestDecideMerge(t *testing.T) {
	base := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)
	local := localstore.Draft{DayKey: "2024-03-07", Content: "hello", LastEditAt: base, Present: true}
	event := func(kind notes.ChangeType, content string, at time.Time) notes.ChangeEvent {
		return notes.ChangeEvent{Type: kind, DayKey: "2024-03-07", Content: content, UpdatedAtMillis: at.UnixMilli()}
	}

	cases := []struct {
		name   string
		local  localstore.Draft
		event  notes.ChangeEvent
		adopt  bool
		reason string
	}{
		{"newer and longer", local, event(notes.ChangeTypeUpdate, "hello world", base.Add(time.Second)), true, mergeAccepted},
		{"insert counts like update", local, event(notes.ChangeTypeInsert, "hello world", base.Add(time.Second)), true, mergeAccepted},
		{"newer but shorter", local, event(notes.ChangeTypeUpdate, "hi", base.Add(time.Second)), false, mergeNotLonger},
		{"newer but same length", local, event(notes.ChangeTypeUpdate, "HELLO", base.Add(time.Second)), false, mergeNotLonger},
		{"longer but same instant", local, event(notes.ChangeTypeUpdate, "hello world", base), false, mergeNotNewer},
		{"longer but older", local, event(notes.ChangeTypeUpdate, "hello world", base.Add(-time.Second)), false, mergeNotNewer},
		{"delete never adopts", local, event(notes.ChangeTypeDelete, "", base.Add(time.Second)), false, mergeDeleteEvent},
		{"unknown type", local, event("truncate", "hello world", base.Add(time.Second)), false, mergeUnknownEvent},
		{"no local draft", localstore.Draft{DayKey: "2024-03-07"}, event(notes.ChangeTypeUpdate, "x", base), true, mergeAccepted},
		{"empty remote over no draft", localstore.Draft{DayKey: "2024-03-07"}, event(notes.ChangeTypeUpdate, "", base), false, mergeNotLonger},
		{"runes not bytes", localstore.Draft{Content: "abc", LastEditAt: base, Present: true}, event(notes.ChangeTypeUpdate, "ééé", base.Add(time.Second)), false, mergeNotLonger},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := decideMerge(tc.local, tc.event)
			assert.Equal(t, tc.adopt, decision.adopt)
			assert.Equal(t, tc.reason, decision.reason)
		})
	}
}
