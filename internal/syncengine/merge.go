package syncengine

import (
	"unicode/utf8"

	"github.com/Harinder441/daily-notes-ai/internal/localstore"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

const (
	mergeAccepted     = "accepted"
	mergeDeleteEvent  = "delete_event"
	mergeNotNewer     = "not_newer"
	mergeNotLonger    = "not_longer"
	mergeUnknownEvent = "unknown_event_type"
)

type mergeDecision struct {
	adopt  bool
	reason string
}

// decideMerge applies the adoption rule to a remote version of the local draft's day: the
// remote content wins only when it is strictly newer than the last local edit (or no local
// edit exists) and strictly longer, counted in runes.
func decideMerge(local localstore.Draft, event notes.ChangeEvent) mergeDecision {
	switch event.Type {
	case notes.ChangeTypeDelete:
		return mergeDecision{reason: mergeDeleteEvent}
	case notes.ChangeTypeInsert, notes.ChangeTypeUpdate:
	default:
		return mergeDecision{reason: mergeUnknownEvent}
	}
	if !local.LastEditAt.IsZero() && !event.UpdatedAt().After(local.LastEditAt) {
		return mergeDecision{reason: mergeNotNewer}
	}
	if utf8.RuneCountInString(event.Content) <= utf8.RuneCountInString(local.Content) {
		return mergeDecision{reason: mergeNotLonger}
	}
	return mergeDecision{adopt: true, reason: mergeAccepted}
}
