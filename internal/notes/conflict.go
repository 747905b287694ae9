package notes

import "time"

// UpsertOutcome captures the decision from resolveUpsert.
type UpsertOutcome struct {
	Inserted    bool
	UpdatedNote DailyNote
	Changed     bool
}

// resolveUpsert applies the read-before-write decision: update the existing row when
// present, otherwise build a new one. Export state survives content updates so a day
// already appended to the export target is not appended twice.
func resolveUpsert(existing *DailyNote, request UpsertRequest, appliedAt time.Time) UpsertOutcome {
	updatedAtMillis := request.UpdatedAt.UTC().UnixMilli()

	if existing == nil {
		return UpsertOutcome{
			Inserted: true,
			Changed:  true,
			UpdatedNote: DailyNote{
				UserID:           request.UserID.String(),
				NoteDate:         request.DayKey.String(),
				Content:          request.Content,
				UpdatedAtMillis:  updatedAtMillis,
				CreatedAtSeconds: appliedAt.Unix(),
				NotionSynced:     false,
			},
		}
	}

	updated := *existing
	updated.Content = request.Content
	updated.UpdatedAtMillis = updatedAtMillis
	if updated.CreatedAtSeconds == 0 {
		updated.CreatedAtSeconds = appliedAt.Unix()
	}

	changed := existing.Content != updated.Content || existing.UpdatedAtMillis != updated.UpdatedAtMillis
	return UpsertOutcome{
		Inserted:    false,
		UpdatedNote: updated,
		Changed:     changed,
	}
}
