package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxContentBytes bounds the content of one day's note.
	MaxContentBytes = 1 << 20

	maxIdentifierLength = 190
	dayKeyLayout        = "2006-01-02"
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrInvalidDayKey indicates that a day key is not a YYYY-MM-DD calendar date.
	ErrInvalidDayKey = errors.New("notes: invalid day key")
	// ErrInvalidTimestamp indicates that an update timestamp is missing.
	ErrInvalidTimestamp = errors.New("notes: invalid timestamp")
	// ErrContentTooLarge indicates that note content exceeds MaxContentBytes.
	ErrContentTooLarge = errors.New("notes: content too large")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// DayKey identifies exactly one note per user per UTC calendar day.
type DayKey string

// DayKeyFor returns the day key of the UTC calendar date containing t.
func DayKeyFor(t time.Time) DayKey {
	return DayKey(t.UTC().Format(dayKeyLayout))
}

// ParseDayKey validates raw input and returns a DayKey.
func ParseDayKey(rawInput string) (DayKey, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDayKey)
	}
	parsed, err := time.Parse(dayKeyLayout, trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDayKey, trimmed)
	}
	return DayKey(parsed.Format(dayKeyLayout)), nil
}

// String returns the YYYY-MM-DD form.
func (d DayKey) String() string {
	return string(d)
}

// Date returns midnight UTC of the day. The zero time is returned for malformed keys.
func (d DayKey) Date() time.Time {
	parsed, err := time.Parse(dayKeyLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

// TimeFromMillis converts unix milliseconds into a UTC time.
func TimeFromMillis(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}

// DailyNote is the authoritative server record. One row per (user_id, note_date).
type DailyNote struct {
	ID               string `gorm:"column:id;primaryKey;size:64;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_daily_notes_user_date,priority:1;index:idx_daily_notes_export,priority:1"`
	NoteDate         string `gorm:"column:note_date;size:10;not null;uniqueIndex:idx_daily_notes_user_date,priority:2"`
	Content          string `gorm:"column:content;type:text;not null"`
	UpdatedAtMillis  int64  `gorm:"column:updated_at_ms;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	NotionSynced     bool   `gorm:"column:is_notion_synced;not null;default:false;index:idx_daily_notes_export,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (DailyNote) TableName() string {
	return "daily_notes"
}

// Record is the transport-neutral view of a DailyNote.
type Record struct {
	UserID       UserID    `json:"user_id"`
	DayKey       DayKey    `json:"day_key"`
	Content      string    `json:"content"`
	UpdatedAt    time.Time `json:"updated_at"`
	NotionSynced bool      `json:"notion_synced"`
}

func (note DailyNote) record() Record {
	return Record{
		UserID:       UserID(note.UserID),
		DayKey:       DayKey(note.NoteDate),
		Content:      note.Content,
		UpdatedAt:    TimeFromMillis(note.UpdatedAtMillis),
		NotionSynced: note.NotionSynced,
	}
}

// UpsertRequest describes a content write for one day.
type UpsertRequest struct {
	UserID    UserID
	DayKey    DayKey
	Content   string
	UpdatedAt time.Time
}

func (request UpsertRequest) validate() error {
	if request.UserID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if _, err := ParseDayKey(request.DayKey.String()); err != nil {
		return err
	}
	if request.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: zero", ErrInvalidTimestamp)
	}
	if len(request.Content) > MaxContentBytes {
		return fmt.Errorf("%w: %d bytes", ErrContentTooLarge, len(request.Content))
	}
	return nil
}

// ChangeType enumerates realtime change kinds.
type ChangeType string

const (
	// ChangeTypeInsert is emitted when a day's record is created.
	ChangeTypeInsert ChangeType = "insert"
	// ChangeTypeUpdate is emitted when a day's record content changes.
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeDelete is emitted when a day's record is removed.
	ChangeTypeDelete ChangeType = "delete"
)

// ChangeEvent is pushed to every session of the owning user.
type ChangeEvent struct {
	Type            ChangeType `json:"type"`
	DayKey          DayKey     `json:"day_key"`
	Content         string     `json:"content"`
	UpdatedAtMillis int64      `json:"updated_at_ms"`
}

// UpdatedAt returns the event timestamp as a UTC time.
func (event ChangeEvent) UpdatedAt() time.Time {
	return TimeFromMillis(event.UpdatedAtMillis)
}

// ChangePublisher receives change events after they are committed.
type ChangePublisher interface {
	PublishChange(userID UserID, event ChangeEvent)
}
