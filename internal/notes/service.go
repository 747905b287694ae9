package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew         = "notes.service.new"
	opFetchNote          = "notes.fetch_note"
	opUpsertNote         = "notes.upsert_note"
	opDeleteNote         = "notes.delete_note"
	opListNotes          = "notes.list_notes"
	opListPendingExport  = "notes.list_pending_export"
	opMarkExported       = "notes.mark_exported"
	fieldUserID          = "user_id"
	fieldDayKey          = "day_key"
	queryUserDay         = "user_id = ? AND note_date = ?"
	queryUserPending     = "user_id = ? AND is_notion_synced = ?"
	queryUserDayIn       = "user_id = ? AND note_date IN ?"
	orderNoteDateAsc     = "note_date ASC"
	orderUpdatedDesc     = "updated_at_ms DESC"
	reasonMissingDB      = "missing_database"
	reasonInvalidRequest = "invalid_request"
	reasonQueryFailed    = "query_failed"
	reasonSelectFailed   = "note_select_failed"
	reasonSaveFailed     = "note_save_failed"
	reasonDeleteFailed   = "note_delete_failed"
	reasonIDFailed       = "id_generation_failed"
	reasonUpdateFailed   = "update_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the daily note service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Publisher  ChangePublisher
}

// Service owns the authoritative daily note records.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	publisher  ChangePublisher
	writeLocks *keyedMutex
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		publisher:  cfg.Publisher,
		writeLocks: newKeyedMutex(),
	}, nil
}

// UpsertResult reports the stored record and whether it was newly created.
type UpsertResult struct {
	Record   Record
	Inserted bool
}

// FetchNote returns the record for the day. The boolean is false when no record exists.
func (s *Service) FetchNote(ctx context.Context, userID UserID, day DayKey) (Record, bool, error) {
	if s.db == nil {
		s.logError(opFetchNote, reasonMissingDB, errMissingDatabase)
		return Record{}, false, newServiceError(opFetchNote, reasonMissingDB, errMissingDatabase)
	}

	var note DailyNote
	err := s.db.WithContext(ctx).
		Where(queryUserDay, userID.String(), day.String()).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		s.logError(opFetchNote, reasonQueryFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDayKey, day.String()))
		return Record{}, false, newServiceError(opFetchNote, reasonQueryFailed, err)
	}
	return note.record(), true, nil
}

// UpsertNote fetches the existing record for (user, day) and updates it, or inserts a new
// one when absent. Writers for the same key are serialized so concurrent sessions cannot
// both take the insert branch.
func (s *Service) UpsertNote(ctx context.Context, request UpsertRequest) (UpsertResult, error) {
	if s.db == nil {
		s.logError(opUpsertNote, reasonMissingDB, errMissingDatabase)
		return UpsertResult{}, newServiceError(opUpsertNote, reasonMissingDB, errMissingDatabase)
	}
	if err := request.validate(); err != nil {
		return UpsertResult{}, newServiceError(opUpsertNote, reasonInvalidRequest, err)
	}

	release := s.writeLocks.Lock(noteLockKey(request.UserID, request.DayKey))
	defer release()

	var outcome UpsertOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DailyNote
		var existingPtr *DailyNote
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryUserDay, request.UserID.String(), request.DayKey.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			s.logError(opUpsertNote, reasonSelectFailed, err,
				zap.String(fieldUserID, request.UserID.String()),
				zap.String(fieldDayKey, request.DayKey.String()))
			return newServiceError(opUpsertNote, reasonSelectFailed, err)
		} else {
			existingPtr = &existing
		}

		outcome = resolveUpsert(existingPtr, request, s.clock().UTC())
		if outcome.Inserted {
			recordID, idErr := newRecordID(s.idProvider)
			if idErr != nil {
				s.logError(opUpsertNote, reasonIDFailed, idErr,
					zap.String(fieldUserID, request.UserID.String()))
				return newServiceError(opUpsertNote, reasonIDFailed, idErr)
			}
			outcome.UpdatedNote.ID = recordID
			if err := tx.Create(&outcome.UpdatedNote).Error; err != nil {
				s.logError(opUpsertNote, reasonSaveFailed, err,
					zap.String(fieldUserID, request.UserID.String()),
					zap.String(fieldDayKey, request.DayKey.String()))
				return newServiceError(opUpsertNote, reasonSaveFailed, err)
			}
			return nil
		}
		if !outcome.Changed {
			return nil
		}
		if err := tx.Save(&outcome.UpdatedNote).Error; err != nil {
			s.logError(opUpsertNote, reasonSaveFailed, err,
				zap.String(fieldUserID, request.UserID.String()),
				zap.String(fieldDayKey, request.DayKey.String()))
			return newServiceError(opUpsertNote, reasonSaveFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return UpsertResult{}, txErr
	}

	if outcome.Changed {
		changeType := ChangeTypeUpdate
		if outcome.Inserted {
			changeType = ChangeTypeInsert
		}
		s.publish(request.UserID, ChangeEvent{
			Type:            changeType,
			DayKey:          request.DayKey,
			Content:         outcome.UpdatedNote.Content,
			UpdatedAtMillis: outcome.UpdatedNote.UpdatedAtMillis,
		})
	}

	return UpsertResult{Record: outcome.UpdatedNote.record(), Inserted: outcome.Inserted}, nil
}

// DeleteNote removes the record for the day. The boolean reports whether a row existed.
func (s *Service) DeleteNote(ctx context.Context, userID UserID, day DayKey) (bool, error) {
	if s.db == nil {
		s.logError(opDeleteNote, reasonMissingDB, errMissingDatabase)
		return false, newServiceError(opDeleteNote, reasonMissingDB, errMissingDatabase)
	}

	release := s.writeLocks.Lock(noteLockKey(userID, day))
	defer release()

	result := s.db.WithContext(ctx).
		Where(queryUserDay, userID.String(), day.String()).
		Delete(&DailyNote{})
	if result.Error != nil {
		s.logError(opDeleteNote, reasonDeleteFailed, result.Error,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDayKey, day.String()))
		return false, newServiceError(opDeleteNote, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	s.publish(userID, ChangeEvent{
		Type:            ChangeTypeDelete,
		DayKey:          day,
		UpdatedAtMillis: s.clock().UTC().UnixMilli(),
	})
	return true, nil
}

// ListNotes returns all persisted notes for the user, most recently updated first.
func (s *Service) ListNotes(ctx context.Context, userID UserID) ([]Record, error) {
	if s.db == nil {
		s.logError(opListNotes, reasonMissingDB, errMissingDatabase)
		return nil, newServiceError(opListNotes, reasonMissingDB, errMissingDatabase)
	}

	var stored []DailyNote
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order(orderUpdatedDesc).
		Find(&stored).Error; err != nil {
		s.logError(opListNotes, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opListNotes, reasonQueryFailed, err)
	}
	return toRecords(stored), nil
}

// ListPendingExport enumerates records not yet handed to the export target, oldest day first.
func (s *Service) ListPendingExport(ctx context.Context, userID UserID) ([]Record, error) {
	if s.db == nil {
		s.logError(opListPendingExport, reasonMissingDB, errMissingDatabase)
		return nil, newServiceError(opListPendingExport, reasonMissingDB, errMissingDatabase)
	}

	var stored []DailyNote
	if err := s.db.WithContext(ctx).
		Where(queryUserPending, userID.String(), false).
		Order(orderNoteDateAsc).
		Find(&stored).Error; err != nil {
		s.logError(opListPendingExport, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opListPendingExport, reasonQueryFailed, err)
	}
	return toRecords(stored), nil
}

// MarkExported flags the given days as exported and returns the number of rows changed.
func (s *Service) MarkExported(ctx context.Context, userID UserID, days []DayKey) (int64, error) {
	if s.db == nil {
		s.logError(opMarkExported, reasonMissingDB, errMissingDatabase)
		return 0, newServiceError(opMarkExported, reasonMissingDB, errMissingDatabase)
	}
	if len(days) == 0 {
		return 0, nil
	}

	rawDays := make([]string, 0, len(days))
	for _, day := range days {
		rawDays = append(rawDays, day.String())
	}

	result := s.db.WithContext(ctx).
		Model(&DailyNote{}).
		Where(queryUserDayIn, userID.String(), rawDays).
		Update("is_notion_synced", true)
	if result.Error != nil {
		s.logError(opMarkExported, reasonUpdateFailed, result.Error, zap.String(fieldUserID, userID.String()))
		return 0, newServiceError(opMarkExported, reasonUpdateFailed, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) publish(userID UserID, event ChangeEvent) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishChange(userID, event)
}

func toRecords(stored []DailyNote) []Record {
	records := make([]Record, 0, len(stored))
	for _, note := range stored {
		records = append(records, note.record())
	}
	return records
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
