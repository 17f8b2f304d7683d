package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// StoreError carries a stable "operation.reason" code alongside the cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the stable "operation.reason" identifier of the failure.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew          = "notes.store.new"
	opListNotes         = "notes.list_notes"
	opAllNotes          = "notes.all_notes"
	opAddNote           = "notes.add_note"
	opUpdateNote        = "notes.update_note"
	opDeleteNote        = "notes.delete_note"
	opListTags          = "notes.list_tags"
	opAllTags           = "notes.all_tags"
	opSetTag            = "notes.set_tag"
	opClearTag          = "notes.clear_tag"
	opDistinctTagLabels = "notes.distinct_tag_labels"

	reasonMissingDatabase = "missing_database"
	reasonQueryFailed     = "query_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonInsertFailed    = "insert_failed"
	reasonUpdateFailed    = "update_failed"
	reasonDeleteFailed    = "delete_failed"

	queryPhoneNumber = "phone_number = ?"
	queryID          = "id = ?"
	orderNewestFirst = "created_at_ms DESC, id DESC"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// StoreConfig describes the dependencies of the local note/tag store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Dispatcher *realtime.Dispatcher
	Logger     *zap.Logger
}

// Store persists notes and tags keyed by phone number and publishes a change
// notification after every committed mutation.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
	locks      *keyedMutex
}

// NewStore constructs a Store. A nil dispatcher gets a private one.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = realtime.NewDispatcher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		dispatcher: dispatcher,
		logger:     logger,
		locks:      newKeyedMutex(),
	}, nil
}

// Dispatcher exposes the change feed used for live queries.
func (s *Store) Dispatcher() *realtime.Dispatcher {
	return s.dispatcher
}

// ListNotes returns the notes for phoneNumber, newest first.
func (s *Store) ListNotes(ctx context.Context, phoneNumber PhoneNumber) ([]Note, error) {
	var records []Note
	if err := s.db.WithContext(ctx).
		Where(queryPhoneNumber, phoneNumber.String()).
		Order(orderNewestFirst).
		Find(&records).Error; err != nil {
		s.logError(opListNotes, reasonQueryFailed, err, zap.String("phone_number", phoneNumber.String()))
		return nil, newStoreError(opListNotes, reasonQueryFailed, err)
	}
	return records, nil
}

// AllNotes returns every stored note, newest first.
func (s *Store) AllNotes(ctx context.Context) ([]Note, error) {
	var records []Note
	if err := s.db.WithContext(ctx).Order(orderNewestFirst).Find(&records).Error; err != nil {
		s.logError(opAllNotes, reasonQueryFailed, err)
		return nil, newStoreError(opAllNotes, reasonQueryFailed, err)
	}
	return records, nil
}

// AddNote appends a note for phoneNumber. Blank text is not rejected here.
func (s *Store) AddNote(ctx context.Context, phoneNumber PhoneNumber, text string) (Note, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddNote, reasonIDFailed, err)
		return Note{}, newStoreError(opAddNote, reasonIDFailed, err)
	}
	note := Note{
		ID:              id,
		PhoneNumber:     phoneNumber.String(),
		Text:            text,
		CreatedAtMillis: s.nowMillis(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opAddNote, reasonInsertFailed, err, zap.String("phone_number", phoneNumber.String()))
		return Note{}, newStoreError(opAddNote, reasonInsertFailed, err)
	}
	s.publish(realtime.TopicNotes, realtime.EventNoteAdded, note.PhoneNumber, note.ID)
	return note, nil
}

// UpdateNote replaces the text of an existing note, keeping its id and
// creation time. A missing id is a no-op reported through ok.
func (s *Store) UpdateNote(ctx context.Context, noteID NoteID, text string) (note Note, ok bool, err error) {
	release := s.locks.Lock(noteLockKey(noteID))
	defer release()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Note
		if err := tx.Where(queryID, noteID.String()).Limit(1).Find(&existing).Error; err != nil {
			return newStoreError(opUpdateNote, reasonQueryFailed, err)
		}
		if len(existing) == 0 {
			return nil
		}
		if err := tx.Model(&Note{}).Where(queryID, noteID.String()).Update("text", text).Error; err != nil {
			return newStoreError(opUpdateNote, reasonUpdateFailed, err)
		}
		note = existing[0]
		note.Text = text
		ok = true
		return nil
	})
	if txErr != nil {
		s.logError(opUpdateNote, reasonUpdateFailed, txErr, zap.String("note_id", noteID.String()))
		return Note{}, false, txErr
	}
	if !ok {
		s.logger.Debug("note update skipped", zap.String("note_id", noteID.String()))
		return Note{}, false, nil
	}
	s.publish(realtime.TopicNotes, realtime.EventNoteUpdated, note.PhoneNumber, note.ID)
	return note, true, nil
}

// DeleteNote removes a note. A missing id is a no-op reported through the bool.
func (s *Store) DeleteNote(ctx context.Context, noteID NoteID) (bool, error) {
	release := s.locks.Lock(noteLockKey(noteID))
	defer release()

	var deleted Note
	found := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Note
		if err := tx.Where(queryID, noteID.String()).Limit(1).Find(&existing).Error; err != nil {
			return newStoreError(opDeleteNote, reasonQueryFailed, err)
		}
		if len(existing) == 0 {
			return nil
		}
		if err := tx.Where(queryID, noteID.String()).Delete(&Note{}).Error; err != nil {
			return newStoreError(opDeleteNote, reasonDeleteFailed, err)
		}
		deleted = existing[0]
		found = true
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteNote, reasonDeleteFailed, txErr, zap.String("note_id", noteID.String()))
		return false, txErr
	}
	if !found {
		s.logger.Debug("note delete skipped", zap.String("note_id", noteID.String()))
		return false, nil
	}
	s.publish(realtime.TopicNotes, realtime.EventNoteDeleted, deleted.PhoneNumber, deleted.ID)
	return true, nil
}

// ListTags returns every tag record for phoneNumber, newest first.
func (s *Store) ListTags(ctx context.Context, phoneNumber PhoneNumber) ([]Tag, error) {
	var records []Tag
	if err := s.db.WithContext(ctx).
		Where(queryPhoneNumber, phoneNumber.String()).
		Order(orderNewestFirst).
		Find(&records).Error; err != nil {
		s.logError(opListTags, reasonQueryFailed, err, zap.String("phone_number", phoneNumber.String()))
		return nil, newStoreError(opListTags, reasonQueryFailed, err)
	}
	return records, nil
}

// CurrentTag returns the most recently inserted tag still present for phoneNumber.
func (s *Store) CurrentTag(ctx context.Context, phoneNumber PhoneNumber) (Tag, bool, error) {
	var records []Tag
	if err := s.db.WithContext(ctx).
		Where(queryPhoneNumber, phoneNumber.String()).
		Order(orderNewestFirst).
		Limit(1).
		Find(&records).Error; err != nil {
		s.logError(opListTags, reasonQueryFailed, err, zap.String("phone_number", phoneNumber.String()))
		return Tag{}, false, newStoreError(opListTags, reasonQueryFailed, err)
	}
	if len(records) == 0 {
		return Tag{}, false, nil
	}
	return records[0], true, nil
}

// AllTags returns every tag record, newest first.
func (s *Store) AllTags(ctx context.Context) ([]Tag, error) {
	var records []Tag
	if err := s.db.WithContext(ctx).Order(orderNewestFirst).Find(&records).Error; err != nil {
		s.logError(opAllTags, reasonQueryFailed, err)
		return nil, newStoreError(opAllTags, reasonQueryFailed, err)
	}
	return records, nil
}

// SetTag clears every tag for phoneNumber and inserts label in a single transaction.
func (s *Store) SetTag(ctx context.Context, phoneNumber PhoneNumber, label string) (Tag, error) {
	release := s.locks.Lock(tagLockKey(phoneNumber))
	defer release()

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSetTag, reasonIDFailed, err)
		return Tag{}, newStoreError(opSetTag, reasonIDFailed, err)
	}
	tag := Tag{
		ID:              id,
		PhoneNumber:     phoneNumber.String(),
		Label:           label,
		CreatedAtMillis: s.nowMillis(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryPhoneNumber, phoneNumber.String()).Delete(&Tag{}).Error; err != nil {
			return newStoreError(opSetTag, reasonDeleteFailed, err)
		}
		if err := tx.Create(&tag).Error; err != nil {
			return newStoreError(opSetTag, reasonInsertFailed, err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSetTag, "transaction_failed", txErr, zap.String("phone_number", phoneNumber.String()))
		return Tag{}, txErr
	}
	s.publish(realtime.TopicTags, realtime.EventTagSet, tag.PhoneNumber, tag.ID)
	return tag, nil
}

// ClearTag deletes every tag record for phoneNumber and returns how many were removed.
func (s *Store) ClearTag(ctx context.Context, phoneNumber PhoneNumber) (int64, error) {
	release := s.locks.Lock(tagLockKey(phoneNumber))
	defer release()

	result := s.db.WithContext(ctx).Where(queryPhoneNumber, phoneNumber.String()).Delete(&Tag{})
	if result.Error != nil {
		s.logError(opClearTag, reasonDeleteFailed, result.Error, zap.String("phone_number", phoneNumber.String()))
		return 0, newStoreError(opClearTag, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected > 0 {
		s.publish(realtime.TopicTags, realtime.EventTagCleared, phoneNumber.String())
	}
	return result.RowsAffected, nil
}

// DistinctTagLabels returns the set of labels across all tag records, sorted.
func (s *Store) DistinctTagLabels(ctx context.Context) ([]string, error) {
	var labels []string
	if err := s.db.WithContext(ctx).
		Model(&Tag{}).
		Distinct("label").
		Order("label ASC").
		Pluck("label", &labels).Error; err != nil {
		s.logError(opDistinctTagLabels, reasonQueryFailed, err)
		return nil, newStoreError(opDistinctTagLabels, reasonQueryFailed, err)
	}
	return labels, nil
}

func (s *Store) nowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

func (s *Store) publish(topic, kind, phoneNumber string, ids ...string) {
	s.dispatcher.Publish(realtime.Event{
		Topic:       topic,
		Kind:        kind,
		PhoneNumber: phoneNumber,
		IDs:         ids,
		Timestamp:   s.clock().UTC(),
	})
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes store error", attrs...)
}
