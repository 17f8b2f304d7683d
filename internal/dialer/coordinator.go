package dialer

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
	"github.com/MarcoPoloResearchLab/superdialer/internal/notes"
	"github.com/MarcoPoloResearchLab/superdialer/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBlankNote rejects notes whose text is empty after trimming.
	ErrBlankNote = errors.New("dialer: note text is blank")
	// ErrBlankTag rejects tags whose label is empty after trimming.
	ErrBlankTag = errors.New("dialer: tag label is blank")

	errMissingStore  = errors.New("dialer: local store is required")
	errMissingReader = errors.New("dialer: history reader is required")
)

// LocalStore is the subset of the note/tag store the coordinator depends on.
type LocalStore interface {
	ListNotes(ctx context.Context, phoneNumber notes.PhoneNumber) ([]notes.Note, error)
	AddNote(ctx context.Context, phoneNumber notes.PhoneNumber, text string) (notes.Note, error)
	UpdateNote(ctx context.Context, noteID notes.NoteID, text string) (notes.Note, bool, error)
	DeleteNote(ctx context.Context, noteID notes.NoteID) (bool, error)
	ListTags(ctx context.Context, phoneNumber notes.PhoneNumber) ([]notes.Tag, error)
	CurrentTag(ctx context.Context, phoneNumber notes.PhoneNumber) (notes.Tag, bool, error)
	SetTag(ctx context.Context, phoneNumber notes.PhoneNumber, label string) (notes.Tag, error)
	ClearTag(ctx context.Context, phoneNumber notes.PhoneNumber) (int64, error)
	DistinctTagLabels(ctx context.Context) ([]string, error)
	WatchAllNotes(ctx context.Context) <-chan []notes.Note
	WatchAllTags(ctx context.Context) <-chan []notes.Tag
	WatchTagLabels(ctx context.Context) <-chan []string
}

// SnapshotCache persists the last successful merge for cold starts. Loads
// report absence or corruption as an error; callers treat any error as empty.
type SnapshotCache interface {
	LoadCallHistory(ctx context.Context) ([]history.CallRecord, error)
	StoreCallHistory(ctx context.Context, records []history.CallRecord) error
	LoadContacts(ctx context.Context) (map[string]string, error)
	StoreContacts(ctx context.Context, contacts map[string]string) error
	LoadNoteCounts(ctx context.Context) (map[string]int, error)
	StoreNoteCounts(ctx context.Context, counts map[string]int) error
}

// CoordinatorConfig describes the coordinator's dependencies. Cache is optional.
type CoordinatorConfig struct {
	Store      LocalStore
	Reader     history.Reader
	Cache      SnapshotCache
	Dispatcher *realtime.Dispatcher
	Logger     *zap.Logger
}

// Coordinator merges the call log, contacts and local annotations into a
// published ViewState.
//
// Refresh calls are not coordinated with each other or with live updates: the
// last writer of each field wins.
type Coordinator struct {
	store      LocalStore
	reader     history.Reader
	cache      SnapshotCache
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger

	mu    sync.RWMutex
	state ViewState
	// noteCountsLive is set once Run has folded a note snapshot. From then on
	// cached counts are stale and never replace the live ones.
	noteCountsLive bool
}

// NewCoordinator constructs a Coordinator with an empty view state.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Reader == nil {
		return nil, errMissingReader
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = realtime.NewDispatcher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:      cfg.Store,
		reader:     cfg.Reader,
		cache:      cfg.Cache,
		dispatcher: dispatcher,
		logger:     logger,
		state:      emptyViewState(),
	}, nil
}

// State returns a copy of the currently published view state.
func (c *Coordinator) State() ViewState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// Subscribe streams the latest view state after every published revision.
// Intermediate revisions may be skipped by slow consumers.
func (c *Coordinator) Subscribe(ctx context.Context) (<-chan ViewState, func()) {
	events, cleanup := c.dispatcher.Subscribe(ctx, realtime.TopicView)
	out := make(chan ViewState, 1)
	go func() {
		defer close(out)
		for range events {
			select {
			case out <- c.State():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cleanup
}

// Refresh publishes the cached snapshot, if any, before returning, then reads
// the registries in the background and publishes the fresh merge. The returned
// channel closes once the background phase has finished. When ctx ends before
// that, the fresh result is discarded rather than published.
func (c *Coordinator) Refresh(ctx context.Context) <-chan struct{} {
	c.restoreSnapshot(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.refreshFromRegistries(ctx)
	}()
	return done
}

func (c *Coordinator) restoreSnapshot(ctx context.Context) {
	if c.cache == nil {
		return
	}
	cachedContacts, contactsErr := c.cache.LoadContacts(ctx)
	cachedCounts, countsErr := c.cache.LoadNoteCounts(ctx)
	cachedHistory, historyErr := c.cache.LoadCallHistory(ctx)
	c.logger.Debug("cache restore",
		zap.Bool("contacts_hit", contactsErr == nil),
		zap.Bool("note_counts_hit", countsErr == nil),
		zap.Bool("call_history_hit", historyErr == nil))

	if len(cachedContacts) == 0 && len(cachedCounts) == 0 && len(cachedHistory) == 0 {
		return
	}
	c.update(func(state *ViewState) {
		if len(cachedContacts) > 0 {
			state.ContactNames = cachedContacts
		}
		if len(cachedCounts) > 0 && !c.noteCountsLive {
			state.NoteCounts = cachedCounts
		}
		if len(cachedHistory) > 0 {
			state.CallHistory = cachedHistory
		}
	})
}

func (c *Coordinator) refreshFromRegistries(ctx context.Context) {
	ioCtx := context.WithoutCancel(ctx)

	var freshHistory []history.CallRecord
	var freshContacts map[string]string
	group, groupCtx := errgroup.WithContext(ioCtx)
	group.Go(func() error {
		freshHistory = c.reader.ReadCallHistory(groupCtx)
		return nil
	})
	group.Go(func() error {
		freshContacts = c.reader.ReadContacts(groupCtx)
		return nil
	})
	_ = group.Wait()
	if freshHistory == nil {
		freshHistory = []history.CallRecord{}
	}
	if freshContacts == nil {
		freshContacts = map[string]string{}
	}

	tagMap := make(map[string]string)
	for _, number := range history.DistinctNumbers(freshHistory) {
		phoneNumber, err := notes.NewPhoneNumber(number)
		if err != nil {
			continue
		}
		tag, ok, err := c.store.CurrentTag(ioCtx, phoneNumber)
		if err != nil {
			c.logger.Warn("tag lookup failed during refresh", zap.String("phone_number", number), zap.Error(err))
			continue
		}
		if ok {
			tagMap[number] = tag.Label
		}
	}

	if ctx.Err() != nil {
		c.logger.Debug("refresh result discarded", zap.Error(ctx.Err()))
		return
	}

	var noteCounts map[string]int
	c.update(func(state *ViewState) {
		state.CallHistory = freshHistory
		state.ContactNames = freshContacts
		state.TagsByNumber = tagMap
		if c.noteCountsLive {
			noteCounts = state.NoteCounts
		}
	})
	c.writeSnapshot(ioCtx, freshHistory, freshContacts, noteCounts)
}

func (c *Coordinator) writeSnapshot(ctx context.Context, records []history.CallRecord, contacts map[string]string, counts map[string]int) {
	if c.cache == nil {
		return
	}
	if err := c.cache.StoreCallHistory(ctx, records); err != nil {
		c.logger.Warn("call history cache write failed", zap.Error(err))
	}
	if err := c.cache.StoreContacts(ctx, contacts); err != nil {
		c.logger.Warn("contacts cache write failed", zap.Error(err))
	}
	if counts == nil {
		return
	}
	if err := c.cache.StoreNoteCounts(ctx, counts); err != nil {
		c.logger.Warn("note counts cache write failed", zap.Error(err))
	}
}

// Run holds live subscriptions to the store and folds every change into the
// note counts, per-number tags and tag labels. It returns when ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	noteStream := c.store.WatchAllNotes(ctx)
	tagStream := c.store.WatchAllTags(ctx)
	labelStream := c.store.WatchTagLabels(ctx)

	for noteStream != nil || tagStream != nil || labelStream != nil {
		select {
		case <-ctx.Done():
			return nil
		case records, ok := <-noteStream:
			if !ok {
				noteStream = nil
				continue
			}
			counts := countNotesByNumber(records)
			c.update(func(state *ViewState) {
				state.NoteCounts = counts
				c.noteCountsLive = true
			})
		case records, ok := <-tagStream:
			if !ok {
				tagStream = nil
				continue
			}
			tags := currentTagsByNumber(records)
			c.update(func(state *ViewState) {
				state.TagsByNumber = tags
			})
		case labels, ok := <-labelStream:
			if !ok {
				labelStream = nil
				continue
			}
			sorted := sortedLabels(labels)
			c.update(func(state *ViewState) {
				state.TagLabels = sorted
			})
		}
	}
	return nil
}

// Notes returns the notes of number, newest first.
func (c *Coordinator) Notes(ctx context.Context, number string) ([]notes.Note, error) {
	phoneNumber, err := notes.NewPhoneNumber(number)
	if err != nil {
		return nil, err
	}
	return c.store.ListNotes(ctx, phoneNumber)
}

// AddNote stores a note for number. Blank text is rejected.
func (c *Coordinator) AddNote(ctx context.Context, number, text string) (notes.Note, error) {
	phoneNumber, err := notes.NewPhoneNumber(number)
	if err != nil {
		return notes.Note{}, err
	}
	if strings.TrimSpace(text) == "" {
		return notes.Note{}, ErrBlankNote
	}
	return c.store.AddNote(ctx, phoneNumber, text)
}

// UpdateNote replaces the text of a note. A missing note reports ok=false.
func (c *Coordinator) UpdateNote(ctx context.Context, id, text string) (notes.Note, bool, error) {
	noteID, err := notes.NewNoteID(id)
	if err != nil {
		return notes.Note{}, false, err
	}
	if strings.TrimSpace(text) == "" {
		return notes.Note{}, false, ErrBlankNote
	}
	return c.store.UpdateNote(ctx, noteID, text)
}

// DeleteNote removes a note. A missing note reports false.
func (c *Coordinator) DeleteNote(ctx context.Context, id string) (bool, error) {
	noteID, err := notes.NewNoteID(id)
	if err != nil {
		return false, err
	}
	return c.store.DeleteNote(ctx, noteID)
}

// Tags returns every tag record of number, newest first.
func (c *Coordinator) Tags(ctx context.Context, number string) ([]notes.Tag, error) {
	phoneNumber, err := notes.NewPhoneNumber(number)
	if err != nil {
		return nil, err
	}
	return c.store.ListTags(ctx, phoneNumber)
}

// TagLabels returns the distinct labels currently stored.
func (c *Coordinator) TagLabels(ctx context.Context) ([]string, error) {
	return c.store.DistinctTagLabels(ctx)
}

// SetTag makes label the only tag of number and reflects it in the view at once.
func (c *Coordinator) SetTag(ctx context.Context, number, label string) (notes.Tag, error) {
	phoneNumber, err := notes.NewPhoneNumber(number)
	if err != nil {
		return notes.Tag{}, err
	}
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return notes.Tag{}, ErrBlankTag
	}
	tag, err := c.store.SetTag(ctx, phoneNumber, trimmed)
	if err != nil {
		return notes.Tag{}, err
	}
	c.update(func(state *ViewState) {
		state.TagsByNumber[tag.PhoneNumber] = tag.Label
	})
	return tag, nil
}

// ClearTag removes every tag of number and reflects it in the view at once.
func (c *Coordinator) ClearTag(ctx context.Context, number string) error {
	phoneNumber, err := notes.NewPhoneNumber(number)
	if err != nil {
		return err
	}
	if _, err := c.store.ClearTag(ctx, phoneNumber); err != nil {
		return err
	}
	c.update(func(state *ViewState) {
		delete(state.TagsByNumber, phoneNumber.String())
	})
	return nil
}

func (c *Coordinator) update(mutate func(state *ViewState)) {
	c.mu.Lock()
	next := c.state.clone()
	mutate(&next)
	next.Revision = c.state.Revision + 1
	c.state = next
	revision := next.Revision
	c.mu.Unlock()

	c.dispatcher.Publish(realtime.Event{
		Topic:    realtime.TopicView,
		Kind:     realtime.EventViewRevision,
		Revision: revision,
	})
}
