// Package syncengine keeps one per-day note consistent between the local durable store, the
// remote authoritative record and the realtime change feed.
package syncengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Harinder441/daily-notes-ai/internal/history"
	"github.com/Harinder441/daily-notes-ai/internal/localstore"
	"github.com/Harinder441/daily-notes-ai/internal/netstatus"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

const (
	// DefaultDebounce is the quiescence window before a remote save is issued.
	DefaultDebounce = 1500 * time.Millisecond

	rolloverCheckInterval = time.Minute
)

var (
	// ErrStopped is returned by calls made after the event loop exited.
	ErrStopped = errors.New("syncengine: orchestrator stopped")

	errAlreadyRunning = errors.New("syncengine: orchestrator already running")
	errMissingDrafts  = errors.New("syncengine: draft store is required")
	errMissingHistory = errors.New("syncengine: history log is required")
	errMissingRemote  = errors.New("syncengine: remote client is required")
	errMissingNetwork = errors.New("syncengine: network signal is required")
	errMissingUserID  = errors.New("syncengine: user id is required")
)

// DraftStore is the device-local persistence used by the engine.
type DraftStore interface {
	PutDraft(ctx context.Context, day notes.DayKey, content string, editedAt time.Time) error
	GetDraft(ctx context.Context, day notes.DayKey) (localstore.Draft, error)
}

// HistoryLog archives superseded drafts.
type HistoryLog interface {
	Append(ctx context.Context, entry history.Entry) (history.Entry, error)
}

// Remote reads and writes the authoritative record of the signed-in user.
type Remote interface {
	Fetch(ctx context.Context, day notes.DayKey) (notes.Record, bool, error)
	Upsert(ctx context.Context, day notes.DayKey, content string, updatedAt time.Time) (notes.Record, error)
}

// Feed delivers remote change events for the signed-in user.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan notes.ChangeEvent, func())
}

// State is the user-visible sync status.
type State struct {
	IsOnline          bool
	IsSaving          bool
	IsFetching        bool
	HasUnsavedChanges bool
	LastSyncTime      *time.Time
	DayKey            notes.DayKey
}

// Config wires an Orchestrator. Feed is optional.
type Config struct {
	UserID   notes.UserID
	Drafts   DraftStore
	History  HistoryLog
	Remote   Remote
	Feed     Feed
	Network  netstatus.Signal
	Clock    func() time.Time
	Debounce time.Duration
	Logger   *zap.Logger
	// ShutdownFlushTimeout bounds the final save attempted on teardown while changes are
	// unsaved. Zero disables it.
	ShutdownFlushTimeout time.Duration
	// OnDocument is called from the event loop whenever the document changes for a reason
	// other than a local edit: hydration, an adopted remote change, a restore or a new day.
	OnDocument func(day notes.DayKey, content string)
	// OnState is called from the event loop after every state change.
	OnState func(State)
}

// Orchestrator owns the sync state machine. All mutable state is confined to the goroutine
// running Run; accessors read a snapshot.
type Orchestrator struct {
	userID               notes.UserID
	drafts               DraftStore
	history              HistoryLog
	remote               Remote
	feed                 Feed
	network              netstatus.Signal
	clock                func() time.Time
	logger               *zap.Logger
	shutdownFlushTimeout time.Duration
	onDocument           func(notes.DayKey, string)
	onState              func(State)

	edits    chan editRequest
	restores chan restoreRequest
	saves    chan saveResult
	fetches  chan fetchResult
	running  atomic.Bool
	stopped  chan struct{}

	snapshotMu sync.RWMutex
	snapshot   State
	document   string

	// Loop-owned state.
	debounce      *debouncer
	day           notes.DayKey
	online        bool
	dirty         bool
	saving        bool
	flushQueued   bool
	lastLocalEdit time.Time
	lastSync      *time.Time
	hydratedDay   notes.DayKey
	fetching      bool
	content       string
}

type editRequest struct {
	text  string
	reply chan error
}

type restoreRequest struct {
	entry history.Entry
	reply chan error
}

type saveResult struct {
	day       notes.DayKey
	updatedAt time.Time
	err       error
}

type fetchResult struct {
	day    notes.DayKey
	record notes.Record
	found  bool
	err    error
}

// NewOrchestrator validates the configuration and builds an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.UserID == "":
		return nil, errMissingUserID
	case cfg.Drafts == nil:
		return nil, errMissingDrafts
	case cfg.History == nil:
		return nil, errMissingHistory
	case cfg.Remote == nil:
		return nil, errMissingRemote
	case cfg.Network == nil:
		return nil, errMissingNetwork
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	window := cfg.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		userID:               cfg.UserID,
		drafts:               cfg.Drafts,
		history:              cfg.History,
		remote:               cfg.Remote,
		feed:                 cfg.Feed,
		network:              cfg.Network,
		clock:                clock,
		logger:               logger,
		shutdownFlushTimeout: cfg.ShutdownFlushTimeout,
		onDocument:           cfg.OnDocument,
		onState:              cfg.OnState,
		edits:                make(chan editRequest),
		restores:             make(chan restoreRequest),
		saves:                make(chan saveResult),
		fetches:              make(chan fetchResult),
		stopped:              make(chan struct{}),
		debounce:             newDebouncer(window),
	}, nil
}

// Document returns the current text of today's note.
func (o *Orchestrator) Document() string {
	o.snapshotMu.RLock()
	defer o.snapshotMu.RUnlock()
	return o.document
}

// State returns the current sync status.
func (o *Orchestrator) State() State {
	o.snapshotMu.RLock()
	defer o.snapshotMu.RUnlock()
	state := o.snapshot
	if state.LastSyncTime != nil {
		copied := *state.LastSyncTime
		state.LastSyncTime = &copied
	}
	return state
}

// DayKey returns the day currently being edited.
func (o *Orchestrator) DayKey() notes.DayKey {
	o.snapshotMu.RLock()
	defer o.snapshotMu.RUnlock()
	return o.snapshot.DayKey
}

// HandleTextChange records a keystroke-level edit. The draft is durable in the local store
// when it returns nil; the remote save happens after the debounce window.
func (o *Orchestrator) HandleTextChange(ctx context.Context, text string) error {
	request := editRequest{text: text, reply: make(chan error, 1)}
	return o.submit(ctx, func() bool {
		select {
		case o.edits <- request:
			return true
		case <-ctx.Done():
		case <-o.stopped:
		}
		return false
	}, request.reply)
}

// Restore replaces today's document with a history entry. The current version is archived
// first and the restored text is saved immediately.
func (o *Orchestrator) Restore(ctx context.Context, entry history.Entry) error {
	request := restoreRequest{entry: entry, reply: make(chan error, 1)}
	return o.submit(ctx, func() bool {
		select {
		case o.restores <- request:
			return true
		case <-ctx.Done():
		case <-o.stopped:
		}
		return false
	}, request.reply)
}

func (o *Orchestrator) submit(ctx context.Context, send func() bool, reply chan error) error {
	if !send() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loads today's draft and processes events until ctx is done. It returns an error only
// when the local store cannot be read at startup.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(o.stopped)
	defer o.debounce.Stop()

	networkEvents, stopNetwork := o.network.Subscribe(ctx)
	defer stopNetwork()

	var feedEvents <-chan notes.ChangeEvent
	if o.feed != nil {
		events, stopFeed := o.feed.Subscribe(ctx)
		defer stopFeed()
		feedEvents = events
	}

	o.online = o.network.Online()
	if err := o.loadDay(ctx, o.today()); err != nil {
		return err
	}
	o.maybeHydrate(ctx)

	rollover := time.NewTicker(rolloverCheckInterval)
	defer rollover.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdownFlush(ctx)
			return nil

		case request := <-o.edits:
			o.checkRollover(ctx)
			request.reply <- o.applyEdit(ctx, request.text)

		case request := <-o.restores:
			o.checkRollover(ctx)
			request.reply <- o.applyRestore(ctx, request.entry)

		case <-o.debounce.C:
			o.debounce.fired()
			o.checkRollover(ctx)
			o.flush(ctx, "debounce")

		case result := <-o.saves:
			o.handleSaveResult(ctx, result)

		case result := <-o.fetches:
			o.handleFetchResult(ctx, result)

		case event, open := <-feedEvents:
			if !open {
				feedEvents = nil
				continue
			}
			o.checkRollover(ctx)
			o.handleRemoteChange(ctx, event)

		case online := <-networkEvents:
			o.handleConnectivity(ctx, online)

		case <-rollover.C:
			o.checkRollover(ctx)
		}
	}
}

// now returns the clock truncated to the millisecond precision kept by the server.
func (o *Orchestrator) now() time.Time {
	return o.clock().UTC().Truncate(time.Millisecond)
}

func (o *Orchestrator) today() notes.DayKey {
	return notes.DayKeyFor(o.clock())
}

func (o *Orchestrator) loadDay(ctx context.Context, day notes.DayKey) error {
	draft, err := o.drafts.GetDraft(ctx, day)
	if err != nil {
		o.logger.Error("failed to load local draft", zap.String("day_key", day.String()), zap.Error(err))
		return err
	}
	o.day = day
	o.content = draft.Content
	o.lastLocalEdit = draft.LastEditAt
	o.dirty = false
	o.flushQueued = false
	o.debounce.Stop()
	o.publish()
	o.notifyDocument()
	return nil
}

func (o *Orchestrator) checkRollover(ctx context.Context) {
	today := o.today()
	if today == o.day {
		return
	}
	o.logger.Info("day rolled over", zap.String("from", o.day.String()), zap.String("to", today.String()))
	if o.dirty {
		o.flush(ctx, "rollover")
	}
	if err := o.loadDay(ctx, today); err != nil {
		return
	}
	o.maybeHydrate(ctx)
}

func (o *Orchestrator) applyEdit(ctx context.Context, text string) error {
	editedAt := o.now()
	if err := o.drafts.PutDraft(ctx, o.day, text, editedAt); err != nil {
		o.logger.Error("failed to persist local draft", zap.String("day_key", o.day.String()), zap.Error(err))
		return err
	}
	o.content = text
	o.lastLocalEdit = editedAt
	o.dirty = true
	o.debounce.Reset()
	o.publish()
	return nil
}

func (o *Orchestrator) applyRestore(ctx context.Context, entry history.Entry) error {
	archivedAt := o.now()
	if _, err := o.history.Append(ctx, history.Entry{
		Content:   o.content,
		DayKey:    o.day,
		Timestamp: archivedAt,
		UserID:    o.userID,
	}); err != nil {
		o.logger.Error("failed to archive draft before restore", zap.Error(err))
		return err
	}
	if err := o.applyEdit(ctx, entry.Content); err != nil {
		return err
	}
	o.debounce.Stop()
	o.notifyDocument()
	o.flush(ctx, "restore")
	return nil
}

// flush issues a remote save of the current local draft. Saves never overlap: a flush
// requested while one is in flight runs when it completes.
func (o *Orchestrator) flush(ctx context.Context, reason string) {
	if !o.dirty {
		return
	}
	if !o.online {
		o.logger.Debug("save deferred while offline", zap.String("reason", reason))
		return
	}
	if o.saving {
		o.flushQueued = true
		return
	}

	draft, err := o.drafts.GetDraft(ctx, o.day)
	if err != nil {
		o.logger.Error("failed to read local draft for save", zap.Error(err))
		return
	}
	updatedAt := draft.LastEditAt
	if updatedAt.IsZero() {
		updatedAt = o.now()
	}

	o.saving = true
	o.publish()

	day := o.day
	saveCtx := context.WithoutCancel(ctx)
	go func() {
		_, err := o.remote.Upsert(saveCtx, day, draft.Content, updatedAt)
		select {
		case o.saves <- saveResult{day: day, updatedAt: updatedAt, err: err}:
		case <-o.stopped:
		}
	}()
	o.logger.Debug("remote save issued", zap.String("reason", reason), zap.String("day_key", day.String()))
}

func (o *Orchestrator) handleSaveResult(ctx context.Context, result saveResult) {
	o.saving = false
	switch {
	case result.err != nil:
		o.logger.Warn("remote save failed", zap.String("day_key", result.day.String()), zap.Error(result.err))
	case result.day == o.day && !result.updatedAt.Before(o.lastLocalEdit):
		o.dirty = false
		o.setLastSync(result.updatedAt)
	default:
		o.setLastSync(result.updatedAt)
	}
	o.publish()

	if o.flushQueued {
		o.flushQueued = false
		o.flush(ctx, "queued")
	}
}

func (o *Orchestrator) handleConnectivity(ctx context.Context, online bool) {
	if o.online == online {
		return
	}
	o.online = online
	o.publish()
	if !online {
		return
	}
	o.maybeHydrate(ctx)
	if o.dirty {
		o.debounce.Stop()
		o.flush(ctx, "reconnect")
	}
}

// maybeHydrate fetches today's server record once per day while online.
func (o *Orchestrator) maybeHydrate(ctx context.Context) {
	if !o.online || o.fetching || o.hydratedDay == o.day {
		return
	}
	o.fetching = true
	o.publish()
	day := o.day
	go func() {
		record, found, err := o.remote.Fetch(ctx, day)
		select {
		case o.fetches <- fetchResult{day: day, record: record, found: found, err: err}:
		case <-o.stopped:
		}
	}()
}

func (o *Orchestrator) handleFetchResult(ctx context.Context, result fetchResult) {
	o.fetching = false
	defer o.publish()
	if result.day != o.day {
		o.maybeHydrate(ctx)
		return
	}
	if result.err != nil {
		o.logger.Warn("initial fetch failed; using local draft", zap.Error(result.err))
		return
	}
	o.hydratedDay = result.day

	draft, err := o.drafts.GetDraft(ctx, o.day)
	if err != nil {
		o.logger.Error("failed to read local draft", zap.Error(err))
		return
	}
	if !result.found {
		if draft.Present && draft.Content != "" && !o.knownSynced(draft) {
			o.dirty = true
			o.publish()
			o.flush(ctx, "hydrate")
		}
		return
	}

	event := notes.ChangeEvent{
		Type:            notes.ChangeTypeUpdate,
		DayKey:          result.day,
		Content:         result.record.Content,
		UpdatedAtMillis: result.record.UpdatedAt.UnixMilli(),
	}
	if o.mergeRemote(ctx, draft, event, "hydrate") {
		return
	}
	if draft.Present && result.record.UpdatedAt.Before(draft.LastEditAt) && !o.knownSynced(draft) {
		o.dirty = true
		o.publish()
		o.flush(ctx, "hydrate")
	}
}

func (o *Orchestrator) handleRemoteChange(ctx context.Context, event notes.ChangeEvent) {
	if event.DayKey != o.day {
		o.logger.Debug("ignoring change for another day", zap.String("day_key", event.DayKey.String()))
		return
	}
	draft, err := o.drafts.GetDraft(ctx, o.day)
	if err != nil {
		o.logger.Error("failed to read local draft for merge", zap.Error(err))
		return
	}
	o.mergeRemote(ctx, draft, event, "realtime")
}

// mergeRemote adopts the remote content when the merge rule allows it. The superseded local
// draft is archived first; when archiving fails the draft is left untouched.
func (o *Orchestrator) mergeRemote(ctx context.Context, draft localstore.Draft, event notes.ChangeEvent, source string) bool {
	decision := decideMerge(draft, event)
	if !decision.adopt {
		o.logger.Debug("remote change rejected",
			zap.String("source", source),
			zap.String("reason", decision.reason),
			zap.String("day_key", event.DayKey.String()))
		return false
	}

	if draft.Present {
		if _, err := o.history.Append(ctx, history.Entry{
			Content:   draft.Content,
			DayKey:    draft.DayKey,
			Timestamp: draft.LastEditAt,
			UserID:    o.userID,
		}); err != nil {
			o.logger.Error("failed to archive local draft; remote change not applied", zap.Error(err))
			return false
		}
	}

	updatedAt := event.UpdatedAt()
	if err := o.drafts.PutDraft(ctx, o.day, event.Content, updatedAt); err != nil {
		o.logger.Error("failed to persist remote change", zap.Error(err))
		return false
	}
	o.content = event.Content
	o.lastLocalEdit = updatedAt
	o.dirty = false
	o.debounce.Stop()
	o.setLastSync(updatedAt)
	o.publish()
	o.notifyDocument()
	o.logger.Info("remote change adopted", zap.String("source", source), zap.String("day_key", event.DayKey.String()))
	return true
}

// shutdownFlush makes one bounded, synchronous attempt to save unsaved changes on teardown.
func (o *Orchestrator) shutdownFlush(ctx context.Context) {
	if !o.dirty || !o.online || o.shutdownFlushTimeout <= 0 {
		if o.dirty {
			o.logger.Warn("stopping with unsaved changes", zap.String("day_key", o.day.String()))
		}
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.shutdownFlushTimeout)
	defer cancel()
	draft, err := o.drafts.GetDraft(flushCtx, o.day)
	if err != nil || !draft.Present {
		return
	}
	updatedAt := draft.LastEditAt
	if updatedAt.IsZero() {
		updatedAt = o.now()
	}
	if _, err := o.remote.Upsert(flushCtx, o.day, draft.Content, updatedAt); err != nil {
		o.logger.Warn("final save failed; changes remain in the local store", zap.Error(err))
		return
	}
	o.dirty = false
	o.setLastSync(updatedAt)
	o.publish()
}

// knownSynced reports whether the draft was confirmed by a save or an adopted remote change
// during this session, which makes an older fetch result stale.
func (o *Orchestrator) knownSynced(draft localstore.Draft) bool {
	return o.lastSync != nil && !o.lastSync.Before(draft.LastEditAt)
}

func (o *Orchestrator) setLastSync(at time.Time) {
	stamp := at
	o.lastSync = &stamp
}

func (o *Orchestrator) publish() {
	state := State{
		IsOnline:          o.online,
		IsSaving:          o.saving,
		IsFetching:        o.fetching,
		HasUnsavedChanges: o.dirty,
		DayKey:            o.day,
	}
	if o.lastSync != nil {
		stamp := *o.lastSync
		state.LastSyncTime = &stamp
	}
	o.snapshotMu.Lock()
	o.snapshot = state
	o.document = o.content
	o.snapshotMu.Unlock()
	if o.onState != nil {
		o.onState(state)
	}
}

func (o *Orchestrator) notifyDocument() {
	if o.onDocument != nil {
		o.onDocument(o.day, o.content)
	}
}
