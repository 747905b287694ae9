package syncengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Harinder441/daily-notes-ai/internal/history"
	"github.com/Harinder441/daily-notes-ai/internal/localstore"
	"github.com/Harinder441/daily-notes-ai/internal/netstatus"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

const testUser notes.UserID = "user-1"

type upsertCall struct {
	Day       notes.DayKey
	Content   string
	UpdatedAt time.Time
	CalledAt  time.Time
}

type fakeRemote struct {
	mu          sync.Mutex
	calls       []upsertCall
	fetches     int
	upsertErr   error
	record      notes.Record
	found       bool
	fetchErr    error
	gate        chan struct{}
	inFlight    int
	maxInFlight int
}

func (f *fakeRemote) Fetch(context.Context, notes.DayKey) (notes.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.record, f.found, f.fetchErr
}

func (f *fakeRemote) Upsert(_ context.Context, day notes.DayKey, content string, updatedAt time.Time) (notes.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, upsertCall{Day: day, Content: content, UpdatedAt: updatedAt, CalledAt: time.Now()})
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	gate := f.gate
	err := f.upsertErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	if err != nil {
		return notes.Record{}, err
	}
	return notes.Record{DayKey: day, Content: content, UpdatedAt: updatedAt}, nil
}

func (f *fakeRemote) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeRemote) setUpsertErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertErr = err
}

func (f *fakeRemote) upserts() []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upsertCall(nil), f.calls...)
}

type fakeFeed struct {
	events chan notes.ChangeEvent
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan notes.ChangeEvent)}
}

func (f *fakeFeed) Subscribe(context.Context) (<-chan notes.ChangeEvent, func()) {
	return f.events, func() {}
}

// testClock is a settable clock starting at 2024-03-07 09:00 UTC.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type failingHistoryKV struct {
	*localstore.MemoryKV
}

func (failingHistoryKV) Put(context.Context, string, string) error {
	return errors.New("history storage unavailable")
}

// withLocalDraft stores a local draft without touching the fake server state.
func withLocalDraft(content string, editedAt time.Time) harnessOption {
	return func(_ *Config, h *harness) {
		if err := h.drafts.PutDraft(context.Background(), notes.DayKeyFor(editedAt), content, editedAt); err != nil {
			panic(err)
		}
	}
}

func withShutdownFlush(timeout time.Duration) harnessOption {
	return func(cfg *Config, _ *harness) { cfg.ShutdownFlushTimeout = timeout }
}

type harness struct {
	orchestrator *Orchestrator
	drafts       *localstore.DraftStore
	history      *history.Log
	remote       *fakeRemote
	feed         *fakeFeed
	network      *netstatus.ManualSignal
	clock        *testClock
	documents    chan string
	cancel       context.CancelFunc
	done         chan error
}

type harnessOption func(*Config, *harness)

func withDebounce(window time.Duration) harnessOption {
	return func(cfg *Config, _ *harness) { cfg.Debounce = window }
}

func withHistory(log *history.Log) harnessOption {
	return func(cfg *Config, h *harness) {
		cfg.History = log
		h.history = log
	}
}

func offline() harnessOption {
	return func(_ *Config, h *harness) { h.network.Set(false) }
}

func withRemote(remote *fakeRemote) harnessOption {
	return func(cfg *Config, h *harness) {
		cfg.Remote = remote
		h.remote = remote
	}
}

// withSeed stores a local draft that the server already holds, so start-up hydration leaves
// it untouched.
func withSeed(content string, editedAt time.Time) harnessOption {
	return func(_ *Config, h *harness) {
		day := notes.DayKeyFor(editedAt)
		if err := h.drafts.PutDraft(context.Background(), day, content, editedAt); err != nil {
			panic(err)
		}
		h.remote.record = notes.Record{UserID: testUser, DayKey: day, Content: content, UpdatedAt: editedAt}
		h.remote.found = true
	}
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	kv := localstore.NewMemoryKV()
	h := &harness{
		drafts:    localstore.NewDraftStore(kv),
		history:   history.NewLog(kv, history.DefaultLimit),
		remote:    &fakeRemote{},
		feed:      newFakeFeed(),
		network:   netstatus.NewManualSignal(true),
		clock:     newTestClock(),
		documents: make(chan string, 16),
		done:      make(chan error, 1),
	}
	cfg := Config{
		UserID:   testUser,
		Drafts:   h.drafts,
		History:  h.history,
		Remote:   h.remote,
		Feed:     h.feed,
		Network:  h.network,
		Clock:    h.clock.Now,
		Debounce: 50 * time.Millisecond,
		OnDocument: func(_ notes.DayKey, content string) {
			select {
			case h.documents <- content:
			default:
			}
		},
	}
	for _, option := range options {
		option(&cfg, h)
	}

	orchestrator, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	h.orchestrator = orchestrator

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- orchestrator.Run(ctx) }()
	t.Cleanup(h.stop)

	require.Eventually(t, func() bool {
		if orchestrator.DayKey() != "2024-03-07" {
			return false
		}
		if !h.network.Online() {
			return true
		}
		return h.remote.fetchCount() >= 1 && !orchestrator.State().IsFetching
	}, time.Second, time.Millisecond)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.orchestrator.stopped
}

func (h *harness) draftFor(t *testing.T, day notes.DayKey) localstore.Draft {
	t.Helper()
	draft, err := h.drafts.GetDraft(context.Background(), day)
	require.NoError(t, err)
	return draft
}

func (h *harness) edit(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.orchestrator.HandleTextChange(context.Background(), text))
}

// push delivers a change event and waits until the loop has consumed it.
func (h *harness) push(t *testing.T, event notes.ChangeEvent) {
	t.Helper()
	select {
	case h.feed.events <- event:
	case <-time.After(time.Second):
		t.Fatal("event loop did not accept the change event")
	}
	// The loop handles one event at a time, so once it accepts a second event for an
	// unrelated day the first one has been fully applied.
	select {
	case h.feed.events <- notes.ChangeEvent{Type: notes.ChangeTypeUpdate, DayKey: "1999-01-01"}:
	case <-time.After(time.Second):
		t.Fatal("event loop did not accept the barrier event")
	}
}

func (h *harness) draft(t *testing.T) localstore.Draft {
	t.Helper()
	draft, err := h.drafts.GetDraft(context.Background(), "2024-03-07")
	require.NoError(t, err)
	return draft
}

func (h *harness) historyEntries(t *testing.T) []history.Entry {
	t.Helper()
	entries, err := h.history.List(context.Background())
	require.NoError(t, err)
	return entries
}
