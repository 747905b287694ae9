package docfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []string
}

func (r *recorder) handle(_ context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, content)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changes...)
}

func startWatch(t *testing.T, mirror *Mirror, rec *recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mirror.Watch(ctx, rec.handle) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// fsnotify registers the watch asynchronously relative to this goroutine.
	time.Sleep(100 * time.Millisecond)
}

func TestNewMirrorValidatesPath(t *testing.T) {
	_, err := NewMirror("", nil)
	require.Error(t, err)

	_, err = NewMirror(filepath.Join(t.TempDir(), "missing", "today.md"), nil)
	require.Error(t, err)
}

func TestWriteReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "today.md")
	mirror, err := NewMirror(path, nil)
	require.NoError(t, err)

	require.NoError(t, mirror.Write("first"))
	require.NoError(t, mirror.Write("second"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(raw))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestWatchReportsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "today.md")
	mirror, err := NewMirror(path, nil)
	require.NoError(t, err)
	rec := &recorder{}
	startWatch(t, mirror, rec)

	require.NoError(t, os.WriteFile(path, []byte("typed in an editor"), 0o600))

	require.Eventually(t, func() bool {
		changes := rec.snapshot()
		return len(changes) > 0 && changes[len(changes)-1] == "typed in an editor"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchIgnoresOwnWritesAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "today.md")
	mirror, err := NewMirror(path, nil)
	require.NoError(t, err)
	rec := &recorder{}
	startWatch(t, mirror, rec)

	require.NoError(t, mirror.Write("from the server"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("unrelated"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("from the server!"), 0o600))

	require.Eventually(t, func() bool {
		changes := rec.snapshot()
		return len(changes) > 0 && changes[len(changes)-1] == "from the server!"
	}, 2*time.Second, 10*time.Millisecond)

	changes := rec.snapshot()
	assert.NotContains(t, changes, "from the server")
	assert.NotContains(t, changes, "unrelated")
}
