package coordinator

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceWatcher_PublishesOnFileWrite(t *testing.T) {
	root := t.TempDir()

	var mu sync.Mutex
	var seen []string
	w := startWorkspaceWatcher(root, func(path string) {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
	})
	require.NotNil(t, w)
	defer w.stop()

	target := filepath.Join(root, "new_file.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWorkspaceWatcher_SkipsGitDir(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))

	w := startWorkspaceWatcher(root, func(string) {})
	require.NotNil(t, w)
	defer w.stop()

	w.mu.Lock()
	_, watched := w.watched[gitDir]
	w.mu.Unlock()
	assert.False(t, watched)
}

func TestWorkspaceWatcher_StopIsNilSafe(t *testing.T) {
	var w *workspaceWatcher
	assert.NotPanics(t, func() { w.stop() })
}
