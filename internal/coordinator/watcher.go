package coordinator

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fl-sean03/agentgate/internal/core"
)

// workspaceWatcher emits EventFileChanged progress events for the
// workspace root while an agent iteration is in flight, so a dashboard
// gets live file activity instead of waiting for the next snapshot's
// diff stat (spec.md §3's file_changed event). It is best-effort: a
// watcher that fails to start or hits an internal error never fails the
// iteration, it just produces no events.
type workspaceWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	watched map[string]bool
}

// startWorkspaceWatcher recursively watches root (skipping .git) and
// publishes a debounced EventFileChanged via publish for every
// create/write/remove/rename seen. Returns nil if the watcher could not
// be created; callers should treat that as "no live file events this
// iteration" rather than an error.
func startWorkspaceWatcher(root string, publish func(path string)) *workspaceWatcher {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	w := &workspaceWatcher{watcher: fw, done: make(chan struct{}), watched: make(map[string]bool)}
	w.addTree(root)

	w.wg.Add(1)
	go w.loop(publish)
	return w
}

func (w *workspaceWatcher) addTree(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, string(filepath.Separator)+".git") || filepath.Base(path) == ".git" {
			return filepath.SkipDir
		}
		w.add(path)
		return nil
	})
}

func (w *workspaceWatcher) add(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[path] {
		return
	}
	if err := w.watcher.Add(path); err == nil {
		w.watched[path] = true
	}
}

func (w *workspaceWatcher) loop(publish func(path string)) {
	defer w.wg.Done()
	var debounce *time.Timer
	pending := map[string]bool{}
	var mu sync.Mutex

	flush := func() {
		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = map[string]bool{}
		mu.Unlock()
		for _, p := range paths {
			publish(p)
		}
	}

	for {
		select {
		case <-w.done:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.add(ev.Name)
				}
			}
			mu.Lock()
			pending[ev.Name] = true
			mu.Unlock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(150*time.Millisecond, flush)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *workspaceWatcher) stop() {
	if w == nil {
		return
	}
	close(w.done)
	_ = w.watcher.Close()
	w.wg.Wait()
}

func (rt *runtimeState) publishFileChanged(path string) {
	ev := core.NewProgressEvent(core.EventFileChanged, rt.wo.ID, rt.run.ID, string(rt.run.ID))
	ev.FilePath = path
	rt.coord.publish(ev)
}
