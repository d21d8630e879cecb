// Package filewatch ingests documents dropped into an inbox directory.
package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/academia-ai/tutor/internal/domain/knowledge"
)

const defaultDebounce = 250 * time.Millisecond

// Ingester stores one file in the knowledge store.
type Ingester interface {
	IngestFile(ctx context.Context, in knowledge.IngestFileInput) knowledge.IngestResult
}

// Options configures a Watcher. SessionID is required.
type Options struct {
	Dir       string
	SessionID string
	Debounce  time.Duration // quiet period after the last write, default 250ms
	Logger    *slog.Logger
	// OnResult, when set, is called after every ingestion attempt.
	OnResult func(path string, res knowledge.IngestResult)
}

// Watcher ingests every supported file that appears or changes in Dir into
// the session SessionID. Files already present at start are ingested once.
type Watcher struct {
	opts   Options
	ingest Ingester
	logger *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	handled map[string]fileStamp
	wg      sync.WaitGroup
}

type fileStamp struct {
	size    int64
	modTime int64
}

func New(ingest Ingester, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		opts:    opts,
		ingest:  ingest,
		logger:  logger,
		timers:  make(map[string]*time.Timer),
		handled: make(map[string]fileStamp),
	}
}

// Run watches until ctx is cancelled. Pending ingestions finish before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	if w.opts.SessionID == "" {
		return fmt.Errorf("filewatch: session id is required")
	}
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("filewatch: create inbox: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filewatch: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("filewatch: watch %s: %w", w.opts.Dir, err)
	}

	w.logger.Info("filewatch: watching inbox", "dir", w.opts.Dir, "session_id", w.opts.SessionID)
	w.scanExisting(ctx)

	defer w.wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !supported(ev.Name) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filewatch: watcher error", "error", err)
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.logger.Warn("filewatch: scan inbox", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		w.schedule(ctx, filepath.Join(w.opts.Dir, e.Name()))
	}
}

// schedule (re)arms the debounce timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.opts.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.process(ctx, path)
		}
	})
	w.timers[path] = t
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime().UnixNano()}

	w.mu.Lock()
	prev, seen := w.handled[path]
	w.mu.Unlock()
	if seen && prev == stamp {
		return
	}

	res := w.ingest.IngestFile(ctx, knowledge.IngestFileInput{
		SessionID: w.opts.SessionID,
		Path:      path,
		FileName:  filepath.Base(path),
	})
	if res.OK() {
		w.mu.Lock()
		w.handled[path] = stamp
		w.mu.Unlock()
		w.logger.Info("filewatch: ingested", "file", res.FileName, "document_id", res.DocumentID, "chunks", res.ChunkCount)
	} else {
		w.logger.Warn("filewatch: ingest failed", "file", res.FileName, "error", res.Error)
	}
	if w.opts.OnResult != nil {
		w.opts.OnResult(path, res)
	}
}

// wait stops timers that have not fired and waits for running ingestions.
func (w *Watcher) wait() {
	w.mu.Lock()
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// supported skips hidden files, editor lock files and unknown extensions.
func supported(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	_, err := knowledge.KindFromName(base)
	return err == nil
}
