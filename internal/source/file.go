package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/extract"
	"github.com/meridian/finrag/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// FileSource watches a directory tree and emits an upsert with the full
// current file content whenever a file is created or modified, and a delete
// when it is removed. Events are debounced per path so editors that write in
// bursts produce a single upsert.
type FileSource struct {
	name      string
	root      string
	recursive bool
	extractor *extract.Extractor
	debounce  time.Duration
	logger    *zap.Logger

	events      chan Event
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once

	// sendMu serializes emitters so Stop can wait for in-flight sends
	// before closing the events channel. No partial event is ever delivered.
	sendMu  sync.Mutex
	stopped bool
}

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithFileLogger sets a logger for debug output.
func WithFileLogger(l *zap.Logger) FileOption {
	return func(s *FileSource) { s.logger = l }
}

// WithDebounce overrides the per-path debounce interval.
func WithDebounce(d time.Duration) FileOption {
	return func(s *FileSource) { s.debounce = d }
}

// NewFileSource creates a filesystem source over root.
func NewFileSource(name, root string, recursive bool, opts ...FileOption) *FileSource {
	s := &FileSource{
		name:        name,
		root:        filepath.Clean(root),
		recursive:   recursive,
		extractor:   extract.NewExtractor(),
		debounce:    defaultDebounce,
		events:      make(chan Event, 64),
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the configured source name.
func (s *FileSource) Name() string { return s.name }

// Kind returns models.SourceDocument.
func (s *FileSource) Kind() models.SourceKind { return models.SourceDocument }

// Events returns the event channel.
func (s *FileSource) Events() <-chan Event { return s.events }

// Start begins watching. Existing files under root are emitted as upserts
// before live events flow.
func (s *FileSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.watcher = watcher
	s.started = true
	if err := s.addRootLocked(); err != nil {
		_ = watcher.Close()
		s.watcher = nil
		s.started = false
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	go s.run(ctx)
	go s.syncExisting()
	return nil
}

func (s *FileSource) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && s.logger != nil {
				s.logger.Debug("file source watch error", zap.String("source", s.name), zap.Error(err))
			}
		}
	}
}

func (s *FileSource) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			s.handleNewDirectory(path)
			return
		}
		if s.extractor.Supported(filepath.Ext(path)) {
			s.debounceUpsert(path)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		s.cancelDebounce(path)
		if s.extractor.Supported(filepath.Ext(path)) {
			s.emit(Event{ID: FileRecordID(path), Kind: models.EventDelete, ObservedAt: time.Now()})
		}
	}
}

func (s *FileSource) handleNewDirectory(dir string) {
	s.mu.Lock()
	watcher := s.watcher
	recursive := s.recursive
	s.mu.Unlock()
	if watcher == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = watcher.Add(path)
		} else if s.extractor.Supported(filepath.Ext(path)) {
			s.debounceUpsert(path)
		}
		return nil
	})
}

func (s *FileSource) debounceUpsert(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.debounceMap[path]; ok {
		t.Stop()
	}
	s.debounceMap[path] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.debounceMap, path)
		s.mu.Unlock()
		s.emitUpsert(path)
	})
}

func (s *FileSource) cancelDebounce(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.debounceMap[path]; ok {
		t.Stop()
		delete(s.debounceMap, path)
	}
}

// emitUpsert reads the file, extracts its text, and emits an upsert event
// carrying the full current content.
func (s *FileSource) emitUpsert(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	res, err := s.extractor.Extract(abs)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("file source extract failed", zap.String("source", s.name), zap.String("path", abs), zap.Error(err))
		}
		return
	}
	meta := models.Metadata{}
	meta.Set("path", abs)
	meta.Set("mime", res.Mime)
	s.emit(Event{
		ID:   FileRecordID(abs),
		Kind: models.EventUpsert,
		Item: &RawItem{
			ID:   FileRecordID(abs),
			Body: res.Text,
			Meta: meta,
		},
		ObservedAt: time.Now(),
	})
}

func (s *FileSource) emit(ev Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *FileSource) addRootLocked() error {
	if _, err := os.Stat(s.root); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(s.root, 0755); err != nil {
				return err
			}
		} else {
			return err
		}
	}
	if !s.recursive {
		return s.watcher.Add(s.root)
	}
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return s.watcher.Add(path)
		}
		return nil
	})
}

// syncExisting emits upserts for files already present when the watcher started.
func (s *FileSource) syncExisting() {
	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !s.recursive && filepath.Dir(path) != s.root {
			return nil
		}
		if s.extractor.Supported(filepath.Ext(path)) {
			s.emitUpsert(path)
		}
		return nil
	})
}

// Stop halts watching and closes the event channel. Safe to call more than once.
func (s *FileSource) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		for path, t := range s.debounceMap {
			t.Stop()
			delete(s.debounceMap, path)
		}
		if s.watcher != nil {
			_ = s.watcher.Close()
			s.watcher = nil
		}
		s.started = false
		s.mu.Unlock()
		close(s.done)
		s.sendMu.Lock()
		s.stopped = true
		s.sendMu.Unlock()
		close(s.events)
	})
}

// FileRecordID returns a stable record ID for a file path. The same path
// always yields the same ID so re-indexing updates the same record.
func FileRecordID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return "file:" + hex.EncodeToString(sum[:])
}
