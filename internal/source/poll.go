package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/backoff"
	"github.com/meridian/finrag/internal/models"
)

// ErrSourceUnavailable marks a transient fetch failure. Polling continues
// with backoff; the event sequence never terminates on it.
var ErrSourceUnavailable = fmt.Errorf("source unavailable")

// feedItem is one entry of a polled JSON feed. Every field beyond id and body
// is carried into record metadata as-is.
type feedItem struct {
	ID   string            `json:"id"`
	Body string            `json:"body"`
	Meta map[string]string `json:"meta,omitempty"`
}

// PollSource polls an HTTP feed on an interval and emits upserts for new or
// changed items and deletes for items that disappeared from the feed. Change
// detection uses the feed's ETag when the server supplies one, falling back
// to a per-item content hash.
type PollSource struct {
	name     string
	kind     models.SourceKind
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger

	events   chan Event
	lastETag string
	seen     map[string]string // item id -> content hash
	done     chan struct{}
	stopOnce sync.Once

	sendMu  sync.Mutex
	stopped bool
}

// PollOption configures a PollSource.
type PollOption func(*PollSource)

// WithPollLogger sets a logger for debug output.
func WithPollLogger(l *zap.Logger) PollOption {
	return func(s *PollSource) { s.logger = l }
}

// WithHTTPClient overrides the HTTP client (timeouts, transport).
func WithHTTPClient(c *http.Client) PollOption {
	return func(s *PollSource) { s.client = c }
}

// NewPollSource creates a polling source for the given feed URL.
func NewPollSource(name string, kind models.SourceKind, url string, interval time.Duration, opts ...PollOption) *PollSource {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &PollSource{
		name:     name,
		kind:     kind,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 15 * time.Second},
		events:   make(chan Event, 64),
		seen:     make(map[string]string),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the configured source name.
func (s *PollSource) Name() string { return s.name }

// Kind returns the configured source kind.
func (s *PollSource) Kind() models.SourceKind { return s.kind }

// Events returns the event channel.
func (s *PollSource) Events() <-chan Event { return s.events }

// Start polls immediately and then on every interval tick until ctx is
// cancelled or Stop is called.
func (s *PollSource) Start(ctx context.Context) error {
	go s.run(ctx)
	return nil
}

func (s *PollSource) run(ctx context.Context) {
	s.pollOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce fetches the feed with bounded retries and diffs it against the
// last seen state. A fetch that stays unavailable is logged and skipped; the
// next tick tries again.
func (s *PollSource) pollOnce(ctx context.Context) {
	var items []feedItem
	var unchanged bool
	err := backoff.Retry(ctx, func() error {
		var opErr error
		items, unchanged, opErr = s.fetch(ctx)
		return opErr
	}, 3, 500*time.Millisecond)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("poll failed, will retry next interval",
				zap.String("source", s.name), zap.Error(err))
		}
		return
	}
	if unchanged {
		return
	}
	s.diff(items)
}

// fetch retrieves the feed. Returns unchanged=true on HTTP 304.
func (s *PollSource) fetch(ctx context.Context) ([]feedItem, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, false, backoff.Permanent(err)
	}
	if s.lastETag != "" {
		req.Header.Set("If-None-Match", s.lastETag)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified {
		return nil, true, nil
	}
	if resp.StatusCode >= 500 {
		return nil, false, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, backoff.Permanent(fmt.Errorf("feed %s: status %d", s.url, resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	var items []feedItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, false, backoff.Permanent(fmt.Errorf("feed %s: decode: %w", s.url, err))
	}
	s.lastETag = resp.Header.Get("ETag")
	return items, false, nil
}

// diff emits upserts for new or changed items and deletes for vanished ones.
func (s *PollSource) diff(items []feedItem) {
	now := time.Now()
	current := make(map[string]string, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		h := itemHash(it)
		current[it.ID] = h
		if prev, ok := s.seen[it.ID]; ok && prev == h {
			continue
		}
		meta := models.Metadata{}
		for _, k := range sortedKeys(it.Meta) {
			meta.Set(k, it.Meta[k])
		}
		s.emit(Event{
			ID:         it.ID,
			Kind:       models.EventUpsert,
			Item:       &RawItem{ID: it.ID, Body: it.Body, Meta: meta},
			ObservedAt: now,
		})
	}
	for id := range s.seen {
		if _, ok := current[id]; !ok {
			s.emit(Event{ID: id, Kind: models.EventDelete, ObservedAt: now})
		}
	}
	s.seen = current
}

func (s *PollSource) emit(ev Event) {
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

// Stop halts polling and closes the event channel. Safe to call more than once.
func (s *PollSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		s.stopped = true
		s.sendMu.Unlock()
		close(s.events)
	})
}

// itemHash fingerprints an item's content for change detection.
func itemHash(it feedItem) string {
	h := sha256.New()
	h.Write([]byte(it.Body))
	for _, k := range sortedKeys(it.Meta) {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(it.Meta[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
