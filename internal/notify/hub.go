// Package notify fans out full-collection snapshots to subscribers. A publish
// loads the current collection from the Source and hands it to every subscriber
// of that collection. Snapshots of one collection carry strictly increasing
// versions; a subscriber that falls behind only ever receives the newest one.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
	"library-circulation/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrHubClosed = errors.New("notification hub closed")

// Source loads a collection. Repositories satisfy it through SourceFunc adapters.
type Source interface {
	Load(ctx context.Context, c domain.Collection) (*Snapshot, error)
}

type Snapshot struct {
	Collection   domain.Collection    `json:"collection"`
	Version      uint64               `json:"version"`
	PublishedAt  time.Time            `json:"published_at"`
	Books        []domain.Book        `json:"books,omitempty"`
	Users        []domain.User        `json:"users,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
}

// snapshotJSON is the wire form of Snapshot. Only the slice of the snapshot's
// collection is set, so an empty collection still encodes as an empty array.
type snapshotJSON struct {
	Collection   domain.Collection     `json:"collection"`
	Version      uint64                `json:"version"`
	PublishedAt  time.Time             `json:"published_at"`
	Books        *[]domain.Book        `json:"books,omitempty"`
	Users        *[]domain.User        `json:"users,omitempty"`
	Transactions *[]domain.Transaction `json:"transactions,omitempty"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{Collection: s.Collection, Version: s.Version, PublishedAt: s.PublishedAt}
	switch s.Collection {
	case domain.CollectionBooks:
		books := orEmpty(s.Books)
		out.Books = &books
	case domain.CollectionUsers:
		users := orEmpty(s.Users)
		out.Users = &users
	case domain.CollectionTransactions:
		txns := orEmpty(s.Transactions)
		out.Transactions = &txns
	}
	return json.Marshal(out)
}

func orEmpty[T any](records []T) []T {
	if records == nil {
		return []T{}
	}
	return records
}

type Hub struct {
	source  Source
	metrics metrics.Collector
	now     func() time.Time

	mu     sync.Mutex
	topics map[domain.Collection]*topic
	closed bool
}

type topic struct {
	// mu orders publishes and guards subs, version and latest
	mu      sync.Mutex
	version uint64
	latest  *Snapshot
	subs    map[*Subscription]struct{}
}

type Subscription struct {
	Collection domain.Collection

	ch        chan Snapshot
	hub       *Hub
	closeOnce sync.Once
	// stopWatch detaches the close-on-cancel hook from the subscriber's context
	stopWatch func() bool
}

type Option func(*Hub)

func WithMetrics(c metrics.Collector) Option {
	return func(h *Hub) { h.metrics = c }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func NewHub(source Source, opts ...Option) *Hub {
	h := &Hub{
		source:  source,
		metrics: metrics.Nop{},
		now:     time.Now,
		topics:  make(map[domain.Collection]*topic),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, c := range domain.Collections {
		h.topics[c] = &topic{subs: make(map[*Subscription]struct{})}
	}
	return h
}

func (h *Hub) topic(c domain.Collection) (*topic, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	t, ok := h.topics[c]
	if !ok {
		return nil, fmt.Errorf("%w: unknown collection %q", domain.ErrInvalidInput, c)
	}
	return t, nil
}

// Publish reloads each collection and delivers the snapshot to its subscribers.
// All collections are attempted; the errors are joined.
func (h *Hub) Publish(ctx context.Context, collections ...domain.Collection) error {
	var errs []error
	for _, c := range collections {
		if err := h.publish(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", c, err))
		}
	}
	return errors.Join(errs...)
}

// PublishAll republishes every collection.
func (h *Hub) PublishAll(ctx context.Context) error {
	return h.Publish(ctx, domain.Collections...)
}

func (h *Hub) publish(ctx context.Context, c domain.Collection) error {
	t, err := h.topic(c)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	snap, err := h.source.Load(ctx, c)
	if err != nil {
		return err
	}
	t.version++
	snap.Collection = c
	snap.Version = t.version
	snap.PublishedAt = h.now().UTC()
	t.latest = snap

	for sub := range t.subs {
		sub.deliver(*snap)
	}
	h.metrics.IncrementCounter(ctx, metrics.SnapshotsPublishedTotal, map[string]string{metrics.LabelTopic: string(c)})
	logger.Debug("Snapshot published", "collection", c, "version", snap.Version, "subscribers", len(t.subs))
	return nil
}

// Subscribe registers for snapshots of c. The current snapshot is delivered first,
// loading one if nothing was published yet. The subscription ends when ctx is done
// or Close is called; its channel is then closed.
func (h *Hub) Subscribe(ctx context.Context, c domain.Collection) (*Subscription, error) {
	t, err := h.topic(c)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{Collection: c, ch: make(chan Snapshot, 1), hub: h}

	t.mu.Lock()
	if t.latest == nil {
		snap, err := h.source.Load(ctx, c)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.version++
		snap.Collection = c
		snap.Version = t.version
		snap.PublishedAt = h.now().UTC()
		t.latest = snap
	}
	sub.deliver(*t.latest)
	t.subs[sub] = struct{}{}
	sub.stopWatch = context.AfterFunc(ctx, sub.Close)
	t.mu.Unlock()
	return sub, nil
}

// C delivers snapshots in version order.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		t := s.hub.topics[s.Collection]
		s.hub.mu.Unlock()

		t.mu.Lock()
		// set by Subscribe under the same lock
		if s.stopWatch != nil {
			s.stopWatch()
		}
		delete(t.subs, s)
		close(s.ch)
		t.mu.Unlock()
	})
}

// deliver replaces an undelivered snapshot with snap. Callers hold the topic lock,
// so after the drain the buffered send cannot block.
func (s *Subscription) deliver(snap Snapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

// Subscribers returns the number of live subscriptions to c.
func (h *Hub) Subscribers(c domain.Collection) int {
	t, err := h.topic(c)
	if err != nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends every subscription. Later publishes and subscribes fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	topics := make([]*topic, 0, len(h.topics))
	for _, t := range h.topics {
		topics = append(topics, t)
	}
	h.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		subs := make([]*Subscription, 0, len(t.subs))
		for sub := range t.subs {
			subs = append(subs, sub)
		}
		t.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
	}
}
