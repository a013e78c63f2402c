package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/marketlive/pkg/logger"
	"github.com/charlesng35/marketlive/pkg/metrics"
)

const (
	defaultListLimit = 10
	defaultFetchSize = 20
)

// ErrNotFound is returned when marking a notification the store has never seen and the
// backend rejects it.
var ErrNotFound = errors.New("notifications: not found")

// API is the backend surface the store synchronises with.
type API interface {
	ResolveScope(ctx context.Context) string
	ListNotifications(ctx context.Context, scope string, page, size int) ([]json.RawMessage, error)
	UnreadCount(ctx context.Context, scope string) (int, error)
	MarkNotificationRead(ctx context.Context, scope, id string) error
	MarkAllNotificationsRead(ctx context.Context, scope string) error
}

// Event kinds emitted to subscribers.
const (
	EventLoaded   = "notifications.loaded"
	EventReceived = "notifications.received"
	EventUpdated  = "notifications.updated"
	EventUnread   = "notifications.unread"
	EventCleared  = "notifications.cleared"
)

// Event describes a store change. Items is the full list after the change.
type Event struct {
	Kind   string   `json:"event"`
	Items  []Record `json:"items"`
	Unread int      `json:"unread"`
	Record *Record  `json:"record,omitempty"`
}

// Store reconciles REST history, unread polling and pushed records into one
// de-duplicated, newest-first list.
type Store struct {
	api       API
	limit     int
	fetchSize int
	now       func() time.Time
	log       *zap.Logger

	mu     sync.Mutex
	items  []Record
	unread int

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// Option customises the Store.
type Option func(*Store)

// WithLimit caps how many records are kept.
func WithLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithFetchSize sets the page size requested from the backend.
func WithFetchSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.fetchSize = size
		}
	}
}

// WithClock overrides the clock used for records without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs an empty Store.
func NewStore(api API, opts ...Option) (*Store, error) {
	if api == nil {
		return nil, errors.New("notifications: api is required")
	}
	s := &Store{
		api:       api,
		limit:     defaultListLimit,
		fetchSize: defaultFetchSize,
		now:       time.Now,
		log:       logger.WithModule("notifications"),
		subs:      make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetchSize < s.limit {
		s.fetchSize = s.limit
	}
	return s, nil
}

// Load fetches history and the unread counter, merging them into the current list.
// Server data wins over local state for the same id.
func (s *Store) Load(ctx context.Context) error {
	scope := s.api.ResolveScope(ctx)

	raw, err := s.api.ListNotifications(ctx, scope, 0, s.fetchSize)
	if err != nil {
		metrics.NotificationSyncs.WithLabelValues("history", "error").Inc()
		s.log.Warn("load notifications failed", zap.String("scope", scope), zap.Error(err))
		return err
	}

	records := s.decodeAll(raw)

	unread, countErr := s.api.UnreadCount(ctx, scope)
	if countErr != nil {
		s.log.Warn("unread count failed, counting loaded records", zap.Error(countErr))
		unread = 0
		for _, record := range records {
			if !record.Read {
				unread++
			}
		}
	}

	s.mu.Lock()
	s.items = s.merge(records, s.items)
	s.setUnreadLocked(unread)
	event := s.eventLocked(EventLoaded, nil)
	s.mu.Unlock()

	metrics.NotificationSyncs.WithLabelValues("history", "ok").Inc()
	s.publish(event)
	return nil
}

// RefreshUnread polls the unread counter only.
func (s *Store) RefreshUnread(ctx context.Context) error {
	scope := s.api.ResolveScope(ctx)
	unread, err := s.api.UnreadCount(ctx, scope)
	if err != nil {
		metrics.NotificationSyncs.WithLabelValues("poll", "error").Inc()
		s.log.Warn("poll unread count failed", zap.String("scope", scope), zap.Error(err))
		return err
	}

	s.mu.Lock()
	changed := unread != s.unread
	s.setUnreadLocked(unread)
	event := s.eventLocked(EventUnread, nil)
	s.mu.Unlock()

	metrics.NotificationSyncs.WithLabelValues("poll", "ok").Inc()
	if changed {
		s.publish(event)
	}
	return nil
}

// HandlePush merges a record delivered over the realtime transport.
func (s *Store) HandlePush(body []byte) error {
	record, err := Decode(body, s.now())
	if err != nil {
		metrics.NotificationSyncs.WithLabelValues("push", "error").Inc()
		s.log.Warn("discarding undecodable push", zap.Error(err))
		return err
	}

	s.mu.Lock()
	previous, existed := s.findLocked(record.ID)
	switch {
	case !existed && !record.Read:
		s.setUnreadLocked(s.unread + 1)
	case existed && previous.Read && !record.Read:
		s.setUnreadLocked(s.unread + 1)
	case existed && !previous.Read && record.Read:
		s.setUnreadLocked(s.unread - 1)
	}
	s.items = s.merge([]Record{record}, s.items)
	event := s.eventLocked(EventReceived, &record)
	s.mu.Unlock()

	metrics.NotificationSyncs.WithLabelValues("push", "ok").Inc()
	s.publish(event)
	return nil
}

// MarkRead flips the record locally and decrements the counter before confirming with the
// backend. If the backend call fails the whole state is refetched.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNotFound
	}

	s.mu.Lock()
	optimistic := false
	for i := range s.items {
		if s.items[i].ID == id && !s.items[i].Read {
			s.items[i].Read = true
			s.setUnreadLocked(s.unread - 1)
			optimistic = true
			break
		}
	}
	event := s.eventLocked(EventUpdated, nil)
	s.mu.Unlock()

	if optimistic {
		s.publish(event)
	}

	scope := s.api.ResolveScope(ctx)
	if err := s.api.MarkNotificationRead(ctx, scope, id); err != nil {
		metrics.NotificationSyncs.WithLabelValues("mark_read", "error").Inc()
		s.log.Warn("mark read failed, refetching", zap.String("id", id), zap.Error(err))
		if reloadErr := s.Load(ctx); reloadErr != nil {
			s.log.Warn("refetch after failed mark read also failed", zap.Error(reloadErr))
		}
		return err
	}

	metrics.NotificationSyncs.WithLabelValues("mark_read", "ok").Inc()
	if !optimistic {
		// Not held locally; the server counter is the only source of truth.
		return s.RefreshUnread(ctx)
	}
	return nil
}

// MarkAllRead marks everything read locally, then on the server; failure triggers a refetch.
func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.setUnreadLocked(0)
	event := s.eventLocked(EventUpdated, nil)
	s.mu.Unlock()
	s.publish(event)

	scope := s.api.ResolveScope(ctx)
	if err := s.api.MarkAllNotificationsRead(ctx, scope); err != nil {
		metrics.NotificationSyncs.WithLabelValues("mark_all_read", "error").Inc()
		s.log.Warn("mark all read failed, refetching", zap.Error(err))
		if reloadErr := s.Load(ctx); reloadErr != nil {
			s.log.Warn("refetch after failed mark all read also failed", zap.Error(reloadErr))
		}
		return err
	}
	metrics.NotificationSyncs.WithLabelValues("mark_all_read", "ok").Inc()
	return nil
}

// Reset drops all state, used when the session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.setUnreadLocked(0)
	event := s.eventLocked(EventCleared, nil)
	s.mu.Unlock()
	s.publish(event)
}

// Items returns a copy of the current list, newest first.
func (s *Store) Items() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.items...)
}

// Unread returns the unread counter.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Limit reports the list cap.
func (s *Store) Limit() int {
	return s.limit
}

// Subscribe registers fn for change events and returns a function that removes it.
func (s *Store) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(event Event) {
	s.subMu.RLock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

func (s *Store) decodeAll(raw []json.RawMessage) []Record {
	now := s.now()
	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		record, err := Decode(item, now)
		if err != nil {
			s.log.Warn("skipping undecodable notification", zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records
}

// merge unions incoming and existing by id with incoming taking precedence, orders
// newest first (stable on equal timestamps) and applies the cap.
func (s *Store) merge(incoming, existing []Record) []Record {
	seen := make(map[string]struct{}, len(incoming)+len(existing))
	merged := make([]Record, 0, len(incoming)+len(existing))
	for _, group := range [][]Record{incoming, existing} {
		for _, record := range group {
			if _, dup := seen[record.ID]; dup {
				continue
			}
			seen[record.ID] = struct{}{}
			merged = append(merged, record)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	if len(merged) > s.limit {
		merged = merged[:s.limit]
	}
	return merged
}

func (s *Store) findLocked(id string) (Record, bool) {
	for _, record := range s.items {
		if record.ID == id {
			return record, true
		}
	}
	return Record{}, false
}

// setUnreadLocked is the single place the counter changes; it never goes below zero.
func (s *Store) setUnreadLocked(n int) {
	if n < 0 {
		n = 0
	}
	s.unread = n
	metrics.NotificationsUnread.Set(float64(n))
}

func (s *Store) eventLocked(kind string, record *Record) Event {
	return Event{
		Kind:   kind,
		Items:  append([]Record(nil), s.items...),
		Unread: s.unread,
		Record: record,
	}
}
