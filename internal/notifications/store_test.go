package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu          sync.Mutex
	scope       string
	records     []string
	unread      int
	unreadErr   error
	markErr     error
	onMark      func()
	markCalls   []string
	listCalls   int
	markAllErr  error
	markAllHits int
}

func (f *fakeAPI) ResolveScope(context.Context) string {
	if f.scope == "" {
		return "users"
	}
	return f.scope
}

func (f *fakeAPI) ListNotifications(_ context.Context, _ string, _, _ int) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]json.RawMessage, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, json.RawMessage(r))
	}
	return out, nil
}

func (f *fakeAPI) UnreadCount(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, f.unreadErr
}

func (f *fakeAPI) MarkNotificationRead(_ context.Context, _ string, id string) error {
	if f.onMark != nil {
		f.onMark()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, id)
	return f.markErr
}

func (f *fakeAPI) MarkAllNotificationsRead(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAllHits++
	return f.markAllErr
}

func notification(id string, minute int, read bool) string {
	ts := time.Date(2026, 3, 1, 10, minute, 0, 0, time.UTC).Format(time.RFC3339)
	return fmt.Sprintf(`{"id":%q,"title":"t-%s","message":"m","read":%t,"createdAt":%q}`, id, id, read, ts)
}

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestDuplicateIDsAcrossSourcesAppearOnce(t *testing.T) {
	api := &fakeAPI{
		records: []string{notification("a", 1, false), notification("b", 2, false)},
		unread:  2,
	}
	store, err := NewStore(api)
	require.NoError(t, err)

	require.NoError(t, store.HandlePush([]byte(notification("b", 2, false))))
	require.NoError(t, store.Load(context.Background()))
	require.NoError(t, store.HandlePush([]byte(notification("a", 1, false))))

	require.Equal(t, []string{"b", "a"}, ids(store.Items()))
	require.Equal(t, 2, store.Unread())
}

func TestOptimisticMarkReadAndRefetchOnFailure(t *testing.T) {
	api := &fakeAPI{
		records: []string{notification("a", 1, false), notification("b", 2, false), notification("c", 3, false)},
		unread:  3,
	}
	store, err := NewStore(api)
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))
	require.Equal(t, 3, store.Unread())

	var unreadDuringCall int
	api.onMark = func() { unreadDuringCall = store.Unread() }
	api.markErr = errors.New("backend down")

	err = store.MarkRead(context.Background(), "b")
	require.Error(t, err)
	require.Equal(t, 2, unreadDuringCall, "counter drops before the server answers")

	require.Equal(t, 3, store.Unread(), "refetch restores the server state")
	for _, record := range store.Items() {
		require.False(t, record.Read)
	}
	require.Equal(t, 2, api.listCalls)
}

func TestMarkReadSuccessKeepsOptimisticState(t *testing.T) {
	api := &fakeAPI{records: []string{notification("a", 1, false)}, unread: 1}
	store, err := NewStore(api)
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))

	require.NoError(t, store.MarkRead(context.Background(), "a"))
	require.Equal(t, 0, store.Unread())
	require.True(t, store.Items()[0].Read)
	require.Equal(t, []string{"a"}, api.markCalls)
	require.Equal(t, 1, api.listCalls)

	// Marking again never drives the counter negative.
	api.unread = 0
	require.NoError(t, store.MarkRead(context.Background(), "a"))
	require.Equal(t, 0, store.Unread())
}

func TestListIsCappedAndSortedNewestFirst(t *testing.T) {
	api := &fakeAPI{}
	for i := 0; i < 15; i++ {
		api.records = append(api.records, notification(fmt.Sprintf("n%02d", i), i, true))
	}
	store, err := NewStore(api, WithLimit(10))
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))

	items := store.Items()
	require.Len(t, items, 10)
	require.Equal(t, "n14", items[0].ID)
	require.Equal(t, "n05", items[9].ID)
	for i := 1; i < len(items); i++ {
		require.False(t, items[i].CreatedAt.After(items[i-1].CreatedAt))
	}
}

func TestUnreadFallsBackToLoadedRecords(t *testing.T) {
	api := &fakeAPI{
		records:   []string{notification("a", 1, false), notification("b", 2, true)},
		unreadErr: errors.New("no counter"),
	}
	store, err := NewStore(api)
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))
	require.Equal(t, 1, store.Unread())

	require.Error(t, store.RefreshUnread(context.Background()))
	require.Equal(t, 1, store.Unread())
}

func TestRefreshUnreadPublishesChanges(t *testing.T) {
	api := &fakeAPI{unread: 4}
	store, err := NewStore(api)
	require.NoError(t, err)

	var events []Event
	unsubscribe := store.Subscribe(func(e Event) { events = append(events, e) })

	require.NoError(t, store.RefreshUnread(context.Background()))
	require.NoError(t, store.RefreshUnread(context.Background()))
	require.Len(t, events, 1)
	require.Equal(t, EventUnread, events[0].Kind)
	require.Equal(t, 4, events[0].Unread)

	unsubscribe()
	api.unread = 1
	require.NoError(t, store.RefreshUnread(context.Background()))
	require.Len(t, events, 1)
}

func TestPushUpdatesUnreadAndMarkAllRead(t *testing.T) {
	api := &fakeAPI{}
	store, err := NewStore(api)
	require.NoError(t, err)

	require.NoError(t, store.HandlePush([]byte(notification("x", 5, false))))
	require.NoError(t, store.HandlePush([]byte(notification("y", 6, false))))
	require.Equal(t, 2, store.Unread())

	require.NoError(t, store.HandlePush([]byte(notification("x", 5, true))))
	require.Equal(t, 1, store.Unread())

	require.Error(t, store.HandlePush([]byte(`[]`)))

	require.NoError(t, store.MarkAllRead(context.Background()))
	require.Equal(t, 0, store.Unread())
	require.Equal(t, 1, api.markAllHits)

	store.Reset()
	require.Empty(t, store.Items())
}

func TestIdenticalPushesWithoutIDOrTimestampAreKeptApart(t *testing.T) {
	store, err := NewStore(&fakeAPI{})
	require.NoError(t, err)

	body := []byte(`{"title":"Flash sale","message":"Ends tonight"}`)
	require.NoError(t, store.HandlePush(body))
	require.NoError(t, store.HandlePush(body))

	require.Len(t, store.Items(), 2)
	require.Equal(t, 2, store.Unread())
}
