package channels

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/store"
)

type fakeChannels struct {
	rows map[string]*store.Channel
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{rows: make(map[string]*store.Channel)}
}

func (f *fakeChannels) GetByID(ctx context.Context, id string) (*store.Channel, error) {
	ch, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeChannels) GetByCalendar(ctx context.Context, calendarID int64) (*store.Channel, error) {
	for _, ch := range f.rows {
		if ch.CalendarID == calendarID {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeChannels) Create(ctx context.Context, ch store.Channel) (*store.Channel, error) {
	f.rows[ch.ID] = &ch
	cp := ch
	return &cp, nil
}

func (f *fakeChannels) Delete(ctx context.Context, id string) error {
	if _, ok := f.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeChannels) ListExpiringBefore(ctx context.Context, t time.Time) ([]store.Channel, error) {
	var out []store.Channel
	for _, ch := range f.rows {
		if ch.ExpiresAt.Before(t) {
			out = append(out, *ch)
		}
	}
	return out, nil
}

type stubCalendars struct {
	store.CalendarRepository
	cal *store.Calendar
}

func (s *stubCalendars) GetByID(ctx context.Context, id int64) (*store.Calendar, error) {
	if s.cal == nil || s.cal.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *s.cal
	return &cp, nil
}

type stubTokens struct{}

func (stubTokens) GetValidToken(ctx context.Context, accountID int64) (string, error) {
	return "tok", nil
}

type fakeWatchAPI struct {
	watched  []provider.WatchRequest
	stopped  []string
	stopErr  error
	granted  time.Time
	resource string
}

func (f *fakeWatchAPI) Watch(ctx context.Context, token, calendarID string, req provider.WatchRequest) (*provider.WatchResponse, error) {
	f.watched = append(f.watched, req)
	return &provider.WatchResponse{ResourceID: f.resource, Expiration: f.granted}, nil
}

func (f *fakeWatchAPI) StopChannel(ctx context.Context, token, channelID, resourceID string) error {
	f.stopped = append(f.stopped, channelID)
	return f.stopErr
}

func newTestManager(chans *fakeChannels, api *fakeWatchAPI) *Manager {
	cal := &store.Calendar{ID: 1, AccountID: 10, RemoteID: "remote-cal"}
	return NewManager(chans, &stubCalendars{cal: cal}, stubTokens{}, api, "https://hearth.example/webhooks/calendar")
}

func TestCreatePersistsGrantedExpiration(t *testing.T) {
	chans := newFakeChannels()
	granted := time.Now().Add(30 * time.Hour).Truncate(time.Millisecond)
	api := &fakeWatchAPI{granted: granted, resource: "res-1"}

	if err := newTestManager(chans, api).Create(context.Background(), 1); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(chans.rows) != 1 {
		t.Fatalf("channel rows = %d, want 1", len(chans.rows))
	}
	var ch *store.Channel
	for _, c := range chans.rows {
		ch = c
	}
	if ch.CalendarID != 1 || ch.ResourceID != "res-1" {
		t.Errorf("channel = %+v", ch)
	}
	if !ch.ExpiresAt.Equal(granted) {
		t.Errorf("ExpiresAt = %v, want granted %v", ch.ExpiresAt, granted)
	}
	if ch.Token == "" || ch.Token != api.watched[0].Token {
		t.Error("verification token must be generated and sent to the provider")
	}
	if api.watched[0].Address != "https://hearth.example/webhooks/calendar" {
		t.Errorf("watch address = %q", api.watched[0].Address)
	}
}

func TestCreateReplacesExistingChannel(t *testing.T) {
	chans := newFakeChannels()
	api := &fakeWatchAPI{granted: time.Now().Add(24 * time.Hour), resource: "res-1"}
	m := newTestManager(chans, api)

	if err := m.Create(context.Background(), 1); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	var firstID string
	for id := range chans.rows {
		firstID = id
	}

	if err := m.Create(context.Background(), 1); err != nil {
		t.Fatalf("second Create: %v", err)
	}

	if len(chans.rows) != 1 {
		t.Fatalf("channel rows = %d, want exactly one per calendar", len(chans.rows))
	}
	if _, ok := chans.rows[firstID]; ok {
		t.Error("old channel row must be removed")
	}
	if len(api.stopped) != 1 || api.stopped[0] != firstID {
		t.Errorf("stopped = %v, want old channel %s stopped at the provider", api.stopped, firstID)
	}
}

func TestStopToleratesGoneSubscription(t *testing.T) {
	chans := newFakeChannels()
	_, _ = chans.Create(context.Background(), store.Channel{
		ID: "chan-1", CalendarID: 1, ResourceID: "res-1", Token: "secret",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	api := &fakeWatchAPI{stopErr: &provider.Error{StatusCode: http.StatusNotFound, Message: "channel not found"}}

	if err := newTestManager(chans, api).Stop(context.Background(), 1); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(chans.rows) != 0 {
		t.Error("local row must be removed even when the provider subscription is gone")
	}
}

func TestStopWithoutChannelIsNoop(t *testing.T) {
	chans := newFakeChannels()
	api := &fakeWatchAPI{}
	if err := newTestManager(chans, api).Stop(context.Background(), 1); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(api.stopped) != 0 {
		t.Error("no provider call expected without a stored channel")
	}
}

func TestNeedingRenewalWindow(t *testing.T) {
	chans := newFakeChannels()
	now := time.Now()
	_, _ = chans.Create(context.Background(), store.Channel{ID: "soon", CalendarID: 1, ExpiresAt: now.Add(30 * time.Minute)})
	_, _ = chans.Create(context.Background(), store.Channel{ID: "later", CalendarID: 2, ExpiresAt: now.Add(48 * time.Hour)})

	m := newTestManager(chans, &fakeWatchAPI{})
	due, err := m.NeedingRenewal(context.Background())
	if err != nil {
		t.Fatalf("NeedingRenewal: %v", err)
	}
	if len(due) != 1 || due[0].ID != "soon" {
		t.Errorf("due = %v, want only the channel inside the renewal buffer", due)
	}
}

func TestVerifyToken(t *testing.T) {
	chans := newFakeChannels()
	_, _ = chans.Create(context.Background(), store.Channel{
		ID: "chan-1", CalendarID: 7, ResourceID: "res-1", Token: "secret",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	m := newTestManager(chans, &fakeWatchAPI{})

	tests := []struct {
		name      string
		channelID string
		token     string
		wantCal   int64
		wantOK    bool
	}{
		{name: "valid", channelID: "chan-1", token: "secret", wantCal: 7, wantOK: true},
		{name: "wrong token", channelID: "chan-1", token: "forged"},
		{name: "unknown channel", channelID: "chan-9", token: "secret"},
		{name: "empty token", channelID: "chan-1", token: ""},
		{name: "empty channel id", channelID: "", token: "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal, ok := m.VerifyToken(context.Background(), tt.channelID, tt.token)
			if ok != tt.wantOK || cal != tt.wantCal {
				t.Errorf("VerifyToken() = (%d, %v), want (%d, %v)", cal, ok, tt.wantCal, tt.wantOK)
			}
		})
	}
}
