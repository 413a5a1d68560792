// Package events is the query and editing layer over mirrored and manual
// events. Every read path applies the visibility filter; every write path
// enforces the calendar access role before anything is persisted or pushed.
package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/store"
	"github.com/hearthhq/hearth/internal/visibility"
)

// ErrReadOnlyCalendar rejects writes to events sourced from a calendar where
// the connected account holds reader access.
var ErrReadOnlyCalendar = errors.New("calendar is read-only for the connected account")

// TokenSource yields a valid bearer token for an account.
type TokenSource interface {
	GetValidToken(ctx context.Context, accountID int64) (string, error)
}

// ProviderAPI is the slice of the provider client used for write-through of
// linked events.
type ProviderAPI interface {
	CreateEvent(ctx context.Context, token, calendarID string, ev *provider.Event) (*provider.Event, error)
	UpdateEvent(ctx context.Context, token, calendarID, eventID string, ev *provider.Event) (*provider.Event, error)
	DeleteEvent(ctx context.Context, token, calendarID, eventID string) error
}

// View is the viewer-scoped projection of an event served to the presentation
// layer. IsHidden marks rows whose details were redacted.
type View struct {
	ID          int64     `json:"id"`
	FamilyID    int64     `json:"familyId"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Location    *string   `json:"location"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	AllDay      bool      `json:"allDay"`
	Color       *string   `json:"color,omitempty"`
	CalendarID  *int64    `json:"calendarId,omitempty"`
	SyncStatus  string    `json:"syncStatus"`
	IsHidden    bool      `json:"isHidden"`
}

// Service serves event reads and writes for the family.
type Service struct {
	events    store.EventRepository
	calendars store.CalendarRepository
	accounts  store.AccountRepository
	tokens    TokenSource
	api       ProviderAPI
}

// NewService wires the event service.
func NewService(events store.EventRepository, calendars store.CalendarRepository, accounts store.AccountRepository, tokens TokenSource, api ProviderAPI) *Service {
	return &Service{events: events, calendars: calendars, accounts: accounts, tokens: tokens, api: api}
}

// ListForFamily returns the family's events overlapping [from, to), with the
// visibility filter applied for the given viewer. A nil viewer is anonymous
// and sees every private calendar's events redacted.
func (s *Service) ListForFamily(ctx context.Context, familyID int64, from, to time.Time, viewerID *int64) ([]View, error) {
	rows, err := s.events.ListForFamily(ctx, familyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events for family %d: %w", familyID, err)
	}

	meta, err := s.privacyMeta(ctx, familyID)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(rows))
	for i := range rows {
		views = append(views, project(rows[i], meta, viewerID))
	}
	return views, nil
}

// GetByID returns one event with the visibility filter applied.
func (s *Service) GetByID(ctx context.Context, id int64, viewerID *int64) (*View, error) {
	ev, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	meta, err := s.privacyMeta(ctx, ev.FamilyID)
	if err != nil {
		return nil, err
	}
	v := project(*ev, meta, viewerID)
	return &v, nil
}

// Create stores a new event. Manual events (no calendar) are persisted
// directly. Events on a linked calendar are write-through: the row is stored
// as pending, pushed to the provider, then marked synced with its remote id.
func (s *Service) Create(ctx context.Context, ev store.Event) (*store.Event, error) {
	if ev.SyncStatus == "" {
		ev.SyncStatus = store.SyncStatusSynced
	}
	if ev.CalendarID == nil {
		return s.events.Create(ctx, ev)
	}

	cal, err := s.calendars.GetByID(ctx, *ev.CalendarID)
	if err != nil {
		return nil, fmt.Errorf("load calendar %d: %w", *ev.CalendarID, err)
	}
	if err := writable(cal); err != nil {
		return nil, err
	}

	ev.SyncStatus = store.SyncStatusPending
	stored, err := s.events.Create(ctx, ev)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.GetValidToken(ctx, cal.AccountID)
	if err != nil {
		s.markError(ctx, stored)
		return stored, err
	}
	remote, err := s.api.CreateEvent(ctx, token, cal.RemoteID, toRemote(stored))
	if err != nil {
		s.markError(ctx, stored)
		return stored, fmt.Errorf("push event to provider: %w", err)
	}

	stored.RemoteID = &remote.ID
	stored.SyncStatus = store.SyncStatusSynced
	if err := s.events.Update(ctx, *stored); err != nil {
		return stored, fmt.Errorf("record remote id: %w", err)
	}
	return stored, nil
}

// Update edits an event, pushing the change to the provider when the event is
// linked to a remote calendar.
func (s *Service) Update(ctx context.Context, ev store.Event) error {
	current, err := s.events.GetByID(ctx, ev.ID)
	if err != nil {
		return err
	}
	ev.FamilyID = current.FamilyID
	ev.CalendarID = current.CalendarID
	ev.RemoteID = current.RemoteID
	if ev.SyncStatus == "" {
		ev.SyncStatus = current.SyncStatus
	}

	if current.CalendarID == nil {
		return s.events.Update(ctx, ev)
	}

	cal, err := s.calendars.GetByID(ctx, *current.CalendarID)
	if err != nil {
		return fmt.Errorf("load calendar %d: %w", *current.CalendarID, err)
	}
	if err := writable(cal); err != nil {
		return err
	}

	if err := s.events.Update(ctx, ev); err != nil {
		return err
	}
	if current.RemoteID == nil {
		return nil
	}

	token, err := s.tokens.GetValidToken(ctx, cal.AccountID)
	if err != nil {
		s.markError(ctx, &ev)
		return err
	}
	if _, err := s.api.UpdateEvent(ctx, token, cal.RemoteID, *current.RemoteID, toRemote(&ev)); err != nil {
		s.markError(ctx, &ev)
		return fmt.Errorf("push update to provider: %w", err)
	}
	return nil
}

// Delete removes an event locally and, for linked events, from the provider.
// A remote copy already gone is not an error.
func (s *Service) Delete(ctx context.Context, id int64) error {
	current, err := s.events.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if current.CalendarID != nil {
		cal, err := s.calendars.GetByID(ctx, *current.CalendarID)
		if err != nil {
			return fmt.Errorf("load calendar %d: %w", *current.CalendarID, err)
		}
		if err := writable(cal); err != nil {
			return err
		}
		if current.RemoteID != nil {
			token, err := s.tokens.GetValidToken(ctx, cal.AccountID)
			if err != nil {
				return err
			}
			if err := s.api.DeleteEvent(ctx, token, cal.RemoteID, *current.RemoteID); err != nil && !provider.IsNotFound(err) && !provider.IsGone(err) {
				return fmt.Errorf("delete event at provider: %w", err)
			}
		}
	}

	return s.events.Delete(ctx, id)
}

// privacyMeta resolves each linked calendar of the family to its privacy flag
// and owning user, for the visibility filter.
func (s *Service) privacyMeta(ctx context.Context, familyID int64) (map[int64]*visibility.Calendar, error) {
	cals, err := s.calendars.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("list calendars for family %d: %w", familyID, err)
	}

	owners := make(map[int64]int64) // account id -> user id
	meta := make(map[int64]*visibility.Calendar, len(cals))
	for i := range cals {
		cal := &cals[i]
		owner, ok := owners[cal.AccountID]
		if !ok {
			acct, err := s.accounts.GetByID(ctx, cal.AccountID)
			if err != nil {
				// Missing account metadata means we cannot prove ownership;
				// the calendar's privacy flag still applies.
				log.Printf("[WARN] account %d for calendar %d: %v", cal.AccountID, cal.ID, err)
			} else {
				owner = acct.UserID
			}
			owners[cal.AccountID] = owner
		}
		meta[cal.ID] = &visibility.Calendar{IsPrivate: cal.IsPrivate, OwnerUserID: owner}
	}
	return meta, nil
}

func project(ev store.Event, meta map[int64]*visibility.Calendar, viewerID *int64) View {
	var cal *visibility.Calendar
	if ev.CalendarID != nil {
		cal = meta[*ev.CalendarID]
	}

	hidden := visibility.ShouldRedact(&ev, cal, viewerID)
	if hidden {
		ev = visibility.Redact(ev)
	}
	return View{
		ID:          ev.ID,
		FamilyID:    ev.FamilyID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		StartsAt:    ev.StartsAt,
		EndsAt:      ev.EndsAt,
		AllDay:      ev.AllDay,
		Color:       ev.Color,
		CalendarID:  ev.CalendarID,
		SyncStatus:  ev.SyncStatus,
		IsHidden:    hidden,
	}
}

func writable(cal *store.Calendar) error {
	if cal.AccessRole == store.RoleReader {
		return fmt.Errorf("calendar %d: %w", cal.ID, ErrReadOnlyCalendar)
	}
	return nil
}

func (s *Service) markError(ctx context.Context, ev *store.Event) {
	ev.SyncStatus = store.SyncStatusError
	if err := s.events.Update(ctx, *ev); err != nil {
		log.Printf("[ERROR] mark event %d errored: %v", ev.ID, err)
	}
}

func toRemote(ev *store.Event) *provider.Event {
	out := &provider.Event{Summary: ev.Title}
	if ev.Description != nil {
		out.Description = *ev.Description
	}
	if ev.Location != nil {
		out.Location = *ev.Location
	}
	if ev.Color != nil {
		out.ColorID = *ev.Color
	}
	if ev.AllDay {
		out.Start = &provider.EventTime{Date: ev.StartsAt.UTC().Format("2006-01-02")}
		out.End = &provider.EventTime{Date: ev.EndsAt.UTC().Format("2006-01-02")}
	} else {
		out.Start = &provider.EventTime{DateTime: ev.StartsAt.UTC().Format(time.RFC3339)}
		out.End = &provider.EventTime{DateTime: ev.EndsAt.UTC().Format(time.RFC3339)}
	}
	return out
}
