package httpserver

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthhq/hearth/internal/channels"
	"github.com/hearthhq/hearth/internal/credentials"
	"github.com/hearthhq/hearth/internal/events"
	httperrors "github.com/hearthhq/hearth/internal/http/errors"
	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/store"
	syncengine "github.com/hearthhq/hearth/internal/sync"
)

// Handler serves the JSON API and the provider webhook.
type Handler struct {
	store    *store.Store
	engine   *syncengine.Engine
	channels *channels.Manager
	events   *events.Service
	tokens   *credentials.Manager
	provider *provider.Client
}

// NewHandler wires the API handler.
func NewHandler(st *store.Store, engine *syncengine.Engine, ch *channels.Manager, ev *events.Service, tokens *credentials.Manager, pc *provider.Client) *Handler {
	return &Handler{store: st, engine: engine, channels: ch, events: ev, tokens: tokens, provider: pc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// ListFamilyEvents serves the family's events for a time window, redacted for
// the requesting viewer.
func (h *Handler) ListFamilyEvents(w http.ResponseWriter, r *http.Request) {
	familyID, err := pathID(r, "familyID")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid family id")
		return
	}

	from, to, err := parseWindow(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid time window")
		return
	}

	views, err := h.events.ListForFamily(r.Context(), familyID, from, to, ViewerID(r.Context()))
	if err != nil {
		httperrors.InternalError(w, r, err, "list family events")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetEvent serves a single event, redacted for the requesting viewer.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}

	view, err := h.events.GetByID(r.Context(), id, ViewerID(r.Context()))
	if stderrors.Is(err, store.ErrNotFound) {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "get event")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type eventPayload struct {
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Location    *string   `json:"location"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	AllDay      bool      `json:"allDay"`
	Color       *string   `json:"color"`
	CalendarID  *int64    `json:"calendarId"`
}

// CreateEvent stores a manual or linked event for the family.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	familyID, err := pathID(r, "familyID")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid family id")
		return
	}

	var payload eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event payload")
		return
	}
	if payload.Title == "" || payload.StartsAt.IsZero() || payload.EndsAt.IsZero() {
		httperrors.BadRequestError(w, r, stderrors.New("missing required fields"), "title, startsAt and endsAt are required")
		return
	}

	stored, err := h.events.Create(r.Context(), store.Event{
		FamilyID:    familyID,
		Title:       payload.Title,
		Description: payload.Description,
		Location:    payload.Location,
		StartsAt:    payload.StartsAt,
		EndsAt:      payload.EndsAt,
		AllDay:      payload.AllDay,
		Color:       payload.Color,
		CalendarID:  payload.CalendarID,
	})
	if stderrors.Is(err, events.ErrReadOnlyCalendar) {
		http.Error(w, "calendar is read-only", http.StatusForbidden)
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "create event")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": stored.ID})
}

// UpdateEvent edits an event.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}

	var payload eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event payload")
		return
	}
	if payload.Title == "" || payload.StartsAt.IsZero() || payload.EndsAt.IsZero() {
		httperrors.BadRequestError(w, r, stderrors.New("missing required fields"), "title, startsAt and endsAt are required")
		return
	}

	err = h.events.Update(r.Context(), store.Event{
		ID:          id,
		Title:       payload.Title,
		Description: payload.Description,
		Location:    payload.Location,
		StartsAt:    payload.StartsAt,
		EndsAt:      payload.EndsAt,
		AllDay:      payload.AllDay,
		Color:       payload.Color,
	})
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		http.Error(w, "event not found", http.StatusNotFound)
	case stderrors.Is(err, events.ErrReadOnlyCalendar):
		http.Error(w, "calendar is read-only", http.StatusForbidden)
	case err != nil:
		httperrors.InternalError(w, r, err, "update event")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteEvent removes an event.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}

	err = h.events.Delete(r.Context(), id)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		http.Error(w, "event not found", http.StatusNotFound)
	case stderrors.Is(err, events.ErrReadOnlyCalendar):
		http.Error(w, "calendar is read-only", http.StatusForbidden)
	case err != nil:
		httperrors.InternalError(w, r, err, "delete event")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListRemoteCalendars lists the calendars available on the connected account,
// for the linking flow.
func (h *Handler) ListRemoteCalendars(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid account id")
		return
	}

	token, err := h.tokens.GetValidToken(r.Context(), accountID)
	if stderrors.Is(err, credentials.ErrReauthRequired) {
		http.Error(w, "account requires re-authorization", http.StatusUnauthorized)
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "get provider token")
		return
	}

	cals, err := h.provider.ListCalendars(r.Context(), token)
	if err != nil {
		httperrors.InternalError(w, r, err, "list remote calendars")
		return
	}
	writeJSON(w, http.StatusOK, cals)
}

type linkCalendarPayload struct {
	RemoteID   string  `json:"remoteId"`
	Name       string  `json:"name"`
	Color      *string `json:"color"`
	AccessRole string  `json:"accessRole"`
	IsPrivate  bool    `json:"isPrivate"`
}

// LinkCalendar creates a linked-calendar row for the account.
func (h *Handler) LinkCalendar(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid account id")
		return
	}

	var payload linkCalendarPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid calendar payload")
		return
	}
	if payload.RemoteID == "" || payload.Name == "" {
		httperrors.BadRequestError(w, r, stderrors.New("missing required fields"), "remoteId and name are required")
		return
	}
	if payload.AccessRole == "" {
		payload.AccessRole = store.RoleReader
	}

	acct, err := h.store.Accounts.GetByID(r.Context(), accountID)
	if stderrors.Is(err, store.ErrNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "load account")
		return
	}

	cal, err := h.store.Calendars.Create(r.Context(), store.Calendar{
		AccountID:   accountID,
		FamilyID:    acct.FamilyID,
		RemoteID:    payload.RemoteID,
		Name:        payload.Name,
		Color:       payload.Color,
		AccessRole:  payload.AccessRole,
		SyncEnabled: true,
		IsPrivate:   payload.IsPrivate,
	})
	if err != nil {
		httperrors.InternalError(w, r, err, "link calendar")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": cal.ID})
}

// TriggerSync runs an incremental sync for the calendar (which falls back to
// an initial sync when no cursor exists) and returns the run's counts.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid calendar id")
		return
	}

	res, err := h.engine.IncrementalSync(r.Context(), id)
	switch {
	case stderrors.Is(err, syncengine.ErrCalendarNotFound):
		http.Error(w, "calendar not found", http.StatusNotFound)
	case stderrors.Is(err, syncengine.ErrSyncInProgress):
		http.Error(w, "sync already in progress", http.StatusConflict)
	case stderrors.Is(err, credentials.ErrReauthRequired):
		http.Error(w, "account requires re-authorization", http.StatusUnauthorized)
	case err != nil:
		httperrors.InternalError(w, r, err, "trigger sync")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// CreateWatch subscribes the calendar to provider push notifications.
func (h *Handler) CreateWatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid calendar id")
		return
	}

	err = h.channels.Create(r.Context(), id)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		http.Error(w, "calendar not found", http.StatusNotFound)
	case stderrors.Is(err, credentials.ErrReauthRequired):
		http.Error(w, "account requires re-authorization", http.StatusUnauthorized)
	case err != nil:
		httperrors.InternalError(w, r, err, "create watch channel")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// StopWatch tears down the calendar's push subscription.
func (h *Handler) StopWatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid calendar id")
		return
	}

	if err := h.channels.Stop(r.Context(), id); err != nil {
		httperrors.InternalError(w, r, err, "stop watch channel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseWindow reads the from/to query parameters, defaulting to one month
// back and three months forward.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, -1, 0)
	to := now.AddDate(0, 3, 0)

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}
