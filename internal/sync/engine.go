// Package sync reconciles remote calendar events into the local mirror.
//
// Initial sync pages through a bounded time window and seeds the calendar's
// sync cursor; incremental sync pages from the stored cursor and applies
// creates, updates and deletions. When the provider reports the cursor gone,
// the engine clears it and falls back to a fresh initial sync.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hearthhq/hearth/internal/metrics"
	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/store"
)

// Initial sync window: history is bounded so linking a decades-old calendar
// does not import its entire past.
const (
	windowPastMonths   = 3
	windowFutureMonths = 12
)

// leaseTTL bounds how long a crashed run can block the next one.
const leaseTTL = 10 * time.Minute

var (
	// ErrCalendarNotFound is returned when the linked calendar does not exist.
	ErrCalendarNotFound = errors.New("linked calendar not found")
	// ErrSyncInProgress is returned when another run holds the calendar's lease.
	ErrSyncInProgress = errors.New("sync already in progress for calendar")
)

// Result reports what one sync run applied. Err carries a mid-run provider
// failure; counts reflect work committed before it. The cursor is only
// advanced on a fully successful run, so a failed run's pages are reprocessed
// by the next trigger.
type Result struct {
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Deleted int    `json:"deleted"`
	Skipped int    `json:"skipped"`
	Err     string `json:"error,omitempty"`
}

// TokenSource yields a valid bearer token for an account, or an error when the
// account cannot sync now.
type TokenSource interface {
	GetValidToken(ctx context.Context, accountID int64) (string, error)
}

// ProviderAPI is the slice of the provider client the engine needs.
type ProviderAPI interface {
	ListEvents(ctx context.Context, token, calendarID string, opts provider.ListEventsOptions) (*provider.EventPage, error)
}

// Engine orchestrates per-calendar synchronization runs.
type Engine struct {
	calendars store.CalendarRepository
	events    store.EventRepository
	tokens    TokenSource
	api       ProviderAPI
	now       func() time.Time
}

// NewEngine wires a sync engine. All collaborators are injected so tests can
// run against in-memory fakes.
func NewEngine(calendars store.CalendarRepository, events store.EventRepository, tokens TokenSource, api ProviderAPI) *Engine {
	return &Engine{
		calendars: calendars,
		events:    events,
		tokens:    tokens,
		api:       api,
		now:       time.Now,
	}
}

// InitialSync performs a windowed full fetch for the calendar and seeds its
// sync cursor. The returned error covers fail-fast preconditions (calendar
// missing, credentials unusable, lease busy); provider failures mid-run are
// reported in Result.Err with the counts committed so far.
func (e *Engine) InitialSync(ctx context.Context, calendarID int64) (Result, error) {
	return e.run(ctx, calendarID, "initial", func(ctx context.Context, cal *store.Calendar, token string) Result {
		return e.initial(ctx, cal, token)
	})
}

// IncrementalSync performs a cursor-driven delta fetch. A calendar with no
// cursor has no valid starting point, so the run delegates to a windowed
// initial sync.
func (e *Engine) IncrementalSync(ctx context.Context, calendarID int64) (Result, error) {
	return e.run(ctx, calendarID, "incremental", func(ctx context.Context, cal *store.Calendar, token string) Result {
		if cal.SyncCursor == nil {
			return e.initial(ctx, cal, token)
		}
		return e.incremental(ctx, cal, token)
	})
}

func (e *Engine) run(ctx context.Context, calendarID int64, mode string, fn func(context.Context, *store.Calendar, string) Result) (Result, error) {
	cal, err := e.calendars.GetByID(ctx, calendarID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("calendar %d: %w", calendarID, ErrCalendarNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load calendar %d: %w", calendarID, err)
	}

	token, err := e.tokens.GetValidToken(ctx, cal.AccountID)
	if err != nil {
		metrics.CountSyncRun(mode, "credential_error")
		return Result{}, fmt.Errorf("calendar %d: %w", calendarID, err)
	}

	ok, err := e.calendars.TryAcquireSyncLease(ctx, calendarID, e.now().Add(leaseTTL))
	if err != nil {
		return Result{}, fmt.Errorf("acquire sync lease for calendar %d: %w", calendarID, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("calendar %d: %w", calendarID, ErrSyncInProgress)
	}
	defer func() {
		if err := e.calendars.ReleaseSyncLease(context.WithoutCancel(ctx), calendarID); err != nil {
			log.Printf("[WARN] release sync lease for calendar %d: %v", calendarID, err)
		}
	}()

	res := fn(ctx, cal, token)

	outcome := "ok"
	if res.Err != "" {
		outcome = "error"
	}
	metrics.CountSyncRun(mode, outcome)
	metrics.CountSyncEvents(res.Created, res.Updated, res.Deleted, res.Skipped)
	return res, nil
}

// initial pages through the bounded window, upserting every non-cancelled
// event, and persists the cursor returned with the final page. On a provider
// failure the cursor stays unset so the calendar remains eligible for another
// initial attempt.
func (e *Engine) initial(ctx context.Context, cal *store.Calendar, token string) Result {
	var res Result
	now := e.now()
	opts := provider.ListEventsOptions{
		TimeMin: now.AddDate(0, -windowPastMonths, 0),
		TimeMax: now.AddDate(0, windowFutureMonths, 0),
	}

	for {
		page, err := e.api.ListEvents(ctx, token, cal.RemoteID, opts)
		if err != nil {
			res.Err = err.Error()
			log.Printf("[ERROR] initial sync calendar %d: %v", cal.ID, err)
			return res
		}

		for i := range page.Items {
			item := &page.Items[i]
			if item.Status == provider.StatusCancelled {
				// Nothing mirrored yet, nothing to delete.
				continue
			}
			e.applyUpsert(ctx, cal, item, &res)
		}

		if page.NextPageToken == "" {
			if page.NextSyncToken != "" {
				if err := e.calendars.SetCursor(ctx, cal.ID, page.NextSyncToken, now); err != nil {
					res.Err = fmt.Sprintf("persist sync cursor: %v", err)
				}
			}
			return res
		}
		opts.PageToken = page.NextPageToken
	}
}

// incremental pages from the stored cursor, deleting cancelled events and
// upserting the rest. A "gone" response means the cursor is stale: it is
// cleared and the run falls back to a fresh windowed sync.
func (e *Engine) incremental(ctx context.Context, cal *store.Calendar, token string) Result {
	var res Result
	opts := provider.ListEventsOptions{SyncToken: *cal.SyncCursor}

	for {
		page, err := e.api.ListEvents(ctx, token, cal.RemoteID, opts)
		if provider.IsGone(err) {
			log.Printf("[INFO] sync cursor for calendar %d invalidated, falling back to initial sync", cal.ID)
			if cerr := e.calendars.ClearCursor(ctx, cal.ID); cerr != nil {
				res.Err = fmt.Sprintf("clear stale cursor: %v", cerr)
				return res
			}
			return e.initial(ctx, cal, token)
		}
		if err != nil {
			res.Err = err.Error()
			log.Printf("[ERROR] incremental sync calendar %d: %v", cal.ID, err)
			return res
		}

		for i := range page.Items {
			item := &page.Items[i]
			if item.Status == provider.StatusCancelled {
				err := e.events.DeleteByRemoteID(ctx, cal.ID, item.ID)
				switch {
				case err == nil:
					res.Deleted++
				case errors.Is(err, store.ErrNotFound):
					// Already absent locally; deletion is idempotent.
				default:
					log.Printf("[ERROR] delete event %s on calendar %d: %v", item.ID, cal.ID, err)
					res.Skipped++
				}
				continue
			}
			e.applyUpsert(ctx, cal, item, &res)
		}

		if page.NextPageToken == "" {
			if page.NextSyncToken != "" {
				if err := e.calendars.SetCursor(ctx, cal.ID, page.NextSyncToken, e.now()); err != nil {
					res.Err = fmt.Sprintf("persist sync cursor: %v", err)
				}
			}
			return res
		}
		opts.PageToken = page.NextPageToken
	}
}

func (e *Engine) applyUpsert(ctx context.Context, cal *store.Calendar, item *provider.Event, res *Result) {
	ev, err := mapRemoteEvent(cal, item)
	if err != nil {
		log.Printf("[WARN] skipping malformed event %s on calendar %d: %v", item.ID, cal.ID, err)
		res.Skipped++
		return
	}
	created, err := e.events.UpsertRemote(ctx, ev)
	if err != nil {
		log.Printf("[ERROR] upsert event %s on calendar %d: %v", item.ID, cal.ID, err)
		res.Skipped++
		return
	}
	if created {
		res.Created++
	} else {
		res.Updated++
	}
}
