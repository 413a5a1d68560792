package store

import (
	"context"
	"time"
)

// AccountRepository defines persistence operations for connected accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*Account, error)
	// UpdateTokens persists a refreshed access token and expiry. When the
	// provider rotates the refresh token, the new one is passed; nil leaves
	// the stored refresh token untouched.
	UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiry time.Time) error
	SetError(ctx context.Context, id int64, message string, at time.Time) error
	ClearError(ctx context.Context, id int64) error
}

// CalendarRepository handles linked-calendar lifecycle and sync bookkeeping.
type CalendarRepository interface {
	GetByID(ctx context.Context, id int64) (*Calendar, error)
	ListByFamily(ctx context.Context, familyID int64) ([]Calendar, error)
	Create(ctx context.Context, cal Calendar) (*Calendar, error)
	SetCursor(ctx context.Context, id int64, cursor string, syncedAt time.Time) error
	ClearCursor(ctx context.Context, id int64) error
	// ListNeedingSync returns sync-enabled calendars never synced or last
	// synced before the cutoff.
	ListNeedingSync(ctx context.Context, cutoff time.Time) ([]Calendar, error)
	// TryAcquireSyncLease claims the per-calendar sync lease until the given
	// instant. It returns false without error when another run holds an
	// unexpired lease.
	TryAcquireSyncLease(ctx context.Context, id int64, until time.Time) (bool, error)
	ReleaseSyncLease(ctx context.Context, id int64) error
}

// ChannelRepository handles watch-channel rows.
type ChannelRepository interface {
	GetByID(ctx context.Context, id string) (*Channel, error)
	GetByCalendar(ctx context.Context, calendarID int64) (*Channel, error)
	Create(ctx context.Context, ch Channel) (*Channel, error)
	Delete(ctx context.Context, id string) error
	ListExpiringBefore(ctx context.Context, t time.Time) ([]Channel, error)
}

// EventRepository handles mirrored and manual event storage.
type EventRepository interface {
	GetByID(ctx context.Context, id int64) (*Event, error)
	// UpsertRemote inserts or updates a provider-originated row keyed by
	// (calendar id, remote id) and reports whether a new row was created.
	UpsertRemote(ctx context.Context, ev Event) (created bool, err error)
	DeleteByRemoteID(ctx context.Context, calendarID int64, remoteID string) error
	ListForFamily(ctx context.Context, familyID int64, from, to time.Time) ([]Event, error)
	Create(ctx context.Context, ev Event) (*Event, error)
	Update(ctx context.Context, ev Event) error
	Delete(ctx context.Context, id int64) error
}
