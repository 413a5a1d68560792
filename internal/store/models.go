package store

import "time"

// Account is one user's delegated grant to the calendar provider. Tokens are
// mutated exclusively by the credential manager; LastError is set when the
// provider rejects a refresh and cleared on the next successful one.
type Account struct {
	ID           int64
	UserID       int64
	FamilyID     int64
	Provider     string
	Email        string
	AccessToken  string
	RefreshToken *string
	TokenExpiry  time.Time
	LastError    *string
	LastErrorAt  *time.Time
	CreatedAt    time.Time
}

// Calendar is a remote calendar mirrored into the family's event store under
// one connected account. SyncCursor is nil until a sync has completed, and is
// cleared again when the provider invalidates it.
type Calendar struct {
	ID             int64
	AccountID      int64
	FamilyID       int64
	RemoteID       string
	Name           string
	Color          *string
	AccessRole     string
	SyncEnabled    bool
	IsPrivate      bool
	SyncCursor     *string
	LastSyncedAt   *time.Time
	SyncLeaseUntil *time.Time
	CreatedAt      time.Time
}

// Calendar access roles as reported by the provider.
const (
	RoleOwner  = "owner"
	RoleWriter = "writer"
	RoleReader = "reader"
)

// Channel is an active push-notification subscription for one calendar.
// At most one channel exists per calendar.
type Channel struct {
	ID         string
	CalendarID int64
	ResourceID string
	Token      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Event is a mirrored remote event or a family-authored manual event.
// Provider-originated rows carry CalendarID and RemoteID and are uniquely
// keyed by that pair; manual rows have neither.
type Event struct {
	ID              int64
	FamilyID        int64
	Title           string
	Description     *string
	Location        *string
	StartsAt        time.Time
	EndsAt          time.Time
	AllDay          bool
	Color           *string
	CalendarID      *int64
	RemoteID        *string
	RemoteUpdatedAt *time.Time
	SyncStatus      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Event sync statuses.
const (
	SyncStatusSynced  = "synced"
	SyncStatusPending = "pending"
	SyncStatusError   = "error"
)
