package provider

import "time"

// CalendarInfo describes one calendar in the account's remote calendar list.
type CalendarInfo struct {
	ID         string `json:"id"`
	Summary    string `json:"summary"`
	Color      string `json:"backgroundColor,omitempty"`
	AccessRole string `json:"accessRole"`
	Primary    bool   `json:"primary,omitempty"`
}

type calendarListResponse struct {
	Items []CalendarInfo `json:"items"`
}

// EventTime is the provider's start/end shape: all-day events carry a bare
// Date, timed events carry an RFC 3339 DateTime. An event with neither is
// malformed.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

// Event is the provider's event resource. Status "cancelled" marks deletions
// in incremental listings.
type Event struct {
	ID          string     `json:"id"`
	Status      string     `json:"status,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	ColorID     string     `json:"colorId,omitempty"`
	Start       *EventTime `json:"start,omitempty"`
	End         *EventTime `json:"end,omitempty"`
	Updated     string     `json:"updated,omitempty"`
}

// StatusCancelled is the event status the provider uses for deletions.
const StatusCancelled = "cancelled"

// EventPage is one page of an event listing. NextSyncToken is only present on
// the final page.
type EventPage struct {
	Items         []Event `json:"items"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
	NextSyncToken string  `json:"nextSyncToken,omitempty"`
}

// ListEventsOptions parameterizes an event listing: either a time window
// (initial sync) or a sync token (incremental sync), plus the page token for
// continuation within either mode.
type ListEventsOptions struct {
	TimeMin    time.Time
	TimeMax    time.Time
	SyncToken  string
	PageToken  string
	MaxResults int
}

// WatchRequest asks the provider to push change notifications for a calendar
// to the given address, authenticated by the shared Token.
type WatchRequest struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Address string        `json:"address"`
	Token   string        `json:"token"`
	TTL     time.Duration `json:"-"`
}

// WatchResponse is the provider's acknowledgement of a subscription, carrying
// the granted expiration (which may be shorter than requested).
type WatchResponse struct {
	ResourceID string
	Expiration time.Time
}

type watchResponseBody struct {
	ResourceID string `json:"resourceId"`
	Expiration int64  `json:"expiration"` // unix milliseconds
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error"`
}
