// Package visibility decides whether an event's details must be redacted for
// a given viewer and performs the redaction. It is a pure function layer with
// no knowledge of the provider or the database; the query layer applies it to
// every row it returns.
package visibility

import "github.com/hearthhq/hearth/internal/store"

// HiddenTitle replaces the title of redacted events.
const HiddenTitle = "Hidden"

// Calendar is the privacy-relevant slice of a linked calendar: whether it is
// private, and which user connected the account it belongs to.
type Calendar struct {
	IsPrivate   bool
	OwnerUserID int64
}

// ShouldRedact reports whether the event's details are hidden from the viewer.
// Events with no calendar linkage are family-authored and never private. For a
// private calendar only the connecting user sees details; every other viewer,
// including an absent one, gets the redacted form.
func ShouldRedact(ev *store.Event, cal *Calendar, viewerID *int64) bool {
	if ev.CalendarID == nil || cal == nil || !cal.IsPrivate {
		return false
	}
	return viewerID == nil || *viewerID != cal.OwnerUserID
}

// Redact strips the sensitive fields of an event: title becomes the fixed
// placeholder, description and location are nulled. Start, end and the
// all-day flag are preserved so the event still occupies its slot on the
// calendar grid; that timing leakage is the accepted trade-off.
func Redact(ev store.Event) store.Event {
	ev.Title = HiddenTitle
	ev.Description = nil
	ev.Location = nil
	return ev
}
