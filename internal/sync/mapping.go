package sync

import (
	"fmt"
	"time"

	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/store"
)

const dateLayout = "2006-01-02"

// mapRemoteEvent converts a provider event into a mirrored row for the given
// calendar. All-day events are recognized by a bare date on the start value;
// an event with neither a date nor a date-time is malformed and skipped.
func mapRemoteEvent(cal *store.Calendar, item *provider.Event) (store.Event, error) {
	if item.ID == "" {
		return store.Event{}, fmt.Errorf("event has no id")
	}

	start, allDay, err := parseEventTime(item.Start)
	if err != nil {
		return store.Event{}, fmt.Errorf("start: %w", err)
	}

	end, _, err := parseEventTime(item.End)
	if err != nil {
		// A missing or unparseable end still leaves a placeable event.
		if allDay {
			end = start.AddDate(0, 0, 1)
		} else {
			end = start.Add(time.Hour)
		}
	}

	ev := store.Event{
		FamilyID:   cal.FamilyID,
		Title:      item.Summary,
		StartsAt:   start,
		EndsAt:     end,
		AllDay:     allDay,
		CalendarID: &cal.ID,
		RemoteID:   &item.ID,
		SyncStatus: store.SyncStatusSynced,
	}
	if item.Description != "" {
		ev.Description = &item.Description
	}
	if item.Location != "" {
		ev.Location = &item.Location
	}
	if item.ColorID != "" {
		ev.Color = &item.ColorID
	}
	if item.Updated != "" {
		if ts, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			ev.RemoteUpdatedAt = &ts
		}
	}
	return ev, nil
}

// parseEventTime normalizes a provider start/end value to an absolute instant,
// reporting whether it was a bare date (all-day).
func parseEventTime(t *provider.EventTime) (time.Time, bool, error) {
	if t == nil {
		return time.Time{}, false, fmt.Errorf("missing time value")
	}
	if t.DateTime != "" {
		ts, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse dateTime %q: %w", t.DateTime, err)
		}
		return ts, false, nil
	}
	if t.Date != "" {
		ts, err := time.ParseInLocation(dateLayout, t.Date, time.UTC)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse date %q: %w", t.Date, err)
		}
		return ts, true, nil
	}
	return time.Time{}, false, fmt.Errorf("neither date nor dateTime present")
}
