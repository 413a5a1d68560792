// Package provider is a thin typed client for the remote calendar API.
// Every call takes a bearer token obtained from the credential manager;
// failures are returned as *Error with the provider's status and reason code.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hearthhq/hearth/internal/metrics"
)

// Client issues authenticated requests against one provider base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a provider client. A nil httpClient falls back to a
// default with a 30-second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ListCalendars returns the account's remote calendar list.
func (c *Client) ListCalendars(ctx context.Context, token string) ([]CalendarInfo, error) {
	var resp calendarListResponse
	if err := c.do(ctx, token, http.MethodGet, "/users/me/calendarList", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ListEvents returns one page of events for a calendar, parameterized by
// either a time window or a sync token (see ListEventsOptions).
func (c *Client) ListEvents(ctx context.Context, token, calendarID string, opts ListEventsOptions) (*EventPage, error) {
	q := url.Values{}
	q.Set("singleEvents", "true")
	if opts.SyncToken != "" {
		q.Set("syncToken", opts.SyncToken)
	} else {
		if !opts.TimeMin.IsZero() {
			q.Set("timeMin", opts.TimeMin.UTC().Format(time.RFC3339))
		}
		if !opts.TimeMax.IsZero() {
			q.Set("timeMax", opts.TimeMax.UTC().Format(time.RFC3339))
		}
	}
	if opts.PageToken != "" {
		q.Set("pageToken", opts.PageToken)
	}
	if opts.MaxResults > 0 {
		q.Set("maxResults", strconv.Itoa(opts.MaxResults))
	}

	var page EventPage
	path := "/calendars/" + url.PathEscape(calendarID) + "/events"
	if err := c.do(ctx, token, http.MethodGet, path, q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateEvent creates an event on the remote calendar and returns the created
// resource with its provider-assigned id.
func (c *Client) CreateEvent(ctx context.Context, token, calendarID string, ev *Event) (*Event, error) {
	var out Event
	path := "/calendars/" + url.PathEscape(calendarID) + "/events"
	if err := c.do(ctx, token, http.MethodPost, path, nil, ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateEvent replaces an event on the remote calendar.
func (c *Client) UpdateEvent(ctx context.Context, token, calendarID, eventID string, ev *Event) (*Event, error) {
	var out Event
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID)
	if err := c.do(ctx, token, http.MethodPut, path, nil, ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteEvent deletes an event from the remote calendar.
func (c *Client) DeleteEvent(ctx context.Context, token, calendarID, eventID string) error {
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID)
	return c.do(ctx, token, http.MethodDelete, path, nil, nil, nil)
}

// Watch creates a push-notification subscription for a calendar.
func (c *Client) Watch(ctx context.Context, token, calendarID string, req WatchRequest) (*WatchResponse, error) {
	body := struct {
		WatchRequest
		Params map[string]string `json:"params,omitempty"`
	}{WatchRequest: req}
	if req.Type == "" {
		body.Type = "web_hook"
	}
	if req.TTL > 0 {
		body.Params = map[string]string{"ttl": strconv.FormatInt(int64(req.TTL/time.Second), 10)}
	}

	var resp watchResponseBody
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/watch"
	if err := c.do(ctx, token, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}
	return &WatchResponse{
		ResourceID: resp.ResourceID,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopChannel tears down a push-notification subscription.
func (c *Client) StopChannel(ctx context.Context, token, channelID, resourceID string) error {
	body := map[string]string{"id": channelID, "resourceId": resourceID}
	return c.do(ctx, token, http.MethodPost, "/channels/stop", nil, body, nil)
}

func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("provider: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveProviderCall(path, 0, start)
		return fmt.Errorf("provider: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	metrics.ObserveProviderCall(path, resp.StatusCode, start)

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	pe := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(raw) > 0 {
		var body errorResponse
		if json.Unmarshal(raw, &body) == nil && body.Error.Code != 0 {
			pe.Reason = body.Error.Reason
			if body.Error.Message != "" {
				pe.Message = body.Error.Message
			}
		}
	}
	return pe
}
