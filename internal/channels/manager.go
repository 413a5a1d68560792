// Package channels manages provider push-notification subscriptions and
// verifies inbound notification authenticity.
package channels

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/store"
)

const (
	// channelTTL is the requested subscription lifetime; the provider may
	// grant less, and the granted expiration is what gets persisted.
	channelTTL = 7 * 24 * time.Hour
	// renewalBuffer is how close to expiration a channel must be before the
	// renewal sweep picks it up.
	renewalBuffer = time.Hour
)

// TokenSource yields a valid bearer token for an account.
type TokenSource interface {
	GetValidToken(ctx context.Context, accountID int64) (string, error)
}

// ProviderAPI is the slice of the provider client the manager needs.
type ProviderAPI interface {
	Watch(ctx context.Context, token, calendarID string, req provider.WatchRequest) (*provider.WatchResponse, error)
	StopChannel(ctx context.Context, token, channelID, resourceID string) error
}

// Manager creates, renews and tears down watch channels. At most one channel
// exists per calendar: creating a new one first tears down the old one.
type Manager struct {
	channels   store.ChannelRepository
	calendars  store.CalendarRepository
	tokens     TokenSource
	api        ProviderAPI
	webhookURL string
	now        func() time.Time
}

// NewManager wires a channel manager. webhookURL is the externally reachable
// address the provider pushes notifications to.
func NewManager(channels store.ChannelRepository, calendars store.CalendarRepository, tokens TokenSource, api ProviderAPI, webhookURL string) *Manager {
	return &Manager{
		channels:   channels,
		calendars:  calendars,
		tokens:     tokens,
		api:        api,
		webhookURL: webhookURL,
		now:        time.Now,
	}
}

// Create subscribes the calendar to push notifications, replacing any existing
// subscription. The request carries a freshly generated verification token;
// the provider's resource id and granted expiration are persisted.
func (m *Manager) Create(ctx context.Context, calendarID int64) error {
	cal, err := m.calendars.GetByID(ctx, calendarID)
	if err != nil {
		return fmt.Errorf("load calendar %d: %w", calendarID, err)
	}

	if err := m.Stop(ctx, calendarID); err != nil {
		return fmt.Errorf("tear down existing channel for calendar %d: %w", calendarID, err)
	}

	token, err := m.tokens.GetValidToken(ctx, cal.AccountID)
	if err != nil {
		return fmt.Errorf("calendar %d: %w", calendarID, err)
	}

	secret, err := newVerificationToken()
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	channelID := uuid.NewString()

	resp, err := m.api.Watch(ctx, token, cal.RemoteID, provider.WatchRequest{
		ID:      channelID,
		Address: m.webhookURL,
		Token:   secret,
		TTL:     channelTTL,
	})
	if err != nil {
		return fmt.Errorf("create watch for calendar %d: %w", calendarID, err)
	}

	_, err = m.channels.Create(ctx, store.Channel{
		ID:         channelID,
		CalendarID: calendarID,
		ResourceID: resp.ResourceID,
		Token:      secret,
		ExpiresAt:  resp.Expiration,
	})
	if err != nil {
		return fmt.Errorf("persist channel for calendar %d: %w", calendarID, err)
	}
	log.Printf("[INFO] watch channel %s created for calendar %d, expires %s", channelID, calendarID, resp.Expiration.Format(time.RFC3339))
	return nil
}

// Stop tears down the calendar's channel, if any. The provider call is best
// effort: an already-gone subscription is not an error, and the local row is
// removed unconditionally.
func (m *Manager) Stop(ctx context.Context, calendarID int64) error {
	ch, err := m.channels.GetByCalendar(ctx, calendarID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load channel for calendar %d: %w", calendarID, err)
	}

	cal, err := m.calendars.GetByID(ctx, calendarID)
	if err == nil {
		if token, terr := m.tokens.GetValidToken(ctx, cal.AccountID); terr == nil {
			if serr := m.api.StopChannel(ctx, token, ch.ID, ch.ResourceID); serr != nil && !provider.IsGone(serr) && !provider.IsNotFound(serr) {
				log.Printf("[WARN] stop channel %s at provider: %v", ch.ID, serr)
			}
		}
	}

	return m.channels.Delete(ctx, ch.ID)
}

// NeedingRenewal returns channels whose expiration falls within the renewal
// buffer of now. It is a pure read driven by the external scheduler.
func (m *Manager) NeedingRenewal(ctx context.Context) ([]store.Channel, error) {
	return m.channels.ListExpiringBefore(ctx, m.now().Add(renewalBuffer))
}

// VerifyToken authenticates an inbound notification. It returns the channel's
// calendar id only when both the channel id and the claimed token match a
// stored row; the token comparison is constant time.
func (m *Manager) VerifyToken(ctx context.Context, channelID, token string) (int64, bool) {
	if channelID == "" || token == "" {
		return 0, false
	}
	ch, err := m.channels.GetByID(ctx, channelID)
	if err != nil {
		return 0, false
	}
	if subtle.ConstantTimeCompare([]byte(ch.Token), []byte(token)) != 1 {
		return 0, false
	}
	return ch.CalendarID, true
}

func newVerificationToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
