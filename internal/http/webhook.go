package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/hearthhq/hearth/internal/metrics"
)

// Provider notification headers. The channel id and token pair is the sole
// authentication mechanism for inbound pushes.
const (
	headerChannelID     = "X-Channel-ID"
	headerChannelToken  = "X-Channel-Token"
	headerResourceState = "X-Resource-State"
)

// Webhook receives provider push notifications. The claimed channel id and
// token must match a stored channel before anything happens; a mismatch is
// rejected with no side effect. Verified notifications trigger an incremental
// sync for the channel's calendar.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get(headerChannelID)
	token := r.Header.Get(headerChannelToken)

	calendarID, ok := h.channels.VerifyToken(r.Context(), channelID, token)
	if !ok {
		metrics.CountWebhook("rejected")
		http.Error(w, "unknown channel", http.StatusForbidden)
		return
	}

	// The provider sends a "sync" ping when the subscription is created;
	// nothing has changed yet.
	if r.Header.Get(headerResourceState) == "sync" {
		metrics.CountWebhook("handshake")
		w.WriteHeader(http.StatusOK)
		return
	}

	metrics.CountWebhook("accepted")

	// The provider only needs the acknowledgement; the sync run outlives the
	// request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		res, err := h.engine.IncrementalSync(ctx, calendarID)
		if err != nil {
			log.Printf("[ERROR] webhook sync calendar %d: %v", calendarID, err)
			return
		}
		if res.Err != "" {
			log.Printf("[WARN] webhook sync calendar %d finished with error: %s", calendarID, res.Err)
		}
	}()

	w.WriteHeader(http.StatusOK)
}
