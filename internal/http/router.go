package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/hearthhq/hearth/internal/channels"
	"github.com/hearthhq/hearth/internal/config"
	"github.com/hearthhq/hearth/internal/credentials"
	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/http/ratelimit"
	"github.com/hearthhq/hearth/internal/metrics"
	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/store"
	syncengine "github.com/hearthhq/hearth/internal/sync"
)

// NewRouter wires all HTTP routes for the API and the provider webhook.
func NewRouter(cfg *config.Config, st *store.Store, engine *syncengine.Engine, ch *channels.Manager, ev *events.Service, tokens *credentials.Manager, pc *provider.Client) http.Handler {
	r := chi.NewRouter()

	// Webhook endpoint: the provider can burst on busy calendars
	webhookRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)
	// API endpoints: 10 requests per second, burst of 20
	apiRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(10), 20, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	h := NewHandler(st, engine, ch, ev, tokens, pc)

	r.With(webhookRateLimiter.Middleware()).Post("/webhooks/calendar", h.Webhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())
		r.Use(ViewerIdentity)

		r.Get("/families/{familyID}/events", h.ListFamilyEvents)
		r.Post("/families/{familyID}/events", h.CreateEvent)
		r.Get("/events/{id}", h.GetEvent)
		r.Put("/events/{id}", h.UpdateEvent)
		r.Delete("/events/{id}", h.DeleteEvent)

		r.Get("/accounts/{accountID}/calendars", h.ListRemoteCalendars)
		r.Post("/accounts/{accountID}/calendars", h.LinkCalendar)

		r.Post("/calendars/{id}/sync", h.TriggerSync)
		r.Post("/calendars/{id}/watch", h.CreateWatch)
		r.Delete("/calendars/{id}/watch", h.StopWatch)
	})

	return r
}
