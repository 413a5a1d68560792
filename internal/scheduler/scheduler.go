// Package scheduler drives the periodic sweeps: incremental syncs for stale
// calendars and renewal of watch channels approaching expiration.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hearthhq/hearth/internal/channels"
	"github.com/hearthhq/hearth/internal/store"
	syncengine "github.com/hearthhq/hearth/internal/sync"
)

// Scheduler owns the cron loop. Each sweep is a plain read of "what needs
// work" followed by per-item runs; one failing calendar never stops the sweep.
type Scheduler struct {
	cron      *cron.Cron
	calendars store.CalendarRepository
	engine    *syncengine.Engine
	channels  *channels.Manager

	syncInterval time.Duration
	sweepEvery   time.Duration
}

// New builds a scheduler. syncInterval is how stale a calendar's lastSyncedAt
// may get before the sweep resyncs it; sweepEvery is the cron cadence.
func New(calendars store.CalendarRepository, engine *syncengine.Engine, ch *channels.Manager, syncInterval, sweepEvery time.Duration) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		calendars:    calendars,
		engine:       engine,
		channels:     ch,
		syncInterval: syncInterval,
		sweepEvery:   sweepEvery,
	}
}

// Start registers the sweeps and starts the cron loop.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.sweepEvery)
	if _, err := s.cron.AddFunc(spec, s.sweepCalendars); err != nil {
		return fmt.Errorf("register calendar sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(spec, s.sweepChannels); err != nil {
		return fmt.Errorf("register channel sweep: %w", err)
	}
	s.cron.Start()
	log.Printf("[INFO] scheduler started, sweeping every %s", s.sweepEvery)
	return nil
}

// Stop halts the cron loop and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweepCalendars() {
	ctx, cancel := context.WithTimeout(context.Background(), s.sweepEvery)
	defer cancel()

	cutoff := time.Now().Add(-s.syncInterval)
	cals, err := s.calendars.ListNeedingSync(ctx, cutoff)
	if err != nil {
		log.Printf("[ERROR] list calendars needing sync: %v", err)
		return
	}

	for _, cal := range cals {
		res, err := s.engine.IncrementalSync(ctx, cal.ID)
		switch {
		case errors.Is(err, syncengine.ErrSyncInProgress):
			// Another trigger got here first; the next sweep catches up.
		case err != nil:
			log.Printf("[ERROR] scheduled sync calendar %d: %v", cal.ID, err)
		case res.Err != "":
			log.Printf("[WARN] scheduled sync calendar %d finished with error: %s", cal.ID, res.Err)
		default:
			log.Printf("[INFO] scheduled sync calendar %d: created=%d updated=%d deleted=%d", cal.ID, res.Created, res.Updated, res.Deleted)
		}
	}
}

func (s *Scheduler) sweepChannels() {
	ctx, cancel := context.WithTimeout(context.Background(), s.sweepEvery)
	defer cancel()

	chans, err := s.channels.NeedingRenewal(ctx)
	if err != nil {
		log.Printf("[ERROR] list channels needing renewal: %v", err)
		return
	}

	for _, ch := range chans {
		// Create replaces the expiring channel after tearing it down.
		if err := s.channels.Create(ctx, ch.CalendarID); err != nil {
			log.Printf("[ERROR] renew watch channel for calendar %d: %v", ch.CalendarID, err)
		}
	}
}
