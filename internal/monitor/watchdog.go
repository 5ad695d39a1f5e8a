package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"iotmon/internal/config"
	"iotmon/internal/logger"
	"iotmon/internal/models"
	"iotmon/internal/notify"
	"iotmon/internal/store"
)

// Watchdog periodically sweeps registered devices and flips them
// between online and offline based on when a reading was last seen.
// It is the only producer of DeviceStatusChanged events.
type Watchdog struct {
	store        store.Store
	events       *notify.Events
	interval     time.Duration
	offlineAfter time.Duration
	statuses     map[int]models.DeviceStatus
	log          zerolog.Logger
}

func NewWatchdog(s store.Store, events *notify.Events, cfg config.WatchdogConfig) *Watchdog {
	return &Watchdog{
		store:        s,
		events:       events,
		interval:     cfg.Interval,
		offlineAfter: cfg.OfflineAfter,
		statuses:     make(map[int]models.DeviceStatus),
		log:          logger.WithComponent("watchdog"),
	}
}

// Run sweeps until the context is cancelled. The first sweep
// establishes a baseline without emitting events, so a restart does
// not replay status changes subscribers already know about.
func (w *Watchdog) Run(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Dur("offline_after", w.offlineAfter).
		Msg("watchdog started")

	w.sweep(ctx, false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("watchdog stopped")
			return
		case <-ticker.C:
			w.sweep(ctx, true)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context, emit bool) {
	devices, err := w.store.ListDevices(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to list devices")
		return
	}

	now := time.Now().UTC()
	cutoff := now.Add(-w.offlineAfter)

	for _, d := range devices {
		if !d.IsActive {
			continue
		}

		status := models.DeviceOffline
		if d.LastSeenAt != nil && d.LastSeenAt.After(cutoff) {
			status = models.DeviceOnline
		}

		prev, known := w.statuses[d.DeviceID]
		w.statuses[d.DeviceID] = status
		if !known || prev == status || !emit {
			continue
		}

		w.log.Info().
			Int("device_id", d.DeviceID).
			Str("status", string(status)).
			Str("previous", string(prev)).
			Msg("device status changed")

		w.events.DeviceStatusChanged(&models.DeviceStatusChange{
			DeviceID:       d.DeviceID,
			Status:         status,
			PreviousStatus: prev,
			Timestamp:      now,
		})
	}
}
