package session

import (
	"context"
	"log/slog"
	"time"
)

// Keeper is the periodic housekeeping trigger for session refresh: a
// background worker that refreshes the session before it expires so portal
// requests rarely hit an expired token. It is just another uncoordinated
// refresh call site; the coordinator's single-flight guard does the
// serialising.
type Keeper struct {
	coordinator *Coordinator
	logger      *slog.Logger
	interval    time.Duration
	threshold   time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKeeper creates a keepalive worker. Zero interval defaults to one
// minute; zero threshold defaults to five minutes before expiry.
func NewKeeper(c *Coordinator, logger *slog.Logger, interval, threshold time.Duration) *Keeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}

	return &Keeper{
		coordinator: c,
		logger:      logger,
		interval:    interval,
		threshold:   threshold,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (k *Keeper) Start() {
	go k.run()
	k.logger.Info("session keeper started",
		"interval", k.interval,
		"threshold", k.threshold,
	)
}

// Stop shuts the worker down, blocking until any in-progress tick finishes.
func (k *Keeper) Stop() {
	close(k.stopCh)
	<-k.doneCh
	k.logger.Info("session keeper stopped")
}

func (k *Keeper) run() {
	defer close(k.doneCh)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.tick()
		case <-k.stopCh:
			return
		}
	}
}

func (k *Keeper) tick() {
	snap := k.coordinator.Snapshot()
	if snap.Session == nil {
		return
	}
	if !snap.Session.ExpiresWithin(k.threshold) {
		return
	}

	k.logger.Debug("session close to expiry, refreshing")
	k.coordinator.Refresh(context.Background())
}
