package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/engine"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// Dispatcher is the part of engine.Dispatcher the watcher drives.
type Dispatcher interface {
	PendingSettings(ctx context.Context) ([]string, error)
	Dispatch(ctx context.Context, ev engine.Event) error
}

// SettingsWatcher polls the settings file and dispatches config-changed
// when a value differs from the last committed snapshot.
type SettingsWatcher struct {
	dispatcher    Dispatcher
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}

	// lastFailed is the pending set of the last dispatch that left settings
	// uncommitted; the ticker does not retry it until the set changes.
	lastFailed string
}

// NewSettingsWatcher creates a watcher. Sends on manualTrigger force a check.
func NewSettingsWatcher(
	dispatcher Dispatcher,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *SettingsWatcher {
	return &SettingsWatcher{
		dispatcher:    dispatcher,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start checks once, then keeps checking on every tick and manual trigger
// until Stop or ctx is done.
func (w *SettingsWatcher) Start(ctx context.Context) error {
	if err := w.Check(ctx, false); err != nil {
		w.logger.Error("initial settings check failed", logger.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.Check(ctx, false); err != nil {
					w.logger.Error("settings check failed", logger.Error(err))
				}
			case <-w.manualTrigger:
				w.logger.Info("manual settings reload triggered")
				if err := w.Check(ctx, true); err != nil {
					w.logger.Error("settings check failed", logger.Error(err))
				}
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the watcher.
func (w *SettingsWatcher) Stop() {
	close(w.stopCh)
}

// Check dispatches config-changed if any setting is pending. Unless force is
// set, a pending set that already failed to apply is skipped.
func (w *SettingsWatcher) Check(ctx context.Context, force bool) error {
	names, err := w.dispatcher.PendingSettings(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		w.lastFailed = ""
		return nil
	}

	key := strings.Join(names, ",")
	if !force && key == w.lastFailed {
		w.logger.Debug("pending settings unchanged since last attempt", logger.Strings("settings", names))
		return nil
	}

	w.logger.Info("settings changed", logger.Strings("settings", names))
	if err := w.dispatcher.Dispatch(ctx, engine.NewEvent(engine.ConfigChanged)); err != nil {
		w.lastFailed = key
		return fmt.Errorf("dispatch %s: %w", engine.ConfigChanged, err)
	}

	// config-changed before install leaves everything pending.
	if still, err := w.dispatcher.PendingSettings(ctx); err == nil && len(still) > 0 {
		w.lastFailed = strings.Join(still, ",")
	} else {
		w.lastFailed = ""
	}
	return nil
}
