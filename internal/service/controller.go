// Package service starts, stops and inspects the application's OS services.
package service

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/util"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/command"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// Handle names one managed service (without any init-system suffix).
type Handle string

// Controller drives services through the host's init system. Errors are
// returned only when the init system itself could not be talked to; a
// service that refuses to start is reported through IsRunning.
type Controller interface {
	Start(ctx context.Context, h Handle) error
	Stop(ctx context.Context, h Handle) error
	IsRunning(ctx context.Context, h Handle) (bool, error)
	// Reload makes the init system pick up changed unit definitions.
	Reload(ctx context.Context) error
	// Kind names the init system ("systemd" or "upstart").
	Kind() string
}

// Restart stops h if it is running, starts it again and reports whether it
// is running afterwards.
func Restart(ctx context.Context, c Controller, h Handle) (bool, error) {
	running, err := c.IsRunning(ctx, h)
	if err != nil {
		return false, err
	}
	if running {
		if err := c.Stop(ctx, h); err != nil {
			return false, fmt.Errorf("restart %s: %w", h, err)
		}
	}
	if err := c.Start(ctx, h); err != nil {
		return false, fmt.Errorf("restart %s: %w", h, err)
	}
	return c.IsRunning(ctx, h)
}

// Detect picks the controller for the running init system.
func Detect(ctx context.Context, runner command.Runner, log logger.Logger) (Controller, error) {
	if util.IsRunningSystemd() {
		log.Debug("init system detected", logger.String("kind", "systemd"))
		return NewSystemd(ctx, log)
	}
	log.Debug("init system detected", logger.String("kind", "upstart"))
	return NewUpstart(runner, log), nil
}
