package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/command"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// Upstart controls jobs through the service(8) wrapper on pre-systemd hosts.
type Upstart struct {
	runner command.Runner
	logger logger.Logger
}

func NewUpstart(runner command.Runner, log logger.Logger) *Upstart {
	return &Upstart{runner: runner, logger: log}
}

func (u *Upstart) Kind() string { return "upstart" }

func (u *Upstart) Start(ctx context.Context, h Handle) error {
	return u.service(ctx, h, "start")
}

func (u *Upstart) Stop(ctx context.Context, h Handle) error {
	return u.service(ctx, h, "stop")
}

func (u *Upstart) service(ctx context.Context, h Handle, action string) error {
	_, err := u.runner.Run(ctx, command.Cmd{Name: "service", Args: []string{string(h), action}})
	if err == nil {
		return nil
	}
	if command.IsExitError(err) && action == "start" {
		u.logger.Warn("service start exited non-zero",
			logger.String("service", string(h)),
			logger.Error(err))
		return nil
	}
	return fmt.Errorf("%s %s: %w", action, h, err)
}

func (u *Upstart) IsRunning(ctx context.Context, h Handle) (bool, error) {
	out, err := u.runner.Run(ctx, command.Cmd{Name: "service", Args: []string{string(h), "status"}})
	if err != nil {
		if command.IsExitError(err) {
			return false, nil
		}
		return false, fmt.Errorf("status %s: %w", h, err)
	}
	s := string(out)
	return strings.Contains(s, "start/running") ||
		strings.Contains(s, "is running") ||
		strings.Contains(s, "up and running"), nil
}

func (u *Upstart) Reload(ctx context.Context) error {
	if _, err := u.runner.Run(ctx, command.Cmd{Name: "initctl", Args: []string{"reload-configuration"}}); err != nil {
		return fmt.Errorf("initctl reload-configuration: %w", err)
	}
	return nil
}
