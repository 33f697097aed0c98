package service

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// unitConn is the subset of the systemd D-Bus API the controller uses.
type unitConn interface {
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	GetUnitPropertyContext(ctx context.Context, unit string, propertyName string) (*dbus.Property, error)
	ReloadContext(ctx context.Context) error
	Close()
}

// Systemd controls units over the systemd D-Bus API.
type Systemd struct {
	conn   unitConn
	logger logger.Logger
}

// NewSystemd connects to the system bus.
func NewSystemd(ctx context.Context, log logger.Logger) (*Systemd, error) {
	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Systemd{conn: conn, logger: log}, nil
}

func unitName(h Handle) string {
	return string(h) + ".service"
}

func (s *Systemd) Kind() string { return "systemd" }

func (s *Systemd) Start(ctx context.Context, h Handle) error {
	result, err := s.runJob(ctx, h, s.conn.StartUnitContext)
	if err != nil {
		return fmt.Errorf("start %s: %w", unitName(h), err)
	}
	// A failed start job is a service problem, not a systemd one.
	if result != "done" {
		s.logger.Warn("start job did not complete",
			logger.String("unit", unitName(h)),
			logger.String("result", result))
	}
	return nil
}

func (s *Systemd) Stop(ctx context.Context, h Handle) error {
	result, err := s.runJob(ctx, h, s.conn.StopUnitContext)
	if err != nil {
		return fmt.Errorf("stop %s: %w", unitName(h), err)
	}
	if result != "done" {
		return fmt.Errorf("stop %s: job %s", unitName(h), result)
	}
	return nil
}

func (s *Systemd) IsRunning(ctx context.Context, h Handle) (bool, error) {
	prop, err := s.conn.GetUnitPropertyContext(ctx, unitName(h), "ActiveState")
	if err != nil {
		return false, fmt.Errorf("query %s: %w", unitName(h), err)
	}
	state, _ := prop.Value.Value().(string)
	return state == "active" || state == "reloading", nil
}

func (s *Systemd) Reload(ctx context.Context) error {
	if err := s.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("systemd daemon-reload: %w", err)
	}
	return nil
}

// Close releases the bus connection.
func (s *Systemd) Close() {
	s.conn.Close()
}

type jobFunc func(ctx context.Context, name string, mode string, ch chan<- string) (int, error)

// runJob queues a job in "replace" mode and waits for its result.
func (s *Systemd) runJob(ctx context.Context, h Handle, fn jobFunc) (string, error) {
	done := make(chan string, 1)
	if _, err := fn(ctx, unitName(h), "replace", done); err != nil {
		return "", err
	}
	select {
	case result := <-done:
		s.logger.Debug("systemd job finished",
			logger.String("unit", unitName(h)),
			logger.String("result", result))
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
