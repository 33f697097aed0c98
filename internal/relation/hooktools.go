package relation

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/command"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// HookTools drives the host's hook commands (status-set, open-port,
// relation-set, ...). When a tool is not installed the call is skipped, so
// the agent also runs outside a hook environment.
type HookTools struct {
	runner    command.Runner
	logger    logger.Logger
	available func(name string) bool
}

func NewHookTools(runner command.Runner, log logger.Logger) *HookTools {
	return &HookTools{runner: runner, logger: log, available: command.Available}
}

func (h *HookTools) run(ctx context.Context, name string, args ...string) (string, error) {
	if !h.available(name) {
		h.logger.Debug("hook tool not available, skipping", logger.String("tool", name))
		return "", nil
	}
	out, err := h.runner.Run(ctx, command.Cmd{Name: name, Args: args})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// SetStatus publishes the workload status.
func (h *HookTools) SetStatus(ctx context.Context, st domain.Status) error {
	_, err := h.run(ctx, "status-set", string(st.State), st.Message)
	return err
}

func (h *HookTools) OpenPort(ctx context.Context, port string) error {
	_, err := h.run(ctx, "open-port", port)
	return err
}

func (h *HookTools) ClosePort(ctx context.Context, port string) error {
	_, err := h.run(ctx, "close-port", port)
	return err
}

// RequestAccess asks the broker for credentials on the current relation.
func (h *HookTools) RequestAccess(ctx context.Context, username, vhost string) error {
	_, err := h.run(ctx, "relation-set", "username="+username, "vhost="+vhost)
	return err
}

// ConfigureWebsite publishes hostname and port on every website relation.
func (h *HookTools) ConfigureWebsite(ctx context.Context, port string) error {
	ids, err := h.run(ctx, "relation-ids", "website")
	if err != nil {
		return fmt.Errorf("list website relations: %w", err)
	}
	if ids == "" {
		return nil
	}
	host, err := h.run(ctx, "unit-get", "private-address")
	if err != nil {
		return fmt.Errorf("resolve private address: %w", err)
	}
	for _, id := range strings.Fields(ids) {
		if _, err := h.run(ctx, "relation-set", "-r", id, "hostname="+host, "port="+port); err != nil {
			return fmt.Errorf("configure website relation %s: %w", id, err)
		}
	}
	return nil
}
