package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/engine"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// Dispatcher runs lifecycle events and exposes the persisted flags.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev engine.Event) error
	Flags(ctx context.Context) (engine.Flags, error)
}

// StateReader reads the agent's state store.
type StateReader interface {
	GetStatus(ctx context.Context) (domain.Status, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	InitSystem    string        // "systemd" or "upstart"
	AllowedCIDRS  []string      // IPs allowed to post events and trigger reloads
	TrustProxy    bool          // true if running behind a trusted reverse proxy
	Dispatcher    Dispatcher    // serialized event dispatch
	State         StateReader   // Redis-backed status and flags
	ReloadTrigger chan struct{} // Channel to trigger a manual settings check
	PingTimeout   time.Duration // upper bound for the readiness probe
}
