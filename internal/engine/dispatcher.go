package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/relation"
)

// Kind names an external lifecycle event.
type Kind string

const (
	RepoChanged         Kind = "repo-changed"
	ConfigChanged       Kind = "config-changed"
	BrokerConnected     Kind = "amqp-connected"
	BrokerAvailable     Kind = "amqp-available"
	BrokerUnavailable   Kind = "amqp-unavailable"
	DatabaseAvailable   Kind = "db-available"
	DatabaseUnavailable Kind = "db-unavailable"
	WebsiteAvailable    Kind = "website-available"
	WebsiteUnavailable  Kind = "website-unavailable"
)

// Kinds lists every routable event.
var Kinds = []Kind{
	RepoChanged, ConfigChanged,
	BrokerConnected, BrokerAvailable, BrokerUnavailable,
	DatabaseAvailable, DatabaseUnavailable,
	WebsiteAvailable, WebsiteUnavailable,
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}

// Event is one delivery. Database and Broker carry the peer's data for the
// matching *-available kinds.
type Event struct {
	ID       uuid.UUID
	Kind     Kind
	Database *relation.DatabaseDescriptor
	Broker   *relation.BrokerDescriptor
}

func NewEvent(kind Kind) Event {
	return Event{ID: uuid.New(), Kind: kind}
}

const (
	lockRetryDelay = 250 * time.Millisecond
	saveTimeout    = 10 * time.Second
)

// Dispatcher runs events one at a time, within this process through a mutex
// and across processes through a file lock, so hook invocations and the
// serve loop never reconcile concurrently.
type Dispatcher struct {
	mu      sync.Mutex
	lock    *flock.Flock
	engine  *Engine
	log     logger.Logger
	timeout time.Duration
}

func NewDispatcher(e *Engine, lockPath string, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		lock:   flock.New(lockPath),
		engine: e,
		log:    log,
	}
}

// SetTimeout bounds every Dispatch, lock wait included. Zero means no bound.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = timeout
}

// Dispatch loads the persisted flags, routes the event and saves the flags
// again, also when the handler failed part way.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (err error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	locked, err := d.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire event lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire event lock %s: not acquired", d.lock.Path())
	}
	defer func() {
		if uerr := d.lock.Unlock(); uerr != nil {
			d.log.Warn("release event lock", logger.Error(uerr))
		}
	}()

	e := d.engine
	if err := e.loadFlags(ctx); err != nil {
		return err
	}
	if err := e.d.Settings.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh settings: %w", err)
	}

	log := d.log.With(
		logger.String("event", string(ev.Kind)),
		logger.String("event_id", ev.ID.String()))
	e.log = log

	start := time.Now()
	log.Info("handling event")

	defer func() {
		// Flags set before a timeout still have to be persisted.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()
		if serr := e.saveFlags(saveCtx); serr != nil && err == nil {
			err = serr
		}
		if err != nil {
			log.Error("event failed", logger.Duration("elapsed", time.Since(start)), logger.Error(err))
			return
		}
		log.Info("event handled", logger.Duration("elapsed", time.Since(start)))
	}()

	return d.route(ctx, ev)
}

func (d *Dispatcher) route(ctx context.Context, ev Event) error {
	e := d.engine
	switch ev.Kind {
	case RepoChanged:
		return e.OnRepoChanged(ctx)
	case ConfigChanged:
		if e.d.Settings.Changed(settingRepo) && e.d.Settings.Get(settingRepo) != "" {
			return e.OnRepoChanged(ctx)
		}
		return e.OnConfigChanged(ctx)
	case BrokerConnected:
		return e.OnBrokerConnected(ctx)
	case BrokerAvailable:
		if ev.Broker == nil {
			return fmt.Errorf("%s: missing broker data", ev.Kind)
		}
		return e.OnBrokerAvailable(ctx, *ev.Broker)
	case BrokerUnavailable:
		return e.OnBrokerUnavailable(ctx)
	case DatabaseAvailable:
		if ev.Database == nil {
			return fmt.Errorf("%s: missing database data", ev.Kind)
		}
		return e.OnDatabaseAvailable(ctx, *ev.Database)
	case DatabaseUnavailable:
		return e.OnDatabaseUnavailable(ctx)
	case WebsiteAvailable:
		return e.OnWebsiteAvailable(ctx)
	case WebsiteUnavailable:
		return e.OnWebsiteUnavailable(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}

// Flags returns the persisted flags without running any handler.
func (d *Dispatcher) Flags(ctx context.Context) (Flags, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.engine.loadFlags(ctx); err != nil {
		return Flags{}, err
	}
	return d.engine.Flags(), nil
}

// PendingSettings lists the settings that changed since the last commit.
func (d *Dispatcher) PendingSettings(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.engine.d.Settings.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh settings: %w", err)
	}
	return d.engine.d.Settings.ChangedNames(), nil
}
