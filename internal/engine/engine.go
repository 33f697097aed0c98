// Package engine reconciles the rendered application config and the state
// of the web and task services with the latest settings and dependency
// availability.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/inifile"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/service"
	redisstore "github.com/MrSnakeDoc/reviewqueue-agent/internal/store/redis"
)

// IniKeys lists the application config keys driven by settings, in write
// order. The backing setting name replaces '.' with '_'.
var IniKeys = []string{
	"port",
	"base_url",
	"charmstore.api.url",
	"launchpad.api.url",
	"testing.timeout",
	"testing.substrates",
	"testing.default_substrates",
	"testing.jenkins_url",
	"testing.jenkins_token",
	"sendgrid.api_key",
	"sendgrid.from_email",
}

// SettingName maps an ini key to the setting that feeds it.
func SettingName(iniKey string) string {
	return strings.ReplaceAll(iniKey, ".", "_")
}

const (
	settingRepo = "repo"
	settingPort = "port"

	keySQLAlchemyURL = "sqlalchemy.url"
	keyBroker        = "broker"
	keyBackend       = "backend"
	sectionCelery    = "celery"
)

// ErrUnknownEvent is returned for events the dispatcher cannot route.
var ErrUnknownEvent = errors.New("unknown event")

// Settings is the desired configuration with change detection.
type Settings interface {
	// Refresh re-reads the settings and the last committed snapshot.
	Refresh(ctx context.Context) error
	Get(name string) string
	Previous(name string) string
	Changed(name string) bool
	ChangedNames() []string
	Commit(ctx context.Context) error
}

// State is the durable key-value cache.
type State interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// ConfigWriter updates the rendered application config.
type ConfigWriter interface {
	Apply(pairs []inifile.Pair, section string) (bool, error)
	Path() string
}

// Installer places the application on disk and initializes its database.
type Installer interface {
	Install(ctx context.Context, repo string) error
	InitializeDB(ctx context.Context, iniPath string) error
}

// Ports opens and closes the public port.
type Ports interface {
	OpenPort(ctx context.Context, port string) error
	ClosePort(ctx context.Context, port string) error
}

// Website publishes the serving port to the web-facing peer.
type Website interface {
	ConfigureWebsite(ctx context.Context, port string) error
}

// Broker requests credentials from the message broker.
type Broker interface {
	RequestAccess(ctx context.Context, username, vhost string) error
}

// Reporter publishes the workload status.
type Reporter interface {
	Report(ctx context.Context, st domain.Status) error
}

// Deps are the engine's collaborators.
type Deps struct {
	Settings  Settings
	State     State
	Config    ConfigWriter
	Services  service.Controller
	Installer Installer
	Ports     Ports
	Website   Website
	Broker    Broker
	Reporter  Reporter
	Logger    logger.Logger

	WebService  service.Handle
	TaskService service.Handle
}

// Flags is the explicit state the dispatcher routes on.
type Flags struct {
	Installed         bool `json:"installed"`
	DatabaseAvailable bool `json:"database_available"`
	BrokerAvailable   bool `json:"broker_available"`
	WebsiteAvailable  bool `json:"website_available"`
}

// Engine holds the reconciliation logic. It is not safe for concurrent use;
// callers go through a Dispatcher.
type Engine struct {
	d     Deps
	log   logger.Logger
	flags Flags
}

func New(d Deps) *Engine {
	return &Engine{d: d, log: d.Logger}
}

// Flags returns the flags as of the last load or handler run.
func (e *Engine) Flags() Flags { return e.flags }

func (e *Engine) loadFlags(ctx context.Context) error {
	var f Flags
	if _, err := e.d.State.GetJSON(ctx, redisstore.KeyFlags, &f); err != nil {
		return fmt.Errorf("load flags: %w", err)
	}
	e.flags = f
	return nil
}

func (e *Engine) saveFlags(ctx context.Context) error {
	if err := e.d.State.SetJSON(ctx, redisstore.KeyFlags, e.flags); err != nil {
		return fmt.Errorf("save flags: %w", err)
	}
	return nil
}

func (e *Engine) report(ctx context.Context, st domain.Status) error {
	if err := e.d.Reporter.Report(ctx, st); err != nil {
		return fmt.Errorf("report status: %w", err)
	}
	return nil
}

func (e *Engine) isRunning(ctx context.Context, h service.Handle) (bool, error) {
	running, err := e.d.Services.IsRunning(ctx, h)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", h, err)
	}
	return running, nil
}

func (e *Engine) stopIfRunning(ctx context.Context, h service.Handle) error {
	running, err := e.isRunning(ctx, h)
	if err != nil || !running {
		return err
	}
	e.log.Info("stopping service", logger.String("service", string(h)))
	if err := e.d.Services.Stop(ctx, h); err != nil {
		return fmt.Errorf("stop %s: %w", h, err)
	}
	return nil
}

// restartWeb restarts the web service and reports the outcome.
func (e *Engine) restartWeb(ctx context.Context) (bool, error) {
	started, err := service.Restart(ctx, e.d.Services, e.d.WebService)
	if err != nil {
		return false, err
	}
	e.log.Info("web service restarted", logger.Bool("running", started))
	if !started {
		return false, e.report(ctx, domain.Blocked("Service failed to start"))
	}
	return true, e.report(ctx, domain.Serving(e.d.Settings.Get(settingPort)))
}

// restartWorker restarts the task service and reports a failed start the
// same way restartWeb does.
func (e *Engine) restartWorker(ctx context.Context) (bool, error) {
	started, err := service.Restart(ctx, e.d.Services, e.d.TaskService)
	if err != nil {
		return false, err
	}
	e.log.Info("task service restarted", logger.Bool("running", started))
	if !started {
		return false, e.report(ctx, domain.Blocked("Task service failed to start"))
	}

	webRunning, err := e.isRunning(ctx, e.d.WebService)
	if err != nil {
		return true, err
	}
	if webRunning {
		return true, e.report(ctx, domain.Serving(e.d.Settings.Get(settingPort)))
	}
	return true, nil
}
