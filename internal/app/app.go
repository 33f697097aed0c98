package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/command"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/config"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/engine"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver/deps"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/inifile"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/install"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/redis"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/relation"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/scheduler"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/service"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/settings"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/status"
	redisstore "github.com/MrSnakeDoc/reviewqueue-agent/internal/store/redis"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/version"
)

// App wires the agent. Hook invocations use Dispatch and exit; serve mode
// runs the HTTP API and the settings watcher on top of the same dispatcher.
type App struct {
	cfg         *config.Config
	logger      logger.Logger
	redisClient *goredis.Client
	store       *redisstore.Store
	services    service.Controller
	dispatcher  *engine.Dispatcher
}

func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	// Initialize Redis early - fail fast if unavailable
	loggerClient.Debugf("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.Connect(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	store := redisstore.NewStore(redisClient, cfg.RedisKeyPrefix)

	a := &App{cfg: cfg, logger: loggerClient, redisClient: redisClient, store: store}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	st, err := settings.Open(ctx, cfg.SettingsSchema, cfg.SettingsFile, a.store)
	if err != nil {
		return err
	}

	runner := command.NewExecRunner(log.With(logger.String("component", "command")))

	services, err := service.Detect(ctx, runner, log)
	if err != nil {
		return fmt.Errorf("failed to connect to init system: %w", err)
	}
	a.services = services

	installer := install.NewManager(install.Options{
		AppDir:      cfg.AppDir,
		IniPath:     cfg.IniPath,
		CharmDir:    cfg.CharmDir,
		SystemdDir:  cfg.SystemdDir,
		UpstartDir:  cfg.UpstartDir,
		WebService:  cfg.WebService,
		TaskService: cfg.TaskService,
		User:        cfg.AppUser,
		Group:       cfg.AppGroup,
	}, runner, services, log.With(logger.String("component", "install")))

	hooks := relation.NewHookTools(runner, log.With(logger.String("component", "hooks")))
	reporter := status.NewReporter(a.store, hooks, log)

	eng := engine.New(engine.Deps{
		Settings:    st,
		State:       a.store,
		Config:      inifile.NewWriter(cfg.IniPath, log.With(logger.String("component", "inifile"))),
		Services:    services,
		Installer:   installer,
		Ports:       hooks,
		Website:     hooks,
		Broker:      hooks,
		Reporter:    reporter,
		Logger:      log,
		WebService:  service.Handle(cfg.WebService),
		TaskService: service.Handle(cfg.TaskService),
	})
	a.dispatcher = engine.NewDispatcher(eng, cfg.LockFile, log)
	a.dispatcher.SetTimeout(cfg.CommandTimeout)
	return nil
}

// Dispatch runs one event, bounded by the command timeout.
func (a *App) Dispatch(ctx context.Context, ev engine.Event) error {
	return a.dispatcher.Dispatch(ctx, ev)
}

// Status returns the last reported status and the persisted flags.
func (a *App) Status(ctx context.Context) (domain.Status, engine.Flags, error) {
	st, err := a.store.GetStatus(ctx)
	if err != nil {
		return domain.Status{}, engine.Flags{}, err
	}
	flags, err := a.dispatcher.Flags(ctx)
	if err != nil {
		return domain.Status{}, engine.Flags{}, err
	}
	return st, flags, nil
}

// Serve runs the HTTP API and the settings watcher until SIGINT/SIGTERM.
func (a *App) Serve() error {
	a.logger.Infof("🚀 Starting %s on %s", version.String(), a.cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reloadTrigger := make(chan struct{}, 1)
	watcher := scheduler.NewSettingsWatcher(
		a.dispatcher,
		a.logger.With(logger.String("component", "watcher")),
		a.cfg.WatchInterval,
		reloadTrigger,
	)

	d := deps.Deps{
		Logger:        a.logger,
		StartTime:     time.Now(),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.BuildDate,
		GoVersion:     version.GoVersion,
		InitSystem:    a.services.Kind(),
		AllowedCIDRS:  a.cfg.AllowedCIDRS,
		TrustProxy:    a.cfg.TrustProxy,
		Dispatcher:    a.dispatcher,
		State:         a.store,
		ReloadTrigger: reloadTrigger,
		PingTimeout:   a.cfg.RedisPingTimeout,
	}
	server := httpserver.New(a.cfg, a.logger, d)

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start settings watcher: %w", err)
	}
	a.logger.Info("settings watcher started",
		logger.Duration("interval", a.cfg.WatchInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		watcher.Stop()
		return err
	}

	watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	a.logger.Info("✅ reviewqueue-agent stopped cleanly")
	return nil
}

// Close releases the init system and Redis connections.
func (a *App) Close() {
	if c, ok := a.services.(interface{ Close() }); ok {
		c.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Debug("Redis closed cleanly")
		}
	}
}
