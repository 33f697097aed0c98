package engine

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/inifile"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/relation"
	redisstore "github.com/MrSnakeDoc/reviewqueue-agent/internal/store/redis"
)

// OnRepoChanged installs the application from the repo setting, then
// re-renders everything the fresh config file is missing and brings the
// services back according to dependency availability.
func (e *Engine) OnRepoChanged(ctx context.Context) error {
	if err := e.report(ctx, domain.Maintenance("Installing Review Queue")); err != nil {
		return err
	}
	if err := e.d.Installer.Install(ctx, e.d.Settings.Get(settingRepo)); err != nil {
		return err
	}
	e.flags.Installed = true

	// The install dropped in the packaged config: every setting and any
	// cached connection must be written again.
	if _, err := e.applySettings(ctx, true); err != nil {
		return err
	}
	return e.reconnect(ctx)
}

// reconnect writes cached connection URIs into a freshly installed config
// and restarts the services they gate.
func (e *Engine) reconnect(ctx context.Context) error {
	if !e.flags.DatabaseAvailable {
		return e.report(ctx, domain.Waiting("Waiting for database"))
	}
	dbURI, ok, err := e.d.State.Get(ctx, redisstore.KeyDatabaseURI)
	if err != nil {
		return err
	}
	if !ok {
		return e.report(ctx, domain.Waiting("Waiting for database"))
	}
	if err := e.writeDatabase(ctx, dbURI); err != nil {
		return err
	}
	started, err := e.restartWeb(ctx)
	if err != nil || !started {
		return err
	}
	return e.reconnectBroker(ctx)
}

func (e *Engine) reconnectBroker(ctx context.Context) error {
	if !e.flags.BrokerAvailable {
		return nil
	}
	brokerURI, ok, err := e.d.State.Get(ctx, redisstore.KeyBrokerURI)
	if err != nil || !ok {
		return err
	}
	if err := e.writeBroker(brokerURI); err != nil {
		return err
	}
	_, err = e.restartWorker(ctx)
	return err
}

// OnConfigChanged writes changed settings in one batch, runs per-key
// follow-ups and restarts the services whose dependencies are available.
// It does nothing until the application is installed.
func (e *Engine) OnConfigChanged(ctx context.Context) error {
	if !e.flags.Installed {
		e.log.Info("config changed before install, skipping")
		return nil
	}

	changed, err := e.applySettings(ctx, false)
	if err != nil {
		return err
	}
	if !changed || !e.flags.DatabaseAvailable {
		return nil
	}

	started, err := e.restartWeb(ctx)
	if err != nil {
		return err
	}
	if started && e.flags.BrokerAvailable {
		_, err = e.restartWorker(ctx)
	}
	return err
}

// applySettings writes every changed setting (all of them when force is
// set) to the config file, runs per-key follow-ups and commits the
// settings snapshot. It reports whether any key was collected.
func (e *Engine) applySettings(ctx context.Context, force bool) (bool, error) {
	var pairs []inifile.Pair
	for _, key := range IniKeys {
		name := SettingName(key)
		if force || e.d.Settings.Changed(name) {
			pairs = append(pairs, inifile.Pair{Key: key, Value: e.d.Settings.Get(name)})
		}
	}

	if len(pairs) > 0 {
		if _, err := e.d.Config.Apply(pairs, ""); err != nil {
			return false, err
		}
		for _, p := range pairs {
			if err := e.afterChange(ctx, p.Key); err != nil {
				return false, err
			}
		}
	}

	if err := e.d.Settings.Commit(ctx); err != nil {
		return false, err
	}
	return len(pairs) > 0, nil
}

func (e *Engine) afterChange(ctx context.Context, key string) error {
	if key != settingPort {
		return nil
	}
	port := e.d.Settings.Get(settingPort)
	if err := e.d.Ports.OpenPort(ctx, port); err != nil {
		return fmt.Errorf("open port %s: %w", port, err)
	}
	if prev := e.d.Settings.Previous(settingPort); prev != "" && prev != port {
		if err := e.d.Ports.ClosePort(ctx, prev); err != nil {
			return fmt.Errorf("close port %s: %w", prev, err)
		}
	}
	if e.flags.WebsiteAvailable {
		return e.d.Website.ConfigureWebsite(ctx, port)
	}
	return nil
}

// OnBrokerConnected asks the broker for credentials.
func (e *Engine) OnBrokerConnected(ctx context.Context) error {
	return e.d.Broker.RequestAccess(ctx, relation.AccessUsername, relation.AccessVhost)
}

// OnBrokerAvailable writes the broker URI and restarts the task service,
// unless the URI is unchanged and the task service is already running.
func (e *Engine) OnBrokerAvailable(ctx context.Context, desc relation.BrokerDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	e.flags.BrokerAvailable = true
	uri := desc.URI()

	if !e.flags.Installed {
		e.log.Info("broker available before install, deferring")
		return e.d.State.Set(ctx, redisstore.KeyBrokerURI, uri)
	}

	cached, _, err := e.d.State.Get(ctx, redisstore.KeyBrokerURI)
	if err != nil {
		return err
	}
	workerRunning, err := e.isRunning(ctx, e.d.TaskService)
	if err != nil {
		return err
	}
	if cached == uri && workerRunning {
		e.log.Debug("broker unchanged and task service running")
		return nil
	}

	if err := e.d.State.Set(ctx, redisstore.KeyBrokerURI, uri); err != nil {
		return err
	}
	if err := e.writeBroker(uri); err != nil {
		return err
	}

	if !e.flags.DatabaseAvailable {
		e.log.Info("task service waits for the database")
		return nil
	}
	webRunning, err := e.isRunning(ctx, e.d.WebService)
	if err != nil || !webRunning {
		return err
	}
	_, err = e.restartWorker(ctx)
	return err
}

func (e *Engine) writeBroker(uri string) error {
	_, err := e.d.Config.Apply([]inifile.Pair{
		{Key: keyBroker, Value: uri},
		{Key: keyBackend, Value: relation.BrokerBackend},
	}, sectionCelery)
	return err
}

// OnBrokerUnavailable forgets the broker URI and stops the task service.
func (e *Engine) OnBrokerUnavailable(ctx context.Context) error {
	e.flags.BrokerAvailable = false
	if err := e.d.State.Delete(ctx, redisstore.KeyBrokerURI); err != nil {
		return err
	}
	return e.stopIfRunning(ctx, e.d.TaskService)
}

// OnDatabaseAvailable writes the database URI, initializes the schema and
// restarts the web service, unless the URI is unchanged and the web service
// is already running.
func (e *Engine) OnDatabaseAvailable(ctx context.Context, desc relation.DatabaseDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	e.flags.DatabaseAvailable = true
	uri := desc.URI()

	if !e.flags.Installed {
		e.log.Info("database available before install, deferring")
		return e.d.State.Set(ctx, redisstore.KeyDatabaseURI, uri)
	}

	cached, _, err := e.d.State.Get(ctx, redisstore.KeyDatabaseURI)
	if err != nil {
		return err
	}
	webRunning, err := e.isRunning(ctx, e.d.WebService)
	if err != nil {
		return err
	}
	if cached == uri && webRunning {
		e.log.Debug("database unchanged and web service running")
		return nil
	}

	if err := e.d.State.Set(ctx, redisstore.KeyDatabaseURI, uri); err != nil {
		return err
	}
	if err := e.writeDatabase(ctx, uri); err != nil {
		return err
	}
	started, err := e.restartWeb(ctx)
	if err != nil {
		return err
	}
	// The task service reads the same database URL.
	if started && e.flags.BrokerAvailable {
		_, err = e.restartWorker(ctx)
	}
	return err
}

func (e *Engine) writeDatabase(ctx context.Context, uri string) error {
	if _, err := e.d.Config.Apply([]inifile.Pair{{Key: keySQLAlchemyURL, Value: uri}}, ""); err != nil {
		return err
	}
	return e.d.Installer.InitializeDB(ctx, e.d.Config.Path())
}

// OnDatabaseUnavailable forgets the database URI and stops both services;
// the task service never runs without a database.
func (e *Engine) OnDatabaseUnavailable(ctx context.Context) error {
	e.flags.DatabaseAvailable = false
	if err := e.d.State.Delete(ctx, redisstore.KeyDatabaseURI); err != nil {
		return err
	}
	if err := e.stopIfRunning(ctx, e.d.WebService); err != nil {
		return err
	}
	if err := e.stopIfRunning(ctx, e.d.TaskService); err != nil {
		return err
	}
	return e.report(ctx, domain.Waiting("Waiting for database"))
}

// OnWebsiteAvailable publishes the current port to the website peer.
func (e *Engine) OnWebsiteAvailable(ctx context.Context) error {
	e.flags.WebsiteAvailable = true
	port := e.d.Settings.Get(settingPort)
	e.log.Info("configuring website relation", logger.String("port", port))
	return e.d.Website.ConfigureWebsite(ctx, port)
}

// OnWebsiteUnavailable stops port updates to the website peer.
func (e *Engine) OnWebsiteUnavailable(context.Context) error {
	e.flags.WebsiteAvailable = false
	return nil
}
