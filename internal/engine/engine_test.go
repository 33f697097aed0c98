package engine

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/inifile"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/relation"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/service"
	redisstore "github.com/MrSnakeDoc/reviewqueue-agent/internal/store/redis"
)

const (
	webSvc  service.Handle = "reviewqueue"
	taskSvc service.Handle = "reviewqueue-tasks"
)

// ---------- fakes ----------

type fakeSettings struct {
	values    map[string]string
	committed map[string]string
	commits   int
}

func newFakeSettings(values map[string]string) *fakeSettings {
	return &fakeSettings{values: values, committed: map[string]string{}}
}

func (s *fakeSettings) Refresh(context.Context) error { return nil }
func (s *fakeSettings) Get(name string) string        { return s.values[name] }
func (s *fakeSettings) Previous(name string) string   { return s.committed[name] }
func (s *fakeSettings) Changed(name string) bool      { return s.values[name] != s.committed[name] }

func (s *fakeSettings) ChangedNames() []string {
	var names []string
	for k := range s.values {
		if s.Changed(k) {
			names = append(names, k)
		}
	}
	for k := range s.committed {
		if _, ok := s.values[k]; !ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func (s *fakeSettings) Commit(context.Context) error {
	s.commits++
	s.committed = make(map[string]string, len(s.values))
	for k, v := range s.values {
		s.committed[k] = v
	}
	return nil
}

type fakeServices struct {
	running   map[service.Handle]bool
	failStart map[service.Handle]bool
	starts    map[service.Handle]int
	stops     map[service.Handle]int
}

func newFakeServices() *fakeServices {
	return &fakeServices{
		running:   map[service.Handle]bool{},
		failStart: map[service.Handle]bool{},
		starts:    map[service.Handle]int{},
		stops:     map[service.Handle]int{},
	}
}

func (f *fakeServices) Start(_ context.Context, h service.Handle) error {
	f.starts[h]++
	f.running[h] = !f.failStart[h]
	return nil
}

func (f *fakeServices) Stop(_ context.Context, h service.Handle) error {
	f.stops[h]++
	f.running[h] = false
	return nil
}

func (f *fakeServices) IsRunning(_ context.Context, h service.Handle) (bool, error) {
	return f.running[h], nil
}

func (f *fakeServices) Reload(context.Context) error { return nil }
func (f *fakeServices) Kind() string                 { return "fake" }

type fakeInstaller struct {
	iniPath    string
	packaged   string
	installErr error
	initErr    error
	blockInit  bool
	repos      []string
	inits      []string
}

func (f *fakeInstaller) Install(_ context.Context, repo string) error {
	f.repos = append(f.repos, repo)
	if f.installErr != nil {
		return f.installErr
	}
	return os.WriteFile(f.iniPath, []byte(f.packaged), 0o644)
}

func (f *fakeInstaller) InitializeDB(ctx context.Context, iniPath string) error {
	f.inits = append(f.inits, iniPath)
	if f.blockInit {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.initErr
}

type fakeHooks struct {
	opened     []string
	closed     []string
	configured []string
	access     [][2]string
}

func (f *fakeHooks) OpenPort(_ context.Context, port string) error {
	f.opened = append(f.opened, port)
	return nil
}

func (f *fakeHooks) ClosePort(_ context.Context, port string) error {
	f.closed = append(f.closed, port)
	return nil
}

func (f *fakeHooks) ConfigureWebsite(_ context.Context, port string) error {
	f.configured = append(f.configured, port)
	return nil
}

func (f *fakeHooks) RequestAccess(_ context.Context, username, vhost string) error {
	f.access = append(f.access, [2]string{username, vhost})
	return nil
}

type fakeReporter struct {
	history []domain.Status
}

func (f *fakeReporter) Report(_ context.Context, st domain.Status) error {
	f.history = append(f.history, st)
	return nil
}

func (f *fakeReporter) last() domain.Status {
	if len(f.history) == 0 {
		return domain.Status{}
	}
	return f.history[len(f.history)-1]
}

// ---------- harness ----------

type harness struct {
	ctx       context.Context
	disp      *Dispatcher
	engine    *Engine
	ini       *inifile.Writer
	state     *redisstore.Store
	settings  *fakeSettings
	services  *fakeServices
	installer *fakeInstaller
	hooks     *fakeHooks
	reporter  *fakeReporter
	lockPath  string
}

const packagedIni = `[app:main]
use = egg:reviewqueue
sqlalchemy.url = postgresql://localhost/reviewqueue

[server:main]
use = egg:waitress#main
port = 6543
`

func newHarness(t *testing.T, flags Flags, values map[string]string) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	iniPath := filepath.Join(dir, "reviewqueue.ini")
	if err := os.WriteFile(iniPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	state := redisstore.NewStore(client, "rq:")
	if err := state.SetJSON(ctx, redisstore.KeyFlags, flags); err != nil {
		t.Fatal(err)
	}

	if values == nil {
		values = map[string]string{}
	}

	h := &harness{
		ctx:       ctx,
		ini:       inifile.NewWriter(iniPath, logger.NewNop()),
		state:     state,
		settings:  newFakeSettings(values),
		services:  newFakeServices(),
		installer: &fakeInstaller{iniPath: iniPath, packaged: packagedIni},
		hooks:     &fakeHooks{},
		reporter:  &fakeReporter{},
		lockPath:  filepath.Join(dir, "agent.lock"),
	}
	h.engine = New(Deps{
		Settings:    h.settings,
		State:       state,
		Config:      h.ini,
		Services:    h.services,
		Installer:   h.installer,
		Ports:       h.hooks,
		Website:     h.hooks,
		Broker:      h.hooks,
		Reporter:    h.reporter,
		Logger:      logger.NewNop(),
		WebService:  webSvc,
		TaskService: taskSvc,
	})
	h.disp = NewDispatcher(h.engine, h.lockPath, logger.NewNop())
	return h
}

func (h *harness) dispatch(t *testing.T, ev Event) {
	t.Helper()
	if err := h.disp.Dispatch(h.ctx, ev); err != nil {
		t.Fatalf("Dispatch(%s) failed: %v", ev.Kind, err)
	}
	h.checkWorkerInvariant(t)
}

func (h *harness) checkWorkerInvariant(t *testing.T) {
	t.Helper()
	f, err := h.disp.Flags(h.ctx)
	if err != nil {
		t.Fatalf("Flags failed: %v", err)
	}
	if h.services.running[taskSvc] && !(f.DatabaseAvailable && f.BrokerAvailable) {
		t.Fatalf("task service running with flags %+v", f)
	}
}

func (h *harness) iniValue(t *testing.T, section, key string) string {
	t.Helper()
	v, ok, err := h.ini.Get(section, key)
	if err != nil {
		t.Fatalf("Get(%s, %s) failed: %v", section, key, err)
	}
	if !ok {
		return "<absent>"
	}
	return v
}

var (
	dbA = relation.DatabaseDescriptor{
		User: "rq", Password: "secret", Host: "10.0.0.5", Port: "5432", Database: "reviewqueue",
	}
	brokerA = relation.BrokerDescriptor{
		Username: "reviewqueue", Password: "pw", PrivateAddress: "10.0.0.7", Vhost: "reviewqueue",
	}
)

func dbEvent(d relation.DatabaseDescriptor) Event {
	ev := NewEvent(DatabaseAvailable)
	ev.Database = &d
	return ev
}

func brokerEvent(b relation.BrokerDescriptor) Event {
	ev := NewEvent(BrokerAvailable)
	ev.Broker = &b
	return ev
}

// ---------- config-changed ----------

func TestConfigChangedWritesPortWithoutRestart(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})

	h.dispatch(t, NewEvent(ConfigChanged))

	if got := h.iniValue(t, "server:main", "port"); got != "8080" {
		t.Errorf("server:main port = %q, want 8080", got)
	}
	if got := h.iniValue(t, "app:main", "port"); got != "<absent>" {
		t.Errorf("port leaked into app:main: %q", got)
	}
	if len(h.services.starts) != 0 || len(h.services.stops) != 0 {
		t.Errorf("services touched without a database: starts=%v stops=%v", h.services.starts, h.services.stops)
	}
	if len(h.hooks.opened) != 1 || h.hooks.opened[0] != "8080" {
		t.Errorf("opened ports = %v, want [8080]", h.hooks.opened)
	}
	if len(h.hooks.closed) != 0 {
		t.Errorf("closed ports = %v, want none", h.hooks.closed)
	}
	if h.settings.commits != 1 {
		t.Errorf("commits = %d, want 1", h.settings.commits)
	}
}

func TestConfigChangedBeforeInstallIsNoop(t *testing.T) {
	h := newHarness(t, Flags{}, map[string]string{"port": "8080"})

	h.dispatch(t, NewEvent(ConfigChanged))

	raw, err := os.ReadFile(h.ini.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 0 {
		t.Errorf("config written before install:\n%s", raw)
	}
	if h.settings.commits != 0 {
		t.Error("settings committed before install")
	}
	if len(h.hooks.opened) != 0 {
		t.Errorf("ports opened before install: %v", h.hooks.opened)
	}
}

func TestConfigChangedRestartsServicesWhenDependenciesAvailable(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.dispatch(t, dbEvent(dbA))
	h.dispatch(t, brokerEvent(brokerA))

	webStarts, taskStarts := h.services.starts[webSvc], h.services.starts[taskSvc]
	h.settings.values["base_url"] = "https://review.example.com"
	h.dispatch(t, NewEvent(ConfigChanged))

	if got := h.iniValue(t, "app:main", "base_url"); got != "https://review.example.com" {
		t.Errorf("base_url = %q", got)
	}
	if h.services.starts[webSvc] != webStarts+1 {
		t.Errorf("web starts = %d, want %d", h.services.starts[webSvc], webStarts+1)
	}
	if h.services.starts[taskSvc] != taskStarts+1 {
		t.Errorf("task starts = %d, want %d", h.services.starts[taskSvc], taskStarts+1)
	}

	// Nothing changed: no writes, no restarts.
	h.dispatch(t, NewEvent(ConfigChanged))
	if h.services.starts[webSvc] != webStarts+1 {
		t.Error("unchanged settings restarted the web service")
	}
}

func TestPortChangeClosesPreviousAndNotifiesWebsite(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.dispatch(t, NewEvent(ConfigChanged))
	h.dispatch(t, NewEvent(WebsiteAvailable))

	if len(h.hooks.configured) != 1 || h.hooks.configured[0] != "8080" {
		t.Fatalf("website configured = %v, want [8080]", h.hooks.configured)
	}

	h.settings.values["port"] = "9090"
	h.dispatch(t, NewEvent(ConfigChanged))

	if got := h.iniValue(t, "server:main", "port"); got != "9090" {
		t.Errorf("port = %q, want 9090", got)
	}
	if last := h.hooks.opened[len(h.hooks.opened)-1]; last != "9090" {
		t.Errorf("last opened = %q, want 9090", last)
	}
	if len(h.hooks.closed) != 1 || h.hooks.closed[0] != "8080" {
		t.Errorf("closed = %v, want [8080]", h.hooks.closed)
	}
	if last := h.hooks.configured[len(h.hooks.configured)-1]; last != "9090" {
		t.Errorf("website last configured with %q, want 9090", last)
	}

	h.dispatch(t, NewEvent(WebsiteUnavailable))
	h.settings.values["port"] = "7070"
	h.dispatch(t, NewEvent(ConfigChanged))
	if n := len(h.hooks.configured); n != 2 {
		t.Errorf("website configured %d times after it left, want 2", n)
	}
}

// ---------- database ----------

func TestDatabaseAvailableConfiguresAndStartsWeb(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})

	h.dispatch(t, dbEvent(dbA))

	if got := h.iniValue(t, "app:main", "sqlalchemy.url"); got != dbA.URI() {
		t.Errorf("sqlalchemy.url = %q, want %q", got, dbA.URI())
	}
	if len(h.installer.inits) != 1 || h.installer.inits[0] != h.ini.Path() {
		t.Errorf("initialize_db calls = %v", h.installer.inits)
	}
	if !h.services.running[webSvc] {
		t.Error("web service not running")
	}
	if h.services.running[taskSvc] {
		t.Error("task service started without a broker")
	}
	if st := h.reporter.last(); st.State != domain.StateActive || st.Message != "Serving on port 8080" {
		t.Errorf("status = %v", st)
	}
	if uri, ok, _ := h.state.Get(h.ctx, redisstore.KeyDatabaseURI); !ok || uri != dbA.URI() {
		t.Errorf("cached db uri = %q, %v", uri, ok)
	}
	if f, _ := h.disp.Flags(h.ctx); !f.DatabaseAvailable {
		t.Error("DatabaseAvailable flag not persisted")
	}
}

func TestDatabaseAvailableTwiceIsRedundant(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.dispatch(t, dbEvent(dbA))

	before, err := os.Stat(h.ini.Path())
	if err != nil {
		t.Fatal(err)
	}
	content, _ := os.ReadFile(h.ini.Path())
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		h.dispatch(t, dbEvent(dbA))
	}

	if h.services.starts[webSvc] != 1 || h.services.stops[webSvc] != 0 {
		t.Errorf("web starts=%d stops=%d, want 1/0", h.services.starts[webSvc], h.services.stops[webSvc])
	}
	if len(h.installer.inits) != 1 {
		t.Errorf("initialize_db ran %d times, want 1", len(h.installer.inits))
	}
	after, _ := os.Stat(h.ini.Path())
	again, _ := os.ReadFile(h.ini.Path())
	if !after.ModTime().Equal(before.ModTime()) || string(again) != string(content) {
		t.Error("config file rewritten by a redundant event")
	}
}

func TestDatabaseChangedURIRestartsWeb(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.dispatch(t, dbEvent(dbA))

	dbB := dbA
	dbB.Password = "rotated"
	h.dispatch(t, dbEvent(dbB))

	if h.services.starts[webSvc] != 2 || h.services.stops[webSvc] != 1 {
		t.Errorf("web starts=%d stops=%d, want 2/1", h.services.starts[webSvc], h.services.stops[webSvc])
	}
	if got := h.iniValue(t, "app:main", "sqlalchemy.url"); got != dbB.URI() {
		t.Errorf("sqlalchemy.url = %q, want %q", got, dbB.URI())
	}
}

func TestDatabaseAvailableRestartsCrashedWeb(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.dispatch(t, dbEvent(dbA))

	h.services.running[webSvc] = false
	h.dispatch(t, dbEvent(dbA))

	if h.services.starts[webSvc] != 2 {
		t.Errorf("web starts = %d, want 2", h.services.starts[webSvc])
	}
	if !h.services.running[webSvc] {
		t.Error("web service not brought back")
	}
}

func TestWebFailureReportsBlocked(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.services.failStart[webSvc] = true

	h.dispatch(t, dbEvent(dbA))

	if st := h.reporter.last(); st != domain.Blocked("Service failed to start") {
		t.Errorf("status = %v, want blocked", st)
	}
}

func TestDatabaseInitFailurePropagates(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, nil)
	h.installer.initErr = errors.New("initialize_db exited 1")

	err := h.disp.Dispatch(h.ctx, dbEvent(dbA))
	if err == nil {
		t.Fatal("expected initialization error")
	}
	if h.services.starts[webSvc] != 0 {
		t.Error("web started after failed initialization")
	}
	// Flags are saved even when the handler fails.
	if f, _ := h.disp.Flags(h.ctx); !f.DatabaseAvailable {
		t.Error("DatabaseAvailable flag lost on failure")
	}
}

func TestDatabaseAvailableRejectsIncompleteData(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, nil)

	if err := h.disp.Dispatch(h.ctx, dbEvent(relation.DatabaseDescriptor{User: "rq"})); err == nil {
		t.Error("incomplete descriptor accepted")
	}
	if err := h.disp.Dispatch(h.ctx, NewEvent(DatabaseAvailable)); err == nil {
		t.Error("missing descriptor accepted")
	}
}

// ---------- broker ----------

func TestBrokerAfterDatabaseThenDatabaseLeaves(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.dispatch(t, dbEvent(dbA))
	h.dispatch(t, brokerEvent(brokerA))

	if got := h.iniValue(t, "celery", "broker"); got != brokerA.URI() {
		t.Errorf("celery broker = %q, want %q", got, brokerA.URI())
	}
	if got := h.iniValue(t, "celery", "backend"); got != relation.BrokerBackend {
		t.Errorf("celery backend = %q", got)
	}
	if !h.services.running[taskSvc] {
		t.Fatal("task service not started")
	}

	h.dispatch(t, NewEvent(DatabaseUnavailable))

	if h.services.running[webSvc] {
		t.Error("web still running without a database")
	}
	if h.services.running[taskSvc] {
		t.Error("task service still running without a database")
	}
	if st := h.reporter.last(); st.State != domain.StateWaiting {
		t.Errorf("status = %v, want waiting", st)
	}
	if _, ok, _ := h.state.Get(h.ctx, redisstore.KeyDatabaseURI); ok {
		t.Error("db uri still cached")
	}

	h.dispatch(t, NewEvent(BrokerUnavailable))
	if h.services.running[taskSvc] {
		t.Error("task service running after broker left")
	}
	if _, ok, _ := h.state.Get(h.ctx, redisstore.KeyBrokerURI); ok {
		t.Error("broker uri still cached")
	}
}

func TestBrokerBeforeDatabaseWaits(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})

	h.dispatch(t, brokerEvent(brokerA))
	if h.services.starts[taskSvc] != 0 {
		t.Fatal("task service started without a database")
	}
	if got := h.iniValue(t, "celery", "broker"); got != brokerA.URI() {
		t.Errorf("celery broker = %q", got)
	}

	h.dispatch(t, dbEvent(dbA))
	if !h.services.running[webSvc] || !h.services.running[taskSvc] {
		t.Errorf("running = %v, want both services", h.services.running)
	}
}

func TestBrokerAvailableRedundancyGuard(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.dispatch(t, dbEvent(dbA))
	h.dispatch(t, brokerEvent(brokerA))
	h.dispatch(t, brokerEvent(brokerA))

	if h.services.starts[taskSvc] != 1 {
		t.Errorf("task starts = %d, want 1", h.services.starts[taskSvc])
	}

	h.services.running[taskSvc] = false
	h.dispatch(t, brokerEvent(brokerA))
	if h.services.starts[taskSvc] != 2 || !h.services.running[taskSvc] {
		t.Error("crashed task service not restarted")
	}
}

func TestWorkerFailureReportsBlocked(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
	h.services.failStart[taskSvc] = true
	h.dispatch(t, dbEvent(dbA))
	h.dispatch(t, brokerEvent(brokerA))

	if st := h.reporter.last(); st != domain.Blocked("Task service failed to start") {
		t.Errorf("status = %v, want task blocked", st)
	}
}

func TestBrokerConnectedRequestsAccess(t *testing.T) {
	h := newHarness(t, Flags{}, nil)
	h.dispatch(t, NewEvent(BrokerConnected))
	h.dispatch(t, NewEvent(BrokerConnected))

	if len(h.hooks.access) != 2 || h.hooks.access[0] != [2]string{"reviewqueue", "reviewqueue"} {
		t.Errorf("access requests = %v", h.hooks.access)
	}
}

// ---------- install ----------

func TestRepoChangeInstallsAndReconnects(t *testing.T) {
	h := newHarness(t, Flags{}, map[string]string{
		"repo":     "/srv/review-queue",
		"port":     "8080",
		"base_url": "https://review.example.com",
	})

	// Relations that join before install are remembered.
	h.dispatch(t, dbEvent(dbA))
	h.dispatch(t, brokerEvent(brokerA))
	if len(h.services.starts) != 0 {
		t.Fatalf("services started before install: %v", h.services.starts)
	}

	h.dispatch(t, NewEvent(ConfigChanged))

	if len(h.installer.repos) != 1 || h.installer.repos[0] != "/srv/review-queue" {
		t.Errorf("install repos = %v", h.installer.repos)
	}
	if h.reporter.history[0].State != domain.StateMaintenance {
		t.Errorf("first status = %v, want maintenance", h.reporter.history[0])
	}
	if f, _ := h.disp.Flags(h.ctx); !f.Installed {
		t.Error("Installed flag not persisted")
	}

	checks := []struct{ section, key, want string }{
		{"server:main", "port", "8080"},
		{"server:main", "use", "egg:waitress#main"},
		{"app:main", "use", "egg:reviewqueue"},
		{"app:main", "base_url", "https://review.example.com"},
		{"app:main", "sqlalchemy.url", dbA.URI()},
		{"celery", "broker", brokerA.URI()},
		{"celery", "backend", relation.BrokerBackend},
	}
	for _, c := range checks {
		if got := h.iniValue(t, c.section, c.key); got != c.want {
			t.Errorf("[%s] %s = %q, want %q", c.section, c.key, got, c.want)
		}
	}

	if !h.services.running[webSvc] || !h.services.running[taskSvc] {
		t.Errorf("running = %v, want both services", h.services.running)
	}
	if st := h.reporter.last(); st.State != domain.StateActive {
		t.Errorf("status = %v, want active", st)
	}
	if h.settings.Changed("repo") {
		t.Error("repo change not committed")
	}
}

func TestRepoChangeWithoutDatabaseWaits(t *testing.T) {
	h := newHarness(t, Flags{}, map[string]string{"repo": "/srv/review-queue", "port": "8080"})

	h.dispatch(t, NewEvent(RepoChanged))

	if st := h.reporter.last(); st.State != domain.StateWaiting {
		t.Errorf("status = %v, want waiting", st)
	}
	if len(h.services.starts) != 0 {
		t.Errorf("services started: %v", h.services.starts)
	}
}

func TestInstallFailurePropagates(t *testing.T) {
	h := newHarness(t, Flags{}, map[string]string{"repo": "/srv/review-queue"})
	h.installer.installErr = errors.New("make .venv failed")

	if err := h.disp.Dispatch(h.ctx, NewEvent(ConfigChanged)); err == nil {
		t.Fatal("expected install error")
	}
	if f, _ := h.disp.Flags(h.ctx); f.Installed {
		t.Error("Installed set after failed install")
	}
	if h.settings.commits != 0 {
		t.Error("settings committed after failed install")
	}
}

// ---------- dispatcher ----------

func TestPendingSettings(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})

	names, err := h.disp.PendingSettings(h.ctx)
	if err != nil || len(names) != 1 || names[0] != "port" {
		t.Fatalf("PendingSettings = %v, %v; want [port]", names, err)
	}
	h.dispatch(t, NewEvent(ConfigChanged))
	if names, _ := h.disp.PendingSettings(h.ctx); len(names) != 0 {
		t.Errorf("PendingSettings after commit = %v", names)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("leader-elected"); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("unknown kind error = %v", err)
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	h := newHarness(t, Flags{}, nil)
	if err := h.disp.Dispatch(h.ctx, Event{Kind: "bogus"}); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Dispatch(bogus) = %v", err)
	}
}

func TestDispatchWaitsForFileLock(t *testing.T) {
	h := newHarness(t, Flags{}, nil)

	other := flock.New(h.lockPath)
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer func() { _ = other.Unlock() }()

	ctx, cancel := context.WithTimeout(h.ctx, 300*time.Millisecond)
	defer cancel()
	if err := h.disp.Dispatch(ctx, NewEvent(BrokerConnected)); err == nil {
		t.Fatal("Dispatch ran while another process held the lock")
	}
	if len(h.hooks.access) != 0 {
		t.Error("handler ran without the lock")
	}

	_ = other.Unlock()
	h.dispatch(t, NewEvent(BrokerConnected))
}

func TestDispatchTimeoutReleasesLockAndSavesFlags(t *testing.T) {
	h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "6543"})
	h.installer.blockInit = true
	h.disp.SetTimeout(100 * time.Millisecond)

	err := h.disp.Dispatch(h.ctx, dbEvent(dbA))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dispatch error = %v, want deadline exceeded", err)
	}
	f, err := h.disp.Flags(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !f.DatabaseAvailable {
		t.Error("flags set before the timeout were not saved")
	}
	if h.services.running[webSvc] {
		t.Error("web service started after a timed out initialize_db")
	}

	h.installer.blockInit = false
	h.dispatch(t, NewEvent(BrokerConnected))
}

// Random event orderings never leave the task service running without both
// dependencies.
func TestWorkerInvariantUnderRandomOrderings(t *testing.T) {
	dbB := dbA
	dbB.Host = "10.0.0.6"
	brokerB := brokerA
	brokerB.Password = "other"

	events := []func() Event{
		func() Event { return dbEvent(dbA) },
		func() Event { return dbEvent(dbB) },
		func() Event { return NewEvent(DatabaseUnavailable) },
		func() Event { return brokerEvent(brokerA) },
		func() Event { return brokerEvent(brokerB) },
		func() Event { return NewEvent(BrokerUnavailable) },
		func() Event { return NewEvent(ConfigChanged) },
		func() Event { return NewEvent(WebsiteAvailable) },
	}

	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 20; run++ {
		h := newHarness(t, Flags{Installed: true}, map[string]string{"port": "8080"})
		for step := 0; step < 25; step++ {
			if rng.Intn(5) == 0 {
				h.services.running[webSvc] = false
			}
			h.dispatch(t, events[rng.Intn(len(events))]())
		}
	}
}
