// Package install places the application tree, its runtime environment and
// its service definitions on disk.
package install

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/command"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// UnitReloader tells the init system about new unit files.
type UnitReloader interface {
	Kind() string
	Reload(ctx context.Context) error
}

// Options locates everything the install sequence reads and writes.
type Options struct {
	AppDir      string // ex: /opt/reviewqueue
	IniPath     string // ex: /etc/reviewqueue.ini
	CharmDir    string // holds files/{systemd,upstart}/ and files/lp-creds
	SystemdDir  string
	UpstartDir  string
	WebService  string
	TaskService string
	User        string
	Group       string
}

// Manager runs the install sequence.
type Manager struct {
	opts   Options
	runner command.Runner
	units  UnitReloader
	http   *http.Client
	logger logger.Logger
}

func NewManager(opts Options, runner command.Runner, units UnitReloader, log logger.Logger) *Manager {
	return &Manager{
		opts:   opts,
		runner: runner,
		units:  units,
		http:   &http.Client{Timeout: 10 * time.Minute},
		logger: log,
	}
}

// Install fetches repo and replaces the application tree with it. On
// return the app dir holds a built virtualenv, the service definitions for
// the detected init system are staged, and the packaged production.ini has
// been copied to the rendered config path.
func (m *Manager) Install(ctx context.Context, repo string) error {
	start := time.Now()
	m.logger.Info("installing application", logger.String("repo", repo))

	// Stage next to the app dir so the final move is a rename.
	parent := filepath.Dir(m.opts.AppDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}
	tmp, err := os.MkdirTemp(parent, ".reviewqueue-install-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	root, err := m.fetch(ctx, repo, tmp)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(m.opts.AppDir); err != nil {
		return fmt.Errorf("remove old app dir: %w", err)
	}
	m.logger.Info("moving app source",
		logger.String("from", root),
		logger.String("to", m.opts.AppDir))
	if err := os.Rename(root, m.opts.AppDir); err != nil {
		return fmt.Errorf("move app source: %w", err)
	}

	if _, err := m.runner.Run(ctx, command.Cmd{Name: "make", Args: []string{".venv"}, Dir: m.opts.AppDir}); err != nil {
		return fmt.Errorf("build virtualenv: %w", err)
	}

	if err := m.stageUnits(ctx); err != nil {
		return err
	}

	if err := copyFile(filepath.Join(m.opts.CharmDir, "files", "lp-creds"), filepath.Join(m.opts.AppDir, "lp-creds")); err != nil {
		return fmt.Errorf("stage launchpad credentials: %w", err)
	}
	if err := copyFile(filepath.Join(m.opts.AppDir, "production.ini"), m.opts.IniPath); err != nil {
		return fmt.Errorf("stage application config: %w", err)
	}

	if err := chownTree(m.opts.AppDir, m.opts.User, m.opts.Group); err != nil {
		return err
	}

	m.logger.Info("application installed",
		logger.String("dir", m.opts.AppDir),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// stageUnits copies the web and task service definitions for whichever
// init system is running.
func (m *Manager) stageUnits(ctx context.Context) error {
	var srcDir, dstDir, ext string
	switch m.units.Kind() {
	case "systemd":
		srcDir, dstDir, ext = "systemd", m.opts.SystemdDir, ".service"
	default:
		srcDir, dstDir, ext = "upstart", m.opts.UpstartDir, ".conf"
	}

	for _, name := range []string{m.opts.WebService, m.opts.TaskService} {
		src := filepath.Join(m.opts.CharmDir, "files", srcDir, name+ext)
		if err := copyFile(src, filepath.Join(dstDir, name+ext)); err != nil {
			return fmt.Errorf("stage %s unit: %w", name, err)
		}
	}
	if err := m.units.Reload(ctx); err != nil {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func chownTree(root, username, group string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", username, err)
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return fmt.Errorf("lookup group %s: %w", group, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("uid for %s: %w", username, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("gid for %s: %w", group, err)
	}

	return filepath.WalkDir(root, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}
