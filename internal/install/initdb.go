package install

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/command"
)

// InitializeDB creates the application schema using the rendered config.
func (m *Manager) InitializeDB(ctx context.Context, iniPath string) error {
	bin := filepath.Join(m.opts.AppDir, ".venv", "bin", "initialize_db")
	if _, err := m.runner.Run(ctx, command.Cmd{Name: bin, Args: []string{iniPath}, Dir: m.opts.AppDir}); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	m.logger.Info("database initialized")
	return nil
}
