// Package command runs external programs on behalf of the agent.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// Cmd describes one program invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands. Tests substitute a recording fake.
type Runner interface {
	Run(ctx context.Context, c Cmd) ([]byte, error)
}

// ExecRunner runs commands with os/exec and returns combined output.
type ExecRunner struct {
	logger logger.Logger
}

func NewExecRunner(log logger.Logger) *ExecRunner {
	return &ExecRunner{logger: log}
}

func (r *ExecRunner) Run(ctx context.Context, c Cmd) ([]byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	r.logger.Debug("command finished",
		logger.String("cmd", c.String()),
		logger.String("dir", c.Dir),
		logger.Duration("duration", time.Since(start)),
		logger.Error(err))
	if err != nil {
		return out.Bytes(), &Error{Cmd: c, Output: out.String(), Err: err}
	}
	return out.Bytes(), nil
}

// Error carries the output of a failed command.
type Error struct {
	Cmd    Cmd
	Output string
	Err    error
}

func (e *Error) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Cmd, e.Err, out)
}

func (e *Error) Unwrap() error { return e.Err }

// IsExitError reports whether err means the program ran and exited non-zero,
// as opposed to not being runnable at all.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
