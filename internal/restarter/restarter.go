// Package restarter runs the configured service restart command.
package restarter

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	shlex "github.com/anmitsu/go-shlex"

	"github.com/MrSnakeDoc/idlereboot/internal/logger"
)

// DefaultTimeout bounds how long the restart command may run.
const DefaultTimeout = 2 * time.Minute

// ErrEmptyCommand is returned when the command line has no words.
var ErrEmptyCommand = errors.New("restarter: empty restart command")

// Command hands the restart over to the service manager.
type Command struct {
	argv    []string
	timeout time.Duration
	logger  logger.Logger
}

// NewCommand splits cmdline with POSIX shell rules. The command is executed
// directly, never through a shell.
func NewCommand(cmdline string, timeout time.Duration, log logger.Logger) (*Command, error) {
	argv, err := shlex.Split(cmdline, true)
	if err != nil {
		return nil, fmt.Errorf("restarter: parse %q: %w", cmdline, err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Command{argv: argv, timeout: timeout, logger: log}, nil
}

// Argv returns the parsed command words.
func (c *Command) Argv() []string {
	return append([]string(nil), c.argv...)
}

func (c *Command) String() string {
	return strings.Join(c.argv, " ")
}

// Restart runs the command and waits for it. The error is informational: the
// service manager owns retries of the server process.
func (c *Command) Restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info("running restart command", logger.String("command", c.String()))

	start := time.Now()
	out, err := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...).CombinedOutput()
	took := time.Since(start)

	if len(out) > 0 {
		c.logger.Info("restart command output",
			logger.String("output", strings.TrimSpace(string(out))))
	}
	if err != nil {
		return fmt.Errorf("restart command %q failed after %v: %w", c.String(), took.Round(time.Millisecond), err)
	}

	c.logger.Info("restart command finished", logger.Duration("took", took))
	return nil
}
