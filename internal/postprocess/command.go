// Package postprocess runs an external tool over a freshly published study,
// for example dcmmkdir to build a DICOMDIR index.
package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Command runs Path with Args using the study directory as working directory.
type Command struct {
	Path   string
	Args   []string
	Logger *slog.Logger
}

// NewCommand returns nil when path is empty so callers can pass the result
// straight through as an optional hook.
func NewCommand(path string, args []string, logger *slog.Logger) *Command {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return &Command{Path: path, Args: args, Logger: logger}
}

// Run executes the command in dir and returns an error carrying its output
// when it exits unsuccessfully.
func (c *Command) Run(ctx context.Context, dir string) error {
	if c == nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w: %s", c.Path, err, strings.TrimSpace(string(out)))
	}

	if c.Logger != nil {
		c.Logger.Debug("post-process command finished", "command", c.Path, "dir", dir, "output", strings.TrimSpace(string(out)))
	}
	return nil
}

// Name describes the command for status messages.
func (c *Command) Name() string {
	return c.Path
}
