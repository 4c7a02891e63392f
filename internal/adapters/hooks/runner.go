// Package hooks runs operator supplied pre and post run tasks.
package hooks

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/melih/harbormaster/internal/core/ports"
	"github.com/melih/harbormaster/internal/logging"
)

var _ ports.HookRunner = (*Runner)(nil)

// Environment variables exported to every task.
const (
	EnvFactFile = "HARBORMASTER_FACT_FILE"
	EnvPhase    = "HARBORMASTER_PHASE"
)

// Runner executes command lines one after the other. A line is split with
// shell quoting rules but not run through a shell; tasks that need pipes
// call sh -c themselves.
type Runner struct {
	factFile string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRunner returns a runner that exports factFile to its tasks. A zero
// timeout leaves tasks bounded only by the run context.
func NewRunner(factFile string, timeout time.Duration) *Runner {
	return &Runner{factFile: factFile, timeout: timeout, logger: logging.ComponentLogger("hooks")}
}

// Run stops at the first failing task.
func (r *Runner) Run(ctx context.Context, phase string, commands []string) error {
	for _, line := range commands {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := r.run(ctx, phase, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, phase, line string) error {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	parser.Getenv = func(key string) string {
		switch key {
		case EnvFactFile:
			return r.factFile
		case EnvPhase:
			return phase
		}
		return os.Getenv(key)
	}
	args, err := parser.Parse(line)
	if err != nil {
		return errors.Wrapf(err, "%s task %q", phase, line)
	}
	if len(args) == 0 {
		return nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), EnvFactFile+"="+r.factFile, EnvPhase+"="+phase)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger := r.logger.With(zap.String("phase", phase), zap.String("task", line))
	start := time.Now()
	err = cmd.Run()
	logger.Info("task finished", zap.Duration("duration", time.Since(start)), zap.Error(err))
	if out.Len() > 0 {
		logger.Debug("task output", zap.String("output", out.String()))
	}
	if err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return errors.Wrapf(err, "%s task %q: %s", phase, line, lastLine(msg))
		}
		return errors.Wrapf(err, "%s task %q", phase, line)
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
