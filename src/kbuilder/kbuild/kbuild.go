// Package kbuild invokes the kernel's own build tool. It treats the tool
// as an opaque command: targets go in, exit status and text come out.
package kbuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/google/shlex"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the kbuild package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Well-known kbuild targets
const (
	TargetKernelVersion = "kernelversion"
	TargetKernelRelease = "kernelrelease"
	TargetClean         = "clean"
	TargetArchClean     = "archclean"
	TargetAll           = "all"
)

// Invocation is one call of the build tool against a source tree
type Invocation struct {
	// Dir is the kernel source root, passed as -C and used as the child's
	// working directory
	Dir string
	// Target is the make target (kernelversion, defconfig, all, ...)
	Target string
	// Env holds variables added to the child environment only
	Env map[string]string
	// Stdout and Stderr receive the tool's output; nil discards it
	Stdout io.Writer
	Stderr io.Writer
}

// Runner runs build tool invocations
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// Config holds the build tool settings
type Config struct {
	// Command is the build tool command line, split with shell rules
	Command string
	// Jobs is the -j value
	Jobs int
	// Timeout bounds a single invocation; zero means no limit
	Timeout time.Duration
}

// DefaultConfig returns the default build tool configuration
func DefaultConfig() Config {
	return Config{
		Command: "make",
		Jobs:    runtime.NumCPU(),
	}
}

// Make runs the build tool through an Executor
type Make struct {
	argv     []string
	jobs     int
	timeout  time.Duration
	executor Executor
}

// New creates a Make runner. A nil executor runs commands on the host.
func New(cfg Config, executor Executor) (*Make, error) {
	if cfg.Command == "" {
		cfg.Command = DefaultConfig().Command
	}
	argv, err := shlex.Split(cfg.Command)
	if err != nil {
		return nil, kerrors.ErrInvalidConfig.WithMessagef("invalid make.command %q", cfg.Command).WithCause(err)
	}
	if len(argv) == 0 {
		return nil, kerrors.ErrInvalidConfig.WithMessage("make.command is empty")
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	if cfg.Timeout < 0 {
		return nil, kerrors.ErrInvalidConfig.WithMessagef("negative build timeout %s", cfg.Timeout)
	}
	if executor == nil {
		executor = HostExecutor{}
	}

	return &Make{
		argv:     argv,
		jobs:     cfg.Jobs,
		timeout:  cfg.Timeout,
		executor: executor,
	}, nil
}

// Args returns the full command line for inv:
// <tool> -j<jobs> -C <dir> --quiet <target>
func (m *Make) Args(inv Invocation) []string {
	args := make([]string, 0, len(m.argv)+5)
	args = append(args, m.argv...)
	args = append(args,
		"-j"+strconv.Itoa(m.jobs),
		"-C", inv.Dir,
		"--quiet",
		inv.Target,
	)
	return args
}

// Run executes inv. A non-zero exit maps to ErrMakeFailed, an expired
// timeout to ErrTimeout and a cancelled context to ErrInterrupted.
func (m *Make) Run(ctx context.Context, inv Invocation) error {
	if err := ctx.Err(); err != nil {
		return kerrors.ErrInterrupted.WithCause(err)
	}

	runCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	args := m.Args(inv)
	log.Debug("Running build tool", "target", inv.Target, "dir", inv.Dir, "cmd", strings.Join(args, " "))

	err := m.executor.Run(runCtx, Command{
		Argv:   args,
		Dir:    inv.Dir,
		Env:    inv.Env,
		Stdout: inv.Stdout,
		Stderr: inv.Stderr,
	})
	if err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil:
		return kerrors.ErrInterrupted.WithMessagef("%s interrupted", inv.Target).WithCause(err)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return kerrors.ErrTimeout.WithMessagef("%s did not finish within %s", inv.Target, m.timeout).WithCause(err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return kerrors.ErrMakeFailed.WithMessagef("%s exited with status %d", inv.Target, exitErr.ExitCode()).WithCause(err)
	}
	return kerrors.ErrMakeFailed.WithMessagef("%s could not be run", inv.Target).WithCause(err)
}

// Output runs inv and returns its standard output
func Output(ctx context.Context, r Runner, inv Invocation) (string, error) {
	var stdout bytes.Buffer
	inv.Stdout = &stdout
	if err := r.Run(ctx, inv); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// LastLine returns the last non-empty line of out, trimmed
func LastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// QueryLastLine runs target in dir with env and returns the last line it
// printed
func QueryLastLine(ctx context.Context, r Runner, dir, target string, env map[string]string) (string, error) {
	out, err := Output(ctx, r, Invocation{Dir: dir, Target: target, Env: env})
	if err != nil {
		return "", err
	}
	line := LastLine(out)
	if line == "" {
		return "", kerrors.ErrMakeFailed.WithMessage(fmt.Sprintf("%s printed nothing", target))
	}
	return line, nil
}
