package kbuild

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// waitDelay bounds how long output pipes are drained after the child is
// killed, so a grandchild holding them open cannot stall the caller.
const waitDelay = 5 * time.Second

// Command describes a single external process invocation
type Command struct {
	Argv   []string
	Dir    string
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs external commands. The host implementation is used in
// production; tests substitute a recording fake.
type Executor interface {
	Run(ctx context.Context, c Command) error
}

// HostExecutor runs commands directly on the host. The caller's working
// directory and environment are never modified: the child gets Dir and
// the host environment overlaid with Env.
type HostExecutor struct{}

// Run executes c and waits for it to exit
func (HostExecutor) Run(ctx context.Context, c Command) error {
	if len(c.Argv) == 0 {
		return fmt.Errorf("no command specified")
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = MergeEnv(os.Environ(), c.Env)
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stdout = c.Stdout
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, c.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" && c.Stderr == nil {
			return fmt.Errorf("%s: %w\nstderr: %s", c.Argv[0], err, lastLines(msg, 5))
		}
		return fmt.Errorf("%s: %w", c.Argv[0], err)
	}

	return nil
}

// MergeEnv overlays vars on base in KEY=VALUE form. Later entries win
// when the child process resolves duplicates, so overlay keys are
// appended in sorted order after the base.
func MergeEnv(base []string, vars map[string]string) []string {
	env := make([]string, 0, len(base)+len(vars))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := vars[key]; overridden {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
