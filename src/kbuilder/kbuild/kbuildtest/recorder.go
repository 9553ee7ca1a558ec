// Package kbuildtest provides a recording kbuild.Runner for tests.
package kbuildtest

import (
	"context"
	"io"
	"maps"
	"sync"

	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
)

// Call is one recorded invocation
type Call struct {
	Dir    string
	Target string
	Env    map[string]string
}

// Recorder is a kbuild.Runner that records every invocation instead of
// running the build tool. Output is written to the invocation's Stdout.
type Recorder struct {
	// Outputs maps a target to the text it prints
	Outputs map[string]string
	// Fail, when set, decides the result of each invocation
	Fail func(inv kbuild.Invocation) error

	mu    sync.Mutex
	calls []Call
}

// Run records inv and replays the scripted output
func (r *Recorder) Run(ctx context.Context, inv kbuild.Invocation) error {
	r.mu.Lock()
	r.calls = append(r.calls, Call{
		Dir:    inv.Dir,
		Target: inv.Target,
		Env:    maps.Clone(inv.Env),
	})
	r.mu.Unlock()

	if out, ok := r.Outputs[inv.Target]; ok && inv.Stdout != nil {
		_, _ = io.WriteString(inv.Stdout, out)
	}
	if r.Fail != nil {
		return r.Fail(inv)
	}
	return nil
}

// Calls returns a copy of the recorded invocations
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Targets returns the recorded targets in call order
func (r *Recorder) Targets() []string {
	calls := r.Calls()
	targets := make([]string, len(calls))
	for i, c := range calls {
		targets[i] = c.Target
	}
	return targets
}

// Count returns how many times target was invoked
func (r *Recorder) Count(target string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Target == target {
			n++
		}
	}
	return n
}
