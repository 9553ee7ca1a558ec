// Package build runs kernel build batches: one defconfig, then a clean
// and compile for each selected toolchain, with per-toolchain logs and
// post-build steps such as packaging and export.
package build

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
	"github.com/bitswalk/kbuilder/src/kbuilder/kernel"
	"github.com/bitswalk/kbuilder/src/kbuilder/toolchain"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the build package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Recorder persists toolchain results, e.g. into the build history
type Recorder interface {
	Record(ctx context.Context, batchID string, k *kernel.Descriptor, res Result) error
}

// Batch is the mutable state of one build batch
type Batch struct {
	ID         string
	Kernel     *kernel.Descriptor
	Toolchains []toolchain.Toolchain

	defconfigRegenerated bool
}

// NewBatch creates a batch building k with toolchains, in order
func NewBatch(k *kernel.Descriptor, toolchains []toolchain.Toolchain) *Batch {
	return &Batch{
		ID:         uuid.New().String(),
		Kernel:     k,
		Toolchains: toolchains,
	}
}

// DefconfigRegenerated reports whether the defconfig target has run
func (b *Batch) DefconfigRegenerated() bool {
	return b.defconfigRegenerated
}

// Orchestrator runs build batches sequentially, one toolchain at a time
type Orchestrator struct {
	runner   kbuild.Runner
	config   Config
	steps    []PostStep
	recorder Recorder
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator driving runner
func NewOrchestrator(runner kbuild.Runner, cfg Config) *Orchestrator {
	if cfg.Target == "" {
		cfg.Target = kbuild.TargetAll
	}
	if cfg.CleanPolicy == "" {
		cfg.CleanPolicy = CleanAuto
	}
	return &Orchestrator{
		runner: runner,
		config: cfg,
		now:    time.Now,
	}
}

// AddStep appends a post-build step. Steps run in the order added.
func (o *Orchestrator) AddStep(s PostStep) {
	o.steps = append(o.steps, s)
}

// SetRecorder sets where results are persisted
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.recorder = r
}

// Run builds every toolchain of b. A failing toolchain is recorded and
// the batch moves on; the returned error is only set when the batch as a
// whole could not proceed (defconfig or version resolution failed). In
// both cases the report lists every toolchain. Once ctx is cancelled no
// further toolchain is started.
func (o *Orchestrator) Run(ctx context.Context, b *Batch) (*Report, error) {
	report := &Report{
		BatchID:   b.ID,
		Kernel:    b.Kernel.Name,
		StartedAt: o.now(),
	}
	defer func() {
		report.Duration = o.now().Sub(report.StartedAt)
	}()

	log.Info("Starting build batch", "batch", b.ID, "kernel", b.Kernel.Name, "toolchains", len(b.Toolchains))

	for i, tc := range b.Toolchains {
		if err := ctx.Err(); err != nil {
			log.Warn("Build interrupted, skipping remaining toolchains", "remaining", len(b.Toolchains)-i)
			o.skipRemaining(ctx, b, report, b.Toolchains[i:], kerrors.ErrInterrupted.WithCause(err))
			break
		}

		if err := o.prepare(ctx, b, report, tc); err != nil {
			o.skipRemaining(ctx, b, report, b.Toolchains[i:], err)
			return report, err
		}

		res := o.buildOne(ctx, b, tc)
		o.record(ctx, b, res)
		report.Results = append(report.Results, res)
	}

	return report, nil
}

// prepare regenerates the defconfig on the first toolchain of the batch,
// keeping its output in the log directory, and resolves the kernel
// version once the configuration exists
func (o *Orchestrator) prepare(ctx context.Context, b *Batch, report *Report, tc toolchain.Toolchain) error {
	env := tc.EnvVars(b.Kernel.Arch)
	if !b.defconfigRegenerated {
		log.Info("Generating kernel configuration", "target", b.Kernel.Defconfig)
		var out captureWriter
		out.live = o.config.Output
		err := o.runner.Run(ctx, kbuild.Invocation{
			Dir:    b.Kernel.Root,
			Target: b.Kernel.Defconfig,
			Env:    env,
			Stdout: &out,
			Stderr: &out,
		})

		logPath := DefconfigLogPath(o.config.LogDir, o.config.CompressLogs)
		if werr := writeLog(logPath, out.buf.Bytes(), o.config.CompressLogs); werr != nil {
			log.Warn("Failed to write defconfig log", "path", logPath, "error", werr)
			logPath = ""
		}
		report.DefconfigLog = logPath

		if err != nil {
			if logPath != "" {
				return kerrors.ErrBuildFailed.WithMessagef("defconfig %s failed, see %s", b.Kernel.Defconfig, logPath).WithCause(err)
			}
			return kerrors.ErrBuildFailed.WithMessagef("defconfig %s failed", b.Kernel.Defconfig).WithCause(err)
		}
		b.defconfigRegenerated = true
	}

	if _, err := b.Kernel.Resolve(ctx, o.runner, env); err != nil {
		return kerrors.ErrBuildFailed.WithMessage("could not resolve kernel version").WithCause(err)
	}
	return nil
}

// buildOne cleans, compiles and packages with a single toolchain
func (o *Orchestrator) buildOne(ctx context.Context, b *Batch, tc toolchain.Toolchain) Result {
	res := Result{
		Toolchain: tc,
		Release:   o.release(b.Kernel, tc),
		StartedAt: o.now(),
	}
	defer func() {
		res.Duration = o.now().Sub(res.StartedAt)
	}()

	env := tc.EnvVars(b.Kernel.Arch)
	out := &captureWriter{live: o.config.Output}

	err := o.cleanAndCompile(ctx, b, tc, env, out)

	res.LogPath = LogPath(o.config.LogDir, res.Release, o.config.CompressLogs)
	if werr := writeLog(res.LogPath, out.buf.Bytes(), o.config.CompressLogs); werr != nil {
		log.Warn("Failed to write build log", "path", res.LogPath, "error", werr)
		res.LogPath = ""
	}

	if err != nil {
		res.Status = StatusFailed
		res.Err = kerrors.ErrBuildFailed.WithMessagef("toolchain %s failed to build %s", tc.Name, res.Release).WithCause(err)
		log.Error("Build failed", "toolchain", tc.Name, "release", res.Release, "log", res.LogPath)
		return res
	}

	arch := tc.TargetArch
	if arch == "" {
		arch = b.Kernel.Arch
	}
	image, err := b.Kernel.KbuildImagePath(arch)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	res.Status = StatusSuccess
	res.ImagePath = image
	log.Info("Build succeeded", "toolchain", tc.Name, "release", res.Release, "image", image)

	res.Artifacts, res.StepErrs = o.runSteps(ctx, b, tc, res)
	return res
}

func (o *Orchestrator) cleanAndCompile(ctx context.Context, b *Batch, tc toolchain.Toolchain, env map[string]string, out *captureWriter) error {
	if target := o.config.CleanPolicy.Target(len(b.Toolchains)); target != "" {
		log.Info("Cleaning kernel tree", "target", target, "toolchain", tc.Name)
		if err := o.runner.Run(ctx, kbuild.Invocation{
			Dir:    b.Kernel.Root,
			Target: target,
			Env:    env,
			Stdout: out,
			Stderr: out,
		}); err != nil {
			return err
		}
	}

	log.Info("Compiling kernel", "toolchain", tc.Name, "arch", tc.TargetArch)
	return o.runner.Run(ctx, kbuild.Invocation{
		Dir:    b.Kernel.Root,
		Target: o.config.Target,
		Env:    env,
		Stdout: out,
		Stderr: out,
	})
}

func (o *Orchestrator) runSteps(ctx context.Context, b *Batch, tc toolchain.Toolchain, res Result) ([]Artifact, []error) {
	version, _ := b.Kernel.Version()
	sc := &StepContext{
		Kernel:    b.Kernel,
		Version:   version,
		Toolchain: tc,
		Release:   res.Release,
		ImagePath: res.ImagePath,
		Artifacts: []Artifact{{Kind: ArtifactKernelImage, Path: res.ImagePath}},
	}
	if res.LogPath != "" {
		sc.AddArtifact(Artifact{Kind: ArtifactLog, Path: res.LogPath})
	}

	var errs []error
	for _, step := range o.steps {
		if err := step.Validate(ctx, sc); err != nil {
			log.Warn("Skipping post-build step", "step", step.Name(), "toolchain", tc.Name, "reason", err)
			errs = append(errs, err)
			continue
		}
		log.Info("Running post-build step", "step", step.Name(), "release", sc.Release)
		if err := step.Execute(ctx, sc); err != nil {
			log.Error("Post-build step failed", "step", step.Name(), "release", sc.Release, "error", err)
			errs = append(errs, err)
		}
	}
	return sc.Artifacts, errs
}

// release names a toolchain's build: the custom release, tagged with the
// toolchain name when configured
func (o *Orchestrator) release(k *kernel.Descriptor, tc toolchain.Toolchain) string {
	extra := k.ExtraVersion
	if o.config.TagToolchain {
		extra = kernel.CustomRelease(extra, tc.Name)
	}
	return k.CustomReleaseWith(extra)
}

func (o *Orchestrator) skipRemaining(ctx context.Context, b *Batch, report *Report, remaining []toolchain.Toolchain, reason error) {
	for _, tc := range remaining {
		res := Result{
			Toolchain: tc,
			Status:    StatusSkipped,
			Err:       reason,
		}
		if _, ok := b.Kernel.Version(); ok {
			res.Release = o.release(b.Kernel, tc)
		}
		o.record(ctx, b, res)
		report.Results = append(report.Results, res)
	}
}

// record persists res; history is best-effort
func (o *Orchestrator) record(ctx context.Context, b *Batch, res Result) {
	if o.recorder == nil {
		return
	}
	// history is written even when the batch context was cancelled
	ctx = context.WithoutCancel(ctx)
	if err := o.recorder.Record(ctx, b.ID, b.Kernel, res); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("Failed to record build result", "toolchain", res.Toolchain.Name, "error", err)
	}
}
