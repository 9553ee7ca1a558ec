// Package android packages kernel images for Android devices: boot
// images assembled by mkbootimg and flashable OTA zip archives.
package android

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/shlex"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/bitswalk/kbuilder/src/common/paths"
	"github.com/bitswalk/kbuilder/src/kbuilder/build"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the android package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// BootImageConfig holds the boot image settings
type BootImageConfig struct {
	// Tool is the image assembly command line
	Tool string
	// Ramdisk is the ramdisk image; relative paths are resolved
	// against the kernel root
	Ramdisk string
	// OutputDir receives the boot image, named after the release
	OutputDir string
}

// DefaultBootImageConfig returns the default boot image configuration
func DefaultBootImageConfig() BootImageConfig {
	return BootImageConfig{
		Tool:    "mkbootimg",
		Ramdisk: "ramdisk.img",
	}
}

// BootImage assembles boot images with mkbootimg
type BootImage struct {
	argv      []string
	ramdisk   string
	outputDir string
	executor  kbuild.Executor
}

// NewBootImage creates a boot image packager. A nil executor runs the
// tool on the host.
func NewBootImage(cfg BootImageConfig, executor kbuild.Executor) (*BootImage, error) {
	if cfg.Tool == "" {
		cfg.Tool = DefaultBootImageConfig().Tool
	}
	argv, err := shlex.Split(cfg.Tool)
	if err != nil || len(argv) == 0 {
		return nil, kerrors.ErrInvalidConfig.WithMessagef("invalid android.mkbootimg %q", cfg.Tool).WithCause(err)
	}
	if cfg.Ramdisk == "" {
		cfg.Ramdisk = DefaultBootImageConfig().Ramdisk
	}
	if executor == nil {
		executor = kbuild.HostExecutor{}
	}

	return &BootImage{
		argv:      argv,
		ramdisk:   cfg.Ramdisk,
		outputDir: cfg.OutputDir,
		executor:  executor,
	}, nil
}

// Make runs the tool with --output <release> --kernel <image>
// --ramdisk <ramdisk> and returns the boot image path
func (b *BootImage) Make(ctx context.Context, kernelImage, ramdisk, release string) (string, error) {
	return b.assemble(ctx, kernelImage, ramdisk, filepath.Join(b.outputDir, release), release)
}

func (b *BootImage) assemble(ctx context.Context, kernelImage, ramdisk, output, release string) (string, error) {
	if err := paths.EnsureDir(output); err != nil {
		return "", kerrors.ErrPackagingFailed.WithMessagef("cannot create %s", filepath.Dir(output)).WithCause(err)
	}

	argv := append(append([]string{}, b.argv...),
		"--output", output,
		"--kernel", kernelImage,
		"--ramdisk", ramdisk,
	)

	log.Info("Assembling boot image", "output", output)
	if err := b.executor.Run(ctx, kbuild.Command{Argv: argv}); err != nil {
		return "", kerrors.ErrPackagingFailed.WithMessagef("boot image %s could not be assembled", release).WithCause(err)
	}
	return output, nil
}

// ramdiskFor resolves the configured ramdisk for a kernel root
func (b *BootImage) ramdiskFor(root string) string {
	if filepath.IsAbs(b.ramdisk) {
		return b.ramdisk
	}
	return filepath.Join(root, b.ramdisk)
}

// Name returns the step name
func (b *BootImage) Name() string {
	return "bootimg"
}

// Validate checks the kernel image and ramdisk exist
func (b *BootImage) Validate(ctx context.Context, sc *build.StepContext) error {
	if !paths.IsFile(sc.ImagePath) {
		return kerrors.ErrPackagingFailed.WithMessagef("kernel image %s not found", sc.ImagePath)
	}
	if ramdisk := b.ramdiskFor(sc.Kernel.Root); !paths.IsFile(ramdisk) {
		return kerrors.ErrPackagingFailed.WithMessagef("ramdisk %s not found", ramdisk)
	}
	return nil
}

// Execute builds the boot image for the step's release
func (b *BootImage) Execute(ctx context.Context, sc *build.StepContext) error {
	dir := b.outputDir
	if dir == "" {
		dir = sc.Kernel.Root
	}
	output := filepath.Join(dir, sc.Release)

	out, err := b.assemble(ctx, sc.ImagePath, b.ramdiskFor(sc.Kernel.Root), output, sc.Release)
	if err != nil {
		return err
	}

	a := build.Artifact{Kind: build.ArtifactBootImage, Path: out}
	if info, err := os.Stat(out); err == nil {
		a.Size = info.Size()
	}
	sc.AddArtifact(a)
	return nil
}
