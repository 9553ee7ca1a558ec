// Package kernel describes a kernel source checkout: where it lives,
// which architecture it targets and what version it reports.
package kernel

import (
	"context"
	"path/filepath"

	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the kernel package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// DefaultDefconfig is the configuration target used when none is set
const DefaultDefconfig = "defconfig"

// ReleaseBase selects which version string names the build artifacts
type ReleaseBase string

const (
	// ReleaseBaseRelease names artifacts after the full kernel release
	ReleaseBaseRelease ReleaseBase = "release"
	// ReleaseBaseLocal names artifacts after the local version only,
	// as Android device kernels are usually named
	ReleaseBaseLocal ReleaseBase = "local"
)

// Descriptor is one kernel source checkout
type Descriptor struct {
	Root      string
	Name      string
	Arch      Arch
	Defconfig string
	// ExtraVersion is appended to the release to form CustomRelease
	ExtraVersion string
	// ReleaseBase picks the version string CustomRelease starts from
	ReleaseBase ReleaseBase

	version  Version
	resolved bool
}

// NewDescriptor creates a descriptor for the kernel tree at root
func NewDescriptor(root string) *Descriptor {
	return &Descriptor{
		Root:        root,
		Name:        filepath.Base(root),
		Defconfig:   DefaultDefconfig,
		ReleaseBase: ReleaseBaseRelease,
	}
}

// Env returns the build tool variables the descriptor alone implies:
// ARCH when the architecture is known, nil otherwise
func (d *Descriptor) Env() map[string]string {
	if d.Arch == "" {
		return nil
	}
	return map[string]string{"ARCH": string(d.Arch)}
}

// Resolve queries the build tool for kernelversion and kernelrelease,
// passing env to it, or Env() when env is nil. The tool runs once per
// descriptor; later calls return the stored value.
func (d *Descriptor) Resolve(ctx context.Context, r kbuild.Runner, env map[string]string) (Version, error) {
	if d.resolved {
		return d.version, nil
	}
	if env == nil {
		env = d.Env()
	}

	linux, err := kbuild.QueryLastLine(ctx, r, d.Root, kbuild.TargetKernelVersion, env)
	if err != nil {
		return Version{}, err
	}
	release, err := kbuild.QueryLastLine(ctx, r, d.Root, kbuild.TargetKernelRelease, env)
	if err != nil {
		return Version{}, err
	}

	d.version = ParseVersion(linux, release)
	d.resolved = true
	log.Debug("Resolved kernel version", "kernel", d.Name, "linux", d.version.Linux, "release", d.version.Release)

	return d.version, nil
}

// Version returns the resolved version and whether Resolve has run
func (d *Descriptor) Version() (Version, bool) {
	return d.version, d.resolved
}

// CustomRelease returns the release name with ExtraVersion applied
func (d *Descriptor) CustomRelease() string {
	return d.CustomReleaseWith(d.ExtraVersion)
}

// CustomReleaseWith returns the release name with extra applied
// instead of ExtraVersion
func (d *Descriptor) CustomReleaseWith(extra string) string {
	base := d.version.Release
	if d.ReleaseBase == ReleaseBaseLocal && d.version.Local != "" {
		base = d.version.Local
	}
	return CustomRelease(base, extra)
}

// KbuildImagePath returns the image path for arch inside this tree
func (d *Descriptor) KbuildImagePath(arch Arch) (string, error) {
	return KbuildImagePath(d.Root, arch)
}
