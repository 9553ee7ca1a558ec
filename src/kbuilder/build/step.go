package build

import (
	"context"

	"github.com/bitswalk/kbuilder/src/kbuilder/kernel"
	"github.com/bitswalk/kbuilder/src/kbuilder/toolchain"
)

// ArtifactKind identifies what a produced file is
type ArtifactKind string

const (
	ArtifactKernelImage ArtifactKind = "kernel"
	ArtifactBootImage   ArtifactKind = "bootimg"
	ArtifactOTA         ArtifactKind = "ota"
	ArtifactLog         ArtifactKind = "log"
)

// Artifact is a file produced for one toolchain
type Artifact struct {
	Kind ArtifactKind `json:"kind" yaml:"kind"`
	Path string       `json:"path" yaml:"path"`
	// Key and Location are set once the artifact is exported: the
	// storage key and where that key can be found
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	Size     int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// Staged reports whether the artifact is a packaging output that can
// be removed once exported. Kernel images stay in the source tree and
// logs in the log directory.
func (a Artifact) Staged() bool {
	return a.Kind == ArtifactBootImage || a.Kind == ArtifactOTA
}

// StepContext is the state handed to post-build steps for one
// successfully compiled toolchain
type StepContext struct {
	Kernel    *kernel.Descriptor
	Version   kernel.Version
	Toolchain toolchain.Toolchain
	// Release is the custom release naming this toolchain's artifacts
	Release string
	// ImagePath is the kbuild image the compile produced
	ImagePath string
	// Artifacts starts with the kernel image and the build log; steps
	// append what they make
	Artifacts []Artifact
}

// AddArtifact records a produced file
func (sc *StepContext) AddArtifact(a Artifact) {
	sc.Artifacts = append(sc.Artifacts, a)
}

// PostStep runs after a successful compile. A step failure is recorded
// against its toolchain without stopping later steps or toolchains.
type PostStep interface {
	// Name returns the step name
	Name() string

	// Validate checks whether the step can run for sc
	Validate(ctx context.Context, sc *StepContext) error

	// Execute runs the step
	Execute(ctx context.Context, sc *StepContext) error
}
