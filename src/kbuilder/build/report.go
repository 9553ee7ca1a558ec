package build

import (
	"time"

	"go.uber.org/multierr"

	"github.com/bitswalk/kbuilder/src/kbuilder/toolchain"
)

// Status is the outcome for one toolchain
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of building with one toolchain
type Result struct {
	Toolchain toolchain.Toolchain
	Release   string
	Status    Status
	ImagePath string
	LogPath   string
	Artifacts []Artifact
	StartedAt time.Time
	Duration  time.Duration
	// Err is the compile failure, or the reason the toolchain was skipped
	Err error
	// StepErrs holds post-build step failures of a successful compile
	StepErrs []error
}

// Failed reports whether the toolchain's compile or any step failed
func (r Result) Failed() bool {
	return r.Err != nil || len(r.StepErrs) > 0
}

// Report summarizes a batch
type Report struct {
	BatchID   string
	Kernel    string
	Results   []Result
	StartedAt time.Time
	Duration  time.Duration

	// DefconfigLog is the defconfig output, empty when it could not be
	// written
	DefconfigLog string
}

// Succeeded returns results whose compile succeeded
func (r *Report) Succeeded() []Result {
	return r.filter(StatusSuccess)
}

// Failed returns results whose compile failed
func (r *Report) Failed() []Result {
	return r.filter(StatusFailed)
}

// Skipped returns results that were never built
func (r *Report) Skipped() []Result {
	return r.filter(StatusSkipped)
}

// Images returns the kbuild image paths of successful compiles
func (r *Report) Images() []string {
	var images []string
	for _, res := range r.Succeeded() {
		images = append(images, res.ImagePath)
	}
	return images
}

// Err combines every compile, skip and step error of the batch
func (r *Report) Err() error {
	var err error
	for _, res := range r.Results {
		err = multierr.Append(err, res.Err)
		err = multierr.Append(err, multierr.Combine(res.StepErrs...))
	}
	return err
}

func (r *Report) filter(status Status) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == status {
			out = append(out, res)
		}
	}
	return out
}
