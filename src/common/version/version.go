// Package version holds build-time version information for kbuilder.
package version

import (
	"fmt"
	"runtime"
)

// Info holds version information, set at build time via ldflags.
type Info struct {
	// Version is the full version string, e.g. "v1.2.0-4f9f297"
	Version string `json:"version" yaml:"version"`

	// ReleaseVersion is the semantic version (e.g., "1.2.0")
	ReleaseVersion string `json:"release_version" yaml:"release_version"`

	// BuildDate is the ISO 8601 build timestamp
	BuildDate string `json:"build_date" yaml:"build_date"`

	// GitCommit is the short git commit hash
	GitCommit string `json:"git_commit" yaml:"git_commit"`

	// GoVersion is the Go runtime the binary was built with
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Default values for unset version info
var (
	DefaultVersion        = "dev"
	DefaultReleaseVersion = "0.0.0"
	DefaultBuildDate      = "unknown"
	DefaultGitCommit      = "unknown"
)

// New creates a new Info with default values
func New() *Info {
	return &Info{
		Version:        DefaultVersion,
		ReleaseVersion: DefaultReleaseVersion,
		BuildDate:      DefaultBuildDate,
		GitCommit:      DefaultGitCommit,
		GoVersion:      runtime.Version(),
	}
}

// String returns the full version string
func (i *Info) String() string {
	return i.Version
}

// Short returns a short version string (release version + commit)
func (i *Info) Short() string {
	return fmt.Sprintf("v%s-%s", i.ReleaseVersion, i.GitCommit)
}

// Full returns a detailed multi-line version string
func (i *Info) Full() string {
	return fmt.Sprintf(`kbuilder %s
  Version:    %s
  Build Date: %s
  Git Commit: %s
  Go Version: %s`,
		i.Version,
		i.ReleaseVersion,
		i.BuildDate,
		i.GitCommit,
		i.GoVersion,
	)
}
