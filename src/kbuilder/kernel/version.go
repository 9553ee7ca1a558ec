package kernel

import (
	"regexp"
	"strings"
)

// Version is the resolved version identity of a kernel tree
type Version struct {
	// Linux is the kernelversion output, e.g. "4.9.112"
	Linux string `json:"linux" yaml:"linux"`
	// Release is the kernelrelease output, e.g. "4.9.112-perf+"
	Release string `json:"release" yaml:"release"`
	// Local is the configured suffix of Release, e.g. "perf+"
	Local string `json:"local" yaml:"local"`
}

var versionNumbersRe = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion builds a Version from the two build tool outputs. The
// local version is the part of release after linux and its separating
// hyphen. When release does not start with linux (a kernelversion of
// "4.9" against a release of "4.9.0-foo"), everything after the first
// hyphen is used.
func ParseVersion(linux, release string) Version {
	linux = strings.TrimSpace(linux)
	release = strings.TrimSpace(release)

	v := Version{Linux: linux, Release: release}
	switch {
	case strings.HasPrefix(release, linux+"-"):
		v.Local = release[len(linux)+1:]
	case release == linux:
	default:
		if _, local, ok := strings.Cut(release, "-"); ok {
			v.Local = local
		}
	}
	return v
}

// Numbers returns MAJOR.MINOR.PATCH of the Linux version, with a zero
// patch level when the tree reports none.
func (v Version) Numbers() string {
	m := versionNumbersRe.FindStringSubmatch(v.Linux)
	if m == nil {
		return v.Linux
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	return m[1] + "." + m[2] + "." + patch
}

// CustomRelease returns base with extra appended as base-extra
func CustomRelease(base, extra string) string {
	if extra == "" {
		return base
	}
	if base == "" {
		return extra
	}
	return base + "-" + extra
}
