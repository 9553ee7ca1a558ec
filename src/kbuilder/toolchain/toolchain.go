// Package toolchain discovers cross-compiler toolchains on disk and lets
// the operator pick which ones a build batch uses.
package toolchain

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/bitswalk/kbuilder/src/kbuilder/kernel"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the toolchain package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// compilerSuffix ends the name of a toolchain's C compiler binary
const compilerSuffix = "gcc"

// Environment variables consumed by kbuild
const (
	EnvCrossCompile = "CROSS_COMPILE"
	EnvArch         = "ARCH"
	EnvSubarch      = "SUBARCH"
)

// compilerPrefixes classifies a compiler by the start of its binary
// name. Checked in order, so longer prefixes go first.
var compilerPrefixes = []struct {
	prefix string
	arch   kernel.Arch
}{
	{"aarch64", kernel.ArchARM64},
	{"arm-eabi", kernel.ArchARM},
	{"arm-linux", kernel.ArchARM},
	{"x86_64", kernel.ArchX86},
	{"i686", kernel.ArchX86},
}

// Toolchain is one cross-compiler installation
type Toolchain struct {
	// Root is the toolchain directory
	Root string `json:"root" yaml:"root"`
	// Name is the base name of Root
	Name string `json:"name" yaml:"name"`
	// CompilerPrefix is the path shared by every binary of the
	// toolchain, e.g. /tc/gcc-arm64/bin/aarch64-linux-android-
	CompilerPrefix string `json:"compiler_prefix" yaml:"compiler_prefix"`
	// TargetArch is empty when the compiler name is not recognised
	TargetArch kernel.Arch `json:"arch" yaml:"arch"`
	// Version is the compiler version; only set by DetectVersions
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// ArchForPrefix classifies a compiler prefix by its binary name
func ArchForPrefix(compilerPrefix string) (kernel.Arch, bool) {
	base := filepath.Base(compilerPrefix)
	for _, p := range compilerPrefixes {
		if strings.HasPrefix(base, p.prefix) {
			return p.arch, true
		}
	}
	return "", false
}

// Load inspects root and returns the toolchain it contains. The second
// result is false when root has no bin directory or no compiler in it.
func Load(root string) (Toolchain, bool) {
	bin := filepath.Join(root, "bin")
	entries, err := os.ReadDir(bin)
	if err != nil {
		return Toolchain{}, false
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), compilerSuffix) {
			continue
		}

		prefix := filepath.Join(bin, strings.TrimSuffix(entry.Name(), compilerSuffix))
		arch, _ := ArchForPrefix(prefix)
		return Toolchain{
			Root:           root,
			Name:           filepath.Base(root),
			CompilerPrefix: prefix,
			TargetArch:     arch,
		}, true
	}

	return Toolchain{}, false
}

// Compiler returns the path to the C compiler
func (t Toolchain) Compiler() string {
	return t.CompilerPrefix + compilerSuffix
}

// EnvVars returns the variables that make kbuild use this toolchain.
// They are passed to each build tool invocation, never set on the
// current process. fallback is the target architecture when the
// compiler name does not tell. ARCH must be set explicitly: the top
// Makefile derives SUBARCH from the host and only reads ARCH from the
// environment.
func (t Toolchain) EnvVars(fallback kernel.Arch) map[string]string {
	env := map[string]string{
		EnvCrossCompile: t.CompilerPrefix,
	}
	arch := t.TargetArch
	if arch == "" {
		arch = fallback
	}
	if arch != "" {
		env[EnvArch] = string(arch)
		env[EnvSubarch] = string(arch)
	}
	return env
}

// String returns the toolchain name
func (t Toolchain) String() string {
	return t.Name
}

// FindByName returns the first toolchain named name
func FindByName(toolchains []Toolchain, name string) (Toolchain, bool) {
	for _, tc := range toolchains {
		if tc.Name == name {
			return tc, true
		}
	}
	return Toolchain{}, false
}

// Names returns the toolchain names in order
func Names(toolchains []Toolchain) []string {
	names := make([]string, len(toolchains))
	for i, tc := range toolchains {
		names[i] = tc.Name
	}
	return names
}
