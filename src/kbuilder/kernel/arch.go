package kernel

import (
	"path/filepath"
	"strings"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
)

// Arch is a kernel build architecture (the arch/<name> directory)
type Arch string

const (
	ArchARM   Arch = "arm"
	ArchARM64 Arch = "arm64"
	ArchX86   Arch = "x86"
)

// kbuildImages maps each architecture to the compressed image kbuild
// leaves in arch/<arch>/boot
var kbuildImages = map[Arch]string{
	ArchARM:   "zImage",
	ArchARM64: "Image.gz-dtb",
	ArchX86:   "bzImage",
}

// archAliases accepts the machine names people commonly type
var archAliases = map[string]Arch{
	"aarch64": ArchARM64,
	"x86_64":  ArchX86,
	"amd64":   ArchX86,
	"i386":    ArchX86,
}

// KnownArchs returns the supported architectures
func KnownArchs() []Arch {
	return []Arch{ArchARM, ArchARM64, ArchX86}
}

// ParseArch converts s to an Arch
func ParseArch(s string) (Arch, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if a, ok := archAliases[s]; ok {
		return a, nil
	}
	a := Arch(s)
	if !a.Valid() {
		return "", kerrors.ErrUnsupportedArch.WithMessagef("unsupported architecture %q", s)
	}
	return a, nil
}

// Valid reports whether a is one of the known architectures
func (a Arch) Valid() bool {
	_, ok := kbuildImages[a]
	return ok
}

// ImageName returns the kbuild image file name for a
func (a Arch) ImageName() (string, error) {
	name, ok := kbuildImages[a]
	if !ok {
		return "", kerrors.ErrUnsupportedArch.WithMessagef("no kbuild image known for architecture %q", string(a))
	}
	return name, nil
}

// KbuildImagePath returns root/arch/<arch>/boot/<image>. No I/O is done.
func KbuildImagePath(root string, arch Arch) (string, error) {
	name, err := arch.ImageName()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "arch", string(arch), "boot", name), nil
}
