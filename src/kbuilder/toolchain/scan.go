package toolchain

import (
	"os"
	"path/filepath"
	"sort"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/kbuilder/kernel"
)

// Scan returns the valid toolchains directly under dir, sorted by name.
// When arch is set, toolchains built for another (or an unknown)
// architecture are left out. An empty result is logged but is not an
// error; only an unreadable dir is.
func Scan(dir string, arch kernel.Arch) ([]Toolchain, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, kerrors.ErrNoToolchainsFound.WithMessagef("cannot read toolchain directory %s", dir).WithCause(err)
	}

	toolchains := make([]Toolchain, 0, len(entries))
	for _, entry := range entries {
		root := filepath.Join(dir, entry.Name())
		if !isDirEntry(root, entry) {
			continue
		}

		tc, ok := Load(root)
		if !ok {
			log.Debug("Skipping directory without compiler", "dir", root)
			continue
		}
		if arch != "" && tc.TargetArch != arch {
			log.Debug("Skipping toolchain for other architecture", "toolchain", tc.Name, "arch", tc.TargetArch, "want", arch)
			continue
		}
		toolchains = append(toolchains, tc)
	}

	sort.Slice(toolchains, func(i, j int) bool {
		return toolchains[i].Name < toolchains[j].Name
	})

	if len(toolchains) == 0 {
		log.Warn("No toolchains found", "dir", dir, "arch", archLabel(arch))
	}

	return toolchains, nil
}

// isDirEntry follows symlinks so linked toolchain installs are scanned
func isDirEntry(path string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func archLabel(arch kernel.Arch) string {
	if arch == "" {
		return "any"
	}
	return string(arch)
}
