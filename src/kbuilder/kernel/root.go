package kernel

import (
	"os"
	"path/filepath"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/paths"
)

// requiredDirs are the top-level directories every kernel tree carries
var requiredDirs = []string{
	"arch",
	"crypto",
	"Documentation",
	"drivers",
	"include",
	"scripts",
	"tools",
}

// IsRoot reports whether dir directly contains every required kernel
// directory
func IsRoot(dir string) bool {
	for _, name := range requiredDirs {
		if !paths.IsDir(filepath.Join(dir, name)) {
			return false
		}
	}
	return true
}

// FindRoot walks from start toward the filesystem root and returns the
// first directory that looks like a kernel source tree.
func FindRoot(start string) (string, error) {
	dir, err := paths.Resolve(start)
	if err != nil {
		return "", kerrors.ErrRootNotFound.WithCause(err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", kerrors.ErrRootNotFound.WithMessagef("%s does not exist", dir).WithCause(err)
	}
	if !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for {
		if IsRoot(dir) {
			log.Debug("Found kernel root", "root", dir, "start", start)
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", kerrors.ErrRootNotFound.WithMessagef("no kernel source tree at or above %s", start)
		}
		dir = parent
	}
}
