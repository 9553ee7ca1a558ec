package build

import (
	"io"
	"strings"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
)

// CleanPolicy decides which clean target runs before each compile
type CleanPolicy string

const (
	// CleanAuto runs a full clean for multi-toolchain batches and an
	// arch clean when the batch has a single toolchain
	CleanAuto CleanPolicy = "auto"
	// CleanFull always runs the clean target
	CleanFull CleanPolicy = "full"
	// CleanArch always runs the archclean target
	CleanArch CleanPolicy = "arch"
	// CleanNone never cleans
	CleanNone CleanPolicy = "none"
)

// ParseCleanPolicy converts s to a CleanPolicy. Empty means auto.
func ParseCleanPolicy(s string) (CleanPolicy, error) {
	switch p := CleanPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CleanAuto, nil
	case CleanAuto, CleanFull, CleanArch, CleanNone:
		return p, nil
	default:
		return "", kerrors.ErrInvalidConfig.WithMessagef("unknown clean policy %q (want auto, full, arch or none)", s)
	}
}

// Target returns the clean target for a batch of batchSize toolchains,
// or "" when nothing should be cleaned.
func (p CleanPolicy) Target(batchSize int) string {
	switch p {
	case CleanFull:
		return kbuild.TargetClean
	case CleanArch:
		return kbuild.TargetArchClean
	case CleanNone:
		return ""
	default:
		if batchSize > 1 {
			return kbuild.TargetClean
		}
		return kbuild.TargetArchClean
	}
}

// Config holds the orchestrator settings
type Config struct {
	// LogDir receives one <release>-log.txt per toolchain
	LogDir string
	// CleanPolicy selects the clean target before each compile
	CleanPolicy CleanPolicy
	// TagToolchain appends the toolchain name to the release
	TagToolchain bool
	// CompressLogs writes logs xz-compressed with an .xz suffix
	CompressLogs bool
	// Target is the compile target
	Target string
	// Output, when set, also receives the build tool output live
	Output io.Writer
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		LogDir:       "build_logs",
		CleanPolicy:  CleanAuto,
		TagToolchain: true,
		Target:       kbuild.TargetAll,
	}
}
