// Package export copies build artifacts to the configured storage
// backend under <version-numbers>/, each with a .sha256 sidecar.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/bitswalk/kbuilder/src/kbuilder/build"
	"github.com/bitswalk/kbuilder/src/kbuilder/storage"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the export package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Config holds the export settings
type Config struct {
	// KeepStaged leaves packaged artifacts in place after upload
	KeepStaged bool
	// SkipExisting leaves keys already present in the backend untouched
	// instead of replacing them
	SkipExisting bool
}

// Step exports the artifacts of a successful build
type Step struct {
	backend storage.Backend
	config  Config
}

// NewStep creates an export step writing to backend. Packaged artifacts
// are moved: the local copy is removed once uploaded. The kernel image
// always stays in the source tree.
func NewStep(backend storage.Backend, cfg Config) *Step {
	return &Step{
		backend: backend,
		config:  cfg,
	}
}

// Name returns the step name
func (s *Step) Name() string {
	return "export"
}

// Validate checks the backend is reachable
func (s *Step) Validate(ctx context.Context, sc *build.StepContext) error {
	return s.backend.Ping(ctx)
}

// Execute uploads every artifact of sc. A failed upload does not stop
// the others; all failures are returned together.
func (s *Step) Execute(ctx context.Context, sc *build.StepContext) error {
	dir := sc.Version.Numbers()

	var errs error
	for i := range sc.Artifacts {
		a := &sc.Artifacts[i]
		key := path.Join(dir, ArtifactName(*a, sc.Release))

		exists, err := s.backend.Exists(ctx, key)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if exists {
			if s.config.SkipExisting {
				log.Info("Artifact already exported, skipping", "key", key)
				a.Key = key
				a.Location = s.backend.URL(key)
				continue
			}
			log.Info("Replacing exported artifact", "key", key)
		}

		if err := s.exportFile(ctx, a, key); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if a.Staged() && !s.config.KeepStaged {
			if err := os.Remove(a.Path); err != nil {
				log.Warn("Failed to remove staged artifact", "path", a.Path, "error", err)
			}
		}
	}
	return errs
}

// Remove deletes an exported key and its checksum sidecar
func Remove(ctx context.Context, backend storage.Backend, key string) error {
	return multierr.Combine(
		backend.Delete(ctx, key),
		backend.Delete(ctx, ChecksumKey(key)),
	)
}

// ChecksumKey returns the key of the sidecar holding key's checksum
func ChecksumKey(key string) string {
	return key + ".sha256"
}

// ArtifactName returns the exported file name. The kernel image is
// prefixed with the release since every build produces the same name.
func ArtifactName(a build.Artifact, release string) string {
	name := filepath.Base(a.Path)
	if a.Kind == build.ArtifactKernelImage {
		return release + "-" + name
	}
	return name
}

func (s *Step) exportFile(ctx context.Context, a *build.Artifact, key string) error {
	checksum, err := CalculateChecksum(a.Path)
	if err != nil {
		return kerrors.ErrStorageUploadFailed.WithMessagef("cannot read %s", a.Path).WithCause(err)
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return kerrors.ErrStorageUploadFailed.WithMessagef("cannot open %s", a.Path).WithCause(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return kerrors.ErrStorageUploadFailed.WithCause(err)
	}

	log.Info("Exporting artifact",
		"kind", a.Kind,
		"path", a.Path,
		"key", key,
		"size", info.Size(),
	)

	if err := s.backend.Upload(ctx, key, f, info.Size(), contentType(a.Path)); err != nil {
		return err
	}

	sidecar := fmt.Sprintf("%s  %s\n", checksum, path.Base(key))
	if err := s.backend.Upload(ctx, ChecksumKey(key), strings.NewReader(sidecar), int64(len(sidecar)), "text/plain"); err != nil {
		log.Warn("Failed to upload checksum file", "key", ChecksumKey(key), "error", err)
	}

	a.Key = key
	a.Location = s.backend.URL(key)
	a.Size = info.Size()
	a.Checksum = checksum
	return nil
}

// CalculateChecksum returns the hex sha256 of a file
func CalculateChecksum(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".zip":
		return "application/zip"
	case ".img":
		return "application/x-raw-disk-image"
	case ".gz", ".gz-dtb":
		return "application/gzip"
	case ".txt":
		return "text/plain"
	case ".xz":
		return "application/x-xz"
	default:
		return "application/octet-stream"
	}
}
