package android

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/paths"
	"github.com/bitswalk/kbuilder/src/kbuilder/build"
)

// DefaultKbuildImageDir is where the kernel image goes inside the OTA tree
const DefaultKbuildImageDir = "boot"

// OTAConfig holds the OTA package settings
type OTAConfig struct {
	// SourceDir is the OTA template tree (installer scripts, tools)
	SourceDir string
	// OutputDir receives <release>.zip
	OutputDir string
	// KbuildImageDir is the directory inside SourceDir the kernel image
	// is copied to; empty leaves the tree as is
	KbuildImageDir string
}

// OTA builds flashable zip archives from a template tree
type OTA struct {
	config OTAConfig
}

// NewOTA creates an OTA packager
func NewOTA(cfg OTAConfig) *OTA {
	return &OTA{config: cfg}
}

// MakeOTAPackage copies kernelImage into sourceDir/kbuildImageDir (when
// set) and archives the whole of sourceDir as
// <outputDir>/<release in lower case>.zip. Returns the archive's
// absolute path.
func MakeOTAPackage(kernelImage, sourceDir, outputDir, kbuildImageDir, release string) (string, error) {
	// walked paths are compared against the absolute archive path
	sourceDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return "", kerrors.ErrPackagingFailed.WithCause(err)
	}
	if !paths.IsDir(sourceDir) {
		return "", kerrors.ErrPackagingFailed.WithMessagef("OTA source directory %s not found", sourceDir)
	}

	if kbuildImageDir != "" {
		dst := filepath.Join(sourceDir, kbuildImageDir, filepath.Base(kernelImage))
		if err := paths.CopyFile(kernelImage, dst); err != nil {
			return "", kerrors.ErrPackagingFailed.WithMessagef("cannot copy kernel image into %s", filepath.Dir(dst)).WithCause(err)
		}
	}

	archive, err := filepath.Abs(filepath.Join(outputDir, strings.ToLower(release)+".zip"))
	if err != nil {
		return "", kerrors.ErrPackagingFailed.WithCause(err)
	}
	if err := paths.EnsureDir(archive); err != nil {
		return "", kerrors.ErrPackagingFailed.WithMessagef("cannot create %s", filepath.Dir(archive)).WithCause(err)
	}

	log.Info("Creating OTA package", "source", sourceDir, "archive", archive)
	if err := writeZip(sourceDir, archive); err != nil {
		return "", kerrors.ErrPackagingFailed.WithMessagef("OTA package %s could not be written", filepath.Base(archive)).WithCause(err)
	}
	return archive, nil
}

// writeZip archives the tree under src into dst. The archive is written
// next to dst and renamed into place once complete.
func writeZip(src, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".ota-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	if err := addTree(zw, src, dst); err != nil {
		zw.Close()
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// addTree adds every regular file under root, skipping exclude and the
// temporary archives this package writes
func addTree(zw *zip.Writer, root, exclude string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		if path == exclude || strings.HasPrefix(d.Name(), ".ota-") || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}

// Name returns the step name
func (o *OTA) Name() string {
	return "ota"
}

// Validate checks the template tree and kernel image exist
func (o *OTA) Validate(ctx context.Context, sc *build.StepContext) error {
	if o.config.SourceDir == "" {
		return kerrors.ErrPackagingFailed.WithMessage("android.ota_dir is not set")
	}
	if !paths.IsDir(o.config.SourceDir) {
		return kerrors.ErrPackagingFailed.WithMessagef("OTA source directory %s not found", o.config.SourceDir)
	}
	if !paths.IsFile(sc.ImagePath) {
		return kerrors.ErrPackagingFailed.WithMessagef("kernel image %s not found", sc.ImagePath)
	}
	return nil
}

// Execute builds the OTA package for the step's release
func (o *OTA) Execute(ctx context.Context, sc *build.StepContext) error {
	outputDir := o.config.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(o.config.SourceDir)
	}

	archive, err := MakeOTAPackage(sc.ImagePath, o.config.SourceDir, outputDir, o.config.KbuildImageDir, sc.Release)
	if err != nil {
		return err
	}

	a := build.Artifact{Kind: build.ArtifactOTA, Path: archive}
	if info, err := os.Stat(archive); err == nil {
		a.Size = info.Size()
	}
	sc.AddArtifact(a)
	return nil
}
