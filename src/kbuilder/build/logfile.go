package build

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"

	"github.com/bitswalk/kbuilder/src/common/paths"
)

// LogPath returns where the log for release is written
func LogPath(dir, release string, compressed bool) string {
	path := filepath.Join(dir, release+"-log.txt")
	if compressed {
		path += ".xz"
	}
	return path
}

// DefconfigLogPath returns where the output of a batch's defconfig run
// is written
func DefconfigLogPath(dir string, compressed bool) string {
	return LogPath(dir, "defconfig", compressed)
}

// writeLog stores captured build output, creating dir when missing
func writeLog(path string, data []byte, compress bool) error {
	if err := paths.EnsureDir(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.WriteCloser = f
	if compress {
		xw, err := xz.NewWriter(f)
		if err != nil {
			f.Close()
			return err
		}
		w = xw
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		if compress {
			f.Close()
		}
		return err
	}
	if err := w.Close(); err != nil {
		if compress {
			f.Close()
		}
		return err
	}
	if compress {
		return f.Close()
	}
	return nil
}

// ReadLog returns the content of a log written by the orchestrator,
// decompressing .xz logs
func ReadLog(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) != ".xz" {
		return data, nil
	}

	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// captureWriter collects build output and optionally mirrors it live
type captureWriter struct {
	buf  bytes.Buffer
	live io.Writer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.live != nil {
		if _, err := w.live.Write(p); err != nil {
			log.Warn("Failed to mirror build output", "error", err)
			w.live = nil
		}
	}
	return len(p), nil
}
