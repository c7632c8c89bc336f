package utils

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// TeeWriter duplicates everything written to it into a primary writer
// and an appended per-host log file. Recognising the `__bpc_*` marker
// lines (spec §6) is the supervisor's job, not this writer's — it only
// duplicates bytes. Grounded in the teacher's utils.SetOutFile,
// generalized from "redirect" to "duplicate," since the CLI's own
// marker-line stdout protocol must still reach the supervisor even
// when `-L` tees to a host log. Logger output is not routed through
// it; backupDelete redirects the loggers to the host log separately
// with SetOutFile.
type TeeWriter struct {
	w io.Writer
	f *os.File
}

// NewTeeWriter opens path (creating/appending) and returns a writer
// that duplicates everything written to it into both primary and the
// file.
func NewTeeWriter(primary io.Writer, path string) (*TeeWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open host log %s", path)
	}
	return &TeeWriter{w: io.MultiWriter(primary, f), f: f}, nil
}

func (t *TeeWriter) Write(p []byte) (int, error) { return t.w.Write(p) }

func (t *TeeWriter) Close() error { return t.f.Close() }
