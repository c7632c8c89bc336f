package collab

import (
	"crypto/md5"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/christofchen/backuppc/pkg/attr"
)

// bpcPoolWriter streams new content into the pool described by
// pather/zio, deduplicating by digest.
type bpcPoolWriter struct {
	pather PoolPather
	zio    FileZIO
}

// NewPoolWriter returns the default PoolWriter collaborator.
func NewPoolWriter(pather PoolPather, zio FileZIO) PoolWriter {
	return &bpcPoolWriter{pather: pather, zio: zio}
}

func (w *bpcPoolWriter) Write(r io.Reader, compress attr.Compress) (PoolWriteResult, error) {
	tmp, err := os.CreateTemp("", "bpc-pool-*")
	if err != nil {
		return PoolWriteResult{}, errors.Wrap(err, "pool writer temp file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return PoolWriteResult{ErrorCount: 1}, errors.Wrap(err, "pool writer copy")
	}
	var d attr.Digest
	copy(d[:], h.Sum(nil))

	dest := w.pather.MD52Path(compress, d)
	if _, err := os.Stat(dest); err == nil {
		return PoolWriteResult{AlreadyExisted: true, Digest: d, PoolSize: size}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return PoolWriteResult{ErrorCount: 1}, errors.Wrap(err, "pool writer mkdir")
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return PoolWriteResult{ErrorCount: 1}, errors.Wrap(err, "pool writer rewind")
	}

	out, err := w.zio.CreateWrite(dest, compress)
	if err != nil {
		return PoolWriteResult{ErrorCount: 1}, err
	}
	if _, err := io.Copy(out, tmp); err != nil {
		out.Close()
		return PoolWriteResult{ErrorCount: 1}, errors.Wrap(err, "pool writer write")
	}
	if err := out.Close(); err != nil {
		return PoolWriteResult{ErrorCount: 1}, errors.Wrap(err, "pool writer close")
	}
	return PoolWriteResult{Digest: d, PoolSize: size}, nil
}
