// Package collab defines the external-collaborator interfaces the
// deletion/merge/migration engine consumes (spec §6): filename
// mangling, digest-to-pool-path mapping, compressed pool I/O, the
// pool writer, and directory-tree traversal primitives. The engine
// never assumes a concrete implementation — see the default,
// local-disk implementations in this package for the ones needed to
// build and test the module end to end.
package collab

import (
	"io"

	"github.com/christofchen/backuppc/pkg/attr"
)

// Mangle reverses and applies BackupPC's historical filename encoding,
// which escapes path separators and a handful of reserved leading
// characters so that attribute container names can be stored as plain
// map keys.
type Mangle interface {
	Name(name string) string
	Unmangle(mangled string) string
	Elt(name string) string
}

// PoolPather maps a digest to its on-disk pool path, for both pool
// generations.
type PoolPather interface {
	MD52Path(compress attr.Compress, d attr.Digest) string
	MD52PathV3(d attr.DigestV3) string
}

// FileZIO streams (de)compressed pool blobs.
type FileZIO interface {
	// OpenRead opens a pool blob for reading, transparently
	// decompressing according to compress.
	OpenRead(path string, compress attr.Compress) (io.ReadCloser, error)
	// CreateWrite creates (or truncates) a pool blob for writing,
	// compressing according to compress.
	CreateWrite(path string, compress attr.Compress) (io.WriteCloser, error)
}

// PoolWriteResult is returned by PoolWriter.Write.
type PoolWriteResult struct {
	AlreadyExisted bool
	Digest         attr.Digest
	PoolSize       int64
	ErrorCount     int
}

// PoolWriter streams new content into the pool, deduplicating against
// existing blobs by digest.
type PoolWriter interface {
	Write(r io.Reader, compress attr.Compress) (PoolWriteResult, error)
}

// DirEntry is one entry as returned by DirOps.Read/Find.
type DirEntry struct {
	Name  string
	IsDir bool
}

// VisitFunc is the tree-walker visitor contract named by spec §9: it
// is called with an entry's bare name and its path relative to the
// walk root. Walkers skip `refCnt/` and `inode/` subtrees so they are
// never miscounted as payload.
type VisitFunc func(name, relPath string) error

// DirOps is the directory-traversal collaborator.
type DirOps interface {
	// DirRead lists the immediate entries of a directory.
	DirRead(path string) ([]DirEntry, error)
	// Find walks a subtree depth-first, invoking visit for every
	// entry (files and directories), skipping refCnt/ and inode/.
	Find(root string, visit VisitFunc) error
	// RmTreeQuiet removes a directory tree, tolerating
	// already-removed entries.
	RmTreeQuiet(path string) error
}

// SkipSubtree is the set of directory names that tree walkers must
// never descend into or count as payload (spec §9).
var SkipSubtree = map[string]bool{
	"refCnt": true,
	"inode":  true,
}
