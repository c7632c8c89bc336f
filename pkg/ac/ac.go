// Package ac implements the Attribute-Container Store (spec §4.1):
// read/write of per-directory attribute containers and the per-backup
// inode table, with the container-rewrite protocol that keeps a
// container's filename-encoded digest coherent with its bytes
// (invariant 4) and journals the refcount delta of the rewrite.
package ac

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/christofchen/backuppc/pkg/attr"
	"github.com/christofchen/backuppc/pkg/journal"
	"github.com/christofchen/backuppc/pkg/utils"
)

var logger = utils.GetLogger("ac")

// ErrInodeMissing names the case where a record's declared inode is
// absent from the backup's inode table — spec §9's open question 1:
// this is tolerated (skip with error), not compensated. No function in
// this package returns it: GetInode and InodeDecrement report the case
// through their boolean results instead.
var ErrInodeMissing = errors.New("ac: inode missing from table")

type dirContainer struct {
	records map[string]*attr.AttributeRecord
	// oldDigest/hasOldFile describe the on-disk attrib_<hex> file
	// this container was loaded from, if any.
	oldDigest  attr.Digest
	hasOldFile bool
	// readErr marks that the on-disk container could not be read;
	// per spec §4.1 failure modes, treat as empty for accounting and
	// never emit a negative delta for oldDigest.
	readErr bool
	dirty   bool
}

// Store is an Attribute-Container Store scoped to one backup share at
// one compression mode (spec §4.1).
type Store struct {
	root     string
	compress attr.Compress
	sink     journal.Sink

	dirs   map[string]*dirContainer
	inodes *attr.InodeTable
}

// New returns a Store rooted at root (a share's top directory inside
// a backup), journaling container-rewrite deltas at compress.
func New(root string, compress attr.Compress) *Store {
	return &Store{
		root:     root,
		compress: compress,
		dirs:     make(map[string]*dirContainer),
		inodes:   attr.NewInodeTable(),
	}
}

// SetDeltaSink wires in the journal that receives container-rewrite
// deltas (spec §4.1 setDeltaSink).
func (s *Store) SetDeltaSink(sink journal.Sink) {
	s.sink = sink
}

func (s *Store) dirPath(rel string) string {
	return filepath.Join(s.root, rel)
}

// load lazily reads the container for directory rel, if not already
// cached.
func (s *Store) load(rel string) *dirContainer {
	if c, ok := s.dirs[rel]; ok {
		return c
	}
	c := &dirContainer{records: make(map[string]*attr.AttributeRecord)}
	s.dirs[rel] = c

	dir := s.dirPath(rel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("read dir %s: %s", dir, err)
		}
		return c
	}

	// Pick the most recently modified attrib_* as current; stale
	// siblings are left for DEL/MRG to reap explicitly (spec §4.3/§4.4).
	var best os.DirEntry
	var bestDigest attr.Digest
	var bestMod int64
	for _, de := range entries {
		d, ok := parseContainerDigest(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if best == nil || info.ModTime().UnixNano() > bestMod {
			best = de
			bestDigest = d
			bestMod = info.ModTime().UnixNano()
		}
	}
	if best == nil {
		return c
	}
	c.hasOldFile = true
	c.oldDigest = bestDigest

	data, err := os.ReadFile(filepath.Join(dir, best.Name()))
	if err != nil {
		logger.Errorf("read container %s: %s", filepath.Join(dir, best.Name()), err)
		c.readErr = true
		return c
	}
	recs, err := deserialize(data)
	if err != nil {
		logger.Errorf("decode container %s: %s", filepath.Join(dir, best.Name()), err)
		c.readErr = true
		return c
	}
	c.records = recs
	return c
}

// Get returns the attribute record at path (a slash-separated path
// relative to the store's root: "dir/sub/name"), or nil if absent.
func (s *Store) Get(path string) *attr.AttributeRecord {
	dir, name := splitPath(path)
	c := s.load(dir)
	return c.records[name]
}

// Set stores rec under path, dirtying its container.
func (s *Store) Set(path string, rec *attr.AttributeRecord) {
	dir, name := splitPath(path)
	c := s.load(dir)
	c.records[name] = rec
	c.dirty = true
}

// Delete removes the record at path, reporting whether it was
// present.
func (s *Store) Delete(path string) bool {
	dir, name := splitPath(path)
	c := s.load(dir)
	if _, ok := c.records[name]; !ok {
		return false
	}
	delete(c.records, name)
	c.dirty = true
	return true
}

// Records returns a live view of the directory's contents, loading it
// if necessary. Callers (DEL/MRG) must not mutate the returned map
// directly; use Set/Delete.
func (s *Store) Records(dir string) map[string]*attr.AttributeRecord {
	return s.load(dir).records
}

// MarkDirty flags a directory's container as needing rewrite without
// changing any record, used by callers that mutated a record in place
// (e.g. decrementing NLinks) via a pointer obtained from Get.
func (s *Store) MarkDirty(dir string) {
	s.load(dir).dirty = true
}

func (s *Store) GetInode(inode int64) (*attr.AttributeRecord, bool) {
	return s.inodes.Get(inode)
}

func (s *Store) SetInode(inode int64, rec *attr.AttributeRecord) {
	s.inodes.Set(inode, rec)
}

func (s *Store) DeleteInode(inode int64) {
	s.inodes.Delete(inode)
}

// InodeDecrement decrements nlinks on the inode at inode; if it
// reaches zero the inode entry is removed and its digest's delta
// (-1) is returned for the caller to journal, alongside ok=true
// meaning "the inode was found and handled." If the inode is missing,
// ok=false and no delta is emitted (spec §9 open question 1).
func (s *Store) InodeDecrement(inode int64) (d attr.Digest, removed bool, ok bool) {
	rec, found := s.inodes.Get(inode)
	if !found {
		return attr.Digest{}, false, false
	}
	rec.NLinks--
	if rec.NLinks <= 0 {
		s.inodes.Delete(inode)
		return rec.Digest, true, true
	}
	return attr.Digest{}, false, true
}

// Flush serializes every dirty container (or every loaded container,
// if force is true) per the rewrite protocol of spec §4.1.
func (s *Store) Flush(force bool) error {
	for rel, c := range s.dirs {
		if !c.dirty && !force {
			continue
		}
		if err := s.flushOne(rel, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) flushOne(rel string, c *dirContainer) error {
	data := serialize(c.records)
	empty := len(c.records) == 0

	var newDigest attr.Digest
	if !empty {
		newDigest = digestOf(data)
	}

	if c.hasOldFile && !c.readErr && newDigest == c.oldDigest {
		// Idempotent: identical content must be a no-op.
		c.dirty = false
		return nil
	}

	dir := s.dirPath(rel)
	if !empty {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
		path := containerPath(dir, newDigest)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.Wrapf(err, "write container %s", path)
		}
		if s.sink != nil {
			s.sink.Update(s.compress, newDigest, 1)
		}
	}

	if c.hasOldFile && !c.readErr {
		if s.sink != nil {
			s.sink.Update(s.compress, c.oldDigest, -1)
		}
		oldPath := containerPath(dir, c.oldDigest)
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "unlink stale container %s", oldPath)
		}
	}

	c.oldDigest = newDigest
	c.hasOldFile = !empty
	c.readErr = false
	c.dirty = false
	return nil
}

// PurgeDirectory drops directory rel from the store's cache, emits a
// -1 delta for every attrib_* file physically present there (the
// container itself plus any stale siblings) and unlinks each of those
// files, without rewriting anything. Used by DEL/MRG when a directory's
// whole subtree is being removed rather than rewritten (spec §4.3 "for
// the container file itself, emit -1 and unlink it... for extra
// attrib_* files... emit a -1 delta"). A container that could not be
// read gets no delta and is left on disk. The directory itself and any
// non-container files are left to the caller's RmTreeQuiet of the
// enclosing subtree.
func (s *Store) PurgeDirectory(rel string) error {
	c := s.load(rel)
	dir := s.dirPath(rel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			delete(s.dirs, rel)
			return nil
		}
		return errors.Wrapf(err, "read dir %s", dir)
	}
	for _, de := range entries {
		d, ok := parseContainerDigest(de.Name())
		if !ok {
			continue
		}
		if c.readErr && c.hasOldFile && d == c.oldDigest {
			// Failure mode: never emit a negative delta for an
			// unread digest (spec §4.1).
			continue
		}
		if s.sink != nil {
			s.sink.Update(s.compress, d, -1)
		}
		p := filepath.Join(dir, de.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "unlink container %s", p)
		}
	}
	delete(s.dirs, rel)
	return nil
}

// Path resolves rel to its physical path under the store's root.
func (s *Store) Path(rel string) string { return s.dirPath(rel) }

// Compress reports the compression mode this store journals under.
func (s *Store) Compress() attr.Compress { return s.compress }

func splitPath(path string) (dir, name string) {
	dir = filepath.Dir(path)
	if dir == "." {
		dir = ""
	}
	name = filepath.Base(path)
	return dir, name
}
