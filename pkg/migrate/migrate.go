// Package migrate implements the Migration Engine (spec §4.5):
// converting a legacy V3 backup into the V4 layout — new attribute
// containers, a per-backup inode table, refcount deltas, and an
// atomic directory swap on commit.
package migrate

import (
	"crypto/md5"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/christofchen/backuppc/pkg/ac"
	"github.com/christofchen/backuppc/pkg/attr"
	"github.com/christofchen/backuppc/pkg/collab"
	"github.com/christofchen/backuppc/pkg/engine"
	"github.com/christofchen/backuppc/pkg/hostdb"
	"github.com/christofchen/backuppc/pkg/journal"
	"github.com/christofchen/backuppc/pkg/sentinel"
	"github.com/christofchen/backuppc/pkg/utils"
)

var logger = utils.GetLogger("migrate")

// Request describes one backup to migrate (spec §6 "CLI — migration").
type Request struct {
	TopDir string
	Host   string
	Num    int

	DryRun bool // -m: announce only, no mutation
}

// Result reports what the run did.
type Result struct {
	Skipped bool // already V4 (idempotent no-op, spec §8 property 5)
}

// legacyRecord is what the V3 reader produces per directory entry,
// before pool reconciliation assigns it a V4 digest and inode.
type legacyRecord struct {
	name  string
	typ   attr.FileType
	mode  uint32
	uid   uint32
	gid   uint32
	mtime int64
	inode uint64 // physical source inode, used only for Inode2Digest memo
}

// Run migrates one V3 backup in place, committing via a rename-swap
// (spec §4.5 "Commit").
func Run(req Request, db *hostdb.DB, bundle collab.Bundle, probe func() (bool, error), st *engine.State) (*Result, error) {
	bm, ok := db.Get(req.Num)
	if !ok {
		return nil, errors.Errorf("backup %d not found for host %s", req.Num, req.Host)
	}

	src := collab.BackupDir(req.TopDir, req.Host, req.Num)
	if _, err := os.Stat(filepath.Join(src, "refCnt")); err == nil {
		return &Result{Skipped: true}, nil
	}
	if bm.IsV4() {
		return &Result{Skipped: true}, nil
	}
	if probe != nil {
		running, err := probe()
		if err != nil {
			return nil, err
		}
		if running {
			return nil, errors.New("migrate: refusing, server is running")
		}
	}
	if req.DryRun {
		logger.Infof("dry run: would migrate %s", src)
		return &Result{}, nil
	}

	dest := src + ".v4-" + uuid.New().String()
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", dest)
	}
	if err := sentinel.Set(dest, sentinel.NeedFsckMig); err != nil {
		return nil, err
	}
	if err := sentinel.Set(dest, sentinel.NoPoolCntOk); err != nil {
		return nil, err
	}

	j := journal.New(dest)
	store := ac.New(dest, bm.Compress)
	store.SetDeltaSink(j)

	m := &migrator{
		bundle:   bundle,
		srcRoot:  src,
		compress: bm.Compress,
		store:    store,
		journal:  j,
		memo:     make(map[uint64]attr.Digest),
		sizeMemo: make(map[uint64]uint64),
		nextIno:  bm.InodeLast + 1,
		state:    st,
	}
	if maxIno := db.MaxInodeLast(); maxIno+1 > m.nextIno {
		m.nextIno = maxIno + 1
	}

	if err := m.walkDir(""); err != nil {
		bundle.Dirs.RmTreeQuiet(dest)
		return nil, err
	}
	if err := store.Flush(true); err != nil {
		return nil, err
	}
	if err := j.Flush(); err != nil {
		return nil, err
	}

	oldSrc := src + ".old-" + uuid.New().String()
	if err := os.Rename(src, oldSrc); err != nil {
		bundle.Dirs.RmTreeQuiet(dest)
		return nil, errors.Wrap(err, "migrate: rename src to .old")
	}
	if err := os.Rename(dest, src); err != nil {
		// Best-effort rollback to src.
		os.Rename(oldSrc, src)
		return nil, errors.Wrap(err, "migrate: rename dest into place")
	}
	if err := bundle.Dirs.RmTreeQuiet(oldSrc); err != nil {
		logger.Warnf("rmtree %s: %s", oldSrc, err)
	}

	if st.Errors == 0 {
		if err := sentinel.Clear(src, sentinel.NeedFsckMig); err != nil {
			return nil, err
		}
	}

	bm.Version = 4
	bm.InodeLast = m.nextIno - 1
	db.Put(bm)
	if err := db.Save(); err != nil {
		return nil, err
	}

	return &Result{}, nil
}

type migrator struct {
	bundle   collab.Bundle
	srcRoot  string
	compress attr.Compress

	store   *ac.Store
	journal journal.Sink

	memo     map[uint64]attr.Digest
	sizeMemo map[uint64]uint64
	nextIno  int64
	state    *engine.State
}

func (m *migrator) walkDir(rel string) error {
	srcDir := filepath.Join(m.srcRoot, rel)
	entries, err := m.bundle.Dirs.DirRead(srcDir)
	if err != nil {
		return errors.Wrapf(err, "read dir %s", srcDir)
	}

	legacy, err := readLegacyContainer(srcDir)
	if err != nil {
		m.state.AddError()
		legacy = map[string]legacyRecord{}
	}

	// Synthesize records for any "f"-prefixed entry stat can see but
	// the legacy container doesn't know about (spec §4.5 step 1).
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if collab.SkipSubtree[e.Name] {
			continue
		}
		names = append(names, e.Name)
		if _, ok := legacy[e.Name]; ok {
			continue
		}
		if len(e.Name) == 0 || e.Name[0] != 'f' {
			continue
		}
		info, err := os.Lstat(filepath.Join(srcDir, e.Name))
		if err != nil {
			m.state.AddError()
			continue
		}
		legacy[e.Name] = synthesizeFromStat(e.Name, info, e.IsDir)
	}
	sort.Strings(names)

	for _, name := range names {
		lr, ok := legacy[name]
		if !ok {
			continue
		}
		child := path.Join(rel, name)
		rec, err := m.convert(child, lr)
		if err != nil {
			m.state.AddError()
			continue
		}
		m.store.Set(child, rec)
		if rec.Type == attr.TypeDir {
			m.state.DirCnt++
			if err := m.walkDir(child); err != nil {
				return err
			}
		} else {
			m.state.FileCnt++
		}
	}
	return nil
}

func (m *migrator) convert(rel string, lr legacyRecord) (*attr.AttributeRecord, error) {
	rec := &attr.AttributeRecord{
		Name: m.bundle.Mangle.Unmangle(lr.name),
		Type: lr.typ,
		Mode: lr.mode,
		UID:  lr.uid,
		GID:  lr.gid,
	}
	if lr.typ == attr.TypeDir {
		return rec, nil
	}

	switch lr.typ {
	case attr.TypeFile, attr.TypeSymlink, attr.TypeHardlink, attr.TypeChardev, attr.TypeBlockdev:
		d, size, err := m.digestFor(rel, lr)
		if err != nil {
			return nil, err
		}
		rec.Digest = d
		rec.Compress = m.compress
		rec.Size = size
	}

	rec.Inode = m.nextIno
	m.nextIno++
	rec.NLinks = 0
	return rec, nil
}

// digestFor implements spec §4.5 step 2: memo lookup, dual digest
// computation, and the four-step pool reconciliation.
func (m *migrator) digestFor(rel string, lr legacyRecord) (attr.Digest, uint64, error) {
	if d, ok := m.memo[lr.inode]; ok {
		return d, m.sizeMemo[lr.inode], nil
	}

	srcPath := filepath.Join(m.srcRoot, rel)
	f, err := os.Open(srcPath)
	if err != nil {
		return attr.Digest{}, 0, errors.Wrapf(err, "open %s", srcPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return attr.Digest{}, 0, err
	}
	if info.Size() == 0 {
		// (a) Empty file: considered in-pool by convention.
		var d attr.Digest
		m.memo[lr.inode] = d
		m.sizeMemo[lr.inode] = 0
		m.journal.Update(m.compress, d, 1)
		return d, 0, nil
	}

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return attr.Digest{}, 0, errors.Wrapf(err, "digest %s", srcPath)
	}
	var d attr.Digest
	copy(d[:], h.Sum(nil))

	// (b) Already linked in V4 pool under the same physical inode.
	v4Path := m.bundle.Pather.MD52Path(m.compress, d)
	if linked, err := sameInode(v4Path, srcPath); err == nil && linked {
		m.memo[lr.inode] = d
		m.sizeMemo[lr.inode] = uint64(size)
		m.journal.Update(m.compress, d, 1)
		return d, uint64(size), nil
	}

	// (c) Scan the V3 pool chain for a hard-link match.
	if linkedPath, err := m.findV3Chain(srcPath); err == nil && linkedPath != "" {
		if err := os.MkdirAll(filepath.Dir(v4Path), 0o755); err == nil {
			if err := os.Link(linkedPath, v4Path); err == nil {
				os.Remove(linkedPath)
				m.memo[lr.inode] = d
				m.sizeMemo[lr.inode] = uint64(size)
				m.journal.Update(m.compress, d, 1)
				return d, uint64(size), nil
			}
			// Benign race: if v4Path is now present with our inode,
			// the link actually landed; no error is counted.
			if linked, err := sameInode(v4Path, srcPath); err == nil && linked {
				m.memo[lr.inode] = d
				m.sizeMemo[lr.inode] = uint64(size)
				m.journal.Update(m.compress, d, 1)
				return d, uint64(size), nil
			}
			m.state.AddError()
		}
	}

	// (d) Stream through the pool writer.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return attr.Digest{}, 0, err
	}
	res, err := m.bundle.Writer.Write(f, m.compress)
	if err != nil {
		return attr.Digest{}, 0, err
	}
	m.memo[lr.inode] = res.Digest
	m.sizeMemo[lr.inode] = uint64(size)
	m.journal.Update(m.compress, res.Digest, 1)
	return res.Digest, uint64(size), nil
}

func sameInode(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ai, bi), nil
}

// findV3Chain scans path3, path3_0, path3_1, ... for an entry whose
// inode matches src (spec §4.5 step 2c). Chain members live alongside
// the legacy V3 pool path this engine would have derived for src's
// legacy digest; srcPath is read to compute that legacy digest and
// stat'ed so os.SameFile can compare each candidate against it.
func (m *migrator) findV3Chain(srcPath string) (string, error) {
	var legacyDigest attr.DigestV3
	f, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	legacyDigest, err = v3Digest(f)
	if err != nil {
		return "", err
	}
	base := m.bundle.Pather.MD52PathV3(legacyDigest)
	for i := -1; i < 32; i++ {
		candidate := base
		if i >= 0 {
			candidate = base + "_" + strconv.Itoa(i)
		}
		info, err := os.Stat(candidate)
		if err != nil {
			if i == -1 {
				continue
			}
			break
		}
		srcInfo, err := os.Stat(srcPath)
		if err == nil && os.SameFile(info, srcInfo) {
			return candidate, nil
		}
	}
	return "", nil
}

// v3Digest computes the legacy recipe: MD5 over a length-derived
// prefix/suffix of the first 1 MiB (spec §4.5 step 2).
func v3Digest(r io.Reader) (attr.DigestV3, error) {
	const capN = 1 << 20
	buf := make([]byte, capN)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return attr.DigestV3{}, err
	}
	buf = buf[:n]

	h := md5.New()
	if n <= 256 {
		h.Write(buf)
	} else {
		h.Write(buf[:128])
		h.Write(buf[n-128:])
	}
	var d attr.DigestV3
	copy(d[:], h.Sum(nil))
	return d, nil
}
