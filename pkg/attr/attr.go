// Package attr defines the shared data model used by the attribute
// container store, the deletion engine, the merge engine and the
// migration engine: attribute records, the per-backup inode table,
// and backup metadata.
package attr

import "fmt"

// FileType is the type discriminant of an AttributeRecord, mirroring
// BackupPC's own attribute type byte.
type FileType uint8

const (
	TypeUnknown FileType = iota
	TypeFile
	TypeDir
	TypeSymlink
	TypeHardlink
	TypeChardev
	TypeBlockdev
	TypeSocket
	TypeFifo
	TypeDeleted
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "FILE"
	case TypeDir:
		return "DIR"
	case TypeSymlink:
		return "SYMLINK"
	case TypeHardlink:
		return "HARDLINK"
	case TypeChardev:
		return "CHARDEV"
	case TypeBlockdev:
		return "BLOCKDEV"
	case TypeSocket:
		return "SOCKET"
	case TypeFifo:
		return "FIFO"
	case TypeDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// IsDir reports whether the record represents a directory.
func (t FileType) IsDir() bool { return t == TypeDir }

// Compress identifies which of the two parallel pools (uncompressed,
// compressed) a digest is valid in.
type Compress uint8

const (
	CompressNone Compress = 0
	CompressZlib Compress = 1
)

// Digest is a V4 content digest: 16 bytes, MD5-sized.
type Digest [16]byte

// Empty reports whether the digest carries no content identity, as is
// the case for directories and data-less entries.
func (d Digest) Empty() bool { return d == Digest{} }

func (d Digest) String() string { return fmt.Sprintf("%x", [16]byte(d)) }

// DigestV3 is the legacy, structurally distinct V3 digest. It is never
// interchangeable with Digest at the type level, even though both
// happen to be 16 bytes, because the two hashing recipes differ
// (§4.5: V3 digests a length-derived prefix/suffix of the first 1 MiB
// rather than the full stream).
type DigestV3 [16]byte

func (d DigestV3) Empty() bool { return d == DigestV3{} }

func (d DigestV3) String() string { return fmt.Sprintf("%x", [16]byte(d)) }

// AttributeRecord is a single filesystem-entry record inside an
// attribute container (spec §3).
type AttributeRecord struct {
	Name     string
	Type     FileType
	Mode     uint32
	UID      uint32
	GID      uint32
	Size     uint64
	Mtime    int64
	Digest   Digest
	Compress Compress
	Inode    int64
	NLinks   int32
	NoAttrib bool
}

// HasDigest reports whether this record carries pool-addressable
// content (invariant 1 only applies when this is true).
func (r *AttributeRecord) HasDigest() bool {
	return !r.Digest.Empty()
}

// Indirected reports whether this record's identity lives in the
// backup's inode table rather than inline (invariant 2/3).
func (r *AttributeRecord) Indirected() bool {
	return r.NLinks > 0
}

// Clone returns a deep copy safe to mutate independently, used
// pervasively by the merge engine when adopting a Del-side record into
// Merge.
func (r *AttributeRecord) Clone() *AttributeRecord {
	c := *r
	return &c
}

// InodeTable is the per-backup map inode -> AttributeRecord for
// hard-link groups (spec §3 "Inode table").
type InodeTable struct {
	entries map[int64]*AttributeRecord
}

// NewInodeTable returns an empty table.
func NewInodeTable() *InodeTable {
	return &InodeTable{entries: make(map[int64]*AttributeRecord)}
}

func (t *InodeTable) Get(inode int64) (*AttributeRecord, bool) {
	r, ok := t.entries[inode]
	return r, ok
}

func (t *InodeTable) Set(inode int64, rec *AttributeRecord) {
	t.entries[inode] = rec
}

func (t *InodeTable) Delete(inode int64) {
	delete(t.entries, inode)
}

func (t *InodeTable) Len() int { return len(t.entries) }

// Range iterates the table in an unspecified order.
func (t *InodeTable) Range(fn func(inode int64, rec *AttributeRecord)) {
	for k, v := range t.entries {
		fn(k, v)
	}
}

// BackupMeta is the per-backup tuple (spec §3 "Backup metadata").
type BackupMeta struct {
	Num       int
	Compress  Compress
	Version   int // 3 or 4
	NoFill    bool
	Keep      bool
	InodeLast int64
}

// IsV4 reports whether this backup uses the V4 on-disk layout.
func (b *BackupMeta) IsV4() bool { return b.Version >= 4 }

// MergeCandidate reports whether this backup is a valid merge target
// for a newer incremental built directly on top of it (spec §4.3
// selection rule): it must be V4 and unfilled.
func (b *BackupMeta) MergeCandidate() bool {
	return b.IsV4() && b.NoFill
}
