package ac

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/christofchen/backuppc/pkg/attr"
)

const containerPrefix = "attrib_"

// wireRecord is the on-disk, JSON-serialized form of an
// attr.AttributeRecord. A plain, explicit wire struct (rather than
// marshaling attr.AttributeRecord directly) keeps container digests
// stable even if the in-memory struct gains fields later.
type wireRecord struct {
	// Key is the container's own lookup key for this entry — almost
	// always equal to Name, except for a migrated V3 entry where Name
	// has been unmangled to a human-readable form but the physical
	// directory entry (and hence the key callers address it by) is
	// still the mangled one. Omitted when the two coincide.
	Key      string `json:"key,omitempty"`
	Name     string `json:"name"`
	Type     uint8  `json:"type"`
	Mode     uint32 `json:"mode"`
	UID      uint32 `json:"uid"`
	GID      uint32 `json:"gid"`
	Size     uint64 `json:"size"`
	Mtime    int64  `json:"mtime"`
	Digest   string `json:"digest,omitempty"`
	Compress uint8  `json:"compress,omitempty"`
	Inode    int64  `json:"inode,omitempty"`
	NLinks   int32  `json:"nlinks,omitempty"`
	NoAttrib bool   `json:"noAttrib,omitempty"`
}

func toWire(r *attr.AttributeRecord) wireRecord {
	w := wireRecord{
		Name:     r.Name,
		Type:     uint8(r.Type),
		Mode:     r.Mode,
		UID:      r.UID,
		GID:      r.GID,
		Size:     r.Size,
		Mtime:    r.Mtime,
		Compress: uint8(r.Compress),
		Inode:    r.Inode,
		NLinks:   r.NLinks,
		NoAttrib: r.NoAttrib,
	}
	if !r.Digest.Empty() {
		w.Digest = r.Digest.String()
	}
	return w
}

func fromWire(w wireRecord) *attr.AttributeRecord {
	r := &attr.AttributeRecord{
		Name:     w.Name,
		Type:     attr.FileType(w.Type),
		Mode:     w.Mode,
		UID:      w.UID,
		GID:      w.GID,
		Size:     w.Size,
		Mtime:    w.Mtime,
		Compress: attr.Compress(w.Compress),
		Inode:    w.Inode,
		NLinks:   w.NLinks,
		NoAttrib: w.NoAttrib,
	}
	if w.Digest != "" {
		var d attr.Digest
		decodeHex(w.Digest, d[:])
		r.Digest = d
	}
	return r
}

// decodeHex fills out with the bytes decoded from s, ignoring a
// malformed or short string (callers only ever pass digests this
// package itself produced, except when reading untrusted legacy
// containers, where a decode failure simply yields a zero digest).
func decodeHex(s string, out []byte) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return
	}
	copy(out, b)
}

// serialize produces the deterministic on-disk bytes for a container:
// records sorted by name, JSON-encoded one per line. Determinism is
// required for invariant 4 (filename digest == digest of bytes) to be
// stable across runs and across platforms.
func serialize(records map[string]*attr.AttributeRecord) []byte {
	names := make([]string, 0, len(records))
	for n := range records {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, n := range names {
		w := toWire(records[n])
		if n != w.Name {
			w.Key = n
		}
		_ = enc.Encode(w)
	}
	return buf.Bytes()
}

func deserialize(data []byte) (map[string]*attr.AttributeRecord, error) {
	out := make(map[string]*attr.AttributeRecord)
	if len(data) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var w wireRecord
		if err := dec.Decode(&w); err != nil {
			return nil, err
		}
		key := w.Key
		if key == "" {
			key = w.Name
		}
		out[key] = fromWire(w)
	}
	return out, nil
}

func digestOf(data []byte) attr.Digest {
	sum := md5.Sum(data)
	return attr.Digest(sum)
}

// containerFileName returns the attrib_<hex> name for a digest.
func containerFileName(d attr.Digest) string {
	return containerPrefix + d.String()
}

// parseContainerDigest extracts the digest encoded in an attrib_<hex>
// filename, reporting ok=false for non-container files.
func parseContainerDigest(name string) (attr.Digest, bool) {
	if !strings.HasPrefix(name, containerPrefix) {
		return attr.Digest{}, false
	}
	hexPart := strings.TrimPrefix(name, containerPrefix)
	if len(hexPart) != 32 {
		return attr.Digest{}, false
	}
	var d attr.Digest
	decodeHex(hexPart, d[:])
	return d, true
}

func containerPath(dir string, d attr.Digest) string {
	return filepath.Join(dir, containerFileName(d))
}
