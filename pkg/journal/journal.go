// Package journal implements the Delta Refcount Journal (DRC, spec
// §4.2): an in-memory buffer of per-backup, per-digest refcount deltas
// flushed to files under <backup>/refCnt/ in a format consumable by
// the external refCountUpdate tool.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/christofchen/backuppc/pkg/attr"
)

// Sink is the interface the attribute-container store writes rewrite
// deltas into (spec §4.1 setDeltaSink / §9 "cyclic references...
// modelled as an injected sink").
type Sink interface {
	Update(compress attr.Compress, d attr.Digest, delta int32)
}

type key struct {
	compress attr.Compress
	digest   attr.Digest
}

// Journal accumulates deltas for a single backup directory and
// flushes them to <backupDir>/refCnt/.
type Journal struct {
	backupDir string
	deltas    map[key]int32
}

// New returns a journal scoped to the given backup directory.
func New(backupDir string) *Journal {
	return &Journal{backupDir: backupDir, deltas: make(map[key]int32)}
}

// Update accumulates delta in memory. Empty digests are ignored
// (spec §4.2 "tolerates being called with empty digests").
func (j *Journal) Update(compress attr.Compress, d attr.Digest, delta int32) {
	if d.Empty() || delta == 0 {
		return
	}
	j.deltas[key{compress, d}] += delta
}

// Deltas returns a read-only snapshot of the accumulated deltas, keyed
// by compress/digest. Used by tests asserting refcount neutrality
// (spec §8 properties 1 and 2).
func (j *Journal) Deltas() map[attr.Compress]map[attr.Digest]int32 {
	out := make(map[attr.Compress]map[attr.Digest]int32)
	for k, v := range j.deltas {
		if out[k.compress] == nil {
			out[k.compress] = make(map[attr.Digest]int32)
		}
		out[k.compress][k.digest] = v
	}
	return out
}

// Sum returns the net delta contributed so far across every digest,
// used by tests of deletion/merge neutrality.
func (j *Journal) Sum() int32 {
	var s int32
	for _, v := range j.deltas {
		s += v
	}
	return s
}

// Flush serializes the accumulated deltas to
// <backupDir>/refCnt/refCountDelta, grouped by (compress, digest) and
// summed, sorted for determinism. Entries whose net delta is zero are
// still omitted: an entry that was incremented then decremented back
// to zero never touched the pool and need not be reconciled.
func (j *Journal) Flush() error {
	dir := filepath.Join(j.backupDir, "refCnt")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	path := filepath.Join(dir, "refCountDelta")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	type line struct {
		compress attr.Compress
		digest   attr.Digest
		delta    int32
	}
	var lines []line
	for k, v := range j.deltas {
		if v == 0 {
			continue
		}
		lines = append(lines, line{k.compress, k.digest, v})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].compress != lines[j].compress {
			return lines[i].compress < lines[j].compress
		}
		return lines[i].digest.String() < lines[j].digest.String()
	})

	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%d %s %d\n", l.compress, l.digest, l.delta); err != nil {
			return errors.Wrap(err, "write refcount journal")
		}
	}
	return w.Flush()
}

// Reset discards all accumulated, unflushed deltas. Used between test
// cases and by callers that flush incrementally.
func (j *Journal) Reset() {
	j.deltas = make(map[key]int32)
}
