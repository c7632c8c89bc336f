// Package subtree implements the bottom-up attribute-container walk
// shared by the deletion engine and the merge engine's fallback path
// (spec §4.3 "walk the sub-tree bottom-up... decrement references"):
// for every record, decrement its digest and (if indirected) its
// inode, then purge the directory's own container.
package subtree

import (
	"path"

	"github.com/christofchen/backuppc/pkg/ac"
	"github.com/christofchen/backuppc/pkg/attr"
	"github.com/christofchen/backuppc/pkg/engine"
	"github.com/christofchen/backuppc/pkg/journal"
)

// Delete walks store at rel (and below) bottom-up, decrementing the
// digest and inode references of every record it finds, deleting the
// records themselves, and purging each directory's attribute
// container (emitting the container's own -1 and reaping any stale
// siblings). It does not touch the entry for rel itself inside rel's
// parent container — the caller owns that (spec §4.3's "container
// file itself" step applies one level up from the caller's
// perspective when rel is a subtree root being folded into another).
func Delete(store *ac.Store, sink journal.Sink, compress attr.Compress, rel string, st *engine.State) {
	records := store.Records(rel)
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}

	for _, name := range names {
		rec := records[name]
		child := path.Join(rel, name)

		if rec.Type == attr.TypeDir {
			Delete(store, sink, compress, child, st)
		}

		if rec.HasDigest() {
			sink.Update(rec.Compress, rec.Digest, -1)
		}
		if rec.Indirected() {
			d, removed, ok := store.InodeDecrement(rec.Inode)
			if !ok {
				st.AddError()
			} else if removed {
				sink.Update(compress, d, -1)
			}
		}

		store.Delete(child)
		if rec.Type == attr.TypeDir {
			st.DirCnt++
		} else {
			st.FileCnt++
		}
	}

	if err := store.PurgeDirectory(rel); err != nil {
		st.AddError()
	}
}
