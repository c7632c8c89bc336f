// Package merge implements the Merge Engine (spec §4.4): folding a
// deleted incremental backup ("Del") into its immediate predecessor
// ("Merge") so the predecessor becomes self-sufficient.
package merge

import (
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/christofchen/backuppc/pkg/ac"
	"github.com/christofchen/backuppc/pkg/attr"
	"github.com/christofchen/backuppc/pkg/collab"
	"github.com/christofchen/backuppc/pkg/engine"
	"github.com/christofchen/backuppc/pkg/journal"
	"github.com/christofchen/backuppc/pkg/subtree"
	"github.com/christofchen/backuppc/pkg/utils"
)

var logger = utils.GetLogger("merge")

// Folder drives the per-directory fold of one Del tree into one Merge
// tree. Both stores must share the same share-relative path space.
type Folder struct {
	Del   *ac.Store
	Merge *ac.Store

	DelJournal   journal.Sink
	MergeJournal journal.Sink

	Dirs collab.DirOps

	// Filled is true when the merged backup ends up filled (the
	// deleted backup's noFill was false) — spec §4.4 step 4's
	// DELETED-entry purge applies only then.
	Filled bool

	State *engine.State
}

// Fold folds directory rel (and everything below it) from Del into
// Merge, top-down with a post-order sweep for the directory-rename
// fan-out (spec §5 ordering guarantees).
func (f *Folder) Fold(rel string) {
	f.injectSyntheticDirs(rel)

	delRecs := f.Del.Records(rel)
	mergeRecs := f.Merge.Records(rel)

	names := make(map[string]bool, len(delRecs)+len(mergeRecs))
	for n := range delRecs {
		names[n] = true
	}
	for n := range mergeRecs {
		names[n] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		aDel := delRecs[name]
		aMerge := mergeRecs[name]
		child := path.Join(rel, name)

		switch {
		case aDel != nil && aMerge != nil:
			f.foldBoth(child, aDel, aMerge)
		case aDel != nil:
			f.adopt(child, aDel)
		default:
			// Present only in Merge: nothing to do.
		}
	}

	if f.Filled {
		for name, rec := range f.Merge.Records(rel) {
			if rec.Type == attr.TypeDeleted {
				f.Merge.Delete(path.Join(rel, name))
			}
		}
	}

	if err := f.Del.PurgeDirectory(rel); err != nil {
		f.State.AddError()
	}
}

func (f *Folder) foldBoth(child string, aDel, aMerge *attr.AttributeRecord) {
	bothDir := aDel.Type == attr.TypeDir && aMerge.Type == attr.TypeDir
	if bothDir {
		f.Fold(child)
		if aMerge.NoAttrib && !aDel.NoAttrib {
			cp := aDel.Clone()
			cp.NoAttrib = false
			f.Merge.Set(child, cp)
		}
		return
	}

	// Merge wins; Del's copy is dropped but still decremented.
	if aDel.HasDigest() {
		f.DelJournal.Update(aDel.Compress, aDel.Digest, -1)
	}
	if aDel.Indirected() {
		f.decrementDelInode(aDel.Inode)
	}
	if aDel.Type == attr.TypeDir {
		subtree.Delete(f.Del, f.DelJournal, f.Del.Compress(), child, f.State)
	}
	f.Del.Delete(child)
}

func (f *Folder) adopt(child string, aDel *attr.AttributeRecord) {
	rec := aDel.Clone()

	if rec.HasDigest() {
		f.MergeJournal.Update(rec.Compress, rec.Digest, 1)
		f.DelJournal.Update(aDel.Compress, aDel.Digest, -1)
	}
	if rec.Indirected() {
		f.transferInode(rec.Inode)
	}

	if rec.Type == attr.TypeDir {
		delPhysical := f.Del.Path(child)
		mergePhysical := f.Merge.Path(child)
		if info, err := os.Stat(delPhysical); err == nil && info.IsDir() {
			if err := os.MkdirAll(filepath.Dir(mergePhysical), 0o755); err != nil {
				f.State.AddError()
			} else if err := os.Rename(delPhysical, mergePhysical); err != nil {
				logger.Warnf("rename %s -> %s: %s", delPhysical, mergePhysical, err)
				f.State.AddError()
				subtree.Delete(f.Del, f.DelJournal, f.Del.Compress(), child, f.State)
			} else {
				f.copyInodes(child)
			}
		}
	}

	f.Merge.Set(child, rec)
	f.Del.Delete(child)
}

// copyInodes walks the subtree just rename'd into Merge's position,
// re-emitting the per-record inode/digest transfer the ordinary
// per-name fold would have performed had it walked there directly
// (spec §4.4 "function copyInodes").
func (f *Folder) copyInodes(rel string) {
	for name, rec := range f.Merge.Records(rel) {
		child := path.Join(rel, name)
		if rec.HasDigest() {
			f.MergeJournal.Update(rec.Compress, rec.Digest, 1)
			f.DelJournal.Update(f.Del.Compress(), rec.Digest, -1)
		}
		if rec.Indirected() {
			f.transferInode(rec.Inode)
		}
		if rec.Type == attr.TypeDir {
			f.copyInodes(child)
		}
	}
}

// transferInode copies inode's entry into Merge if Merge doesn't
// already have it, then decrements it out of Del (spec §4.4 "if the
// inode is absent from Merge's inode table, copy it... In Del,
// decrement nlinks").
func (f *Folder) transferInode(inode int64) {
	if _, found := f.Merge.GetInode(inode); !found {
		if delRec, ok := f.Del.GetInode(inode); ok {
			f.Merge.SetInode(inode, delRec.Clone())
			f.MergeJournal.Update(delRec.Compress, delRec.Digest, 1)
		} else {
			f.State.AddError()
		}
	}
	f.decrementDelInode(inode)
}

func (f *Folder) decrementDelInode(inode int64) {
	d, removed, ok := f.Del.InodeDecrement(inode)
	if !ok {
		f.State.AddError()
	} else if removed {
		f.DelJournal.Update(f.Del.Compress(), d, -1)
	}
}

// injectSyntheticDirs adds noAttrib=true DIR entries for any physical
// subdirectory of rel, in either tree, that has no attribute record
// yet (spec §4.4 step 2), so the fold below discovers it instead of
// silently losing the deeper structure.
func (f *Folder) injectSyntheticDirs(rel string) {
	f.injectSide(f.Del, rel)
	f.injectSide(f.Merge, rel)
}

func (f *Folder) injectSide(store *ac.Store, rel string) {
	entries, err := f.Dirs.DirRead(store.Path(rel))
	if err != nil {
		return
	}
	recs := store.Records(rel)
	for _, e := range entries {
		if !e.IsDir || collab.SkipSubtree[e.Name] {
			continue
		}
		if _, ok := recs[e.Name]; ok {
			continue
		}
		store.Set(path.Join(rel, e.Name), &attr.AttributeRecord{
			Name:     e.Name,
			Type:     attr.TypeDir,
			NoAttrib: true,
		})
	}
}
