// Package del implements the Deletion Engine (spec §4.3): selecting a
// merge candidate, pre-flight checks, the bottom-up path-delete walk,
// and whole-backup delete bookkeeping. It drives the Merge Engine
// (pkg/merge) when a merge candidate exists, per spec §2's "DEL and
// MRG run in cooperation."
package del

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/christofchen/backuppc/pkg/ac"
	"github.com/christofchen/backuppc/pkg/collab"
	"github.com/christofchen/backuppc/pkg/engine"
	"github.com/christofchen/backuppc/pkg/hostdb"
	"github.com/christofchen/backuppc/pkg/journal"
	"github.com/christofchen/backuppc/pkg/merge"
	"github.com/christofchen/backuppc/pkg/sentinel"
	"github.com/christofchen/backuppc/pkg/subtree"
	"github.com/christofchen/backuppc/pkg/utils"
)

var logger = utils.GetLogger("del")

// Request describes one invocation of the deletion engine (spec §6
// "CLI — deletion").
type Request struct {
	TopDir string
	Host   string
	Num    int

	Share string   // "" => whole backup, every share
	Paths []string // sub-paths within Share; empty => whole share

	KeepOverride      bool // -f
	RetainLogs        bool // -l
	ForceRefCntUpdate bool // -r
	RefCntFsck        int  // policy gate for sentinel removal
}

// Result reports what the run actually did.
type Result struct {
	Merged               bool
	MergeCandidateNum    int
	RefCountUpdateNeeded bool
}

// Run executes one deletion (spec §4.3), mutating db in place. On a
// successful whole-backup delete Run persists db itself with
// db.Save(); a share-scoped delete leaves the backup list unchanged.
func Run(req Request, db *hostdb.DB, bundle collab.Bundle, st *engine.State) (*Result, error) {
	bm, ok := db.Get(req.Num)
	if !ok {
		return nil, errors.Errorf("backup %d not found for host %s", req.Num, req.Host)
	}
	if bm.Keep && !req.KeepOverride {
		return nil, errors.Errorf("backup %d has keep set; rerun with the override flag", req.Num)
	}

	delTop := collab.BackupDir(req.TopDir, req.Host, req.Num)
	predecessor := db.Predecessor(req.Num)
	merging := bm.IsV4() && predecessor != nil && predecessor.MergeCandidate()

	shareScoped := req.Share != ""
	if shareScoped || merging {
		if err := sentinel.Set(delTop, sentinel.NeedFsckDel); err != nil {
			return nil, err
		}
	}

	var mergeTop string
	if merging {
		mergeTop = collab.BackupDir(req.TopDir, req.Host, predecessor.Num)
		if err := sentinel.Set(mergeTop, sentinel.NeedFsckDel); err != nil {
			return nil, err
		}
		if bm.Compress != predecessor.Compress {
			return nil, errors.New("cannot merge: compression mode mismatch")
		}
	}

	shares, err := topLevelShares(bundle, delTop, req.Share)
	if err != nil {
		return nil, err
	}

	delJournal := journal.New(delTop)
	var mergeJournal *journal.Journal
	if merging {
		mergeJournal = journal.New(mergeTop)
	}

	for _, share := range shares {
		delShareRoot := filepath.Join(delTop, share)
		delStore := ac.New(delShareRoot, bm.Compress)
		delStore.SetDeltaSink(delJournal)

		var mergeStore *ac.Store
		if merging {
			mergeShareRoot := filepath.Join(mergeTop, share)
			mergeStore = ac.New(mergeShareRoot, predecessor.Compress)
			mergeStore.SetDeltaSink(mergeJournal)
		}

		subpaths := req.Paths
		wholeShare := len(subpaths) == 0
		if wholeShare {
			subpaths = []string{""}
		}

		for _, sub := range subpaths {
			if merging {
				f := &merge.Folder{
					Del:          delStore,
					Merge:        mergeStore,
					DelJournal:   delJournal,
					MergeJournal: mergeJournal,
					Dirs:         bundle.Dirs,
					Filled:       !bm.NoFill,
					State:        st,
				}
				f.Fold(sub)
			} else {
				subtree.Delete(delStore, delJournal, bm.Compress, sub, st)
			}
		}

		if err := delStore.Flush(true); err != nil {
			return nil, err
		}
		if merging {
			if err := mergeStore.Flush(true); err != nil {
				return nil, err
			}
		}

		if wholeShare {
			if err := bundle.Dirs.RmTreeQuiet(delShareRoot); err != nil {
				return nil, err
			}
		} else {
			for _, sub := range subpaths {
				if err := bundle.Dirs.RmTreeQuiet(filepath.Join(delShareRoot, sub)); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := delJournal.Flush(); err != nil {
		return nil, err
	}
	if merging {
		if err := mergeJournal.Flush(); err != nil {
			return nil, err
		}
	}

	result := &Result{Merged: merging}
	if merging {
		result.MergeCandidateNum = predecessor.Num
	}

	if req.Share == "" {
		if !req.RetainLogs {
			removeLogs(bundle.Dirs, delTop, req.Num)
		}
		db.Remove(req.Num)
		if merging {
			predecessor.NoFill = bm.NoFill
			db.Put(predecessor)
		}
		if err := db.Save(); err != nil {
			return nil, err
		}
		if err := removeBackupRootExceptRefCnt(bundle.Dirs, delTop); err != nil {
			return nil, err
		}
		if err := sentinel.ClearIfClean(delTop, sentinel.NeedFsckDel, st.Errors, req.RefCntFsck); err != nil {
			return nil, err
		}
		if merging {
			if err := sentinel.ClearIfClean(mergeTop, sentinel.NeedFsckDel, st.Errors, req.RefCntFsck); err != nil {
				return nil, err
			}
		}
		result.RefCountUpdateNeeded = true
	} else {
		if err := sentinel.ClearIfClean(delTop, sentinel.NeedFsckDel, st.Errors, req.RefCntFsck); err != nil {
			return nil, err
		}
		if merging {
			if err := sentinel.ClearIfClean(mergeTop, sentinel.NeedFsckDel, st.Errors, req.RefCntFsck); err != nil {
				return nil, err
			}
		}
	}

	if req.ForceRefCntUpdate {
		result.RefCountUpdateNeeded = true
	}
	return result, nil
}

// topLevelShares resolves the share(s) a request should operate over:
// the named share if scoped, otherwise every top-level directory
// found under the backup root.
func topLevelShares(bundle collab.Bundle, delTop, share string) ([]string, error) {
	if share != "" {
		return []string{share}, nil
	}
	entries, err := bundle.Dirs.DirRead(delTop)
	if err != nil {
		return nil, err
	}
	var shares []string
	for _, e := range entries {
		if e.IsDir && !collab.SkipSubtree[e.Name] {
			shares = append(shares, e.Name)
		}
	}
	sort.Strings(shares)
	return shares, nil
}

// removeBackupRootExceptRefCnt clears a deleted backup's content and
// log files but preserves <delTop>/refCnt/, which the pending
// refcount reconciliation pass still needs to read (spec §8 scenario
// 1: the journal just flushed there must survive the delete).
func removeBackupRootExceptRefCnt(dirs collab.DirOps, delTop string) error {
	entries, err := dirs.DirRead(delTop)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == "refCnt" {
			continue
		}
		if err := dirs.RmTreeQuiet(filepath.Join(delTop, e.Name)); err != nil {
			return err
		}
	}
	return nil
}

func removeLogs(dirs collab.DirOps, delTop string, num int) {
	entries, err := dirs.DirRead(delTop)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if isBackupLog(e.Name, "XferLOG", num) || isBackupLog(e.Name, "SmbLOG", num) {
			if err := dirs.RmTreeQuiet(filepath.Join(delTop, e.Name)); err != nil {
				logger.Warnf("remove log %s: %s", e.Name, err)
			}
		}
	}
}

func isBackupLog(name, prefix string, num int) bool {
	want := prefix + "." + strconv.Itoa(num)
	return name == want || (len(name) > len(want) && name[:len(want)+1] == want+".")
}
