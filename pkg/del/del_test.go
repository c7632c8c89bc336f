package del

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/christofchen/backuppc/pkg/ac"
	"github.com/christofchen/backuppc/pkg/attr"
	"github.com/christofchen/backuppc/pkg/collab"
	"github.com/christofchen/backuppc/pkg/engine"
	"github.com/christofchen/backuppc/pkg/hostdb"
	"github.com/christofchen/backuppc/pkg/sentinel"
)

const host = "testhost"

func setup(t *testing.T) (topDir string, db *hostdb.DB, bundle collab.Bundle) {
	t.Helper()
	topDir = t.TempDir()
	db, err := hostdb.Load(topDir, host)
	if err != nil {
		t.Fatal(err)
	}
	return topDir, db, collab.NewDefaultBundle(topDir)
}

func mkShare(t *testing.T, topDir, host string, num int, share string) {
	t.Helper()
	dir := filepath.Join(collab.BackupDir(topDir, host, num), share)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "placeholder"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// mkShareWithRecord builds a share whose attribute container already
// references digest d, as if written by an earlier backup run — no
// delta sink is attached here, matching the fact that whatever run
// originally created this reference already flushed its own +1
// elsewhere. Used by tests that assert on the -1 a deletion run emits.
func mkShareWithRecord(t *testing.T, topDir, host string, num int, share string, compress attr.Compress, d attr.Digest) {
	t.Helper()
	shareRoot := filepath.Join(collab.BackupDir(topDir, host, num), share)
	s := ac.New(shareRoot, compress)
	s.Set("file1", &attr.AttributeRecord{Name: "file1", Type: attr.TypeFile, Digest: d, Compress: compress})
	if err := s.Flush(true); err != nil {
		t.Fatal(err)
	}
}

func TestRunRefusesKeptBackupWithoutOverride(t *testing.T) {
	Convey("Given a backup with keep set", t, func() {
		topDir, db, bundle := setup(t)
		db.Put(&attr.BackupMeta{Num: 5, Version: 4, Keep: true})
		mkShare(t, topDir, host, 5, "share1")

		Convey("Run refuses without -f", func() {
			_, err := Run(Request{TopDir: topDir, Host: host, Num: 5}, db, bundle, &engine.State{})
			So(err, ShouldNotBeNil)
		})

		Convey("Run proceeds with KeepOverride", func() {
			_, err := Run(Request{TopDir: topDir, Host: host, Num: 5, KeepOverride: true}, db, bundle, &engine.State{})
			So(err, ShouldBeNil)
		})
	})
}

func TestRunWholeBackupDeleteNoPredecessor(t *testing.T) {
	Convey("Given a standalone backup with no merge candidate", t, func() {
		topDir, db, bundle := setup(t)
		db.Put(&attr.BackupMeta{Num: 5, Version: 4, Compress: attr.CompressNone})
		d := attr.Digest{7, 7, 7}
		mkShareWithRecord(t, topDir, host, 5, "share1", attr.CompressNone, d)
		delTop := collab.BackupDir(topDir, host, 5)

		Convey("Run removes the backup's content but preserves refCnt for the reconciler", func() {
			st := &engine.State{}
			result, err := Run(Request{TopDir: topDir, Host: host, Num: 5}, db, bundle, st)
			So(err, ShouldBeNil)
			So(result.Merged, ShouldBeFalse)
			So(result.RefCountUpdateNeeded, ShouldBeTrue)

			_, ok := db.Get(5)
			So(ok, ShouldBeFalse)

			_, statErr := os.Stat(filepath.Join(delTop, "share1"))
			So(os.IsNotExist(statErr), ShouldBeTrue)

			deltaPath := filepath.Join(delTop, "refCnt", "refCountDelta")
			data, err := os.ReadFile(deltaPath)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, fmt.Sprintf("%d %s -1", attr.CompressNone, d))
		})
	})
}

func TestRunRejectsCompressionMismatchOnMerge(t *testing.T) {
	Convey("Given a V4 predecessor with a different compression mode", t, func() {
		topDir, db, bundle := setup(t)
		db.Put(&attr.BackupMeta{Num: 4, Version: 4, Compress: attr.CompressZlib, NoFill: true})
		db.Put(&attr.BackupMeta{Num: 5, Version: 4, Compress: attr.CompressNone})
		mkShare(t, topDir, host, 4, "share1")
		mkShare(t, topDir, host, 5, "share1")

		Convey("Run refuses to merge", func() {
			_, err := Run(Request{TopDir: topDir, Host: host, Num: 5}, db, bundle, &engine.State{})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRunMergesIntoPredecessorAndInheritsNoFill(t *testing.T) {
	Convey("Given a V4, noFill predecessor directly below the deleted backup", t, func() {
		topDir, db, bundle := setup(t)
		db.Put(&attr.BackupMeta{Num: 4, Version: 4, Compress: attr.CompressNone, NoFill: true})
		db.Put(&attr.BackupMeta{Num: 5, Version: 4, Compress: attr.CompressNone, NoFill: false})
		mkShare(t, topDir, host, 4, "share1")
		mkShare(t, topDir, host, 5, "share1")

		Convey("Run merges #5 into #4 and #4 inherits #5's noFill", func() {
			st := &engine.State{}
			result, err := Run(Request{TopDir: topDir, Host: host, Num: 5}, db, bundle, st)
			So(err, ShouldBeNil)
			So(result.Merged, ShouldBeTrue)
			So(result.MergeCandidateNum, ShouldEqual, 4)

			pred, ok := db.Get(4)
			So(ok, ShouldBeTrue)
			So(pred.NoFill, ShouldBeFalse)

			_, ok = db.Get(5)
			So(ok, ShouldBeFalse)

			mergeTop := collab.BackupDir(topDir, host, 4)
			So(sentinel.Present(mergeTop, sentinel.NeedFsckDel), ShouldBeFalse)
		})
	})
}

func TestRunShareScopedClearsItsOwnSentinelOnCleanRun(t *testing.T) {
	Convey("Given a share-scoped delete with RefCntFsck disabled", t, func() {
		topDir, db, bundle := setup(t)
		db.Put(&attr.BackupMeta{Num: 5, Version: 4, Compress: attr.CompressNone})
		mkShare(t, topDir, host, 5, "share1")
		delTop := collab.BackupDir(topDir, host, 5)

		Convey("Run sets then clears needFsck.del", func() {
			st := &engine.State{}
			_, err := Run(Request{TopDir: topDir, Host: host, Num: 5, Share: "share1", RefCntFsck: 0}, db, bundle, st)
			So(err, ShouldBeNil)
			So(sentinel.Present(delTop, sentinel.NeedFsckDel), ShouldBeFalse)

			// The backup itself is untouched by a share-scoped delete.
			_, ok := db.Get(5)
			So(ok, ShouldBeTrue)
		})
	})
}

func TestRunRetainsLogsWhenRequested(t *testing.T) {
	Convey("Given a whole-backup delete with retained logs requested", t, func() {
		topDir, db, bundle := setup(t)
		db.Put(&attr.BackupMeta{Num: 5, Version: 4, Compress: attr.CompressNone})
		mkShare(t, topDir, host, 5, "share1")

		Convey("RetainLogs only affects log removal, not the share content removal", func() {
			delTop := collab.BackupDir(topDir, host, 5)
			_, err := Run(Request{TopDir: topDir, Host: host, Num: 5, RetainLogs: true}, db, bundle, &engine.State{})
			So(err, ShouldBeNil)

			_, statErr := os.Stat(filepath.Join(delTop, "share1"))
			So(os.IsNotExist(statErr), ShouldBeTrue)

			_, statErr = os.Stat(filepath.Join(delTop, "refCnt"))
			So(statErr, ShouldBeNil)
		})
	})
}
