package attr

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFileTypeString(t *testing.T) {
	Convey("Given every known FileType", t, func() {
		cases := map[FileType]string{
			TypeFile:     "FILE",
			TypeDir:      "DIR",
			TypeSymlink:  "SYMLINK",
			TypeHardlink: "HARDLINK",
			TypeChardev:  "CHARDEV",
			TypeBlockdev: "BLOCKDEV",
			TypeSocket:   "SOCKET",
			TypeFifo:     "FIFO",
			TypeDeleted:  "DELETED",
			TypeUnknown:  "UNKNOWN",
		}
		Convey("String renders the expected label", func() {
			for ft, want := range cases {
				So(ft.String(), ShouldEqual, want)
			}
		})
		Convey("an out-of-range value falls back to UNKNOWN", func() {
			So(FileType(200).String(), ShouldEqual, "UNKNOWN")
		})
	})

	Convey("Only TypeDir reports IsDir", t, func() {
		So(TypeDir.IsDir(), ShouldBeTrue)
		So(TypeFile.IsDir(), ShouldBeFalse)
		So(TypeSymlink.IsDir(), ShouldBeFalse)
	})
}

func TestDigestEmpty(t *testing.T) {
	Convey("A zero-value Digest is Empty", t, func() {
		var d Digest
		So(d.Empty(), ShouldBeTrue)

		d[0] = 1
		So(d.Empty(), ShouldBeFalse)
	})

	Convey("A zero-value DigestV3 is Empty, independent of Digest", t, func() {
		var d3 DigestV3
		So(d3.Empty(), ShouldBeTrue)
	})

	Convey("String renders lowercase hex", t, func() {
		d := Digest{0xab, 0xcd}
		So(d.String()[:4], ShouldEqual, "abcd")
	})
}

func TestAttributeRecord(t *testing.T) {
	Convey("HasDigest tracks whether the digest is non-empty", t, func() {
		r := &AttributeRecord{}
		So(r.HasDigest(), ShouldBeFalse)

		r.Digest[0] = 1
		So(r.HasDigest(), ShouldBeTrue)
	})

	Convey("Indirected tracks whether NLinks is positive", t, func() {
		r := &AttributeRecord{}
		So(r.Indirected(), ShouldBeFalse)

		r.NLinks = 1
		So(r.Indirected(), ShouldBeTrue)
	})

	Convey("Clone is a deep, independently mutable copy", t, func() {
		r := &AttributeRecord{Name: "foo", NLinks: 2}
		c := r.Clone()
		c.Name = "bar"
		c.NLinks = 9

		So(r.Name, ShouldEqual, "foo")
		So(r.NLinks, ShouldEqual, int32(2))
		So(c.Name, ShouldEqual, "bar")
	})
}

func TestInodeTable(t *testing.T) {
	Convey("Given an empty InodeTable", t, func() {
		it := NewInodeTable()
		So(it.Len(), ShouldEqual, 0)

		Convey("Get on an absent inode reports not-found", func() {
			_, ok := it.Get(42)
			So(ok, ShouldBeFalse)
		})

		Convey("Set then Get round-trips", func() {
			rec := &AttributeRecord{NLinks: 3}
			it.Set(42, rec)
			got, ok := it.Get(42)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, rec)
			So(it.Len(), ShouldEqual, 1)
		})

		Convey("Delete removes the entry", func() {
			it.Set(42, &AttributeRecord{})
			it.Delete(42)
			_, ok := it.Get(42)
			So(ok, ShouldBeFalse)
			So(it.Len(), ShouldEqual, 0)
		})

		Convey("Range visits every entry", func() {
			it.Set(1, &AttributeRecord{Name: "a"})
			it.Set(2, &AttributeRecord{Name: "b"})
			seen := map[int64]string{}
			it.Range(func(inode int64, rec *AttributeRecord) {
				seen[inode] = rec.Name
			})
			So(seen, ShouldResemble, map[int64]string{1: "a", 2: "b"})
		})
	})
}

func TestBackupMeta(t *testing.T) {
	Convey("IsV4 requires Version >= 4", t, func() {
		So((&BackupMeta{Version: 3}).IsV4(), ShouldBeFalse)
		So((&BackupMeta{Version: 4}).IsV4(), ShouldBeTrue)
		So((&BackupMeta{Version: 5}).IsV4(), ShouldBeTrue)
	})

	Convey("MergeCandidate requires V4 and noFill", t, func() {
		So((&BackupMeta{Version: 4, NoFill: true}).MergeCandidate(), ShouldBeTrue)
		So((&BackupMeta{Version: 4, NoFill: false}).MergeCandidate(), ShouldBeFalse)
		So((&BackupMeta{Version: 3, NoFill: true}).MergeCandidate(), ShouldBeFalse)
	})
}
