package ac

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/christofchen/backuppc/pkg/attr"
)

type fakeSink struct {
	updates []sinkUpdate
}

type sinkUpdate struct {
	compress attr.Compress
	digest   attr.Digest
	delta    int32
}

func (f *fakeSink) Update(compress attr.Compress, d attr.Digest, delta int32) {
	f.updates = append(f.updates, sinkUpdate{compress, d, delta})
}

func (f *fakeSink) sum() int32 {
	var s int32
	for _, u := range f.updates {
		s += u.delta
	}
	return s
}

func TestStoreSetGetDelete(t *testing.T) {
	Convey("Given a Store over a fresh directory", t, func() {
		dir := t.TempDir()
		sink := &fakeSink{}
		s := New(dir, attr.CompressZlib)
		s.SetDeltaSink(sink)

		Convey("Get on an absent path returns nil", func() {
			So(s.Get("sub/missing"), ShouldBeNil)
		})

		Convey("Set then Get round-trips the record", func() {
			rec := &attr.AttributeRecord{Name: "file.txt", Type: attr.TypeFile}
			s.Set("sub/file.txt", rec)
			got := s.Get("sub/file.txt")
			So(got, ShouldEqual, rec)
		})

		Convey("Delete reports presence and removes the entry", func() {
			s.Set("sub/file.txt", &attr.AttributeRecord{Name: "file.txt"})
			So(s.Delete("sub/file.txt"), ShouldBeTrue)
			So(s.Delete("sub/file.txt"), ShouldBeFalse)
			So(s.Get("sub/file.txt"), ShouldBeNil)
		})
	})
}

func TestStoreFlushRewriteProtocol(t *testing.T) {
	Convey("Given a Store with one dirty directory", t, func() {
		dir := t.TempDir()
		sink := &fakeSink{}
		s := New(dir, attr.CompressNone)
		s.SetDeltaSink(sink)
		s.Set("a", &attr.AttributeRecord{Name: "a", Type: attr.TypeFile})

		Convey("Flush writes a new container and journals +1", func() {
			So(s.Flush(false), ShouldBeNil)
			So(sink.sum(), ShouldEqual, int32(1))
		})

		Convey("A second Flush with no changes is a no-op (idempotent)", func() {
			So(s.Flush(false), ShouldBeNil)
			sink.updates = nil
			So(s.Flush(true), ShouldBeNil)
			So(len(sink.updates), ShouldEqual, 0)
		})

		Convey("Mutating and reflushing emits -1 for the old container and +1 for the new", func() {
			So(s.Flush(false), ShouldBeNil)
			sink.updates = nil

			s.Set("b", &attr.AttributeRecord{Name: "b", Type: attr.TypeFile})
			So(s.Flush(false), ShouldBeNil)

			var plus, minus int
			for _, u := range sink.updates {
				if u.delta == 1 {
					plus++
				} else if u.delta == -1 {
					minus++
				}
			}
			So(plus, ShouldEqual, 1)
			So(minus, ShouldEqual, 1)
		})
	})
}

func TestStorePurgeDirectory(t *testing.T) {
	Convey("Given a Store with a flushed directory", t, func() {
		dir := t.TempDir()
		sink := &fakeSink{}
		s := New(dir, attr.CompressNone)
		s.SetDeltaSink(sink)
		s.Set("a", &attr.AttributeRecord{Name: "a", Type: attr.TypeFile})
		So(s.Flush(false), ShouldBeNil)
		sink.updates = nil

		Convey("PurgeDirectory emits a -1 for the container and drops the cache entry", func() {
			So(s.PurgeDirectory(""), ShouldBeNil)
			So(sink.sum(), ShouldEqual, int32(-1))

			// Reloading after purge starts from empty again.
			So(s.Get("a"), ShouldBeNil)
		})

		Convey("PurgeDirectory on an absent directory is a no-op", func() {
			So(s.PurgeDirectory("never-existed"), ShouldBeNil)
		})
	})
}

func TestStoreInodeTable(t *testing.T) {
	Convey("Given a Store with one inode entry with two links", t, func() {
		dir := t.TempDir()
		s := New(dir, attr.CompressNone)
		rec := &attr.AttributeRecord{Digest: attr.Digest{1, 2, 3}, NLinks: 2}
		s.SetInode(7, rec)

		Convey("GetInode finds it", func() {
			got, ok := s.GetInode(7)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, rec)
		})

		Convey("InodeDecrement to zero removes the entry and returns its digest", func() {
			_, removed, ok := s.InodeDecrement(7)
			So(ok, ShouldBeTrue)
			So(removed, ShouldBeFalse)

			d, removed, ok := s.InodeDecrement(7)
			So(ok, ShouldBeTrue)
			So(removed, ShouldBeTrue)
			So(d, ShouldResemble, rec.Digest)

			_, ok = s.GetInode(7)
			So(ok, ShouldBeFalse)
		})

		Convey("InodeDecrement on a missing inode reports not-found without a delta", func() {
			_, removed, ok := s.InodeDecrement(999)
			So(ok, ShouldBeFalse)
			So(removed, ShouldBeFalse)
		})
	})
}

func TestContainerKeyVsUnmangledName(t *testing.T) {
	Convey("Given a record whose container key differs from its unmangled Name", t, func() {
		dir := t.TempDir()
		s := New(dir, attr.CompressNone)
		// As migrate does: key is the physical (mangled) directory entry,
		// Name is the unmangled display form.
		s.Set("f%2fetc", &attr.AttributeRecord{Name: "/etc", Type: attr.TypeFile})
		So(s.Flush(true), ShouldBeNil)

		Convey("reloading from disk preserves the original physical key", func() {
			s2 := New(dir, attr.CompressNone)
			got := s2.Get("f%2fetc")
			So(got, ShouldNotBeNil)
			So(got.Name, ShouldEqual, "/etc")
		})
	})
}
