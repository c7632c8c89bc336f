package sentinel

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSentinelLifecycle(t *testing.T) {
	Convey("Given a backup directory with no sentinels", t, func() {
		dir := t.TempDir()

		Convey("Present reports false before Set", func() {
			So(Present(dir, NeedFsckDel), ShouldBeFalse)
		})

		Convey("Set then Present reports true, and Set is idempotent", func() {
			So(Set(dir, NeedFsckDel), ShouldBeNil)
			So(Present(dir, NeedFsckDel), ShouldBeTrue)
			So(Set(dir, NeedFsckDel), ShouldBeNil)
			So(Present(dir, NeedFsckDel), ShouldBeTrue)
		})

		Convey("Clear on an absent sentinel is not an error", func() {
			So(Clear(dir, NeedFsckMig), ShouldBeNil)
		})

		Convey("Set then Clear removes the sentinel", func() {
			So(Set(dir, NoPoolCntOk), ShouldBeNil)
			So(Clear(dir, NoPoolCntOk), ShouldBeNil)
			So(Present(dir, NoPoolCntOk), ShouldBeFalse)
		})
	})
}

func TestClearIfClean(t *testing.T) {
	Convey("Given a sentinel present on a backup", t, func() {
		dir := t.TempDir()
		So(Set(dir, NeedFsckDel), ShouldBeNil)

		Convey("a clean run with RefCntFsck==0 clears it", func() {
			So(ClearIfClean(dir, NeedFsckDel, 0, 0), ShouldBeNil)
			So(Present(dir, NeedFsckDel), ShouldBeFalse)
		})

		Convey("a run with errors leaves it in place", func() {
			So(ClearIfClean(dir, NeedFsckDel, 1, 0), ShouldBeNil)
			So(Present(dir, NeedFsckDel), ShouldBeTrue)
		})

		Convey("a nonzero RefCntFsck policy leaves it in place even on a clean run", func() {
			So(ClearIfClean(dir, NeedFsckDel, 0, 1), ShouldBeNil)
			So(Present(dir, NeedFsckDel), ShouldBeTrue)
		})
	})
}
