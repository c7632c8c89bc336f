package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAllHosts(t *testing.T) {
	Convey("Given a topDir with no pc directory yet", t, func() {
		topDir := t.TempDir()
		hosts, err := allHosts(topDir)
		So(err, ShouldBeNil)
		So(hosts, ShouldBeEmpty)
	})

	Convey("Given a topDir with several host directories", t, func() {
		topDir := t.TempDir()
		for _, h := range []string{"alpha", "beta"} {
			So(os.MkdirAll(filepath.Join(topDir, "pc", h), 0o755), ShouldBeNil)
		}
		So(os.WriteFile(filepath.Join(topDir, "pc", "not-a-host.txt"), []byte("x"), 0o644), ShouldBeNil)

		Convey("allHosts returns only the directories", func() {
			hosts, err := allHosts(topDir)
			So(err, ShouldBeNil)
			sort.Strings(hosts)
			So(hosts, ShouldResemble, []string{"alpha", "beta"})
		})
	})
}
