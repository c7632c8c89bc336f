package migrate

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/christofchen/backuppc/pkg/attr"
)

// readLegacyContainer reads a V3-format `attrib` file: one
// space-separated line per entry, "name type mode uid gid mtime
// inode". Absence of the file is not an error — a directory with no
// attribute tracking at all falls through entirely to stat synthesis
// (spec §4.5 step 1).
func readLegacyContainer(dir string) (map[string]legacyRecord, error) {
	path := filepath.Join(dir, "attrib")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]legacyRecord{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := map[string]legacyRecord{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		typ, _ := strconv.Atoi(fields[1])
		mode, _ := strconv.ParseUint(fields[2], 10, 32)
		uid, _ := strconv.ParseUint(fields[3], 10, 32)
		gid, _ := strconv.ParseUint(fields[4], 10, 32)
		mtime, _ := strconv.ParseInt(fields[5], 10, 64)
		inode, _ := strconv.ParseUint(fields[6], 10, 64)
		out[fields[0]] = legacyRecord{
			name:  fields[0],
			typ:   attr.FileType(typ),
			mode:  uint32(mode),
			uid:   uint32(uid),
			gid:   uint32(gid),
			mtime: mtime,
			inode: inode,
		}
	}
	return out, sc.Err()
}

// synthesizeFromStat builds a legacyRecord for a directory entry the
// container doesn't know about, from a plain stat() (spec §4.5 step
// 1: "synthesize records from stat(): type, mode, uid, gid, mtime").
func synthesizeFromStat(name string, info os.FileInfo, isDir bool) legacyRecord {
	typ := attr.TypeFile
	if isDir {
		typ = attr.TypeDir
	}
	var uid, gid uint32
	var inode uint64
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		uid = st.Uid
		gid = st.Gid
		inode = st.Ino
	}
	return legacyRecord{
		name:  name,
		typ:   typ,
		mode:  uint32(info.Mode().Perm()),
		uid:   uid,
		gid:   gid,
		mtime: info.ModTime().Unix(),
		inode: inode,
	}
}
