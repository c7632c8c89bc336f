// Package hostdb manages the per-host backup index
// (<TopDir>/pc/<host>/backups, spec §6) and the selection rule used by
// the deletion engine to find a merge candidate (spec §4.3).
package hostdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/christofchen/backuppc/pkg/attr"
)

// DB is the in-memory, load/save view of one host's backup list.
type DB struct {
	path     string
	backups  map[int]*attr.BackupMeta
}

// Load reads <topDir>/pc/<host>/backups.
func Load(topDir, host string) (*DB, error) {
	path := filepath.Join(topDir, "pc", host, "backups")
	db := &DB{path: path, backups: make(map[int]*attr.BackupMeta)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		bm, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		db.backups[bm.Num] = bm
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", path)
	}
	return db, nil
}

func parseLine(line string) (*attr.BackupMeta, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, fmt.Errorf("malformed backup line: %q", line)
	}
	num, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, err
	}
	version, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, err
	}
	compress, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, err
	}
	noFill, err := strconv.ParseBool(fields[3])
	if err != nil {
		return nil, err
	}
	keep, err := strconv.ParseBool(fields[4])
	if err != nil {
		return nil, err
	}
	var inodeLast int64
	if len(fields) > 5 {
		inodeLast, _ = strconv.ParseInt(fields[5], 10, 64)
	}
	return &attr.BackupMeta{
		Num:       num,
		Version:   version,
		Compress:  attr.Compress(compress),
		NoFill:    noFill,
		Keep:      keep,
		InodeLast: inodeLast,
	}, nil
}

func formatLine(bm *attr.BackupMeta) string {
	return fmt.Sprintf("%d %d %d %t %t %d", bm.Num, bm.Version, bm.Compress, bm.NoFill, bm.Keep, bm.InodeLast)
}

// Save writes the backup list back to disk, sorted by Num.
func (db *DB) Save() error {
	if err := os.MkdirAll(filepath.Dir(db.path), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(db.path))
	}
	f, err := os.Create(db.path)
	if err != nil {
		return errors.Wrapf(err, "create %s", db.path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, bm := range db.Sorted() {
		fmt.Fprintln(w, formatLine(bm))
	}
	return w.Flush()
}

// Sorted returns all backups ordered by ascending Num.
func (db *DB) Sorted() []*attr.BackupMeta {
	out := make([]*attr.BackupMeta, 0, len(db.backups))
	for _, bm := range db.backups {
		out = append(out, bm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// Get returns the backup with the given number, if present.
func (db *DB) Get(num int) (*attr.BackupMeta, bool) {
	bm, ok := db.backups[num]
	return bm, ok
}

// Put inserts or replaces a backup record.
func (db *DB) Put(bm *attr.BackupMeta) {
	db.backups[bm.Num] = bm
}

// Remove deletes a backup record, reporting whether it was present.
func (db *DB) Remove(num int) bool {
	if _, ok := db.backups[num]; !ok {
		return false
	}
	delete(db.backups, num)
	return true
}

// V3Nums returns the backup numbers still on the legacy V3 layout,
// ascending, for a migration run invoked without an explicit -n.
func (db *DB) V3Nums() []int {
	var nums []int
	for _, bm := range db.Sorted() {
		if !bm.IsV4() {
			nums = append(nums, bm.Num)
		}
	}
	return nums
}

// MaxInodeLast returns the highest InodeLast recorded across every
// backup of this host, used by migration to keep inode numbering
// disjoint across backups (spec §4.5 step 3).
func (db *DB) MaxInodeLast() int64 {
	var max int64
	for _, bm := range db.backups {
		if bm.InodeLast > max {
			max = bm.InodeLast
		}
	}
	return max
}

// Predecessor returns the backup with the highest Num strictly less
// than num (spec §4.3 selection: "the immediate predecessor by
// number"), or nil if none exists.
func (db *DB) Predecessor(num int) *attr.BackupMeta {
	var best *attr.BackupMeta
	for n, bm := range db.backups {
		if n < num && (best == nil || n > best.Num) {
			best = bm
		}
	}
	return best
}
