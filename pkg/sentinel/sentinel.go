// Package sentinel implements the crash-safety markers bracketing
// mutating sequences (spec §4.6): needFsck.del, needFsck.mig, and
// noPoolCntOk, all living under <backup>/refCnt/.
package sentinel

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	NeedFsckDel = "needFsck.del"
	NeedFsckMig = "needFsck.mig"
	NoPoolCntOk = "noPoolCntOk"
)

// Set creates sentinel `name` under backupDir/refCnt, and is
// idempotent: creating an already-present sentinel is not an error,
// matching the spec's "create the appropriate sentinel(s)" bracketing
// of potentially-retried mutating sequences.
func Set(backupDir, name string) error {
	dir := filepath.Join(backupDir, "refCnt")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create sentinel %s", path)
	}
	return f.Close()
}

// Clear removes sentinel `name`, tolerating its absence.
func Clear(backupDir, name string) error {
	path := filepath.Join(backupDir, "refCnt", name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove sentinel %s", path)
	}
	return nil
}

// Present reports whether sentinel `name` exists.
func Present(backupDir, name string) bool {
	_, err := os.Stat(filepath.Join(backupDir, "refCnt", name))
	return err == nil
}

// ClearIfClean removes needFsck.* for backupDir only when the run
// recorded zero errors AND the policy allows skipping a mandatory
// fsck (spec §4.6 "removed only after a clean run with zero errors
// AND a policy flag (RefCntFsck == 0)"). Any residual sentinel forces
// a full fsck on next boot. The deletion engine removes needFsck.del
// only through this function; the migration engine removes
// needFsck.mig with Clear on a zero-error run, without the policy flag.
func ClearIfClean(backupDir, name string, errCount int64, refCntFsck int) error {
	if errCount > 0 || refCntFsck != 0 {
		return nil
	}
	return Clear(backupDir, name)
}
