package collab

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// osDirOps is the default DirOps: plain os/filepath traversal, skip
// predicates on refCnt/ and inode/ (spec §9).
type osDirOps struct{}

// NewDirOps returns the default directory-traversal collaborator.
func NewDirOps() DirOps { return osDirOps{} }

func (osDirOps) DirRead(path string) ([]DirEntry, error) {
	des, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read dir %s", path)
	}
	out := make([]DirEntry, 0, len(des))
	for _, de := range des {
		out = append(out, DirEntry{Name: de.Name(), IsDir: de.IsDir()})
	}
	return out, nil
}

func (o osDirOps) Find(root string, visit VisitFunc) error {
	entries, err := o.DirRead(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if SkipSubtree[e.Name] {
			continue
		}
		rel := e.Name
		if err := visit(e.Name, rel); err != nil {
			return err
		}
		if e.IsDir {
			sub := filepath.Join(root, e.Name)
			if err := o.findRel(sub, e.Name, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o osDirOps) findRel(root, relPrefix string, visit VisitFunc) error {
	entries, err := o.DirRead(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if SkipSubtree[e.Name] {
			continue
		}
		rel := filepath.Join(relPrefix, e.Name)
		if err := visit(e.Name, rel); err != nil {
			return err
		}
		if e.IsDir {
			if err := o.findRel(filepath.Join(root, e.Name), rel, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func (osDirOps) RmTreeQuiet(path string) error {
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "rmtree %s", path)
	}
	return nil
}
