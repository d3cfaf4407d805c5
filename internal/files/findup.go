package files

import (
	"os"
	"path/filepath"
)

// FindUp looks for an entry called name in dir and then in each of its parents,
// returning the first match or "" if none of them contain it.
func FindUp(name, dir string) string {
	curDir := dir
	for {
		entries, err := os.ReadDir(curDir)
		if err == nil {
			for _, e := range entries {
				if name == e.Name() {
					return filepath.Join(curDir, name)
				}
			}
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return ""
		}
		curDir = newDir
	}
}
