package deploy

import (
	"fmt"
	"os"
	"path/filepath"
)

// WalkFiles returns the absolute paths of all regular files under dir.
// Directories are visited with an explicit stack, so deep trees don't grow
// the call stack. Symlinks are neither followed nor returned. Entries of one
// directory are visited in lexical order.
func WalkFiles(dir string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("walk files: %w", err)
	}

	var files []string
	stack := []string{root}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(current)
		if err != nil {
			return nil, fmt.Errorf("walk files: %w", err)
		}

		// Push subdirectories in reverse so they pop in lexical order.
		var subdirs []string
		for _, entry := range entries {
			p := filepath.Join(current, entry.Name())
			switch {
			case entry.IsDir():
				subdirs = append(subdirs, p)
			case entry.Type().IsRegular():
				files = append(files, p)
			}
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	return files, nil
}
