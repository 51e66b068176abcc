package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// buildRootSearchDepth bounds how deep LocateBuildRoot searches below the clone root.
const buildRootSearchDepth = 3

// skippedDirs are dependency caches that never contain a build root.
var skippedDirs = map[string]struct{}{
	"node_modules":     {},
	"bower_components": {},
	"jspm_packages":    {},
	"vendor":           {},
}

// LocateBuildRoot resolves subdir against cloneRoot.
//
// An empty subdir resolves to cloneRoot. Otherwise the literal join is tried
// first and, if it is not a directory, the tree is searched breadth-first up to
// buildRootSearchDepth levels for a directory named like the last element of
// subdir. Hidden entries and dependency caches are skipped. The returned path
// is absolute.
func LocateBuildRoot(cloneRoot, subdir string) (string, error) {
	root, err := filepath.Abs(cloneRoot)
	if err != nil {
		return "", fmt.Errorf("locate build root: %w", err)
	}

	subdir = strings.Trim(filepath.Clean(filepath.FromSlash(strings.TrimSpace(subdir))), string(filepath.Separator))
	if subdir == "" || subdir == "." {
		return root, nil
	}

	direct := filepath.Join(root, subdir)
	if isDir(direct) {
		return direct, nil
	}

	target := filepath.Base(subdir)
	if found, ok := searchDir(root, target, buildRootSearchDepth); ok {
		return found, nil
	}

	return "", fmt.Errorf(
		"%w: %q not found within %d levels; top-level directories: [%s]",
		ErrBuildRootNotFound, subdir, buildRootSearchDepth, strings.Join(topLevelDirs(root), ", "),
	)
}

// searchDir returns the first directory named target in breadth-first order,
// at most maxDepth levels below root.
func searchDir(root, target string, maxDepth int) (string, bool) {
	type item struct {
		path  string
		depth int
	}

	visited := make(map[string]struct{})
	markVisited := func(p string) bool {
		key := p
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			key = resolved
		}
		if _, ok := visited[key]; ok {
			return false
		}
		visited[key] = struct{}{}
		return true
	}

	markVisited(root)
	queue := []item{{path: root, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(current.path)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			if _, skip := skippedDirs[name]; skip {
				continue
			}
			p := filepath.Join(current.path, name)
			if !entry.IsDir() && !(entry.Type()&os.ModeSymlink != 0 && isDir(p)) {
				continue
			}
			if !markVisited(p) {
				continue
			}
			if name == target {
				return p, true
			}
			if current.depth+1 < maxDepth {
				queue = append(queue, item{path: p, depth: current.depth + 1})
			}
		}
	}

	return "", false
}

// topLevelDirs lists the non-hidden directory names directly under root.
func topLevelDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
