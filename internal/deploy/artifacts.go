package deploy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// OutputDirs are the build output directories LocateArtifacts recognizes, in
// lookup order.
var OutputDirs = []string{"dist", "build", "out", "public"}

// copySkippedDirs are never copied into the artifact directory.
var copySkippedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
}

// LocateArtifacts returns the directory holding the static assets of project.
// Static and prebuilt projects are served from the build root itself.
func LocateArtifacts(buildRoot string, project *Project) (string, error) {
	if project.Type != ProjectBuildable {
		return buildRoot, nil
	}
	for _, name := range OutputDirs {
		if p := filepath.Join(buildRoot, name); isDir(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: none of [%s] exists in %s", ErrArtifactLocateFailed, strings.Join(OutputDirs, ", "), buildRoot)
}

// CopyArtifacts copies the regular files under src into dst, creating dst.
// Directories named in copySkippedDirs and the files in skip (absolute paths)
// are left out. Symlinks are not followed. It returns the number of files copied.
func CopyArtifacts(src, dst string, skip []string) (int, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[filepath.Clean(p)] = struct{}{}
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, fmt.Errorf("copy artifacts: %w", err)
	}

	count := 0
	stack := []string{"."}
	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(filepath.Join(src, rel))
		if err != nil {
			return count, fmt.Errorf("copy artifacts: %w", err)
		}
		for _, entry := range entries {
			entryRel := filepath.Join(rel, entry.Name())
			srcPath := filepath.Join(src, entryRel)
			dstPath := filepath.Join(dst, entryRel)
			switch {
			case entry.IsDir():
				if _, skip := copySkippedDirs[entry.Name()]; skip {
					continue
				}
				if err = os.MkdirAll(dstPath, 0o755); err != nil {
					return count, fmt.Errorf("copy artifacts: %w", err)
				}
				stack = append(stack, entryRel)
			case entry.Type().IsRegular():
				if _, skip := skipped[filepath.Clean(srcPath)]; skip {
					continue
				}
				if err = copyFile(srcPath, dstPath); err != nil {
					return count, fmt.Errorf("copy artifacts: %w", err)
				}
				count++
			}
		}
	}

	return count, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
