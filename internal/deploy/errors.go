package deploy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrCloneFailed             = errors.New("clone failed")
	ErrBranchCheckoutFailed    = errors.New("branch checkout failed")
	ErrBuildRootNotFound       = errors.New("build root not found")
	ErrManifestParse           = errors.New("manifest parse error")
	ErrDependencyInstallFailed = errors.New("dependency install failed")
	ErrBuildFailed             = errors.New("build failed")
	ErrArtifactLocateFailed    = errors.New("artifact locate failed")
	ErrUploadFailed            = errors.New("upload failed")
	ErrInvalidationFailed      = errors.New("invalidation failed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "InvalidInput"},
	{ErrCloneFailed, "CloneFailed"},
	{ErrBranchCheckoutFailed, "BranchCheckoutFailed"},
	{ErrBuildRootNotFound, "BuildRootNotFound"},
	{ErrManifestParse, "ManifestParseError"},
	{ErrDependencyInstallFailed, "DependencyInstallFailed"},
	{ErrBuildFailed, "BuildFailed"},
	{ErrArtifactLocateFailed, "ArtifactLocateFailed"},
	{ErrUploadFailed, "UploadFailed"},
	{ErrInvalidationFailed, "InvalidationFailed"},
}

// KindOf returns the taxonomy name of err, e.g. "BuildFailed".
// It returns "Internal" for errors outside the taxonomy and "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// ExitError reports an external process that exited with a non-zero code.
// Output holds its combined stdout and stderr.
type ExitError struct {
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("exit code is %d", e.ExitCode)
	}
	return fmt.Sprintf("exit code is %d: %s", e.ExitCode, tail(output, maxErrorOutput))
}

// maxErrorOutput bounds how much process output an error message carries.
const maxErrorOutput = 4096

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// stageError wraps cause with the taxonomy error kind.
func stageError(kind error, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}
