package deploy

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultBranch is used when Input.Branch is empty. Checkout is skipped for it.
const DefaultBranch = "main"

var (
	deploymentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	branchPattern       = regexp.MustCompile(`^[A-Za-z0-9/_.-]+$`)
	scpLikeURLPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^\s]+$`)
)

// Input is one deployment job.
type Input struct {
	RepositoryURL  string `json:"repository_url"`      // required
	DeploymentID   string `json:"deployment_id"`       // required
	Name           string `json:"name,omitempty"`      // default: repository name
	Branch         string `json:"branch,omitempty"`    // default: "main"
	BuildDir       string `json:"build_dir,omitempty"` // default: repository root
	BackendURL     string `json:"backend_url,omitempty"`
	EnvText        string `json:"env_text,omitempty"`
	DistributionID string `json:"distribution_id,omitempty"` // default: Config.DefaultDistributionID
}

// Validate checks that in is safe to use in paths, object keys and commands.
func (in *Input) Validate() error {
	if err := validateRepositoryURL(in.RepositoryURL); err != nil {
		return fmt.Errorf("%w: repository url: %w", ErrInvalidInput, err)
	}
	if !deploymentIDPattern.MatchString(in.DeploymentID) {
		return fmt.Errorf("%w: deployment id %q must match %s", ErrInvalidInput, in.DeploymentID, deploymentIDPattern)
	}
	if in.Branch != "" && (strings.HasPrefix(in.Branch, "-") || !branchPattern.MatchString(in.Branch)) {
		return fmt.Errorf("%w: branch %q contains invalid characters", ErrInvalidInput, in.Branch)
	}
	if in.BuildDir != "" {
		dir := filepath.ToSlash(strings.TrimSpace(in.BuildDir))
		if path.IsAbs(dir) || filepath.IsAbs(in.BuildDir) {
			return fmt.Errorf("%w: build dir %q must be relative", ErrInvalidInput, in.BuildDir)
		}
		for _, segment := range strings.Split(dir, "/") {
			if segment == ".." {
				return fmt.Errorf("%w: build dir %q must not contain ..", ErrInvalidInput, in.BuildDir)
			}
		}
	}
	return nil
}

func validateRepositoryURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty")
	}
	if strings.HasPrefix(raw, "-") {
		return errors.New("must not start with '-'")
	}
	if scpLikeURLPattern.MatchString(raw) {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git", "file":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Scheme != "file" && u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// branch returns the branch to deploy.
func (in *Input) branch() string {
	if in.Branch == "" {
		return DefaultBranch
	}
	return in.Branch
}

// name returns the display name, defaulting to the repository name.
func (in *Input) name() string {
	if in.Name != "" {
		return in.Name
	}
	raw := strings.TrimRight(strings.TrimSpace(in.RepositoryURL), "/")
	if i := strings.LastIndexAny(raw, "/:"); i >= 0 {
		raw = raw[i+1:]
	}
	return strings.TrimSuffix(raw, ".git")
}
