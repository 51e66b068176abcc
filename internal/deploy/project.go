package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ManifestFile is the package manifest looked up at the build root.
const ManifestFile = "package.json"

// ProjectType classifies how a build root turns into static assets.
type ProjectType string

const (
	// ProjectStatic has no manifest; the build root is uploaded verbatim.
	ProjectStatic ProjectType = "static"
	// ProjectBuildable has a manifest with a build script.
	ProjectBuildable ProjectType = "buildable"
	// ProjectPrebuilt has a manifest without a build script; the build root
	// is uploaded after dependencies are installed.
	ProjectPrebuilt ProjectType = "prebuilt"
)

// Framework selects the BuildConfigPatcher strategy.
type Framework string

const (
	FrameworkNone           Framework = ""
	FrameworkVite           Framework = "vite"
	FrameworkCreateReactApp Framework = "create-react-app"
)

// PackageManager is the Node package manager used for install and build.
type PackageManager string

const (
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPNPM PackageManager = "pnpm"
	PackageManagerBun  PackageManager = "bun"
)

// Manifest is the subset of package.json the pipeline reads.
type Manifest struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Homepage        string            `json:"homepage"`
}

// HasDependency reports whether name is a dependency or a dev dependency.
func (m *Manifest) HasDependency(name string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}

// HasDependencies reports whether the manifest declares anything to install.
func (m *Manifest) HasDependencies() bool {
	return m != nil && len(m.Dependencies)+len(m.DevDependencies) > 0
}

// HasBuildScript reports whether the manifest declares a non-empty build script.
func (m *Manifest) HasBuildScript() bool {
	return m != nil && strings.TrimSpace(m.Scripts["build"]) != ""
}

// Project is the result of DetectProject.
type Project struct {
	Type           ProjectType
	Framework      Framework
	PackageManager PackageManager // empty for static projects
	Manifest       *Manifest      // nil for static projects
}

// NeedsInstall reports whether dependencies have to be installed.
func (p *Project) NeedsInstall() bool {
	switch p.Type {
	case ProjectBuildable:
		return true
	case ProjectPrebuilt:
		return p.Manifest.HasDependencies()
	default:
		return false
	}
}

// DetectProject reads the manifest at buildRoot and classifies the project.
// A manifest that can't be parsed yields ErrManifestParse.
func DetectProject(buildRoot string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(buildRoot, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return &Project{Type: ProjectStatic}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("detect project: %w", err)
	}

	var m Manifest
	if err = json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestParse, ManifestFile, err)
	}

	p := &Project{
		Type:           ProjectPrebuilt,
		Manifest:       &m,
		PackageManager: detectPackageManager(buildRoot),
	}
	if m.HasBuildScript() {
		p.Type = ProjectBuildable
	}
	switch {
	case m.HasDependency("vite"):
		p.Framework = FrameworkVite
	case m.HasDependency("react-scripts"):
		p.Framework = FrameworkCreateReactApp
	}

	return p, nil
}

// lockFiles maps lock files to their package manager in lookup order.
var lockFiles = []struct {
	name string
	pm   PackageManager
}{
	{"pnpm-lock.yaml", PackageManagerPNPM},
	{"yarn.lock", PackageManagerYarn},
	{"bun.lockb", PackageManagerBun},
	{"bun.lock", PackageManagerBun},
	{"package-lock.json", PackageManagerNPM},
	{"npm-shrinkwrap.json", PackageManagerNPM},
}

func detectPackageManager(buildRoot string) PackageManager {
	for _, lf := range lockFiles {
		if isFile(filepath.Join(buildRoot, lf.name)) {
			return lf.pm
		}
	}
	return PackageManagerNPM
}

// installArgs returns the dependency install command for pm.
func installArgs(buildRoot string, pm PackageManager) []string {
	switch pm {
	case PackageManagerYarn:
		return []string{"yarn", "install", "--frozen-lockfile"}
	case PackageManagerPNPM:
		return []string{"pnpm", "install", "--frozen-lockfile"}
	case PackageManagerBun:
		return []string{"bun", "install"}
	default:
		if isFile(filepath.Join(buildRoot, "package-lock.json")) || isFile(filepath.Join(buildRoot, "npm-shrinkwrap.json")) {
			return []string{"npm", "ci"}
		}
		return []string{"npm", "install"}
	}
}

// buildArgs returns the build script invocation for pm.
func buildArgs(pm PackageManager) []string {
	if pm == "" {
		pm = PackageManagerNPM
	}
	return []string{string(pm), "run", "build"}
}
