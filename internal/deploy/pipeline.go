package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Progress checkpoints reported at stage boundaries.
const (
	progressCloned                     = 10
	progressCheckedOut                 = 15
	progressBuildRootLocated           = 20
	progressProjectDetected            = 25
	progressEnvComposed                = 30
	progressConfigPatched              = 35
	progressInstalled                  = 50
	progressBuilt                      = 70
	progressArtifactsCopied            = 75
	progressUploadedBeforeInvalidation = 95
	progressDone                       = 100
)

// maxOutputLines bounds how many trailing lines of process output go to the job log.
const maxOutputLines = 200

// Config configures a Pipeline.
type Config struct {
	WorkDir string // required, holds clone and artifact directories
	Bucket  string // required

	StorageDomain         string // default: "s3.amazonaws.com"
	CDNDomain             string // CDN URLs are only reported when set
	DefaultDistributionID string // used when Input.DistributionID is empty

	InstallCommand string // shell-quoted, overrides the detected install command
	BuildCommand   string // shell-quoted, overrides the detected build command

	RemoveArtifacts bool // remove the artifact directory after a successful run
}

func (c *Config) storageDomain() string {
	if c.StorageDomain == "" {
		return "s3.amazonaws.com"
	}
	return c.StorageDomain
}

// Job is the side channel of the runtime executing a deployment.
// Calls are made synchronously and in order from the running job.
type Job interface {
	ReportProgress(ctx context.Context, percent int)
	AppendLog(ctx context.Context, line string)
}

// Result describes a successful deployment.
type Result struct {
	DeploymentID   string      `json:"deployment_id"`
	Name           string      `json:"name"`
	Bucket         string      `json:"bucket"`
	TotalFiles     int         `json:"total_files"`
	UploadedFiles  int         `json:"uploaded_files"`
	StorageURL     string      `json:"storage_url"`
	CDNURL         string      `json:"cdn_url,omitempty"`
	DistributionID string      `json:"distribution_id,omitempty"`
	StorageURI     string      `json:"storage_uri"`
	ArtifactPath   string      `json:"artifact_path,omitempty"`
	SampleFiles    []string    `json:"sample_files"`
	ProjectType    ProjectType `json:"project_type"`
}

// Pipeline clones, builds and publishes one deployment per Run call.
// A Pipeline holds no per-job state and may run jobs concurrently.
type Pipeline struct {
	Config      *Config      // required
	Commander   Commander    // required
	Storage     Storage      // required
	Invalidator Invalidator  // optional, invalidation is skipped when nil
	Logger      *slog.Logger // optional

	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time
}

func NewPipeline(config *Config, commander Commander, storage Storage, invalidator Invalidator, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Config:      config,
		Commander:   commander,
		Storage:     storage,
		Invalidator: invalidator,
		Logger:      logger,
	}
}

// state is owned by one running job.
type state struct {
	job      Job
	input    *Input
	progress int

	cloneDir    string
	artifactDir string
	buildRoot   string
	project     *Project
	env         *Env
	dotenvFiles []string

	baseOverride bool
}

func (s *state) report(ctx context.Context, percent int) {
	if percent <= s.progress {
		return
	}
	s.progress = percent
	s.job.ReportProgress(ctx, percent)
}

func (s *state) logf(ctx context.Context, format string, args ...any) {
	s.job.AppendLog(ctx, fmt.Sprintf(format, args...))
}

// Run executes the deployment described by input, reporting to job.
// The clone directory is removed before Run returns, on success and on
// failure; on failure the artifact directory is removed too.
func (p *Pipeline) Run(ctx context.Context, input *Input, job Job) (*Result, error) {
	log := p.logger().With("deployment_id", input.DeploymentID)

	if err := input.Validate(); err != nil {
		job.AppendLog(ctx, "ERROR: "+err.Error())
		return nil, fmt.Errorf("deploy.Pipeline: %w", err)
	}

	s := &state{
		job:         job,
		input:       input,
		cloneDir:    filepath.Join(p.Config.WorkDir, "clones", input.DeploymentID),
		artifactDir: filepath.Join(p.Config.WorkDir, "artifacts", input.DeploymentID),
	}

	log.Info("starting deployment", "repository_url", input.RepositoryURL, "branch", input.branch())
	start := time.Now()

	result, err := p.run(ctx, s)
	if err != nil {
		s.logf(ctx, "ERROR: deployment failed")
		s.logf(ctx, "ERROR: %v", err)
		p.cleanup(ctx, s, true)
		log.Error("didn't deploy", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("deploy.Pipeline: %w", err)
	}

	p.cleanup(ctx, s, p.Config.RemoveArtifacts)
	if p.Config.RemoveArtifacts {
		result.ArtifactPath = ""
	}
	s.report(ctx, progressDone)
	s.logf(ctx, "deployment complete: %s", result.preferredURL())
	log.Info("deployed", "files", result.UploadedFiles, "duration", time.Since(start))

	return result, nil
}

func (p *Pipeline) run(ctx context.Context, s *state) (*Result, error) {
	input := s.input

	// Cloning.
	if err := os.RemoveAll(s.cloneDir); err != nil {
		return nil, stageError(ErrCloneFailed, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.cloneDir), 0o755); err != nil {
		return nil, stageError(ErrCloneFailed, err)
	}
	s.logf(ctx, "cloning %s", input.RepositoryURL)
	err := p.runCommand(ctx, s, ErrCloneFailed, &CommandParams{
		Args: []string{"git", "clone", "--depth", "1", "--no-single-branch", input.RepositoryURL, s.cloneDir},
		Dir:  filepath.Dir(s.cloneDir),
		Env:  []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		return nil, err
	}
	s.report(ctx, progressCloned)

	// BranchCheckout. The clone is on the remote HEAD, which may not be the
	// requested branch even when that is the default one.
	branch := input.branch()
	s.logf(ctx, "checking out branch %s", branch)
	err = p.runCommand(ctx, s, ErrBranchCheckoutFailed, &CommandParams{
		Args: []string{"git", "checkout", branch},
		Dir:  s.cloneDir,
		Env:  []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		return nil, err
	}
	s.report(ctx, progressCheckedOut)

	// LocatingBuildRoot.
	s.buildRoot, err = LocateBuildRoot(s.cloneDir, input.BuildDir)
	if err != nil {
		return nil, err
	}
	if rel, relErr := filepath.Rel(s.cloneDir, s.buildRoot); relErr == nil && rel != "." {
		s.logf(ctx, "using build root %s", filepath.ToSlash(rel))
	} else {
		s.logf(ctx, "using repository root as build root")
	}
	s.report(ctx, progressBuildRootLocated)

	// DetectingProjectType.
	s.project, err = DetectProject(s.buildRoot)
	if err != nil {
		return nil, err
	}
	if s.project.Framework != FrameworkNone {
		s.logf(ctx, "detected %s project (%s)", s.project.Type, s.project.Framework)
	} else {
		s.logf(ctx, "detected %s project", s.project.Type)
	}
	s.report(ctx, progressProjectDetected)

	// ComposingEnvironment.
	s.env = ComposeEnv(input.BackendURL, input.EnvText)
	if n := len(s.env.Skipped); n > 0 {
		s.logf(ctx, "skipped %d environment line(s) without KEY=VALUE", n)
	}
	if s.project.Type != ProjectStatic && s.env.Count() > 0 {
		s.dotenvFiles, err = WriteDotenvFiles(s.buildRoot, s.env)
		if err != nil {
			return nil, err
		}
	}
	s.logf(ctx, "configured %d environment variable(s)", s.env.Count())
	s.report(ctx, progressEnvComposed)

	// PatchingConfig.
	if s.project.Type != ProjectStatic {
		patch, err := PatchBuildConfig(s.buildRoot, s.project)
		if err != nil {
			return nil, err
		}
		s.baseOverride = patch.BaseOverride
		switch patch.Action {
		case PatchNone:
			s.logf(ctx, "no build config patch applies to this project")
		case PatchCLIOverride:
			s.logf(ctx, "vite config base could not be patched; passing --base=%s to the build", RelativeBase)
		default:
			s.logf(ctx, "patched build config (%s) %s", patch.Action, filepath.Base(patch.File))
			if patch.BaseOverride {
				s.logf(ctx, "passing --base=%s to the build", RelativeBase)
			}
		}
		s.report(ctx, progressConfigPatched)
	}

	// InstallingDependencies.
	if s.project.NeedsInstall() {
		args, err := p.installArgs(s)
		if err != nil {
			return nil, stageError(ErrDependencyInstallFailed, err)
		}
		s.logf(ctx, "installing dependencies")
		err = p.runCommand(ctx, s, ErrDependencyInstallFailed, &CommandParams{
			Args: args,
			Dir:  s.buildRoot,
			Env:  s.env.Environ(),
		})
		if err != nil {
			return nil, err
		}
		s.report(ctx, progressInstalled)
	}

	// Building.
	if s.project.Type == ProjectBuildable {
		args, err := p.buildArgs(s)
		if err != nil {
			return nil, stageError(ErrBuildFailed, err)
		}
		s.logf(ctx, "building")
		err = p.runCommand(ctx, s, ErrBuildFailed, &CommandParams{
			Args: args,
			Dir:  s.buildRoot,
			Env:  s.env.Environ(),
		})
		if err != nil {
			return nil, err
		}
		s.report(ctx, progressBuilt)
	}

	// LocatingArtifacts and CopyingArtifacts.
	source, err := LocateArtifacts(s.buildRoot, s.project)
	if err != nil {
		return nil, err
	}
	if rel, relErr := filepath.Rel(s.buildRoot, source); relErr == nil && rel != "." {
		s.logf(ctx, "found build output in %s", filepath.ToSlash(rel))
	}
	if err = os.RemoveAll(s.artifactDir); err != nil {
		return nil, stageError(ErrArtifactLocateFailed, err)
	}
	copied, err := CopyArtifacts(source, s.artifactDir, s.dotenvFiles)
	if err != nil {
		return nil, stageError(ErrArtifactLocateFailed, err)
	}
	if copied == 0 {
		return nil, fmt.Errorf("%w: no files in %s", ErrArtifactLocateFailed, source)
	}
	s.logf(ctx, "prepared %d file(s) for upload", copied)
	s.report(ctx, progressArtifactsCopied)

	// Uploading.
	distributionID := input.DistributionID
	if distributionID == "" {
		distributionID = p.Config.DefaultDistributionID
	}
	invalidate := distributionID != "" && p.Invalidator != nil
	uploadEnd := progressDone
	if invalidate {
		uploadEnd = progressUploadedBeforeInvalidation
	}

	s.logf(ctx, "uploading to s3://%s/%s/", p.Config.Bucket, input.DeploymentID)
	upload, err := NewUploader(p.Storage).Upload(ctx, &UploaderUploadParams{
		Dir:    s.artifactDir,
		Prefix: input.DeploymentID,
		Progress: func(uploaded, total int) {
			s.report(ctx, uploadProgress(uploaded, total, progressArtifactsCopied, uploadEnd))
		},
		Log: func(line string) {
			s.job.AppendLog(ctx, line)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logf(ctx, "uploaded %d/%d file(s)", upload.UploadedFiles, upload.TotalFiles)

	result := &Result{
		DeploymentID:   input.DeploymentID,
		Name:           input.name(),
		Bucket:         p.Config.Bucket,
		TotalFiles:     upload.TotalFiles,
		UploadedFiles:  upload.UploadedFiles,
		StorageURL:     fmt.Sprintf("https://%s.%s/%s/index.html", p.Config.Bucket, p.Config.storageDomain(), input.DeploymentID),
		DistributionID: distributionID,
		StorageURI:     fmt.Sprintf("s3://%s/%s/", p.Config.Bucket, input.DeploymentID),
		ArtifactPath:   s.artifactDir,
		SampleFiles:    upload.SampleFiles,
		ProjectType:    s.project.Type,
	}

	// Invalidating.
	if invalidate {
		s.logf(ctx, "invalidating CDN distribution %s", distributionID)
		err = p.Invalidator.Invalidate(ctx, &InvalidatorInvalidateParams{
			DistributionID:  distributionID,
			Paths:           InvalidationPaths(input.DeploymentID),
			CallerReference: callerReference(input.DeploymentID, p.now()),
		})
		if err != nil {
			err = stageError(ErrInvalidationFailed, err)
			s.logf(ctx, "WARNING: %v", err)
			p.logger().Warn("didn't invalidate cache", "deployment_id", input.DeploymentID, "error", err)
		} else if p.Config.CDNDomain != "" {
			result.CDNURL = fmt.Sprintf("https://%s/%s/index.html", p.Config.CDNDomain, input.DeploymentID)
		}
	}

	return result, nil
}

// runCommand runs params and maps failures to kind. The tail of the process
// output is appended to the job log.
func (p *Pipeline) runCommand(ctx context.Context, s *state, kind error, params *CommandParams) error {
	s.logf(ctx, "$ %s", params)
	output, err := p.Commander.Run(ctx, params)
	for _, line := range tailLines(output, maxOutputLines) {
		s.job.AppendLog(ctx, line)
	}
	if err != nil {
		return stageError(kind, err)
	}
	return nil
}

func (p *Pipeline) installArgs(s *state) ([]string, error) {
	if args, err := parseCommandOverride(p.Config.InstallCommand); err != nil || args != nil {
		return args, err
	}
	return installArgs(s.buildRoot, s.project.PackageManager), nil
}

func (p *Pipeline) buildArgs(s *state) ([]string, error) {
	args, err := parseCommandOverride(p.Config.BuildCommand)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = buildArgs(s.project.PackageManager)
	}
	if s.baseOverride {
		if args[0] == string(PackageManagerNPM) {
			args = append(args, "--")
		}
		args = append(args, "--base="+RelativeBase)
	}
	return args, nil
}

// cleanup removes the job's directories. Each removal is attempted
// independently and failures are only logged.
func (p *Pipeline) cleanup(ctx context.Context, s *state, removeArtifacts bool) {
	dirs := []string{s.cloneDir}
	if removeArtifacts {
		dirs = append(dirs, s.artifactDir)
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			s.logf(ctx, "WARNING: didn't remove %s: %v", dir, err)
			p.logger().Error("didn't remove directory", "deployment_id", s.input.DeploymentID, "path", dir, "error", err)
		}
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// uploadProgress interpolates uploaded/total into the band [start, end].
func uploadProgress(uploaded, total, start, end int) int {
	if total <= 0 {
		return end
	}
	return start + (end-start)*uploaded/total
}

func (r *Result) preferredURL() string {
	if r.CDNURL != "" {
		return r.CDNURL
	}
	return r.StorageURL
}

// tailLines returns at most n trailing non-empty lines of s.
func tailLines(s string, n int) []string {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if len(lines) > n {
		lines = append([]string{fmt.Sprintf("... (%d lines omitted)", len(lines)-n)}, lines[len(lines)-n:]...)
	}
	return lines
}
