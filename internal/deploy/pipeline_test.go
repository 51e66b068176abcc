package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"
)

var _ Commander = (*FakeCommander)(nil)

// FakeCommander writes Repo into the destination of "git clone" and passes
// other commands to Func.
type FakeCommander struct {
	Repo map[string]string
	Func func(params *CommandParams) (string, error)

	Calls []string
}

func (c *FakeCommander) Run(ctx context.Context, params *CommandParams) (string, error) {
	c.Calls = append(c.Calls, strings.Join(params.Args, " "))
	if len(params.Args) > 2 && params.Args[0] == "git" && params.Args[1] == "clone" {
		dst := params.Args[len(params.Args)-1]
		if err := writeTree(dst, c.Repo); err != nil {
			return "", err
		}
		return "Cloning into '" + dst + "'...\n", nil
	}
	if c.Func != nil {
		return c.Func(params)
	}
	return "", nil
}

var _ Job = (*RecordingJob)(nil)

type RecordingJob struct {
	Progress []int
	Logs     []string
}

func (j *RecordingJob) ReportProgress(ctx context.Context, percent int) {
	j.Progress = append(j.Progress, percent)
}

func (j *RecordingJob) AppendLog(ctx context.Context, line string) {
	j.Logs = append(j.Logs, line)
}

func (j *RecordingJob) hasLog(substr string) bool {
	return slices.ContainsFunc(j.Logs, func(line string) bool {
		return strings.Contains(line, substr)
	})
}

func checkProgress(t *testing.T, progress []int, want int) {
	t.Helper()
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Fatalf("got progress %v, want strictly increasing", progress)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != want {
		t.Fatalf("got progress %v, want it to end at %d", progress, want)
	}
}

func newTestPipeline(t *testing.T, commander Commander, storage Storage, invalidator Invalidator) *Pipeline {
	t.Helper()
	p := NewPipeline(&Config{
		WorkDir:   t.TempDir(),
		Bucket:    "sites",
		CDNDomain: "d111.cloudfront.net",
	}, commander, storage, invalidator, nil)
	p.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return p
}

// buildDist simulates a package manager: "run build" writes dist/.
func buildDist(params *CommandParams) (string, error) {
	if slices.Contains(params.Args, "run") && slices.Contains(params.Args, "build") {
		err := writeTree(params.Dir, map[string]string{
			"dist/index.html":    "<script src=\"./assets/app.js\"></script>",
			"dist/assets/app.js": "console.log(import.meta.env.VITE_API_URL)",
		})
		return "vite v5.0.0 building for production...\n", err
	}
	return "added 1 package\n", nil
}

func TestPipelineRun(t *testing.T) {
	t.Run("deploys a static site", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{Repo: map[string]string{
			"index.html": "<h1>hi</h1>",
			"style.css":  "body{}",
			".git/HEAD":  "ref: refs/heads/main",
		}}
		storage := &FakeStorage{}
		p := newTestPipeline(t, commander, storage, nil)
		job := &RecordingJob{}

		got, err := p.Run(ctx, &Input{
			RepositoryURL: "https://github.com/acme/portfolio.git",
			DeploymentID:  "dep-static",
			EnvText:       "SECRET=1",
		}, job)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		wantCalls := []string{
			"git clone --depth 1 --no-single-branch https://github.com/acme/portfolio.git " + filepath.Join(p.Config.WorkDir, "clones", "dep-static"),
			"git checkout main",
		}
		if !reflect.DeepEqual(commander.Calls, wantCalls) {
			t.Fatalf("got calls %v, want %v", commander.Calls, wantCalls)
		}
		if want := []string{"dep-static/index.html", "dep-static/style.css"}; !reflect.DeepEqual(storage.Keys, want) {
			t.Fatalf("got keys %v, want %v", storage.Keys, want)
		}
		want := &Result{
			DeploymentID:  "dep-static",
			Name:          "portfolio",
			Bucket:        "sites",
			TotalFiles:    2,
			UploadedFiles: 2,
			StorageURL:    "https://sites.s3.amazonaws.com/dep-static/index.html",
			StorageURI:    "s3://sites/dep-static/",
			ArtifactPath:  filepath.Join(p.Config.WorkDir, "artifacts", "dep-static"),
			SampleFiles:   []string{"index.html", "style.css"},
			ProjectType:   ProjectStatic,
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
		checkProgress(t, job.Progress, 100)

		if _, err = os.Stat(filepath.Join(p.Config.WorkDir, "clones", "dep-static")); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("got %v, want clone directory removed", err)
		}
		if _, err = os.Stat(filepath.Join(got.ArtifactPath, "index.html")); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if _, err = os.Stat(filepath.Join(got.ArtifactPath, ".env")); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("got %v, want no dotenv file for a static site", err)
		}
	})

	t.Run("builds a vite project in a nested directory", func(t *testing.T) {
		ctx := context.Background()
		var envAtBuild string
		commander := &FakeCommander{
			Repo: map[string]string{
				"README.md":                  "# monorepo",
				"apps/frontend/package.json": `{"scripts":{"build":"vite build"},"devDependencies":{"vite":"^5.0.0"}}`,
			},
			Func: func(params *CommandParams) (string, error) {
				if strings.HasPrefix(strings.Join(params.Args, " "), "npm run build") {
					envAtBuild = readFile(t, filepath.Join(params.Dir, ".env.production"))
				}
				return buildDist(params)
			},
		}
		storage := &FakeStorage{}
		invalidator := &FakeInvalidator{}
		p := newTestPipeline(t, commander, storage, invalidator)
		job := &RecordingJob{}

		got, err := p.Run(ctx, &Input{
			RepositoryURL:  "https://github.com/acme/monorepo",
			DeploymentID:   "dep-vite",
			Branch:         "develop",
			BuildDir:       "frontend",
			BackendURL:     "https://api.example.com",
			DistributionID: "E123",
		}, job)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		cloneDir := filepath.Join(p.Config.WorkDir, "clones", "dep-vite")
		wantCalls := []string{
			"git clone --depth 1 --no-single-branch https://github.com/acme/monorepo " + cloneDir,
			"git checkout develop",
			"npm install",
			"npm run build -- --base=./",
		}
		if !reflect.DeepEqual(commander.Calls, wantCalls) {
			t.Fatalf("got calls %v, want %v", commander.Calls, wantCalls)
		}
		if !strings.Contains(envAtBuild, "VITE_API_URL=https://api.example.com\n") {
			t.Fatalf("got %q, want backend url in dotenv", envAtBuild)
		}
		if want := []string{"dep-vite/index.html", "dep-vite/assets/app.js"}; !reflect.DeepEqual(storage.Keys, want) {
			t.Fatalf("got keys %v, want %v", storage.Keys, want)
		}

		wantInvalidation := []*InvalidatorInvalidateParams{{
			DistributionID:  "E123",
			Paths:           []string{"/dep-vite/*", "/dep-vite/index.html"},
			CallerReference: "dep-vite-1700000000000000000",
		}}
		if !reflect.DeepEqual(invalidator.Calls, wantInvalidation) {
			t.Fatalf("got invalidation %+v, want %+v", invalidator.Calls, wantInvalidation)
		}
		if got.CDNURL != "https://d111.cloudfront.net/dep-vite/index.html" {
			t.Fatalf("got cdn url %q", got.CDNURL)
		}
		if got.ProjectType != ProjectBuildable || got.Name != "monorepo" {
			t.Fatalf("got %+v", got)
		}
		if !slices.Contains(job.Progress, 95) {
			t.Fatalf("got progress %v, want upload to end at 95", job.Progress)
		}
		checkProgress(t, job.Progress, 100)
		if !job.hasLog("using build root apps/frontend") {
			t.Fatalf("got logs %v, want build root logged", job.Logs)
		}
		if job.hasLog("api.example.com") {
			t.Fatalf("got logs %v, want environment values kept out of logs", job.Logs)
		}
	})

	t.Run("passes the base on the command line for dynamic vite configs", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{
			Repo: map[string]string{
				"package.json":      `{"scripts":{"build":"vite build"},"devDependencies":{"vite":"^5.0.0"}}`,
				"package-lock.json": "{}",
				"vite.config.js":    "export default defineConfig({ base: process.env.BASE })\n",
			},
			Func: buildDist,
		}
		p := newTestPipeline(t, commander, &FakeStorage{}, nil)

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/app", DeploymentID: "dep-cli"}, &RecordingJob{})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if want := "npm run build -- --base=./"; commander.Calls[len(commander.Calls)-1] != want {
			t.Fatalf("got calls %v, want last %q", commander.Calls, want)
		}
		if commander.Calls[2] != "npm ci" {
			t.Fatalf("got calls %v, want npm ci", commander.Calls)
		}
	})

	t.Run("deploys a prebuilt project without dotenv files and dependencies", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{
			Repo: map[string]string{
				"package.json": `{"dependencies":{"bootstrap":"5.3.0"}}`,
				"yarn.lock":    "",
				"index.html":   "<h1>hi</h1>",
			},
			Func: func(params *CommandParams) (string, error) {
				return "", writeTree(params.Dir, map[string]string{"node_modules/bootstrap/index.js": ""})
			},
		}
		storage := &FakeStorage{}
		p := newTestPipeline(t, commander, storage, nil)

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/app", DeploymentID: "dep-pre", EnvText: "A=1"}, &RecordingJob{})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if want := []string{"dep-pre/index.html", "dep-pre/package.json", "dep-pre/yarn.lock"}; !reflect.DeepEqual(storage.Keys, want) {
			t.Fatalf("got keys %v, want %v", storage.Keys, want)
		}
		if commander.Calls[2] != "yarn install --frozen-lockfile" {
			t.Fatalf("got calls %v, want yarn install", commander.Calls)
		}
	})

	t.Run("uses configured commands", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{
			Repo: map[string]string{"package.json": `{"scripts":{"build":"make"}}`},
			Func: func(params *CommandParams) (string, error) {
				if params.Args[0] == "make" {
					return "", writeTree(params.Dir, map[string]string{"out/index.html": ""})
				}
				return "", nil
			},
		}
		p := newTestPipeline(t, commander, &FakeStorage{}, nil)
		p.Config.InstallCommand = "npm install --no-audit"
		p.Config.BuildCommand = `make 'site output'`

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/app", DeploymentID: "dep-cmd"}, &RecordingJob{})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if want := []string{"npm install --no-audit", "make site output"}; !reflect.DeepEqual(commander.Calls[2:], want) {
			t.Fatalf("got calls %v, want %v", commander.Calls[2:], want)
		}
	})

	t.Run("fails and cleans up when the build fails", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{
			Repo: map[string]string{"package.json": `{"scripts":{"build":"vite build"},"dependencies":{"vite":"5"}}`},
			Func: func(params *CommandParams) (string, error) {
				if slices.Contains(params.Args, "build") {
					return "error during build\n", &ExitError{ExitCode: 1, Output: "error during build\n"}
				}
				return "", nil
			},
		}
		storage := &FakeStorage{}
		p := newTestPipeline(t, commander, storage, nil)
		job := &RecordingJob{}

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/app", DeploymentID: "dep-fail"}, job)
		if !errors.Is(err, ErrBuildFailed) {
			t.Fatalf("got %v, want %v", err, ErrBuildFailed)
		}
		if KindOf(err) != "BuildFailed" {
			t.Fatalf("got kind %q", KindOf(err))
		}
		if len(storage.Keys) != 0 {
			t.Fatalf("got keys %v, want none", storage.Keys)
		}
		if !job.hasLog("ERROR: deployment failed") || !job.hasLog("error during build") {
			t.Fatalf("got logs %v, want error marker and output", job.Logs)
		}
		for _, dir := range []string{"clones", "artifacts"} {
			if _, err = os.Stat(filepath.Join(p.Config.WorkDir, dir, "dep-fail")); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("got %v, want %s directory removed", err, dir)
			}
		}
		if job.Progress[len(job.Progress)-1] == 100 {
			t.Fatalf("got progress %v, want failure before 100", job.Progress)
		}
	})

	t.Run("checks out the default branch explicitly", func(t *testing.T) {
		ctx := context.Background()
		var checkout *CommandParams
		commander := &FakeCommander{
			Repo: map[string]string{"index.html": ""},
			Func: func(params *CommandParams) (string, error) {
				if len(params.Args) > 1 && params.Args[0] == "git" && params.Args[1] == "checkout" {
					checkout = params
				}
				return "", nil
			},
		}
		p := newTestPipeline(t, commander, &FakeStorage{}, nil)

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/site", DeploymentID: "dep-main", Branch: "main"}, &RecordingJob{})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if checkout == nil {
			t.Fatalf("got calls %v, want a checkout", commander.Calls)
		}
		if want := []string{"git", "checkout", "main"}; !reflect.DeepEqual(checkout.Args, want) {
			t.Fatalf("got args %v, want %v", checkout.Args, want)
		}
		if want := filepath.Join(p.Config.WorkDir, "clones", "dep-main"); checkout.Dir != want {
			t.Fatalf("got dir %q, want %q", checkout.Dir, want)
		}
	})

	t.Run("fails when the checkout fails", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{
			Repo: map[string]string{"index.html": ""},
			Func: func(params *CommandParams) (string, error) {
				out := "error: pathspec 'main' did not match any file(s) known to git\n"
				return out, &ExitError{ExitCode: 1, Output: out}
			},
		}
		storage := &FakeStorage{}
		p := newTestPipeline(t, commander, storage, nil)

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/site", DeploymentID: "dep-nobranch"}, &RecordingJob{})
		if !errors.Is(err, ErrBranchCheckoutFailed) {
			t.Fatalf("got %v, want %v", err, ErrBranchCheckoutFailed)
		}
		if len(storage.Keys) != 0 {
			t.Fatalf("got keys %v, want none", storage.Keys)
		}
	})

	t.Run("fails and cleans up when the upload fails", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{Repo: map[string]string{"index.html": ""}}
		storage := &FakeStorage{FailKey: "dep-up/index.html"}
		p := newTestPipeline(t, commander, storage, nil)
		job := &RecordingJob{}

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/site", DeploymentID: "dep-up"}, job)
		if !errors.Is(err, ErrUploadFailed) {
			t.Fatalf("got %v, want %v", err, ErrUploadFailed)
		}
		if KindOf(err) != "UploadFailed" {
			t.Fatalf("got kind %q", KindOf(err))
		}
		if !slices.Contains(job.Progress, progressArtifactsCopied) {
			t.Fatalf("got progress %v, want failure after artifacts were copied", job.Progress)
		}
		for _, dir := range []string{"clones", "artifacts"} {
			if _, err = os.Stat(filepath.Join(p.Config.WorkDir, dir, "dep-up")); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("got %v, want %s directory removed", err, dir)
			}
		}
	})

	t.Run("fails when the build produces no output directory", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{Repo: map[string]string{"package.json": `{"scripts":{"build":"true"}}`}}
		p := newTestPipeline(t, commander, &FakeStorage{}, nil)

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/app", DeploymentID: "dep-noout"}, &RecordingJob{})
		if !errors.Is(err, ErrArtifactLocateFailed) {
			t.Fatalf("got %v, want %v", err, ErrArtifactLocateFailed)
		}
	})

	t.Run("fails when the clone fails", func(t *testing.T) {
		ctx := context.Background()
		var calls []string
		failing := commanderFunc(func(ctx context.Context, params *CommandParams) (string, error) {
			calls = append(calls, strings.Join(params.Args, " "))
			return "fatal: repository not found\n", &ExitError{ExitCode: 128, Output: "fatal: repository not found\n"}
		})
		p := newTestPipeline(t, failing, &FakeStorage{}, nil)
		job := &RecordingJob{}

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/missing", DeploymentID: "dep-404"}, job)
		if !errors.Is(err, ErrCloneFailed) {
			t.Fatalf("got %v, want %v", err, ErrCloneFailed)
		}
		if len(calls) != 1 {
			t.Fatalf("got calls %v, want only the clone", calls)
		}
		if len(job.Progress) != 0 {
			t.Fatalf("got progress %v, want none", job.Progress)
		}
	})

	t.Run("keeps the deployment when invalidation fails", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{Repo: map[string]string{"index.html": ""}}
		invalidator := &FakeInvalidator{Err: errors.New("throttled")}
		p := newTestPipeline(t, commander, &FakeStorage{}, invalidator)
		p.Config.DefaultDistributionID = "EDEFAULT"
		job := &RecordingJob{}

		got, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/site", DeploymentID: "dep-inv"}, job)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.CDNURL != "" {
			t.Fatalf("got cdn url %q, want none", got.CDNURL)
		}
		if got.DistributionID != "EDEFAULT" || invalidator.Calls[0].DistributionID != "EDEFAULT" {
			t.Fatalf("got %+v, want default distribution", got)
		}
		if !job.hasLog("WARNING") {
			t.Fatalf("got logs %v, want warning", job.Logs)
		}
		checkProgress(t, job.Progress, 100)
	})

	t.Run("removes artifacts when configured", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{Repo: map[string]string{"index.html": ""}}
		p := newTestPipeline(t, commander, &FakeStorage{}, nil)
		p.Config.RemoveArtifacts = true

		got, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/site", DeploymentID: "dep-rm"}, &RecordingJob{})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.ArtifactPath != "" {
			t.Fatalf("got artifact path %q, want none", got.ArtifactPath)
		}
		if _, err = os.Stat(filepath.Join(p.Config.WorkDir, "artifacts", "dep-rm")); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("got %v, want artifact directory removed", err)
		}
	})

	t.Run("rejects invalid input before running commands", func(t *testing.T) {
		ctx := context.Background()
		commander := &FakeCommander{}
		p := newTestPipeline(t, commander, &FakeStorage{}, nil)

		_, err := p.Run(ctx, &Input{RepositoryURL: "https://github.com/acme/site", DeploymentID: "../etc"}, &RecordingJob{})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("got %v, want %v", err, ErrInvalidInput)
		}
		if len(commander.Calls) != 0 {
			t.Fatalf("got calls %v, want none", commander.Calls)
		}
	})
}

type commanderFunc func(ctx context.Context, params *CommandParams) (string, error)

func (f commanderFunc) Run(ctx context.Context, params *CommandParams) (string, error) {
	return f(ctx, params)
}

func TestUploadProgress(t *testing.T) {
	tests := []struct {
		uploaded, total, start, end int
		want                        int
	}{
		{0, 10, 75, 100, 75},
		{5, 10, 75, 100, 87},
		{10, 10, 75, 100, 100},
		{10, 10, 75, 95, 95},
		{0, 0, 75, 95, 95},
	}
	for _, tt := range tests {
		if got := uploadProgress(tt.uploaded, tt.total, tt.start, tt.end); got != tt.want {
			t.Errorf("uploadProgress(%d, %d, %d, %d): got %d, want %d", tt.uploaded, tt.total, tt.start, tt.end, got, tt.want)
		}
	}
}
