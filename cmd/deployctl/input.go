package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/k11v/staticdeploy/internal/deploy"
)

// inputFlags are the deployment flags shared by run and enqueue.
type inputFlags struct {
	id             string
	name           string
	branch         string
	buildDir       string
	backendURL     string
	envFile        string
	env            []string
	distributionID string
}

func (f *inputFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.id, "id", "", "Deployment ID (default: random UUID)")
	flags.StringVar(&f.name, "name", "", "Display name (default: repository name)")
	flags.StringVarP(&f.branch, "branch", "b", "", "Branch to deploy (default: main)")
	flags.StringVar(&f.buildDir, "build-dir", "", "Subdirectory holding the frontend project")
	flags.StringVar(&f.backendURL, "backend-url", "", "Backend URL exposed to the build")
	flags.StringVar(&f.envFile, "env-file", "", "Dotenv file with build variables")
	flags.StringArrayVarP(&f.env, "env", "e", nil, "Build variable as KEY=VALUE (repeatable)")
	flags.StringVar(&f.distributionID, "distribution-id", "", "CloudFront distribution to invalidate")
}

// input assembles a validated deployment input for repositoryURL.
func (f *inputFlags) input(repositoryURL string) (*deploy.Input, error) {
	id := f.id
	if id == "" {
		id = uuid.New().String()
	}

	var envText strings.Builder
	if f.envFile != "" {
		data, err := os.ReadFile(f.envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		envText.Write(data)
		envText.WriteString("\n")
	}
	for _, kv := range f.env {
		envText.WriteString(kv)
		envText.WriteString("\n")
	}

	input := &deploy.Input{
		RepositoryURL:  repositoryURL,
		DeploymentID:   id,
		Name:           f.name,
		Branch:         f.branch,
		BuildDir:       f.buildDir,
		BackendURL:     f.backendURL,
		EnvText:        envText.String(),
		DistributionID: f.distributionID,
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return input, nil
}
