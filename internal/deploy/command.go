package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// CommandParams describes one external process invocation.
type CommandParams struct {
	Args []string // required, Args[0] is the executable
	Dir  string
	Env  []string // KEY=VALUE entries added to the worker's environment
}

// String formats the command line for logs.
func (p *CommandParams) String() string {
	return shellquote.Join(p.Args...)
}

// Commander runs external processes to completion.
type Commander interface {
	// Run returns the combined output. A non-zero exit is reported as
	// *ExitError.
	Run(ctx context.Context, params *CommandParams) (output string, err error)
}

// ExecCommander runs commands with os/exec.
type ExecCommander struct{}

var _ Commander = ExecCommander{}

func (ExecCommander) Run(ctx context.Context, params *CommandParams) (string, error) {
	if len(params.Args) == 0 {
		return "", errors.New("deploy.ExecCommander: empty command")
	}

	cmd := exec.CommandContext(ctx, params.Args[0], params.Args[1:]...)
	cmd.Dir = params.Dir
	cmd.Env = append(os.Environ(), params.Env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if exitErr := (*exec.ExitError)(nil); errors.As(err, &exitErr) {
		return out.String(), &ExitError{ExitCode: exitErr.ExitCode(), Output: out.String()}
	}
	if err != nil {
		return out.String(), fmt.Errorf("deploy.ExecCommander: %s: %w", params.Args[0], err)
	}

	return out.String(), nil
}

// parseCommandOverride splits a shell-quoted command configured by an operator.
func parseCommandOverride(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	args, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", s, err)
	}
	return args, nil
}
