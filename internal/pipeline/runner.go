// Package pipeline adapts the command-line audio tools the worker depends on:
// yt-dlp for retrieval, demucs and ffmpeg for stem separation, aubio and
// keyfinder-cli for tempo and key estimation.
//
// Each adapter satisfies one of the collaborator interfaces declared by the
// worker package and reports failures with the domain sentinel errors, so the
// worker can record a readable error detail without knowing which tool ran.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CommandResult captures one external command invocation
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run executes one command and captures stdout, stderr and the exit code
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// lastLine returns the last non-empty line of tool output, for error details
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// describe picks the most useful message from a failed command
func describe(result CommandResult, err error) string {
	if msg := lastLine(result.Stderr); msg != "" {
		return msg
	}
	if msg := lastLine(result.Stdout); msg != "" {
		return msg
	}
	return err.Error()
}
