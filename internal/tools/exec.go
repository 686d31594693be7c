package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	localExecTimeout = 15 * time.Second
	maxOutputBytes   = 100 * 1024
)

// Terminal executes a shell command on the host running the orchestrator.
type Terminal struct {
	workingDir     string
	deniedPatterns []string
}

// NewTerminal creates the local shell executor. deniedPatterns blocks
// commands by substring match before execution.
func NewTerminal(workingDir string, deniedPatterns []string) *Terminal {
	if len(deniedPatterns) == 0 {
		deniedPatterns = []string{"rm -rf /", "mkfs", "dd if=", ":(){ :|:& };:"}
	}
	return &Terminal{workingDir: workingDir, deniedPatterns: deniedPatterns}
}

func (t *Terminal) Name() string           { return "terminal" }
func (t *Terminal) Aliases() []string      { return []string{"exec"} }
func (t *Terminal) Timeout() time.Duration { return localExecTimeout }

type execResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (t *Terminal) Execute(ctx context.Context, params string) (any, error) {
	command := strings.TrimSpace(params)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	for _, pattern := range t.deniedPatterns {
		if strings.Contains(command, pattern) {
			return nil, fmt.Errorf("command blocked by policy: %s", pattern)
		}
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	if t.workingDir != "" {
		cmd.Dir = t.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := execResult{
		Stdout:   clip(stdout.String()),
		Stderr:   clip(stderr.String()),
		TimedOut: ctx.Err() == context.DeadlineExceeded,
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

func clip(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes] + "\n[truncated]"
	}
	return s
}
