// Package shell provides a tool that executes shell commands in a fixed
// workspace directory.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/okanta/relay"
)

const maxOutput = 4000

// blocked substrings are rejected before execution. This is a tripwire for
// obviously destructive commands, not a sandbox.
var blocked = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}

// Tool executes shell commands in a workspace directory.
type Tool struct {
	workspace      string
	defaultTimeout int // seconds
}

// New creates a shell tool. Commands run in workspace with the given
// default timeout in seconds (30 when non-positive).
func New(workspace string, defaultTimeout int) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30
	}
	return &Tool{workspace: workspace, defaultTimeout: defaultTimeout}
}

// Register adds the "shell_exec" tool to the registry.
func (t *Tool) Register(reg *relay.Registry) error {
	params := []relay.Param{
		{Name: "command", Type: "string", Description: "Shell command to execute", Required: true},
		{Name: "timeout", Type: "integer", Description: "Timeout in seconds (default 30, max 300)"},
	}
	return reg.Register("shell_exec",
		"Execute a shell command in the workspace directory. Returns stdout + stderr. Use for running scripts, checking files, or system tasks.",
		params, t.run)
}

func (t *Tool) run(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, errors.New("command is required")
	}

	lower := strings.ToLower(command)
	for _, b := range blocked {
		if strings.Contains(lower, b) {
			return nil, errors.New("command blocked for safety: " + b)
		}
	}

	timeout := t.defaultTimeout
	if v, err := toInt(args["timeout"]); err == nil && v > 0 {
		timeout = v
	}
	if timeout > 300 {
		timeout = 300
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = t.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutput {
		output = output[:maxOutput] + "\n... (truncated)"
	}

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timed out after %ds", timeout)
		}
		if output == "" {
			output = err.Error()
		}
		return nil, fmt.Errorf("exit: %v: %s", err, output)
	}

	if output == "" {
		output = "(no output)"
	}
	return output, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
