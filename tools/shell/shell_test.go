package shell

import (
	"context"
	"strings"
	"testing"

	"github.com/okanta/relay"
)

func newRegistry(t *testing.T, workspace string) *relay.Registry {
	t.Helper()
	reg := relay.NewRegistry()
	if err := New(workspace, 30).Register(reg); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestExecEcho(t *testing.T) {
	reg := newRegistry(t, t.TempDir())

	got, err := reg.Execute(context.Background(), "shell_exec", map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(got.(string)) != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestExecRunsInWorkspace(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t, dir)

	got, err := reg.Execute(context.Background(), "shell_exec", map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatal(err)
	}
	// macOS tempdirs resolve through /private, so compare suffixes.
	if !strings.HasSuffix(strings.TrimSpace(got.(string)), strings.TrimPrefix(dir, "/private")) {
		t.Errorf("pwd = %q, want workspace %q", got, dir)
	}
}

func TestBlockedCommands(t *testing.T) {
	reg := newRegistry(t, t.TempDir())

	for _, cmd := range []string{"sudo apt install x", "echo hi && rm -rf / --no-preserve-root"} {
		if _, err := reg.Execute(context.Background(), "shell_exec", map[string]any{"command": cmd}); err == nil {
			t.Errorf("command %q not blocked", cmd)
		}
	}
}

func TestEmptyCommandRejected(t *testing.T) {
	reg := newRegistry(t, t.TempDir())
	if _, err := reg.Execute(context.Background(), "shell_exec", map[string]any{}); err == nil {
		t.Fatal("empty command accepted")
	}
}

func TestStderrAppended(t *testing.T) {
	reg := newRegistry(t, t.TempDir())

	got, err := reg.Execute(context.Background(), "shell_exec", map[string]any{"command": "echo out; echo err >&2"})
	if err != nil {
		t.Fatal(err)
	}
	out := got.(string)
	if !strings.Contains(out, "out") || !strings.Contains(out, "--- stderr ---") || !strings.Contains(out, "err") {
		t.Errorf("output = %q", out)
	}
}

func TestNonZeroExitIsError(t *testing.T) {
	reg := newRegistry(t, t.TempDir())

	_, err := reg.Execute(context.Background(), "shell_exec", map[string]any{"command": "exit 3"})
	if err == nil {
		t.Fatal("non-zero exit accepted")
	}
}

func TestTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for a second")
	}
	reg := newRegistry(t, t.TempDir())

	_, err := reg.Execute(context.Background(), "shell_exec", map[string]any{"command": "sleep 5", "timeout": 1})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v", err)
	}
}
