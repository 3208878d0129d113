package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lokisink/internal/config"
)

// redirectOutput swaps os.Stdout and os.Stderr for temp files until the
// returned function is called.
func redirectOutput(t *testing.T) func() {
	t.Helper()

	stdout := os.Stdout
	stderr := os.Stderr

	outFile, err := os.CreateTemp(t.TempDir(), "stdout")
	if err != nil {
		t.Fatalf("create stdout temp: %v", err)
	}
	errFile, err := os.CreateTemp(t.TempDir(), "stderr")
	if err != nil {
		t.Fatalf("create stderr temp: %v", err)
	}

	os.Stdout = outFile
	os.Stderr = errFile

	return func() {
		os.Stdout = stdout
		os.Stderr = stderr
		_ = outFile.Close()
		_ = errFile.Close()
	}
}

// isolateConfig points config discovery at empty directories.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Cleanup(func() { cfg = nil })
}

func TestExecute_SubcommandRegistration(t *testing.T) {
	root := newRootCmd()

	commands := make(map[string]bool)
	for _, c := range root.Commands() {
		commands[c.Name()] = true
	}
	for _, name := range []string{"ship", "recv", "completion"} {
		if !commands[name] {
			t.Errorf("missing subcommand: %s", name)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	isolateConfig(t)

	for _, name := range []string{"ship", "recv", "completion"} {
		t.Run(name, func(t *testing.T) {
			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&out)
			root.SetArgs([]string{name, "--help"})
			if err := root.Execute(); err != nil {
				t.Fatalf("help: %v", err)
			}
			if !strings.Contains(out.String(), "Usage:") {
				t.Errorf("help output missing usage:\n%s", out.String())
			}
		})
	}
}

func TestCompletion(t *testing.T) {
	isolateConfig(t)

	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetArgs([]string{"completion", shell})
			if err := root.Execute(); err != nil {
				t.Fatalf("completion %s: %v", shell, err)
			}
			if !strings.Contains(out.String(), "lokisink") {
				t.Errorf("%s completion does not mention lokisink", shell)
			}
		})
	}

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"completion", "tcsh"})
	if err := root.Execute(); err == nil {
		t.Error("expected error for unsupported shell")
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	isolateConfig(t)
	t.Setenv("LOKISINK_RECV_ADDR", "127.0.0.1:4100")
	t.Setenv("LOKISINK_METRICS_ADDR", ":9100")

	cfg = config.Load()

	cmd := &cobra.Command{Use: "x"}
	var listen, metricsAddr string
	cmd.Flags().StringVar(&listen, "listen", ":3100", "")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "")
	applyConfigDefaults(cmd)
	if listen != "127.0.0.1:4100" {
		t.Errorf("listen = %q, want config value", listen)
	}
	if metricsAddr != ":9100" {
		t.Errorf("metrics-addr = %q, want config value", metricsAddr)
	}

	explicit := &cobra.Command{Use: "y"}
	explicit.Flags().StringVar(&listen, "listen", ":3100", "")
	_ = explicit.Flags().Set("listen", ":5000")
	applyConfigDefaults(explicit)
	if listen != ":5000" {
		t.Errorf("listen = %q, explicit flag should win", listen)
	}
}

func TestNewLogger(t *testing.T) {
	for _, v := range []bool{false, true} {
		logger, err := newLogger(v)
		if err != nil {
			t.Fatalf("newLogger(%v): %v", v, err)
		}
		if got := logger.Core().Enabled(-1); got != v {
			t.Errorf("newLogger(%v) debug enabled = %v", v, got)
		}
	}
}
