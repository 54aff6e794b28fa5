// Package wpcli invokes the external wp tool (database dump/restore,
// search-replace, plugin/theme activation). The Runner interface is the
// narrow capability the migration pipeline depends on, so tests can drive
// the pipeline with scripted results instead of a live installation.
package wpcli

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Result carries the outcome of one external invocation. A nonzero
// ExitCode is not an error at this layer; callers decide whether it is
// fatal for their step.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes one wp subcommand synchronously. command is the
// subcommand ("db export", "search-replace"), args are positional, flags
// map to --key=value pairs (empty value emits a bare --key).
type Runner interface {
	Run(ctx context.Context, command string, args []string, flags map[string]string) (*Result, error)
}

// CLI runs commands through the wp binary against a given installation
// path.
type CLI struct {
	// Bin is the wp executable, "wp" by default.
	Bin string
	// Path is the WordPress installation root passed as --path.
	Path string
	// AllowRoot adds --allow-root, needed when running as root in
	// containers.
	AllowRoot bool
}

func NewCLI(bin, path string, allowRoot bool) *CLI {
	if bin == "" {
		bin = "wp"
	}
	return &CLI{Bin: bin, Path: path, AllowRoot: allowRoot}
}

func (c *CLI) Run(ctx context.Context, command string, args []string, flags map[string]string) (*Result, error) {
	argv := strings.Fields(command)
	argv = append(argv, args...)

	// Deterministic flag order keeps invocations reproducible in logs.
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if flags[k] == "" {
			argv = append(argv, "--"+k)
			continue
		}
		argv = append(argv, "--"+k+"="+flags[k])
	}

	if c.Path != "" {
		argv = append(argv, "--path="+c.Path)
	}
	if c.AllowRoot {
		argv = append(argv, "--allow-root")
	}

	cmd := exec.CommandContext(ctx, c.Bin, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to run %s %s: %w", c.Bin, command, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}
