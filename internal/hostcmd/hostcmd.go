// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hostcmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Runner executes host commands with stdout and stderr attached.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	// Echo, when set, receives each command line before it runs.
	Echo io.Writer
}

// Run executes name with args and returns an error on a non-zero exit.
func (r Runner) Run(name string, args ...string) error {
	if r.Echo != nil {
		fmt.Fprintln(r.Echo, CommandLine(name, args...))
	}
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run %s: %w", name, err)
	}
	return nil
}

// RunOutput executes a host command and returns a formatted error on failure.
func RunOutput(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	output := strings.TrimSpace(string(out))
	if output == "" {
		return fmt.Errorf("failed to run %s: %w", name, err)
	}
	return fmt.Errorf("failed to run %s: %w: %s", name, err, output)
}

// CommandLine renders a command for display, quoting arguments that need it.
func CommandLine(name string, args ...string) string {
	return JoinArgs(append([]string{name}, args...)...)
}

// JoinArgs quotes each argument for a POSIX shell and joins them with spaces.
func JoinArgs(args ...string) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " \t\n'\"\\$`*?[]{}()<>|&;#~") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "'\"'\"'") + "'"
}
