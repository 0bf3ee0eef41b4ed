// Copyright (c) 2026 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package styles

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Styles defines the semantic style set used by the CLI output.
type Styles struct {
	Header  lipgloss.Style
	Muted   lipgloss.Style
	Value   lipgloss.Style
	Label   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Faint(true),
		Value:   lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// PlainStyles renders text unchanged.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Header: plain, Muted: plain, Value: plain, Label: plain, Success: plain, Error: plain}
}

// ForOutput picks colored styles only for terminals that accept them.
func ForOutput(out io.Writer) Styles {
	if !ColorEnabled(out) {
		return PlainStyles()
	}
	return DefaultStyles()
}

func ColorEnabled(out io.Writer) bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
