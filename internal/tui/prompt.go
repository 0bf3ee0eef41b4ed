// Copyright (c) 2026 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

func promptInput(in io.Reader, out io.Writer, title, description, placeholder string, validate func(string) error) (string, error) {
	if useFormPrompts(in, out) {
		value := ""
		input := huh.NewInput().
			Title(title).
			Description(description).
			Placeholder(placeholder).
			Prompt("> ").
			Value(&value)
		if validate != nil {
			input = input.Validate(validate)
		}
		form := huh.NewForm(huh.NewGroup(input))
		form.WithInput(in).WithOutput(out).WithTheme(promptTheme())
		if err := form.Run(); err != nil {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
	reader := bufio.NewReader(in)
	printPromptHeader(out, title, description, placeholder)
	for {
		fmt.Fprint(out, "> ")
		line, err := readLine(reader)
		if err != nil {
			return "", err
		}
		if validate != nil {
			if err := validate(line); err != nil {
				fmt.Fprintln(out, err.Error())
				continue
			}
		}
		return strings.TrimSpace(line), nil
	}
}

func promptConfirm(in io.Reader, out io.Writer, title, description string) (bool, error) {
	if useFormPrompts(in, out) {
		confirmed := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		))
		form.WithInput(in).WithOutput(out).WithTheme(promptTheme())
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return false, nil
			}
			return false, err
		}
		return confirmed, nil
	}
	reader := bufio.NewReader(in)
	printPromptHeader(out, title, description, "")
	for {
		fmt.Fprint(out, "Confirm [y/N]: ")
		line, err := readLine(reader)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		value, ok := parseYesNo(line)
		if !ok {
			fmt.Fprintln(out, "Please enter y or n.")
			continue
		}
		return value, nil
	}
}

func useFormPrompts(in io.Reader, out io.Writer) bool {
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return false
	}
	outFile, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(outFile.Fd())) {
		return false
	}
	return true
}

func printPromptHeader(out io.Writer, title, description, placeholder string) {
	if strings.TrimSpace(title) != "" {
		fmt.Fprintln(out, title)
	}
	if strings.TrimSpace(description) != "" {
		fmt.Fprintln(out, description)
	}
	if strings.TrimSpace(placeholder) != "" {
		fmt.Fprintln(out, placeholder)
	}
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if errors.Is(err, io.EOF) {
		if line == "" {
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
