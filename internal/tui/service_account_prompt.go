// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tui

import (
	"errors"
	"io"
	"strings"
)

// PromptServiceAccount asks for the kubernetes service account tiller runs as.
func PromptServiceAccount(in io.Reader, out io.Writer, defaultValue string) (string, error) {
	defaultValue = strings.TrimSpace(defaultValue)
	description := "Kubernetes service account used by tiller."
	if defaultValue != "" {
		description += " Leave blank for " + defaultValue + "."
	}
	value, err := promptInput(in, out, "Service account", description, "", func(input string) error {
		if strings.TrimSpace(input) == "" && defaultValue == "" {
			return errors.New("service account is required")
		}
		if strings.ContainsAny(strings.TrimSpace(input), " \t/") {
			return errors.New("service account may not contain spaces or slashes")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if value == "" {
		value = defaultValue
	}
	if value == "" {
		return "", errors.New("service account is required")
	}
	return value, nil
}
