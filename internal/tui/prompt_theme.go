// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/huh"
)

func promptTheme() *huh.Theme {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" || os.Getenv("TERM") == "dumb" {
		return huh.ThemeBase()
	}
	return huh.ThemeCharm()
}
