// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tui

import (
	"io"
	"strings"
)

// PromptRemoveDecision asks before an environment's credentials are deleted.
func PromptRemoveDecision(in io.Reader, out io.Writer, name, namespace string) (bool, error) {
	name = strings.TrimSpace(name)
	title := "Remove " + name + "?"
	description := "This deletes the helm TLS credentials for " + name + " from this machine."
	if ns := strings.TrimSpace(namespace); ns != "" {
		description = "This deletes the helm TLS credentials for " + name + " (tiller namespace " + ns + ") from this machine."
	}
	return promptConfirm(in, out, title, description)
}

// PromptTillerResetDecision asks before `helm reset` removes tiller from the
// cluster of the current kube context.
func PromptTillerResetDecision(in io.Reader, out io.Writer, archivePath string) (bool, error) {
	title := "Remove tiller from the current cluster?"
	description := "helm reset runs with the credentials in " + strings.TrimSpace(archivePath) + "."
	return promptConfirm(in, out, title, description)
}
