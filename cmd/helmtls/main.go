// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/shayne/yargs"
	"golang.org/x/term"

	"github.com/shayne/helmtls/internal/config"
	"github.com/shayne/helmtls/internal/hostcmd"
	"github.com/shayne/helmtls/internal/registry"
	"github.com/shayne/helmtls/internal/tui"
	"github.com/shayne/helmtls/internal/ui/styles"
)

func main() {
	if err := runCLI(os.Args[1:]); err != nil {
		reportCLIError(err)
		os.Exit(1)
	}
}

type usageError struct {
	message string
}

func (e usageError) Error() string {
	return e.message
}

func reportCLIError(err error) {
	var usageErr usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintln(os.Stderr, usageErr.message)
		return
	}
	st := styles.ForOutput(os.Stderr)
	fmt.Fprintln(os.Stderr, st.Error.Render("error: "+err.Error()))
}

func newUsageError(message string) error {
	return usageError{message: message}
}

var (
	version = "dev"
	commit  = ""
)

func runCLI(args []string) error {
	args = normalizeArgs(args)
	handlers := map[string]yargs.SubcommandHandler{
		"list":    handleListCommand,
		"install": handleInstallCommand,
		"remove":  handleRemoveCommand,
		"show":    handleShowCommand,
		"config":  handleConfigCommand,
		"version": handleVersionCommand,
	}
	if err := yargs.RunSubcommands(context.Background(), args, helpConfig, struct{}{}, handlers); err != nil {
		if errors.Is(err, yargs.ErrShown) {
			return nil
		}
		return err
	}
	return nil
}

type listFlags struct {
	Paths bool `flag:"paths" help:"show the directory of each environment"`
}

type installArgs struct {
	Archive string `pos:"0" help:"helm-client archive (<name>-helm-client.tar.xz)"`
}

type removeFlags struct {
	Yes bool `flag:"yes" short:"y" help:"skip the confirmation prompt"`
}

type nameArgs struct {
	Name string `pos:"0" help:"environment name"`
}

type showFlags struct {
	Flags bool `flag:"flags" help:"print only the helm TLS flags, shell quoted"`
}

type configFlags struct {
	Set   []string `flag:"set" help:"set key=value (repeatable)"`
	Unset []string `flag:"unset" help:"restore a key to its default (repeatable)"`
	Reset bool     `flag:"reset" help:"delete the config file"`
}

var helpConfig = yargs.HelpConfig{
	Command: yargs.CommandInfo{
		Name:        "helmtls",
		Description: "Manage local helm TLS environments for tiller clusters",
		Examples: []string{
			"helmtls list",
			"helmtls install Dev1-helm-client.tar.xz",
			"helmtls show Dev1",
			"helm ls $(helmtls show Dev1 --flags)",
			"helmtls remove Dev1 -y",
			"helmtls config --set archive_format=zstd",
		},
	},
	SubCommands: map[string]yargs.SubCommandInfo{
		"list": {
			Name:        "list",
			Description: "List installed environments",
		},
		"install": {
			Name:        "install",
			Description: "Install a helm-client archive as a new environment",
			Usage:       "<archive>",
		},
		"remove": {
			Name:        "remove",
			Description: "Remove an installed environment",
			Usage:       "<name> [-y]",
		},
		"show": {
			Name:        "show",
			Description: "Show an environment and the helm flags that use it",
			Usage:       "<name> [--flags]",
		},
		"config": {
			Name:        "config",
			Description: "Show or update the local configuration",
			Usage:       "[--set key=value] [--unset key] [--reset]",
			Examples: []string{
				"helmtls config",
				"helmtls config --set registry_root=~/.helm/tls",
				"helmtls config --unset helm_binary",
			},
		},
		"version": {
			Name:        "version",
			Description: "Show CLI version",
		},
	},
}

func normalizeArgs(args []string) []string {
	if len(args) == 0 {
		return []string{"--help"}
	}
	switch args[0] {
	case "--version", "-v":
		return append([]string{"version"}, args[1:]...)
	case "help":
		if len(args) > 1 {
			return []string{args[1], "--help"}
		}
		return []string{"--help"}
	case "ls":
		return append([]string{"list"}, args[1:]...)
	case "rm":
		return append([]string{"remove"}, args[1:]...)
	}
	return args
}

func openRegistry() (*registry.Registry, error) {
	cfg, _, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	root, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registry root: %w", err)
	}
	return registry.New(root), nil
}

func handleListCommand(_ context.Context, args []string) error {
	result, err := yargs.ParseAndHandleHelp[struct{}, listFlags, struct{}](args, helpConfig)
	if errors.Is(err, yargs.ErrShown) {
		return nil
	}
	if err != nil {
		return err
	}
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	entries, err := reg.Entries()
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, formatList(entries, reg.Root, result.SubCommandFlags.Paths, styles.ForOutput(os.Stdout)))
	return nil
}

func formatList(entries []registry.Entry, root string, paths bool, st styles.Styles) string {
	if len(entries) == 0 {
		return st.Muted.Render("No environments installed in "+root) + "\n"
	}
	width := 0
	for _, entry := range entries {
		width = max(width, len(entry.Name))
	}
	var b strings.Builder
	for _, entry := range entries {
		namespace := entry.Namespace
		if namespace == "" {
			namespace = "?"
		}
		pad := strings.Repeat(" ", width-len(entry.Name))
		line := st.Label.Render(entry.Name) + pad + "  " + st.Muted.Render("namespace="+namespace)
		if paths {
			line += "  " + st.Value.Render(entry.Dir)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func handleInstallCommand(_ context.Context, args []string) error {
	result, err := yargs.ParseAndHandleHelp[struct{}, struct{}, installArgs](args, helpConfig)
	if errors.Is(err, yargs.ErrShown) {
		return nil
	}
	if err != nil {
		return err
	}
	archivePath := strings.TrimSpace(result.Args.Archive)
	if archivePath == "" {
		return newUsageError("usage: helmtls install <archive>")
	}
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	installed, err := reg.Install(archivePath)
	if err != nil {
		return err
	}
	st := styles.ForOutput(os.Stdout)
	if !installed.Installed {
		fmt.Fprintf(os.Stdout, "%s is already installed in %s; nothing changed\n", st.Label.Render(installed.Name), installed.Dir)
		return nil
	}
	fmt.Fprintf(os.Stdout, "%s installed %s into %s\n", st.Success.Render("✓"), st.Label.Render(installed.Name), installed.Dir)
	return nil
}

func handleRemoveCommand(_ context.Context, args []string) error {
	result, err := yargs.ParseAndHandleHelp[struct{}, removeFlags, nameArgs](args, helpConfig)
	if errors.Is(err, yargs.ErrShown) {
		return nil
	}
	if err != nil {
		return err
	}
	name := strings.TrimSpace(result.Args.Name)
	if name == "" {
		return newUsageError("usage: helmtls remove <name> [-y]")
	}
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	if !result.SubCommandFlags.Yes {
		entry, lookupErr := reg.Lookup(name)
		if errors.Is(lookupErr, registry.ErrNotInstalled) {
			fmt.Fprintf(os.Stdout, "%s is not installed; nothing to remove\n", name)
			return nil
		}
		if !isInteractive(os.Stdin, os.Stdout) {
			return newUsageError("refusing to remove " + name + " without confirmation; pass -y")
		}
		ok, err := tui.PromptRemoveDecision(os.Stdin, os.Stdout, name, entry.Namespace)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stdout, "cancelled")
			return nil
		}
	}
	removed, err := reg.Remove(name)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(os.Stdout, "%s is not installed; nothing to remove\n", name)
		return nil
	}
	st := styles.ForOutput(os.Stdout)
	fmt.Fprintf(os.Stdout, "%s removed %s\n", st.Success.Render("✓"), st.Label.Render(name))
	return nil
}

func isInteractive(in, out *os.File) bool {
	return term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(out.Fd()))
}

func handleShowCommand(_ context.Context, args []string) error {
	result, err := yargs.ParseAndHandleHelp[struct{}, showFlags, nameArgs](args, helpConfig)
	if errors.Is(err, yargs.ErrShown) {
		return nil
	}
	if err != nil {
		return err
	}
	name := strings.TrimSpace(result.Args.Name)
	if name == "" {
		return newUsageError("usage: helmtls show <name> [--flags]")
	}
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	entry, err := reg.Lookup(name)
	if err != nil {
		return err
	}
	if result.SubCommandFlags.Flags {
		fmt.Fprintln(os.Stdout, hostcmd.JoinArgs(registry.HelmFlags(entry)...))
		return nil
	}
	fmt.Fprint(os.Stdout, formatEntry(entry, styles.ForOutput(os.Stdout)))
	return nil
}

func formatEntry(entry registry.Entry, st styles.Styles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", st.Header.Render(entry.Name))
	fmt.Fprintf(&b, "  %s %s\n", st.Label.Render("namespace:"), entry.Namespace)
	fmt.Fprintf(&b, "  %s %s\n", st.Label.Render("directory:"), entry.Dir)
	fmt.Fprintf(&b, "  %s helm %s\n", st.Label.Render("usage:"), hostcmd.JoinArgs(append([]string{"<command>"}, registry.HelmFlags(entry)...)...))
	return b.String()
}

func handleConfigCommand(_ context.Context, args []string) error {
	result, err := yargs.ParseAndHandleHelp[struct{}, configFlags, struct{}](args, helpConfig)
	if errors.Is(err, yargs.ErrShown) {
		return nil
	}
	if err != nil {
		return err
	}
	flags := result.SubCommandFlags
	if flags.Reset {
		if err := config.RemoveConfigFile(); err != nil {
			return fmt.Errorf("failed to remove config: %w", err)
		}
		fmt.Fprintln(os.Stdout, "config reset to defaults")
		return nil
	}

	cfg, path, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(flags.Set) == 0 && len(flags.Unset) == 0 {
		return showConfig(os.Stdout, cfg, path)
	}
	if err := applyConfigFlags(&cfg, flags); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintf(os.Stdout, "wrote config to %s\n", path)
	return nil
}

func applyConfigFlags(cfg *config.Config, flags configFlags) error {
	for _, entry := range flags.Set {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return newUsageError(fmt.Sprintf("invalid setting %q (expected key=value)", entry))
		}
		if err := cfg.Set(key, value); err != nil {
			return err
		}
	}
	for _, key := range flags.Unset {
		if err := cfg.Set(key, ""); err != nil {
			return err
		}
	}
	return nil
}

func showConfig(out io.Writer, cfg config.Config, path string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format config: %w", err)
	}
	fmt.Fprintf(out, "Config path: %s\n%s", path, string(data))
	root, err := cfg.Registry()
	if err == nil {
		fmt.Fprintf(out, "# effective registry_root = %q\n", root)
	}
	return nil
}

func handleVersionCommand(_ context.Context, args []string) error {
	_, err := yargs.ParseAndHandleHelp[struct{}, struct{}, struct{}](args, helpConfig)
	if errors.Is(err, yargs.ErrShown) {
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, versionString())
	return nil
}

func versionString() string {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		trimmed = "dev"
	}
	if c := strings.TrimSpace(commit); c != "" {
		return fmt.Sprintf("%s (%s)", trimmed, c)
	}
	return trimmed
}
