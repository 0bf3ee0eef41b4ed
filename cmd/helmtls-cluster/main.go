// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shayne/yargs"
	"golang.org/x/term"

	"github.com/shayne/helmtls/internal/archive"
	"github.com/shayne/helmtls/internal/bundle"
	"github.com/shayne/helmtls/internal/certgen"
	"github.com/shayne/helmtls/internal/config"
	"github.com/shayne/helmtls/internal/hostcmd"
	"github.com/shayne/helmtls/internal/installer"
	"github.com/shayne/helmtls/internal/tui"
)

const usage = `Usage: helmtls-cluster [flags] <command>

Commands:
  generate <name> <namespace>            create certificates and the all, tiller-server and helm-client archives
  install <archive> [<service-account>]  deploy tiller with TLS from a tiller-server archive
  remove <archive>                       remove tiller using a helm-client archive

Flags:
  --work-dir <dir>   directory for generated certificates (default .tls)
  --out-dir <dir>    directory receiving archives (default .)
  --format <fmt>     archive format: xz, zstd or gzip
  --script <path>    certificate generation script
  --helm <path>      helm binary
  --scratch <dir>    scratch directory for unpacked bundles
  --dry-run          print helm commands instead of running them
  -y, --yes          skip confirmation prompts`

const defaultWorkDir = ".tls"

type clusterFlags struct {
	WorkDir string `flag:"work-dir" help:"directory for generated certificates"`
	OutDir  string `flag:"out-dir" help:"directory receiving archives"`
	Format  string `flag:"format" help:"archive format: xz, zstd or gzip"`
	Script  string `flag:"script" help:"certificate generation script"`
	Helm    string `flag:"helm" help:"helm binary"`
	Scratch string `flag:"scratch" help:"scratch directory for unpacked bundles"`
	DryRun  bool   `flag:"dry-run" help:"print helm commands instead of running them"`
	Yes     bool   `flag:"yes" short:"y" help:"skip confirmation prompts"`
}

type usageError struct {
	message string
}

func (e usageError) Error() string {
	return e.message
}

func main() {
	c := &cli{in: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := c.run(os.Args[1:]); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintln(os.Stderr, usageErr.message)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type cli struct {
	in     io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) run(args []string) error {
	if len(args) == 0 || hasHelpFlag(args) {
		return usageError{message: usage}
	}
	result, err := yargs.ParseFlags[clusterFlags](args)
	if err != nil {
		return usageError{message: err.Error()}
	}
	if len(result.Args) == 0 {
		return usageError{message: usage}
	}
	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts := resolveOptions(result.Flags, cfg)

	command, rest := result.Args[0], result.Args[1:]
	switch command {
	case "generate":
		if len(rest) != 2 {
			return usageError{message: "Usage: helmtls-cluster generate <name> <namespace>"}
		}
		return c.generate(opts, rest[0], rest[1])
	case "install":
		if len(rest) < 1 || len(rest) > 2 {
			return usageError{message: "Usage: helmtls-cluster install <archive> [<service-account>]"}
		}
		serviceAccount := ""
		if len(rest) == 2 {
			serviceAccount = rest[1]
		}
		return c.install(opts, rest[0], serviceAccount)
	case "remove":
		if len(rest) != 1 {
			return usageError{message: "Usage: helmtls-cluster remove <archive>"}
		}
		return c.remove(opts, rest[0])
	default:
		return usageError{message: fmt.Sprintf("unknown command %q\n\n%s", command, usage)}
	}
}

// options are the flags merged over the config file.
type options struct {
	workDir        string
	outDir         string
	format         string
	script         string
	helm           string
	scratch        string
	serviceAccount string
	dryRun         bool
	yes            bool
}

func resolveOptions(flags clusterFlags, cfg config.Config) options {
	return options{
		workDir:        firstNonEmpty(flags.WorkDir, defaultWorkDir),
		outDir:         firstNonEmpty(flags.OutDir, "."),
		format:         firstNonEmpty(flags.Format, cfg.ArchiveFormat),
		script:         firstNonEmpty(flags.Script, cfg.Script()),
		helm:           firstNonEmpty(flags.Helm, cfg.Helm()),
		scratch:        firstNonEmpty(flags.Scratch, cfg.Scratch()),
		serviceAccount: cfg.ServiceAccountOrDefault(),
		dryRun:         flags.DryRun,
		yes:            flags.Yes,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (c *cli) generate(opts options, name, namespace string) error {
	if err := bundle.ValidateName(name); err != nil {
		return usageError{message: err.Error()}
	}
	format, err := archive.FormatFromName(opts.format)
	if err != nil {
		return err
	}
	if opts.script == "" {
		return usageError{message: "no certificate generation script configured; pass --script or run `helmtls config --set certgen_script=<path>`"}
	}
	if err := certgen.ResetDir(opts.workDir); err != nil {
		return err
	}
	var generator certgen.Generator = certgen.Script{Path: opts.script, Runner: c.hostRunner()}
	if err := generator.Generate(opts.workDir); err != nil {
		return err
	}
	archives, err := bundle.Partition(bundle.PartitionOptions{
		WorkDir:   opts.workDir,
		OutDir:    opts.outDir,
		Name:      name,
		Namespace: namespace,
		Format:    format,
	})
	if err != nil {
		return err
	}
	for _, path := range []string{archives.All, archives.Server, archives.Client} {
		fmt.Fprintf(c.stdout, "wrote %s\n", absPath(path))
	}
	return nil
}

func (c *cli) install(opts options, archivePath, serviceAccount string) error {
	serviceAccount = strings.TrimSpace(serviceAccount)
	if serviceAccount == "" {
		if interactive(c.in, c.stdout) && !opts.yes {
			value, err := tui.PromptServiceAccount(c.in, c.stdout, opts.serviceAccount)
			if err != nil {
				return err
			}
			serviceAccount = value
		} else {
			serviceAccount = opts.serviceAccount
		}
	}
	inst, err := c.installer(opts)
	if err != nil {
		return err
	}
	u, err := inst.Install(archivePath, serviceAccount)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "tiller for %s installed in namespace %s\n", u.Name, u.Namespace)
	return nil
}

func (c *cli) remove(opts options, archivePath string) error {
	if interactive(c.in, c.stdout) && !opts.yes && !opts.dryRun {
		ok, err := tui.PromptTillerResetDecision(c.in, c.stdout, archivePath)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(c.stdout, "cancelled")
			return nil
		}
	}
	inst, err := c.installer(opts)
	if err != nil {
		return err
	}
	u, err := inst.Remove(archivePath)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "tiller for %s removed from namespace %s\n", u.Name, u.Namespace)
	return nil
}

func (c *cli) installer(opts options) (*installer.Installer, error) {
	inst := &installer.Installer{Scratch: opts.scratch, Helm: opts.helm}
	if opts.dryRun {
		inst.Runner = printRunner{out: c.stdout}
		return inst, nil
	}
	if err := hostcmd.RunOutput(opts.helm, "version", "--client"); err != nil {
		return nil, fmt.Errorf("helm is not usable: %w", err)
	}
	inst.Runner = c.hostRunner()
	return inst, nil
}

func (c *cli) hostRunner() hostcmd.Runner {
	return hostcmd.Runner{Stdout: c.stdout, Stderr: c.stderr, Echo: c.stderr}
}

// printRunner prints each command instead of running it.
type printRunner struct {
	out io.Writer
}

func (p printRunner) Run(name string, args ...string) error {
	fmt.Fprintln(p.out, hostcmd.CommandLine(name, args...))
	return nil
}

func interactive(in io.Reader, out io.Writer) bool {
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return false
	}
	outFile, ok := out.(*os.File)
	return ok && term.IsTerminal(int(outFile.Fd()))
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		switch strings.TrimSpace(arg) {
		case "-h", "--help", "help":
			return true
		}
	}
	return false
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
