// Command yum is the CLI front-end over the resolver core: it loads an
// installed-package view and one or more repository manifests, builds a
// Resolver, lets a subcommand queue commands against it, then resolves and
// reports the resulting transaction.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/james-antill/yum/config"
	"github.com/james-antill/yum/groups"
	internallog "github.com/james-antill/yum/internal/log"
	"github.com/james-antill/yum/internal/lock"
	"github.com/james-antill/yum/resolver"
	"github.com/james-antill/yum/rpmpkg"
	"github.com/james-antill/yum/sack"
	"github.com/james-antill/yum/txset"
	"github.com/james-antill/yum/updates"
)

type command interface {
	Name() string           // "install"
	Args() string           // "<pattern...>"
	ShortHelp() string      // "Install packages"
	LongHelp() string       // full description
	Register(*flag.FlagSet) // command-specific flags
	Hidden() bool           // hide from help output
	Run(*Ctx, []string) error
}

func main() {
	c := &Config{
		Args:   os.Args,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Env:    os.Environ(),
	}
	os.Exit(c.Run())
}

// Config specifies a full yum CLI invocation.
type Config struct {
	Args           []string
	Env            []string
	Stdout, Stderr io.Writer
}

// repoFlag collects repeated "-repo name=path" flags into name/path pairs.
type repoFlag struct {
	ids   []string
	paths []string
}

func (r *repoFlag) String() string { return "" }

func (r *repoFlag) Set(s string) error {
	idx := strings.Index(s, "=")
	if idx < 0 {
		return fmt.Errorf("repo flag %q must be name=path", s)
	}
	r.ids = append(r.ids, s[:idx])
	r.paths = append(r.paths, s[idx+1:])
	return nil
}

// exitCoder lets a subcommand (check-update) request a specific process
// exit code rather than the generic failure code.
type exitCoder interface {
	error
	ExitCode() int
}

// Run executes the configuration and returns a process exit code. Exit
// code 100 is reserved for check-update reporting available updates, per
// spec §6's exit-code contract; 1 is any other failure.
func (c *Config) Run() (exitCode int) {
	commands := []command{
		&installCommand{},
		&updateCommand{},
		&removeCommand{},
		&reinstallCommand{},
		&resolveCommand{},
		&checkUpdateCommand{},
		&versionCommand{},
	}

	examples := [][2]string{
		{"yum install -installed db.toml -repo base=repo.toml zsh", "queue zsh for install and resolve"},
		{"yum update -installed db.toml -repo base=repo.toml", "update every installed package"},
		{"yum remove -installed db.toml zsh", "queue zsh for removal and resolve"},
		{"yum check-update -installed db.toml -repo base=repo.toml", "exit 100 if updates are available"},
	}

	outLogger := internallog.New(c.Stdout)
	errLogger := internallog.New(c.Stderr)

	usage := func() {
		errLogger.Logln("yum is a dependency-resolving transaction engine for RPM-based systems")
		errLogger.Logln()
		errLogger.Logln("Usage: yum <command> [flags] [args]")
		errLogger.Logln()
		errLogger.Logln("Commands:")
		errLogger.Logln()
		w := tabwriter.NewWriter(c.Stderr, 0, 4, 2, ' ', 0)
		for _, cmd := range commands {
			if !cmd.Hidden() {
				fmt.Fprintf(w, "\t%s\t%s\n", cmd.Name(), cmd.ShortHelp())
			}
		}
		w.Flush()
		errLogger.Logln()
		errLogger.Logln("Examples:")
		for _, example := range examples {
			fmt.Fprintf(w, "\t%s\t%s\n", example[0], example[1])
		}
		w.Flush()
		errLogger.Logln()
		errLogger.Logln(`Use "yum help <command>" for more information about a command.`)
	}

	cmdName, printCommandHelp, exit := parseArgs(c.Args)
	if exit {
		usage()
		return 1
	}

	for _, cmd := range commands {
		if cmd.Name() != cmdName {
			continue
		}

		fs := flag.NewFlagSet(cmdName, flag.ContinueOnError)
		fs.SetOutput(c.Stderr)

		installedPath := fs.String("installed", "", "path to the installed-package TOML manifest")
		configPath := fs.String("config", "", "path to the resolver config TOML file")
		groupsPath := fs.String("groups", "", "path to the group catalog TOML file")
		archFlag := fs.String("arch", defaultArch(), "canonical system architecture")
		lockPath := fs.String("lock", "", "path to the process-wide lock file (default: <installed>.lock)")
		var repos repoFlag
		fs.Var(&repos, "repo", "repository manifest as name=path (repeatable)")

		cmd.Register(fs)
		resetUsage(errLogger, fs, cmdName, cmd.Args(), cmd.LongHelp())

		if printCommandHelp {
			fs.Usage()
			return 1
		}

		if err := fs.Parse(c.Args[2:]); err != nil {
			return 1
		}

		ctx, err := buildCtx(*installedPath, *configPath, *groupsPath, *archFlag, *lockPath, repos, outLogger, errLogger)
		if err != nil {
			errLogger.Logf("%v\n", err)
			return 1
		}

		runErr := lock.WithLock(ctx.LockPath, func() error {
			return cmd.Run(ctx, fs.Args())
		})
		if runErr != nil {
			if coder, ok := runErr.(exitCoder); ok {
				return coder.ExitCode()
			}
			errLogger.Logf("%v\n", runErr)
			return 1
		}
		return 0
	}

	errLogger.Logf("yum: %s: no such command\n", cmdName)
	usage()
	return 1
}

func buildCtx(installedPath, configPath, groupsPath, arch, lockPath string, repos repoFlag, out, errl *internallog.Logger) (*Ctx, error) {
	if installedPath == "" {
		return nil, fmt.Errorf("-installed is required")
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	installedPkgs, err := rpmpkg.LoadManifest(installedPath, rpmpkg.InstalledRepoID, rpmpkg.SourceInstalled)
	if err != nil {
		return nil, err
	}

	s := sack.New()
	s.AddInstalled(installedPkgs)

	for i, id := range repos.ids {
		pkgs, err := rpmpkg.LoadManifest(repos.paths[i], id, rpmpkg.SourceAvailable)
		if err != nil {
			return nil, err
		}
		s.AddRepository(rpmpkg.NewRepository(id), pkgs)
	}

	var cat *groups.Catalog
	if groupsPath != "" {
		cat, err = groups.LoadCatalog(groupsPath)
		if err != nil {
			return nil, err
		}
	}

	idx := updates.Build(s.Installed(), s.Available(), arch, cfg)

	r := &resolver.Resolver{
		Sack:    s,
		TxSet:   txset.New(),
		Updates: idx,
		Config:  cfg,
		Groups:  cat,
		Log:     out,
	}

	if lockPath == "" {
		lockPath = installedPath + ".lock"
	}

	return &Ctx{Resolver: r, Out: out, Err: errl, LockPath: lockPath}, nil
}

// defaultArch maps the running process's GOARCH to the canonical RPM arch
// name it corresponds to, for a sane -arch default.
func defaultArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i386"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

func resetUsage(logger *internallog.Logger, fs *flag.FlagSet, name, args, longHelp string) {
	var (
		hasFlags   bool
		flagBlock  bytes.Buffer
		flagWriter = tabwriter.NewWriter(&flagBlock, 0, 4, 2, ' ', 0)
	)
	fs.VisitAll(func(f *flag.Flag) {
		hasFlags = true
		defValue := f.DefValue
		if defValue == "" {
			defValue = "<none>"
		}
		fmt.Fprintf(flagWriter, "\t-%s\t%s (default: %s)\n", f.Name, f.Usage, defValue)
	})
	flagWriter.Flush()
	fs.Usage = func() {
		logger.Logf("Usage: yum %s %s\n", name, args)
		logger.Logln()
		logger.Logln(strings.TrimSpace(longHelp))
		logger.Logln()
		if hasFlags {
			logger.Logln("Flags:")
			logger.Logln()
			logger.Logln(flagBlock.String())
		}
	}
}

// parseArgs determines the name of the yum command and whether the user
// asked for help to be printed, mirroring the teacher's argv-shape switch.
func parseArgs(args []string) (cmdName string, printCmdUsage bool, exit bool) {
	isHelpArg := func() bool {
		return strings.Contains(strings.ToLower(args[1]), "help") || strings.ToLower(args[1]) == "-h"
	}

	switch len(args) {
	case 0, 1:
		exit = true
	case 2:
		if isHelpArg() {
			exit = true
		}
		cmdName = args[1]
	default:
		if isHelpArg() {
			cmdName = args[2]
			printCmdUsage = true
		} else {
			cmdName = args[1]
		}
	}
	return cmdName, printCmdUsage, exit
}
