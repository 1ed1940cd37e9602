package main

import (
	"flag"
	"fmt"
)

const installShortHelp = `Install packages, file provides, or a "@group-id"`
const installLongHelp = `
Queues each argument for install: an exact name, a glob, a versioned
dependency expression ("foo >= 1.2"), a file path, or "@group-id" to pull
in a whole group. Then resolves the full dependency closure and reports
the resulting transaction.
`

type installCommand struct{}

func (cmd *installCommand) Name() string      { return "install" }
func (cmd *installCommand) Args() string      { return "<pattern...>" }
func (cmd *installCommand) ShortHelp() string { return installShortHelp }
func (cmd *installCommand) LongHelp() string  { return installLongHelp }
func (cmd *installCommand) Hidden() bool      { return false }

func (cmd *installCommand) Register(fs *flag.FlagSet) {}

func (cmd *installCommand) Run(ctx *Ctx, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("install requires at least one pattern")
	}
	for _, pattern := range args {
		if err := ctx.Resolver.Install(pattern); err != nil {
			return err
		}
	}
	return resolveAndReport(ctx)
}
