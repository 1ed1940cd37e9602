package main

import (
	"flag"
	"fmt"
)

const reinstallShortHelp = `Reinstall an installed package at its current version`
const reinstallLongHelp = `
Erases and reinstalls the identical NEVRA of an installed package from an
available repository, with the rpm problem filters needed to replace
files in place.
`

type reinstallCommand struct{}

func (cmd *reinstallCommand) Name() string      { return "reinstall" }
func (cmd *reinstallCommand) Args() string      { return "<name...>" }
func (cmd *reinstallCommand) ShortHelp() string { return reinstallShortHelp }
func (cmd *reinstallCommand) LongHelp() string  { return reinstallLongHelp }
func (cmd *reinstallCommand) Hidden() bool      { return false }

func (cmd *reinstallCommand) Register(fs *flag.FlagSet) {}

func (cmd *reinstallCommand) Run(ctx *Ctx, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("reinstall requires at least one package name")
	}
	for _, name := range args {
		if err := ctx.Resolver.Reinstall(name); err != nil {
			return err
		}
	}
	return resolveAndReport(ctx)
}
