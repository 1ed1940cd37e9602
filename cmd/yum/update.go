package main

import "flag"

const updateShortHelp = `Update installed packages`
const updateLongHelp = `
With no arguments, updates every installed package to its newest
available version (applying obsoletes first). With arguments, updates
only the named packages (or the installed package matching a versioned
dependency expression or file path).
`

type updateCommand struct{}

func (cmd *updateCommand) Name() string      { return "update" }
func (cmd *updateCommand) Args() string      { return "[pattern...]" }
func (cmd *updateCommand) ShortHelp() string { return updateShortHelp }
func (cmd *updateCommand) LongHelp() string  { return updateLongHelp }
func (cmd *updateCommand) Hidden() bool      { return false }

func (cmd *updateCommand) Register(fs *flag.FlagSet) {}

func (cmd *updateCommand) Run(ctx *Ctx, args []string) error {
	if len(args) == 0 {
		if err := ctx.Resolver.Update(""); err != nil {
			return err
		}
		return resolveAndReport(ctx)
	}
	for _, pattern := range args {
		if err := ctx.Resolver.Update(pattern); err != nil {
			return err
		}
	}
	return resolveAndReport(ctx)
}
