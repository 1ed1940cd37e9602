package main

import "flag"

const resolveShortHelp = `Resolve the current (empty) transaction`
const resolveLongHelp = `
Runs ResolveDeps with no new commands queued, mostly useful for checking
that a manifest/config pair loads and resolves cleanly.
`

type resolveCommand struct{}

func (cmd *resolveCommand) Name() string      { return "resolve" }
func (cmd *resolveCommand) Args() string      { return "" }
func (cmd *resolveCommand) ShortHelp() string { return resolveShortHelp }
func (cmd *resolveCommand) LongHelp() string  { return resolveLongHelp }
func (cmd *resolveCommand) Hidden() bool      { return false }

func (cmd *resolveCommand) Register(fs *flag.FlagSet) {}

func (cmd *resolveCommand) Run(ctx *Ctx, args []string) error {
	return resolveAndReport(ctx)
}
