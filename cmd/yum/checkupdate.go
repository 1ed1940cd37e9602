package main

import "flag"

const checkUpdateShortHelp = `List available updates without applying them`
const checkUpdateLongHelp = `
Lists every (new, old) update and obsoleting pair the index already knows
about, without queuing or resolving anything. Exits 100 if any are
available, 0 otherwise, per the exit-code contract.
`

type checkUpdateCommand struct {
	newest *bool
}

func (cmd *checkUpdateCommand) Name() string      { return "check-update" }
func (cmd *checkUpdateCommand) Args() string      { return "" }
func (cmd *checkUpdateCommand) ShortHelp() string { return checkUpdateShortHelp }
func (cmd *checkUpdateCommand) LongHelp() string  { return checkUpdateLongHelp }
func (cmd *checkUpdateCommand) Hidden() bool      { return false }

func (cmd *checkUpdateCommand) Register(fs *flag.FlagSet) {
	cmd.newest = fs.Bool("newest", false, "collapse to the newest update/obsoleter per package")
}

// updatesAvailableError is returned by check-update to request exit code
// 100 via main's exitCoder check, rather than the generic failure code.
type updatesAvailableError struct{ count int }

func (e *updatesAvailableError) Error() string { return "" }
func (e *updatesAvailableError) ExitCode() int { return 100 }

func (cmd *checkUpdateCommand) Run(ctx *Ctx, args []string) error {
	updates := ctx.Resolver.Updates.GetUpdatesTuples(*cmd.newest)
	obsoletes := ctx.Resolver.Updates.GetObsoletesTuples(*cmd.newest)

	for _, p := range updates {
		ctx.Out.Logf("%s -> %s\n", p.Old.NEVRA.String(), p.New.NEVRA.String())
	}
	for _, p := range obsoletes {
		ctx.Out.Logf("%s obsoleted by %s\n", p.Old.NEVRA.String(), p.New.NEVRA.String())
	}

	total := len(updates) + len(obsoletes)
	if total == 0 {
		return nil
	}
	return &updatesAvailableError{count: total}
}
