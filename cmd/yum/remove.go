package main

import (
	"flag"
	"fmt"
)

const removeShortHelp = `Remove installed packages`
const removeLongHelp = `
Queues each argument for removal: an exact name, a glob, or a provides
expression matched against what's installed. A leading "@group-id"
removes a whole group via group_remove.
`

type removeCommand struct{}

func (cmd *removeCommand) Name() string      { return "remove" }
func (cmd *removeCommand) Args() string      { return "<pattern...>" }
func (cmd *removeCommand) ShortHelp() string { return removeShortHelp }
func (cmd *removeCommand) LongHelp() string  { return removeLongHelp }
func (cmd *removeCommand) Hidden() bool      { return false }

func (cmd *removeCommand) Register(fs *flag.FlagSet) {}

func (cmd *removeCommand) Run(ctx *Ctx, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("remove requires at least one pattern")
	}
	for _, pattern := range args {
		if groupID, ok := cutGroupPrefix(pattern); ok {
			if err := ctx.Resolver.GroupRemove(groupID); err != nil {
				return err
			}
			continue
		}
		if err := ctx.Resolver.Remove(pattern); err != nil {
			return err
		}
	}
	return resolveAndReport(ctx)
}

func cutGroupPrefix(pattern string) (string, bool) {
	if len(pattern) > 1 && pattern[0] == '@' {
		return pattern[1:], true
	}
	return "", false
}
