package main

import (
	"flag"

	semver "github.com/Masterminds/semver"
)

const versionShortHelp = `Display version`
const versionLongHelp = `
Display this tool's own semantic version. Unlike the RPM packages it
resolves, which compare by EVR, the tool itself is versioned with
ordinary semver.
`

// toolVersion is this binary's own release version, deliberately not an
// RPM EVR: the tool and the packages it manages are versioned differently.
var toolVersion = mustVersion("0.1.0")

func mustVersion(s string) *semver.Version {
	v, err := semver.NewVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

type versionCommand struct{}

func (cmd *versionCommand) Name() string      { return "version" }
func (cmd *versionCommand) Args() string      { return "" }
func (cmd *versionCommand) ShortHelp() string { return versionShortHelp }
func (cmd *versionCommand) LongHelp() string  { return versionLongHelp }
func (cmd *versionCommand) Hidden() bool      { return false }

func (cmd *versionCommand) Register(fs *flag.FlagSet) {}

func (cmd *versionCommand) Run(ctx *Ctx, args []string) error {
	ctx.Out.Logln(toolVersion.String())
	return nil
}
