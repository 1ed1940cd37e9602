package main

import (
	internallog "github.com/james-antill/yum/internal/log"
	"github.com/james-antill/yum/resolver"
)

// Ctx carries the resolver built from the global flags every subcommand
// shares, plus the loggers each command writes its output through.
type Ctx struct {
	Resolver *resolver.Resolver
	Out, Err *internallog.Logger
	LockPath string
}
