package main

import (
	"context"
	"fmt"

	"github.com/james-antill/yum/resolver"
	"github.com/james-antill/yum/txset"
)

// resolveAndReport runs ResolveDeps, prints the resulting transaction (or
// the accumulated dependency-check messages on failure), and returns a
// process error for a non-CodeResolved/CodeEmpty outcome.
func resolveAndReport(ctx *Ctx) error {
	code, msgs := ctx.Resolver.ResolveDeps(context.Background())
	switch code {
	case resolver.CodeEmpty:
		ctx.Out.Logln("Nothing to do.")
		return nil
	case resolver.CodeError:
		for _, m := range msgs {
			ctx.Err.Logln(m)
		}
		return fmt.Errorf("dependency resolution failed")
	}

	for _, m := range msgs {
		ctx.Out.Logln("warning:", m)
	}
	printTransaction(ctx, ctx.Resolver.TxSet)
	return nil
}

var stateLabels = map[txset.TSState]string{
	txset.TSInstall: "Installing",
	txset.TSUpdate:  "Updating",
	txset.TSErase:   "Removing",
}

func printTransaction(ctx *Ctx, ts *txset.Set) {
	for _, state := range []txset.TSState{txset.TSInstall, txset.TSUpdate, txset.TSErase} {
		members := ts.GetMembers(txset.NaevrPattern{}, state)
		if len(members) == 0 {
			continue
		}
		ctx.Out.Logln(stateLabels[state] + ":")
		for _, m := range members {
			ctx.Out.Logln(" ", m.Pkg.NEVRA.String())
		}
	}
}
