package main

import (
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/layout"
	"github.com/paktpm/pakt/internal/transaction"
)

// RecoverCmd implements "pakt recover" (spec.md 4.7): run the
// crash-recovery protocol manually. No other command recovers on its own:
// each one that meets errs.ErrPendingRecovery exits with code 2 and asks the
// operator to run this first.
type RecoverCmd struct{}

func (c *RecoverCmd) Run(g *Globals, log logging.Logger) error {
	paths := layout.New(g.Root)
	return transaction.Recover(paths.DBPath(), paths.StateDir(), log)
}
