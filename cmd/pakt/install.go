package main

import (
	"context"
	"fmt"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/archive"
	"github.com/paktpm/pakt/internal/db"
	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/layout"
	"github.com/paktpm/pakt/internal/model"
	"github.com/paktpm/pakt/internal/solver"
	"github.com/paktpm/pakt/internal/transaction"
	"github.com/paktpm/pakt/internal/validate"
)

// InstallCmd implements "pakt install <name>" (spec.md 6): resolve,
// download, and install a package and every dependency it pulls in.
type InstallCmd struct {
	Name string `arg:"" help:"Package name to install."`
}

// Run follows spec.md 2's install data flow: open the transaction, load
// repo indices, solve, validate, fetch, run pre-hooks, extract+journal+
// register each planned package, commit, then run post-hooks.
func (c *InstallCmd) Run(g *Globals, log logging.Logger) error {
	ctx := context.Background()
	paths := layout.New(g.Root)

	txn, err := transaction.Open(paths.DBPath(), paths.StateDir(), log)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = txn.Rollback()
		}
	}()

	available, source, err := loadAvailablePackages(paths, g, log)
	if err != nil {
		return err
	}

	installedPkgs, err := db.ListAll(txn.Tx())
	if err != nil {
		return err
	}
	installedNames := make(map[string]bool, len(installedPkgs))
	for _, p := range installedPkgs {
		installedNames[p.Name] = true
	}

	alreadyInstalled := installedNames[c.Name]
	if alreadyInstalled && !g.Force {
		return errs.ErrAlreadyInstalled
	}

	// --force bypasses the install-idempotence check (spec.md 6): drop the
	// target from the set the solver treats as already-satisfied so a
	// reinstall produces a real plan instead of resolving to a no-op.
	solverInstalled := installedNames
	if alreadyInstalled {
		solverInstalled = make(map[string]bool, len(installedNames))
		for name := range installedNames {
			if name != c.Name {
				solverInstalled[name] = true
			}
		}
	}

	s := solver.New(available, solverInstalled)
	plan, err := s.Resolve(c.Name)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		fmt.Println("nothing to do:", c.Name, "is already installed")
		return txn.Rollback()
	}

	chain := validate.Chain{validate.ConflictValidator{}}
	if err := chain.Validate(plan, installedPkgs); err != nil {
		return err
	}
	removals := validate.Scheduled(plan, installedPkgs)

	hookEngine, err := loadHooks(paths, log)
	if err != nil {
		return err
	}
	if err := hookEngine.Run(model.PreTransaction, model.OpInstall, plan); err != nil {
		return err
	}

	fetcher := newFetcher(paths, g, log)
	now := time.Now().Unix()

	for _, name := range removals {
		if err := txn.RemovePackage(name); err != nil {
			return err
		}
	}
	if alreadyInstalled {
		if err := txn.RemovePackage(c.Name); err != nil {
			return err
		}
	}

	x := archive.New()
	for _, pkg := range plan {
		if solverInstalled[pkg.Name] {
			continue
		}

		f, err := fetchPackageArchive(ctx, fetcher, source, pkg, g)
		if err != nil {
			return err
		}
		err = x.Extract(f, g.Root, archive.ModeDirect, func(physical, _ string) error {
			return txn.AppendJournal(physical)
		})
		f.Close()
		if err != nil {
			return err
		}

		pkg.InstallReason = model.ReasonDependency
		if pkg.Name == c.Name {
			pkg.InstallReason = model.ReasonExplicit
		}
		if err := txn.RegisterPackage(pkg, now); err != nil {
			return err
		}
	}

	if err := txn.Commit(); err != nil {
		return err
	}
	committed = true

	if err := hookEngine.Run(model.PostTransaction, model.OpInstall, plan); err != nil {
		log.Info("post-transaction hook reported a failure", "error", err)
	}

	log.Info("install complete", "package", c.Name, "plan_size", len(plan))
	return nil
}
