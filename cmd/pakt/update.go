package main

import (
	"context"
	"fmt"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/db"
	"github.com/paktpm/pakt/internal/layout"
	"github.com/paktpm/pakt/internal/model"
	"github.com/paktpm/pakt/internal/solver"
	"github.com/paktpm/pakt/internal/update"
	"github.com/paktpm/pakt/internal/validate"
	"github.com/paktpm/pakt/internal/version"
)

// UpdateCmd implements "pakt update" (spec.md 6 / SPEC_FULL.md 4.9): plan
// and apply every available version upgrade for the installed set, via the
// stage-then-swap system updater.
type UpdateCmd struct{}

func (c *UpdateCmd) Run(g *Globals, log logging.Logger) error {
	ctx := context.Background()
	paths := layout.New(g.Root)

	available, source, err := loadAvailablePackages(paths, g, log)
	if err != nil {
		return err
	}

	txn, err := openTxn(paths, log)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = txn.Rollback()
		}
	}()

	installed, err := db.ListAll(txn.Tx())
	if err != nil {
		return err
	}
	installedNames := make(map[string]bool, len(installed))
	byName := make(map[string]model.Package, len(installed))
	for _, p := range installed {
		installedNames[p.Name] = true
		byName[p.Name] = p
	}

	s := solver.New(available, installedNames)

	var pairs []update.Pair
	for _, old := range installed {
		cand, ok := s.Available(old.Name)
		if !ok || !version.IsNewer(old.Version, cand.Version) {
			continue
		}
		pairs = append(pairs, update.Pair{Old: old, New: cand})
	}
	if len(pairs) == 0 {
		fmt.Println("nothing to do: every installed package is up to date")
		return txn.Rollback()
	}

	plan := make([]model.Package, 0, len(pairs))
	for _, pr := range pairs {
		plan = append(plan, pr.New)
	}
	chain := validate.Chain{validate.ConflictValidator{}}
	if err := chain.Validate(plan, installed); err != nil {
		return err
	}

	hookEngine, err := loadHooks(paths, log)
	if err != nil {
		return err
	}
	if err := hookEngine.Run(model.PreTransaction, model.OpUpgrade, plan); err != nil {
		return err
	}

	fetcher := newFetcher(paths, g, log)
	u := update.New(g.Root)
	now := time.Now().Unix()

	var allStaged []update.Staged
	for _, pr := range pairs {
		f, err := fetchPackageArchive(ctx, fetcher, source, pr.New, g)
		if err != nil {
			return err
		}
		staged, err := u.Stage(pr, f, txn.AppendJournal)
		f.Close()
		if err != nil {
			return err
		}
		allStaged = append(allStaged, staged...)
	}

	if err := update.Swap(txn, allStaged, now); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return err
	}
	committed = true

	if err := hookEngine.Run(model.PostTransaction, model.OpUpgrade, plan); err != nil {
		log.Info("post-transaction hook reported a failure", "error", err)
	}

	for _, pr := range pairs {
		fmt.Printf("%-20s %s -> %s\n", pr.New.Name, pr.Old.Version, pr.New.Version)
	}
	log.Info("update complete", "packages_updated", len(pairs))
	return nil
}
