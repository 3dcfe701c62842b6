package main

import (
	"fmt"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/db"
	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/layout"
	"github.com/paktpm/pakt/internal/model"
)

// RemoveCmd implements "pakt remove <name>" (spec.md 6). Reverse-dependency
// protection is advisory in v1 (spec.md 9 Open Questions): a warning is
// printed for every installed package that still depends on the target,
// but removal is not blocked.
type RemoveCmd struct {
	Name string `arg:"" help:"Package name to remove."`
}

func (c *RemoveCmd) Run(g *Globals, log logging.Logger) error {
	paths := layout.New(g.Root)

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

	var target *model.Package
	for i := range installed {
		if installed[i].Name == c.Name {
			target = &installed[i]
		}
	}
	if target == nil {
		return errs.ErrNotInstalled
	}

	for _, p := range installed {
		if p.Name == c.Name {
			continue
		}
		for _, d := range p.Depends {
			if d.Name == c.Name {
				fmt.Printf("warning: %s depends on %s\n", p.Name, c.Name)
			}
		}
	}

	hookEngine, err := loadHooks(paths, log)
	if err != nil {
		return err
	}
	plan := []model.Package{*target}
	if err := hookEngine.Run(model.PreTransaction, model.OpRemove, plan); err != nil {
		return err
	}

	if err := txn.RemovePackage(c.Name); err != nil {
		return err
	}
	for _, f := range target.Files {
		if isBackup(target.Backup, f) {
			continue
		}
		removeInstalledFile(g.Root, f, log)
	}

	if err := txn.Commit(); err != nil {
		return err
	}
	committed = true

	if err := hookEngine.Run(model.PostTransaction, model.OpRemove, plan); err != nil {
		log.Info("post-transaction hook reported a failure", "error", err)
	}

	log.Info("remove complete", "package", c.Name)
	return nil
}

func isBackup(backup []string, path string) bool {
	for _, b := range backup {
		if b == path {
			return true
		}
	}
	return false
}
