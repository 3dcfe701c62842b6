package main

import (
	"fmt"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/audit"
	"github.com/paktpm/pakt/internal/db"
	"github.com/paktpm/pakt/internal/layout"
)

// AuditCmd implements "pakt audit" (spec.md 6 / SPEC_FULL.md 4.12): scan the
// installed set for broken dependency/conflict state and print which
// packages would change. The stored broken flag is only reconciled to match
// when --yes is given; otherwise the command reports what would change and
// exits without writing anything.
type AuditCmd struct{}

func (c *AuditCmd) Run(g *Globals, log logging.Logger) error {
	paths := layout.New(g.Root)

	d, err := db.Open(paths.DBPath())
	if err != nil {
		return err
	}
	defer d.Close()

	reports, err := audit.Scan(d.Conn())
	if err != nil {
		return err
	}

	changed := 0
	for _, r := range reports {
		if r.Broken != r.Package.Broken {
			changed++
			state := "healthy"
			if r.Broken {
				state = "broken"
			}
			fmt.Printf("%-24s now %s\n", r.Package.Name, state)
		}
	}

	if changed == 0 {
		fmt.Println("audit: no changes")
		return nil
	}

	if !g.Yes {
		fmt.Printf("audit: %d package(s) would change state; re-run with --yes to apply\n", changed)
		return nil
	}

	if err := audit.Heal(d, reports); err != nil {
		return err
	}
	log.Info("audit complete", "packages_changed", changed)
	return nil
}
