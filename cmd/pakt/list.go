package main

import (
	"fmt"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/db"
	"github.com/paktpm/pakt/internal/layout"
)

// ListCmd implements "pakt list" (spec.md 6): enumerate installed packages.
type ListCmd struct{}

func (c *ListCmd) Run(g *Globals, log logging.Logger) error {
	paths := layout.New(g.Root)

	d, err := db.Open(paths.DBPath())
	if err != nil {
		return err
	}
	defer d.Close()

	pkgs, err := db.ListAll(d.Conn())
	if err != nil {
		return err
	}

	for _, p := range pkgs {
		status := ""
		if p.Broken {
			status = " (broken)"
		}
		fmt.Printf("%-24s %-16s %s%s\n", p.Name, p.Version, p.InstallReason, status)
	}
	return nil
}
