package main

import (
	"context"
	"fmt"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/config"
	"github.com/paktpm/pakt/internal/layout"
	"github.com/paktpm/pakt/internal/model"
	"github.com/paktpm/pakt/internal/repo"
)

// SyncCmd implements "pakt sync" (spec.md 6): refresh every enabled
// repository's index.
type SyncCmd struct{}

func (c *SyncCmd) Run(g *Globals, log logging.Logger) error {
	paths := layout.New(g.Root)

	repos, err := config.LoadRepoList(paths.RepoList())
	if err != nil {
		return err
	}

	var enabled []model.Repository
	for _, r := range repos {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	fetcher := newFetcher(paths, g, log)
	results := fetcher.SyncAll(context.Background(), enabled)

	failed := 0
	for _, r := range results {
		switch r.Status {
		case repo.Signed:
			fmt.Printf("%-16s %s\n", r.Repo.ID, "up to date")
		default:
			failed++
			fmt.Printf("%-16s %s: %v\n", r.Repo.ID, "failed", r.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d repositories failed to sync", failed, len(results))
	}
	return nil
}
