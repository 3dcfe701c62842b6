package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/config"
	"github.com/paktpm/pakt/internal/hooks"
	"github.com/paktpm/pakt/internal/layout"
	"github.com/paktpm/pakt/internal/model"
	"github.com/paktpm/pakt/internal/repo"
	"github.com/paktpm/pakt/internal/transaction"
)

// loadAvailablePackages loads the repolist, fetches (or, with
// --skip-download, reuses the cached copy of) every enabled repository's
// index, and returns the flattened package set for the solver plus the
// repository each package name was first seen from.
func loadAvailablePackages(paths layout.Paths, g *Globals, log logging.Logger) ([]model.Package, map[string]model.Repository, error) {
	repos, err := config.LoadRepoList(paths.RepoList())
	if err != nil {
		return nil, nil, err
	}

	fetcher := newFetcher(paths, g, log)

	var enabled []model.Repository
	for _, r := range repos {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	if !g.SkipDownload {
		results := fetcher.SyncAll(context.Background(), enabled)
		for _, res := range results {
			if res.Status != repo.Signed {
				log.Info("repository sync failed, falling back to cache if present", "repo", res.Repo.ID, "error", res.Err)
			}
		}
	}

	var available []model.Package
	source := map[string]model.Repository{}
	for _, r := range enabled {
		idx, err := fetcher.LoadCached(r.ID)
		if err != nil {
			log.Info("no usable index for repository", "repo", r.ID, "error", err)
			continue
		}
		for _, p := range idx.Packages {
			if _, ok := source[p.Name]; !ok {
				source[p.Name] = r
			}
			available = append(available, p)
		}
	}
	return available, source, nil
}

// openTxn opens a Transaction over paths, translating a leftover journal
// into the caller-visible errs.ErrPendingRecovery (already the error
// transaction.Open returns; this wrapper exists purely so every command
// reads the same one-line call).
func openTxn(paths layout.Paths, log logging.Logger) (*transaction.Transaction, error) {
	return transaction.Open(paths.DBPath(), paths.StateDir(), log)
}

// removeInstalledFile deletes the install-root-relative path p (as stored
// in a package's Files list) from disk, logging rather than failing the
// whole removal if a single file is already gone.
func removeInstalledFile(root, p string, log logging.Logger) {
	full := filepath.Join(root, p)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		log.Info("could not remove file during package removal", "path", full, "error", err)
	}
}

// newFetcher returns a repo.Fetcher caching indices under the state
// directory and package archives under the cache directory (spec.md 6),
// honoring --skip-gpg.
func newFetcher(paths layout.Paths, g *Globals, log logging.Logger) *repo.Fetcher {
	return repo.New(paths.IndexDir(), paths.CacheDir(), g.SkipGPG, log)
}

// loadHooks loads the system and user hook directories into a ready
// Engine.
func loadHooks(paths layout.Paths, log logging.Logger) (*hooks.Engine, error) {
	loaded, err := hooks.Load(paths.SystemHooksDir(), paths.UserHooksDir())
	if err != nil {
		return nil, err
	}
	return hooks.New(loaded, log), nil
}

// archiveFileName is the conventional package archive name derived from a
// package's manifest fields.
func archiveFileName(pkg model.Package) string {
	return fmt.Sprintf("%s-%s-%s.pkg.tar.gz", pkg.Name, pkg.Version, pkg.Architecture)
}

// fetchPackageArchive resolves the local path to pkg's archive, downloading
// it from its source repository unless --skip-download is set (in which
// case a missing cached copy is an error).
func fetchPackageArchive(ctx context.Context, fetcher *repo.Fetcher, source map[string]model.Repository, pkg model.Package, g *Globals) (*os.File, error) {
	r, ok := source[pkg.Name]
	if !ok {
		return nil, errors.Errorf("no repository provides package %q", pkg.Name)
	}
	filename := archiveFileName(pkg)

	if g.SkipDownload {
		path, err := fetcher.CachedPackagePath(r, filename)
		if err != nil {
			return nil, errors.Wrapf(err, "no cached archive for %q and --skip-download was given", pkg.Name)
		}
		return os.Open(path)
	}

	path, err := fetcher.DownloadPackage(ctx, r, filename, pkg.Checksum)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}
