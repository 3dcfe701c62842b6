// Package update implements the System Updater described in spec.md 4.9:
// a two-phase upgrade built atop internal/archive's staging mode. Stage
// extracts every new package's regular files and symlinks with a .new
// suffix alongside the old package's live files; Swap then atomically
// renames each staged file into place, after which the database is
// updated to remove the old package record and insert the new one with
// its file list.
package update

import (
	"io"
	"os"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/paktpm/pakt/internal/archive"
	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/model"
)

// Pair is one (old -> new) entry in an update plan. Old is the zero value
// when the new package is not replacing an existing install (a cold
// install riding the same staged-extraction path).
type Pair struct {
	Old model.Package
	New model.Package
}

// Staged records the staging-suffixed physical path produced for one
// extracted entry, alongside its final (unsuffixed) destination, and which
// pair it belongs to.
type Staged struct {
	Pair       Pair
	StagedPath string
	FinalPath  string
}

// Registrar is the subset of internal/transaction.Transaction the Swap
// phase needs to update the database; satisfied by *transaction.Transaction.
type Registrar interface {
	RemovePackage(name string) error
	RegisterPackage(pkg model.Package, installDate int64) error
}

// Updater runs the stage-then-swap update pipeline over an install root.
type Updater struct {
	Extractor *archive.Extractor
	Root      string
}

// New returns an Updater over the OS filesystem rooted at root.
func New(root string) *Updater {
	return &Updater{Extractor: archive.New(), Root: root}
}

// Stage extracts one pair's new-package archive in staging mode, invoking
// journal once per staged path so the caller can record it for crash
// recovery before Swap ever runs.
func (u *Updater) Stage(pair Pair, r io.Reader, journal func(path string) error) ([]Staged, error) {
	var staged []Staged
	err := u.Extractor.Extract(r, u.Root, archive.ModeStaging, func(physicalPath, _ string) error {
		if journal != nil {
			if err := journal(physicalPath); err != nil {
				return err
			}
		}
		staged = append(staged, Staged{
			Pair:       pair,
			StagedPath: physicalPath,
			FinalPath:  trimStagingSuffix(physicalPath),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return staged, nil
}

// Swap atomically renames every staged path over its final destination,
// then updates the database: the old package's record is removed (if any)
// and the new package's record, carrying the new file list, is inserted.
// The rename is atomic within a filesystem (spec.md 4.9), so at no
// observable point is a final path absent: the old file stays in place
// until the instant the new one replaces it.
func Swap(reg Registrar, staged []Staged, installDate int64) error {
	for _, s := range staged {
		if err := os.Rename(s.StagedPath, s.FinalPath); err != nil {
			return &errs.IOError{Reason: errs.ExtractionFailed, Path: s.FinalPath, Err: errors.Wrap(err, "cannot swap staged file into place")}
		}
	}

	byPair := map[string]Pair{}
	for _, s := range staged {
		byPair[s.Pair.New.Name] = s.Pair
	}
	for _, pair := range byPair {
		if pair.Old.Name != "" {
			if err := reg.RemovePackage(pair.Old.Name); err != nil {
				return err
			}
		}
		if err := reg.RegisterPackage(pair.New, installDate); err != nil {
			return err
		}
	}
	return nil
}

func trimStagingSuffix(path string) string {
	const suffix = archive.StagingSuffix
	if len(path) > len(suffix) && path[len(path)-len(suffix):] == suffix {
		return path[:len(path)-len(suffix)]
	}
	return path
}
