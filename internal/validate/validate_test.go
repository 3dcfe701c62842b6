package validate

import (
	"testing"

	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/model"
)

func TestConflictForward(t *testing.T) {
	// Installed {nano}. Repo has vim conflicts=[nano]. install vim.
	installed := []model.Package{{Name: "nano", Version: "1.0"}}
	plan := []model.Package{{Name: "vim", Version: "1.0", Conflicts: []string{"nano"}}}

	err := (ConflictValidator{}).Validate(plan, installed)
	ce, ok := err.(*errs.ConflictError)
	if !ok {
		t.Fatalf("expected *errs.ConflictError, got %T: %v", err, err)
	}
	if ce.Direction != errs.ConflictForward || ce.New != "vim" || ce.Installed != "nano" {
		t.Fatalf("unexpected conflict error: %+v", ce)
	}
}

func TestConflictReverse(t *testing.T) {
	// Installed {vim conflicts=[nano]}. Repo has nano. install nano.
	installed := []model.Package{{Name: "vim", Version: "1.0", Conflicts: []string{"nano"}}}
	plan := []model.Package{{Name: "nano", Version: "1.0"}}

	err := (ConflictValidator{}).Validate(plan, installed)
	ce, ok := err.(*errs.ConflictError)
	if !ok {
		t.Fatalf("expected *errs.ConflictError, got %T: %v", err, err)
	}
	if ce.Direction != errs.ConflictReverse || ce.New != "nano" || ce.Installed != "vim" {
		t.Fatalf("unexpected conflict error: %+v", ce)
	}
}

func TestConflictReplacesIsNotAnError(t *testing.T) {
	installed := []model.Package{{Name: "nano", Version: "1.0"}}
	plan := []model.Package{{Name: "vim", Version: "1.0", Conflicts: []string{"nano"}, Replaces: []string{"nano"}}}

	if err := (ConflictValidator{}).Validate(plan, installed); err != nil {
		t.Fatalf("expected no error when replacing the conflicting package, got %v", err)
	}

	removals := Scheduled(plan, installed)
	if len(removals) != 1 || removals[0] != "nano" {
		t.Fatalf("expected nano scheduled for removal, got %v", removals)
	}
}

func TestNoConflictNoError(t *testing.T) {
	installed := []model.Package{{Name: "bash", Version: "1.0"}}
	plan := []model.Package{{Name: "zsh", Version: "1.0"}}

	if err := (ConflictValidator{}).Validate(plan, installed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChainFailsFast(t *testing.T) {
	installed := []model.Package{{Name: "nano", Version: "1.0"}}
	plan := []model.Package{{Name: "vim", Version: "1.0", Conflicts: []string{"nano"}}}

	chain := Chain{ConflictValidator{}}
	if err := chain.Validate(plan, installed); err == nil {
		t.Fatal("expected chain to surface the conflict error")
	}
}
