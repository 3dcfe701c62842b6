package audit

import (
	"path/filepath"
	"testing"

	"github.com/paktpm/pakt/internal/db"
	"github.com/paktpm/pakt/internal/model"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "packages.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func register(t *testing.T, d *db.DB, pkg model.Package) {
	t.Helper()
	tx, err := d.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Register(tx, pkg, 1); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestScanFlagsMissingDependencyAsBroken(t *testing.T) {
	d := openTestDB(t)
	register(t, d, model.Package{
		Name:    "foo",
		Version: "1.0",
		Depends: []model.Dependency{{Name: "missing-lib"}},
	})

	reports, err := Scan(d.Conn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 || !reports[0].Broken {
		t.Fatalf("expected foo to be reported broken, got %+v", reports)
	}
}

func TestScanSatisfiedDependencyIsNotBroken(t *testing.T) {
	d := openTestDB(t)
	register(t, d, model.Package{Name: "lib", Version: "1.0"})
	register(t, d, model.Package{
		Name:    "foo",
		Version: "1.0",
		Depends: []model.Dependency{{Name: "lib"}},
	})

	reports, err := Scan(d.Conn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range reports {
		if r.Package.Name == "foo" && r.Broken {
			t.Fatalf("expected foo to be healthy, got %+v", r)
		}
	}
}

func TestScanFlagsConflictAsBroken(t *testing.T) {
	d := openTestDB(t)
	register(t, d, model.Package{Name: "nano", Version: "1.0"})
	register(t, d, model.Package{Name: "vim", Version: "1.0", Conflicts: []string{"nano"}})

	reports, err := Scan(d.Conn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byName := map[string]bool{}
	for _, r := range reports {
		byName[r.Package.Name] = r.Broken
	}
	if !byName["vim"] {
		t.Fatalf("expected vim to be broken (forward conflict), got %+v", reports)
	}
}

func TestHealUpdatesStoredBrokenFlag(t *testing.T) {
	d := openTestDB(t)
	register(t, d, model.Package{
		Name:    "foo",
		Version: "1.0",
		Depends: []model.Dependency{{Name: "missing-lib"}},
	})

	reports, err := Scan(d.Conn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Heal(d, reports); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pkg, ok, err := db.Get(d.Conn(), "foo")
	if err != nil || !ok {
		t.Fatalf("expected to find foo: %v %v", ok, err)
	}
	if !pkg.Broken {
		t.Fatal("expected stored broken flag to be set after heal")
	}

	// Installing the missing dependency and re-auditing should clear it.
	register(t, d, model.Package{Name: "missing-lib", Version: "1.0"})
	reports, err = Scan(d.Conn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Heal(d, reports); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pkg, ok, err = db.Get(d.Conn(), "foo")
	if err != nil || !ok {
		t.Fatalf("expected to find foo: %v %v", ok, err)
	}
	if pkg.Broken {
		t.Fatal("expected broken flag to clear once dependency is satisfied")
	}
}
