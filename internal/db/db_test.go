package db

import (
	"path/filepath"
	"testing"

	"github.com/paktpm/pakt/internal/model"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packages.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func samplePackage() model.Package {
	return model.Package{
		Name:          "bash",
		Version:       "5.2",
		Architecture:  "x86_64",
		Description:   "the GNU shell",
		Maintainer:    "pakt",
		Licenses:      []string{"GPL-3.0"},
		Depends:       []model.Dependency{{Name: "glibc", Constraint: ">=2.30"}},
		Optional:      []model.Dependency{{Name: "bash-completion"}},
		Conflicts:     []string{"dash-as-bin-sh"},
		Provides:      []string{"sh"},
		Replaces:      []string{"ash"},
		Backup:        []string{"/etc/bash.bashrc"},
		Files:         []string{"/usr/bin/bash", "/usr/share/man/man1/bash.1"},
		Checksum:      "deadbeef",
		InstalledSize: 4096,
		InstallReason: model.ReasonExplicit,
	}
}

func TestRegisterGetRemove(t *testing.T) {
	d := openTest(t)
	pkg := samplePackage()

	tx, err := d.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := Register(tx, pkg, 1000); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	installed, err := IsInstalled(d.conn, "bash")
	if err != nil {
		t.Fatalf("IsInstalled: %v", err)
	}
	if !installed {
		t.Fatal("expected bash to be installed")
	}

	got, found, err := Get(d.conn, "bash")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected to find bash")
	}
	if got.Version != "5.2" || len(got.Files) != 2 || len(got.Depends) != 1 ||
		got.Depends[0].Name != "glibc" || got.Depends[0].Constraint != ">=2.30" ||
		len(got.Conflicts) != 1 || got.Conflicts[0] != "dash-as-bin-sh" ||
		len(got.Provides) != 1 || got.Provides[0] != "sh" ||
		len(got.Replaces) != 1 || got.Replaces[0] != "ash" ||
		len(got.Optional) != 1 || got.Optional[0].Name != "bash-completion" ||
		len(got.Backup) != 1 || got.Backup[0] != "/etc/bash.bashrc" {
		t.Fatalf("round-tripped package mismatch: %+v", got)
	}
	if got.Broken {
		t.Fatal("freshly registered package should not be broken")
	}

	tx2, err := d.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := Remove(tx2, "bash"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	installed, err = IsInstalled(d.conn, "bash")
	if err != nil {
		t.Fatalf("IsInstalled: %v", err)
	}
	if installed {
		t.Fatal("expected bash to be removed")
	}
	if _, found, err := Get(d.conn, "bash"); err != nil || found {
		t.Fatalf("expected bash to be gone, found=%v err=%v", found, err)
	}
}

func TestRemoveCascadesFilesAndDependencies(t *testing.T) {
	d := openTest(t)
	pkg := samplePackage()

	tx, _ := d.Begin()
	if err := Register(tx, pkg, 1000); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tx.Commit()

	tx2, _ := d.Begin()
	if err := Remove(tx2, "bash"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	tx2.Commit()

	var n int
	if err := d.conn.QueryRow(`SELECT COUNT(1) FROM files`).Scan(&n); err != nil {
		t.Fatalf("count files: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected cascaded file rows to be gone, found %d", n)
	}
	if err := d.conn.QueryRow(`SELECT COUNT(1) FROM dependencies`).Scan(&n); err != nil {
		t.Fatalf("count dependencies: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected cascaded dependency rows to be gone, found %d", n)
	}
}

func TestMarkBrokenAndListBroken(t *testing.T) {
	d := openTest(t)
	tx, _ := d.Begin()
	Register(tx, samplePackage(), 1000)
	tx.Commit()

	tx2, _ := d.Begin()
	if err := MarkBroken(tx2, "bash"); err != nil {
		t.Fatalf("MarkBroken: %v", err)
	}
	tx2.Commit()

	broken, err := ListBroken(d.conn)
	if err != nil {
		t.Fatalf("ListBroken: %v", err)
	}
	if len(broken) != 1 || broken[0].Name != "bash" {
		t.Fatalf("expected [bash] broken, got %v", broken)
	}

	tx3, _ := d.Begin()
	if err := MarkHealthy(tx3, "bash"); err != nil {
		t.Fatalf("MarkHealthy: %v", err)
	}
	tx3.Commit()

	broken, err = ListBroken(d.conn)
	if err != nil {
		t.Fatalf("ListBroken: %v", err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected no broken packages, got %v", broken)
	}
}

func TestListAllNoNPlusOne(t *testing.T) {
	d := openTest(t)
	tx, _ := d.Begin()
	Register(tx, samplePackage(), 1000)
	second := samplePackage()
	second.Name = "zsh"
	second.Depends = []model.Dependency{{Name: "glibc"}}
	second.Conflicts = nil
	second.Provides = nil
	second.Replaces = nil
	second.Optional = nil
	second.Backup = nil
	second.Files = []string{"/usr/bin/zsh"}
	Register(tx, second, 1001)
	tx.Commit()

	all, err := ListAll(d.conn)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(all))
	}
	if all[0].Name != "bash" || all[1].Name != "zsh" {
		t.Fatalf("expected alphabetical order, got %s, %s", all[0].Name, all[1].Name)
	}
	if len(all[0].Files) != 2 || len(all[1].Files) != 1 {
		t.Fatalf("files not populated per package: %+v", all)
	}
}

func TestRemoveNotInstalled(t *testing.T) {
	d := openTest(t)
	tx, _ := d.Begin()
	err := Remove(tx, "ghost")
	tx.Rollback()
	if err == nil {
		t.Fatal("expected error removing a package that was never installed")
	}
}
