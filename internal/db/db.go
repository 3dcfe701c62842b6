// Package db is the relational package database described in spec.md 4.4:
// installed packages, the files they own, and their dependency/conflict/
// provision relations, backed by database/sql and an embeddable SQLite
// driver (see DESIGN.md). Every write here accepts an open *sql.Tx and
// never calls Commit or Rollback itself — that is the Transaction
// wrapper's job (internal/transaction).
package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/paktpm/pakt/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS packages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT UNIQUE NOT NULL,
	version        TEXT NOT NULL,
	arch           TEXT,
	description    TEXT,
	maintainer     TEXT,
	url            TEXT,
	licenses       TEXT,
	build_date     INTEGER,
	checksum       TEXT,
	installed_size INTEGER,
	install_date   INTEGER,
	install_reason TEXT NOT NULL,
	is_broken      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	package_id INTEGER NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
	path       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dependencies (
	package_id      INTEGER NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
	dep_name        TEXT NOT NULL,
	constraint_expr TEXT,
	type            TEXT NOT NULL
);
`

// relation types stored in the dependencies table. 'dep' and 'conflict' are
// the two spec.md 4.4 names; the rest hold the fuller model.Package shape
// (optional deps, virtual provisions, replaces, backup files) in the same
// three-table schema.
const (
	relDepend   = "dep"
	relOptional = "optional"
	relConflict = "conflict"
	relProvides = "provides"
	relReplaces = "replaces"
	relBackup   = "backup"
)

// DB wraps the open database handle.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open package database")
	}
	if _, err := conn.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "cannot enable foreign keys")
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "cannot create schema")
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// Conn exposes the open connection as a Queryer, for reads that don't need
// to run inside a DB transaction.
func (d *DB) Conn() Queryer { return d.conn }

// Begin starts a new DB transaction. The caller (internal/transaction) owns
// its lifecycle.
func (d *DB) Begin() (*sql.Tx, error) {
	tx, err := d.conn.Begin()
	return tx, errors.Wrap(err, "cannot begin database transaction")
}

// Register inserts pkg and its files/relations within tx. install_date is
// supplied by the caller so it reflects the transaction's logical clock
// rather than the database's.
func Register(tx *sql.Tx, pkg model.Package, installDate int64) error {
	res, err := tx.Exec(
		`INSERT INTO packages
			(name, version, arch, description, maintainer, url, licenses,
			 build_date, checksum, installed_size, install_date, install_reason, is_broken)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		pkg.Name, pkg.Version, pkg.Architecture, pkg.Description, pkg.Maintainer, pkg.URL,
		joinCSV(pkg.Licenses), pkg.BuildDate, pkg.Checksum, pkg.InstalledSize, installDate,
		string(pkg.InstallReason),
	)
	if err != nil {
		return errors.Wrapf(err, "cannot register package %q", pkg.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "cannot read inserted package id")
	}

	for _, f := range pkg.Files {
		if _, err := tx.Exec(`INSERT INTO files (package_id, path) VALUES (?, ?)`, id, f); err != nil {
			return errors.Wrapf(err, "cannot record file %q for %q", f, pkg.Name)
		}
	}

	insertRel := func(relType, name, constraint string) error {
		_, err := tx.Exec(
			`INSERT INTO dependencies (package_id, dep_name, constraint_expr, type) VALUES (?, ?, ?, ?)`,
			id, name, constraint, relType,
		)
		return errors.Wrapf(err, "cannot record %s relation %q for %q", relType, name, pkg.Name)
	}
	for _, d := range pkg.Depends {
		if err := insertRel(relDepend, d.Name, d.Constraint); err != nil {
			return err
		}
	}
	for _, d := range pkg.Optional {
		if err := insertRel(relOptional, d.Name, d.Constraint); err != nil {
			return err
		}
	}
	for _, c := range pkg.Conflicts {
		if err := insertRel(relConflict, c, ""); err != nil {
			return err
		}
	}
	for _, p := range pkg.Provides {
		if err := insertRel(relProvides, p, ""); err != nil {
			return err
		}
	}
	for _, r := range pkg.Replaces {
		if err := insertRel(relReplaces, r, ""); err != nil {
			return err
		}
	}
	for _, b := range pkg.Backup {
		if err := insertRel(relBackup, b, ""); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the package row named name; ON DELETE CASCADE removes its
// files and dependencies rows along with it.
func Remove(tx *sql.Tx, name string) error {
	res, err := tx.Exec(`DELETE FROM packages WHERE name = ?`, name)
	if err != nil {
		return errors.Wrapf(err, "cannot remove package %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "cannot read rows affected")
	}
	if n == 0 {
		return errors.Errorf("cannot remove package %q: not installed", name)
	}
	return nil
}

// MarkHealthy clears the is_broken flag set by the audit heal path.
func MarkHealthy(tx *sql.Tx, name string) error {
	res, err := tx.Exec(`UPDATE packages SET is_broken = 0 WHERE name = ?`, name)
	if err != nil {
		return errors.Wrapf(err, "cannot mark %q healthy", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "cannot read rows affected")
	}
	if n == 0 {
		return errors.Errorf("cannot mark %q healthy: not installed", name)
	}
	return nil
}

// MarkBroken sets the is_broken flag, used by the audit heal path.
func MarkBroken(tx *sql.Tx, name string) error {
	_, err := tx.Exec(`UPDATE packages SET is_broken = 1 WHERE name = ?`, name)
	return errors.Wrapf(err, "cannot mark %q broken", name)
}

// IsInstalled reports whether name is currently registered.
func IsInstalled(q Queryer, name string) (bool, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(1) FROM packages WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "cannot check install state of %q", name)
	}
	return n > 0, nil
}

// Get returns the fully populated package named name, or (Package{}, false)
// if it is not installed.
func Get(q Queryer, name string) (model.Package, bool, error) {
	row := q.QueryRow(
		`SELECT id, name, version, arch, description, maintainer, url, licenses,
		        build_date, checksum, installed_size, install_reason, is_broken
		 FROM packages WHERE name = ?`, name)

	pkg, id, found, err := scanPackageRow(row.Scan)
	if err != nil || !found {
		return model.Package{}, false, err
	}

	if err := loadFiles(q, id, &pkg); err != nil {
		return model.Package{}, false, err
	}
	if err := loadRelations(q, id, &pkg); err != nil {
		return model.Package{}, false, err
	}
	return pkg, true, nil
}

// ListAll returns every installed package with its files and relations
// fully populated, using three queries joined in memory by package id —
// never one query per package — so that callers iterating the whole
// database (e.g. list, audit) never pay an N+1 cost.
func ListAll(q Queryer) ([]model.Package, error) {
	rows, err := q.Query(
		`SELECT id, name, version, arch, description, maintainer, url, licenses,
		        build_date, checksum, installed_size, install_reason, is_broken
		 FROM packages ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "cannot list packages")
	}
	defer rows.Close()

	byID := map[int64]*model.Package{}
	var order []int64
	for rows.Next() {
		pkg, id, _, err := scanPackageRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		byID[id] = &pkg
		order = append(order, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot list packages")
	}

	if err := attachFiles(q, byID); err != nil {
		return nil, err
	}
	if err := attachRelations(q, byID); err != nil {
		return nil, err
	}

	out := make([]model.Package, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// ListBroken returns every package currently flagged is_broken.
func ListBroken(q Queryer) ([]model.Package, error) {
	all, err := ListAll(q)
	if err != nil {
		return nil, err
	}
	var broken []model.Package
	for _, p := range all {
		if p.Broken {
			broken = append(broken, p)
		}
	}
	return broken, nil
}

// Queryer is satisfied by both *sql.DB and *sql.Tx, so reads can run either
// inside or outside a transaction.
type Queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func scanPackageRow(scan func(dest ...any) error) (model.Package, int64, bool, error) {
	var (
		id       int64
		pkg      model.Package
		licenses string
		broken   int
	)
	err := scan(&id, &pkg.Name, &pkg.Version, &pkg.Architecture, &pkg.Description,
		&pkg.Maintainer, &pkg.URL, &licenses, &pkg.BuildDate, &pkg.Checksum,
		&pkg.InstalledSize, &pkg.InstallReason, &broken)
	if err == sql.ErrNoRows {
		return model.Package{}, 0, false, nil
	}
	if err != nil {
		return model.Package{}, 0, false, errors.Wrap(err, "cannot scan package row")
	}
	pkg.Licenses = splitCSV(licenses)
	pkg.Broken = broken != 0
	return pkg, id, true, nil
}

func loadFiles(q Queryer, id int64, pkg *model.Package) error {
	rows, err := q.Query(`SELECT path FROM files WHERE package_id = ? ORDER BY path`, id)
	if err != nil {
		return errors.Wrapf(err, "cannot load files for %q", pkg.Name)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return errors.Wrap(err, "cannot scan file row")
		}
		pkg.Files = append(pkg.Files, p)
	}
	return errors.Wrap(rows.Err(), "cannot load files")
}

func loadRelations(q Queryer, id int64, pkg *model.Package) error {
	rows, err := q.Query(`SELECT dep_name, constraint_expr, type FROM dependencies WHERE package_id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "cannot load relations for %q", pkg.Name)
	}
	defer rows.Close()
	for rows.Next() {
		var name, constraint, relType string
		if err := rows.Scan(&name, &constraint, &relType); err != nil {
			return errors.Wrap(err, "cannot scan dependency row")
		}
		applyRelation(pkg, relType, name, constraint)
	}
	return errors.Wrap(rows.Err(), "cannot load relations")
}

// attachFiles and attachRelations are the bulk variants used by ListAll: one
// query each across every package, grouped in memory, instead of one query
// per package.
func attachFiles(q Queryer, byID map[int64]*model.Package) error {
	rows, err := q.Query(`SELECT package_id, path FROM files ORDER BY package_id, path`)
	if err != nil {
		return errors.Wrap(err, "cannot load files")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var p string
		if err := rows.Scan(&id, &p); err != nil {
			return errors.Wrap(err, "cannot scan file row")
		}
		if pkg, ok := byID[id]; ok {
			pkg.Files = append(pkg.Files, p)
		}
	}
	return errors.Wrap(rows.Err(), "cannot load files")
}

func attachRelations(q Queryer, byID map[int64]*model.Package) error {
	rows, err := q.Query(`SELECT package_id, dep_name, constraint_expr, type FROM dependencies`)
	if err != nil {
		return errors.Wrap(err, "cannot load relations")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name, constraint, relType string
		if err := rows.Scan(&id, &name, &constraint, &relType); err != nil {
			return errors.Wrap(err, "cannot scan dependency row")
		}
		if pkg, ok := byID[id]; ok {
			applyRelation(pkg, relType, name, constraint)
		}
	}
	return errors.Wrap(rows.Err(), "cannot load relations")
}

func applyRelation(pkg *model.Package, relType, name, constraint string) {
	switch relType {
	case relDepend:
		pkg.Depends = append(pkg.Depends, model.Dependency{Name: name, Constraint: constraint})
	case relOptional:
		pkg.Optional = append(pkg.Optional, model.Dependency{Name: name, Constraint: constraint})
	case relConflict:
		pkg.Conflicts = append(pkg.Conflicts, name)
	case relProvides:
		pkg.Provides = append(pkg.Provides, name)
	case relReplaces:
		pkg.Replaces = append(pkg.Replaces, name)
	case relBackup:
		pkg.Backup = append(pkg.Backup, name)
	}
}

func joinCSV(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
