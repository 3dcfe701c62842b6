// Package transaction composes the Lock, the package database transaction,
// and the file journal into the single-writer unit of work described in
// spec.md 4.6: open acquires exclusive access and a clean slate, every
// mutating step rides inside one DB transaction, commit and rollback each
// leave the install root in a state with no journal file outstanding.
package transaction

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/paktpm/pakt/internal/db"
	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/journal"
	"github.com/paktpm/pakt/internal/lock"
	"github.com/paktpm/pakt/internal/model"
)

// Transaction is the single unit of work permitted against an install root
// at any one time.
type Transaction struct {
	log logging.Logger

	dbPath string
	lk     *lock.Lock
	dbase  *db.DB
	tx     *sql.Tx
	jrn    *journal.Journal

	appended []string
	done     bool
}

// Open acquires the install root's lock, refuses if a journal from an
// interrupted transaction is still present (the caller must Recover
// first), and otherwise begins a fresh DB transaction behind a new, empty
// journal.
func Open(dbPath, stateDir string, log logging.Logger) (*Transaction, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	lk, err := lock.Acquire(lock.Path(stateDir))
	if err != nil {
		return nil, err
	}

	if journal.Exists(dbPath) {
		_ = lk.Release()
		return nil, errs.ErrPendingRecovery
	}

	jrn, err := journal.Create(dbPath)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}

	dbase, err := db.Open(dbPath)
	if err != nil {
		_ = jrn.Delete()
		_ = lk.Release()
		return nil, err
	}

	sqlTx, err := dbase.Begin()
	if err != nil {
		_ = dbase.Close()
		_ = jrn.Delete()
		_ = lk.Release()
		return nil, err
	}

	log.Debug("transaction opened", "db", dbPath)
	return &Transaction{
		log:    log,
		dbPath: dbPath,
		lk:     lk,
		dbase:  dbase,
		tx:     sqlTx,
		jrn:    jrn,
	}, nil
}

// AppendJournal records one physical path that the installer has just
// written, making it durable before it is considered part of the
// transaction's footprint.
func (t *Transaction) AppendJournal(path string) error {
	if err := t.jrn.Append(path); err != nil {
		return err
	}
	t.appended = append(t.appended, path)
	return nil
}

// RegisterPackage records a newly installed package within the active DB
// transaction.
func (t *Transaction) RegisterPackage(pkg model.Package, installDate int64) error {
	return db.Register(t.tx, pkg, installDate)
}

// RemovePackage removes an installed package's record within the active DB
// transaction.
func (t *Transaction) RemovePackage(name string) error {
	return db.Remove(t.tx, name)
}

// MarkHealthy clears a package's broken flag within the active DB
// transaction.
func (t *Transaction) MarkHealthy(name string) error {
	return db.MarkHealthy(t.tx, name)
}

// MarkBroken sets a package's broken flag within the active DB transaction.
func (t *Transaction) MarkBroken(name string) error {
	return db.MarkBroken(t.tx, name)
}

// Tx exposes the underlying DB transaction so db.Queryer-shaped reads (get,
// list_all) can run against in-flight state before commit.
func (t *Transaction) Tx() *sql.Tx { return t.tx }

// Commit finalizes the transaction. The journal is deleted before the DB
// transaction commits: a crash between the two steps leaves no journal
// behind to misdirect a future recovery into deleting files this
// transaction legitimately installed. See DESIGN.md for the full rationale.
func (t *Transaction) Commit() error {
	if t.done {
		return errors.New("transaction already finalized")
	}
	t.done = true
	defer t.lk.Release()
	defer t.dbase.Close()

	if err := t.jrn.Delete(); err != nil {
		_ = t.tx.Rollback()
		return errors.Wrap(err, "cannot delete journal on commit")
	}
	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, "cannot commit database transaction")
	}
	t.log.Debug("transaction committed", "db", t.dbPath)
	return nil
}

// Rollback aborts the transaction: the DB transaction is discarded, every
// journaled path is deleted if present, now-empty parent directories are
// pruned, and the journal itself is removed.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.lk.Release()
	defer t.dbase.Close()

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.log.Info("rollback: database rollback failed", "error", err)
	}

	deletePaths(t.log, t.appended)

	if err := t.jrn.Delete(); err != nil {
		return errors.Wrap(err, "cannot delete journal on rollback")
	}
	t.log.Debug("transaction rolled back", "db", t.dbPath)
	return nil
}

// Recover runs the crash-recovery protocol described in spec.md 4.7: it
// acquires the lock, deletes every file named in a leftover journal, and
// removes the journal, restoring the pre-transaction state. Call this when
// Open returns errs.ErrPendingRecovery.
func Recover(dbPath, stateDir string, log logging.Logger) error {
	if log == nil {
		log = logging.NewNopLogger()
	}

	lk, err := lock.Acquire(lock.Path(stateDir))
	if err != nil {
		return err
	}
	defer lk.Release()

	lines, err := journal.ReadLines(dbPath)
	if err != nil {
		return err
	}

	deletePaths(log, lines)

	if err := journal.Remove(dbPath); err != nil {
		return err
	}
	log.Info("recovered interrupted transaction", "db", dbPath, "files_removed", len(lines))
	return nil
}

// deletePaths removes each path if present and then prunes now-empty
// parent directories, best-effort: a failure to remove one path does not
// stop the sweep over the rest.
func deletePaths(log logging.Logger, paths []string) {
	dirs := map[string]bool{}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Info("could not remove file during recovery", "path", p, "error", err)
			continue
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		pruneEmptyDirs(dir)
	}
}

// pruneEmptyDirs removes dir and then walks upward removing now-empty
// ancestors, stopping at the first non-empty or non-removable directory.
func pruneEmptyDirs(dir string) {
	for dir != "" && dir != "." && dir != string(filepath.Separator) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
