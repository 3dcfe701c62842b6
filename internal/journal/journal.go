// Package journal implements the append-only crash log described in
// spec.md 4.5: one absolute physical path per line, written as the current
// transaction extracts files, consumed by the recovery protocol on restart.
package journal

import (
	"bufio"
	"os"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

// Journal is an append-only file at a well-known path adjacent to the
// package database.
type Journal struct {
	path string
	f    *os.File
}

// Path returns the well-known journal path for a given database path
// ({db_path}.journal per spec.md 6).
func Path(dbPath string) string {
	return dbPath + ".journal"
}

// Exists reports whether a journal file is present at dbPath's journal
// location — the recovery signal (spec.md 4.6/4.7).
func Exists(dbPath string) bool {
	_, err := os.Stat(Path(dbPath))
	return err == nil
}

// Create creates an empty journal file, failing if one already exists.
func Create(dbPath string) (*Journal, error) {
	p := Path(dbPath)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create journal")
	}
	return &Journal{path: p, f: f}, nil
}

// Append writes one absolute physical path to the journal, synchronously.
// Per spec.md 5, the journal entry must be durable before the file it
// describes becomes observable, so Append fsyncs on every call; this is
// the durability policy this implementation documents and guarantees.
func (j *Journal) Append(path string) error {
	if _, err := j.f.WriteString(path + "\n"); err != nil {
		return errors.Wrap(err, "cannot append to journal")
	}
	return j.Sync()
}

// Sync fsyncs the journal file.
func (j *Journal) Sync() error {
	return errors.Wrap(j.f.Sync(), "cannot fsync journal")
}

// Close closes the underlying file handle without deleting the journal.
func (j *Journal) Close() error {
	return j.f.Close()
}

// Delete closes (if open) and removes the journal file.
func (j *Journal) Delete() error {
	if j.f != nil {
		_ = j.f.Close()
	}
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "cannot delete journal")
	}
	return nil
}

// ReadLines reads every path recorded in the journal at dbPath's location,
// for use by the recovery protocol. It is safe to call even if no journal
// exists: it then returns a nil slice.
func ReadLines(dbPath string) ([]string, error) {
	p := Path(dbPath)
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "cannot open journal")
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	// Paths can legitimately be long; grow the scanner's buffer generously.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read journal")
	}
	return lines, nil
}

// Remove deletes the journal file at dbPath's location, if present.
func Remove(dbPath string) error {
	if err := os.Remove(Path(dbPath)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "cannot remove journal")
	}
	return nil
}
