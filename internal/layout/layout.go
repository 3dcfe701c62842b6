// Package layout centralizes the on-disk paths described in spec.md 6,
// all rooted at a configurable install root (--root, default "/").
package layout

import "path/filepath"

// AppName is the directory name pakt's state, cache, config and hooks live
// under within an install root.
const AppName = "pakt"

// Paths resolves every well-known pakt path relative to an install root.
type Paths struct {
	Root string
}

// New returns a Paths rooted at root.
func New(root string) Paths { return Paths{Root: root} }

// StateDir is var/lib/<name>, holding the database, journal and lock.
func (p Paths) StateDir() string {
	return filepath.Join(p.Root, "var", "lib", AppName)
}

// DBPath is var/lib/<name>/packages.db.
func (p Paths) DBPath() string {
	return filepath.Join(p.StateDir(), "packages.db")
}

// CacheDir is var/cache/<name>, holding downloaded package archives.
func (p Paths) CacheDir() string {
	return filepath.Join(p.Root, "var", "cache", AppName)
}

// IndexDir is var/lib/<name>, holding cached repository indices and their
// detached signatures alongside the database, journal and lock.
func (p Paths) IndexDir() string {
	return p.StateDir()
}

// RepoList is etc/<name>/repolist.
func (p Paths) RepoList() string {
	return filepath.Join(p.Root, "etc", AppName, "repolist")
}

// SystemHooksDir is usr/share/libalpm/hooks.
func (p Paths) SystemHooksDir() string {
	return filepath.Join(p.Root, "usr", "share", "libalpm", "hooks")
}

// UserHooksDir is etc/<name>/hooks.
func (p Paths) UserHooksDir() string {
	return filepath.Join(p.Root, "etc", AppName, "hooks")
}
