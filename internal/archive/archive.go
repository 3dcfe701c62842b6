// Package archive implements the Archive Installer from spec.md 4.8: it
// extracts a compressed tar package archive into an install root, either
// directly or staged with a .new suffix for the System Updater, while
// rejecting path traversal and preserving ownership, mode and extended
// attributes.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/paktpm/pakt/internal/errs"
)

// Mode selects how regular files and symlinks are materialized.
type Mode int

const (
	// ModeDirect extracts every entry to its final absolute path.
	ModeDirect Mode = iota
	// ModeStaging extracts regular files and symlinks with a .new suffix at
	// their final location; directories still land at their final name.
	ModeStaging
)

// StagingSuffix is appended to regular-file and symlink targets in
// ModeStaging.
const StagingSuffix = ".new"

// Reserved manifest entry names at the archive root. These carry package
// metadata and install-time scripting, not payload, and are never
// extracted to the install root.
const (
	ManifestEntry      = ".PKGINFO"
	InstallScriptEntry = ".INSTALL"
)

// OnEntry is invoked once per extracted (non-reserved, non-directory)
// entry with its final physical path and its archive-relative manifest
// path (a single leading "/"). The caller is expected to append
// physicalPath to the active transaction's journal.
type OnEntry func(physicalPath, manifestPath string) error

// Extractor extracts package archives into an install root.
type Extractor struct {
	Fs afero.Fs
}

// New returns an Extractor backed by the OS filesystem.
func New() *Extractor {
	return &Extractor{Fs: afero.NewOsFs()}
}

// Extract reads a gzip-compressed tar stream and extracts it under root in
// the given mode, invoking onEntry for every extracted file or symlink.
func (x *Extractor) Extract(r io.Reader, root string, mode Mode, onEntry OnEntry) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "cannot open archive")
	}
	defer gz.Close()

	cleanRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return errors.Wrap(err, "cannot resolve install root")
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &errs.IOError{Reason: errs.ExtractionFailed, Path: root, Err: err}
		}

		// Check the raw, uncleaned entry name against root first: cleaning it
		// into a root-relative path (as cleanEntryName does) would collapse a
		// ".."-escape into a harmless one before it's ever checked.
		finalPath, err := resolveWithinRoot(cleanRoot, hdr.Name)
		if err != nil {
			return &errs.IOError{Reason: errs.PathTraversal, Path: hdr.Name}
		}

		entryName := cleanEntryName(hdr.Name)
		if entryName == ManifestEntry || entryName == InstallScriptEntry {
			continue
		}
		manifestPath := "/" + entryName

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := x.extractDir(finalPath, hdr); err != nil {
				return err
			}
		case tar.TypeReg:
			target := finalPath
			if mode == ModeStaging {
				target += StagingSuffix
			}
			if err := x.extractRegular(target, tr, hdr); err != nil {
				return err
			}
			if onEntry != nil {
				if err := onEntry(target, manifestPath); err != nil {
					return err
				}
			}
		case tar.TypeSymlink:
			target := finalPath
			if mode == ModeStaging {
				target += StagingSuffix
			}
			if err := x.extractSymlink(target, hdr); err != nil {
				return err
			}
			if onEntry != nil {
				if err := onEntry(target, manifestPath); err != nil {
					return err
				}
			}
		default:
			// Hard links and device/fifo entries are not part of the package
			// payload model; skip silently rather than fail the install.
			continue
		}
	}
}

func (x *Extractor) extractDir(finalPath string, hdr *tar.Header) error {
	if err := x.Fs.MkdirAll(finalPath, os.FileMode(hdr.Mode)&os.ModePerm); err != nil {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: finalPath, Err: err}
	}
	if err := x.Fs.Chmod(finalPath, os.FileMode(hdr.Mode)&os.ModePerm); err != nil {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: finalPath, Err: err}
	}
	x.applyOwnerAndXattrs(finalPath, hdr, false)
	return nil
}

func (x *Extractor) extractRegular(target string, tr *tar.Reader, hdr *tar.Header) error {
	if err := x.Fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: target, Err: err}
	}
	f, err := x.Fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&os.ModePerm)
	if err != nil {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: target, Err: err}
	}
	if _, err := io.Copy(f, tr); err != nil {
		f.Close()
		if isDiskFullError(err) {
			return &errs.IOError{Reason: errs.FilesystemFull, Path: target, Err: err}
		}
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: target, Err: err}
	}
	if err := f.Close(); err != nil {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: target, Err: err}
	}
	if err := x.Fs.Chmod(target, os.FileMode(hdr.Mode)&os.ModePerm); err != nil {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: target, Err: err}
	}
	x.applyOwnerAndXattrs(target, hdr, false)
	return nil
}

func (x *Extractor) extractSymlink(target string, hdr *tar.Header) error {
	if err := x.Fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: target, Err: err}
	}
	linker, ok := x.Fs.(afero.Linker)
	if !ok {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: target, Err: errors.New("filesystem does not support symlinks")}
	}
	_ = x.Fs.Remove(target)
	if err := linker.SymlinkIfPossible(hdr.Linkname, target); err != nil {
		return &errs.IOError{Reason: errs.ExtractionFailed, Path: target, Err: err}
	}
	// Ownership and xattrs on a symlink entry target the link itself, never
	// its resolution, so this always uses the l-variant syscalls.
	x.applyOwnerAndXattrs(target, hdr, true)
	return nil
}

// applyOwnerAndXattrs is a best-effort step limited to the real OS
// filesystem: it does nothing on any other afero filesystem, such as an
// in-memory one, where ownership and PAX extended attributes have no
// meaning.
func (x *Extractor) applyOwnerAndXattrs(path string, hdr *tar.Header, isLink bool) {
	if x.Fs.Name() != "OsFs" {
		return
	}
	if isLink {
		_ = unix.Lchown(path, hdr.Uid, hdr.Gid)
	} else {
		_ = os.Chown(path, hdr.Uid, hdr.Gid)
	}
	for k, v := range hdr.PAXRecords {
		const prefix = "SCHILY.xattr."
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		attr := strings.TrimPrefix(k, prefix)
		if isLink {
			_ = unix.Lsetxattr(path, attr, []byte(v), 0)
		} else {
			_ = unix.Setxattr(path, attr, []byte(v), 0)
		}
	}
}

// cleanEntryName normalizes a tar entry name to a root-relative path with
// no leading slash or "./" prefix, collapsing any "." and ".." segments.
func cleanEntryName(name string) string {
	cleaned := path.Clean("/" + name)
	return strings.TrimPrefix(cleaned, "/")
}

// resolveWithinRoot joins root and the tar entry's raw name and verifies the
// result is still rooted at root, rejecting any archive entry that attempts
// to escape via "..". Must be called with the raw, uncleaned entry name:
// filepath.Join cleans the joined result relative to root itself, so a
// traversal only surfaces as an escape here, not when pre-collapsed by
// cleanEntryName against a bare "/".
func resolveWithinRoot(root, rawEntryName string) (string, error) {
	joined := filepath.Join(root, rawEntryName)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", errors.Errorf("entry %q escapes install root", rawEntryName)
	}
	return joined, nil
}

func isDiskFullError(err error) bool {
	return errors.Is(err, unix.ENOSPC) || strings.Contains(err.Error(), "no space left")
}
