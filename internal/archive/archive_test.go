package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/paktpm/pakt/internal/errs"
)

func buildArchive(t *testing.T, entries []tar.Header, contents map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, hdr := range entries {
		h := hdr
		if c, ok := contents[hdr.Name]; ok {
			h.Size = int64(len(c))
		}
		if err := tw.WriteHeader(&h); err != nil {
			t.Fatal(err)
		}
		if c, ok := contents[hdr.Name]; ok {
			if _, err := tw.Write([]byte(c)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestExtractDirectWritesRegularFilesAndSkipsManifest(t *testing.T) {
	root := t.TempDir()
	arc := buildArchive(t, []tar.Header{
		{Name: ManifestEntry, Typeflag: tar.TypeReg, Mode: 0o644},
		{Name: "usr/bin/hello", Typeflag: tar.TypeReg, Mode: 0o755},
	}, map[string]string{
		ManifestEntry:   "pkgname = hello\n",
		"usr/bin/hello": "#!/bin/sh\necho hi\n",
	})

	x := New()
	var entries []string
	err := x.Extract(arc, root, ModeDirect, func(physical, manifest string) error {
		entries = append(entries, manifest)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0] != "/usr/bin/hello" {
		t.Fatalf("expected only the payload entry reported, got %v", entries)
	}

	if _, err := os.Stat(filepath.Join(root, ManifestEntry)); !os.IsNotExist(err) {
		t.Fatalf("expected %s not to be extracted to the install root", ManifestEntry)
	}
	got, err := os.ReadFile(filepath.Join(root, "usr/bin/hello"))
	if err != nil {
		t.Fatalf("expected payload file extracted: %v", err)
	}
	if string(got) != "#!/bin/sh\necho hi\n" {
		t.Fatalf("unexpected file content: %q", got)
	}
}

func TestExtractStagingModeAppendsSuffixToFilesNotDirs(t *testing.T) {
	root := t.TempDir()
	arc := buildArchive(t, []tar.Header{
		{Name: "etc/myapp", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "etc/myapp/config", Typeflag: tar.TypeReg, Mode: 0o644},
	}, map[string]string{
		"etc/myapp/config": "key=value\n",
	})

	x := New()
	err := x.Extract(arc, root, ModeStaging, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "etc/myapp")); err != nil {
		t.Fatalf("expected directory extracted at its final name: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "etc/myapp/config")); !os.IsNotExist(err) {
		t.Fatal("expected unsuffixed file path to be absent in staging mode")
	}
	if _, err := os.Stat(filepath.Join(root, "etc/myapp/config"+StagingSuffix)); err != nil {
		t.Fatalf("expected .new-suffixed file present: %v", err)
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	// Enough ".." segments to walk above any plausible t.TempDir() depth and
	// escape root regardless of where the test runner places it.
	arc := buildArchive(t, []tar.Header{
		{Name: "../../../../../../../../etc/passwd", Typeflag: tar.TypeReg, Mode: 0o644},
	}, map[string]string{
		"../../../../../../../../etc/passwd": "root:x:0:0\n",
	})

	x := New()
	err := x.Extract(arc, root, ModeDirect, nil)
	if err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
	ioErr, ok := err.(*errs.IOError)
	if !ok || ioErr.Reason != errs.PathTraversal {
		t.Fatalf("expected *errs.IOError{Reason: PathTraversal}, got %T: %v", err, err)
	}
}

func TestExtractAllowsDotDotThatStaysWithinRoot(t *testing.T) {
	root := t.TempDir()
	arc := buildArchive(t, []tar.Header{
		{Name: "usr/bin/../lib/thing", Typeflag: tar.TypeReg, Mode: 0o644},
	}, map[string]string{
		"usr/bin/../lib/thing": "payload\n",
	})

	x := New()
	if err := x.Extract(arc, root, ModeDirect, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "usr/lib/thing"))
	if err != nil {
		t.Fatalf("expected entry written at its collapsed in-root path: %v", err)
	}
	if string(got) != "payload\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestExtractSymlinkTargetsStagingSuffixInStagingMode(t *testing.T) {
	root := t.TempDir()
	arc := buildArchive(t, []tar.Header{
		{Name: "usr/bin/foo", Typeflag: tar.TypeSymlink, Linkname: "foo-2.0", Mode: 0o777},
	}, nil)

	x := New()
	err := x.Extract(arc, root, ModeStaging, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	link, err := os.Readlink(filepath.Join(root, "usr/bin/foo"+StagingSuffix))
	if err != nil {
		t.Fatalf("expected staged symlink present: %v", err)
	}
	if link != "foo-2.0" {
		t.Fatalf("expected symlink target foo-2.0, got %q", link)
	}
}
