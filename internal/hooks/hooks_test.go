package hooks

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/paktpm/pakt/internal/model"
)

func writeHook(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadParsesTriggersAndAction(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "update-mime.hook", `
[Trigger]
Operation = Install
Operation = Upgrade
Type = File
Target = usr/share/mime/*

[Action]
Description = Updating the MIME database...
When = PostTransaction
Exec = /usr/bin/update-mime-database usr/share/mime
NeedsTargets = true
`)

	loaded, err := Load(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 hook, got %d", len(loaded))
	}
	h := loaded[0]
	if h.FileName != "update-mime.hook" {
		t.Fatalf("unexpected file name: %s", h.FileName)
	}
	if len(h.Triggers) != 1 || h.Triggers[0].Type != model.TargetFile {
		t.Fatalf("unexpected triggers: %+v", h.Triggers)
	}
	if len(h.Triggers[0].Operations) != 2 {
		t.Fatalf("expected 2 operations, got %+v", h.Triggers[0].Operations)
	}
	if h.Action.When != model.PostTransaction || !h.Action.NeedsTargets {
		t.Fatalf("unexpected action: %+v", h.Action)
	}
}

func TestUserDirOverridesSystemDirByFileName(t *testing.T) {
	sysDir := t.TempDir()
	userDir := t.TempDir()
	action := `
[Trigger]
Operation = Install
Type = Package
Target = foo

[Action]
When = PostTransaction
Exec = echo %s
`
	writeHook(t, sysDir, "foo.hook", fmtHook(action, "system"))
	writeHook(t, userDir, "foo.hook", fmtHook(action, "user"))

	loaded, err := Load(sysDir, userDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected exactly 1 hook after override, got %d", len(loaded))
	}
	if loaded[0].Action.Exec != "echo user" {
		t.Fatalf("expected user dir to win, got %q", loaded[0].Action.Exec)
	}
}

func fmtHook(tmpl, word string) string {
	out := make([]byte, 0, len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '%' && i+1 < len(tmpl) && tmpl[i+1] == 's' {
			out = append(out, word...)
			i++
			continue
		}
		out = append(out, tmpl[i])
	}
	return string(out)
}

func TestEngineDispatchesFileTriggerWithTargets(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")
	writeHook(t, dir, "update-mime.hook", `
[Trigger]
Operation = Install
Type = File
Target = usr/share/mime/*

[Action]
When = PostTransaction
Exec = cat > `+outPath+`
NeedsTargets = true
`)
	loaded, err := Load(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stdout bytes.Buffer
	e := New(loaded, nil)
	e.Stdout = &stdout

	plan := []model.Package{{
		Name:  "foo",
		Files: []string{"usr/share/mime/packages/foo.xml", "usr/bin/foo"},
	}}
	if err := e.Run(model.PostTransaction, model.OpInstall, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("hook did not run: %v", err)
	}
	if string(got) != "usr/share/mime/packages/foo.xml\n" {
		t.Fatalf("unexpected piped targets: %q", got)
	}
}

func TestEngineSkipsHookForWrongPhase(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")
	writeHook(t, dir, "pre.hook", `
[Trigger]
Operation = Install
Type = Package
Target = foo

[Action]
When = PreTransaction
Exec = touch `+outPath+`
`)
	loaded, err := Load(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := New(loaded, nil)
	plan := []model.Package{{Name: "foo"}}
	if err := e.Run(model.PostTransaction, model.OpInstall, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(outPath); err == nil {
		t.Fatal("hook should not have run in the wrong phase")
	}
}

func TestEngineAbortOnFail(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "fails.hook", `
[Trigger]
Operation = Install
Type = Package
Target = foo

[Action]
When = PreTransaction
Exec = exit 1
AbortOnFail = true
`)
	loaded, err := Load(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := New(loaded, nil)
	plan := []model.Package{{Name: "foo"}}
	err = e.Run(model.PreTransaction, model.OpInstall, plan)
	if err == nil {
		t.Fatal("expected hook failure to abort")
	}
}
