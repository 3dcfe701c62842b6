// Package hooks implements the declarative hook engine described in
// spec.md 4.10: *.hook files define one or more [Trigger] clauses and a
// single [Action], loaded from a system directory and a user directory
// (the latter overriding the former by file name), matched against a
// transaction's plan, and dispatched in ascending file-name order.
package hooks

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"gopkg.in/ini.v1"

	"github.com/paktpm/pakt/internal/errs"
	"github.com/paktpm/pakt/internal/model"
)

// Load reads every *.hook file from systemDir, then from userDir,
// overriding any file of the same base name loaded from systemDir, and
// returns the parsed hooks in ascending file-name order.
func Load(systemDir, userDir string) ([]model.Hook, error) {
	byName := map[string]model.Hook{}

	for _, dir := range []string{systemDir, userDir} {
		if dir == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(dir, "*.hook"))
		if err != nil {
			return nil, errors.Wrapf(err, "cannot glob hook directory %s", dir)
		}
		for _, path := range matches {
			h, err := parseFile(path)
			if err != nil {
				return nil, err
			}
			byName[h.FileName] = h
		}
	}

	out := make([]model.Hook, 0, len(byName))
	for _, h := range byName {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

func parseFile(path string) (model.Hook, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true, AllowShadows: true}, path)
	if err != nil {
		return model.Hook{}, errors.Wrapf(err, "cannot parse hook file %s", path)
	}

	h := model.Hook{FileName: filepath.Base(path)}

	triggerSections, err := cfg.SectionsByName("Trigger")
	if err != nil || len(triggerSections) == 0 {
		return model.Hook{}, errors.Errorf("hook %s declares no [Trigger] section", h.FileName)
	}
	for _, sec := range triggerSections {
		t := model.Trigger{
			Type:   model.TargetType(sec.Key("Type").String()),
			Target: sec.Key("Target").String(),
		}
		for _, line := range sec.Key("Operation").ValueWithShadows() {
			for _, op := range strings.Split(line, ",") {
				op = strings.TrimSpace(op)
				if op != "" {
					t.Operations = append(t.Operations, model.Operation(op))
				}
			}
		}
		if t.Target == "" || t.Type == "" || len(t.Operations) == 0 {
			return model.Hook{}, errors.Errorf("hook %s has an incomplete [Trigger] section", h.FileName)
		}
		h.Triggers = append(h.Triggers, t)
	}

	actionSections, err := cfg.SectionsByName("Action")
	if err != nil || len(actionSections) == 0 {
		return model.Hook{}, errors.Errorf("hook %s declares no [Action] section", h.FileName)
	}
	action := actionSections[0]
	h.Action = model.Action{
		When:         model.When(action.Key("When").String()),
		Exec:         action.Key("Exec").String(),
		NeedsTargets: action.Key("NeedsTargets").MustBool(false),
		AbortOnFail:  action.Key("AbortOnFail").MustBool(false),
		Description:  action.Key("Description").String(),
	}
	if h.Action.Exec == "" || h.Action.When == "" {
		return model.Hook{}, errors.Errorf("hook %s has an incomplete [Action] section", h.FileName)
	}
	return h, nil
}

// matches reports whether trigger fires against plan for the given
// operation: a Package trigger matches by exact name, a File trigger
// matches any plan package's file list against Target treated as a glob.
// The matched target strings (package names or file paths) are returned
// for NeedsTargets dispatch.
func matches(t model.Trigger, op model.Operation, plan []model.Package) []string {
	opMatches := false
	for _, o := range t.Operations {
		if o == op {
			opMatches = true
			break
		}
	}
	if !opMatches {
		return nil
	}

	var targets []string
	switch t.Type {
	case model.TargetPackage:
		for _, p := range plan {
			if p.Name == t.Target {
				targets = append(targets, p.Name)
			}
		}
	case model.TargetFile:
		re := globToRegexp(t.Target)
		for _, p := range plan {
			for _, f := range p.Files {
				if re.MatchString(f) {
					targets = append(targets, f)
				}
			}
		}
	}
	return targets
}

// globToRegexp translates a shell-style glob (only * and ? are special)
// into an anchored regular expression, escaping every other
// regex-metacharacter in Target first.
func globToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

// Engine dispatches hooks against a transaction's plan.
type Engine struct {
	hooks []model.Hook
	log   logging.Logger

	// Stdout/Stderr receive each dispatched hook's output; default to
	// os.Stdout/os.Stderr when nil.
	Stdout io.Writer
	Stderr io.Writer
}

// New returns an Engine over the given loaded hooks.
func New(loaded []model.Hook, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Engine{hooks: loaded, log: log}
}

// Run dispatches every loaded hook whose When matches phase and whose
// triggers match op against plan, in ascending file-name order (the hooks
// slice is pre-sorted by Load). Each matching hook runs at most once. A
// non-zero exit aborts the transaction (returns errs.HookFailure) only for
// hooks declaring AbortOnFail; other failures are logged and ignored.
func (e *Engine) Run(phase model.When, op model.Operation, plan []model.Package) error {
	for _, h := range e.hooks {
		if h.Action.When != phase {
			continue
		}

		var allTargets []string
		fired := false
		for _, t := range h.Triggers {
			if tgts := matches(t, op, plan); len(tgts) > 0 {
				fired = true
				allTargets = append(allTargets, tgts...)
			}
		}
		if !fired {
			continue
		}

		if err := e.dispatch(h, allTargets); err != nil {
			if h.Action.AbortOnFail {
				return &errs.HookFailure{Name: h.FileName, Err: err}
			}
			e.log.Info("hook failed, continuing", "hook", h.FileName, "error", err)
		}
	}
	return nil
}

func (e *Engine) dispatch(h model.Hook, targets []string) error {
	e.log.Debug("running hook", "hook", h.FileName, "description", h.Action.Description)

	cmd := exec.Command("/bin/sh", "-c", h.Action.Exec)
	cmd.Stdout = e.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = e.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if h.Action.NeedsTargets {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		for _, t := range targets {
			w.WriteString(t)
			w.WriteByte('\n')
		}
		w.Flush()
		cmd.Stdin = &buf
	}

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "hook %s exited non-zero", h.FileName)
	}
	return nil
}
