// Package config loads pakt's declarative, file-based configuration: the
// repository list at etc/pakt/repolist (spec.md 6). Hook files live in
// their own sibling package, internal/hooks, since their shape (multiple
// [Trigger] sections plus one [Action] section) differs enough from a
// flat per-section record to warrant separate parsing.
package config

import (
	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/paktpm/pakt/internal/model"
)

// LoadRepoList parses an INI-like repolist file into the configured
// repositories it declares. Each [id] section becomes one model.Repository
// with id set to the section name.
func LoadRepoList(path string) ([]model.Repository, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load repolist %s", path)
	}

	var repos []model.Repository
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		repos = append(repos, model.Repository{
			ID:      sec.Name(),
			Name:    sec.Key("name").MustString(sec.Name()),
			URL:     sec.Key("url").String(),
			Enabled: sec.Key("enabled").MustBool(true),
			GPGKey:  sec.Key("gpgkey").String(),
		})
	}
	return repos, nil
}
