// Package zoneconfig models the arena-scoped / global-scoped
// Section.Key -> value configuration contract consumed by the core
// (spec §6). It never parses the legacy arena .conf dialect — that
// parser is an external collaborator (spec §1 Non-goals) — it only
// loads a YAML rendering of the same sections/keys, in the shape the
// teacher's internal/config package uses for its own settings files.
package zoneconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scope is a section->key->raw-string configuration table. One Scope
// backs the zone-global ("Global") lookups; one Scope is held per arena
// for arena-scoped lookups.
type Scope struct {
	sections map[string]map[string]string
}

// NewScope returns an empty Scope.
func NewScope() *Scope {
	return &Scope{sections: make(map[string]map[string]string)}
}

// Set stores a raw value under section.key, creating the section map on
// first use. Mainly used by tests and by loaders.
func (s *Scope) Set(section, key, value string) {
	if s.sections == nil {
		s.sections = make(map[string]map[string]string)
	}
	sec, ok := s.sections[section]
	if !ok {
		sec = make(map[string]string)
		s.sections[section] = sec
	}
	sec[key] = value
}

func (s *Scope) raw(section, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	sec, ok := s.sections[section]
	if !ok {
		return "", false
	}
	v, ok := sec[key]
	return v, ok
}

// GetStr returns the string at section.key, or def if absent.
func (s *Scope) GetStr(section, key, def string) string {
	if v, ok := s.raw(section, key); ok {
		return v
	}
	return def
}

// GetInt returns the int at section.key, or def if absent or
// unparsable. If the parsed value is below min, min is returned
// instead (mirrors contracts like "Persist.SyncSeconds : int, default
// 180, min 10").
func (s *Scope) GetInt(section, key string, def, min int) int {
	v, ok := s.raw(section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	return n
}

// GetBool returns the bool at section.key, or def if absent or
// unparsable.
func (s *Scope) GetBool(section, key string, def bool) bool {
	v, ok := s.raw(section, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// rawDoc is the on-disk YAML shape: a map of section name to a map of
// key to scalar value (rendered to string on load, same as the
// teacher's LoadLoginServer/LoadGameServer pattern of falling back to
// defaults when the file is missing).
type rawDoc map[string]map[string]any

// Load reads a YAML-rendered configuration file into a Scope. A
// missing file yields an empty Scope (all lookups fall back to
// per-call defaults), matching the teacher's "absence is not an
// error" convention for config loading.
func Load(path string) (*Scope, error) {
	scope := NewScope()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return scope, nil
		}
		return scope, fmt.Errorf("reading config %s: %w", path, err)
	}

	var doc rawDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return scope, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for section, kv := range doc {
		for key, val := range kv {
			scope.Set(section, key, fmt.Sprintf("%v", val))
		}
	}

	return scope, nil
}
