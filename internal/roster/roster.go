// Package roster loads per-scope rosters from a directory of YAML files and
// keeps them current while the files change.
//
// Each file describes one scope:
//
//	scope: proj-1        # optional, defaults to the file name
//	members:
//	  - name: John Smith
//	    email: john@x.com
//	    handle: "@jsmith"
//	    aliases: [Johnny]
package roster

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/rollcall/pkg/types"
)

// ErrUnknownScope is returned when no roster file defines a scope.
var ErrUnknownScope = errors.New("roster: unknown scope")

// File is the on-disk roster format.
type File struct {
	Scope   string              `yaml:"scope"`
	Members []types.RosterEntry `yaml:"members"`
}

// LoadFile reads and validates one roster file. A missing scope is taken
// from the file name without its extension.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("roster: parse %s: %w", filepath.Base(path), err)
	}
	f.Scope = types.NormalizeScope(f.Scope)
	if f.Scope == "" {
		f.Scope = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	seen := make(map[string]struct{}, len(f.Members))
	for _, m := range f.Members {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("roster: %s: %w", filepath.Base(path), err)
		}
		email := strings.ToLower(strings.TrimSpace(m.Email))
		if _, dup := seen[email]; dup {
			return nil, fmt.Errorf("roster: %s: duplicate email %q", filepath.Base(path), m.Email)
		}
		seen[email] = struct{}{}
	}
	return &f, nil
}

func isRosterFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Directory serves rosters loaded from dir. Safe for concurrent use.
type Directory struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	scopes map[string][]types.RosterEntry
	// files maps a file path to the scope it defined, for removals.
	files map[string]string
}

// NewDirectory creates an empty source for dir. Call Load to read it.
func NewDirectory(dir string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		dir:    dir,
		logger: logger.With("component", "roster"),
		scopes: make(map[string][]types.RosterEntry),
		files:  make(map[string]string),
	}
}

// Dir returns the watched directory.
func (d *Directory) Dir() string {
	return d.dir
}

// Load reads every roster file in the directory, replacing what was loaded
// before. Invalid files are logged and skipped. A missing directory is
// created empty.
func (d *Directory) Load() error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("roster: create %s: %w", d.dir, err)
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("roster: read %s: %w", d.dir, err)
	}

	scopes := make(map[string][]types.RosterEntry)
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isRosterFile(entry.Name()) {
			continue
		}
		path := filepath.Join(d.dir, entry.Name())
		f, err := LoadFile(path)
		if err != nil {
			d.logger.Warn("skipping invalid roster file", "path", path, "error", err)
			continue
		}
		if _, dup := scopes[f.Scope]; dup {
			d.logger.Warn("scope defined by more than one roster file, keeping the first", "scope", f.Scope, "path", path)
			continue
		}
		scopes[f.Scope] = f.Members
		files[path] = f.Scope
	}

	d.mu.Lock()
	d.scopes = scopes
	d.files = files
	d.mu.Unlock()

	d.logger.Info("rosters loaded", "dir", d.dir, "scopes", len(scopes))
	return nil
}

// reloadFile re-reads a single file after a change. A file that vanished or
// no longer parses drops its scope.
func (d *Directory) reloadFile(path string) {
	f, err := LoadFile(path)

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.files[path]; ok {
		delete(d.scopes, old)
		delete(d.files, path)
	}
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("roster file invalid after change", "path", path, "error", err)
		}
		return
	}
	d.scopes[f.Scope] = f.Members
	d.files[path] = f.Scope
	d.logger.Info("roster reloaded", "scope", f.Scope, "members", len(f.Members))
}

// Roster returns a copy of the entries for scope.
func (d *Directory) Roster(scope string) ([]types.RosterEntry, error) {
	scope = types.NormalizeScope(scope)
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.scopes[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	return append([]types.RosterEntry(nil), members...), nil
}

// Scopes lists the loaded scopes in sorted order.
func (d *Directory) Scopes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.scopes))
	for s := range d.scopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
