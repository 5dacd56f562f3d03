// Package session persists crawl state between runs: the web graph, the
// pending queue, and the append-only journals of transfer outcomes.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/numerodix/spiderfetch/internal/urlutil"
	"github.com/numerodix/spiderfetch/internal/webgraph"
)

// Store reads and writes named state files under one directory. Writes go
// to a .partial file first and are renamed into place, so an interrupted
// save never clobbers the previous state.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// WebName returns the graph filename for a host.
func WebName(host string) string {
	return urlutil.HostnameToFilename(host) + ".web"
}

// SessionName returns the queue filename for a host.
func SessionName(host string) string {
	return urlutil.HostnameToFilename(host) + ".session"
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether a state file is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Remove deletes a state file if present.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Save writes v as JSON to the named state file.
func (s *Store) Save(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return s.commit(name, data)
}

// Load reads the named state file into v.
func (s *Store) Load(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

// SaveGraph writes an in-memory graph snapshot to the named state file.
func (s *Store) SaveGraph(name string, g *webgraph.Memory) error {
	partial := s.path(name) + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return err
	}
	if err := g.Encode(f); err != nil {
		_ = f.Close()
		_ = os.Remove(partial)
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partial)
		return err
	}
	return os.Rename(partial, s.path(name))
}

// LoadGraph reads a graph snapshot from the named state file.
func (s *Store) LoadGraph(name string) (*webgraph.Memory, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := webgraph.DecodeMemory(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return g, nil
}

func (s *Store) commit(name string, data []byte) error {
	partial := s.path(name) + ".partial"
	if err := os.WriteFile(partial, data, 0644); err != nil {
		return err
	}
	return os.Rename(partial, s.path(name))
}

// SafeFilename returns filename, or a -2, -3, ... suffixed variant when
// the name is already taken.
func SafeFilename(filename string) string {
	if _, err := os.Stat(filename); err != nil {
		return filename
	}

	dir := filepath.Dir(filename)
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	root := base[:len(base)-len(ext)]

	for serial := 2; ; serial++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%d%s", root, serial, ext))
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
