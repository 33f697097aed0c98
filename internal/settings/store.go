// Package settings holds the operator-facing configuration and tracks which
// values changed since the last time the agent acted on them.
package settings

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownSetting is returned for values that are not declared in the schema.
var ErrUnknownSetting = errors.New("unknown setting")

// Snapshotter persists the committed values between processes.
type Snapshotter interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

const snapshotKey = "settings:previous"

// Store is a consistent view of the current settings plus the values that
// were current at the last Commit.
type Store struct {
	schemaPath string
	valuesPath string
	snap       Snapshotter

	current  map[string]string
	previous map[string]string
}

// Open loads the schema, the optional values file and the last committed
// snapshot.
func Open(ctx context.Context, schemaPath, valuesPath string, snap Snapshotter) (*Store, error) {
	s := &Store{
		schemaPath: schemaPath,
		valuesPath: valuesPath,
		snap:       snap,
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh re-reads the committed snapshot as well as the files. Another
// process may have committed since Open.
func (s *Store) Refresh(ctx context.Context) error {
	previous := map[string]string{}
	if _, err := s.snap.GetJSON(ctx, snapshotKey, &previous); err != nil {
		return fmt.Errorf("failed to load settings snapshot: %w", err)
	}
	if err := s.Reload(); err != nil {
		return err
	}
	s.previous = previous
	return nil
}

// Reload re-reads the schema and values files. The committed snapshot is
// untouched, so changes show up through Changed.
func (s *Store) Reload() error {
	schema, err := loadSchema(s.schemaPath)
	if err != nil {
		return err
	}
	values, err := loadValues(s.valuesPath)
	if err != nil {
		return err
	}

	current := make(map[string]string, len(schema.Options))
	for name, opt := range schema.Options {
		v, err := opt.normalize(name, opt.Default)
		if err != nil {
			return err
		}
		current[name] = v
	}
	for name, raw := range values {
		opt, ok := schema.Options[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, name)
		}
		v, err := opt.normalize(name, raw)
		if err != nil {
			return err
		}
		current[name] = v
	}

	s.current = current
	return nil
}

// Get returns the current value of name, or "" if it is unset.
func (s *Store) Get(name string) string {
	return s.current[name]
}

// Previous returns the value name had at the last Commit, or "" if none.
func (s *Store) Previous(name string) string {
	return s.previous[name]
}

// Changed reports whether name differs from the committed snapshot. Every
// setting counts as changed before the first Commit.
func (s *Store) Changed(name string) bool {
	prev, ok := s.previous[name]
	if !ok {
		return true
	}
	return prev != s.current[name]
}

// ChangedNames lists every setting that differs from the snapshot, sorted.
func (s *Store) ChangedNames() []string {
	var names []string
	for name := range s.current {
		if s.Changed(name) {
			names = append(names, name)
		}
	}
	for name := range s.previous {
		if _, ok := s.current[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Commit records the current values as observed.
func (s *Store) Commit(ctx context.Context) error {
	next := maps.Clone(s.current)
	if err := s.snap.SetJSON(ctx, snapshotKey, next); err != nil {
		return fmt.Errorf("failed to save settings snapshot: %w", err)
	}
	s.previous = next
	return nil
}

func loadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings schema: %w", err)
	}
	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse settings schema: %w", err)
	}
	return &schema, nil
}

func loadValues(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return values, nil
}
