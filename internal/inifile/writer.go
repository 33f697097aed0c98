// Package inifile renders settings into the application's paste-style
// configuration file.
package inifile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// DefaultSection receives every key without an explicit mapping.
const DefaultSection = "app:main"

// Sections maps keys that live outside the default section.
var Sections = map[string]string{
	"port": "server:main",
}

// Pair is one key to set in the file.
type Pair struct {
	Key   string
	Value string
}

// Writer applies key updates to a single ini file.
type Writer struct {
	path   string
	logger logger.Logger
}

func NewWriter(path string, log logger.Logger) *Writer {
	return &Writer{path: path, logger: log}
}

// Path returns the file the writer manages.
func (w *Writer) Path() string { return w.path }

// loadOptions reads the file the way Python's configparser does, without
// interpolation.
var loadOptions = ini.LoadOptions{
	// sqlalchemy URLs and API tokens may legitimately contain '#' or ';'.
	IgnoreInlineComment:        true,
	PreserveSurroundedQuote:    true,
	AllowPythonMultilineValues: true,
}

// Apply sets every pair and rewrites the file only if a value actually
// differs. section is used for keys without an entry in Sections; an empty
// section means DefaultSection. Lines of keys not being set are kept
// byte for byte. The returned bool reports whether the file was rewritten.
func (w *Writer) Apply(pairs []Pair, section string) (bool, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", w.path, err)
	}
	doc := parseDocument(data)

	changed := false
	for _, p := range pairs {
		name := resolveSection(p.Key, section)
		// Raw text is compared; %(here)s references are never expanded.
		if cur, ok := doc.value(name, p.Key); ok && cur == p.Value {
			continue
		}
		doc.set(name, p.Key, p.Value)
		changed = true
		w.logger.Info("ini value updated",
			logger.String("section", name),
			logger.String("key", p.Key))
	}

	if !changed {
		return false, nil
	}
	out := doc.bytes()
	if _, err := ini.LoadSources(loadOptions, out); err != nil {
		return false, fmt.Errorf("refusing to write unparseable %s: %w", w.path, err)
	}
	if err := writeAtomic(w.path, func(dst io.Writer) (int64, error) {
		n, err := dst.Write(out)
		return int64(n), err
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the raw value of key in section.
func (w *Writer) Get(section, key string) (string, bool, error) {
	f, err := ini.LoadSources(loadOptions, w.path)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", w.path, err)
	}
	sec, err := f.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return "", false, nil
	}
	return sec.Key(key).Value(), true, nil
}

func resolveSection(key, section string) string {
	if s, ok := Sections[key]; ok {
		return s
	}
	if section != "" {
		return section
	}
	return DefaultSection
}

// writeAtomic serializes into a temp file next to path and renames it over
// path, keeping the original permissions.
func writeAtomic(path string, write func(io.Writer) (int64, error)) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
