package inifile

import (
	"slices"
	"strings"
)

const continuationIndent = "    "

// document holds an ini file as lines so that setting a key rewrites only
// that key's lines. Continuation lines (indented lines following a key)
// belong to the key above them, as in Python's configparser.
type document struct {
	lines []string
}

func parseDocument(data []byte) *document {
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return &document{}
	}
	return &document{lines: strings.Split(s, "\n")}
}

func (d *document) bytes() []byte {
	if len(d.lines) == 0 {
		return nil
	}
	return []byte(strings.Join(d.lines, "\n") + "\n")
}

func isBlank(line string) bool { return strings.TrimSpace(line) == "" }

func isIndented(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

func isComment(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "#") || strings.HasPrefix(t, ";")
}

func sectionHeader(line string) (string, bool) {
	if isIndented(line) {
		return "", false
	}
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, "[") {
		return "", false
	}
	end := strings.LastIndexByte(t, ']')
	if end < 0 {
		return "", false
	}
	return t[1:end], true
}

// keyLine returns the key name on line and the index of its delimiter.
func keyLine(line string) (string, int, bool) {
	if isIndented(line) || isBlank(line) || isComment(line) {
		return "", 0, false
	}
	if _, ok := sectionHeader(line); ok {
		return "", 0, false
	}
	i := strings.IndexAny(line, "=:")
	if i <= 0 {
		return "", 0, false
	}
	return strings.TrimSpace(line[:i]), i, true
}

// section returns the body of the named section as the half-open line
// range [start, end).
func (d *document) section(name string) (int, int, bool) {
	start := -1
	for i, l := range d.lines {
		n, ok := sectionHeader(l)
		if !ok {
			continue
		}
		if start >= 0 {
			return start, i, true
		}
		if n == name {
			start = i + 1
		}
	}
	if start >= 0 {
		return start, len(d.lines), true
	}
	return 0, 0, false
}

// find locates key in section, returning the key line and the index just
// past its last continuation line.
func (d *document) find(section, key string) (int, int, bool) {
	start, stop, ok := d.section(section)
	if !ok {
		return 0, 0, false
	}
	for i := start; i < stop; i++ {
		name, _, isKey := keyLine(d.lines[i])
		if !isKey || !strings.EqualFold(name, key) {
			continue
		}
		end := i + 1
		for j := i + 1; j < stop; j++ {
			if isBlank(d.lines[j]) {
				continue
			}
			if !isIndented(d.lines[j]) {
				break
			}
			end = j + 1
		}
		return i, end, true
	}
	return 0, 0, false
}

// value returns the raw value of key with continuation lines joined by '\n'.
func (d *document) value(section, key string) (string, bool) {
	first, end, ok := d.find(section, key)
	if !ok {
		return "", false
	}
	_, delim, _ := keyLine(d.lines[first])
	parts := []string{strings.TrimSpace(d.lines[first][delim+1:])}
	for _, l := range d.lines[first+1 : end] {
		if !isBlank(l) {
			parts = append(parts, strings.TrimSpace(l))
		}
	}
	return strings.Join(parts, "\n"), true
}

// set replaces key in section, or appends it to the section, or appends the
// section to the file.
func (d *document) set(section, key, value string) {
	if first, end, ok := d.find(section, key); ok {
		_, delim, _ := keyLine(d.lines[first])
		d.splice(first, end, formatKey(d.lines[first][:delim+1], value))
		return
	}

	if start, stop, ok := d.section(section); ok {
		at := stop
		for at > start && (isBlank(d.lines[at-1]) || (isComment(d.lines[at-1]) && !isIndented(d.lines[at-1]))) {
			at--
		}
		d.splice(at, at, formatKey(key+" =", value))
		return
	}

	if n := len(d.lines); n > 0 && !isBlank(d.lines[n-1]) {
		d.lines = append(d.lines, "")
	}
	d.lines = append(d.lines, "["+section+"]")
	d.lines = append(d.lines, formatKey(key+" =", value)...)
}

func (d *document) splice(from, to int, repl []string) {
	d.lines = slices.Concat(d.lines[:from], repl, d.lines[to:])
}

// formatKey renders prefix (the key and its delimiter) followed by value,
// putting any further lines of value on indented continuation lines.
func formatKey(prefix, value string) []string {
	vals := strings.Split(value, "\n")
	out := []string{strings.TrimRight(strings.TrimRight(prefix, " \t")+" "+vals[0], " \t")}
	for _, v := range vals[1:] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, continuationIndent+v)
		}
	}
	return out
}
