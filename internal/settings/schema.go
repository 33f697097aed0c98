package settings

import (
	"fmt"
	"strconv"
)

// Schema mirrors the options block of the charm's config.yaml.
type Schema struct {
	Options map[string]Option `yaml:"options"`
}

// Option declares one setting.
type Option struct {
	Type        string `yaml:"type"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

// normalize renders a yaml scalar as the string written to the ini file and
// checks it against the declared type.
func (o Option) normalize(name string, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s := fmt.Sprint(v)
	switch o.Type {
	case "int":
		if _, err := strconv.Atoi(s); err != nil {
			return "", fmt.Errorf("setting %s: %q is not an int", name, s)
		}
	case "float":
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "", fmt.Errorf("setting %s: %q is not a float", name, s)
		}
	case "boolean":
		if _, err := strconv.ParseBool(s); err != nil {
			return "", fmt.Errorf("setting %s: %q is not a boolean", name, s)
		}
	}
	return s, nil
}
