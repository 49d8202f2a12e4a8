package invocation

import (
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Flag is one passthrough option. Value may be a bool, string, number, or a
// slice of those; anything else is rendered with fmt.Sprint.
type Flag struct {
	Name  string
	Value any
}

// Flags is an ordered list of passthrough options.
type Flags []Flag

// reserved names are owned by the builder and never forwarded as passthrough.
var reserved = map[string]bool{
	"bundler":     true,
	"bundle-exec": true,
	"container":   true,
	"sourcemap":   true,
	"update":      true,
	"watch":       true,
	"poll":        true,
}

// Set appends name=value, replacing an existing flag with the same name in
// place so ordering stays stable.
func (fs *Flags) Set(name string, value any) {
	for i := range *fs {
		if (*fs)[i].Name == name {
			(*fs)[i].Value = value
			return
		}
	}
	*fs = append(*fs, Flag{Name: name, Value: value})
}

// ParseFlag parses "key=value" or "key" (a presence flag) as given on the
// command line. "true"/"false" become booleans.
func ParseFlag(s string) (Flag, error) {
	s = strings.TrimSpace(strings.TrimLeft(s, "-"))
	if s == "" {
		return Flag{}, fmt.Errorf("empty flag")
	}
	name, value, ok := strings.Cut(s, "=")
	if name == "" {
		return Flag{}, fmt.Errorf("flag %q has no name", s)
	}
	if !ok {
		return Flag{Name: name, Value: true}, nil
	}
	switch value {
	case "true":
		return Flag{Name: name, Value: true}, nil
	case "false":
		return Flag{Name: name, Value: false}, nil
	}
	return Flag{Name: name, Value: value}, nil
}

// Args renders the flags as CLI arguments, skipping reserved names.
func (fs Flags) Args() []string {
	var args []string
	for _, f := range fs {
		name := FlagName(f.Name)
		if name == "" || reserved[name] {
			continue
		}
		args = append(args, renderFlag(name, f.Value)...)
	}
	return args
}

func renderFlag(name string, value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return []string{"--" + name}
		}
		return nil
	case string:
		return []string{"--" + name, v}
	case []string:
		var out []string
		for _, s := range v {
			out = append(out, "--"+name, s)
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, renderFlag(name, item)...)
		}
		return out
	default:
		return []string{"--" + name, fmt.Sprint(v)}
	}
}

// FlagName converts a camelCase option key into its kebab-case flag name.
// Keys that are already kebab-case pass through unchanged.
func FlagName(key string) string {
	runes := []rune(strings.TrimLeft(strings.TrimSpace(key), "-"))
	var b strings.Builder
	for i, r := range runes {
		if r == '_' {
			b.WriteByte('-')
			continue
		}
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		// Acronyms stay together: sourceMapURL, URLPath.
		if i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// UnmarshalYAML decodes a YAML mapping into Flags, keeping document order.
func (fs *Flags) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: flags must be a mapping", node.Line)
	}
	out := make(Flags, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var v any
		if err := val.Decode(&v); err != nil {
			return fmt.Errorf("flag %q: %w", key.Value, err)
		}
		out = append(out, Flag{Name: key.Value, Value: v})
	}
	*fs = out
	return nil
}
