// Package sourcemap parses v3 source maps produced by the compiler and
// rewrites them for the downstream pipeline.
package sourcemap

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
)

// Map is a v3 source map. Fields the package does not know about are kept in
// Extra and written back by Marshal.
type Map struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownFields = map[string]bool{
	"version":        true,
	"file":           true,
	"sourceRoot":     true,
	"sources":        true,
	"sourcesContent": true,
	"names":          true,
	"mappings":       true,
}

// Parse decodes a source map.
func Parse(data []byte) (*Map, error) {
	type plain Map
	var m plain
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse source map: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse source map: %w", err)
	}
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}

	out := Map(m)
	if out.Sources == nil {
		out.Sources = []string{}
	}
	if out.Names == nil {
		out.Names = []string{}
	}
	return &out, nil
}

// Marshal encodes the map, including any unknown fields from Parse.
func (m *Map) Marshal() ([]byte, error) {
	type plain Map
	data, err := json.Marshal((*plain)(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	out := *m
	out.Sources = append([]string(nil), m.Sources...)
	out.Names = append([]string(nil), m.Names...)
	out.SourcesContent = append([]*string(nil), m.SourcesContent...)
	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// DataURL returns the map as a base64 data URL suitable for an inline
// sourceMappingURL comment.
func (m *Map) DataURL() (string, error) {
	data, err := m.Marshal()
	if err != nil {
		return "", err
	}
	return "data:application/json;charset=utf8;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// mapFileComment matches `//# sourceMappingURL=...` line comments and
// `/*# sourceMappingURL=... */` block comments, including the legacy `@` form.
var mapFileComment = regexp.MustCompile(
	`(?m)(?://[@#][ \t]+sourceMappingURL=([^\s'"]+?)[ \t]*$)|(?:/\*[@#][ \t]+sourceMappingURL=([^*]+?)[ \t]*(?:\*/)[ \t]*$)`)

// RemoveMapFileComments strips every map-reference comment from src.
func RemoveMapFileComments(src string) string {
	return mapFileComment.ReplaceAllString(src, "")
}

// HasMapFileComment reports whether src still carries a map-reference comment.
func HasMapFileComment(src string) bool {
	return mapFileComment.MatchString(src)
}

// MapFileComment renders a reference comment for url. CSS only supports block
// comments.
func MapFileComment(url string) string {
	return "/*# sourceMappingURL=" + url + " */"
}
