// Package format converts key space subtrees to documents and back.
// Directories become nested objects (sections for ini), files become string leaves.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/chroma/v2/quick"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/umputun/petcd/lib/petcd"
)

// Format is a document format.
type Format string

// supported formats
const (
	JSON Format = "json"
	YAML Format = "yaml"
	TOML Format = "toml"
	INI  Format = "ini"
)

// Parse returns the format by name.
func Parse(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case JSON, YAML, TOML, INI:
		return f, nil
	case "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("unsupported format %q", name)
}

// FromPath detects the format by file extension.
func FromPath(p string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(p), ".")
	if ext == "" {
		return "", fmt.Errorf("can't detect format of %s without extension", p)
	}
	return Parse(ext)
}

// Tree converts a recursive listing into a nested map keyed by the base names of the nodes.
// A file at the top gives a single-entry map.
func Tree(n *petcd.Node) map[string]any {
	if n == nil {
		return map[string]any{}
	}
	if !n.Dir {
		return map[string]any{path.Base(n.Key): n.String()}
	}
	res := make(map[string]any, len(n.Nodes))
	for _, child := range n.Nodes {
		name := path.Base(child.Key)
		if child.Dir {
			res[name] = Tree(child)
			continue
		}
		res[name] = child.String()
	}
	return res
}

// Encode renders the tree as a document.
func Encode(tree map[string]any, f Format) ([]byte, error) {
	switch f {
	case JSON:
		data, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		return append(data, '\n'), nil
	case YAML:
		data, err := yaml.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return data, nil
	case TOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(tree); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return buf.Bytes(), nil
	case INI:
		return encodeINI(tree)
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

// Decode parses a document into values keyed by slash-separated paths relative to the document root.
// Scalars are stored in their text form, list elements get their index as the key.
func Decode(data []byte, f Format) (map[string]string, error) {
	var doc map[string]any
	switch f {
	case JSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	case YAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	case TOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode toml: %w", err)
		}
	case INI:
		return decodeINI(data)
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}

	res := map[string]string{}
	flatten("", doc, res)
	return res, nil
}

// Highlight writes the document with terminal colors.
func Highlight(w io.Writer, data []byte, f Format) error {
	if err := quick.Highlight(w, string(data), string(f), "terminal256", "monokai"); err != nil {
		return fmt.Errorf("failed to highlight %s: %w", f, err)
	}
	return nil
}

// SortedKeys returns keys of the map in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, v any, res map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flatten(path.Join(prefix, k), child, res)
		}
	case []any:
		for i, child := range val {
			flatten(path.Join(prefix, strconv.Itoa(i)), child, res)
		}
	case []map[string]any: // toml array of tables
		for i, child := range val {
			flatten(path.Join(prefix, strconv.Itoa(i)), child, res)
		}
	case nil:
		res[prefix] = ""
	case string:
		res[prefix] = val
	default:
		res[prefix] = fmt.Sprint(val)
	}
}

// encodeINI puts root leaves into the default section and every directory with leaves into
// a section named by its dotted path.
func encodeINI(tree map[string]any) ([]byte, error) {
	cfg := ini.Empty()
	var walk func(section string, m map[string]any) error
	walk = func(section string, m map[string]any) error {
		for _, k := range SortedKeys(m) {
			switch val := m[k].(type) {
			case map[string]any:
				name := k
				if section != "" {
					name = section + "." + k
				}
				if err := walk(name, val); err != nil {
					return err
				}
			default:
				sec, err := iniSection(cfg, section)
				if err != nil {
					return err
				}
				if _, err := sec.NewKey(k, fmt.Sprint(val)); err != nil {
					return fmt.Errorf("failed to add ini key %s: %w", k, err)
				}
			}
		}
		return nil
	}
	if err := walk("", tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode ini: %w", err)
	}
	return buf.Bytes(), nil
}

// iniSection returns the named section, creating it if missing. Empty name is the default section.
func iniSection(cfg *ini.File, name string) (*ini.Section, error) {
	if name == "" {
		name = ini.DefaultSection
	}
	if sec, err := cfg.GetSection(name); err == nil {
		return sec, nil
	}
	sec, err := cfg.NewSection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to add ini section %s: %w", name, err)
	}
	return sec, nil
}

func decodeINI(data []byte) (map[string]string, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ini: %w", err)
	}
	res := map[string]string{}
	for _, sec := range cfg.Sections() {
		prefix := ""
		if sec.Name() != ini.DefaultSection {
			prefix = strings.ReplaceAll(sec.Name(), ".", "/")
		}
		for _, key := range sec.Keys() {
			res[path.Join(prefix, key.Name())] = key.Value()
		}
	}
	return res, nil
}
