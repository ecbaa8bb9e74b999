package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// envRef matches ${NAME} inside a YAML string value.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// coerceToJSONBytes lets YAML and JSON files share the strict JSON decoder. YAML is walked
// node by node so errors carry line numbers, and ${NAME} in string values is replaced from
// the environment. Other extensions are treated as JSON and returned as is.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", path, err)
	}
	if root.Kind == 0 {
		return []byte("{}"), "yaml", nil
	}
	v, err := nodeValue(&root)
	if err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", path, err)
	}
	if v == nil {
		return []byte("{}"), "yaml", nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", path, err)
	}
	return out, "yaml", nil
}

func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, vn := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be plain strings", k.Line)
			}
			if k.Tag == "!!merge" {
				return nil, fmt.Errorf("line %d: merge keys are not supported", k.Line)
			}
			if _, dup := m[k.Value]; dup {
				return nil, fmt.Errorf("line %d: key %q is set twice", k.Line, k.Value)
			}
			v, err := nodeValue(vn)
			if err != nil {
				return nil, err
			}
			m[k.Value] = v
		}
		return m, nil
	case yaml.SequenceNode:
		s := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			s = append(s, v)
		}
		return s, nil
	case yaml.ScalarNode:
		if n.ShortTag() == "!!str" {
			return expandEnv(n)
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported YAML node", n.Line)
}

func expandEnv(n *yaml.Node) (string, error) {
	var missing []string
	s := envRef.ReplaceAllStringFunc(n.Value, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("line %d: environment variable %s is not set", n.Line, strings.Join(missing, ", "))
	}
	return s, nil
}
