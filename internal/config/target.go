package config

import (
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// Target is one AWS account to poll: an ordered set of label name/value
// pairs, one of which holds the account id.
type Target struct {
	keys   []string
	labels map[string]string
}

// NewTarget builds a Target from alternating name/value pairs.
// It panics on an odd number of arguments or a repeated name.
func NewTarget(pairs ...string) Target {
	if len(pairs)%2 != 0 {
		panic("config.NewTarget: odd number of arguments")
	}
	t := Target{labels: make(map[string]string, len(pairs)/2)}
	for i := 0; i < len(pairs); i += 2 {
		if err := t.add(pairs[i], pairs[i+1]); err != nil {
			panic("config.NewTarget: " + err.Error())
		}
	}
	return t
}

func (t *Target) add(name, value string) error {
	if _, dup := t.labels[name]; dup {
		return fmt.Errorf("duplicate label %q", name)
	}
	t.keys = append(t.keys, name)
	t.labels[name] = value
	return nil
}

// UnmarshalYAML decodes a mapping node, keeping the key order of the file.
// Scalar values are taken verbatim so unquoted account ids keep leading zeros.
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: target must be a mapping of label names to values", node.Line)
	}

	t.keys = nil
	t.labels = make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: target labels must be scalar name/value pairs", k.Line)
		}
		if err := t.add(k.Value, v.Value); err != nil {
			return fmt.Errorf("line %d: %w", k.Line, err)
		}
	}
	return nil
}

// Keys returns the label names in configuration order
func (t Target) Keys() []string {
	return slices.Clone(t.keys)
}

// Get returns the value of a label
func (t Target) Get(name string) (string, bool) {
	v, ok := t.labels[name]
	return v, ok
}

// Labels returns a copy of the label map
func (t Target) Labels() map[string]string {
	return maps.Clone(t.labels)
}
