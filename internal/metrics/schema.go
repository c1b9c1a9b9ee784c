package metrics

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
)

// ErrSchemaMismatch is returned when a label set does not carry exactly the
// label names of the schema.
var ErrSchemaMismatch = errors.New("label set does not match metric schema")

// LabelSet is the full set of labels attached to one cost sample
type LabelSet map[string]string

// Sample is one labeled cost value
type Sample struct {
	Labels LabelSet
	Value  float64
}

// String renders the sample with sorted labels, for logs and test diffs
func (s Sample) String() string {
	keys := lo.Keys(map[string]string(s.Labels))
	slices.Sort(keys)
	pairs := lo.Map(keys, func(k string, _ int) string { return fmt.Sprintf("%s=%q", k, s.Labels[k]) })
	return fmt.Sprintf("{%s} %v", strings.Join(pairs, ","), s.Value)
}

// Schema is the sorted, fixed set of label names every sample must carry
type Schema struct {
	names []string
}

// NewSchema builds the schema from the target label names and the group
// label names. ChargeType is always included. Repeated names are an error.
func NewSchema(targetKeys, groupLabels []string) (Schema, error) {
	names := make([]string, 0, len(targetKeys)+len(groupLabels)+1)
	names = append(names, targetKeys...)
	names = append(names, config.ChargeTypeLabel)
	names = append(names, groupLabels...)

	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return Schema{}, fmt.Errorf("duplicate label names %v", dups)
	}
	if slices.Contains(names, "") {
		return Schema{}, fmt.Errorf("empty label name")
	}

	slices.Sort(names)
	return Schema{names: names}, nil
}

// SchemaFor derives the schema from the first target and the grouping setup
func SchemaFor(cfg *config.Config) (Schema, error) {
	if len(cfg.Targets) == 0 {
		return Schema{}, fmt.Errorf("no targets configured")
	}
	return NewSchema(cfg.Targets[0].Keys(), cfg.GroupBy.LabelNames())
}

// Names returns the label names in sorted order
func (s Schema) Names() []string {
	return slices.Clone(s.names)
}

// Validate reports whether labels carries exactly the schema's label names
func (s Schema) Validate(labels LabelSet) error {
	if len(labels) != len(s.names) {
		return fmt.Errorf("%w: got %v, want %v", ErrSchemaMismatch, sortedKeys(labels), s.names)
	}
	for _, name := range s.names {
		if _, ok := labels[name]; !ok {
			return fmt.Errorf("%w: missing %q (got %v)", ErrSchemaMismatch, name, sortedKeys(labels))
		}
	}
	return nil
}

func sortedKeys(labels LabelSet) []string {
	keys := lo.Keys(map[string]string(labels))
	slices.Sort(keys)
	return keys
}
