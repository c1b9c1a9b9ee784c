// Package aggregator turns Cost Explorer results into labeled cost samples.
package aggregator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
	"github.com/zgpcy/aws-cost-exporter/internal/metrics"
)

const (
	// CostMetric is the Cost Explorer metric requested and read back
	CostMetric = "UnblendedCost"

	// ChargeTypeUsage is the only charge type queried
	ChargeTypeUsage = "Usage"
)

// MalformedRecordError reports a Cost Explorer result that does not have
// the shape the query asked for.
type MalformedRecordError struct {
	Record int // index of the ResultByTime
	Group  int // index of the group within the record, -1 for the total
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	where := fmt.Sprintf("record %d", e.Record)
	if e.Group >= 0 {
		where = fmt.Sprintf("record %d group %d", e.Record, e.Group)
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed cost record (%s): %s: %v", where, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed cost record (%s): %s", where, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// Aggregate maps the records of one target into samples.
//
// Without grouping every record yields one sample with the record total.
// With grouping every group yields one sample labeled with its key values,
// except that groups cheaper than the merge threshold are summed per record
// into a single sample whose group labels are all set to the merge tag value.
//
// Aggregate has no side effects: the same input always produces the same
// samples in the same order.
func Aggregate(target config.Target, groupBy config.GroupBy, records []types.ResultByTime) ([]metrics.Sample, error) {
	var samples []metrics.Sample

	for i, record := range records {
		var (
			recordSamples []metrics.Sample
			err           error
		)
		if groupBy.Enabled {
			recordSamples, err = aggregateGroups(target, groupBy, i, record)
		} else {
			recordSamples, err = aggregateTotal(target, i, record)
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, recordSamples...)
	}

	return samples, nil
}

func aggregateTotal(target config.Target, idx int, record types.ResultByTime) ([]metrics.Sample, error) {
	cost, err := parseAmount(record.Total)
	if err != nil {
		return nil, &MalformedRecordError{Record: idx, Group: -1, Reason: "invalid total", Err: err}
	}

	return []metrics.Sample{{Labels: baseLabels(target), Value: cost}}, nil
}

func aggregateGroups(target config.Target, groupBy config.GroupBy, idx int, record types.ResultByTime) ([]metrics.Sample, error) {
	var (
		samples []metrics.Sample
		merged  float64
	)
	merge := groupBy.MergeMinorCost

	for j, group := range record.Groups {
		cost, err := parseAmount(group.Metrics)
		if err != nil {
			return nil, &MalformedRecordError{Record: idx, Group: j, Reason: "invalid amount", Err: err}
		}

		values, err := groupLabelValues(groupBy.Groups, group.Keys)
		if err != nil {
			return nil, &MalformedRecordError{Record: idx, Group: j, Reason: "invalid keys", Err: err}
		}

		if merge.Enabled && cost < merge.Threshold {
			merged += cost
			continue
		}

		labels := baseLabels(target)
		for k, g := range groupBy.Groups {
			labels[g.LabelName] = values[k]
		}
		samples = append(samples, metrics.Sample{Labels: labels, Value: cost})
	}

	if merged > 0 {
		labels := baseLabels(target)
		for _, g := range groupBy.Groups {
			labels[g.LabelName] = merge.TagValue
		}
		samples = append(samples, metrics.Sample{Labels: labels, Value: merged})
	}

	return samples, nil
}

// groupLabelValues derives one label value per configured group from the
// keys Cost Explorer returned, matched by position.
func groupLabelValues(groups []config.Group, keys []string) ([]string, error) {
	if len(keys) != len(groups) {
		return nil, fmt.Errorf("got %d keys for %d configured groups", len(keys), len(groups))
	}

	values := make([]string, len(groups))
	for i, g := range groups {
		v, err := labelValue(g, keys[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// labelValue extracts the label value from a returned group key. Tag and
// cost category keys come back as "<name>$<value>"; dimension keys are the
// value itself.
func labelValue(g config.Group, key string) (string, error) {
	switch types.GroupDefinitionType(g.Type) {
	case types.GroupDefinitionTypeTag, types.GroupDefinitionTypeCostCategory:
		_, value, found := strings.Cut(key, "$")
		if !found {
			return "", fmt.Errorf("%s key %q has no '$' separator", g.Type, key)
		}
		return value, nil
	default:
		return key, nil
	}
}

func parseAmount(m map[string]types.MetricValue) (float64, error) {
	v, ok := m[CostMetric]
	if !ok {
		return 0, fmt.Errorf("missing %s metric", CostMetric)
	}
	if v.Amount == nil {
		return 0, fmt.Errorf("%s has no amount", CostMetric)
	}
	cost, err := strconv.ParseFloat(*v.Amount, 64)
	if err != nil {
		return 0, fmt.Errorf("%s amount %q: %w", CostMetric, *v.Amount, err)
	}
	return cost, nil
}

func baseLabels(target config.Target) metrics.LabelSet {
	labels := metrics.LabelSet(target.Labels())
	if labels == nil {
		labels = metrics.LabelSet{}
	}
	labels[config.ChargeTypeLabel] = ChargeTypeUsage
	return labels
}
