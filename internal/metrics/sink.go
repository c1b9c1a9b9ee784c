package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DailyCostHelp is the help text of the exported cost gauge
const DailyCostHelp = "Daily cost of an AWS account in USD"

// Sink accepts cost samples. Implementations must be safe for concurrent use.
type Sink interface {
	Set(labels LabelSet, value float64) error
}

// GaugeSink publishes samples into a Prometheus gauge family whose label
// names are the schema's. Series are never deleted, so an account that fails
// a cycle keeps exposing its last values.
type GaugeSink struct {
	schema Schema
	gauge  *prometheus.GaugeVec
}

var (
	_ Sink                 = (*GaugeSink)(nil)
	_ prometheus.Collector = (*GaugeSink)(nil)
)

// NewGaugeSink creates the gauge family. Register it on a registry to expose it.
func NewGaugeSink(metricName string, schema Schema) *GaugeSink {
	return &GaugeSink{
		schema: schema,
		gauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricName,
				Help: DailyCostHelp,
			},
			schema.Names(),
		),
	}
}

// Set stores value for the label set after checking it against the schema
func (s *GaugeSink) Set(labels LabelSet, value float64) error {
	if err := s.schema.Validate(labels); err != nil {
		return err
	}

	g, err := s.gauge.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("failed to resolve gauge: %w", err)
	}
	g.Set(value)
	return nil
}

// Schema returns the label schema of the sink
func (s *GaugeSink) Schema() Schema {
	return s.schema
}

// Describe implements prometheus.Collector
func (s *GaugeSink) Describe(ch chan<- *prometheus.Desc) {
	s.gauge.Describe(ch)
}

// Collect implements prometheus.Collector
func (s *GaugeSink) Collect(ch chan<- prometheus.Metric) {
	s.gauge.Collect(ch)
}
