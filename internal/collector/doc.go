// Package collector runs the per-account cost pipeline on a polling schedule.
//
// Every cycle walks the configured target accounts and, for each one, runs
// credentials -> query -> aggregate -> publish. An account that fails at any
// stage is logged, counted and skipped until the next cycle; the other
// accounts in the same cycle are unaffected and previously published values
// stay exported.
//
// CostCollector also implements prometheus.Collector for the exporter's own
// health metrics:
//   - aws_cost_exporter_account_up: 1 if the account's last fetch succeeded
//   - aws_cost_exporter_cycle_duration_seconds: duration of the last cycle
//   - aws_cost_exporter_last_cycle_timestamp_seconds: end of the last cycle
//   - aws_cost_exporter_samples_count: samples published in the last cycle
//   - aws_cost_exporter_scrape_errors_total: failed fetches by account and stage
//   - aws_cost_exporter_build_info: build version information
//
// The cost gauges themselves are owned by the metrics.Sink passed in.
//
// Example usage:
//
//	sink := metrics.NewGaugeSink(cfg.MetricName, schema)
//	costCollector := collector.NewCostCollector(assumer, costClient, sink, cfg, log)
//
//	registry.MustRegister(sink, costCollector)
//	costCollector.StartBackgroundRefresh(ctx)
package collector
