// Package config provides configuration management for the AWS Cost Exporter.
//
// This package handles loading configuration from YAML files, expanding
// ${VAR} references, applying environment variable overrides, setting
// defaults, and validating the configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority)
//  2. YAML configuration file, with ${VAR} references expanded
//  3. Default values (lowest priority)
//
// Supported environment variables:
//   - AWS_COST_POLLING_INTERVAL: Polling interval in seconds (minimum: 60)
//   - AWS_COST_EXPORTER_PORT: HTTP server port (1-65535)
//   - AWS_COST_LOG_LEVEL: Log level (debug, info, warn, error)
//   - AWS_COST_LOG_FORMAT: Log format (json, text)
//   - AWS_COST_METRIC_NAME: Name of the exported cost gauge
//   - AWS_COST_ASSUMED_ROLE_NAME: Role assumed in every target account
//   - AWS_COST_QUERY_REGION: Region of the Cost Explorer endpoint
//   - AWS_COST_MAX_CONCURRENT_ACCOUNTS: Accounts fetched in parallel
//
// Every entry of target_aws_accounts is a map of label names to values and
// must contain the account label (Publisher unless account_label says
// otherwise). All entries must share exactly the same label names, because
// they become the label schema of the exported gauge.
//
// Example configuration file (config.yaml):
//
//	polling_interval_seconds: 28800
//	metric_name: aws_daily_cost_usd
//	aws_assumed_role_name: cost-exporter-reader
//	exporter_port: 9090
//
//	group_by:
//	  enabled: true
//	  groups:
//	    - type: DIMENSION
//	      key: SERVICE
//	      label_name: ServiceName
//	    - type: TAG
//	      key: Team
//	      label_name: Team
//	  merge_minor_cost:
//	    enabled: true
//	    threshold: 10
//	    tag_value: other
//
//	target_aws_accounts:
//	  - Publisher: "123456789012"
//	    ProjectName: myproject
//	    EnvironmentName: ${DEPLOY_ENV}
package config
