package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Configuration validation constants
const (
	MinPollingInterval   = 60    // Minimum polling interval in seconds
	MinPort              = 1     // Minimum valid port number
	MaxPort              = 65535 // Maximum valid port number
	MaxAPITimeout        = 300   // Maximum per-call timeout in seconds
	MaxGroups            = 2     // Cost Explorer accepts at most two group definitions
	MinAssumeRoleSeconds = 900
	MaxAssumeRoleSeconds = 43200

	// Default values
	DefaultPollingInterval       = 3600 // 1 hour in seconds
	DefaultMetricName            = "aws_daily_cost_usd"
	DefaultPartition             = "aws"
	DefaultQueryRegion           = "us-east-1"
	DefaultAccountLabel          = "Publisher"
	DefaultExporterPort          = 9090
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "json"
	DefaultAPITimeout            = 30 // API timeout in seconds
	DefaultAPIRateLimit          = 5  // requests per second
	DefaultMaxConcurrentAccounts = 1
	DefaultMergedTagValue        = "other"
)

// ChargeTypeLabel is the label every cost sample carries in addition to the
// target and group labels.
const ChargeTypeLabel = "ChargeType"

// GroupTypeTag is the group type whose returned keys are "<tag>$<value>"
const GroupTypeTag = "TAG"

// Group is one Cost Explorer group definition and the label it feeds
type Group struct {
	Type      string `yaml:"type"`
	Key       string `yaml:"key"`
	LabelName string `yaml:"label_name"`
}

// MergeMinorCost folds groups cheaper than Threshold into one TagValue bucket
type MergeMinorCost struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	TagValue  string  `yaml:"tag_value"`
}

// GroupBy represents the grouping configuration
type GroupBy struct {
	Enabled        bool           `yaml:"enabled"`
	Groups         []Group        `yaml:"groups"`
	MergeMinorCost MergeMinorCost `yaml:"merge_minor_cost"`
}

// LabelNames returns the label names of the configured groups, in order.
// It is empty when grouping is disabled.
func (g GroupBy) LabelNames() []string {
	if !g.Enabled {
		return nil
	}
	return lo.Map(g.Groups, func(group Group, _ int) string { return group.LabelName })
}

// Config represents the application configuration
type Config struct {
	PollingInterval       int      `yaml:"polling_interval_seconds"`
	MetricName            string   `yaml:"metric_name"`
	AssumedRoleName       string   `yaml:"aws_assumed_role_name"`
	Partition             string   `yaml:"aws_partition"`
	AssumeRoleDuration    int      `yaml:"assume_role_duration_seconds"`
	QueryRegion           string   `yaml:"query_region"`
	AccountLabel          string   `yaml:"account_label"`
	ExporterPort          int      `yaml:"exporter_port"`
	LogLevel              string   `yaml:"log_level"`
	LogFormat             string   `yaml:"log_format"`
	APITimeout            int      `yaml:"api_timeout_seconds"`
	APIRateLimit          float64  `yaml:"api_rate_limit"`
	MaxConcurrentAccounts int      `yaml:"max_concurrent_accounts"`
	GroupBy               GroupBy  `yaml:"group_by"`
	Targets               []Target `yaml:"target_aws_accounts"`
}

// AccountID returns the account identifier of a target
func (c *Config) AccountID(t Target) string {
	id, _ := t.Get(c.AccountLabel)
	return id
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load loads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 -- Config file path is provided by administrator via CLI flag, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded, err := expandEnvRefs(data)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment variable error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnvRefs replaces ${VAR} references with the value of VAR.
// Referencing an unset variable is an error.
func expandEnvRefs(data []byte) ([]byte, error) {
	var missing []string
	out := envRefPattern.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := string(envRefPattern.FindSubmatch(ref)[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ref
		}
		return []byte(val)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("referenced environment variables are not set: %v", lo.Uniq(missing))
	}
	return out, nil
}

// applyDefaults sets default values for configuration
func applyDefaults(cfg *Config) {
	if cfg.PollingInterval == 0 {
		cfg.PollingInterval = DefaultPollingInterval
	}
	if cfg.MetricName == "" {
		cfg.MetricName = DefaultMetricName
	}
	if cfg.Partition == "" {
		cfg.Partition = DefaultPartition
	}
	if cfg.QueryRegion == "" {
		cfg.QueryRegion = DefaultQueryRegion
	}
	if cfg.AccountLabel == "" {
		cfg.AccountLabel = DefaultAccountLabel
	}
	if cfg.ExporterPort == 0 {
		cfg.ExporterPort = DefaultExporterPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	if cfg.APITimeout == 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	if cfg.APIRateLimit == 0 {
		cfg.APIRateLimit = DefaultAPIRateLimit
	}
	if cfg.MaxConcurrentAccounts == 0 {
		cfg.MaxConcurrentAccounts = DefaultMaxConcurrentAccounts
	}
	if cfg.GroupBy.MergeMinorCost.Enabled && cfg.GroupBy.MergeMinorCost.TagValue == "" {
		cfg.GroupBy.MergeMinorCost.TagValue = DefaultMergedTagValue
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("AWS_COST_POLLING_INTERVAL"); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid AWS_COST_POLLING_INTERVAL: must be an integer, got %q", val)
		}
		cfg.PollingInterval = i
	}

	if val := os.Getenv("AWS_COST_EXPORTER_PORT"); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid AWS_COST_EXPORTER_PORT: must be an integer, got %q", val)
		}
		cfg.ExporterPort = i
	}

	if val := os.Getenv("AWS_COST_MAX_CONCURRENT_ACCOUNTS"); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid AWS_COST_MAX_CONCURRENT_ACCOUNTS: must be an integer, got %q", val)
		}
		cfg.MaxConcurrentAccounts = i
	}

	if val := os.Getenv("AWS_COST_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("AWS_COST_LOG_FORMAT"); val != "" {
		cfg.LogFormat = val
	}
	if val := os.Getenv("AWS_COST_METRIC_NAME"); val != "" {
		cfg.MetricName = val
	}
	if val := os.Getenv("AWS_COST_ASSUMED_ROLE_NAME"); val != "" {
		cfg.AssumedRoleName = val
	}
	if val := os.Getenv("AWS_COST_QUERY_REGION"); val != "" {
		cfg.QueryRegion = val
	}

	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if err := validateTargets(cfg); err != nil {
		return err
	}

	if err := validateGroupBy(cfg); err != nil {
		return err
	}

	if cfg.AssumedRoleName == "" {
		return fmt.Errorf("aws_assumed_role_name is required")
	}

	if cfg.PollingInterval < MinPollingInterval {
		return fmt.Errorf("polling_interval_seconds must be at least %d, got %d", MinPollingInterval, cfg.PollingInterval)
	}

	if cfg.ExporterPort < MinPort || cfg.ExporterPort > MaxPort {
		return fmt.Errorf("exporter_port must be between %d and %d", MinPort, MaxPort)
	}

	if cfg.APITimeout <= 0 || cfg.APITimeout > MaxAPITimeout {
		return fmt.Errorf("api_timeout_seconds must be between 1 and %d, got %d", MaxAPITimeout, cfg.APITimeout)
	}

	if cfg.APIRateLimit <= 0 {
		return fmt.Errorf("api_rate_limit must be positive, got %v", cfg.APIRateLimit)
	}

	if cfg.MaxConcurrentAccounts < 1 {
		return fmt.Errorf("max_concurrent_accounts must be at least 1, got %d", cfg.MaxConcurrentAccounts)
	}

	if d := cfg.AssumeRoleDuration; d != 0 && (d < MinAssumeRoleSeconds || d > MaxAssumeRoleSeconds) {
		return fmt.Errorf("assume_role_duration_seconds must be between %d and %d, got %d",
			MinAssumeRoleSeconds, MaxAssumeRoleSeconds, d)
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("log_format must be json or text, got %q", cfg.LogFormat)
	}

	return nil
}

// validateTargets checks that every target carries the account label and
// that all targets share the label schema of the first one.
func validateTargets(cfg *Config) error {
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("at least one target in target_aws_accounts is required")
	}

	first := cfg.Targets[0].Keys()
	if !slices.Contains(first, cfg.AccountLabel) {
		return fmt.Errorf("%s is a mandatory key in target_aws_accounts", cfg.AccountLabel)
	}
	if slices.Contains(first, ChargeTypeLabel) {
		return fmt.Errorf("%s is reserved and cannot be used as a target label", ChargeTypeLabel)
	}

	for i, t := range cfg.Targets {
		if !sameKeys(first, t.Keys()) {
			return fmt.Errorf("target at index %d has labels %v, want the same set as the first target %v",
				i, t.Keys(), first)
		}
		if cfg.AccountID(t) == "" {
			return fmt.Errorf("target at index %d has an empty %s", i, cfg.AccountLabel)
		}
	}

	return nil
}

func validateGroupBy(cfg *Config) error {
	gb := cfg.GroupBy
	if !gb.Enabled {
		return nil
	}

	if len(gb.Groups) < 1 || len(gb.Groups) > MaxGroups {
		return fmt.Errorf("group_by.groups must have between 1 and %d entries when grouping is enabled, got %d",
			MaxGroups, len(gb.Groups))
	}

	validTypes := lo.Map(types.GroupDefinitionType("").Values(), func(t types.GroupDefinitionType, _ int) string {
		return string(t)
	})

	taken := append([]string{ChargeTypeLabel}, cfg.Targets[0].Keys()...)
	for i, g := range gb.Groups {
		if !slices.Contains(validTypes, g.Type) {
			return fmt.Errorf("group_by.groups[%d].type must be one of %v, got %q", i, validTypes, g.Type)
		}
		if g.Key == "" {
			return fmt.Errorf("group_by.groups[%d].key is required", i)
		}
		if g.LabelName == "" {
			return fmt.Errorf("group_by.groups[%d].label_name is required", i)
		}
		if slices.Contains(taken, g.LabelName) {
			return fmt.Errorf("group_by.groups[%d].label_name %q collides with another label", i, g.LabelName)
		}
		taken = append(taken, g.LabelName)
	}

	if gb.MergeMinorCost.Enabled && gb.MergeMinorCost.Threshold <= 0 {
		return fmt.Errorf("group_by.merge_minor_cost.threshold must be positive, got %v", gb.MergeMinorCost.Threshold)
	}

	return nil
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return len(lo.Without(a, b...)) == 0
}
