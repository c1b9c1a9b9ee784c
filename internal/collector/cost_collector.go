package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zgpcy/aws-cost-exporter/internal/aggregator"
	"github.com/zgpcy/aws-cost-exporter/internal/awscost"
	"github.com/zgpcy/aws-cost-exporter/internal/clock"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
	"github.com/zgpcy/aws-cost-exporter/internal/logger"
	"github.com/zgpcy/aws-cost-exporter/internal/metrics"
	"github.com/zgpcy/aws-cost-exporter/internal/provider"
	"github.com/zgpcy/aws-cost-exporter/internal/version"
	"golang.org/x/sync/errgroup"
)

// Stage names the pipeline step an account failed in
type Stage string

// Pipeline stages, in execution order
const (
	StageCredentials Stage = "credentials"
	StageQuery       Stage = "query"
	StageAggregate   Stage = "aggregate"
	StagePublish     Stage = "publish"
)

// AccountResult is the outcome of one account's pipeline run in one cycle.
// Err is nil on success; otherwise Stage tells where it failed.
type AccountResult struct {
	AccountID string
	Samples   []metrics.Sample
	Stage     Stage
	Err       error
	Duration  time.Duration
}

// AccountStatus is the latest known state of one account
type AccountStatus struct {
	AccountID   string
	Up          bool
	LastAttempt time.Time
	LastSuccess time.Time
	LastError   string
	Samples     int
}

// CostCollector runs the cost pipeline for every target on a fixed interval
// and implements prometheus.Collector for the exporter's own health metrics.
// The cost gauges themselves live in the metrics.Sink.
type CostCollector struct {
	creds   provider.CredentialProvider
	querier provider.CostQuerier
	sink    metrics.Sink
	cfg     *config.Config
	logger  *logger.Logger
	clock   clock.Clock // Time provider for testing

	// Metrics
	accountUpMetric     *prometheus.Desc
	cycleDurationMetric *prometheus.Desc
	lastCycleTimeMetric *prometheus.Desc
	sampleCountMetric   *prometheus.Desc
	scrapeErrorsTotal   *prometheus.CounterVec
	buildInfo           *prometheus.GaugeVec

	// State
	mu                 sync.RWMutex
	accounts           map[string]AccountStatus
	lastError          error
	lastScrape         time.Time
	lastScrapeDuration time.Duration
	sampleCount        int
	refreshStarted     atomic.Bool // Prevent multiple refresh goroutines
	isReady            bool
}

// NewCostCollector creates a new CostCollector
func NewCostCollector(creds provider.CredentialProvider, querier provider.CostQuerier, sink metrics.Sink, cfg *config.Config, log *logger.Logger) *CostCollector {
	scrapeErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aws_cost_exporter_scrape_errors_total",
			Help: "Total number of failed account fetches since startup, by pipeline stage",
		},
		[]string{"account_id", "stage"},
	)

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aws_cost_exporter_build_info",
			Help: "Build version information",
		},
		[]string{"version", "git_commit", "build_date", "go_version"},
	)
	buildInfo.With(version.Get().Labels()).Set(1)

	return &CostCollector{
		creds:   creds,
		querier: querier,
		sink:    sink,
		cfg:     cfg,
		logger:  log,
		clock:   clock.RealClock{},
		accountUpMetric: prometheus.NewDesc(
			"aws_cost_exporter_account_up",
			"Was the last cost fetch for the account successful (1 = success, 0 = failure)",
			[]string{"account_id"},
			nil,
		),
		cycleDurationMetric: prometheus.NewDesc(
			"aws_cost_exporter_cycle_duration_seconds",
			"Duration of the last polling cycle over all accounts in seconds",
			nil,
			nil,
		),
		lastCycleTimeMetric: prometheus.NewDesc(
			"aws_cost_exporter_last_cycle_timestamp_seconds",
			"Unix timestamp of the end of the last polling cycle",
			nil,
			nil,
		),
		sampleCountMetric: prometheus.NewDesc(
			"aws_cost_exporter_samples_count",
			"Number of cost samples published in the last polling cycle",
			nil,
			nil,
		),
		scrapeErrorsTotal: scrapeErrorsTotal,
		buildInfo:         buildInfo,
		accounts:          make(map[string]AccountStatus),
	}
}

// Describe implements prometheus.Collector
func (c *CostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accountUpMetric
	ch <- c.cycleDurationMetric
	ch <- c.lastCycleTimeMetric
	ch <- c.sampleCountMetric
	c.scrapeErrorsTotal.Describe(ch)
	c.buildInfo.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *CostCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, status := range c.accounts {
		up := 0.0
		if status.Up {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.accountUpMetric, prometheus.GaugeValue, up, id)
	}

	ch <- prometheus.MustNewConstMetric(
		c.cycleDurationMetric,
		prometheus.GaugeValue,
		c.lastScrapeDuration.Seconds(),
	)

	if !c.lastScrape.IsZero() {
		ch <- prometheus.MustNewConstMetric(
			c.lastCycleTimeMetric,
			prometheus.GaugeValue,
			float64(c.lastScrape.Unix()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.sampleCountMetric,
		prometheus.GaugeValue,
		float64(c.sampleCount),
	)

	c.scrapeErrorsTotal.Collect(ch)
	c.buildInfo.Collect(ch)
}

// StartBackgroundRefresh runs one cycle immediately, then keeps running a
// cycle polling_interval_seconds after the previous one finished, until ctx
// is cancelled. Calling it again while running is a no-op.
func (c *CostCollector) StartBackgroundRefresh(ctx context.Context) {
	if !c.refreshStarted.CompareAndSwap(false, true) {
		c.logger.Warn("Background refresh already started, skipping")
		return
	}

	// Initial fetch
	c.refresh(ctx)

	interval := time.Duration(c.cfg.PollingInterval) * time.Second
	go func() {
		defer c.refreshStarted.Store(false) // Reset on exit
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Stopping background refresh")
				return
			case <-timer.C:
				c.refresh(ctx)
				timer.Reset(interval)
			}
		}
	}()
}

// refresh runs one polling cycle over all targets. A failing account is
// logged and skipped; it never stops the others.
func (c *CostCollector) refresh(ctx context.Context) {
	log := c.logger.WithFields("cycle_id", uuid.NewString())
	log.Info("Refreshing cost data", "accounts", len(c.cfg.Targets))
	start := time.Now()

	results := make([]AccountResult, len(c.cfg.Targets))
	var g errgroup.Group
	g.SetLimit(max(c.cfg.MaxConcurrentAccounts, 1))
	for i, target := range c.cfg.Targets {
		g.Go(func() error {
			results[i] = c.fetchAccount(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start)
	now := c.clock.Now()

	var (
		errs    []error
		samples int
	)
	for _, r := range results {
		if r.Err != nil {
			c.scrapeErrorsTotal.With(prometheus.Labels{"account_id": r.AccountID, "stage": string(r.Stage)}).Inc()
			log.Error("Failed to fetch cost data, skipping account until next cycle",
				"account_id", r.AccountID,
				"stage", r.Stage,
				"error_code", awscost.ErrorCode(r.Err),
				"error", r.Err)
			errs = append(errs, fmt.Errorf("account %s (%s): %w", r.AccountID, r.Stage, r.Err))
			continue
		}
		samples += len(r.Samples)
		log.Debug("Published cost samples",
			"account_id", r.AccountID,
			"samples", len(r.Samples),
			"duration_seconds", r.Duration.Seconds())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range results {
		status := c.accounts[r.AccountID]
		status.AccountID = r.AccountID
		status.LastAttempt = now
		status.Up = r.Err == nil
		if r.Err != nil {
			status.LastError = r.Err.Error()
		} else {
			status.LastError = ""
			status.LastSuccess = now
			status.Samples = len(r.Samples)
		}
		c.accounts[r.AccountID] = status
	}

	c.lastScrape = now
	c.lastScrapeDuration = duration
	c.lastError = errors.Join(errs...)
	c.sampleCount = samples
	c.isReady = len(errs) < len(results)

	log.Info("Finished polling cycle",
		"succeeded", len(results)-len(errs),
		"failed", len(errs),
		"samples", samples,
		"duration_seconds", duration.Seconds())
}

// fetchAccount runs credentials -> query -> aggregate -> publish for one
// target and reports the outcome instead of propagating it.
func (c *CostCollector) fetchAccount(ctx context.Context, target config.Target) AccountResult {
	start := time.Now()
	result := AccountResult{AccountID: c.cfg.AccountID(target)}
	fail := func(stage Stage, err error) AccountResult {
		result.Stage = stage
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	c.logger.ForAccount(result.AccountID).Info("Querying cost data for AWS account")

	session, err := c.creds.Obtain(ctx, result.AccountID)
	if err != nil {
		return fail(StageCredentials, err)
	}

	records, err := c.querier.Query(ctx, session, c.cfg.GroupBy)
	if err != nil {
		return fail(StageQuery, err)
	}

	samples, err := aggregator.Aggregate(target, c.cfg.GroupBy, records)
	if err != nil {
		return fail(StageAggregate, err)
	}

	for _, s := range samples {
		if err := c.sink.Set(s.Labels, s.Value); err != nil {
			return fail(StagePublish, err)
		}
	}

	result.Samples = samples
	result.Duration = time.Since(start)
	return result
}

// IsReady returns true if at least one account succeeded in the last cycle
func (c *CostCollector) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isReady
}

// LastError returns the joined account errors of the last cycle, or nil
func (c *CostCollector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// LastScrapeTime returns the end time of the last cycle
func (c *CostCollector) LastScrapeTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastScrape
}

// SampleCount returns the number of samples published in the last cycle
func (c *CostCollector) SampleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sampleCount
}

// AccountStatuses returns the status of every target in configuration order.
// Accounts not attempted yet are reported as down with zero times.
func (c *CostCollector) AccountStatuses() []AccountStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]AccountStatus, 0, len(c.cfg.Targets))
	for _, t := range c.cfg.Targets {
		id := c.cfg.AccountID(t)
		status, ok := c.accounts[id]
		if !ok {
			status = AccountStatus{AccountID: id}
		}
		statuses = append(statuses, status)
	}
	return statuses
}
