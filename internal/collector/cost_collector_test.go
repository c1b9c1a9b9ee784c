package collector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zgpcy/aws-cost-exporter/internal/awscost"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
	"github.com/zgpcy/aws-cost-exporter/internal/logger"
	"github.com/zgpcy/aws-cost-exporter/internal/metrics"
)

// testLogger creates a logger for testing
func testLogger() *logger.Logger {
	return logger.New("error") // Use error level to suppress test output
}

// mockCreds hands out a session whose Region carries the account id, so the
// querier knows which account it is answering for
type mockCreds struct {
	mu     sync.Mutex
	fail   map[string]error
	calls  int
	active int
	peak   int
	delay  time.Duration
}

func (m *mockCreds) Obtain(ctx context.Context, accountID string) (aws.Config, error) {
	m.mu.Lock()
	m.calls++
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	err := m.fail[accountID]
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.active--
	m.mu.Unlock()

	if err != nil {
		return aws.Config{}, &awscost.AuthorizationError{AccountID: accountID, RoleARN: "arn", Err: err}
	}
	return aws.Config{Region: accountID}, nil
}

func (m *mockCreds) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockCreds) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// mockQuerier returns a fixed total per account
type mockQuerier struct {
	mu      sync.Mutex
	amounts map[string]string
	fail    map[string]error
	records map[string][]types.ResultByTime
}

func (m *mockQuerier) Query(ctx context.Context, session aws.Config, groupBy config.GroupBy) ([]types.ResultByTime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := session.Region
	if err := m.fail[id]; err != nil {
		return nil, &awscost.QueryError{Start: "2026-10-14", End: "2026-10-15", Err: err}
	}
	if records, ok := m.records[id]; ok {
		return records, nil
	}
	return []types.ResultByTime{{
		Total: map[string]types.MetricValue{
			"UnblendedCost": {Amount: aws.String(m.amounts[id])},
		},
	}}, nil
}

func (m *mockQuerier) SetFailure(accountID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail == nil {
		m.fail = make(map[string]error)
	}
	m.fail[accountID] = err
}

// failingSink rejects every sample
type failingSink struct{}

func (failingSink) Set(metrics.LabelSet, float64) error {
	return metrics.ErrSchemaMismatch
}

func threeAccountConfig() *config.Config {
	return &config.Config{
		PollingInterval:       3600,
		AccountLabel:          "Publisher",
		MaxConcurrentAccounts: 1,
		Targets: []config.Target{
			config.NewTarget("Publisher", "A"),
			config.NewTarget("Publisher", "B"),
			config.NewTarget("Publisher", "C"),
		},
	}
}

func newTestSink(t *testing.T, cfg *config.Config) *metrics.GaugeSink {
	t.Helper()
	schema, err := metrics.SchemaFor(cfg)
	if err != nil {
		t.Fatalf("SchemaFor() error = %v", err)
	}
	return metrics.NewGaugeSink("aws_daily_cost_usd", schema)
}

func gaugeValue(t *testing.T, sink *metrics.GaugeSink, accountID string) float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(sink); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "Publisher" && lp.GetValue() == accountID {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("no series for account %s", accountID)
	return 0
}

// TestNewCostCollector tests collector creation
func TestNewCostCollector(t *testing.T) {
	cfg := threeAccountConfig()
	collector := NewCostCollector(&mockCreds{}, &mockQuerier{}, newTestSink(t, cfg), cfg, testLogger())

	if collector == nil {
		t.Fatal("NewCostCollector returned nil")
	}
	if collector.creds == nil || collector.querier == nil || collector.sink == nil {
		t.Error("pipeline dependencies should not be nil")
	}
	if collector.accountUpMetric == nil {
		t.Error("accountUpMetric should not be nil")
	}
	if collector.IsReady() {
		t.Error("collector should not be ready before the first cycle")
	}
}

// TestDescribe tests the Describe method
func TestDescribe(t *testing.T) {
	cfg := threeAccountConfig()
	collector := NewCostCollector(&mockCreds{}, &mockQuerier{}, newTestSink(t, cfg), cfg, testLogger())

	ch := make(chan *prometheus.Desc, 10)
	go func() {
		collector.Describe(ch)
		close(ch)
	}()

	var descs []*prometheus.Desc
	for desc := range ch {
		descs = append(descs, desc)
	}

	// accountUp, cycleDuration, lastCycleTime, sampleCount, scrapeErrorsTotal, buildInfo
	if len(descs) != 6 {
		t.Errorf("Expected 6 descriptors, got %d", len(descs))
	}
}

// TestCollect_NoData tests collection before the first cycle
func TestCollect_NoData(t *testing.T) {
	cfg := threeAccountConfig()
	collector := NewCostCollector(&mockCreds{}, &mockQuerier{}, newTestSink(t, cfg), cfg, testLogger())

	// cycle duration, samples count, build info
	if got := testutil.CollectAndCount(collector); got != 3 {
		t.Errorf("Expected 3 metrics before first cycle, got %d", got)
	}
}

// TestRefresh_AllAccountsSucceed tests one cycle where every account succeeds
func TestRefresh_AllAccountsSucceed(t *testing.T) {
	cfg := threeAccountConfig()
	sink := newTestSink(t, cfg)
	querier := &mockQuerier{amounts: map[string]string{"A": "1.5", "B": "12.50", "C": "3"}}
	collector := NewCostCollector(&mockCreds{}, querier, sink, cfg, testLogger())

	collector.refresh(context.Background())

	if got := gaugeValue(t, sink, "B"); got != 12.5 {
		t.Errorf("gauge for B = %v, want 12.5", got)
	}
	if !collector.IsReady() {
		t.Error("Collector should be ready after successful refresh")
	}
	if collector.LastError() != nil {
		t.Errorf("LastError should be nil, got %v", collector.LastError())
	}
	if collector.SampleCount() != 3 {
		t.Errorf("SampleCount = %d, want 3", collector.SampleCount())
	}

	// 3 account_up + cycle duration + last cycle time + samples count + build info
	if got := testutil.CollectAndCount(collector); got != 7 {
		t.Errorf("Expected 7 metrics, got %d", got)
	}
}

// TestRefresh_FailureIsolation tests that a credential failure for B leaves A and C intact
func TestRefresh_FailureIsolation(t *testing.T) {
	cfg := threeAccountConfig()
	sink := newTestSink(t, cfg)
	creds := &mockCreds{fail: map[string]error{"B": errors.New("AccessDenied")}}
	querier := &mockQuerier{amounts: map[string]string{"A": "1", "B": "2", "C": "3"}}
	collector := NewCostCollector(creds, querier, sink, cfg, testLogger())

	collector.refresh(context.Background())

	if got := gaugeValue(t, sink, "A"); got != 1 {
		t.Errorf("gauge for A = %v, want 1", got)
	}
	if got := gaugeValue(t, sink, "C"); got != 3 {
		t.Errorf("gauge for C = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(sink); got != 2 {
		t.Errorf("Expected 2 cost series (B skipped), got %d", got)
	}

	if !collector.IsReady() {
		t.Error("Collector should be ready when some accounts succeeded")
	}
	lastErr := collector.LastError()
	var authErr *awscost.AuthorizationError
	if !errors.As(lastErr, &authErr) || authErr.AccountID != "B" {
		t.Errorf("LastError = %v, want AuthorizationError for B", lastErr)
	}

	statuses := collector.AccountStatuses()
	if len(statuses) != 3 {
		t.Fatalf("Expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Up || statuses[1].Up || !statuses[2].Up {
		t.Errorf("statuses up = %v/%v/%v, want true/false/true", statuses[0].Up, statuses[1].Up, statuses[2].Up)
	}
	if !strings.Contains(statuses[1].LastError, "AccessDenied") {
		t.Errorf("B LastError = %q, want it to mention AccessDenied", statuses[1].LastError)
	}

	errCount := testutil.ToFloat64(collector.scrapeErrorsTotal.With(prometheus.Labels{"account_id": "B", "stage": "credentials"}))
	if errCount != 1 {
		t.Errorf("scrape errors for B/credentials = %v, want 1", errCount)
	}
}

// TestFetchAccount_Stages tests that each failing step is reported with its stage
func TestFetchAccount_Stages(t *testing.T) {
	target := config.NewTarget("Publisher", "A")

	tests := []struct {
		name    string
		creds   *mockCreds
		querier *mockQuerier
		sink    metrics.Sink
		want    Stage
	}{
		{
			name:    "credentials",
			creds:   &mockCreds{fail: map[string]error{"A": errors.New("denied")}},
			querier: &mockQuerier{},
			want:    StageCredentials,
		},
		{
			name:    "query",
			creds:   &mockCreds{},
			querier: &mockQuerier{fail: map[string]error{"A": errors.New("throttled")}},
			want:    StageQuery,
		},
		{
			name:    "aggregate",
			creds:   &mockCreds{},
			querier: &mockQuerier{amounts: map[string]string{"A": "not-a-number"}},
			want:    StageAggregate,
		},
		{
			name:    "publish",
			creds:   &mockCreds{},
			querier: &mockQuerier{amounts: map[string]string{"A": "1"}},
			sink:    failingSink{},
			want:    StagePublish,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := threeAccountConfig()
			sink := tt.sink
			if sink == nil {
				sink = newTestSink(t, cfg)
			}
			collector := NewCostCollector(tt.creds, tt.querier, sink, cfg, testLogger())

			result := collector.fetchAccount(context.Background(), target)
			if result.Err == nil {
				t.Fatal("fetchAccount() error = nil, want error")
			}
			if result.Stage != tt.want {
				t.Errorf("Stage = %v, want %v", result.Stage, tt.want)
			}
			if result.AccountID != "A" {
				t.Errorf("AccountID = %v, want A", result.AccountID)
			}
		})
	}
}

// TestRefresh_KeepsStaleValues tests that a failed cycle does not clear previously published values
func TestRefresh_KeepsStaleValues(t *testing.T) {
	cfg := threeAccountConfig()
	sink := newTestSink(t, cfg)
	querier := &mockQuerier{amounts: map[string]string{"A": "1", "B": "2", "C": "3"}}
	collector := NewCostCollector(&mockCreds{}, querier, sink, cfg, testLogger())

	collector.refresh(context.Background())
	querier.SetFailure("B", errors.New("network unreachable"))
	collector.refresh(context.Background())

	if got := gaugeValue(t, sink, "B"); got != 2 {
		t.Errorf("gauge for B = %v, want stale value 2", got)
	}

	statuses := collector.AccountStatuses()
	if statuses[1].Up {
		t.Error("B should be down after failed cycle")
	}
	if statuses[1].LastSuccess.IsZero() {
		t.Error("B should remember its last success")
	}
}

// TestRefresh_AllAccountsFail tests readiness when every account fails
func TestRefresh_AllAccountsFail(t *testing.T) {
	cfg := threeAccountConfig()
	creds := &mockCreds{fail: map[string]error{
		"A": errors.New("denied"),
		"B": errors.New("denied"),
		"C": errors.New("denied"),
	}}
	collector := NewCostCollector(creds, &mockQuerier{}, newTestSink(t, cfg), cfg, testLogger())

	collector.refresh(context.Background())

	if collector.IsReady() {
		t.Error("Collector should not be ready when every account failed")
	}
	if collector.LastError() == nil {
		t.Error("LastError should not be nil after failed refresh")
	}
	if collector.LastScrapeTime().IsZero() {
		t.Error("LastScrapeTime should be set even when every account failed")
	}
}

// TestRefresh_GroupedWithMerge tests the full pipeline with grouping and minor-cost merging
func TestRefresh_GroupedWithMerge(t *testing.T) {
	cfg := threeAccountConfig()
	cfg.Targets = cfg.Targets[:1]
	cfg.GroupBy = config.GroupBy{
		Enabled:        true,
		Groups:         []config.Group{{Type: "TAG", Key: "Team", LabelName: "Team"}},
		MergeMinorCost: config.MergeMinorCost{Enabled: true, Threshold: 1, TagValue: "other"},
	}
	sink := newTestSink(t, cfg)

	group := func(key, amount string) types.Group {
		return types.Group{
			Keys:    []string{key},
			Metrics: map[string]types.MetricValue{"UnblendedCost": {Amount: aws.String(amount)}},
		}
	}
	querier := &mockQuerier{records: map[string][]types.ResultByTime{
		"A": {{Groups: []types.Group{
			group("user:Team$Alpha", "0.5"),
			group("user:Team$Beta", "0.25"),
			group("user:Team$Gamma", "10"),
		}}},
	}}
	collector := NewCostCollector(&mockCreds{}, querier, sink, cfg, testLogger())

	collector.refresh(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(sink)
	expected := `
# HELP aws_daily_cost_usd Daily cost of an AWS account in USD
# TYPE aws_daily_cost_usd gauge
aws_daily_cost_usd{ChargeType="Usage",Publisher="A",Team="Gamma"} 10
aws_daily_cost_usd{ChargeType="Usage",Publisher="A",Team="other"} 0.75
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "aws_daily_cost_usd"); err != nil {
		t.Error(err)
	}
}

// TestRefresh_ParallelAccounts tests the bounded worker pool
func TestRefresh_ParallelAccounts(t *testing.T) {
	cfg := threeAccountConfig()
	cfg.MaxConcurrentAccounts = 2
	sink := newTestSink(t, cfg)
	creds := &mockCreds{delay: 50 * time.Millisecond}
	querier := &mockQuerier{amounts: map[string]string{"A": "1", "B": "2", "C": "3"}}
	collector := NewCostCollector(creds, querier, sink, cfg, testLogger())

	collector.refresh(context.Background())

	if creds.Peak() > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", creds.Peak())
	}
	if got := testutil.CollectAndCount(sink); got != 3 {
		t.Errorf("Expected 3 cost series, got %d", got)
	}
	if got := gaugeValue(t, sink, "C"); got != 3 {
		t.Errorf("gauge for C = %v, want 3", got)
	}
}

// TestRefresh_SequentialByDefault tests that one worker never overlaps accounts
func TestRefresh_SequentialByDefault(t *testing.T) {
	cfg := threeAccountConfig()
	creds := &mockCreds{delay: 10 * time.Millisecond}
	querier := &mockQuerier{amounts: map[string]string{"A": "1", "B": "2", "C": "3"}}
	collector := NewCostCollector(creds, querier, newTestSink(t, cfg), cfg, testLogger())

	collector.refresh(context.Background())

	if creds.Peak() != 1 {
		t.Errorf("peak concurrency = %d, want 1", creds.Peak())
	}
}

// TestStartBackgroundRefresh tests the background refresh goroutine
func TestStartBackgroundRefresh(t *testing.T) {
	cfg := threeAccountConfig()
	cfg.PollingInterval = 1 // 1 second for fast test
	cfg.Targets = cfg.Targets[:1]
	creds := &mockCreds{}
	querier := &mockQuerier{amounts: map[string]string{"A": "1"}}
	collector := NewCostCollector(creds, querier, newTestSink(t, cfg), cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector.StartBackgroundRefresh(ctx)

	// Initial cycle runs synchronously
	initialCalls := creds.CallCount()
	if initialCalls != 1 {
		t.Errorf("Expected 1 call after initial refresh, got %d", initialCalls)
	}

	// Wait for at least one more refresh cycle
	time.Sleep(1200 * time.Millisecond)

	finalCalls := creds.CallCount()
	if finalCalls <= initialCalls {
		t.Errorf("Expected more calls after polling interval, initial=%d final=%d", initialCalls, finalCalls)
	}

	// Cancel context and verify goroutine stops
	cancel()
	time.Sleep(100 * time.Millisecond)

	callsAfterCancel := creds.CallCount()
	time.Sleep(1200 * time.Millisecond)

	if creds.CallCount() != callsAfterCancel {
		t.Error("Calls should not increase after context cancellation")
	}
}

// TestStartBackgroundRefresh_OnlyOnce tests that a second start is ignored
func TestStartBackgroundRefresh_OnlyOnce(t *testing.T) {
	cfg := threeAccountConfig()
	cfg.Targets = cfg.Targets[:1]
	creds := &mockCreds{}
	querier := &mockQuerier{amounts: map[string]string{"A": "1"}}
	collector := NewCostCollector(creds, querier, newTestSink(t, cfg), cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector.StartBackgroundRefresh(ctx)
	collector.StartBackgroundRefresh(ctx)

	if calls := creds.CallCount(); calls != 1 {
		t.Errorf("Expected exactly 1 initial cycle, got %d calls", calls)
	}
}

// TestConcurrency_CollectDuringRefresh tests thread-safety of Collect against refresh
func TestConcurrency_CollectDuringRefresh(t *testing.T) {
	cfg := threeAccountConfig()
	cfg.MaxConcurrentAccounts = 3
	sink := newTestSink(t, cfg)
	querier := &mockQuerier{amounts: map[string]string{"A": "1", "B": "2", "C": "3"}}
	collector := NewCostCollector(&mockCreds{}, querier, sink, cfg, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			collector.refresh(context.Background())
		}()
		go func() {
			defer wg.Done()
			testutil.CollectAndCount(collector)
			testutil.CollectAndCount(sink)
			_ = collector.AccountStatuses()
		}()
	}
	wg.Wait()

	if got := testutil.CollectAndCount(sink); got != 3 {
		t.Errorf("Expected 3 cost series, got %d", got)
	}
}
