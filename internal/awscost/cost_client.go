package awscost

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/zgpcy/aws-cost-exporter/internal/aggregator"
	"github.com/zgpcy/aws-cost-exporter/internal/clock"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
	"github.com/zgpcy/aws-cost-exporter/internal/logger"
	"github.com/zgpcy/aws-cost-exporter/internal/provider"
	"golang.org/x/time/rate"
)

// Query window constants
const (
	// WindowEndDaysAgo is how many days before today the window ends (exclusive).
	// Cost Explorer needs about two days to settle a day's usage.
	WindowEndDaysAgo = 2

	// WindowStartDaysAgo is how many days before today the window starts
	WindowStartDaysAgo = 3

	// MaxPages caps pagination of a single query
	MaxPages = 100

	dateLayout = "2006-01-02"
)

// CostAndUsageAPI is the part of the Cost Explorer client used by CostClient
type CostAndUsageAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// CostClient queries yesterday-but-one's usage cost from Cost Explorer
type CostClient struct {
	newAPI  func(aws.Config) CostAndUsageAPI
	clock   clock.Clock
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logger.Logger
}

// Verify that CostClient implements provider.CostQuerier
var _ provider.CostQuerier = (*CostClient)(nil)

// NewCostClient creates a CostClient. limiter may be nil.
func NewCostClient(cfg *config.Config, limiter *rate.Limiter, log *logger.Logger) *CostClient {
	return &CostClient{
		newAPI: func(session aws.Config) CostAndUsageAPI {
			return costexplorer.NewFromConfig(session)
		},
		clock:   clock.RealClock{},
		timeout: time.Duration(cfg.APITimeout) * time.Second,
		limiter: limiter,
		logger:  log,
	}
}

// Window returns the [start, end) dates of the next query
func (c *CostClient) Window() (start, end string) {
	return clock.DaysAgo(c.clock, WindowStartDaysAgo).Format(dateLayout),
		clock.DaysAgo(c.clock, WindowEndDaysAgo).Format(dateLayout)
}

// BuildInput creates the GetCostAndUsage request for a window: daily unblended
// cost of Usage records, grouped by the configured groups if enabled.
func BuildInput(start, end string, groupBy config.GroupBy) *costexplorer.GetCostAndUsageInput {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(start),
			End:   aws.String(end),
		},
		Filter: &types.Expression{
			Dimensions: &types.DimensionValues{
				Key:    types.DimensionRecordType,
				Values: []string{aggregator.ChargeTypeUsage},
			},
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{aggregator.CostMetric},
	}

	if groupBy.Enabled {
		for _, g := range groupBy.Groups {
			input.GroupBy = append(input.GroupBy, types.GroupDefinition{
				Type: types.GroupDefinitionType(g.Type),
				Key:  aws.String(g.Key),
			})
		}
	}

	return input
}

// Query runs the cost query with the given session. Paginated responses are
// merged so that every day appears once with all of its groups.
func (c *CostClient) Query(ctx context.Context, session aws.Config, groupBy config.GroupBy) ([]types.ResultByTime, error) {
	start, end := c.Window()
	fail := func(err error) ([]types.ResultByTime, error) {
		return nil, &QueryError{Start: start, End: end, Err: err}
	}

	c.logger.Debug("Querying AWS Cost Explorer",
		"start_date", start,
		"end_date", end,
		"region", session.Region,
		"grouping_enabled", groupBy.Enabled)

	api := c.newAPI(session)
	input := BuildInput(start, end, groupBy)

	var (
		results []types.ResultByTime
		byDay   = make(map[string]int)
	)
	for page := 0; ; page++ {
		if page == MaxPages {
			return fail(fmt.Errorf("more than %d result pages", MaxPages))
		}

		out, err := c.getPage(ctx, api, input)
		if err != nil {
			return fail(err)
		}

		for _, r := range out.ResultsByTime {
			day := ""
			if r.TimePeriod != nil {
				day = aws.ToString(r.TimePeriod.Start)
			}
			if idx, seen := byDay[day]; seen && day != "" {
				results[idx].Groups = append(results[idx].Groups, r.Groups...)
				continue
			}
			byDay[day] = len(results)
			results = append(results, r)
		}

		if aws.ToString(out.NextPageToken) == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	c.logger.Debug("Cost Explorer query finished",
		"start_date", start,
		"days", len(results))

	return results, nil
}

func (c *CostClient) getPage(ctx context.Context, api CostAndUsageAPI, input *costexplorer.GetCostAndUsageInput) (*costexplorer.GetCostAndUsageOutput, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return api.GetCostAndUsage(ctx, input)
}
