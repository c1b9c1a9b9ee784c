package provider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
)

// CredentialProvider exchanges an account id for delegated credentials
type CredentialProvider interface {
	// Obtain returns an AWS configuration whose credentials act inside the
	// given account
	Obtain(ctx context.Context, accountID string) (aws.Config, error)
}

// CostQuerier issues the daily cost query on behalf of one account
type CostQuerier interface {
	// Query returns the per-day results of the cost query, grouped as
	// groupBy describes. The session comes from a CredentialProvider.
	Query(ctx context.Context, session aws.Config, groupBy config.GroupBy) ([]types.ResultByTime, error)
}
