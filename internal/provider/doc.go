// Package provider defines the contracts of the per-account cost pipeline.
//
// The polling loop in package collector only talks to these interfaces, so
// the AWS implementation in package awscost can be swapped for fakes in
// tests:
//
//	type CredentialProvider interface {
//		Obtain(ctx context.Context, accountID string) (aws.Config, error)
//	}
//
//	type CostQuerier interface {
//		Query(ctx context.Context, session aws.Config, groupBy config.GroupBy) ([]types.ResultByTime, error)
//	}
//
// A pipeline run for one account is:
//
//	session, err := creds.Obtain(ctx, accountID)
//	records, err := querier.Query(ctx, session, cfg.GroupBy)
//	samples, err := aggregator.Aggregate(target, cfg.GroupBy, records)
//
// Implementations must be safe for concurrent use, because accounts may be
// fetched in parallel.
package provider
