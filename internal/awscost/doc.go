// Package awscost talks to AWS on behalf of the exporter.
//
// It implements the two network stages of the per-account pipeline:
//   - RoleAssumer: assumes the exporter role in a target account through STS
//     and returns an aws.Config signing with the temporary credentials
//   - CostClient: asks Cost Explorer for the daily unblended cost of Usage
//     records in the window [today-3d, today-2d), optionally grouped
//
// Both stages bound every call with the configured API timeout, can share a
// rate limiter, and never retry: a failed call is reported as an
// *AuthorizationError or *QueryError and the account is tried again on the
// next polling cycle.
//
// Example usage:
//
//	base, _ := awsconfig.LoadDefaultConfig(ctx)
//	limiter := rate.NewLimiter(rate.Limit(cfg.APIRateLimit), 1)
//
//	creds := awscost.NewRoleAssumer(base, cfg, limiter)
//	costs := awscost.NewCostClient(cfg, limiter, log)
//
//	session, err := creds.Obtain(ctx, "123456789012")
//	if err != nil {
//		return err
//	}
//	records, err := costs.Query(ctx, session, cfg.GroupBy)
package awscost
