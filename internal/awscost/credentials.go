package awscost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/zgpcy/aws-cost-exporter/internal/config"
	"github.com/zgpcy/aws-cost-exporter/internal/provider"
	"golang.org/x/time/rate"
)

// SessionNamePrefix prefixes the STS session name, followed by the account id
const SessionNamePrefix = "AssumeRoleSession_"

// AssumeRoleAPI is the part of the STS client used by RoleAssumer
type AssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// RoleAssumer obtains delegated credentials by assuming the configured role
// in each target account.
type RoleAssumer struct {
	sts       AssumeRoleAPI
	base      aws.Config
	roleName  string
	partition string
	region    string
	duration  int32
	timeout   time.Duration
	limiter   *rate.Limiter
}

// Verify that RoleAssumer implements provider.CredentialProvider
var _ provider.CredentialProvider = (*RoleAssumer)(nil)

// NewRoleAssumer creates a RoleAssumer calling STS with the exporter's own
// credentials from base. limiter may be nil.
func NewRoleAssumer(base aws.Config, cfg *config.Config, limiter *rate.Limiter) *RoleAssumer {
	return &RoleAssumer{
		sts:       sts.NewFromConfig(base),
		base:      base,
		roleName:  cfg.AssumedRoleName,
		partition: cfg.Partition,
		region:    cfg.QueryRegion,
		duration:  int32(cfg.AssumeRoleDuration),
		timeout:   time.Duration(cfg.APITimeout) * time.Second,
		limiter:   limiter,
	}
}

// RoleARN returns the ARN of the exporter role inside an account
func (r *RoleAssumer) RoleARN(accountID string) string {
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", r.partition, accountID, r.roleName)
}

// Obtain assumes the exporter role in the account and returns a config
// scoped to the query region that signs with the temporary credentials.
func (r *RoleAssumer) Obtain(ctx context.Context, accountID string) (aws.Config, error) {
	roleARN := r.RoleARN(accountID)
	fail := func(err error) (aws.Config, error) {
		return aws.Config{}, &AuthorizationError{AccountID: accountID, RoleARN: roleARN, Err: err}
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(SessionNamePrefix + accountID),
	}
	if r.duration > 0 {
		input.DurationSeconds = aws.Int32(r.duration)
	}

	out, err := r.sts.AssumeRole(ctx, input)
	if err != nil {
		return fail(err)
	}

	creds := out.Credentials
	if creds == nil || creds.AccessKeyId == nil || creds.SecretAccessKey == nil || creds.SessionToken == nil {
		return fail(errors.New("response carries no credentials"))
	}

	session := r.base.Copy()
	session.Region = r.region
	session.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		*creds.AccessKeyId,
		*creds.SecretAccessKey,
		*creds.SessionToken,
	))

	return session, nil
}
