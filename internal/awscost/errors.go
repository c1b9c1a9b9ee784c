package awscost

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// AuthorizationError reports that the exporter role could not be assumed in
// a target account.
type AuthorizationError struct {
	AccountID string
	RoleARN   string
	Err       error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("failed to assume %s for account %s: %v", e.RoleARN, e.AccountID, e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// QueryError reports a failed Cost Explorer query
type QueryError struct {
	Start string
	End   string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("cost query for %s to %s failed: %v", e.Start, e.End, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the AWS API error code carried by err, e.g.
// "AccessDenied" or "LimitExceededException", or "" if there is none.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
