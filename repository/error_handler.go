package repository

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
)

// handleAwsError maps AWS API errors onto the service's sentinel errors.
func handleAwsError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException", "NoSuchKey", "WAFNonexistentItemException":
			return fmt.Errorf("%s: %w", op, types.ErrNotFound)
		case "ConditionalCheckFailedException", "WAFOptimisticLockException":
			return fmt.Errorf("%s: %w", op, types.ErrConflict)
		case "AccessDeniedException", "AccessDenied", "UnrecognizedClientException":
			level.Warn(global.Logger).Log("msg", "access denied", "op", op, "code", apiErr.ErrorCode())
			return fmt.Errorf("%s: %w", op, types.ErrNotAuthorized)
		}
		level.Error(global.Logger).Log("msg", "aws api error", "op", op, "code", apiErr.ErrorCode(), "error", apiErr.ErrorMessage())
	}
	return fmt.Errorf("%s: %w", op, err)
}
