package correlation

import (
	apperrors "github.com/louisbranch/vrfrelay/internal/platform/errors"
)

// Sentinel errors for errors.Is checks. Matching is by code, so wrapped
// errors carrying request details still match.
var (
	ErrMalformedAcknowledgment = apperrors.New(apperrors.CodeMalformedAcknowledgment, "malformed acknowledgment")
	ErrSubmissionFailed        = apperrors.New(apperrors.CodeSubmissionFailed, "submission failed")
	ErrDuplicateRegistration   = apperrors.New(apperrors.CodeDuplicateRegistration, "duplicate registration")
	ErrTimedOut                = apperrors.New(apperrors.CodeRequestTimedOut, "request timed out")
	ErrCancelled               = apperrors.New(apperrors.CodeRequestCancelled, "request cancelled")
	ErrSubscriptionUnavailable = apperrors.New(apperrors.CodeSubscriptionUnavailable, "event subscription unavailable")
)

func timedOutError(id ID) error {
	return apperrors.WithMetadata(apperrors.CodeRequestTimedOut, "request "+string(id)+" timed out", map[string]string{"RequestID": string(id)})
}

func cancelledError(id ID, cause error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeRequestCancelled, "request "+string(id)+" cancelled", map[string]string{"RequestID": string(id)}, cause)
}

func duplicateError(id ID) error {
	return apperrors.WithMetadata(apperrors.CodeDuplicateRegistration, "request "+string(id)+" already has a pending waiter", map[string]string{"RequestID": string(id)})
}
