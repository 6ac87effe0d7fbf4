// Package errors provides structured error handling for relay components.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Submission errors
	CodeSubmissionFailed        Code = "SUBMISSION_FAILED"
	CodeMalformedAcknowledgment Code = "MALFORMED_ACKNOWLEDGMENT"
	CodeMissingParameter        Code = "MISSING_PARAMETER"
	CodeInvalidParameter        Code = "INVALID_PARAMETER"

	// Correlation errors
	CodeDuplicateRegistration   Code = "DUPLICATE_REGISTRATION"
	CodeRequestTimedOut         Code = "REQUEST_TIMED_OUT"
	CodeRequestCancelled        Code = "REQUEST_CANCELLED"
	CodeSubscriptionUnavailable Code = "SUBSCRIPTION_UNAVAILABLE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeMissingParameter,
		CodeInvalidParameter:
		return codes.InvalidArgument

	// Unavailable - the external service or its log could not be reached
	case CodeSubmissionFailed,
		CodeSubscriptionUnavailable:
		return codes.Unavailable

	case CodeRequestTimedOut:
		return codes.DeadlineExceeded

	case CodeRequestCancelled:
		return codes.Canceled

	case CodeDuplicateRegistration:
		return codes.AlreadyExists

	case CodeNotFound:
		return codes.NotFound

	// MalformedAcknowledgment is a contract violation by the external service.
	default:
		return codes.Internal
	}
}
