package correlation

import "time"

// ID is a correlation identifier assigned by the external service.
type ID string

// Status is the lifecycle state of a Request.
type Status int

const (
	// StatusSubmitted means the service acknowledged the request.
	StatusSubmitted Status = iota
	// StatusAwaitingCompletion means a waiter is registered for the request.
	StatusAwaitingCompletion
	// StatusFulfilled means a completion record resolved the request.
	StatusFulfilled
	// StatusTimedOut means the deadline passed before a record arrived.
	StatusTimedOut
	// StatusCancelled means the caller abandoned the request.
	StatusCancelled
	// StatusFailed means the request could not be registered.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusAwaitingCompletion:
		return "awaiting_completion"
	case StatusFulfilled:
		return "fulfilled"
	case StatusTimedOut:
		return "timed_out"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s >= StatusFulfilled
}

// Request tracks one submitted request.
type Request struct {
	ID          ID
	SubmittedAt time.Time
	Deadline    time.Time
	Status      Status
}

// CompletionRecord is one event from the completion log.
type CompletionRecord struct {
	ID      ID
	Payload []byte
	// Position locates the record in the log so a stream can resume after it.
	// Empty when the feed has no notion of position.
	Position string
}
