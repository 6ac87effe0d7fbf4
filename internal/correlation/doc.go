// Package correlation matches asynchronous completions back to the requests
// that caused them.
//
// A request is submitted to an external service, which acknowledges it with a
// correlation ID. Some time later the service emits a completion record
// carrying that ID onto a broadcast event log. The Coordinator multiplexes
// any number of outstanding requests over a single log subscription:
//
//   - SubmissionClient sends the request and extracts the correlation ID from
//     the acknowledgment.
//   - Stream follows the log through a Feed and reconnects with backoff.
//   - Registry routes each record to the waiter registered for its ID and
//     counts records nobody is waiting for (orphans).
//   - Coordinator runs submit, register and await for each caller and keeps
//     the subscription open only while calls are in flight.
//
// Delivery is at-least-once and unordered. Matching is idempotent by ID, and
// every call ends in bounded time with exactly one outcome.
package correlation
