// Package storage defines persistence contracts for the randomness oracle.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a request row does not exist.
var ErrNotFound = errors.New("record not found")

// Request statuses.
const (
	RequestPending   = "pending"
	RequestFulfilled = "fulfilled"
)

// RequestRecord is one accepted randomness request.
type RequestRecord struct {
	RequestID        string
	TxRef            string
	NumWords         int
	CallbackGasLimit int64
	Status           string
	CreatedAt        time.Time
	FulfilledAt      time.Time
}

// CompletionRecord is one entry of the append-only completion log.
type CompletionRecord struct {
	Seq       int64
	RequestID string
	Payload   []byte
	CreatedAt time.Time
}

// RequestStore persists oracle requests.
type RequestStore interface {
	PutRequest(ctx context.Context, rec RequestRecord) error
	GetRequest(ctx context.Context, requestID string) (RequestRecord, error)
	ListPendingRequests(ctx context.Context, createdBefore time.Time, limit int) ([]RequestRecord, error)
}

// CompletionLog is the append-only log the relay subscribes to.
type CompletionLog interface {
	// FulfillRequest marks the request fulfilled and appends its completion
	// in one transaction, returning the assigned sequence.
	FulfillRequest(ctx context.Context, requestID string, payload []byte, at time.Time) (int64, error)
	// AppendCompletion appends a record without touching request state.
	AppendCompletion(ctx context.Context, requestID string, payload []byte, at time.Time) (int64, error)
	LatestSeq(ctx context.Context) (int64, error)
	ListCompletionsAfter(ctx context.Context, afterSeq int64, limit int) ([]CompletionRecord, error)
}
