// Package app wires the local randomness oracle: a request transport, a
// completion log feed, and a background fulfiller.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/vrfrelay/internal/correlation"
	"github.com/louisbranch/vrfrelay/internal/platform/id"
	"github.com/louisbranch/vrfrelay/internal/services/oracle/domain"
	"github.com/louisbranch/vrfrelay/internal/services/oracle/storage"
)

// Service accepts randomness requests and acknowledges them with the
// generated request ID.
type Service struct {
	store  storage.RequestStore
	now    func() time.Time
	newID  func() (string, error)
	txHash func() (string, error)
	logf   func(string, ...any)
}

// NewService creates a request service backed by store.
func NewService(store storage.RequestStore, logf func(string, ...any)) *Service {
	return &Service{
		store:  store,
		now:    time.Now,
		newID:  id.NewID,
		txHash: domain.NewTxHash,
		logf:   logf,
	}
}

// Send validates params, records the request, and returns the receipt.
func (s *Service) Send(ctx context.Context, params correlation.Params) (correlation.Acknowledgment, error) {
	if s == nil || s.store == nil {
		return correlation.Acknowledgment{}, fmt.Errorf("oracle store is not configured")
	}
	req, err := domain.ParseRandomWordsRequest(params)
	if err != nil {
		return correlation.Acknowledgment{}, err
	}
	requestID, err := s.newID()
	if err != nil {
		return correlation.Acknowledgment{}, err
	}
	txRef, err := s.txHash()
	if err != nil {
		return correlation.Acknowledgment{}, err
	}
	if err := s.store.PutRequest(ctx, storage.RequestRecord{
		RequestID:        requestID,
		TxRef:            txRef,
		NumWords:         req.NumWords,
		CallbackGasLimit: req.CallbackGasLimit,
		Status:           storage.RequestPending,
		CreatedAt:        s.now().UTC(),
	}); err != nil {
		return correlation.Acknowledgment{}, fmt.Errorf("store request: %w", err)
	}
	if s.logf != nil {
		s.logf("oracle accepted request %s words=%d gas=%d tx=%s", requestID, req.NumWords, req.CallbackGasLimit, txRef)
	}

	attrs := req.Params()
	attrs[domain.AttrRequestID] = requestID
	return correlation.Acknowledgment{
		Reference: txRef,
		Records: []correlation.AckRecord{{
			Kind:       domain.EventRandomWordsRequested,
			Attributes: attrs,
		}},
	}, nil
}

var _ correlation.Transport = (*Service)(nil)
