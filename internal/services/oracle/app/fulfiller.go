package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/vrfrelay/internal/platform/timeouts"
	"github.com/louisbranch/vrfrelay/internal/services/oracle/domain"
	"github.com/louisbranch/vrfrelay/internal/services/oracle/storage"
)

const defaultFulfillBatch = 50

// FulfillerStore is the persistence the fulfiller reads and writes.
type FulfillerStore interface {
	storage.RequestStore
	storage.CompletionLog
}

// FulfillerConfig controls fulfillment pacing.
type FulfillerConfig struct {
	// Interval between passes over pending requests.
	Interval time.Duration
	// Delay is the minimum age of a request before it is fulfilled.
	Delay time.Duration
	// Batch caps requests fulfilled per pass.
	Batch int
}

func (c FulfillerConfig) normalized() FulfillerConfig {
	if c.Interval <= 0 {
		c.Interval = timeouts.LogPoll
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.Batch <= 0 {
		c.Batch = defaultFulfillBatch
	}
	return c
}

// Fulfiller generates random words for pending requests and appends the
// RequestFulfilled records to the completion log.
type Fulfiller struct {
	store FulfillerStore
	cfg   FulfillerConfig
	now   func() time.Time
	words func(int) ([]uint64, error)
	logf  func(string, ...any)
}

// NewFulfiller creates a fulfiller; logf may be nil.
func NewFulfiller(store FulfillerStore, cfg FulfillerConfig, logf func(string, ...any)) *Fulfiller {
	return &Fulfiller{
		store: store,
		cfg:   cfg.normalized(),
		now:   time.Now,
		words: domain.NewRandomWords,
		logf:  logf,
	}
}

// Run fulfills pending requests every interval until ctx ends.
func (f *Fulfiller) Run(ctx context.Context) error {
	if f == nil || f.store == nil {
		return fmt.Errorf("fulfiller store is not configured")
	}
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := f.FulfillPending(ctx); err != nil && ctx.Err() == nil {
			f.printf("oracle fulfill pass: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// FulfillPending runs one pass and returns how many requests were fulfilled.
func (f *Fulfiller) FulfillPending(ctx context.Context) (int, error) {
	now := f.now().UTC()
	pending, err := f.store.ListPendingRequests(ctx, now.Add(-f.cfg.Delay), f.cfg.Batch)
	if err != nil {
		return 0, err
	}
	fulfilled := 0
	var errs []error
	for _, req := range pending {
		if err := f.fulfill(ctx, req, now); err != nil {
			errs = append(errs, fmt.Errorf("fulfill %s: %w", req.RequestID, err))
			continue
		}
		fulfilled++
	}
	return fulfilled, errors.Join(errs...)
}

func (f *Fulfiller) fulfill(ctx context.Context, req storage.RequestRecord, now time.Time) error {
	words, err := f.words(req.NumWords)
	if err != nil {
		return err
	}
	payload, err := domain.EncodeFulfillment(domain.Fulfillment{RequestID: req.RequestID, RandomWords: words})
	if err != nil {
		return err
	}
	seq, err := f.store.FulfillRequest(ctx, req.RequestID, payload, now)
	if err != nil {
		return err
	}
	f.printf("oracle fulfilled request %s seq=%d words=%d", req.RequestID, seq, len(words))
	return nil
}

func (f *Fulfiller) printf(format string, args ...any) {
	if f.logf != nil {
		f.logf(format, args...)
	}
}
