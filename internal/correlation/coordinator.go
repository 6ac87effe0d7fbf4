package correlation

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/louisbranch/vrfrelay/internal/platform/errors"
	"github.com/louisbranch/vrfrelay/internal/platform/timeouts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout applies when a call is started without a positive timeout.
const DefaultTimeout = timeouts.RequestAwait

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Stream StreamOptions
	Logf   func(string, ...any)
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// SubscriptionStats reports the subscription lifecycle.
type SubscriptionStats struct {
	// Open is 1 while a subscription exists and 0 otherwise.
	Open int
	// Opened counts subscriptions opened over the coordinator's lifetime.
	Opened int64
	// InFlight counts calls holding the subscription.
	InFlight int
}

// Coordinator runs submit, register and await for concurrent callers over one
// shared event subscription. The subscription is opened by the first in-flight
// call and closed when the last one finishes.
type Coordinator struct {
	submitter Submitter
	feed      Feed
	registry  *Registry
	opts      CoordinatorOptions
	tracer    trace.Tracer
	inst      instruments

	mu       sync.Mutex
	inflight int
	stream   *Stream
	opening  *opening
	loopDone chan struct{}
	opened   int64
}

// opening is a subscription attempt in progress. done is closed once err is
// set.
type opening struct {
	done chan struct{}
	err  error
}

// NewCoordinator builds a Coordinator. A nil registry gets a default one.
func NewCoordinator(submitter Submitter, feed Feed, registry *Registry, opts CoordinatorOptions) *Coordinator {
	if registry == nil {
		registry = NewRegistry(RegistryOptions{Logf: opts.Logf})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stream.Logf == nil {
		opts.Stream.Logf = opts.Logf
	}
	return &Coordinator{
		submitter: submitter,
		feed:      feed,
		registry:  registry,
		opts:      opts,
		tracer:    otel.Tracer(instrumentationName),
		inst:      newInstruments(),
	}
}

// Registry returns the registry the coordinator delivers into.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Subscriptions returns a snapshot of the subscription lifecycle.
func (c *Coordinator) Subscriptions() SubscriptionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := SubscriptionStats{Opened: c.opened, InFlight: c.inflight}
	if c.stream != nil {
		stats.Open = 1
	}
	return stats
}

// RequestAndAwait submits params and blocks until the matching completion
// record arrives, the timeout elapses, or ctx is done. It returns exactly one
// outcome: the record payload, or an error matching ErrSubmissionFailed,
// ErrMalformedAcknowledgment, ErrDuplicateRegistration, ErrTimedOut,
// ErrCancelled or ErrSubscriptionUnavailable.
func (c *Coordinator) RequestAndAwait(ctx context.Context, params Params, timeout time.Duration) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := c.tracer.Start(ctx, "correlation.RequestAndAwait")
	defer span.End()

	call, err := c.Start(ctx, params, timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("correlation.status", StatusFailed.String()))
		return nil, err
	}
	span.SetAttributes(attribute.String("correlation.id", string(call.ID())))

	payload, err := call.Wait(ctx)
	span.SetAttributes(attribute.String("correlation.status", call.Request().Status.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return payload, err
}

// Start submits params and returns the in-flight call. The subscription is
// active before the submission is sent. The timeout is one deadline covering
// subscription, submission and the wait for the completion record, and it
// runs whether or not anyone calls Wait.
func (c *Coordinator) Start(ctx context.Context, params Params, timeout time.Duration) (*Call, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.submitter == nil {
		return nil, apperrors.New(apperrors.CodeSubmissionFailed, "submitter is not configured")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := c.opts.Now()
	expires := time.Now().Add(timeout)
	startCtx, cancel := context.WithDeadline(ctx, expires)
	defer cancel()

	if err := c.acquire(startCtx); err != nil {
		c.inst.recordOutcome(ctx, failedStatus(err))
		return nil, err
	}

	reservation := c.registry.Reserve()
	id, err := c.submit(startCtx, params)
	if err != nil {
		reservation.Release()
		c.release()
		c.inst.recordOutcome(ctx, failedStatus(err))
		return nil, err
	}

	call := &Call{
		c:        c,
		finished: make(chan struct{}),
		req: Request{
			ID:          id,
			SubmittedAt: now,
			Deadline:    now.Add(timeout),
			Status:      StatusSubmitted,
		},
	}
	waiter, err := reservation.Register(id)
	if err != nil {
		c.release()
		c.inst.recordOutcome(ctx, StatusFailed)
		c.logf("register request %s: %v", id, err)
		return nil, err
	}
	call.waiter = waiter
	call.req.Status = StatusAwaitingCompletion
	go call.watch(time.Until(expires))
	return call, nil
}

type submitResult struct {
	id  ID
	err error
}

// submit returns when the submitter answers or ctx ends, whichever is first.
// An acknowledgment that arrives after ctx ended is logged and dropped.
func (c *Coordinator) submit(ctx context.Context, params Params) (ID, error) {
	result := make(chan submitResult, 1)
	go func() {
		id, err := c.submitter.Submit(ctx, params)
		result <- submitResult{id: id, err: err}
	}()

	select {
	case res := <-result:
		if res.err != nil && ctx.Err() != nil {
			return "", abandonedError(ctx, res.err)
		}
		return res.id, res.err
	case <-ctx.Done():
		go func() {
			if res := <-result; res.err == nil {
				c.logf("request %s acknowledged after the caller gave up", res.id)
			}
		}()
		return "", abandonedError(ctx, ctx.Err())
	}
}

// abandonedError reports a call that ended before it was acknowledged.
func abandonedError(ctx context.Context, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeRequestTimedOut, "request timed out before acknowledgment", cause)
	}
	return apperrors.Wrap(apperrors.CodeRequestCancelled, "request cancelled before acknowledgment", cause)
}

func failedStatus(err error) Status {
	switch {
	case errors.Is(err, ErrTimedOut):
		return StatusTimedOut
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// acquire joins the open subscription or opens one. Opening runs outside
// c.mu; concurrent callers wait for the same attempt and share its outcome.
func (c *Coordinator) acquire(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.stream != nil {
			c.inflight++
			c.mu.Unlock()
			return nil
		}
		if pending := c.opening; pending != nil {
			c.mu.Unlock()
			select {
			case <-pending.done:
				if pending.err != nil {
					return pending.err
				}
				continue
			case <-ctx.Done():
				return abandonedError(ctx, ctx.Err())
			}
		}
		attempt := &opening{done: make(chan struct{})}
		c.opening = attempt
		c.mu.Unlock()

		stream, err := Subscribe(ctx, c.feed, c.opts.Stream)
		if err != nil && ctx.Err() != nil {
			err = abandonedError(ctx, err)
		}

		c.mu.Lock()
		c.opening = nil
		if err != nil {
			// A caller that gave up must not fail the ones still waiting.
			if ctx.Err() == nil {
				attempt.err = err
			}
			close(attempt.done)
			c.mu.Unlock()
			return err
		}
		done := make(chan struct{})
		c.stream = stream
		c.loopDone = done
		c.opened++
		c.inflight++
		close(attempt.done)
		c.mu.Unlock()

		c.inst.subscriptions.Add(ctx, 1)
		go c.deliverLoop(stream, done)
		c.logf("event subscription opened")
		return nil
	}
}

func (c *Coordinator) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight--
	if c.inflight > 0 || c.stream == nil {
		return
	}
	if err := c.stream.Close(); err != nil {
		c.logf("close event subscription: %v", err)
	}
	<-c.loopDone
	c.stream = nil
	c.loopDone = nil
	c.inst.subscriptions.Add(context.Background(), -1)
	c.logf("event subscription closed")
}

// deliverLoop is the only caller of Deliver for its stream.
func (c *Coordinator) deliverLoop(stream *Stream, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for record := range stream.Records() {
		c.registry.Deliver(ctx, record)
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.opts.Logf != nil {
		c.opts.Logf(format, args...)
	}
}

// Call is one in-flight request.
type Call struct {
	c      *Coordinator
	waiter *Waiter

	mu  sync.Mutex
	req Request

	finishOnce sync.Once
	finished   chan struct{}
}

// ID returns the correlation ID assigned at submission.
func (call *Call) ID() ID {
	return call.req.ID
}

// Request returns a snapshot of the request state.
func (call *Call) Request() Request {
	call.mu.Lock()
	defer call.mu.Unlock()
	return call.req
}

// Wait blocks until the call resolves. When ctx ends first the request is
// abandoned: a deadline counts as a timeout, anything else as cancellation.
func (call *Call) Wait(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-call.finished:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			call.c.registry.Expire(call.req.ID)
		} else {
			call.c.registry.cancelWithCause(call.req.ID, ctx.Err())
		}
		<-call.finished
	}
	return call.waiter.Result()
}

// Cancel abandons the request. A completion record arriving later is treated
// as an orphan. Cancel is a no-op once the call has resolved.
func (call *Call) Cancel() {
	call.c.registry.Cancel(call.req.ID)
	<-call.finished
}

// watch enforces the deadline and finishes the call once the waiter resolves,
// whichever path resolved it.
func (call *Call) watch(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-call.waiter.Done():
	case <-timer.C:
		call.c.registry.Expire(call.req.ID)
	}
	call.finish(call.waiter.Status())
}

func (call *Call) finish(status Status) {
	call.finishOnce.Do(func() {
		call.mu.Lock()
		call.req.Status = status
		call.mu.Unlock()
		call.c.inst.recordOutcome(context.Background(), status)
		call.c.release()
		close(call.finished)
	})
}
