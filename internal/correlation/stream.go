package correlation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/louisbranch/vrfrelay/internal/platform/errors"
	"github.com/louisbranch/vrfrelay/internal/platform/timeouts"
)

// Feed opens connections to the broadcast completion log.
type Feed interface {
	// Connect starts reading after position. An empty position means the
	// current head of the log: only records appended after Connect returns
	// are guaranteed to be observed.
	Connect(ctx context.Context, after string) (FeedConn, error)
}

// FeedConn is one live connection to the completion log.
type FeedConn interface {
	// Position reports where the connection started reading. A reconnect
	// before any record arrives resumes from here. Empty means unknown.
	Position() string
	// Next blocks until a record arrives, the connection fails, or ctx ends.
	Next(ctx context.Context) (CompletionRecord, error)
	Close() error
}

// StreamOptions controls reconnect timing and buffering.
type StreamOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Buffer is the capacity of the records channel.
	Buffer int
	Logf   func(string, ...any)
}

func (o StreamOptions) normalized() StreamOptions {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = timeouts.ReconnectInitial
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = timeouts.ReconnectMax
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.Buffer < 0 {
		o.Buffer = 0
	}
	return o
}

// Stream is a subscription to the completion log. It is not restartable:
// once closed, a new Stream must be subscribed.
type Stream struct {
	feed Feed
	opts StreamOptions

	records chan CompletionRecord
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce  sync.Once
	reconnects atomic.Int64
}

// Subscribe connects to feed and starts streaming records. The first connect
// happens before Subscribe returns; its failure is reported as
// ErrSubscriptionUnavailable. Later disconnects are retried with exponential
// backoff, resuming after the last delivered record position.
func Subscribe(ctx context.Context, feed Feed, opts StreamOptions) (*Stream, error) {
	if feed == nil {
		return nil, apperrors.New(apperrors.CodeSubscriptionUnavailable, "event feed is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := feed.Connect(ctx, "")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSubscriptionUnavailable, "connect event feed: "+err.Error(), err)
	}

	// The stream outlives the call that opened it; Close ends it.
	runCtx, cancel := context.WithCancel(context.Background())
	opts = opts.normalized()
	s := &Stream{
		feed:    feed,
		opts:    opts,
		records: make(chan CompletionRecord, opts.Buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(runCtx, conn)
	return s, nil
}

// Records returns the channel of incoming records. It is closed after Close.
func (s *Stream) Records() <-chan CompletionRecord {
	return s.records
}

// Reconnects reports how many times the stream re-established its connection.
func (s *Stream) Reconnects() int {
	return int(s.reconnects.Load())
}

// Close stops the stream and releases its connection. It is safe to call
// more than once.
func (s *Stream) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
	return nil
}

func (s *Stream) run(ctx context.Context, conn FeedConn) {
	defer close(s.done)
	defer close(s.records)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.opts.InitialBackoff
	retry.MaxInterval = s.opts.MaxBackoff
	retry.Reset()

	position := conn.Position()
	for {
		err := s.drain(ctx, conn, &position, retry)
		if closeErr := conn.Close(); closeErr != nil {
			s.logf("close event feed connection: %v", closeErr)
		}
		if ctx.Err() != nil {
			return
		}
		s.logf("event stream disconnected: %v", err)

		conn = s.reconnect(ctx, position, retry)
		if conn == nil {
			return
		}
		if start := conn.Position(); start != "" {
			position = start
		}
	}
}

// drain forwards records from conn until it fails. A received record resets
// the backoff.
func (s *Stream) drain(ctx context.Context, conn FeedConn, position *string, retry *backoff.ExponentialBackOff) error {
	for {
		record, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		retry.Reset()
		if record.Position != "" {
			*position = record.Position
		}
		select {
		case s.records <- record:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reconnect retries Connect until it succeeds or ctx ends (nil result).
func (s *Stream) reconnect(ctx context.Context, position string, retry *backoff.ExponentialBackOff) FeedConn {
	for {
		if !waitReconnect(ctx, retry.NextBackOff()) {
			return nil
		}
		conn, err := s.feed.Connect(ctx, position)
		if err == nil {
			s.reconnects.Add(1)
			s.logf("event stream reconnected after %q", position)
			return conn
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		s.logf("event stream reconnect failed: %v", err)
	}
}

func (s *Stream) logf(format string, args ...any) {
	if s.opts.Logf != nil {
		s.opts.Logf(format, args...)
	}
}

func waitReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = timeouts.ReconnectInitial
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
