package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/vrfrelay/internal/correlation"
	"github.com/louisbranch/vrfrelay/internal/platform/timeouts"
	"github.com/louisbranch/vrfrelay/internal/services/oracle/storage"
)

const defaultFeedBatch = 100

// errConnClosed is returned by Next after Close.
var errConnClosed = errors.New("log connection closed")

// LogFeed exposes the completion log as a polled broadcast feed. Positions
// are decimal sequence numbers.
type LogFeed struct {
	log      storage.CompletionLog
	interval time.Duration
	batch    int
}

// NewLogFeed creates a feed polling log every interval.
func NewLogFeed(log storage.CompletionLog, interval time.Duration) *LogFeed {
	if interval <= 0 {
		interval = timeouts.LogPoll
	}
	return &LogFeed{log: log, interval: interval, batch: defaultFeedBatch}
}

// Connect opens a connection reading records after the given position. An
// empty position starts at the latest sequence.
func (f *LogFeed) Connect(ctx context.Context, after string) (correlation.FeedConn, error) {
	if f == nil || f.log == nil {
		return nil, fmt.Errorf("completion log is not configured")
	}
	var seq int64
	after = strings.TrimSpace(after)
	if after == "" {
		latest, err := f.log.LatestSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("read log head: %w", err)
		}
		seq = latest
	} else {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("invalid log position %q", after)
		}
		seq = parsed
	}
	return &logConn{feed: f, start: seq, seq: seq, closed: make(chan struct{})}, nil
}

type logConn struct {
	feed    *LogFeed
	start   int64
	seq     int64
	pending []storage.CompletionRecord

	closeOnce sync.Once
	closed    chan struct{}
}

// Position returns the sequence the connection started after.
func (c *logConn) Position() string {
	return strconv.FormatInt(c.start, 10)
}

func (c *logConn) Next(ctx context.Context) (correlation.CompletionRecord, error) {
	for len(c.pending) == 0 {
		select {
		case <-c.closed:
			return correlation.CompletionRecord{}, errConnClosed
		default:
		}
		records, err := c.feed.log.ListCompletionsAfter(ctx, c.seq, c.feed.batch)
		if err != nil {
			return correlation.CompletionRecord{}, err
		}
		if len(records) > 0 {
			c.pending = records
			break
		}
		timer := time.NewTimer(c.feed.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return correlation.CompletionRecord{}, ctx.Err()
		case <-c.closed:
			timer.Stop()
			return correlation.CompletionRecord{}, errConnClosed
		case <-timer.C:
		}
	}
	rec := c.pending[0]
	c.pending = c.pending[1:]
	c.seq = rec.Seq
	return correlation.CompletionRecord{
		ID:       correlation.ID(rec.RequestID),
		Payload:  rec.Payload,
		Position: strconv.FormatInt(rec.Seq, 10),
	}, nil
}

func (c *logConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

var _ correlation.Feed = (*LogFeed)(nil)
