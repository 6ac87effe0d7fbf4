package correlation

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// memFeed is an in-memory broadcast log. Records published while no
// connection is open are kept in history but only replayed to connections
// that resume from an earlier position.
type memFeed struct {
	mu          sync.Mutex
	history     []CompletionRecord
	conns       map[*memConn]struct{}
	connects    []string
	failConnect int
}

func newMemFeed() *memFeed {
	return &memFeed{conns: make(map[*memConn]struct{})}
}

func (f *memFeed) Connect(ctx context.Context, after string) (FeedConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, after)
	if f.failConnect > 0 {
		f.failConnect--
		return nil, errors.New("feed unavailable")
	}
	conn := &memConn{feed: f, start: after, records: make(chan CompletionRecord, 256), drop: make(chan error, 1)}
	if after == "" {
		conn.start = strconv.Itoa(len(f.history))
	} else {
		pos, _ := strconv.Atoi(after)
		for _, record := range f.history[pos:] {
			conn.records <- record
		}
	}
	f.conns[conn] = struct{}{}
	return conn, nil
}

// Publish appends a record and broadcasts it to open connections.
func (f *memFeed) Publish(id ID, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := CompletionRecord{ID: id, Payload: []byte(payload), Position: strconv.Itoa(len(f.history) + 1)}
	f.history = append(f.history, record)
	for conn := range f.conns {
		conn.records <- record
	}
}

// Drop fails every open connection.
func (f *memFeed) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		conn.drop <- errors.New("connection dropped")
		delete(f.conns, conn)
	}
}

func (f *memFeed) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *memFeed) Connects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

type memConn struct {
	feed    *memFeed
	start   string
	records chan CompletionRecord
	drop    chan error
	once    sync.Once
}

func (c *memConn) Position() string {
	return c.start
}

func (c *memConn) Next(ctx context.Context) (CompletionRecord, error) {
	select {
	case record := <-c.records:
		return record, nil
	case err := <-c.drop:
		return CompletionRecord{}, err
	case <-ctx.Done():
		return CompletionRecord{}, ctx.Err()
	}
}

func (c *memConn) Close() error {
	c.once.Do(func() {
		c.feed.mu.Lock()
		delete(c.feed.conns, c)
		c.feed.mu.Unlock()
	})
	return nil
}
