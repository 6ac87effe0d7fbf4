// Package timeouts defines shared timeout constants used across the relay.
package timeouts

import "time"

// RequestAwait caps how long a caller waits for a completion record when no
// explicit timeout is given.
const RequestAwait = 2 * time.Minute

// LogPoll is the default interval between reads of a polled completion log.
const LogPoll = 500 * time.Millisecond

// ReconnectInitial is the first delay before re-establishing a dropped
// event stream.
const ReconnectInitial = 200 * time.Millisecond

// ReconnectMax caps the delay between event stream reconnect attempts.
const ReconnectMax = 10 * time.Second

// Shutdown limits how long servers and exporters wait during graceful
// shutdown.
const Shutdown = 5 * time.Second

// HealthProbe bounds how long a runtime waits for its own health server to
// report SERVING.
const HealthProbe = 5 * time.Second
