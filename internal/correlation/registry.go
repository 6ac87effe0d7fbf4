package correlation

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/vrfrelay/internal/platform/errors"
)

const defaultHoldLimit = 1024

// Waiter is the handle a caller blocks on until its request resolves.
type Waiter struct {
	id   ID
	done chan struct{}

	// Written once by the registry before done is closed.
	payload []byte
	err     error
	status  Status
}

func newWaiter(id ID) *Waiter {
	return &Waiter{id: id, done: make(chan struct{}), status: StatusAwaitingCompletion}
}

// ID returns the correlation ID the waiter is registered for.
func (w *Waiter) ID() ID {
	return w.id
}

// Done is closed once the waiter is resolved.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Result blocks until the waiter is resolved and returns its outcome.
func (w *Waiter) Result() ([]byte, error) {
	<-w.done
	return w.payload, w.err
}

// Status blocks until the waiter is resolved and returns the terminal status.
func (w *Waiter) Status() Status {
	<-w.done
	return w.status
}

func (w *Waiter) resolve(payload []byte, err error, status Status) {
	w.payload = payload
	w.err = err
	w.status = status
	close(w.done)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// HoldLimit bounds the records held while submissions are reserved.
	HoldLimit int
	Logf      func(string, ...any)
}

// RegistryStats is a snapshot of registry counters. Records kept for open
// reservations are not part of it; see Registry.Held.
type RegistryStats struct {
	Pending   int
	Delivered int64
	// Orphaned counts records that matched no waiter on arrival, less those
	// later claimed through a reservation.
	Orphaned  int64
	Reclaimed int64
	Cancelled int64
	Expired   int64
}

// Registry maps outstanding correlation IDs to waiters. All operations
// share one mutex, so a record is routed to at most one waiter and each
// waiter resolves exactly once.
type Registry struct {
	mu           sync.Mutex
	waiters      map[ID]*Waiter
	reservations int
	held         map[ID]CompletionRecord
	heldOrder    []ID
	holdLimit    int
	stats        RegistryStats
	logf         func(string, ...any)
	inst         instruments
}

// NewRegistry builds an empty Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	limit := opts.HoldLimit
	if limit <= 0 {
		limit = defaultHoldLimit
	}
	return &Registry{
		waiters:   make(map[ID]*Waiter),
		held:      make(map[ID]CompletionRecord),
		holdLimit: limit,
		logf:      opts.Logf,
		inst:      newInstruments(),
	}
}

// Register adds a waiter for id. It fails with ErrDuplicateRegistration when
// id already has a pending waiter.
func (r *Registry) Register(id ID) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(id)
}

func (r *Registry) registerLocked(id ID) (*Waiter, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, apperrors.New(apperrors.CodeUnknown, "correlation id is required")
	}
	if _, exists := r.waiters[id]; exists {
		return nil, duplicateError(id)
	}
	w := newWaiter(id)
	if record, ok := r.held[id]; ok {
		r.unholdLocked(id)
		r.stats.Orphaned--
		r.stats.Reclaimed++
		r.inst.reclaimed.Add(context.Background(), 1)
		if r.logf != nil {
			r.logf("completion record %s claimed after arriving early", id)
		}
		r.fulfillLocked(w, record)
		return w, nil
	}
	r.waiters[id] = w
	return w, nil
}

// Deliver routes record to its waiter. It reports false when nobody waits for
// the record's ID; such an orphan is counted and logged, never an error. While
// a reservation is open the orphan is also kept so the pending submission can
// still claim it.
func (r *Registry) Deliver(ctx context.Context, record CompletionRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.waiters[record.ID]; ok {
		delete(r.waiters, record.ID)
		r.fulfillLocked(w, record)
		return true
	}
	r.orphanLocked(ctx, record.ID, "no waiter")
	if r.reservations > 0 {
		r.holdLocked(record)
	}
	return false
}

// Cancel resolves the waiter for id with ErrCancelled. It reports false when
// no waiter is pending.
func (r *Registry) Cancel(id ID) bool {
	return r.abandon(id, StatusCancelled, nil)
}

// Expire resolves the waiter for id with ErrTimedOut. It reports false when
// no waiter is pending.
func (r *Registry) Expire(id ID) bool {
	return r.abandon(id, StatusTimedOut, nil)
}

func (r *Registry) cancelWithCause(id ID, cause error) bool {
	return r.abandon(id, StatusCancelled, cause)
}

func (r *Registry) abandon(id ID, status Status, cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.waiters[id]
	if !ok {
		return false
	}
	delete(r.waiters, id)
	switch status {
	case StatusTimedOut:
		r.stats.Expired++
		w.resolve(nil, timedOutError(id), StatusTimedOut)
	default:
		r.stats.Cancelled++
		w.resolve(nil, cancelledError(id, cause), StatusCancelled)
	}
	return true
}

// Pending returns the number of registered waiters.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.Pending = len(r.waiters)
	return stats
}

// Held returns the number of orphans kept for open reservations.
func (r *Registry) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.heldOrder)
}

// Reservation marks a submission whose correlation ID is not known yet.
// While any reservation is open, orphans are kept as well as counted, so a
// completion that races ahead of Register still reaches its waiter.
type Reservation struct {
	r        *Registry
	released bool
}

// Reserve opens a Reservation. Callers must Register through it or Release it.
func (r *Registry) Reserve() *Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations++
	return &Reservation{r: r}
}

// Register adds a waiter for id and closes the reservation. A record for id
// that arrived while the reservation was open resolves the waiter at once.
func (res *Reservation) Register(id ID) (*Waiter, error) {
	r := res.r
	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.registerLocked(id)
	res.releaseLocked()
	return w, err
}

// Release closes the reservation without registering. It is idempotent.
func (res *Reservation) Release() {
	res.r.mu.Lock()
	defer res.r.mu.Unlock()
	res.releaseLocked()
}

func (res *Reservation) releaseLocked() {
	if res.released {
		return
	}
	res.released = true
	r := res.r
	r.reservations--
	if r.reservations > 0 {
		return
	}
	r.heldOrder = nil
	clear(r.held)
}

func (r *Registry) fulfillLocked(w *Waiter, record CompletionRecord) {
	r.stats.Delivered++
	w.resolve(record.Payload, nil, StatusFulfilled)
	r.inst.delivered.Add(context.Background(), 1)
}

// holdLocked keeps an already counted orphan. A second record for a held ID
// is dropped; at the limit the oldest held record is dropped.
func (r *Registry) holdLocked(record CompletionRecord) {
	if _, dup := r.held[record.ID]; dup {
		return
	}
	if len(r.heldOrder) >= r.holdLimit {
		r.unholdLocked(r.heldOrder[0])
	}
	r.held[record.ID] = record
	r.heldOrder = append(r.heldOrder, record.ID)
}

func (r *Registry) unholdLocked(id ID) {
	delete(r.held, id)
	for i, held := range r.heldOrder {
		if held == id {
			r.heldOrder = append(r.heldOrder[:i], r.heldOrder[i+1:]...)
			return
		}
	}
}

func (r *Registry) orphanLocked(ctx context.Context, id ID, reason string) {
	r.stats.Orphaned++
	r.inst.orphaned.Add(ctx, 1)
	if r.logf != nil {
		r.logf("orphan completion record %s (%s)", id, reason)
	}
}
