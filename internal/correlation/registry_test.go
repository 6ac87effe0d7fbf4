package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestRegistryDeliverResolvesWaiter(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	w, err := r.Register("r1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if !r.Deliver(context.Background(), CompletionRecord{ID: "r1", Payload: []byte("7")}) {
		t.Fatal("expected record to match waiter")
	}
	payload, err := w.Result()
	if err != nil {
		t.Fatalf("result error: %v", err)
	}
	if string(payload) != "7" {
		t.Fatalf("payload = %q, want %q", payload, "7")
	}
	if w.Status() != StatusFulfilled {
		t.Fatalf("status = %v, want %v", w.Status(), StatusFulfilled)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", r.Pending())
	}
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	if _, err := r.Register("r1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Register("r1")
	if !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("err = %v, want ErrDuplicateRegistration", err)
	}
	if r.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", r.Pending())
	}
}

func TestRegistryRejectsBlankID(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	if _, err := r.Register("  "); err == nil {
		t.Fatal("expected blank id to be rejected")
	}
}

func TestRegistryOrphanLeavesStateUnchanged(t *testing.T) {
	var logged []string
	r := NewRegistry(RegistryOptions{Logf: func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}})
	w, err := r.Register("r1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if r.Deliver(context.Background(), CompletionRecord{ID: "unknown"}) {
		t.Fatal("expected orphan record not to match")
	}

	stats := r.Stats()
	if stats.Pending != 1 || stats.Delivered != 0 || r.Held() != 0 {
		t.Fatalf("stats = %+v, want one pending and nothing delivered", stats)
	}
	if stats.Orphaned != 1 {
		t.Fatalf("orphaned = %d, want 1", stats.Orphaned)
	}
	select {
	case <-w.Done():
		t.Fatal("orphan must not resolve an unrelated waiter")
	default:
	}
	if len(logged) != 1 {
		t.Fatalf("log lines = %v, want one orphan line", logged)
	}
}

func TestRegistryDuplicateRecordIsOrphan(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	w, err := r.Register("r1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	first := r.Deliver(context.Background(), CompletionRecord{ID: "r1", Payload: []byte("first")})
	second := r.Deliver(context.Background(), CompletionRecord{ID: "r1", Payload: []byte("second")})
	if !first || second {
		t.Fatalf("deliveries = (%v, %v), want (true, false)", first, second)
	}
	payload, _ := w.Result()
	if string(payload) != "first" {
		t.Fatalf("payload = %q, want %q", payload, "first")
	}
	stats := r.Stats()
	if stats.Delivered != 1 || stats.Orphaned != 1 {
		t.Fatalf("stats = %+v, want 1 delivered and 1 orphaned", stats)
	}
}

func TestRegistryCancelAndExpire(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	cancelled, _ := r.Register("c1")
	expired, _ := r.Register("e1")

	if !r.Cancel("c1") {
		t.Fatal("expected cancel to find waiter")
	}
	if !r.Expire("e1") {
		t.Fatal("expected expire to find waiter")
	}
	if r.Cancel("c1") || r.Expire("e1") {
		t.Fatal("expected second cancel/expire to be a no-op")
	}

	if _, err := cancelled.Result(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("cancelled err = %v, want ErrCancelled", err)
	}
	if _, err := expired.Result(); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expired err = %v, want ErrTimedOut", err)
	}
	if r.Deliver(context.Background(), CompletionRecord{ID: "e1"}) {
		t.Fatal("record after expiry must be an orphan")
	}

	stats := r.Stats()
	if stats.Cancelled != 1 || stats.Expired != 1 || stats.Orphaned != 1 || stats.Pending != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRegistryCancelAfterDeliverIsNoop(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	w, _ := r.Register("r1")
	r.Deliver(context.Background(), CompletionRecord{ID: "r1", Payload: []byte("ok")})

	if r.Cancel("r1") {
		t.Fatal("expected cancel after delivery to be a no-op")
	}
	if _, err := w.Result(); err != nil {
		t.Fatalf("result error = %v, want nil", err)
	}
}

func TestReservationHoldsRecordThatArrivesBeforeRegister(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	reservation := r.Reserve()

	if r.Deliver(context.Background(), CompletionRecord{ID: "fast", Payload: []byte("early")}) {
		t.Fatal("expected no waiter yet")
	}
	if got := r.Stats(); got.Orphaned != 1 || got.Pending != 0 {
		t.Fatalf("stats = %+v, want the early record counted as an orphan on arrival", got)
	}
	if got := r.Held(); got != 1 {
		t.Fatalf("held = %d, want 1", got)
	}

	w, err := reservation.Register("fast")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	payload, err := w.Result()
	if err != nil {
		t.Fatalf("result error: %v", err)
	}
	if string(payload) != "early" {
		t.Fatalf("payload = %q, want %q", payload, "early")
	}
	stats := r.Stats()
	if stats.Pending != 0 || stats.Delivered != 1 || stats.Orphaned != 0 || stats.Reclaimed != 1 {
		t.Fatalf("stats = %+v, want early record delivered and the orphan count backed out", stats)
	}
	if got := r.Held(); got != 0 {
		t.Fatalf("held = %d, want 0", got)
	}
}

func TestRegistryOrphanCountedWhileReservationOpen(t *testing.T) {
	var logged []string
	r := NewRegistry(RegistryOptions{Logf: func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}})
	if _, err := r.Register("live"); err != nil {
		t.Fatalf("register: %v", err)
	}
	reservation := r.Reserve()
	defer reservation.Release()

	before := r.Stats()
	r.Deliver(context.Background(), CompletionRecord{ID: "never-registered"})
	after := r.Stats()

	if after.Pending != before.Pending || after.Delivered != before.Delivered {
		t.Fatalf("stats before = %+v, after = %+v, want waiter state unchanged", before, after)
	}
	if after.Orphaned != before.Orphaned+1 {
		t.Fatalf("orphaned = %d, want %d", after.Orphaned, before.Orphaned+1)
	}
	if len(logged) != 1 || !strings.Contains(logged[0], "never-registered") {
		t.Fatalf("log lines = %v, want one orphan line", logged)
	}
}

func TestReservationReleaseDropsHeldRecords(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	first := r.Reserve()
	second := r.Reserve()

	r.Deliver(context.Background(), CompletionRecord{ID: "x1"})
	r.Deliver(context.Background(), CompletionRecord{ID: "x2"})

	first.Release()
	if got := r.Held(); got != 2 {
		t.Fatalf("held = %d, want 2 while a reservation is open", got)
	}
	second.Release()
	second.Release()

	if got := r.Held(); got != 0 {
		t.Fatalf("held = %d, want 0 after the last reservation closes", got)
	}
	if got := r.Stats().Orphaned; got != 2 {
		t.Fatalf("orphaned = %d, want 2 counted once on arrival", got)
	}
	if r.Deliver(context.Background(), CompletionRecord{ID: "x3"}) {
		t.Fatal("expected orphan")
	}
	if got := r.Stats().Orphaned; got != 3 || r.Held() != 0 {
		t.Fatalf("orphaned = %d held = %d, want a direct orphan after reservations closed", got, r.Held())
	}
}

func TestReservationHoldLimitDropsOldest(t *testing.T) {
	r := NewRegistry(RegistryOptions{HoldLimit: 2})
	reservation := r.Reserve()
	defer reservation.Release()

	for _, id := range []ID{"a", "b", "c"} {
		r.Deliver(context.Background(), CompletionRecord{ID: id})
	}
	if got := r.Held(); got != 2 {
		t.Fatalf("held = %d, want 2", got)
	}
	if got := r.Stats().Orphaned; got != 3 {
		t.Fatalf("orphaned = %d, want 3", got)
	}

	w, err := r.Register("a")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	select {
	case <-w.Done():
		t.Fatal("dropped record must not resolve a later waiter")
	default:
	}
}

func TestRegistryConcurrentDeliveryNeverCrossDelivers(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	const n = 200

	waiters := make([]*Waiter, n)
	for i := range waiters {
		w, err := r.Register(ID(fmt.Sprintf("r%d", i)))
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		waiters[i] = w
	}

	var g errgroup.Group
	for i := n - 1; i >= 0; i-- {
		id := fmt.Sprintf("r%d", i)
		g.Go(func() error {
			r.Deliver(context.Background(), CompletionRecord{ID: ID(id), Payload: []byte(id)})
			r.Deliver(context.Background(), CompletionRecord{ID: ID(id), Payload: []byte("dup")})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	for i, w := range waiters {
		payload, err := w.Result()
		if err != nil {
			t.Fatalf("waiter %d: %v", i, err)
		}
		if want := fmt.Sprintf("r%d", i); string(payload) != want {
			t.Fatalf("waiter %d payload = %q, want %q", i, payload, want)
		}
	}
	stats := r.Stats()
	if stats.Delivered != n || stats.Orphaned != n || stats.Pending != 0 {
		t.Fatalf("stats = %+v, want %d delivered and %d orphaned", stats, n, n)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusSubmitted:          "submitted",
		StatusAwaitingCompletion: "awaiting_completion",
		StatusFulfilled:          "fulfilled",
		StatusTimedOut:           "timed_out",
		StatusCancelled:          "cancelled",
		StatusFailed:             "failed",
		Status(42):               "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %d = %q, want %q", int(status), got, want)
		}
	}
	if StatusAwaitingCompletion.Terminal() || !StatusTimedOut.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
}
