package settle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pumparena/internal/domain"
	"pumparena/internal/event"
)

// scriptedLedger returns a scripted sequence of errors per key, then
// succeeds. It records every request it sees.
type scriptedLedger struct {
	mu       sync.Mutex
	failures map[string][]error // consumed front to back
	requests []CreditRequest
}

func newScriptedLedger() *scriptedLedger {
	return &scriptedLedger{failures: make(map[string][]error)}
}

func (l *scriptedLedger) fail(key string, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key] = append(l.failures[key], errs...)
}

func (l *scriptedLedger) Credit(_ context.Context, req CreditRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if queue := l.failures[req.IdempotencyKey]; len(queue) > 0 {
		err := queue[0]
		l.failures[req.IdempotencyKey] = queue[1:]
		return err
	}
	return nil
}

func (l *scriptedLedger) seen() []CreditRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CreditRequest(nil), l.requests...)
}

// resultCollector gathers reported events.
type resultCollector struct {
	mu      sync.Mutex
	results []event.SettlementResultEvent
	notify  chan struct{}
}

func newResultCollector() *resultCollector {
	return &resultCollector{notify: make(chan struct{}, 64)}
}

func (c *resultCollector) report(ev *event.SettlementResultEvent) {
	c.mu.Lock()
	c.results = append(c.results, *ev)
	c.mu.Unlock()
	event.ReleaseSettlementResultEvent(ev)
	c.notify <- struct{}{}
}

func (c *resultCollector) wait(t *testing.T, n int) []event.SettlementResultEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.results) >= n {
			out := append([]event.SettlementResultEvent(nil), c.results...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d results", n)
		}
	}
}

func fastRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func testRecord(player string, payout int64) domain.SettlementRecord {
	return domain.SettlementRecord{
		Key:         domain.SettlementKey("room-1", 7, player),
		RoomID:      "room-1",
		Round:       7,
		Player:      player,
		Direction:   domain.DirectionUp,
		StakeUnits:  100,
		PayoutUnits: payout,
		Status:      domain.SettlementUnconfirmed,
	}
}

func TestDispatchConfirmsFirstTry(t *testing.T) {
	ledger := newScriptedLedger()
	collector := newResultCollector()
	p := NewPipeline(ledger, fastRetry(3), collector.report)
	defer p.Close()

	rec := testRecord("alice", 250)
	p.Dispatch(rec)

	results := collector.wait(t, 1)
	if results[0].Status != domain.SettlementConfirmed {
		t.Fatalf("status = %s, want confirmed", results[0].Status)
	}
	if results[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", results[0].Attempts)
	}
	if results[0].Key != rec.Key {
		t.Errorf("key = %s, want %s", results[0].Key, rec.Key)
	}

	seen := ledger.seen()
	if len(seen) != 1 {
		t.Fatalf("ledger saw %d requests, want 1", len(seen))
	}
	if seen[0].IdempotencyKey != rec.Key || seen[0].PayoutUnits != 250 || seen[0].StakeUnits != 100 {
		t.Errorf("request = %+v", seen[0])
	}
}

func TestDispatchRetriesTransientThenConfirms(t *testing.T) {
	ledger := newScriptedLedger()
	collector := newResultCollector()
	rec := testRecord("alice", 250)

	ledger.fail(rec.Key,
		domain.NewLedgerTransient("credit", errors.New("gateway status 503")),
		domain.NewLedgerTransient("credit", errors.New("gateway status 503")),
	)

	p := NewPipeline(ledger, fastRetry(5), collector.report)
	defer p.Close()
	p.Dispatch(rec)

	results := collector.wait(t, 1)
	if results[0].Status != domain.SettlementConfirmed {
		t.Fatalf("status = %s, want confirmed", results[0].Status)
	}
	if results[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", results[0].Attempts)
	}

	// Every retry reused the same idempotency key.
	for _, req := range ledger.seen() {
		if req.IdempotencyKey != rec.Key {
			t.Errorf("retry changed key to %s", req.IdempotencyKey)
		}
	}
}

func TestDispatchRejectionIsTerminal(t *testing.T) {
	ledger := newScriptedLedger()
	collector := newResultCollector()
	rec := testRecord("alice", 250)

	ledger.fail(rec.Key, domain.NewLedgerRejection("credit", errors.New("account frozen")))

	p := NewPipeline(ledger, fastRetry(5), collector.report)
	defer p.Close()
	p.Dispatch(rec)

	results := collector.wait(t, 1)
	if results[0].Status != domain.SettlementFailed {
		t.Fatalf("status = %s, want failed", results[0].Status)
	}
	if results[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1: rejections are never retried", results[0].Attempts)
	}
	if len(ledger.seen()) != 1 {
		t.Errorf("ledger saw %d requests, want 1", len(ledger.seen()))
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	ledger := newScriptedLedger()
	collector := newResultCollector()
	rec := testRecord("alice", 250)

	for i := 0; i < 10; i++ {
		ledger.fail(rec.Key, domain.NewLedgerTransient("credit", errors.New("timeout")))
	}

	p := NewPipeline(ledger, fastRetry(3), collector.report)
	defer p.Close()
	p.Dispatch(rec)

	results := collector.wait(t, 1)
	if results[0].Status != domain.SettlementFailed {
		t.Fatalf("status = %s, want failed", results[0].Status)
	}
	if results[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", results[0].Attempts)
	}
	if !strings.Contains(results[0].Err, "retries exhausted") {
		t.Errorf("err = %q", results[0].Err)
	}
}

func TestDispatchSkipsConfirmedRecords(t *testing.T) {
	ledger := newScriptedLedger()
	collector := newResultCollector()
	p := NewPipeline(ledger, fastRetry(3), collector.report)
	defer p.Close()

	rec := testRecord("alice", 250)
	rec.Status = domain.SettlementConfirmed
	p.Dispatch(rec)

	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}
	if len(ledger.seen()) != 0 {
		t.Errorf("confirmed record reached the ledger %d times", len(ledger.seen()))
	}
}

func TestDrainWaitsForInflight(t *testing.T) {
	ledger := newScriptedLedger()
	collector := newResultCollector()
	p := NewPipeline(ledger, fastRetry(3), collector.report)
	defer p.Close()

	for _, player := range []string{"a", "b", "c", "d"} {
		p.Dispatch(testRecord(player, 10))
	}
	if !p.Drain(2 * time.Second) {
		t.Fatal("drain timed out")
	}
	if got := len(collector.wait(t, 4)); got != 4 {
		t.Fatalf("results = %d, want 4", got)
	}
}

func TestBackoffIsBoundedExponential(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    4 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 4 * time.Second}, // capped
		{9, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestHTTPLedgerClientClassifiesResponses(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantErr   bool
		retriable bool
	}{
		{"confirmed", http.StatusOK, `{"status":"confirmed"}`, false, false},
		{"rejected", http.StatusOK, `{"status":"rejected","reason":"account frozen"}`, true, false},
		{"server error", http.StatusInternalServerError, ``, true, true},
		{"rate limited", http.StatusTooManyRequests, ``, true, true},
		{"garbage body", http.StatusOK, `not json`, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Idempotency-Key") == "" {
					t.Error("missing Idempotency-Key header")
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := NewHTTPLedgerClient(srv.URL, time.Second)
			err := client.Credit(context.Background(), CreditRequest{
				IdempotencyKey: "k1", RoomID: "room-1", Round: 1, Player: "alice",
			})

			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil && domain.IsRetriable(err) != tc.retriable {
				t.Errorf("retriable = %v, want %v (err %v)", domain.IsRetriable(err), tc.retriable, err)
			}
		})
	}
}

func TestHTTPLedgerClientNetworkErrorIsTransient(t *testing.T) {
	// Nothing listens here.
	client := NewHTTPLedgerClient("http://127.0.0.1:1", 200*time.Millisecond)
	err := client.Credit(context.Background(), CreditRequest{IdempotencyKey: "k1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsRetriable(err) {
		t.Fatalf("network error not retriable: %v", err)
	}
}
