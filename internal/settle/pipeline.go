package settle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"pumparena/internal/domain"
	"pumparena/internal/event"
	"pumparena/internal/infra"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
	defaultWorkerSlots = 8
)

// RetryPolicy bounds the pipeline's ledger retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the stock bounded-backoff policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

// Backoff returns the delay before the given retry (attempt starts at
// 1 for the first retry). Exponential, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Pipeline dispatches settlement credits to the external ledger as
// background work. It never mutates round or record state itself:
// every outcome is reported back into the owning coordinator's inbox,
// preserving the single-writer invariant. Dispatches for round N run
// concurrently with the coordinator accepting bets for round N+1.
type Pipeline struct {
	client LedgerClient
	retry  RetryPolicy

	// report enqueues a result event into the coordinator's inbox.
	report func(*event.SettlementResultEvent)

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPipeline creates a settlement pipeline. report must be non-nil
// and safe to call from worker goroutines.
func NewPipeline(client LedgerClient, retry RetryPolicy, report func(*event.SettlementResultEvent)) *Pipeline {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		client: client,
		retry:  retry,
		report: report,
		sem:    make(chan struct{}, defaultWorkerSlots),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch starts the asynchronous credit for one settlement record.
// The record itself stays owned by the coordinator; the pipeline works
// from a copy. Already-confirmed records are skipped, which makes
// replaying a closed round's dispatch idempotent on our side even
// before the ledger's key dedup kicks in.
func (p *Pipeline) Dispatch(rec domain.SettlementRecord) {
	if rec.Status == domain.SettlementConfirmed {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.sem }()

		p.run(rec)
	}()
}

func (p *Pipeline) run(rec domain.SettlementRecord) {
	req := CreditRequest{
		IdempotencyKey: rec.Key,
		RoomID:         rec.RoomID,
		Round:          rec.Round,
		Player:         rec.Player,
		PayoutUnits:    rec.PayoutUnits,
		StakeUnits:     rec.StakeUnits,
	}

	for attempt := 1; ; attempt++ {
		err := p.client.Credit(p.ctx, req)
		if err == nil {
			infra.GlobalMetrics.RecordSettlementConfirmed()
			p.emit(rec.Key, domain.SettlementConfirmed, attempt, "")
			return
		}

		if !domain.IsRetriable(err) {
			slog.Error("settlement rejected by ledger",
				slog.String("key", rec.Key),
				slog.String("room", rec.RoomID),
				slog.Uint64("round", rec.Round),
				slog.Any("error", err),
			)
			infra.GlobalMetrics.RecordSettlementFailed()
			p.emit(rec.Key, domain.SettlementFailed, attempt, err.Error())
			return
		}

		if attempt >= p.retry.MaxAttempts {
			slog.Error("settlement retries exhausted",
				slog.String("key", rec.Key),
				slog.Int("attempts", attempt),
				slog.Any("error", err),
			)
			infra.GlobalMetrics.RecordSettlementFailed()
			p.emit(rec.Key, domain.SettlementFailed, attempt,
				fmt.Sprintf("retries exhausted: %v", err))
			return
		}

		delay := p.retry.Backoff(attempt)
		slog.Warn("settlement attempt failed, backing off",
			slog.String("key", rec.Key),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		infra.GlobalMetrics.RecordSettlementRetry()

		select {
		case <-p.ctx.Done():
			// Shutdown mid-retry: the record stays durably
			// Unconfirmed and is re-dispatched on next activation.
			return
		case <-time.After(delay):
		}
	}
}

func (p *Pipeline) emit(key string, status domain.SettlementStatus, attempts int, errMsg string) {
	ev := event.AcquireSettlementResultEvent()
	ev.Key = key
	ev.Status = status
	ev.Attempts = attempts
	ev.Err = errMsg
	p.report(ev)
}

// Drain waits for every in-flight dispatch to finish, up to timeout.
// Returns false if the timeout expired first.
func (p *Pipeline) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close cancels outstanding retries and waits for workers to exit.
// Records without a final status remain Unconfirmed in storage, so
// nothing is lost — outstanding work is resumed, not abandoned.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}
