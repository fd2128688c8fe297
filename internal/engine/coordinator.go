package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pumparena/internal/domain"
	"pumparena/internal/event"
	"pumparena/internal/infra"
)

const defaultInboxSize = 256

// Store is the durable storage the coordinator checkpoints into.
type Store interface {
	SaveCheckpoint(cp *domain.Checkpoint) error
	LoadCheckpoint(roomID string) (*domain.Checkpoint, error)
	SaveBet(bet *domain.Bet) error
	BetsForRound(roomID string, round uint64) ([]domain.Bet, error)
	SaveSettlement(rec *domain.SettlementRecord) error
	UnconfirmedSettlements(roomID string) ([]domain.SettlementRecord, error)
}

// Dispatcher initiates asynchronous ledger credits for settlement
// records. Implemented by the settlement pipeline.
type Dispatcher interface {
	Dispatch(rec domain.SettlementRecord)
}

// Config carries the per-room gameplay parameters.
type Config struct {
	RoundDuration      time.Duration
	MinStakeUnits      int64
	DailyStakeCapUnits int64
	HistoryRetention   int
	InboxSize          int
}

// roomView is the committed read snapshot rebuilt after every
// processed event. External queries read it under the view lock and
// never touch live coordinator state.
type roomView struct {
	state    domain.RoomState
	bets     map[string]domain.Bet
	records  []domain.SettlementRecord
	balances map[string]domain.BalanceDelta
}

// Coordinator is the single-writer state machine owning one room.
// Every mutation — bet placement, clock tick, settlement result —
// travels through the inbox and is processed strictly serially by
// Run, which MUST execute in exactly one goroutine. That serialism is
// what makes the bet ledger's duplicate check and the clock's
// catch-up replay safe without locks.
type Coordinator struct {
	roomID     string
	cfg        Config
	clock      RoundClock
	inbox      chan event.Event
	store      Store
	dispatcher Dispatcher

	// Single-writer state. Touched only from Run's goroutine.
	state        *domain.RoomState
	ledger       *BetLedger
	limits       *domain.DailyStakeBook
	balances     *domain.BalanceBook
	records      map[string]*domain.SettlementRecord
	lastObserved time.Time

	// Boundary: notifies the websocket hub of room events.
	onUpdate func(domain.RoomEvent)

	mu   sync.RWMutex // guards view only (external reads)
	view roomView
}

// NewCoordinator creates a coordinator for roomID. Call Activate
// before Run.
func NewCoordinator(roomID string, cfg Config, store Store, dispatcher Dispatcher, onUpdate func(domain.RoomEvent)) *Coordinator {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = 32
	}
	return &Coordinator{
		roomID:     roomID,
		cfg:        cfg,
		inbox:      make(chan event.Event, cfg.InboxSize),
		store:      store,
		dispatcher: dispatcher,
		balances:   domain.NewBalanceBook(),
		limits:     domain.NewDailyStakeBook(cfg.DailyStakeCapUnits),
		records:    make(map[string]*domain.SettlementRecord),
		onUpdate:   onUpdate,
	}
}

// Inbox returns the event channel. External workers send events here.
func (c *Coordinator) Inbox() chan<- event.Event {
	return c.inbox
}

// Activate loads the room's durable checkpoint (or initializes a
// fresh room anchored at now) and re-dispatches any settlement
// records left unconfirmed by a previous incarnation. Idempotency
// keys make the replay safe: the ledger never double-pays.
func (c *Coordinator) Activate(now time.Time) error {
	cp, err := c.store.LoadCheckpoint(c.roomID)
	if err != nil {
		return fmt.Errorf("activate room %s: %w", c.roomID, err)
	}

	if cp == nil {
		c.state = &domain.RoomState{ID: c.roomID, Genesis: now.UTC()}
		c.clock = RoundClock{Genesis: c.state.Genesis, Duration: c.cfg.RoundDuration}
		c.openRound(0)
		c.lastObserved = now
		c.commit()
		return c.checkpoint()
	}

	c.state = &cp.State
	c.clock = RoundClock{Genesis: c.state.Genesis, Duration: c.cfg.RoundDuration}
	c.limits.Restore(cp.Limits)
	c.balances.Restore(cp.Balances)
	c.lastObserved = cp.LastObserved

	c.ledger = NewBetLedger(c.roomID, c.state.Current, c.cfg.MinStakeUnits)
	bets, err := c.store.BetsForRound(c.roomID, c.state.Current.Number)
	if err != nil {
		return fmt.Errorf("activate room %s: restore bets: %w", c.roomID, err)
	}
	for i := range bets {
		bet := bets[i]
		c.ledger.Restore(&bet)
	}

	pending, err := c.store.UnconfirmedSettlements(c.roomID)
	if err != nil {
		return fmt.Errorf("activate room %s: restore settlements: %w", c.roomID, err)
	}
	for i := range pending {
		rec := pending[i]
		c.records[rec.Key] = &rec
		c.dispatcher.Dispatch(rec)
	}

	slog.Info("room activated from checkpoint",
		slog.String("room", c.roomID),
		slog.Uint64("round", c.state.Current.Number),
		slog.Int("pending_settlements", len(pending)),
	)
	c.commit()
	return nil
}

// Run starts the main event loop. This MUST be run in a single
// goroutine. It returns a non-nil error on an invariant breach so the
// room service can restart the actor from durable state.
func (c *Coordinator) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("room invariant breach, actor restarting",
				slog.String("room", c.roomID),
				slog.Any("panic", r),
			)
			infra.GlobalMetrics.RecordError()
			err = &domain.InvariantError{RoomID: c.roomID, Detail: fmt.Sprint(r)}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("room coordinator stopping", slog.String("room", c.roomID))
			return nil
		case now := <-ticker.C:
			c.processEvent(event.AcquireTickEvent(now))
		case ev := <-c.inbox:
			c.processEvent(ev)
		}
	}
}

func (c *Coordinator) processEvent(ev event.Event) {
	start := time.Now()
	switch e := ev.(type) {
	case *event.TickEvent:
		c.advanceTo(e.Now)
		event.ReleaseTickEvent(e)
	case *event.PlaceBetEvent:
		c.handlePlaceBet(e)
	case *event.SettlementResultEvent:
		c.handleSettlementResult(e)
		event.ReleaseSettlementResultEvent(e)
	case *event.ForfeitStaleEvent:
		c.handleForfeitStale(e)
	default:
		slog.Warn("unknown event type", slog.String("type", ev.Type()))
	}
	infra.GlobalMetrics.RecordEvent(time.Since(start).Nanoseconds())
}

// advanceTo replays every round boundary crossed since the last
// observed time. A suspended process catches up round by round, never
// skipping: each missed round is locked, resolved and closed in
// order, preserving round-number continuity.
func (c *Coordinator) advanceTo(now time.Time) {
	crossed := c.clock.Crossed(c.lastObserved, now)
	if len(crossed) > 1 {
		slog.Info("clock skew recovered, replaying missed rounds",
			slog.String("room", c.roomID),
			slog.Int("missed", len(crossed)-1),
		)
	}
	for _, n := range crossed {
		c.closeRound(n, now)
	}
	c.lastObserved = now
	if len(crossed) > 0 {
		c.mustCheckpoint()
		c.commit()
	}
}

// closeRound drives round n through Locked, Settling and Closed, then
// opens round n+1. Settlement dispatch is initiated here but confirms
// asynchronously; Closed is gameplay finality, not ledger finality.
func (c *Coordinator) closeRound(n uint64, now time.Time) {
	cur := c.state.Current
	if cur == nil || cur.Number != n {
		got := uint64(0)
		if cur != nil {
			got = cur.Number
		}
		panic(&domain.InvariantError{
			RoomID: c.roomID,
			Detail: fmt.Sprintf("round continuity: closing %d but current is %d", n, got),
		})
	}

	// Open -> Locked. No bet placed after this point, even within the
	// same tick.
	cur.Phase = domain.PhaseLocked
	cur.PriceClose = c.state.PriceUnits
	c.emit("round_locked", nil)

	// Locked -> Settling. Outcome resolution is synchronous and cheap.
	snap := c.ledger.Snapshot()
	cur.Phase = domain.PhaseSettling
	outcome := Resolve(snap)
	cur.Outcome = &outcome

	payouts := Payouts(snap, outcome)
	for _, p := range payouts {
		rec := &domain.SettlementRecord{
			Key:         domain.SettlementKey(c.roomID, n, p.Bet.Player),
			RoomID:      c.roomID,
			Round:       n,
			Player:      p.Bet.Player,
			BetRef:      p.Bet.Ref,
			Direction:   p.Bet.Direction,
			StakeUnits:  p.Bet.StakeUnits,
			PayoutUnits: p.PayoutUnits,
			Status:      domain.SettlementUnconfirmed,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		c.records[rec.Key] = rec
		if err := c.store.SaveSettlement(rec); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: settlement %s: %v", rec.Key, err))
		}

		bet := c.ledger.Get(p.Bet.Player)
		if bet != nil && bet.Status == domain.BetPending {
			bet.Status = domain.BetSettled
			bet.PayoutUnits = p.PayoutUnits
			if err := c.store.SaveBet(bet); err != nil {
				panic(fmt.Sprintf("PERSISTENCE_FAILURE: bet %s: %v", bet.Ref, err))
			}
		}
	}

	// Settling -> Closed once dispatch has been initiated for every
	// bet. Confirmation latency is tracked per record, not per round.
	for _, p := range payouts {
		c.dispatcher.Dispatch(*c.records[domain.SettlementKey(c.roomID, n, p.Bet.Player)])
	}

	cur.Phase = domain.PhaseClosed
	cur.SettledAtUnix = now.Unix()
	c.state.History = append(c.state.History, *cur)
	c.state.TrimHistory(c.cfg.HistoryRetention)
	c.pruneRecords(n)
	infra.GlobalMetrics.RecordRoundSettled()
	c.emit("round_closed", outcome)

	c.openRound(n + 1)
}

// openRound begins round n. The new round's Open phase starts
// immediately after the prior round reaches Closed.
func (c *Coordinator) openRound(n uint64) {
	opens, closes := c.clock.Bounds(n)
	round := &domain.Round{
		Number:    n,
		OpensAt:   opens,
		ClosesAt:  closes,
		Phase:     domain.PhaseOpen,
		PriceOpen: c.state.PriceUnits,
	}
	c.state.Current = round
	c.ledger = NewBetLedger(c.roomID, round, c.cfg.MinStakeUnits)
	c.emit("round_opened", nil)
}

func (c *Coordinator) handlePlaceBet(ev *event.PlaceBetEvent) {
	result := c.placeBet(ev)
	if result.Err != nil {
		infra.GlobalMetrics.RecordBetRejected()
	} else {
		infra.GlobalMetrics.RecordBetPlaced()
		c.commit()
		c.emit("bet_placed", result.Bet)
	}

	select {
	case ev.Reply <- result:
	default:
		// Caller gave up (timeout). The bet stands; they can query it.
	}
}

func (c *Coordinator) placeBet(ev *event.PlaceBetEvent) event.PlaceBetResult {
	cur := c.state.Current
	result := event.PlaceBetResult{Round: cur.Number, Phase: cur.Phase, ClosesAt: cur.ClosesAt}

	// A bet arriving in the same tick as the close boundary is
	// rejected, never silently rolled into the next round.
	if !ev.ReceivedAt.Before(cur.ClosesAt) {
		result.Err = domain.NewValidationError("place", domain.ErrRoundNotOpen)
		return result
	}

	if err := c.limits.TryConsume(ev.Player, ev.StakeUnits, ev.ReceivedAt); err != nil {
		result.Err = domain.NewValidationError("place", err)
		return result
	}

	bet, err := c.ledger.Place(ev.Player, ev.Direction, ev.StakeUnits, ev.ReceivedAt)
	if err != nil {
		c.limits.Rollback(ev.Player, ev.StakeUnits)
		result.Err = err
		return result
	}

	// Each accepted stake moves the room's price signal in its
	// direction; the round resolves on the net movement.
	if bet.Direction == domain.DirectionUp {
		c.state.PriceUnits += bet.StakeUnits
	} else {
		c.state.PriceUnits -= bet.StakeUnits
	}

	if err := c.store.SaveBet(bet); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: bet %s: %v", bet.Ref, err))
	}
	c.mustCheckpoint()

	result.Bet = bet
	return result
}

// handleSettlementResult applies a ledger verdict. It runs inside the
// single-writer loop, so a retry racing a duplicate confirmation is
// impossible: the first terminal status wins and later reports are
// dropped.
func (c *Coordinator) handleSettlementResult(ev *event.SettlementResultEvent) {
	rec, ok := c.records[ev.Key]
	if !ok {
		slog.Warn("settlement result for unknown record",
			slog.String("room", c.roomID),
			slog.String("key", ev.Key),
		)
		return
	}
	if rec.Status != domain.SettlementUnconfirmed {
		return
	}

	rec.Status = ev.Status
	rec.Attempts = ev.Attempts
	rec.LastError = ev.Err
	rec.UpdatedAt = time.Now().UTC()
	if err := c.store.SaveSettlement(rec); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: settlement %s: %v", rec.Key, err))
	}

	if rec.Status == domain.SettlementConfirmed {
		bal := c.balances.Get(rec.Player)
		bal.Debit(rec.StakeUnits, rec.Round)
		bal.Credit(rec.PayoutUnits, rec.Round)
		c.mustCheckpoint()
	}

	c.commit()
	c.emit("settlement", *rec)
}

// handleForfeitStale rejects pending bets of players with no live
// session. Invoked only during room teardown.
func (c *Coordinator) handleForfeitStale(ev *event.ForfeitStaleEvent) {
	defer close(ev.Done)

	forfeited := 0
	for player, bet := range c.ledger.Bets() {
		if bet.Status != domain.BetPending || ev.Alive(player) {
			continue
		}
		rejected := c.ledger.Reject(player)
		if rejected == nil {
			continue
		}
		if rejected.Direction == domain.DirectionUp {
			c.state.PriceUnits -= rejected.StakeUnits
		} else {
			c.state.PriceUnits += rejected.StakeUnits
		}
		c.limits.Rollback(player, rejected.StakeUnits)
		if err := c.store.SaveBet(rejected); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: bet %s: %v", rejected.Ref, err))
		}
		forfeited++
	}

	if forfeited > 0 {
		slog.Info("forfeited stale bets",
			slog.String("room", c.roomID),
			slog.Int("count", forfeited),
		)
		c.mustCheckpoint()
		c.commit()
	}
}

// PlaceBet is the synchronous client entrypoint: it routes the
// request through the inbox and waits for the coordinator's reply.
func (c *Coordinator) PlaceBet(ctx context.Context, player string, direction domain.Direction, stakeUnits int64) event.PlaceBetResult {
	ev := &event.PlaceBetEvent{
		Player:     player,
		Direction:  direction,
		StakeUnits: stakeUnits,
		ReceivedAt: time.Now().UTC(),
		Reply:      make(chan event.PlaceBetResult, 1),
	}

	select {
	case c.inbox <- ev:
	case <-ctx.Done():
		return event.PlaceBetResult{Err: ctx.Err()}
	}

	select {
	case res := <-ev.Reply:
		return res
	case <-ctx.Done():
		return event.PlaceBetResult{Err: ctx.Err()}
	}
}

// View rebuilds the player's session projection from the latest
// committed snapshot. Safe for concurrent use.
func (c *Coordinator) View(player string, now time.Time) domain.PlayerSessionView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cur := c.view.state.Current
	view := domain.PlayerSessionView{
		RoomID:          c.roomID,
		Round:           cur.Number,
		Phase:           cur.Phase,
		ClosesAt:        cur.ClosesAt,
		RemainingMS:     c.clock.Remaining(cur.Number, now).Milliseconds(),
		PriceUnits:      c.view.state.PriceUnits,
		UpPotUnits:      cur.UpPotUnits,
		DownPotUnits:    cur.DownPotUnits,
		GeneratedAtUnix: now.Unix(),
	}

	if last := c.view.state.LastClosedRound(); last != nil {
		view.LastOutcome = last.Outcome
	}

	if bet, ok := c.view.bets[player]; ok && bet.Status == domain.BetPending {
		b := bet
		view.PendingBet = &b
	}
	if bal, ok := c.view.balances[player]; ok {
		view.BalanceUnits = bal.NetUnits
	}

	// Newest rounds first, bounded.
	const maxRecent = 10
	for i := len(c.view.records) - 1; i >= 0 && len(view.RecentOutcomes) < maxRecent; i-- {
		rec := c.view.records[i]
		if rec.Player != player {
			continue
		}
		view.RecentOutcomes = append(view.RecentOutcomes, domain.SettlementOutcome{
			Round:       rec.Round,
			Direction:   rec.Direction,
			StakeUnits:  rec.StakeUnits,
			PayoutUnits: rec.PayoutUnits,
			Status:      rec.Status,
		})
	}

	return view
}

// RoomSnapshot returns a copy of the committed room state.
func (c *Coordinator) RoomSnapshot() domain.RoomState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.state
}

// commit publishes the current state as the committed read snapshot.
func (c *Coordinator) commit() {
	cur := *c.state.Current
	snapshot := domain.RoomState{
		ID:         c.state.ID,
		Genesis:    c.state.Genesis,
		Current:    &cur,
		History:    append([]domain.Round(nil), c.state.History...),
		PriceUnits: c.state.PriceUnits,
	}

	records := make([]domain.SettlementRecord, 0, len(c.records))
	for _, rec := range c.records {
		records = append(records, *rec)
	}
	sortRecords(records)

	c.mu.Lock()
	c.view = roomView{
		state:    snapshot,
		bets:     c.ledger.Bets(),
		records:  records,
		balances: c.balances.Snapshot(),
	}
	c.mu.Unlock()
}

// sortRecords orders by round, then player. (round, player) is unique
// per record so the order is deterministic.
func sortRecords(records []domain.SettlementRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Round != records[j].Round {
			return records[i].Round < records[j].Round
		}
		return records[i].Player < records[j].Player
	})
}

// pruneRecords drops confirmed records that have aged out of the
// history window. Unconfirmed and failed records are kept in memory
// until they resolve; the durable rows outlive both.
func (c *Coordinator) pruneRecords(closed uint64) {
	if closed < uint64(c.cfg.HistoryRetention) {
		return
	}
	cutoff := closed - uint64(c.cfg.HistoryRetention)
	for key, rec := range c.records {
		if rec.Round < cutoff && rec.Status == domain.SettlementConfirmed {
			delete(c.records, key)
		}
	}
}

func (c *Coordinator) checkpoint() error {
	cp := &domain.Checkpoint{
		State:        *c.state,
		Limits:       c.limits.Snapshot(),
		Balances:     c.balances.List(),
		LastObserved: c.lastObserved,
	}
	return c.store.SaveCheckpoint(cp)
}

func (c *Coordinator) mustCheckpoint() {
	if err := c.checkpoint(); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: checkpoint room %s: %v", c.roomID, err))
	}
}

func (c *Coordinator) emit(kind string, payload any) {
	if c.onUpdate == nil {
		return
	}
	cur := c.state.Current
	c.onUpdate(domain.RoomEvent{
		Type:       kind,
		RoomID:     c.roomID,
		Round:      cur.Number,
		Phase:      cur.Phase,
		PriceUnits: c.state.PriceUnits,
		Payload:    payload,
	})
}
