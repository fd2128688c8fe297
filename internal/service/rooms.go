package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pumparena/internal/domain"
	"pumparena/internal/engine"
	"pumparena/internal/event"
	"pumparena/internal/infra"
	"pumparena/internal/settle"
)

// Config carries the gameplay and lifecycle parameters shared by all
// rooms this service manages.
type Config struct {
	Engine       engine.Config
	Retry        settle.RetryPolicy
	IdleTimeout  time.Duration
	DrainTimeout time.Duration
}

// RoomService manages the set of live room actors. Rooms activate
// lazily on first touch, run one coordinator goroutine each, and are
// torn down after sitting idle with no connected players. A room that
// dies on an invariant breach is restarted from its durable
// checkpoint, not from memory.
type RoomService struct {
	cfg      Config
	store    engine.Store
	ledger   settle.LedgerClient
	sessions *SessionTracker

	// notify forwards room events to the websocket layer. May be nil.
	notify func(domain.RoomEvent)

	mu    sync.Mutex
	rooms map[string]*roomHandle

	closed bool
}

// roomHandle bundles one live room actor with its settlement pipeline
// and supervision state.
type roomHandle struct {
	id       string
	mu       sync.RWMutex
	coord    *engine.Coordinator
	pipeline *settle.Pipeline
	cancel   context.CancelFunc
	done     chan struct{}

	lastTouched atomic.Int64 // unix seconds
}

func (h *roomHandle) current() *engine.Coordinator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.coord
}

func (h *roomHandle) touch() {
	h.lastTouched.Store(time.Now().Unix())
}

// deliver routes an event into the room's current coordinator. Safe
// across actor restarts.
func (h *roomHandle) deliver(ev event.Event) {
	select {
	case h.current().Inbox() <- ev:
	case <-h.done:
	}
}

// NewRoomService creates the service. Call Start to begin the idle
// reaper and Close on shutdown.
func NewRoomService(cfg Config, store engine.Store, ledger settle.LedgerClient, sessions *SessionTracker, notify func(domain.RoomEvent)) *RoomService {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	return &RoomService{
		cfg:      cfg,
		store:    store,
		ledger:   ledger,
		sessions: sessions,
		notify:   notify,
		rooms:    make(map[string]*roomHandle),
	}
}

// Start launches the idle-room reaper. It stops when ctx is done.
func (s *RoomService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reapIdle()
			}
		}
	}()
}

// validRoomID keeps room identifiers path and storage safe.
func validRoomID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// room returns the live handle for roomID, activating the actor on
// first touch.
func (s *RoomService) room(roomID string) (*roomHandle, error) {
	if !validRoomID(roomID) {
		return nil, domain.NewValidationError("room", fmt.Errorf("invalid room id %q", roomID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domain.ErrRoomClosed
	}
	if h, ok := s.rooms[roomID]; ok {
		h.touch()
		return h, nil
	}

	h := &roomHandle{
		id:   roomID,
		done: make(chan struct{}),
	}
	h.pipeline = settle.NewPipeline(s.ledger, s.cfg.Retry, func(ev *event.SettlementResultEvent) {
		h.deliver(ev)
	})

	// The coordinator must be reachable through the handle before
	// Activate runs: re-dispatching unconfirmed settlements spawns
	// pipeline goroutines whose results route through h.current().
	coord := engine.NewCoordinator(roomID, s.cfg.Engine, s.store, h.pipeline, s.notify)
	h.mu.Lock()
	h.coord = coord
	h.mu.Unlock()

	if err := coord.Activate(time.Now().UTC()); err != nil {
		close(h.done)
		h.pipeline.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.touch()
	s.rooms[roomID] = h
	infra.GlobalMetrics.SetActiveRooms(int32(len(s.rooms)))

	go s.supervise(ctx, h)

	slog.Info("room started", slog.String("room", roomID))
	return h, nil
}

// supervise runs the room actor and restarts it from durable state
// when it dies on an invariant breach. A clean return ends the room.
func (s *RoomService) supervise(ctx context.Context, h *roomHandle) {
	defer close(h.done)

	for {
		err := h.current().Run(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		slog.Error("room actor crashed, restarting from checkpoint",
			slog.String("room", h.id),
			slog.Any("error", err),
		)

		// Swap before Activate so re-dispatched settlement results land
		// in the replacement's inbox, not the dead coordinator's.
		coord := engine.NewCoordinator(h.id, s.cfg.Engine, s.store, h.pipeline, s.notify)
		h.mu.Lock()
		h.coord = coord
		h.mu.Unlock()

		if aerr := coord.Activate(time.Now().UTC()); aerr != nil {
			slog.Error("room restart failed, room going dark",
				slog.String("room", h.id),
				slog.Any("error", aerr),
			)
			return
		}
	}
}

// PlaceBet submits a bet to the room's coordinator and waits for its
// verdict.
func (s *RoomService) PlaceBet(ctx context.Context, roomID, player string, direction domain.Direction, stakeUnits int64) (event.PlaceBetResult, error) {
	h, err := s.room(roomID)
	if err != nil {
		return event.PlaceBetResult{}, err
	}
	h.touch()
	return h.current().PlaceBet(ctx, player, direction, stakeUnits), nil
}

// View returns the player's projection of the room.
func (s *RoomService) View(roomID, player string) (domain.PlayerSessionView, error) {
	h, err := s.room(roomID)
	if err != nil {
		return domain.PlayerSessionView{}, err
	}
	h.touch()
	view := h.current().View(player, time.Now().UTC())
	view.ConnectedPeers = s.sessions.Count(roomID)
	return view, nil
}

// Connect registers a player connection, activating the room if idle.
func (s *RoomService) Connect(roomID, player string) error {
	h, err := s.room(roomID)
	if err != nil {
		return err
	}
	h.touch()
	s.sessions.Connect(roomID, player)
	infra.GlobalMetrics.IncrementConnections()
	return nil
}

// Disconnect releases a player connection.
func (s *RoomService) Disconnect(roomID, player string) {
	s.sessions.Disconnect(roomID, player)
	infra.GlobalMetrics.DecrementConnections()
}

// reapIdle tears down rooms with no connected players that have not
// been touched within the idle timeout.
func (s *RoomService) reapIdle() {
	cutoff := time.Now().Add(-s.cfg.IdleTimeout).Unix()

	s.mu.Lock()
	var idle []*roomHandle
	for id, h := range s.rooms {
		if h.lastTouched.Load() < cutoff && s.sessions.Count(id) == 0 {
			idle = append(idle, h)
			delete(s.rooms, id)
		}
	}
	infra.GlobalMetrics.SetActiveRooms(int32(len(s.rooms)))
	s.mu.Unlock()

	for _, h := range idle {
		s.teardown(h)
	}
}

// Teardown stops one room now. Used by tests and operator tooling.
func (s *RoomService) Teardown(roomID string) {
	s.mu.Lock()
	h, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
	}
	infra.GlobalMetrics.SetActiveRooms(int32(len(s.rooms)))
	s.mu.Unlock()

	if ok {
		s.teardown(h)
	}
}

// teardown forfeits stale pending bets, stops the actor and drains
// settlement. Order matters: forfeiture needs the actor alive, and
// the pipeline drains after no new dispatches can originate.
func (s *RoomService) teardown(h *roomHandle) {
	forfeited := make(chan struct{})
	h.deliver(&event.ForfeitStaleEvent{
		Alive: func(player string) bool { return s.sessions.Alive(h.id, player) },
		Done:  forfeited,
	})
	select {
	case <-forfeited:
	case <-h.done:
	case <-time.After(5 * time.Second):
		slog.Warn("forfeit timed out during teardown", slog.String("room", h.id))
	}

	h.cancel()
	<-h.done

	if !h.pipeline.Drain(s.cfg.DrainTimeout) {
		slog.Warn("settlement drain timed out, records remain unconfirmed",
			slog.String("room", h.id),
		)
	}
	h.pipeline.Close()
	slog.Info("room stopped", slog.String("room", h.id))
}

// LiveRooms returns the ids of currently active rooms.
func (s *RoomService) LiveRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

// Close tears down every live room. The service rejects new work
// afterwards.
func (s *RoomService) Close() {
	s.mu.Lock()
	s.closed = true
	handles := make([]*roomHandle, 0, len(s.rooms))
	for _, h := range s.rooms {
		handles = append(handles, h)
	}
	s.rooms = make(map[string]*roomHandle)
	infra.GlobalMetrics.SetActiveRooms(0)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *roomHandle) {
			defer wg.Done()
			s.teardown(h)
		}(h)
	}
	wg.Wait()
}
