package app

import (
	"log/slog"
	"time"

	"pumparena/internal/api"
	"pumparena/internal/engine"
	"pumparena/internal/infra"
	"pumparena/internal/infra/storage"
	"pumparena/internal/service"
	"pumparena/internal/settle"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Store
	Rooms   *service.RoomService
	Hub     *api.Hub
	Server  *api.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config and wires the full service graph. Nothing
// starts running yet; rooms activate lazily on first traffic.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Pump Arena...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Websocket hub + room service
	b.Hub = api.NewHub()

	ledger := settle.NewHTTPLedgerClient(cfg.Ledger.URL, time.Duration(cfg.Ledger.TimeoutSec)*time.Second)
	b.Rooms = service.NewRoomService(service.Config{
		Engine: engine.Config{
			RoundDuration:      cfg.RoundDuration(),
			MinStakeUnits:      cfg.Game.MinStakeUnits,
			DailyStakeCapUnits: cfg.Game.DailyStakeCapUnits,
			HistoryRetention:   cfg.Game.HistoryRetention,
			InboxSize:          cfg.Game.InboxSize,
		},
		Retry: settle.RetryPolicy{
			MaxAttempts: cfg.Ledger.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Ledger.BaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Ledger.MaxDelayMS) * time.Millisecond,
		},
		IdleTimeout:  time.Duration(cfg.Game.RoomIdleTimeoutSec) * time.Second,
		DrainTimeout: time.Duration(cfg.Ledger.DrainTimeout) * time.Second,
	}, store, ledger, service.NewSessionTracker(), b.Hub.Broadcast)
	slog.Info("✅ Room service ready", slog.Duration("round", cfg.RoundDuration()))

	// 5. HTTP surface
	b.Server = api.NewServer(cfg, b.Rooms, store, b.Hub)

	return nil
}
