package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pumparena/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RoomCheckpointModel is the persisted image of one room. The full
// checkpoint travels as JSON; the indexed columns exist for operator
// queries.
type RoomCheckpointModel struct {
	RoomID       string `gorm:"primaryKey"`
	CurrentRound uint64 `gorm:"index"`
	Phase        string
	Payload      []byte
	UpdatedAt    time.Time
}

// BetModel persists one bet.
type BetModel struct {
	Ref         string `gorm:"primaryKey"`
	RoomID      string `gorm:"index:idx_bets_room_round"`
	Round       uint64 `gorm:"index:idx_bets_room_round"`
	Player      string `gorm:"index"`
	Direction   string
	StakeUnits  int64
	PlacedAt    time.Time
	Status      string
	PayoutUnits int64
}

// SettlementModel persists one settlement record. Rows are only ever
// inserted or status-updated, never deleted: this is the audit trail.
type SettlementModel struct {
	Key         string `gorm:"primaryKey"`
	RoomID      string `gorm:"index"`
	Round       uint64
	Player      string
	BetRef      string
	Direction   string
	StakeUnits  int64
	PayoutUnits int64
	Status      string `gorm:"index"`
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the durable per-room storage backing coordinator
// checkpoints and the settlement audit trail.
type Store struct {
	db *gorm.DB
}

// NewStore opens (and migrates) the SQLite database at path. The
// special path ":memory:" yields an in-process database for tests.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&RoomCheckpointModel{}, &BetModel{}, &SettlementModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// ======================================================================================
// Checkpoint Operations
// ======================================================================================

// SaveCheckpoint upserts a room's durable checkpoint.
func (s *Store) SaveCheckpoint(cp *domain.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	model := RoomCheckpointModel{
		RoomID:    cp.State.ID,
		Payload:   payload,
		UpdatedAt: time.Now(),
	}
	if cp.State.Current != nil {
		model.CurrentRound = cp.State.Current.Number
		model.Phase = string(cp.State.Current.Phase)
	}
	return s.db.Save(&model).Error
}

// LoadCheckpoint retrieves a room's checkpoint. Missing rooms return
// (nil, nil): a fresh room, not an error.
func (s *Store) LoadCheckpoint(roomID string) (*domain.Checkpoint, error) {
	var model RoomCheckpointModel
	err := s.db.First(&model, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(model.Payload, &cp); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint for room %s: %w", roomID, err)
	}
	return &cp, nil
}

// ======================================================================================
// Bet Operations
// ======================================================================================

// SaveBet upserts one bet.
func (s *Store) SaveBet(bet *domain.Bet) error {
	model := BetModel{
		Ref:         bet.Ref,
		RoomID:      bet.RoomID,
		Round:       bet.Round,
		Player:      bet.Player,
		Direction:   string(bet.Direction),
		StakeUnits:  bet.StakeUnits,
		PlacedAt:    bet.PlacedAt,
		Status:      string(bet.Status),
		PayoutUnits: bet.PayoutUnits,
	}
	return s.db.Save(&model).Error
}

// BetsForRound retrieves all bets of a (room, round).
func (s *Store) BetsForRound(roomID string, round uint64) ([]domain.Bet, error) {
	var models []BetModel
	err := s.db.
		Where("room_id = ? AND round = ?", roomID, round).
		Order("player").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	bets := make([]domain.Bet, 0, len(models))
	for _, m := range models {
		bets = append(bets, betFromModel(m))
	}
	return bets, nil
}

func betFromModel(m BetModel) domain.Bet {
	return domain.Bet{
		Ref:         m.Ref,
		RoomID:      m.RoomID,
		Round:       m.Round,
		Player:      m.Player,
		Direction:   domain.Direction(m.Direction),
		StakeUnits:  m.StakeUnits,
		PlacedAt:    m.PlacedAt,
		Status:      domain.BetStatus(m.Status),
		PayoutUnits: m.PayoutUnits,
	}
}

// ======================================================================================
// Settlement Operations
// ======================================================================================

// SaveSettlement upserts one settlement record.
func (s *Store) SaveSettlement(rec *domain.SettlementRecord) error {
	model := SettlementModel{
		Key:         rec.Key,
		RoomID:      rec.RoomID,
		Round:       rec.Round,
		Player:      rec.Player,
		BetRef:      rec.BetRef,
		Direction:   string(rec.Direction),
		StakeUnits:  rec.StakeUnits,
		PayoutUnits: rec.PayoutUnits,
		Status:      string(rec.Status),
		Attempts:    rec.Attempts,
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	return s.db.Save(&model).Error
}

// SettlementByKey retrieves one record, or nil when absent.
func (s *Store) SettlementByKey(key string) (*domain.SettlementRecord, error) {
	var model SettlementModel
	err := s.db.First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := settlementFromModel(model)
	return &rec, nil
}

// UnconfirmedSettlements lists a room's records still awaiting a
// ledger verdict, for re-dispatch on activation.
func (s *Store) UnconfirmedSettlements(roomID string) ([]domain.SettlementRecord, error) {
	return s.settlementsWhere("room_id = ? AND status = ?", roomID, string(domain.SettlementUnconfirmed))
}

// SettlementsForPlayer lists a player's most recent records in a
// room, newest round first.
func (s *Store) SettlementsForPlayer(roomID, player string, limit int) ([]domain.SettlementRecord, error) {
	var models []SettlementModel
	err := s.db.
		Where("room_id = ? AND player = ?", roomID, player).
		Order("round DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return settlementsFromModels(models), nil
}

// FailedSettlements lists records awaiting manual reconciliation
// across all rooms, oldest first.
func (s *Store) FailedSettlements(limit int) ([]domain.SettlementRecord, error) {
	var models []SettlementModel
	err := s.db.
		Where("status = ?", string(domain.SettlementFailed)).
		Order("updated_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return settlementsFromModels(models), nil
}

func (s *Store) settlementsWhere(query string, args ...any) ([]domain.SettlementRecord, error) {
	var models []SettlementModel
	if err := s.db.Where(query, args...).Order("round").Find(&models).Error; err != nil {
		return nil, err
	}
	return settlementsFromModels(models), nil
}

func settlementsFromModels(models []SettlementModel) []domain.SettlementRecord {
	recs := make([]domain.SettlementRecord, 0, len(models))
	for _, m := range models {
		recs = append(recs, settlementFromModel(m))
	}
	return recs
}

func settlementFromModel(m SettlementModel) domain.SettlementRecord {
	return domain.SettlementRecord{
		Key:         m.Key,
		RoomID:      m.RoomID,
		Round:       m.Round,
		Player:      m.Player,
		BetRef:      m.BetRef,
		Direction:   domain.Direction(m.Direction),
		StakeUnits:  m.StakeUnits,
		PayoutUnits: m.PayoutUnits,
		Status:      domain.SettlementStatus(m.Status),
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
