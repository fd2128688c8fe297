package service

import "sync"

// SessionTracker holds the ephemeral presence state of connected
// players per room. It is deliberately volatile: a process restart
// clears it and players simply reconnect. Game state never depends on
// it except at room teardown, when pending bets of absent players are
// forfeited.
type SessionTracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]int // room -> player -> connection count
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		rooms: make(map[string]map[string]int),
	}
}

// Connect registers one connection for a player. A player may hold
// several concurrent connections (multiple tabs); liveness lasts
// until the last one disconnects.
func (t *SessionTracker) Connect(roomID, player string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	players, ok := t.rooms[roomID]
	if !ok {
		players = make(map[string]int)
		t.rooms[roomID] = players
	}
	players[player]++
}

// Disconnect releases one connection for a player.
func (t *SessionTracker) Disconnect(roomID, player string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	players, ok := t.rooms[roomID]
	if !ok {
		return
	}
	players[player]--
	if players[player] <= 0 {
		delete(players, player)
	}
	if len(players) == 0 {
		delete(t.rooms, roomID)
	}
}

// Alive reports whether the player has at least one live connection
// to the room.
func (t *SessionTracker) Alive(roomID, player string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rooms[roomID][player] > 0
}

// Count returns the number of distinct connected players in a room.
func (t *SessionTracker) Count(roomID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[roomID])
}
