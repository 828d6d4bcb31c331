// Package graph implements the Graph Store (C1): a read-only accessor for
// players and labeled connections, backed by GORM and a wholly-populated
// in-memory adjacency cache.
package graph

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"connectline/internal/db"
	"connectline/internal/models"
)

// ErrNotFound is returned when a player id has no row.
var ErrNotFound = errors.New("graph: player not found")

// Neighbor is one (id, type) edge endpoint.
type Neighbor struct {
	PlayerID string
	Type     models.ConnectionType
}

// Store is the read-only accessor described by spec.md §4.1. Reads are
// consistent with the snapshot loaded at Warm time; the graph is treated
// as static for the life of the process (reloads are restart-scoped).
type Store struct {
	db *db.DB

	mu        sync.RWMutex
	warmed    bool
	players   map[string]models.Player
	adjacency map[string][]Neighbor // playerID -> every (neighbor, type) edge, each once
}

// New creates an unwarmed Store; call Warm before accepting clients.
func New(database *db.DB) *Store {
	return &Store{
		db:        database,
		players:   make(map[string]models.Player),
		adjacency: make(map[string][]Neighbor),
	}
}

// Warm loads the full players and player_connections tables into memory.
// Must complete before the server accepts clients (spec.md §4.1).
func (s *Store) Warm() error {
	var players []models.Player
	if err := s.db.Find(&players).Error; err != nil {
		return fmt.Errorf("graph: load players: %w", err)
	}

	var edges []models.PlayerConnection
	if err := s.db.Find(&edges).Error; err != nil {
		return fmt.Errorf("graph: load connections: %w", err)
	}

	playerIndex := make(map[string]models.Player, len(players))
	for _, p := range players {
		playerIndex[p.ID] = p
	}

	adjacency := make(map[string][]Neighbor, len(players))
	seen := make(map[[3]string]bool, len(edges)*2)
	for _, e := range edges {
		if e.Player1ID == e.Player2ID {
			continue // no self-loops
		}
		addDirected(adjacency, seen, e.Player1ID, e.Player2ID, e.ConnectionType)
		addDirected(adjacency, seen, e.Player2ID, e.Player1ID, e.ConnectionType)
	}

	s.mu.Lock()
	s.players = playerIndex
	s.adjacency = adjacency
	s.warmed = true
	s.mu.Unlock()

	log.Printf("[GRAPH] warmed %d players, %d connections", len(players), len(edges))
	return nil
}

func addDirected(adj map[string][]Neighbor, seen map[[3]string]bool, from, to string, connType string) {
	key := [3]string{from, to, connType}
	if seen[key] {
		return
	}
	seen[key] = true
	adj[from] = append(adj[from], Neighbor{PlayerID: to, Type: models.ConnectionType(connType)})
}

// Warmed reports whether the snapshot has finished loading (used by /healthz).
func (s *Store) Warmed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warmed
}

// GetPlayer returns a player by id, or ErrNotFound.
func (s *Store) GetPlayer(id string) (models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return models.Player{}, ErrNotFound
	}
	return p, nil
}

// GetNeighbors returns every (neighbor, type) edge of id whose type is in
// allowedTypes, each yielded once. Order is unspecified beyond being
// deterministic for a fixed snapshot (iteration follows load order).
func (s *Store) GetNeighbors(id string, allowedTypes []models.ConnectionType) []Neighbor {
	allowed := make(map[models.ConnectionType]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.adjacency[id]
	out := make([]Neighbor, 0, len(all))
	for _, n := range all {
		if allowed[n.Type] {
			out = append(out, n)
		}
	}
	return out
}

// PlayerCount reports the number of players in the warmed snapshot.
func (s *Store) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// AllPlayerIDs returns every player id in the snapshot, used as the final
// fallback tier by the Endpoint Picker (§4.3 step 1).
func (s *Store) AllPlayerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	return ids
}

// TierPool computes the player-id set for a pool tier directly against the
// relational snapshot via player_seasonal_stats. It is expensive (a
// group-by aggregation) and is intended to be called once per tier at
// startup; internal/cache.TierCache is the hot path callers should use.
func (s *Store) TierPool(minPPR, maxPPR float64) ([]string, error) {
	type row struct {
		PlayerID string
		Total    float64
	}
	var rows []row
	q := s.db.Table("player_seasonal_stats").
		Select("player_id, SUM(fantasy_points_ppr) as total").
		Group("player_id").
		Having("SUM(fantasy_points_ppr) >= ? AND SUM(fantasy_points_ppr) < ?", minPPR, maxPPR)
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("graph: tier pool query: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PlayerID)
	}
	return ids, nil
}

// RecordedPool returns every player id whose summed fantasy_points_ppr is
// at least 1 (difficulty hard's pool, PPR >= 1 per spec.md §6.3). A player
// whose stat rows sum below 1 is not included.
func (s *Store) RecordedPool() ([]string, error) {
	return s.TierPool(1, 1<<30)
}
