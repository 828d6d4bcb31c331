// Package endpoint implements the Endpoint Picker (C3): selecting a valid
// (start, end) pair for a difficulty by sampling tiered pools and
// confirming reachability through the Pathfinder.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"connectline/internal/graph"
	"connectline/internal/models"
	"connectline/internal/pathfinder"
)

// ErrNoEndpointsFound is returned when no valid pair could be picked within
// the attempt budget.
var ErrNoEndpointsFound = errors.New("endpoint: no reachable pair found within attempt budget")

// TierSource draws random player ids from a named pool tier, with a
// relational fallback when the cache is unavailable.
type TierSource interface {
	RandomMembers(ctx context.Context, tier string, n int) ([]string, error)
}

// Store is the graph read surface the picker needs beyond tier sampling.
type Store interface {
	GetNeighbors(id string, allowedTypes []models.ConnectionType) []graph.Neighbor
	AllPlayerIDs() []string
}

// Picker selects endpoint pairs for a difficulty.
type Picker struct {
	store    Store
	tiers    TierSource
	attempts int
}

// New builds a Picker. attempts bounds the retry budget (spec.md §6.3
// default ENDPOINT_PICK_ATTEMPTS=50).
func New(store Store, tiers TierSource, attempts int) *Picker {
	if attempts <= 0 {
		attempts = 50
	}
	return &Picker{store: store, tiers: tiers, attempts: attempts}
}

// Pick returns (startID, endID) for difficulty such that a path of at
// least params.MinEdges edges exists using only params.AllowedTypes.
func (p *Picker) Pick(ctx context.Context, difficulty models.Difficulty) (string, string, error) {
	params, ok := models.Params[difficulty]
	if !ok {
		return "", "", fmt.Errorf("endpoint: unknown difficulty %q", difficulty)
	}

	for attempt := 0; attempt < p.attempts; attempt++ {
		pool, err := p.tiers.RandomMembers(ctx, params.PoolTier, 2)
		if err != nil || len(pool) < 2 {
			pool = p.widenFallback(2)
			if len(pool) < 2 {
				continue
			}
		}

		start, end := pool[0], pool[rand.Intn(len(pool)-1)+1]
		if start == end {
			continue
		}

		path, ok := pathfinder.ShortestPath(p.store, start, end, params.AllowedTypes)
		if !ok {
			continue
		}
		edgeCount := len(path) - 1
		if edgeCount < params.MinEdges {
			continue
		}
		return start, end, nil
	}

	return "", "", ErrNoEndpointsFound
}

// widenFallback draws from the entire player universe (spec.md §4.3 step 1
// fallback-to-wider-pool when a tier is exhausted or unavailable).
func (p *Picker) widenFallback(n int) []string {
	all := p.store.AllPlayerIDs()
	if len(all) <= n {
		return all
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:n]
}
