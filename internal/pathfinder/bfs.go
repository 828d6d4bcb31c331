// Package pathfinder implements the Pathfinder (C2): bounded-depth,
// type-filtered shortest-path search over the Graph Store, grounded in
// the options/hooks/context-cancellation shape of a breadth-first search.
package pathfinder

import (
	"context"

	"connectline/internal/graph"
	"connectline/internal/models"
)

// MaxDepth bounds the number of edges a path may contain (spec.md §4.2, D=5).
const MaxDepth = 5

// Store is the subset of graph.Store the pathfinder needs.
type Store interface {
	GetNeighbors(id string, allowedTypes []models.ConnectionType) []graph.Neighbor
}

// Options configures one search and exposes hooks for tests and tracing.
type Options struct {
	Ctx          context.Context
	MaxDepth     int
	AllowedTypes []models.ConnectionType
	OnEnqueue    func(playerID string, depth int)
	OnDequeue    func(playerID string, depth int)
	OnVisit      func(playerID string)
}

type frontierEntry struct {
	playerID string
	path     []string
}

// ShortestPath returns one shortest simple path from startID to endID using
// only edges whose type is in allowedTypes, bounded at MaxDepth edges. It
// returns (nil, false) if no such path exists within the bound.
func ShortestPath(store Store, startID, endID string, allowedTypes []models.ConnectionType) ([]string, bool) {
	paths := ShortestPaths(store, startID, endID, allowedTypes, 1, Options{})
	if len(paths) == 0 {
		return nil, false
	}
	return paths[0], true
}

// ShortestPaths returns up to k distinct shortest simple paths from startID
// to endID, all of the same minimal length. Search is breadth-first so the
// first paths discovered are guaranteed shortest; it is cycle-free because
// each frontier entry tracks its own visited set via the accumulated path.
func ShortestPaths(store Store, startID, endID string, allowedTypes []models.ConnectionType, k int, opts Options) [][]string {
	if opts.Ctx == nil {
		opts.Ctx = context.Background()
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = MaxDepth
	}

	if startID == endID {
		return [][]string{{startID}}
	}

	queue := []frontierEntry{{playerID: startID, path: []string{startID}}}
	if opts.OnEnqueue != nil {
		opts.OnEnqueue(startID, 0)
	}

	var found [][]string
	foundDepth := -1

	for len(queue) > 0 {
		select {
		case <-opts.Ctx.Done():
			return found
		default:
		}

		entry := queue[0]
		queue = queue[1:]
		depth := len(entry.path) - 1

		if opts.OnDequeue != nil {
			opts.OnDequeue(entry.playerID, depth)
		}

		// Once we've recorded paths at the shortest depth, stop expanding
		// any entry already at that depth: expanding it would only produce
		// paths one edge longer than foundDepth. Entries still shallower
		// than foundDepth (siblings of the one that found it) keep going,
		// since they can still reach endID at exactly foundDepth.
		if foundDepth != -1 && depth >= foundDepth {
			break
		}
		if depth >= maxDepth {
			continue
		}

		visited := make(map[string]bool, len(entry.path))
		for _, id := range entry.path {
			visited[id] = true
		}

		for _, nb := range store.GetNeighbors(entry.playerID, allowedTypes) {
			if visited[nb.PlayerID] {
				continue
			}
			if opts.OnVisit != nil {
				opts.OnVisit(nb.PlayerID)
			}

			nextPath := make([]string, len(entry.path)+1)
			copy(nextPath, entry.path)
			nextPath[len(entry.path)] = nb.PlayerID

			if nb.PlayerID == endID {
				found = append(found, nextPath)
				if foundDepth == -1 {
					foundDepth = depth + 1
				}
				if len(found) >= k {
					return found
				}
				continue
			}

			if opts.OnEnqueue != nil {
				opts.OnEnqueue(nb.PlayerID, depth+1)
			}
			queue = append(queue, frontierEntry{playerID: nb.PlayerID, path: nextPath})
		}
	}

	return found
}
