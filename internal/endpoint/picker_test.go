package endpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectline/internal/graph"
	"connectline/internal/models"
)

type fakeGraph struct {
	adj map[string][]graph.Neighbor
	all []string
}

func (g *fakeGraph) GetNeighbors(id string, allowedTypes []models.ConnectionType) []graph.Neighbor {
	allowed := make(map[models.ConnectionType]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = true
	}
	var out []graph.Neighbor
	for _, n := range g.adj[id] {
		if allowed[n.Type] {
			out = append(out, n)
		}
	}
	return out
}

func (g *fakeGraph) AllPlayerIDs() []string { return g.all }

type fakeTiers struct {
	members []string
	err     error
}

func (t *fakeTiers) RandomMembers(ctx context.Context, tier string, n int) ([]string, error) {
	if t.err != nil {
		return nil, t.err
	}
	if len(t.members) > n {
		return t.members[:n], nil
	}
	return t.members, nil
}

func buildGraph() *fakeGraph {
	g := &fakeGraph{adj: make(map[string][]graph.Neighbor), all: []string{"A", "B", "C"}}
	add := func(a, b string, ty models.ConnectionType) {
		g.adj[a] = append(g.adj[a], graph.Neighbor{PlayerID: b, Type: ty})
		g.adj[b] = append(g.adj[b], graph.Neighbor{PlayerID: a, Type: ty})
	}
	add("A", "C", models.ConnectionTeammate)
	add("C", "B", models.ConnectionTeammate)
	return g
}

func TestPicker_FindsReachablePairMeetingMinEdges(t *testing.T) {
	g := buildGraph()
	tiers := &fakeTiers{members: []string{"A", "B"}}
	p := New(g, tiers, 50)

	start, end, err := p.Pick(context.Background(), models.DifficultyMedium)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{start, end})
}

func TestPicker_ExhaustsAttemptsWhenUnreachable(t *testing.T) {
	g := &fakeGraph{adj: make(map[string][]graph.Neighbor), all: []string{"A", "B"}}
	tiers := &fakeTiers{members: []string{"A", "B"}}
	p := New(g, tiers, 5)

	_, _, err := p.Pick(context.Background(), models.DifficultyMedium)
	assert.ErrorIs(t, err, ErrNoEndpointsFound)
}

func TestPicker_FallsBackToWiderPoolOnTierError(t *testing.T) {
	g := buildGraph()
	tiers := &fakeTiers{err: assertErr{}}
	p := New(g, tiers, 50)

	start, end, err := p.Pick(context.Background(), models.DifficultyHard)
	require.NoError(t, err)
	assert.NotEqual(t, start, end)
}

type assertErr struct{}

func (assertErr) Error() string { return "tier source unavailable" }
