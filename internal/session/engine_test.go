package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectline/internal/graph"
	"connectline/internal/matchmaking"
	"connectline/internal/models"
)

// fakeGraph is a tiny hand-wired graph used across scenario tests.
type fakeGraph struct {
	adj     map[string][]graph.Neighbor
	players map[string]models.Player
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

func (g *fakeGraph) GetPlayer(id string) (models.Player, error) {
	p, ok := g.players[id]
	if !ok {
		return models.Player{}, graph.ErrNotFound
	}
	return p, nil
}

func newFakeGraph() *fakeGraph {
	g := &fakeGraph{adj: make(map[string][]graph.Neighbor), players: make(map[string]models.Player)}
	for _, id := range []string{"X", "Y", "Z", "U"} {
		g.players[id] = models.Player{ID: id, Name: "name-" + id}
	}
	add := func(a, b string, ty models.ConnectionType) {
		g.adj[a] = append(g.adj[a], graph.Neighbor{PlayerID: b, Type: ty})
		g.adj[b] = append(g.adj[b], graph.Neighbor{PlayerID: a, Type: ty})
	}
	add("X", "Z", models.ConnectionTeammate)
	add("Z", "Y", models.ConnectionTeammate)
	add("X", "Y", models.ConnectionDraftClass) // only valid for easy, not medium/hard
	return g
}

type fixedPicker struct{ start, end string }

func (p fixedPicker) Pick(ctx context.Context, difficulty models.Difficulty) (string, string, error) {
	return p.start, p.end, nil
}

// recordingEmitter captures every frame emitted, keyed by channel, for
// assertions, and is safe for concurrent use across goroutines the way
// the real transport's Hub is.
type recordingEmitter struct {
	mu     sync.Mutex
	frames map[string][]recordedFrame
}

type recordedFrame struct {
	Type    string
	Payload any
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{frames: make(map[string][]recordedFrame)}
}

func (e *recordingEmitter) Emit(channelID, frameType string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames[channelID] = append(e.frames[channelID], recordedFrame{Type: frameType, Payload: payload})
}

func (e *recordingEmitter) last(channelID string) recordedFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	fs := e.frames[channelID]
	if len(fs) == 0 {
		return recordedFrame{}
	}
	return fs[len(fs)-1]
}

func (e *recordingEmitter) count(channelID, frameType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, f := range e.frames[channelID] {
		if f.Type == frameType {
			n++
		}
	}
	return n
}

func newTestEngine(g *fakeGraph, start, end string) (*Engine, *recordingEmitter) {
	emitter := newRecordingEmitter()
	e := New(g, fixedPicker{start: start, end: end}, nil, emitter, Config{
		Countdown:    10 * time.Millisecond,
		GameDuration: 20 * time.Millisecond,
	})
	return e, emitter
}

// S1: multiplayer path_found — winner gets the winning path, loser also
// gets alternative solutions.
func TestScenario_MultiplayerPathFound(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyEasy,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)

	s.Ready("chanA")
	s.Ready("chanB")
	require.Equal(t, models.StatusActive, s.Status)

	s.SubmitPath("chanA", []string{"X", "Z", "Y"})

	winnerFrame := emitter.last("chanA")
	require.Equal(t, FrameGameEnd, winnerFrame.Type)
	winnerPayload := winnerFrame.Payload.(GameEndPayload)
	assert.Equal(t, "userA", *winnerPayload.WinnerUserID)
	assert.Equal(t, string(models.ReasonPathFound), winnerPayload.Reason)
	assert.Equal(t, []string{"name-X", "name-Z", "name-Y"}, winnerPayload.WinningPath)
	assert.Nil(t, winnerPayload.SolutionPaths, "winner does not receive alternative solutions")

	loserFrame := emitter.last("chanB")
	loserPayload := loserFrame.Payload.(GameEndPayload)
	assert.Equal(t, "userA", *loserPayload.WinnerUserID)
	assert.NotNil(t, loserPayload.SolutionPaths)

	_, ok := e.Get(s.ID)
	assert.False(t, ok, "finished session is removed from the registry")
}

// S2: single-player path_found with score formula.
func TestScenario_SinglePlayerScoring(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	s, err := e.CreateSingle(context.Background(), "chanC", "userC", models.DifficultyHard)
	require.NoError(t, err)
	s.StartEpoch = time.Now().Add(-12 * time.Second) // simulate 12s elapsed

	s.SubmitPath("chanC", []string{"X", "Z", "Y"}) // 2 edges

	frame := emitter.last("chanC")
	payload := frame.Payload.(GameEndPayload)
	assert.Equal(t, "userC", *payload.WinnerUserID)
	expectedScore := 10000 - 120 - 2*100
	assert.Equal(t, expectedScore, *payload.Score)
}

// S3: invalid submission under medium difficulty (draft_class not allowed).
func TestScenario_InvalidPathDoesNotEndSession(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyMedium,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)
	s.Ready("chanA")
	s.Ready("chanB")

	s.SubmitPath("chanA", []string{"X", "Y"}) // draft_class only, invalid for medium

	invalid := emitter.last("chanA")
	require.Equal(t, FrameInvalidPath, invalid.Type)
	ip := invalid.Payload.(InvalidPathPayload)
	assert.Equal(t, 2, ip.PathLength)
	assert.Equal(t, 4, *ip.StrikesRemaining)

	opp := emitter.last("chanB")
	require.Equal(t, FrameOpponentAttemptedPath, opp.Type)

	assert.Equal(t, models.StatusActive, s.Status)
}

// S4: strikes exhausted transitions to out_of_strikes with the opponent
// declared winner for both participants.
func TestScenario_OutOfStrikes(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyMedium, // 5 strikes
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)
	s.Ready("chanA")
	s.Ready("chanB")

	for i := 0; i < 5; i++ {
		s.SubmitPath("chanA", []string{"X", "Y"}) // always invalid for medium
	}

	aEnd := emitter.last("chanA").Payload.(GameEndPayload)
	bEnd := emitter.last("chanB").Payload.(GameEndPayload)
	assert.Equal(t, "userB", *aEnd.WinnerUserID)
	assert.Equal(t, "userB", *bEnd.WinnerUserID)
	assert.Equal(t, string(models.ReasonOutOfStrikes), aEnd.Reason)
	assert.Equal(t, string(models.ReasonOutOfStrikes), bEnd.Reason)
	assert.Equal(t, 1, emitter.count("chanA", FrameGameEnd), "exactly one terminal frame")
}

// S5: disconnect mid-game ends the session for the remaining participant.
func TestScenario_OpponentDisconnect(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyEasy,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)
	s.Ready("chanA")
	s.Ready("chanB")

	s.Disconnect("chanB")

	frame := emitter.last("chanA")
	payload := frame.Payload.(GameEndPayload)
	assert.Equal(t, "userA", *payload.WinnerUserID)
	assert.Equal(t, string(models.ReasonOpponentDisconnect), payload.Reason)
	assert.Equal(t, 1, emitter.count("chanA", FrameGameEnd))
	assert.Equal(t, 0, emitter.count("chanB", FrameGameEnd), "the disconnecting channel is gone, nothing to emit to")
}

// S6: wall-clock timeout with no valid submission emits solutions to both.
func TestScenario_Timeout(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyEasy,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)
	s.Ready("chanA")
	s.Ready("chanB")

	require.Eventually(t, func() bool {
		return emitter.count("chanA", FrameGameEnd) == 1
	}, time.Second, time.Millisecond)

	aEnd := emitter.last("chanA").Payload.(GameEndPayload)
	bEnd := emitter.last("chanB").Payload.(GameEndPayload)
	assert.Nil(t, aEnd.WinnerUserID)
	assert.Equal(t, string(models.ReasonTimeout), aEnd.Reason)
	assert.NotEmpty(t, aEnd.SolutionPaths)
	assert.NotEmpty(t, bEnd.SolutionPaths)
}

func TestTimeout_DoesNotFireAfterEarlyWin(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyEasy,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)
	s.Ready("chanA")
	s.Ready("chanB")

	s.SubmitPath("chanA", []string{"X", "Z", "Y"})
	time.Sleep(50 * time.Millisecond) // well past the test's 30ms deadline

	assert.Equal(t, 1, emitter.count("chanA", FrameGameEnd))
	assert.Equal(t, string(models.ReasonPathFound), emitter.last("chanA").Payload.(GameEndPayload).Reason)
}

func TestGiveUp_RewritesOpponentReason(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyEasy,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)
	s.Ready("chanA")
	s.Ready("chanB")

	s.GiveUp("chanA")

	a := emitter.last("chanA").Payload.(GameEndPayload)
	b := emitter.last("chanB").Payload.(GameEndPayload)
	assert.Equal(t, "userB", *a.WinnerUserID)
	assert.Equal(t, "userB", *b.WinnerUserID)
	assert.Equal(t, string(models.ReasonGaveUp), a.Reason)
	assert.Equal(t, string(models.ReasonOpponentGaveUp), b.Reason)
}

func TestReady_DuplicateIsIdempotent(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyEasy,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)

	s.Ready("chanA")
	s.Ready("chanA") // duplicate, must not emit a second opponentReady

	assert.Equal(t, 1, emitter.count("chanB", FrameOpponentReady))
}

func TestSubmitPath_SecondIdenticalSubmissionIsNoOp(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	s, err := e.CreateSingle(context.Background(), "chanC", "userC", models.DifficultyHard)
	require.NoError(t, err)

	s.SubmitPath("chanC", []string{"X", "Z", "Y"})
	s.SubmitPath("chanC", []string{"X", "Z", "Y"}) // session already finished: ignored

	assert.Equal(t, 1, emitter.count("chanC", FrameGameEnd))
}

func TestReapIdleWaiting_FinishesStaleWaitingSession(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyEasy,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)
	s.Ready("chanA") // only one side ever shows up

	s.StartEpoch = time.Now().Add(-time.Minute)

	n := e.ReapIdleWaiting(30 * time.Second)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusFinished, s.Status)

	a := emitter.last("chanA").Payload.(GameEndPayload)
	assert.Equal(t, string(models.ReasonTimeout), a.Reason)
	assert.Nil(t, a.WinnerUserID)

	_, ok := e.Get(s.ID)
	assert.False(t, ok)
}

func TestReapIdleWaiting_LeavesFreshWaitingSessionAlone(t *testing.T) {
	g := newFakeGraph()
	e, _ := newTestEngine(g, "X", "Y")

	match := matchmaking.Match{
		A:          matchmaking.Entry{ChannelID: "chanA", UserID: "userA"},
		B:          matchmaking.Entry{ChannelID: "chanB", UserID: "userB"},
		Difficulty: models.DifficultyEasy,
	}
	s, err := e.CreateMultiplayer(context.Background(), match)
	require.NoError(t, err)

	n := e.ReapIdleWaiting(30 * time.Second)
	assert.Equal(t, 0, n)
	assert.Equal(t, models.StatusWaiting, s.Status)
}

func TestSubmitPath_LengthOneIsInvalid(t *testing.T) {
	g := newFakeGraph()
	e, emitter := newTestEngine(g, "X", "Y")

	s, err := e.CreateSingle(context.Background(), "chanC", "userC", models.DifficultyHard)
	require.NoError(t, err)

	s.SubmitPath("chanC", []string{"X"})

	frame := emitter.last("chanC")
	require.Equal(t, FrameInvalidPath, frame.Type)
}
