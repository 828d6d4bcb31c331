// Package session implements the Session Engine (C5): the per-session
// state machine, its ordering guarantees, and timeout scheduling. Each
// Session is single-writer via its own mutex, matching the per-session
// mailbox/mutex discipline described by spec.md §5 and grounded in the
// teacher's engine.Game design.
package session

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"connectline/internal/matchmaking"
	"connectline/internal/models"
	"connectline/internal/pathfinder"
)

// SolutionFanout is K in spec.md §6.3 (up to 3 alternative solution paths).
const SolutionFanout = 3

// Store is the read surface the engine needs from the Graph Store.
type Store interface {
	pathfinder.Store
	GetPlayer(id string) (models.Player, error)
}

// Picker selects a reachable endpoint pair for a difficulty.
type Picker interface {
	Pick(ctx context.Context, difficulty models.Difficulty) (startID, endID string, err error)
}

// StatsWriter is the C7 write interface, called once per terminal
// transition.
type StatsWriter interface {
	RecordSessionOutcome(ctx context.Context, sessionID string, mode models.Mode, difficulty models.Difficulty, participants map[string]string, winnerUserID *string, score *int) error
}

// Config carries the timing constants from spec.md §6.3.
type Config struct {
	Countdown    time.Duration
	GameDuration time.Duration
}

// Session is one playthrough. All mutation happens under mu; emissions
// happen either under mu (cheap, no I/O) or, for pathfinder calls at
// termination, after the lock is released per the §9 design note.
type Session struct {
	ID          string
	Mode        models.Mode
	Difficulty  models.Difficulty
	Allowed     []models.ConnectionType
	StartID     string
	EndID       string
	Status      models.Status
	StartEpoch  time.Time

	mu               sync.Mutex
	participants     []string          // channel ids, in join order
	userByChannel    map[string]string
	ready            map[string]bool
	strikesRemaining int
	winnerUserID     *string
	timer            *time.Timer
	engine           *Engine
}

// Engine owns the session registry and every per-session operation.
type Engine struct {
	store   Store
	picker  Picker
	stats   StatsWriter
	emitter Emitter
	cfg     Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New builds an Engine. emitter may be swapped via SetEmitter during
// wiring if the transport is constructed after the engine.
func New(store Store, picker Picker, stats StatsWriter, emitter Emitter, cfg Config) *Engine {
	return &Engine{
		store:    store,
		picker:   picker,
		stats:    stats,
		emitter:  emitter,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// SetEmitter allows late binding when the transport adapter is
// constructed after the engine (it commonly depends on the engine too).
func (e *Engine) SetEmitter(emitter Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitter = emitter
}

// Get looks up a session by id.
func (e *Engine) Get(sessionID string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

func (e *Engine) register(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[s.ID] = s
}

func (e *Engine) unregister(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// ActiveCount reports the number of live sessions, used by /healthz.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// Shutdown force-finishes every live session with reason server_shutdown
// (SPEC_FULL.md's supplement to spec.md §5's "on shutdown, all active
// sessions receive a terminal emission"). It does not wait for frames to
// be flushed to the wire; the caller drains connections afterward.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	for _, s := range sessions {
		s.shutdown()
	}
}

// shutdown force-terminates this session; unlike other terminal paths it
// skips the stats write, since the outcome is "server stopped", not a win
// or loss to record.
func (s *Session) shutdown() {
	s.mu.Lock()
	if s.Status == models.StatusFinished {
		s.mu.Unlock()
		return
	}
	s.Status = models.StatusFinished
	if s.timer != nil {
		s.timer.Stop()
	}
	participants := append([]string(nil), s.participants...)
	s.mu.Unlock()

	for _, ch := range participants {
		s.engine.emit(ch, FrameGameEnd, GameEndPayload{Reason: string(models.ReasonServerShutdown)})
	}
	s.engine.unregister(s.ID)
}

// ReapIdleWaiting force-finishes sessions that have sat in waiting state
// past maxAge — the case where one participant attaches and then
// vanishes before the transport layer's disconnect ever fires.
// SPEC_FULL.md §4's idle-session reaper; reported reason is timeout,
// since nothing distinguishes this from a deadline lapsing unobserved.
// Returns the number of sessions reaped.
func (e *Engine) ReapIdleWaiting(maxAge time.Duration) int {
	e.mu.RLock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	count := 0
	for _, s := range sessions {
		if s.reapIfIdle(maxAge) {
			count++
		}
	}
	return count
}

// reapIfIdle finishes this session with reason timeout if it is still
// waiting and has aged past maxAge. Reports whether it did so.
func (s *Session) reapIfIdle(maxAge time.Duration) bool {
	s.mu.Lock()
	if s.Status != models.StatusWaiting || time.Since(s.StartEpoch) < maxAge {
		s.mu.Unlock()
		return false
	}
	s.Status = models.StatusFinished
	if s.timer != nil {
		s.timer.Stop()
	}
	emitTo := map[string]models.EndReason{}
	for _, ch := range s.participants {
		emitTo[ch] = models.ReasonTimeout
	}
	result := &terminalResult{reason: models.ReasonTimeout, emitTo: emitTo, needsSolution: true}
	s.mu.Unlock()

	s.finishTerminal(result, nil, nil)
	return true
}

func (e *Engine) emit(channelID, frameType string, payload any) {
	e.mu.RLock()
	emitter := e.emitter
	e.mu.RUnlock()
	if emitter == nil {
		return
	}
	emitter.Emit(channelID, frameType, payload)
}

// CreateSingle starts a single-player session directly in active state.
func (e *Engine) CreateSingle(ctx context.Context, channelID, userID string, difficulty models.Difficulty) (*Session, error) {
	start, end, err := e.picker.Pick(ctx, difficulty)
	if err != nil {
		return nil, fmt.Errorf("session: pick endpoints: %w", err)
	}
	params := models.Params[difficulty]

	s := &Session{
		ID:               uuid.New().String(),
		Mode:             models.ModeSingle,
		Difficulty:       difficulty,
		Allowed:          params.AllowedTypes,
		StartID:          start,
		EndID:            end,
		Status:           models.StatusActive,
		StartEpoch:       time.Now(),
		participants:     []string{channelID},
		userByChannel:    map[string]string{channelID: userID},
		ready:            map[string]bool{},
		strikesRemaining: params.Strikes,
		engine:           e,
	}
	e.register(s)
	e.emit(channelID, FrameGameStart, s.gameStartPayload(nil))
	return s, nil
}

// CreateMultiplayer starts a two-participant session in waiting state.
func (e *Engine) CreateMultiplayer(ctx context.Context, match matchmaking.Match) (*Session, error) {
	start, end, err := e.picker.Pick(ctx, match.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("session: pick endpoints: %w", err)
	}
	params := models.Params[match.Difficulty]

	s := &Session{
		ID:         uuid.New().String(),
		Mode:       models.ModeMulti,
		Difficulty: match.Difficulty,
		Allowed:    params.AllowedTypes,
		StartID:    start,
		EndID:      end,
		Status:     models.StatusWaiting,
		StartEpoch: time.Now(),
		participants: []string{match.A.ChannelID, match.B.ChannelID},
		userByChannel: map[string]string{
			match.A.ChannelID: match.A.UserID,
			match.B.ChannelID: match.B.UserID,
		},
		ready:            map[string]bool{},
		strikesRemaining: params.Strikes,
		engine:           e,
	}
	e.register(s)

	for _, ch := range s.participants {
		opp := s.otherUser(ch)
		e.emit(ch, FrameGameStart, s.gameStartPayload(&opp))
	}
	return s, nil
}

func (s *Session) gameStartPayload(opponentUserID *string) GameStartPayload {
	return GameStartPayload{
		SessionID:      s.ID,
		StartPlayer:    s.engine.endpoint(s.StartID),
		EndPlayer:      s.engine.endpoint(s.EndID),
		Mode:           string(s.Mode),
		Difficulty:     string(s.Difficulty),
		OpponentUserID: opponentUserID,
	}
}

func (e *Engine) endpoint(playerID string) Endpoint {
	p, err := e.store.GetPlayer(playerID)
	if err != nil {
		return Endpoint{ID: playerID, Name: playerID}
	}
	return Endpoint{ID: playerID, Name: p.Name}
}

func (s *Session) otherChannel(channelID string) (string, bool) {
	for _, ch := range s.participants {
		if ch != channelID {
			return ch, true
		}
	}
	return "", false
}

func (s *Session) otherUser(channelID string) string {
	other, ok := s.otherChannel(channelID)
	if !ok {
		return ""
	}
	return s.userByChannel[other]
}

// Ready handles the playerReady inbound event (multiplayer only; §4.5.1).
func (s *Session) Ready(channelID string) {
	s.mu.Lock()
	if s.Status != models.StatusWaiting {
		s.mu.Unlock()
		return
	}
	if s.ready[channelID] {
		s.mu.Unlock()
		return
	}
	s.ready[channelID] = true
	allReady := len(s.ready) == len(s.participants)
	if allReady {
		s.Status = models.StatusActive
		deadline := s.engine.cfg.Countdown + s.engine.cfg.GameDuration
		s.timer = time.AfterFunc(deadline, s.handleTimeout)
	}
	other, hasOther := s.otherChannel(channelID)
	s.mu.Unlock()

	if hasOther {
		s.engine.emit(other, FrameOpponentReady, struct{}{})
	}
	if allReady {
		for _, ch := range s.participants {
			s.engine.emit(ch, FrameAllPlayersReady, struct{}{})
		}
	}
}

// SubmitPath handles the submitPath inbound event (§4.5.2).
func (s *Session) SubmitPath(channelID string, path []string) {
	s.mu.Lock()
	if s.Status != models.StatusActive {
		s.mu.Unlock()
		return
	}

	valid := s.validatePath(path)
	if valid {
		s.finishOnSubmit(channelID, path)
		return // finishOnSubmit releases the lock itself
	}

	s.strikesRemaining--
	remaining := s.strikesRemaining
	outOfStrikes := remaining <= 0
	var terminal *terminalResult
	if outOfStrikes {
		terminal = s.beginTerminalLocked(models.ReasonOutOfStrikes, s.loserTerminal(channelID))
	}
	other, hasOther := s.otherChannel(channelID)
	s.mu.Unlock()

	s.engine.emit(channelID, FrameInvalidPath, InvalidPathPayload{PathLength: len(path), StrikesRemaining: &remaining})
	if hasOther {
		s.engine.emit(other, FrameOpponentAttemptedPath, OpponentAttemptedPathPayload{Success: false, PathLength: len(path)})
	}
	if terminal != nil {
		s.finishTerminal(terminal, nil, nil)
	}
}

// validatePath applies the four ordered rules of §4.5.2. Caller holds mu.
func (s *Session) validatePath(path []string) bool {
	if len(path) < 2 {
		return false
	}
	if path[0] != s.StartID {
		return false
	}
	if path[len(path)-1] != s.EndID {
		return false
	}
	for i := 0; i+1 < len(path); i++ {
		if !s.engine.hasEdge(path[i], path[i+1], s.Allowed) {
			return false
		}
	}
	return true
}

func (e *Engine) hasEdge(a, b string, allowed []models.ConnectionType) bool {
	for _, nb := range e.store.GetNeighbors(a, allowed) {
		if nb.PlayerID == b {
			return true
		}
	}
	return false
}

// terminalResult captures what a terminal transition needs emitted once
// outside the lock (pathfinder calls, display-name resolution).
type terminalResult struct {
	reason        models.EndReason
	winnerUserID  *string
	emitTo        map[string]models.EndReason // channel -> its own reason (gave_up vs opponent_gave_up)
	needsWinning  []string                    // the accepted path, for path_found
	needsSolution bool
}

// loserTerminal builds the shared out_of_strikes terminal shape: the
// submitter loses, the other participant (if any) wins.
func (s *Session) loserTerminal(loserChannel string) *terminalResult {
	emitTo := map[string]models.EndReason{}
	var winner *string
	if other, ok := s.otherChannel(loserChannel); ok {
		w := s.userByChannel[other]
		winner = &w
		emitTo[loserChannel] = models.ReasonOutOfStrikes
		emitTo[other] = models.ReasonOutOfStrikes
	} else {
		emitTo[loserChannel] = models.ReasonOutOfStrikes
	}
	return &terminalResult{reason: models.ReasonOutOfStrikes, winnerUserID: winner, emitTo: emitTo}
}

// beginTerminalLocked marks the session finished and cancels its timer.
// Caller holds mu and releases it (terminal transitions always end the
// critical section so subsequent I/O runs lock-free).
func (s *Session) beginTerminalLocked(reason models.EndReason, result *terminalResult) *terminalResult {
	s.Status = models.StatusFinished
	s.winnerUserID = result.winnerUserID
	if s.timer != nil {
		s.timer.Stop()
	}
	return result
}

func (s *Session) finishOnSubmit(channelID string, path []string) {
	winner := s.userByChannel[channelID]
	result := &terminalResult{
		reason:       models.ReasonPathFound,
		winnerUserID: &winner,
		emitTo:       map[string]models.EndReason{},
		needsWinning: path,
	}
	for _, ch := range s.participants {
		result.emitTo[ch] = models.ReasonPathFound
	}
	result.needsSolution = s.Mode == models.ModeMulti
	s.beginTerminalLocked(models.ReasonPathFound, result)

	var score *int
	var elapsed *float64
	if s.Mode == models.ModeSingle {
		sc := computeScore(time.Since(s.StartEpoch), len(path)-1)
		score = &sc
		e := time.Since(s.StartEpoch).Seconds()
		elapsed = &e
	}
	s.mu.Unlock()
	s.finishTerminal(result, score, elapsed)
}

func computeScore(elapsed time.Duration, edges int) int {
	score := 10000 - int(math.Floor(elapsed.Seconds()*10)) - edges*100
	if score < 0 {
		score = 0
	}
	return score
}

// GiveUp handles the giveUp inbound event (§4.5.3).
func (s *Session) GiveUp(channelID string) {
	s.mu.Lock()
	if s.Status != models.StatusActive {
		s.mu.Unlock()
		return
	}

	emitTo := map[string]models.EndReason{}
	var winner *string
	if other, ok := s.otherChannel(channelID); ok {
		w := s.userByChannel[other]
		winner = &w
		emitTo[channelID] = models.ReasonGaveUp
		emitTo[other] = models.ReasonOpponentGaveUp
	} else {
		emitTo[channelID] = models.ReasonGaveUp
	}
	result := &terminalResult{reason: models.ReasonGaveUp, winnerUserID: winner, emitTo: emitTo}
	s.beginTerminalLocked(models.ReasonGaveUp, result)
	s.mu.Unlock()

	s.finishTerminal(result, nil, nil)
}

// Disconnect handles a closed channel (§4.6). Single mode destroys the
// session silently; multiplayer declares the remaining participant the
// winner whether the disconnect happened in waiting or active state.
func (s *Session) Disconnect(channelID string) {
	s.mu.Lock()
	if s.Status == models.StatusFinished {
		s.mu.Unlock()
		return
	}
	if s.Mode == models.ModeSingle {
		s.Status = models.StatusFinished
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		s.engine.unregister(s.ID)
		return
	}

	other, hasOther := s.otherChannel(channelID)
	emitTo := map[string]models.EndReason{}
	var winner *string
	if hasOther {
		w := s.userByChannel[other]
		winner = &w
		emitTo[other] = models.ReasonOpponentDisconnect
	}
	result := &terminalResult{reason: models.ReasonOpponentDisconnect, winnerUserID: winner, emitTo: emitTo}
	s.beginTerminalLocked(models.ReasonOpponentDisconnect, result)
	s.mu.Unlock()

	s.finishTerminal(result, nil, nil)
}

func (s *Session) handleTimeout() {
	s.mu.Lock()
	if s.Status == models.StatusFinished {
		s.mu.Unlock()
		return
	}
	s.Status = models.StatusFinished
	emitTo := map[string]models.EndReason{}
	for _, ch := range s.participants {
		emitTo[ch] = models.ReasonTimeout
	}
	result := &terminalResult{reason: models.ReasonTimeout, emitTo: emitTo, needsSolution: true}
	s.mu.Unlock()

	s.finishTerminal(result, nil, nil)
}

// finishTerminal performs the I/O-bearing work of a terminal transition
// (name resolution, alternative solution paths, stats write) outside the
// session lock, then emits the single gameEnd frame per participant and
// removes the session from the registry.
func (s *Session) finishTerminal(result *terminalResult, score *int, elapsedSeconds *float64) {
	var winningNames []string
	if result.needsWinning != nil {
		winningNames = s.engine.namesFor(result.needsWinning)
	}

	var solutions [][]string
	if result.needsSolution {
		solutions = s.engine.alternativeSolutions(s.StartID, s.EndID, s.Allowed, result.needsWinning)
	}

	for ch, reason := range result.emitTo {
		payload := GameEndPayload{
			WinnerUserID: result.winnerUserID,
			Reason:       string(reason),
			Score:        score,
			Time:         elapsedSeconds,
		}
		if winningNames != nil {
			payload.WinningPath = winningNames
		}
		// Alternative solutions go to every recipient for timeout (§9 open
		// question resolution); for path_found only the non-winner needs
		// them, since the winner already has their own accepted path.
		if solutions != nil {
			if result.reason == models.ReasonTimeout || (result.winnerUserID != nil && s.userByChannel[ch] != *result.winnerUserID) {
				payload.SolutionPaths = solutions
			}
		}
		s.engine.emit(ch, FrameGameEnd, payload)
	}

	if s.engine.stats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.engine.stats.RecordSessionOutcome(ctx, s.ID, s.Mode, s.Difficulty, s.userByChannel, result.winnerUserID, score); err != nil {
			log.Printf("[SESSION] stats write failed for %s: %v", s.ID, err)
		}
		cancel()
	}

	s.engine.unregister(s.ID)
}

func (e *Engine) namesFor(path []string) []string {
	names := make([]string, len(path))
	for i, id := range path {
		names[i] = e.endpoint(id).Name
	}
	return names
}

// alternativeSolutions computes up to SolutionFanout shortest paths,
// mapped to display names and deduplicated by name sequence (distinct
// ids can map to the same display name).
func (e *Engine) alternativeSolutions(startID, endID string, allowed []models.ConnectionType, exclude []string) [][]string {
	paths := pathfinder.ShortestPaths(e.store, startID, endID, allowed, SolutionFanout+1, pathfinder.Options{})

	seen := make(map[string]bool)
	if exclude != nil {
		seen[joinPath(e.namesFor(exclude))] = true
	}

	out := make([][]string, 0, SolutionFanout)
	for _, p := range paths {
		names := e.namesFor(p)
		key := joinPath(names)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, names)
		if len(out) >= SolutionFanout {
			break
		}
	}
	return out
}

func joinPath(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ">"
		}
		out += n
	}
	return out
}
