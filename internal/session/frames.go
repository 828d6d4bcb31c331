package session

// Frame names match spec §6.2's outbound event table verbatim; the
// Transport Adapter marshals these as the `type`/`payload` envelope.
const (
	FrameGameStart             = "gameStart"
	FrameOpponentReady         = "opponentReady"
	FrameAllPlayersReady       = "allPlayersReady"
	FrameInvalidPath           = "invalidPath"
	FrameOpponentAttemptedPath = "opponentAttemptedPath"
	FrameGameEnd               = "gameEnd"

	// FrameQueueLeft is a SPEC_FULL.md ambient addition: an acknowledgement
	// sent to a still-connected channel when it is removed from the
	// matchmaking queue on server shutdown.
	FrameQueueLeft = "queueLeft"

	// FrameQueueExpired is a SPEC_FULL.md ambient addition (§4's queue
	// entry TTL sweep): sent to a still-connected channel whose queue
	// entry was dropped for sitting past the TTL without matching.
	FrameQueueExpired = "queueExpired"
)

// Endpoint is a (PlayerId, display name) pair, the shape sent over the
// wire so the client never has to resolve ids itself.
type Endpoint struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GameStartPayload is emitted once per participant at session creation.
type GameStartPayload struct {
	SessionID      string   `json:"sessionId"`
	StartPlayer    Endpoint `json:"startPlayer"`
	EndPlayer      Endpoint `json:"endPlayer"`
	Mode           string   `json:"mode"`
	Difficulty     string   `json:"difficulty"`
	OpponentUserID *string  `json:"opponentUserId,omitempty"`
}

// InvalidPathPayload is emitted to the submitter of a rejected path.
type InvalidPathPayload struct {
	PathLength       int  `json:"pathLength"`
	StrikesRemaining *int `json:"strikesRemaining,omitempty"`
}

// OpponentAttemptedPathPayload is emitted to the non-submitting
// participant whenever the other attempts a submission.
type OpponentAttemptedPathPayload struct {
	Success    bool `json:"success"`
	PathLength int  `json:"pathLength"`
}

// GameEndPayload is the sole terminal frame for a session; every
// participant receives exactly one.
type GameEndPayload struct {
	WinnerUserID  *string    `json:"winnerUserId,omitempty"`
	Reason        string     `json:"reason"`
	WinningPath   []string   `json:"winningPath,omitempty"`
	SolutionPaths [][]string `json:"solutionPaths,omitempty"`
	Score         *int       `json:"score,omitempty"`
	Time          *float64   `json:"time,omitempty"`
}

// Emitter delivers an outbound frame to one channel. The Transport
// Adapter is the only implementation; Session Engine never touches a
// connection directly.
type Emitter interface {
	Emit(channelID, frameType string, payload any)
}
