// Package models holds the persistent schema (consumed read-only by the
// Graph Store and written by the Stats Writer) and the plain domain types
// shared across the session and matchmaking engine.
package models

import "time"

// Position is a coarse roster slot used only for tiering and display.
type Position string

const (
	PositionQB    Position = "QB"
	PositionRB    Position = "RB"
	PositionWR    Position = "WR"
	PositionTE    Position = "TE"
	PositionOther Position = "OTHER"
)

// ConnectionType is the closed label set for edges in the player graph.
type ConnectionType string

const (
	ConnectionTeammate   ConnectionType = "teammate"
	ConnectionCollege    ConnectionType = "college"
	ConnectionDraftClass ConnectionType = "draft_class"
	ConnectionPosition   ConnectionType = "position"
)

// AllConnectionTypes lists the full closed set, used for the easy difficulty.
var AllConnectionTypes = []ConnectionType{
	ConnectionTeammate, ConnectionCollege, ConnectionDraftClass, ConnectionPosition,
}

// Player is a row of the players table. Immutable for the lifetime of a
// session that references it.
type Player struct {
	ID           string `gorm:"column:id;primaryKey"`
	Name         string `gorm:"column:name"`
	Position     string `gorm:"column:position"`
	College      string `gorm:"column:college"`
	DraftYear    int    `gorm:"column:draft_year"`
	Teams        string `gorm:"column:teams"` // JSON-encoded []string
	FirstSeason  int    `gorm:"column:first_season"`
	LastSeason   int    `gorm:"column:last_season"`
}

func (Player) TableName() string { return "players" }

// PlayerConnection is a row of the player_connections table. Edges are
// undirected: (player1_id, player2_id) carries no ordering meaning beyond
// how it happens to be stored.
type PlayerConnection struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Player1ID      string `gorm:"column:player1_id"`
	Player2ID      string `gorm:"column:player2_id"`
	ConnectionType string `gorm:"column:connection_type"`
	Metadata       string `gorm:"column:metadata"` // JSON
}

func (PlayerConnection) TableName() string { return "player_connections" }

// PlayerSeasonalStat is used only for tier selection (§4.3 pools).
type PlayerSeasonalStat struct {
	PlayerID         string  `gorm:"column:player_id"`
	Season           int     `gorm:"column:season"`
	FantasyPointsPPR float64 `gorm:"column:fantasy_points_ppr"`
}

func (PlayerSeasonalStat) TableName() string { return "player_seasonal_stats" }

// UserStat is the write target of the Stats Writer (C7).
type UserStat struct {
	UserID               string `gorm:"column:user_id;primaryKey"`
	SinglePlayerHighScore int   `gorm:"column:single_player_high_score"`
	MultiplayerWins      int    `gorm:"column:multiplayer_wins"`
	MultiplayerLosses    int    `gorm:"column:multiplayer_losses"`
}

func (UserStat) TableName() string { return "user_stats" }

// RecordedOutcome tracks which SessionIds have already been folded into
// UserStat, making Stats Writer writes idempotent per session.
type RecordedOutcome struct {
	SessionID string    `gorm:"column:session_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (RecordedOutcome) TableName() string { return "recorded_outcomes" }

// MatchmakingLogEntry is a best-effort, fire-and-forget audit row. It is
// never read back into live matchmaking decisions; the in-memory queue is
// the sole source of truth for pairing (spec.md §5).
type MatchmakingLogEntry struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	EntryID    string    `gorm:"column:entry_id"`
	ChannelID  string    `gorm:"column:channel_id"`
	UserID     string    `gorm:"column:user_id"`
	Difficulty string    `gorm:"column:difficulty"`
	Event      string    `gorm:"column:event"` // enqueued, dequeued, matched, expired
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (MatchmakingLogEntry) TableName() string { return "matchmaking_log" }

// Difficulty is the closed tuple of (pool tier, allowed edge types, strike
// budget, minimum hop floor) from spec.md §6.3.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// DifficultyParams is the authoritative per-difficulty configuration.
type DifficultyParams struct {
	AllowedTypes []ConnectionType
	Strikes      int
	MinEdges     int
	PoolTier     string
}

// Params holds the table from spec.md §6.3.
var Params = map[Difficulty]DifficultyParams{
	DifficultyEasy: {
		AllowedTypes: AllConnectionTypes,
		Strikes:      10,
		MinEdges:     1,
		PoolTier:     "stars",
	},
	DifficultyMedium: {
		AllowedTypes: []ConnectionType{ConnectionTeammate, ConnectionCollege},
		Strikes:      5,
		MinEdges:     2,
		PoolTier:     "starters",
	},
	DifficultyHard: {
		AllowedTypes: []ConnectionType{ConnectionTeammate},
		Strikes:      3,
		MinEdges:     2,
		PoolTier:     "recorded",
	},
}

// Mode is a session's player arity.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multiplayer"
)

// Status is a session's lifecycle stage.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// EndReason enumerates the gameEnd.reason wire values (spec.md §6.2, plus
// the server_shutdown addition from SPEC_FULL.md §4).
type EndReason string

const (
	ReasonPathFound           EndReason = "path_found"
	ReasonOutOfStrikes        EndReason = "out_of_strikes"
	ReasonTimeout             EndReason = "timeout"
	ReasonGaveUp              EndReason = "gave_up"
	ReasonOpponentGaveUp      EndReason = "opponent_gave_up"
	ReasonOpponentDisconnect  EndReason = "opponent_disconnected"
	ReasonInternalError       EndReason = "internal_error"
	ReasonServerShutdown      EndReason = "server_shutdown"
)
