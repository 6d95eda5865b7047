// Package proto is the wire contract shared by the hopdot server and its
// clients. Pure data, no logic: message kinds form a closed set and every
// consumer matches them exhaustively.
package proto

// Version is bumped whenever the wire contract changes incompatibly.
// Echoed in Joined so clients can refuse to talk to a mismatched server.
const Version = 1

// Position identifies one dot of the board graph. Opaque to the protocol;
// the board model decides the encoding.
type Position string

// PlacementSource is the sentinel source for a player's initial placement
// move. Never a valid board position.
const PlacementSource Position = "-"

type ClientKind string

const (
	KindJoin   ClientKind = "join"
	KindMove   ClientKind = "move"
	KindResign ClientKind = "resign"
	KindLeave  ClientKind = "leave"
)

// ClientMessage is the envelope for everything a client sends. Fields beyond
// Type are populated per kind; unused ones stay empty on the wire.
type ClientMessage struct {
	Type           ClientKind `json:"type"`
	SessionID      string     `json:"session_id,omitempty"`
	ReconnectToken string     `json:"reconnect_token,omitempty"`
	PlayerID       string     `json:"player_id,omitempty"`
	Seq            uint64     `json:"seq,omitempty"`
	Source         Position   `json:"source,omitempty"`
	Destination    Position   `json:"destination,omitempty"`
}

type ServerKind string

const (
	KindJoined       ServerKind = "joined"
	KindJoinRejected ServerKind = "join_rejected"
	KindSnapshot     ServerKind = "snapshot"
	KindStateDelta   ServerKind = "state_delta"
	KindMoveRejected ServerKind = "move_rejected"
	KindError        ServerKind = "error"
)

type ServerMessage struct {
	Type           ServerKind  `json:"type"`
	Protocol       int         `json:"protocol,omitempty"`
	SessionID      string      `json:"session_id,omitempty"`
	PlayerID       string      `json:"player_id,omitempty"`
	ReconnectToken string      `json:"reconnect_token,omitempty"`
	Seq            uint64      `json:"seq,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Snapshot       *Snapshot   `json:"snapshot,omitempty"`
	Delta          *StateDelta `json:"delta,omitempty"`
}

// Rejection reasons carried by MoveRejected, JoinRejected and Error.
const (
	ReasonWrongTurn        = "wrong_turn"
	ReasonUnknownPos       = "unknown_position"
	ReasonNotOwned         = "not_owned_by_source"
	ReasonNotAdjacent      = "not_adjacent"
	ReasonOccupied         = "destination_occupied"
	ReasonGameOver         = "game_over"
	ReasonNotStarted       = "not_started"
	ReasonSessionClosed    = "session_closed"
	ReasonSessionFull      = "session_full"
	ReasonAlreadyConnected = "already_connected"
	ReasonBadMessage       = "bad_message"
	ReasonInternal         = "internal_error"
)

type Phase string

const (
	PhaseInProgress Phase = "in_progress"
	PhaseFinished   Phase = "finished"
)

// StateDelta is the minimal description of one validated move's effect,
// tagged with the session's replication sequence number. Source is empty
// for placements (nothing was vacated).
type StateDelta struct {
	Seq         uint64         `json:"seq"`
	Player      string         `json:"player"`
	Source      Position       `json:"source,omitempty"`
	Destination Position       `json:"destination,omitempty"`
	Turn        string         `json:"turn,omitempty"`
	Scores      map[string]int `json:"scores"`
	Phase       Phase          `json:"phase"`
	Winner      string         `json:"winner,omitempty"`
	Resigned    string         `json:"resigned,omitempty"`
}

// Snapshot is the full authoritative game state, sent on join and reconnect
// so a client never needs gap-filling delta replay.
type Snapshot struct {
	Seq       uint64              `json:"seq"`
	Width     uint8               `json:"width"`
	Height    uint8               `json:"height"`
	Players   []string            `json:"players"`
	Occupants map[Position]string `json:"occupants"`
	Turn      string              `json:"turn,omitempty"`
	Scores    map[string]int      `json:"scores"`
	Phase     Phase               `json:"phase"`
	Winner    string              `json:"winner,omitempty"`
	Resigned  []string            `json:"resigned,omitempty"`
}
