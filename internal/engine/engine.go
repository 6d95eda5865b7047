// Package engine holds the authoritative game rules as a pure transition
// function over value-copied state. No clocks, no randomness: the same move
// sequence always produces the same state on any replica.
package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/hopdot/hopdot-server/internal/board"
	"github.com/hopdot/hopdot-server/pkg/proto"
)

var ErrGameOver = errors.New("game over")
var ErrWrongTurn = errors.New("wrong turn")
var ErrUnknownPosition = errors.New("unknown position")
var ErrNotOwnedBySource = errors.New("source not owned by player")
var ErrNotAdjacent = errors.New("destination not adjacent to source")
var ErrDestinationOccupied = errors.New("destination occupied")
var ErrUnknownPlayer = errors.New("unknown player")

// ErrCorruptState marks an internal invariant violation. Unlike the
// validation errors above it is fatal to the session, never retried.
var ErrCorruptState = errors.New("corrupt game state")

type State struct {
	Board     *board.Board // shared with the session, immutable
	Order     []string     // turn rotation fixed at session start
	Occupants map[proto.Position]string
	Placed    map[string]bool
	Resigned  map[string]bool
	Turn      string // empty once finished
	Scores    map[string]int
	Phase     proto.Phase
	Winner    string // empty while in progress or on a draw
}

// Move is a player's requested transition. Source is PlacementSource for
// the initial token placement.
type Move struct {
	Player      string
	Seq         uint64
	Source      proto.Position
	Destination proto.Position
}

// NewState builds the starting state for a dealt board and rotation order.
// The first player in order holds the turn.
func NewState(b *board.Board, order []string) State {
	s := State{
		Board:     b,
		Order:     slices.Clone(order),
		Occupants: map[proto.Position]string{},
		Placed:    map[string]bool{},
		Resigned:  map[string]bool{},
		Turn:      order[0],
		Phase:     proto.PhaseInProgress,
	}
	s.Scores = scoresFrom(s.Occupants, s.Order)
	return s
}

// Apply validates mv against s and returns the successor state plus the
// delta describing the change. s is never mutated; on error it is returned
// unchanged. Checks run in a fixed order and the first failure wins.
func Apply(s State, mv Move) (State, proto.StateDelta, error) {
	if err := checkInvariants(s); err != nil {
		return s, proto.StateDelta{}, err
	}
	if s.Phase == proto.PhaseFinished {
		return s, proto.StateDelta{}, ErrGameOver
	}
	if mv.Player != s.Turn {
		return s, proto.StateDelta{}, ErrWrongTurn
	}

	placement := mv.Source == proto.PlacementSource
	if !placement && !s.Board.Contains(mv.Source) {
		return s, proto.StateDelta{}, fmt.Errorf("%w: %s", ErrUnknownPosition, mv.Source)
	}
	if !s.Board.Contains(mv.Destination) {
		return s, proto.StateDelta{}, fmt.Errorf("%w: %s", ErrUnknownPosition, mv.Destination)
	}
	if placement {
		// The placement sentinel is only usable before the player's
		// first token is on the board.
		if s.Placed[mv.Player] {
			return s, proto.StateDelta{}, ErrNotOwnedBySource
		}
	} else if s.Occupants[mv.Source] != mv.Player {
		return s, proto.StateDelta{}, ErrNotOwnedBySource
	}
	if !placement && !s.Board.Adjacent(mv.Source, mv.Destination) {
		return s, proto.StateDelta{}, ErrNotAdjacent
	}
	if _, occupied := s.Occupants[mv.Destination]; occupied {
		return s, proto.StateDelta{}, ErrDestinationOccupied
	}

	next := clone(s)
	if !placement {
		delete(next.Occupants, mv.Source)
	}
	next.Occupants[mv.Destination] = mv.Player
	next.Placed[mv.Player] = true
	next.Scores = scoresFrom(next.Occupants, next.Order)

	upNext := nextActive(next, mv.Player)
	if len(next.Occupants) == next.Board.Len() || !hasLegalMove(next, upNext) {
		next.Phase = proto.PhaseFinished
		next.Turn = ""
		next.Winner = winnerByScore(next.Scores)
	} else {
		next.Turn = upNext
	}

	delta := proto.StateDelta{
		Player:      mv.Player,
		Destination: mv.Destination,
		Turn:        next.Turn,
		Scores:      next.Scores,
		Phase:       next.Phase,
		Winner:      next.Winner,
	}
	if !placement {
		delta.Source = mv.Source
	}
	return next, delta, nil
}

// Resign removes a player from the rotation. Their tokens stay on the board
// but they can no longer hold the turn; the last active player wins.
func Resign(s State, player string) (State, proto.StateDelta, error) {
	if s.Phase == proto.PhaseFinished {
		return s, proto.StateDelta{}, ErrGameOver
	}
	if !slices.Contains(s.Order, player) || s.Resigned[player] {
		return s, proto.StateDelta{}, ErrUnknownPlayer
	}

	next := clone(s)
	next.Resigned[player] = true

	var active []string
	for _, p := range next.Order {
		if !next.Resigned[p] {
			active = append(active, p)
		}
	}
	if len(active) == 1 {
		next.Phase = proto.PhaseFinished
		next.Turn = ""
		next.Winner = active[0]
	} else if next.Turn == player {
		next.Turn = nextActive(next, player)
	}

	return next, proto.StateDelta{
		Player:   player,
		Resigned: player,
		Turn:     next.Turn,
		Scores:   next.Scores,
		Phase:    next.Phase,
		Winner:   next.Winner,
	}, nil
}

// HasLegalMove reports whether player could submit any valid move against s.
func HasLegalMove(s State, player string) bool {
	return hasLegalMove(s, player)
}

func hasLegalMove(s State, player string) bool {
	if s.Resigned[player] {
		return false
	}
	if !s.Placed[player] {
		// A placement is legal while any position is empty.
		return len(s.Occupants) < s.Board.Len()
	}
	for pos, owner := range s.Occupants {
		if owner != player {
			continue
		}
		for _, n := range s.Board.Neighbors(pos) {
			if _, occupied := s.Occupants[n]; !occupied {
				return true
			}
		}
	}
	return false
}

// nextActive returns the player after from in rotation order, skipping
// resigned players.
func nextActive(s State, from string) string {
	idx := slices.Index(s.Order, from)
	for i := 1; i <= len(s.Order); i++ {
		candidate := s.Order[(idx+i)%len(s.Order)]
		if !s.Resigned[candidate] {
			return candidate
		}
	}
	return from
}

// scoresFrom recomputes all scores wholesale from occupancy so they can
// never drift from the board.
func scoresFrom(occupants map[proto.Position]string, order []string) map[string]int {
	scores := make(map[string]int, len(order))
	for _, p := range order {
		scores[p] = 0
	}
	for _, owner := range occupants {
		scores[owner]++
	}
	return scores
}

// winnerByScore returns the player with a strictly greater score than every
// other, or empty on a tie.
func winnerByScore(scores map[string]int) string {
	best, winner, tied := -1, "", false
	for player, score := range scores {
		switch {
		case score > best:
			best, winner, tied = score, player, false
		case score == best:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return winner
}

func checkInvariants(s State) error {
	for pos := range s.Occupants {
		if !s.Board.Contains(pos) {
			return fmt.Errorf("%w: occupant at %s outside board", ErrCorruptState, pos)
		}
	}
	return nil
}

func clone(s State) State {
	next := s
	next.Occupants = maps.Clone(s.Occupants)
	next.Placed = maps.Clone(s.Placed)
	next.Resigned = maps.Clone(s.Resigned)
	next.Scores = maps.Clone(s.Scores)
	return next
}
