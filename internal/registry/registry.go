// Package registry is the process-wide table tying connection identity to
// session membership. It holds no game logic: it issues reconnect tokens,
// resolves them back to seats, and refuses a second live connection for a
// player. Its lock is independent of every session loop.
package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrAlreadyConnected = errors.New("player already has a live connection")
var ErrUnknownToken = errors.New("unknown reconnect token")

// Seat is a player's membership in one session, stable across reconnects.
type Seat struct {
	SessionID string
	PlayerID  string
}

type Registry struct {
	mu      sync.Mutex
	byToken map[string]Seat
	active  map[string]string // playerID -> connection id
}

func New() *Registry {
	return &Registry{
		byToken: make(map[string]Seat),
		active:  make(map[string]string),
	}
}

// Issue mints a fresh player id and reconnect token for a session. Tokens
// are UUIDs: unguessable enough that a seat cannot be hijacked by probing.
func (r *Registry) Issue(sessionID string) (token string, seat Seat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token = uuid.NewString()
	seat = Seat{SessionID: sessionID, PlayerID: uuid.NewString()}
	r.byToken[token] = seat
	return token, seat
}

// Resolve maps a client-presented token back to its seat.
func (r *Registry) Resolve(token string) (Seat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat, ok := r.byToken[token]
	if !ok {
		return Seat{}, ErrUnknownToken
	}
	return seat, nil
}

// Connect claims the player for connID. A player can hold at most one live
// connection; a duplicate is refused without touching session state.
func (r *Registry) Connect(playerID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[playerID]; ok && cur != connID {
		return ErrAlreadyConnected
	}
	r.active[playerID] = connID
	return nil
}

// Disconnect releases the player's connection claim. Stale connections (a
// reconnect already claimed the player) are ignored.
func (r *Registry) Disconnect(playerID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[playerID]; ok && cur == connID {
		delete(r.active, playerID)
	}
}

// Release forgets a single seat. Used when a token was minted for a
// connection that never took a seat, so spectator churn cannot grow the
// table.
func (r *Registry) Release(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	delete(r.active, seat.PlayerID)
}

// DropSession forgets every token and connection claim for a torn-down
// session.
func (r *Registry) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, seat := range r.byToken {
		if seat.SessionID == sessionID {
			delete(r.byToken, token)
			delete(r.active, seat.PlayerID)
		}
	}
}
