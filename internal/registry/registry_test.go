package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndResolve(t *testing.T) {
	r := New()

	token, seat := r.Issue("session-1")
	require.NotEmpty(t, token)
	require.NotEmpty(t, seat.PlayerID)
	assert.Equal(t, "session-1", seat.SessionID)

	resolved, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, seat, resolved)

	_, err = r.Resolve("no-such-token")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestIssue_TokensAreUnique(t *testing.T) {
	r := New()
	t1, s1 := r.Issue("session-1")
	t2, s2 := r.Issue("session-1")
	assert.NotEqual(t, t1, t2)
	assert.NotEqual(t, s1.PlayerID, s2.PlayerID)
}

func TestConnect_RefusesSecondLiveConnection(t *testing.T) {
	r := New()
	_, seat := r.Issue("session-1")

	require.NoError(t, r.Connect(seat.PlayerID, "conn-a"))
	assert.ErrorIs(t, r.Connect(seat.PlayerID, "conn-b"), ErrAlreadyConnected)

	// Re-claiming from the same connection is fine (retried handshake).
	assert.NoError(t, r.Connect(seat.PlayerID, "conn-a"))
}

func TestDisconnect_IgnoresStaleConnections(t *testing.T) {
	r := New()
	_, seat := r.Issue("session-1")
	require.NoError(t, r.Connect(seat.PlayerID, "conn-a"))

	// A leftover disconnect from an old connection must not kick conn-a.
	r.Disconnect(seat.PlayerID, "conn-old")
	assert.ErrorIs(t, r.Connect(seat.PlayerID, "conn-b"), ErrAlreadyConnected)

	r.Disconnect(seat.PlayerID, "conn-a")
	assert.NoError(t, r.Connect(seat.PlayerID, "conn-b"))
}

func TestRelease_ForgetsSingleSeat(t *testing.T) {
	r := New()
	token1, seat1 := r.Issue("session-1")
	token2, seat2 := r.Issue("session-1")
	require.NoError(t, r.Connect(seat1.PlayerID, "conn-a"))

	r.Release(token1)

	_, err := r.Resolve(token1)
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.NoError(t, r.Connect(seat1.PlayerID, "conn-b"))

	// The other seat in the same session is untouched.
	resolved, err := r.Resolve(token2)
	require.NoError(t, err)
	assert.Equal(t, seat2, resolved)
}

func TestDropSession_ForgetsTokensAndClaims(t *testing.T) {
	r := New()
	token1, seat1 := r.Issue("session-1")
	token2, seat2 := r.Issue("session-2")
	require.NoError(t, r.Connect(seat1.PlayerID, "conn-a"))

	r.DropSession("session-1")

	_, err := r.Resolve(token1)
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.NoError(t, r.Connect(seat1.PlayerID, "conn-b"))

	resolved, err := r.Resolve(token2)
	require.NoError(t, err)
	assert.Equal(t, seat2, resolved)
}
