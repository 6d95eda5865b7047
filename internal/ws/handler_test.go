package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/hopdot/hopdot-server/internal/board"
	"github.com/hopdot/hopdot-server/internal/hub"
	"github.com/hopdot/hopdot-server/internal/registry"
	"github.com/hopdot/hopdot-server/internal/session"
	"github.com/hopdot/hopdot-server/pkg/proto"
)

func testServer(t *testing.T) (*httptest.Server, *registry.Registry, string) {
	t.Helper()
	h := hub.NewHub(context.Background(), zap.NewNop(), nil, nil)
	reg := registry.New()

	reply := make(chan hub.CreateReply, 1)
	h.Inbox() <- hub.CreateSession{
		Config: session.Config{Players: 2, Layout: board.LayoutSpec{Width: 2, Height: 2}},
		Reply:  reply,
	}
	created := <-reply
	if created.Err != nil {
		t.Fatalf("create session: %v", created.Err)
	}

	srv := httptest.NewServer(Handler(h, reg, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, reg, created.Session.ID()
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func sendFrame(t *testing.T, c *websocket.Conn, msg proto.ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, c *websocket.Conn) proto.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m proto.ServerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return m
}

// joinFresh performs the opening handshake without a token and returns the
// minted reconnect token.
func joinFresh(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	sendFrame(t, c, proto.ClientMessage{Type: proto.KindJoin})
	joined := readFrame(t, c)
	if joined.Type != proto.KindJoined {
		t.Fatalf("want joined, got %+v", joined)
	}
	if joined.ReconnectToken == "" {
		t.Fatalf("joined must carry a reconnect token")
	}
	return joined.ReconnectToken
}

func TestHandler_DuplicateConnectionRejected(t *testing.T) {
	srv, _, id := testServer(t)

	c1 := dial(t, srv, id)
	token := joinFresh(t, c1)

	// Same seat, second live socket: refused, and the reason says why.
	c2 := dial(t, srv, id)
	sendFrame(t, c2, proto.ClientMessage{Type: proto.KindJoin, ReconnectToken: token})
	msg := readFrame(t, c2)
	if msg.Type != proto.KindJoinRejected || msg.Reason != proto.ReasonAlreadyConnected {
		t.Fatalf("want join_rejected/already_connected, got %+v", msg)
	}
}

func TestHandler_SpectatorSeatReleasedOnDisconnect(t *testing.T) {
	srv, reg, id := testServer(t)

	c1 := dial(t, srv, id)
	playerToken := joinFresh(t, c1)
	c2 := dial(t, srv, id)
	joinFresh(t, c2)
	// Both seats filled; the game is running and both sockets got a snapshot.
	_ = readFrame(t, c1)
	_ = readFrame(t, c2)

	watcher := dial(t, srv, id)
	watcherToken := joinFresh(t, watcher)
	snap := readFrame(t, watcher)
	if snap.Type != proto.KindSnapshot {
		t.Fatalf("spectator should get a snapshot, got %+v", snap)
	}

	_ = watcher.Close(websocket.StatusNormalClosure, "")
	deadline := time.After(2 * time.Second)
	for {
		if _, err := reg.Resolve(watcherToken); errors.Is(err, registry.ErrUnknownToken) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("spectator token still registered after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A seated player's token survives its connection.
	_ = c1.Close(websocket.StatusNormalClosure, "")
	time.Sleep(50 * time.Millisecond)
	if _, err := reg.Resolve(playerToken); err != nil {
		t.Fatalf("seated token must survive disconnect: %v", err)
	}
}
