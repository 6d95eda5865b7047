// Package ws bridges websocket connections to session loops: it decodes
// client intents, enforces connection identity, and pumps server messages
// from the member outbox back onto the wire.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hopdot/hopdot-server/internal/engine"
	"github.com/hopdot/hopdot-server/internal/hub"
	"github.com/hopdot/hopdot-server/internal/registry"
	"github.com/hopdot/hopdot-server/internal/session"
	"github.com/hopdot/hopdot-server/pkg/proto"
)

const (
	writeTimeout = 5 * time.Second
	joinTimeout  = 10 * time.Second
	outboxSize   = 16
	maxBadFrames = 8
)

func Handler(h *hub.Hub, reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetSession{ID: sessionID, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		serve(r.Context(), conn, sess, reg, log)
	}
}

func serve(ctx context.Context, conn *websocket.Conn, sess *session.Session, reg *registry.Registry, log *zap.Logger) {
	// The first frame must be a join; everything else is protocol abuse.
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	_, data, err := conn.Read(joinCtx)
	cancel()
	if err != nil {
		return
	}
	var hello proto.ClientMessage
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != proto.KindJoin {
		writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindError, Reason: proto.ReasonBadMessage})
		return
	}

	var seat registry.Seat
	var token string
	fresh := false
	if hello.ReconnectToken != "" {
		seat, err = reg.Resolve(hello.ReconnectToken)
		if err != nil || seat.SessionID != sess.ID() {
			writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindJoinRejected, Reason: proto.ReasonBadMessage})
			return
		}
		token = hello.ReconnectToken
	} else {
		token, seat = reg.Issue(sess.ID())
		fresh = true
	}

	connID := uuid.NewString()
	if err := reg.Connect(seat.PlayerID, connID); err != nil {
		writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindJoinRejected, Reason: proto.ReasonAlreadyConnected})
		return
	}
	defer reg.Disconnect(seat.PlayerID, connID)

	// Freshly minted tokens stick only to players who take a seat; a
	// spectator's evaporates with the connection.
	seated := false
	defer func() {
		if fresh && !seated {
			reg.Release(token)
		}
	}()

	outbox := make(chan proto.ServerMessage, outboxSize)
	joinReply := make(chan session.JoinReply, 1)
	if err := sess.Send(session.Join{PlayerID: seat.PlayerID, Outbox: outbox, Reply: joinReply}); err != nil {
		writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindJoinRejected, Reason: proto.ReasonSessionClosed})
		return
	}
	jr := <-joinReply
	seated = jr.Seated
	if jr.Reason != "" {
		writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindJoinRejected, Reason: jr.Reason})
		return
	}
	defer func() { _ = sess.Send(session.Leave{PlayerID: seat.PlayerID, Outbox: outbox}) }()

	// Joined goes out before the writer starts so it precedes the snapshot
	// the session queued on the outbox.
	writeMsg(ctx, conn, proto.ServerMessage{
		Type:           proto.KindJoined,
		Protocol:       proto.Version,
		SessionID:      sess.ID(),
		PlayerID:       seat.PlayerID,
		ReconnectToken: token,
	})

	writeCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	go func() {
		for msg := range outbox {
			if !writeMsg(writeCtx, conn, msg) {
				return
			}
		}
		// Outbox closed: the session dropped us or shut down.
		conn.Close(websocket.StatusGoingAway, "session closed")
	}()

	badFrames := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				log.Debug("connection dropped", zap.String("player", seat.PlayerID), zap.Error(err))
			}
			return
		}

		var cm proto.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindError, Reason: proto.ReasonBadMessage})
			// One malformed frame is tolerated; a stream of them is not.
			if badFrames++; badFrames >= maxBadFrames {
				return
			}
			continue
		}

		switch cm.Type {
		case proto.KindMove:
			// Identity comes from the authenticated seat, never the frame.
			mv := engine.Move{
				Player:      seat.PlayerID,
				Seq:         cm.Seq,
				Source:      cm.Source,
				Destination: cm.Destination,
			}
			if err := sess.Send(session.Intent{Move: mv}); err != nil {
				writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindMoveRejected, Seq: cm.Seq, Reason: proto.ReasonSessionClosed})
				return
			}
		case proto.KindResign:
			if err := sess.Send(session.Resign{PlayerID: seat.PlayerID}); err != nil {
				writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindError, Reason: proto.ReasonSessionClosed})
				return
			}
		case proto.KindLeave:
			return
		case proto.KindJoin:
			writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindError, Reason: proto.ReasonBadMessage})
		default:
			writeMsg(ctx, conn, proto.ServerMessage{Type: proto.KindError, Reason: proto.ReasonBadMessage})
		}
	}
}

func writeMsg(ctx context.Context, conn *websocket.Conn, msg proto.ServerMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload) == nil
}
