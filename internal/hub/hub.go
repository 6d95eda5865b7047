// Package hub owns the arena of live sessions. A single goroutine serializes
// arena mutations; each session runs its own loop and shares nothing with
// its siblings.
package hub

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hopdot/hopdot-server/internal/session"
)

type HubMsg interface{ isHubMsg() }

// CreateSession spins up a new session with a fresh id. Reply carries the
// session, or an error when the layout is rejected.
type CreateSession struct {
	Config session.Config
	Reply  chan CreateReply
}

type CreateReply struct {
	Session *session.Session
	Err     error
}

type GetSession struct {
	ID    string
	Reply chan *session.Session
}

type RemoveSession struct{ ID string }

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	log      *zap.Logger
	archiver session.Archiver
	onRemove func(id string) // e.g. registry cleanup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger, archiver session.Archiver, onRemove func(id string)) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if onRemove == nil {
		onRemove = func(string) {}
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		log:      log,
		archiver: archiver,
		onRemove: onRemove,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				id := uuid.NewString()
				// Closed sessions remove themselves from the arena.
				onClose := func(id string) {
					select {
					case h.inbox <- RemoveSession{ID: id}:
					case <-h.ctx.Done():
					}
				}
				sess, err := session.New(h.ctx, id, msg.Config, h.log, h.archiver, onClose)
				if err != nil {
					msg.Reply <- CreateReply{Err: err}
					break
				}
				h.sessions[id] = sess
				h.log.Info("session created", zap.String("session", id))
				msg.Reply <- CreateReply{Session: sess}

			case GetSession:
				msg.Reply <- h.sessions[msg.ID] // may be nil

			case RemoveSession:
				delete(h.sessions, msg.ID)
				h.onRemove(msg.ID)

			case ShutdownHub:
				for _, sess := range h.sessions {
					_ = sess.Send(session.Shutdown{})
				}
				clear(h.sessions)
				h.cancel()
			}
		}
	}
}
