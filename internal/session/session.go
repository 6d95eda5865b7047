// Package session runs one match per goroutine. All intents for a session
// pass through a single typed inbox and are applied in arrival order, so no
// two moves are ever validated against the same state concurrently.
package session

import (
	"context"
	"errors"
	"maps"
	"math/rand"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/hopdot/hopdot-server/internal/board"
	"github.com/hopdot/hopdot-server/internal/engine"
	"github.com/hopdot/hopdot-server/pkg/proto"
)

var ErrSessionClosed = errors.New("session closed")

type Status string

const (
	StatusWaiting    Status = "waiting_for_players"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusClosed     Status = "closed"
)

type Msg interface{ isSessionMsg() }

// Join registers (or re-registers) a player connection. The session replies
// on Reply and, once the game has started, sends a full snapshot to Outbox.
type Join struct {
	PlayerID string
	Outbox   chan proto.ServerMessage
	Reply    chan JoinReply
}

func (Join) isSessionMsg() {}

type JoinReply struct {
	Reason string // empty means accepted
	Seated bool
}

// Leave marks a connection as gone. Seated players keep their seat for
// reconnection; spectators are forgotten. Outbox identifies the leaving
// connection so a stale leave cannot detach a newer reconnect.
type Leave struct {
	PlayerID string
	Outbox   chan proto.ServerMessage
}

func (Leave) isSessionMsg() {}

type Intent struct{ Move engine.Move }

func (Intent) isSessionMsg() {}

type Resign struct{ PlayerID string }

func (Resign) isSessionMsg() {}

// GetView reflects internal state without data races; test-only.
type GetView struct{ Reply chan View }

func (GetView) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type idleFire struct{ gen uint64 }

func (idleFire) isSessionMsg() {}

type View struct {
	Status    Status
	Seats     []string
	Connected int
	Seq       uint64
	State     engine.State
}

// MatchRecord is what the archiver receives when a game finishes.
type MatchRecord struct {
	SessionID  string
	Layout     board.LayoutSpec
	Seed       int64
	Winner     string
	Scores     map[string]int
	FinishedAt time.Time
}

type Archiver interface {
	SaveMatch(ctx context.Context, rec MatchRecord) error
}

// NopArchiver discards records; used when no database is configured.
type NopArchiver struct{}

func (NopArchiver) SaveMatch(context.Context, MatchRecord) error { return nil }

type Config struct {
	Players     int
	Layout      board.LayoutSpec
	Seed        int64 // 0 draws a fresh seed
	IdleTimeout time.Duration
}

type member struct {
	outbox    chan proto.ServerMessage
	seated    bool
	connected bool
}

// moveResult is the recorded outcome for one (player, seq) pair, replayed
// verbatim on duplicate submissions.
type moveResult struct {
	delta  *proto.StateDelta
	reason string
}

type Session struct {
	id       string
	cfg      Config
	seed     int64
	board    *board.Board
	log      *zap.Logger
	archiver Archiver
	onClose  func(id string)

	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc

	status   Status
	seats    []string // join order; rotation is dealt from seed at start
	members  map[string]*member
	state    engine.State
	deltaSeq uint64
	results  map[string]map[uint64]moveResult
	idleGen  uint64
}

// New validates the layout and starts the session loop. A degenerate layout
// fails here, before any player can join.
func New(parent context.Context, id string, cfg Config, log *zap.Logger, archiver Archiver, onClose func(string)) (*Session, error) {
	b, err := board.Build(cfg.Layout)
	if err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if archiver == nil {
		archiver = NopArchiver{}
	}
	if onClose == nil {
		onClose = func(string) {}
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:       id,
		cfg:      cfg,
		seed:     cfg.Seed,
		board:    b,
		log:      log.With(zap.String("session", id)),
		archiver: archiver,
		onClose:  onClose,
		inbox:    make(chan Msg, 64),
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusWaiting,
		members:  map[string]*member{},
		results:  map[string]map[uint64]moveResult{},
	}
	// A session begins with zero connected players, so the idle clock starts
	// now: one nobody ever joins is torn down like any abandoned one.
	s.armIdleTimer()
	go s.loop()
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Send delivers a message to the session loop, failing with
// ErrSessionClosed instead of touching a torn-down session.
func (s *Session) Send(m Msg) error {
	// Check for teardown first: with the inbox buffered, the select below
	// could otherwise pick the send case even after the context is done.
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.handleJoin(msg)
			case Leave:
				s.handleLeave(msg)
			case Intent:
				s.handleIntent(msg.Move)
			case Resign:
				s.handleResign(msg.PlayerID)
			case GetView:
				msg.Reply <- s.view()
			case idleFire:
				if msg.gen == s.idleGen && s.connectedCount() == 0 {
					s.log.Info("idle timeout, closing session")
					s.shutdown()
					return
				}
			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) handleJoin(msg Join) {
	if m, ok := s.members[msg.PlayerID]; ok && m.seated {
		// Reconnect: the seat survives connection churn.
		if m.outbox != nil {
			close(m.outbox)
		}
		m.outbox = msg.Outbox
		m.connected = true
		msg.Reply <- JoinReply{Seated: true}
		if s.status != StatusWaiting {
			s.unicast(m, proto.ServerMessage{Type: proto.KindSnapshot, Snapshot: s.snapshot()})
		}
		s.log.Info("player reconnected", zap.String("player", msg.PlayerID))
		return
	}

	switch s.status {
	case StatusWaiting:
		s.members[msg.PlayerID] = &member{outbox: msg.Outbox, seated: true, connected: true}
		s.seats = append(s.seats, msg.PlayerID)
		msg.Reply <- JoinReply{Seated: true}
		s.log.Info("player seated", zap.String("player", msg.PlayerID), zap.Int("seats", len(s.seats)))
		if len(s.seats) == s.cfg.Players {
			s.start()
		}
	case StatusInProgress, StatusFinished:
		// Late joiners watch: snapshot now, live deltas after.
		s.members[msg.PlayerID] = &member{outbox: msg.Outbox, connected: true}
		msg.Reply <- JoinReply{}
		s.unicast(s.members[msg.PlayerID], proto.ServerMessage{Type: proto.KindSnapshot, Snapshot: s.snapshot()})
	default:
		msg.Reply <- JoinReply{Reason: proto.ReasonSessionClosed}
	}
}

// start deals the board and turn order from the stored seed and broadcasts
// the initial snapshot. All randomness is spent here; everything after is a
// pure function of the move stream.
func (s *Session) start() {
	order := make([]string, len(s.seats))
	copy(order, s.seats)
	rand.New(rand.NewSource(s.seed)).Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	s.state = engine.NewState(s.board, order)
	s.status = StatusInProgress
	s.log.Info("game started", zap.Strings("order", order), zap.Int64("seed", s.seed))
	s.broadcast(proto.ServerMessage{Type: proto.KindSnapshot, Snapshot: s.snapshot()})
}

func (s *Session) handleLeave(msg Leave) {
	m, ok := s.members[msg.PlayerID]
	if !ok || m.outbox != msg.Outbox {
		return // stale leave from an already-replaced connection
	}
	if m.seated {
		m.connected = false
		close(m.outbox)
		m.outbox = nil
		s.log.Info("player absent", zap.String("player", msg.PlayerID))
	} else {
		close(m.outbox)
		delete(s.members, msg.PlayerID)
	}
	if s.connectedCount() == 0 {
		s.armIdleTimer()
	}
}

func (s *Session) handleIntent(mv engine.Move) {
	sender := s.members[mv.Player]
	if sender == nil {
		return
	}
	if !sender.seated {
		s.unicast(sender, rejected(mv.Seq, proto.ReasonNotOwned))
		return
	}

	if prior, ok := s.results[mv.Player][mv.Seq]; ok {
		// Idempotent retry: answer with the recorded result, mutate nothing.
		s.replayResult(sender, mv.Seq, prior)
		return
	}

	switch s.status {
	case StatusWaiting:
		s.unicast(sender, rejected(mv.Seq, proto.ReasonNotStarted))
		return
	case StatusFinished:
		s.record(mv.Player, mv.Seq, moveResult{reason: proto.ReasonGameOver})
		s.unicast(sender, rejected(mv.Seq, proto.ReasonGameOver))
		return
	}

	next, delta, err := engine.Apply(s.state, mv)
	if err != nil {
		if errors.Is(err, engine.ErrCorruptState) {
			s.log.Error("state invariant broken, closing session", zap.Error(err))
			s.broadcast(proto.ServerMessage{Type: proto.KindError, Reason: proto.ReasonInternal})
			s.shutdown()
			return
		}
		reason := reasonFor(err)
		s.record(mv.Player, mv.Seq, moveResult{reason: reason})
		s.unicast(sender, rejected(mv.Seq, reason))
		return
	}

	s.state = next
	s.deltaSeq++
	delta.Seq = s.deltaSeq
	s.record(mv.Player, mv.Seq, moveResult{delta: &delta})
	s.broadcast(proto.ServerMessage{Type: proto.KindStateDelta, Delta: &delta})
	if s.state.Phase == proto.PhaseFinished {
		s.finish()
	}
}

func (s *Session) handleResign(playerID string) {
	sender := s.members[playerID]
	if sender == nil || !sender.seated || s.status != StatusInProgress {
		return
	}
	next, delta, err := engine.Resign(s.state, playerID)
	if err != nil {
		s.unicast(sender, rejected(0, reasonFor(err)))
		return
	}
	s.state = next
	s.deltaSeq++
	delta.Seq = s.deltaSeq
	s.broadcast(proto.ServerMessage{Type: proto.KindStateDelta, Delta: &delta})
	if s.state.Phase == proto.PhaseFinished {
		s.finish()
	}
}

func (s *Session) finish() {
	s.status = StatusFinished
	rec := MatchRecord{
		SessionID:  s.id,
		Layout:     s.board.Spec(),
		Seed:       s.seed,
		Winner:     s.state.Winner,
		Scores:     maps.Clone(s.state.Scores),
		FinishedAt: time.Now().UTC(),
	}
	// Archive off-loop so a slow database never stalls move processing.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.archiver.SaveMatch(ctx, rec); err != nil {
			s.log.Warn("failed to archive match", zap.Error(err))
		}
	}()
	s.log.Info("game finished", zap.String("winner", s.state.Winner))
}

func (s *Session) replayResult(m *member, seq uint64, prior moveResult) {
	if prior.delta != nil {
		s.unicast(m, proto.ServerMessage{Type: proto.KindStateDelta, Delta: prior.delta})
		return
	}
	s.unicast(m, rejected(seq, prior.reason))
}

func (s *Session) record(player string, seq uint64, r moveResult) {
	if s.results[player] == nil {
		s.results[player] = map[uint64]moveResult{}
	}
	s.results[player][seq] = r
}

func (s *Session) snapshot() *proto.Snapshot {
	snap := &proto.Snapshot{
		Seq:       s.deltaSeq,
		Width:     s.board.Spec().Width,
		Height:    s.board.Spec().Height,
		Players:   s.state.Order,
		Occupants: maps.Clone(s.state.Occupants),
		Turn:      s.state.Turn,
		Scores:    maps.Clone(s.state.Scores),
		Phase:     s.state.Phase,
		Winner:    s.state.Winner,
	}
	if snap.Occupants == nil {
		snap.Occupants = map[proto.Position]string{}
	}
	for p := range s.state.Resigned {
		snap.Resigned = append(snap.Resigned, p)
	}
	slices.Sort(snap.Resigned)
	return snap
}

func (s *Session) view() View {
	return View{
		Status:    s.status,
		Seats:     append([]string(nil), s.seats...),
		Connected: s.connectedCount(),
		Seq:       s.deltaSeq,
		State:     s.state,
	}
}

func (s *Session) connectedCount() int {
	n := 0
	for _, m := range s.members {
		if m.connected {
			n++
		}
	}
	return n
}

func (s *Session) armIdleTimer() {
	if s.cfg.IdleTimeout <= 0 || s.status == StatusClosed {
		return
	}
	s.idleGen++
	gen := s.idleGen
	time.AfterFunc(s.cfg.IdleTimeout, func() {
		_ = s.Send(idleFire{gen: gen})
	})
}

func (s *Session) unicast(m *member, msg proto.ServerMessage) {
	if m == nil || !m.connected || m.outbox == nil {
		return
	}
	select {
	case m.outbox <- msg:
	default:
		// Slow consumer: cut the connection, the seat survives.
		s.dropMember(m)
	}
}

func (s *Session) broadcast(msg proto.ServerMessage) {
	for _, m := range s.members {
		s.unicast(m, msg)
	}
}

func (s *Session) dropMember(m *member) {
	close(m.outbox)
	m.outbox = nil
	m.connected = false
	if !m.seated {
		for id, other := range s.members {
			if other == m {
				delete(s.members, id)
				break
			}
		}
	}
	if s.connectedCount() == 0 {
		s.armIdleTimer()
	}
}

func (s *Session) shutdown() {
	if s.status == StatusClosed {
		return
	}
	s.status = StatusClosed
	s.cancel()
	s.drain()
	for id, m := range s.members {
		if m.outbox != nil {
			close(m.outbox)
		}
		delete(s.members, id)
	}
	s.onClose(s.id)
	s.log.Info("session closed")
}

// drain answers anything already queued so in-flight requests fail loudly
// instead of hanging on a dead session. Runs while member outboxes are still
// open, so queued intents get an explicit rejection before the close.
func (s *Session) drain() {
	for {
		select {
		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- JoinReply{Reason: proto.ReasonSessionClosed}
			case Intent:
				s.unicast(s.members[msg.Move.Player], rejected(msg.Move.Seq, proto.ReasonSessionClosed))
			case GetView:
				msg.Reply <- View{Status: StatusClosed}
			}
		default:
			return
		}
	}
}

func rejected(seq uint64, reason string) proto.ServerMessage {
	return proto.ServerMessage{Type: proto.KindMoveRejected, Seq: seq, Reason: reason}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrWrongTurn):
		return proto.ReasonWrongTurn
	case errors.Is(err, engine.ErrUnknownPosition):
		return proto.ReasonUnknownPos
	case errors.Is(err, engine.ErrNotOwnedBySource):
		return proto.ReasonNotOwned
	case errors.Is(err, engine.ErrNotAdjacent):
		return proto.ReasonNotAdjacent
	case errors.Is(err, engine.ErrDestinationOccupied):
		return proto.ReasonOccupied
	case errors.Is(err, engine.ErrGameOver):
		return proto.ReasonGameOver
	default:
		return proto.ReasonInternal
	}
}
