// Package room is one debate room view: the turn engine, the message log and the
// room channel driven by a single event loop.
//
// Every input (local submits, clock ticks, inbound messages, channel status changes
// and backend completions) is posted to the room's inbox and handled in order,
// so the debate state is only ever touched by the loop goroutine.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"podium/cmd/internal/backend"
	"podium/cmd/internal/channel"
	"podium/cmd/internal/messagelog"
	"podium/cmd/internal/session"
	"podium/cmd/internal/turn"
	v1 "podium/shared/contracts/debate/v1"
)

var (
	ErrClosed       = errors.New("room: closed")
	ErrEmptyMessage = errors.New("room: empty message")

	// ErrRoomNotFound is returned by Open when the debate cannot be fetched.
	ErrRoomNotFound = backend.ErrRoomNotFound
)

type EventType string

const (
	EvtMessageAppended EventType = "MessageAppended"
	EvtTurnChanged     EventType = "TurnChanged"
	EvtRoundChanged    EventType = "RoundChanged"
	EvtClockExpired    EventType = "ClockExpired"
	EvtJoined          EventType = "Joined"
	EvtWentLive        EventType = "WentLive"
	EvtCompleted       EventType = "Completed"
	EvtStatus          EventType = "Status"
	EvtError           EventType = "Error"
)

// Event is what the view reacts to. For EvtTurnChanged, Speaker is the next speaker.
type Event struct {
	Type    EventType
	Message v1.Message
	Turn    v1.Slot
	Speaker v1.Participant
	Round   int
	Status  channel.StatusEvent
	Err     error
}

// View is a consistent snapshot for rendering.
type View struct {
	Debate   v1.Debate
	Messages []v1.Message
	Conn     channel.Status
	Banner   string
	Me       session.Identity
	MySlot   v1.Slot // empty unless Me holds a seat
	MyTurn   bool
}

// inbox messages
type (
	msg interface{ isRoomMsg() }

	submitReq struct {
		body  string
		reply chan submitResult
	}
	submitResult struct {
		m   v1.Message
		err error
	}
	inbound       struct{ m v1.Message }
	debateUpdated struct{ d v1.Debate }
	statusChanged struct{ ev channel.StatusEvent }
	joinDone      struct {
		p   v1.Participant
		err error
	}
	viewReq struct{ reply chan View }
)

func (submitReq) isRoomMsg()     {}
func (inbound) isRoomMsg()       {}
func (debateUpdated) isRoomMsg() {}
func (statusChanged) isRoomMsg() {}
func (joinDone) isRoomMsg()      {}
func (viewReq) isRoomMsg()       {}

// Room owns one debate view from Open to Close.
type Room struct {
	log *slog.Logger
	id  string
	me  session.Identity
	be  backend.Collaborator

	rounds     RoundPolicy
	factCheck  FactChecker
	now        func() time.Time
	ticks      <-chan time.Time
	stopTicker func()
	bannerFor  time.Duration

	// Loop-owned.
	state       turn.State
	msgs        *messagelog.Log
	ch          Channel
	conn        channel.Status
	banner      string
	bannerUntil time.Time
	ids         messageIDs

	inbox     chan msg
	events    chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open fetches the debate and its history, opens the channel and announces membership.
// A missing debate is returned as ErrRoomNotFound and nothing is left running.
// A debater who is not seated in a pending debate is joined in the background.
func Open(ctx context.Context, debateID string, me session.Identity, be backend.Collaborator, dial Dialer, log *slog.Logger, opts ...Option) (*Room, error) {
	debateID = strings.TrimSpace(debateID)
	if debateID == "" {
		return nil, fmt.Errorf("%w: empty debate id", ErrRoomNotFound)
	}
	if err := me.Validate(); err != nil {
		return nil, err
	}
	if be == nil || dial == nil {
		return nil, errors.New("room: backend and dialer are required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("debate_id", debateID)

	d, err := be.FetchDebate(ctx, debateID)
	if err != nil {
		log.Info("room.open.fail", "err", err)
		return nil, err
	}

	r := &Room{
		log:       log,
		id:        debateID,
		me:        me,
		be:        be,
		rounds:    ManualRounds{},
		factCheck: RandomFactChecker(),
		now:       time.Now,
		bannerFor: defaultBannerFor,
		state:     d,
		msgs:      messagelog.New(),
		conn:      channel.StatusConnecting,
		inbox:     make(chan msg, inboxSize),
		events:    make(chan Event, defaultEventQueue),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	hist, err := be.MessagesForDebate(ctx, debateID)
	if err != nil {
		log.Warn("room.history.fail", "err", err)
	}
	for _, m := range hist {
		if _, err := r.msgs.Append(m); err != nil {
			log.Info("room.history.skip", "err", err)
		}
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	ch, err := dial(r.ctx, log)
	if err != nil {
		r.cancel()
		return nil, err
	}
	r.ch = ch
	ch.OnMessage(func(m v1.Message) { r.post(inbound{m: m}) })
	ch.OnStatus(func(ev channel.StatusEvent) { r.post(statusChanged{ev: ev}) })
	ch.OnDebate(func(d v1.Debate) { r.post(debateUpdated{d: d}) })
	if err := ch.JoinRoom(debateID); err != nil {
		ch.Close()
		r.cancel()
		return nil, err
	}

	if r.ticks == nil {
		t := time.NewTicker(defaultTickEvery)
		r.ticks = t.C
		r.stopTicker = t.Stop
	}

	go r.loop()
	r.joinIfVacant()

	log.Info("room.open", "user_id", me.UserID, "status", d.Status, "history", r.msgs.Len())
	return r, nil
}

// ID returns the debate id.
func (r *Room) ID() string { return r.id }

// Events delivers room events until Close. Slow readers miss events rather than stall the room.
func (r *Room) Events() <-chan Event { return r.events }

// Submit composes a message from body and runs it through the turn engine. On accept the
// message is appended locally and emitted; on rejection the turn error is returned and
// nothing changes, so the caller keeps its draft.
func (r *Room) Submit(ctx context.Context, body string) (v1.Message, error) {
	reply := make(chan submitResult, 1)
	select {
	case r.inbox <- submitReq{body: body, reply: reply}:
	case <-r.ctx.Done():
		return v1.Message{}, ErrClosed
	case <-ctx.Done():
		return v1.Message{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.m, res.err
	case <-r.done:
		return v1.Message{}, ErrClosed
	case <-ctx.Done():
		return v1.Message{}, ctx.Err()
	}
}

// View returns a snapshot of the room.
func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case r.inbox <- viewReq{reply: reply}:
	case <-r.ctx.Done():
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close releases the channel and stops the clock. Backend calls still in flight
// complete, but their results are dropped. Idempotent.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
		r.log.Info("room.closed")
	})
}

func (r *Room) post(m msg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Room) joinIfVacant() {
	if !r.me.IsDebater() {
		return
	}
	d := r.state
	if _, seated := d.SlotOf(r.me.UserID); seated {
		return
	}
	if d.Status != v1.StatusPending && d.Status != v1.StatusScheduled {
		return
	}
	if !d.Debater1.Vacant() && !d.Debater2.Vacant() {
		return
	}

	p := v1.Participant{ID: r.me.UserID, Username: r.me.Username}
	go func() {
		err := r.be.JoinDebate(r.ctx, r.id, p)
		r.post(joinDone{p: p, err: err})
	}()
}

// ---- loop ----

func (r *Room) loop() {
	defer close(r.done)

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-r.ticks:
			evts, next := turn.Tick(r.state)
			r.state = next
			r.forward(evts)

		case m := <-r.inbox:
			switch m := m.(type) {
			case submitReq:
				out, err := r.submit(m.body)
				m.reply <- submitResult{m: out, err: err}
			case inbound:
				r.receive(m.m)
			case debateUpdated:
				r.mirror(m.d)
			case statusChanged:
				r.conn = m.ev.Status
				r.emit(Event{Type: EvtStatus, Status: m.ev})
			case joinDone:
				r.joined(m.p, m.err)
			case viewReq:
				m.reply <- r.snapshot()
			}
		}
	}
}

func (r *Room) shutdown() {
	r.ch.Close()
	if r.stopTicker != nil {
		r.stopTicker()
	}
	close(r.events)
}

func (r *Room) submit(body string) (v1.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return v1.Message{}, ErrEmptyMessage
	}

	now := r.now().UTC()
	m := v1.Message{
		MessageID:       r.ids.next(now),
		DebaterID:       r.me.UserID,
		DebaterName:     r.me.Username,
		Body:            body,
		Timestamp:       now,
		FactCheckStatus: r.factCheck(),
		Round:           r.state.CurrentRound,
	}

	evts, next, err := turn.Submit(r.state, turn.Submitter{UserID: r.me.UserID, Role: r.me.Role}, m)
	if err != nil {
		r.log.Info("room.submit.reject", "user_id", r.me.UserID, "err", err)
		return v1.Message{}, err
	}
	if _, err := r.msgs.Append(m); err != nil {
		return v1.Message{}, err
	}
	r.state = next

	if err := r.ch.Send(r.id, m); err != nil {
		r.log.Warn("room.send.fail", "message_id", m.MessageID, "err", err)
	}

	r.emit(Event{Type: EvtMessageAppended, Message: m})
	r.accepted(evts)
	return m, nil
}

// receive appends an inbound message. When it comes from the seat whose turn it is,
// the turn is advanced as if that debater had submitted here.
func (r *Room) receive(m v1.Message) {
	out, err := r.msgs.Append(m)
	if err != nil {
		r.log.Info("room.inbound.drop", "err", err)
		return
	}
	if out == messagelog.Duplicate {
		r.duplicate(m)
		return
	}
	r.emit(Event{Type: EvtMessageAppended, Message: m})

	if r.state.Status != v1.StatusLive || r.state.Seat(r.state.CurrentTurn).ID != m.DebaterID {
		return
	}
	evts, next, err := turn.Submit(r.state, turn.Submitter{UserID: m.DebaterID, Role: v1.RoleDebater}, m)
	if err != nil {
		r.log.Debug("room.inbound.turn_skip", "message_id", m.MessageID, "err", err)
		return
	}
	r.state = next
	r.accepted(evts)
}

// duplicate records an inbound message whose id is already in the log. The stored copy
// wins; a different author or body under the same id is reported.
func (r *Room) duplicate(m v1.Message) {
	stored, ok := r.msgs.Get(m.MessageID)
	if !ok {
		return
	}
	if stored.DebaterID != m.DebaterID || stored.Body != m.Body {
		r.log.Warn("room.inbound.id_conflict", "message_id", stored.MessageID, "stored_author", stored.DebaterID, "inbound_author", m.DebaterID)
		return
	}
	r.log.Debug("room.inbound.duplicate", "message_id", stored.MessageID)
}

func (r *Room) joined(p v1.Participant, err error) {
	if err != nil {
		r.log.Info("room.join.fail", "user_id", p.ID, "err", err)
		r.emit(Event{Type: EvtError, Err: err})
		return
	}
	evts, next, err := turn.Join(r.state, p)
	if err != nil {
		r.log.Info("room.join.reject", "user_id", p.ID, "err", err)
		r.emit(Event{Type: EvtError, Err: err})
		return
	}
	r.state = next
	r.forward(evts)
}

// mirror applies the seats and completion the server reports. Seats are replayed through
// the turn engine in slot order, which is the order the server fills them. Clock and turn
// stay local.
func (r *Room) mirror(d v1.Debate) {
	if d.ID != r.id {
		return
	}
	for _, seat := range []v1.Participant{d.Debater1, d.Debater2} {
		if seat.Vacant() {
			continue
		}
		if _, ok := r.state.SlotOf(seat.ID); ok {
			continue
		}
		evts, next, err := turn.Join(r.state, seat)
		if err != nil {
			r.log.Debug("room.mirror.skip", "user_id", seat.ID, "err", err)
			continue
		}
		r.state = next
		r.forward(evts)
	}
	if r.state.StartedAt.IsZero() && !d.StartedAt.IsZero() {
		r.state.StartedAt = d.StartedAt
	}
	if d.Status == v1.StatusCompleted && r.state.Status != v1.StatusCompleted {
		evts, next := turn.Complete(r.state)
		r.state = next
		r.forward(evts)
	}
}

// accepted runs the round policy for an accepted message, then forwards the turn events.
func (r *Room) accepted(evts []turn.Event) {
	for _, e := range evts {
		if e.Type != turn.EvtMessageAccepted {
			r.forward([]turn.Event{e})
			continue
		}
		n := r.rounds.AfterAccept(r.state, e.Slot)
		if n == r.state.CurrentRound {
			continue
		}
		revts, next, err := turn.SetRound(r.state, n)
		if err != nil {
			r.log.Warn("room.round.reject", "round", n, "err", err)
			continue
		}
		r.state = next
		r.forward(revts)
	}
}

func (r *Room) forward(evts []turn.Event) {
	for _, e := range evts {
		switch e.Type {
		case turn.EvtTurnChanged:
			name := e.Participant.Username
			if name == "" {
				name = string(e.To)
			}
			r.banner = fmt.Sprintf("It's %s's turn", name)
			r.bannerUntil = r.now().Add(r.bannerFor)
			r.emit(Event{Type: EvtTurnChanged, Turn: e.To, Speaker: e.Participant})
		case turn.EvtRoundChanged:
			r.emit(Event{Type: EvtRoundChanged, Round: e.Round})
		case turn.EvtClockExpired:
			r.log.Info("room.clock.expired", "turn", e.Slot)
			r.emit(Event{Type: EvtClockExpired, Turn: e.Slot})
		case turn.EvtParticipantJoined:
			r.emit(Event{Type: EvtJoined, Turn: e.Slot, Speaker: e.Participant})
		case turn.EvtWentLive:
			r.emit(Event{Type: EvtWentLive, Turn: e.Slot, Speaker: e.Participant})
		case turn.EvtCompleted:
			r.emit(Event{Type: EvtCompleted, Round: e.Round})
		}
	}
}

func (r *Room) emit(e Event) {
	select {
	case r.events <- e:
	default:
		r.log.Warn("room.event.drop", "type", e.Type)
	}
}

func (r *Room) snapshot() View {
	v := View{
		Debate:   r.state,
		Messages: r.msgs.All(),
		Conn:     r.conn,
		Me:       r.me,
	}
	if r.now().Before(r.bannerUntil) {
		v.Banner = r.banner
	}
	if slot, ok := r.state.SlotOf(r.me.UserID); ok && r.me.IsDebater() {
		v.MySlot = slot
		v.MyTurn = r.state.Status == v1.StatusLive && slot == r.state.CurrentTurn && r.state.TimeRemaining > 0
	}
	return v
}
