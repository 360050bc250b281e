package room

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/spin-rooms/internal/apperr"
	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	itypes "github.com/DoyleJ11/spin-rooms/internal/types"
	"github.com/DoyleJ11/spin-rooms/internal/wheel"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

func (r *Room) loop() {
	defer r.finish()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("room actor panicked", zap.Any("panic", p), zap.Stack("stack"))
			r.closeRoom(closedInternal)
		}
	}()

	emptyTimer := time.NewTimer(r.emptyTTL)
	defer emptyTimer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.closeRoom(closedShutdown)
			return

		case <-emptyTimer.C:
			if r.state == StateEmpty {
				r.log.Info("closing room that was never joined")
				r.closeRoom("")
				return
			}

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.join(msg)
				if r.state == StateActive {
					emptyTimer.Stop()
				}
			case Leave:
				r.leave(msg.ConnID)
			case Chat:
				r.chat(msg)
			case Typing:
				r.typing(msg)
			case UpdateOptions:
				r.updateOptions(msg)
			case SpinStart:
				r.spinStart(msg)
			case SpinResult:
				r.spinResult(msg)
			case GetState:
				// read inside the actor so callers never see a torn state
				msg.Reply <- r.view()
			case Shutdown:
				reason := msg.Reason
				if reason == "" {
					reason = closedShutdown
				}
				r.closeRoom(reason)
			}

			r.drainEvictions()
			if r.state == StateClosed {
				return
			}
		}
	}
}

func (r *Room) finish() {
	r.state = StateClosed
	r.cancel()
	r.recorder.RoomClosed(r.code)
	if r.onClose != nil {
		r.onClose(r)
	}
	close(r.done)
	r.log.Info("room closed")
}

func (r *Room) join(m Join) {
	reply := func(res JoinResult) {
		if m.Reply != nil {
			m.Reply <- res
		}
	}

	if r.member(m.ConnID) != nil {
		err := fmt.Errorf("%w: connection already joined this room", apperr.ErrValidation)
		r.reject(m.From, err)
		reply(JoinResult{Err: err})
		return
	}

	if r.state == StateEmpty {
		r.state = StateActive
	}
	if m.ClaimOwner && r.ownerConn == "" {
		r.owner = m.Name
		r.ownerConn = m.ConnID
	}

	mem := &member{connID: m.ConnID, name: m.Name, out: m.Outbox, kick: m.Kick}
	r.members = append(r.members, mem)
	isOwner := r.ownerConn == m.ConnID

	participants := r.participants()
	r.deliver(mem, itypes.ServerMessage{Type: types.EvtJoined, Payload: types.Joined{
		RoomCode:     r.code,
		Owner:        r.owner,
		Participants: participants,
		WheelOptions: wheel.Clone(r.options),
		WheelID:      r.wheelID,
		IsOwner:      isOwner,
	}})
	r.broadcast(itypes.ServerMessage{Type: types.EvtParticipantJoined, Payload: types.ParticipantChange{
		DisplayName:  m.Name,
		Participants: participants,
	}}, m.ConnID)

	r.log.Info("participant joined",
		zap.String("conn", m.ConnID),
		zap.String("name", m.Name),
		zap.Bool("owner", isOwner),
		zap.Int("participants", len(r.members)),
	)
	reply(JoinResult{IsOwner: isOwner})
}

func (r *Room) leave(connID string) {
	idx := r.memberIndex(connID)
	if idx < 0 {
		return
	}
	mem := r.members[idx]
	r.members = append(r.members[:idx], r.members[idx+1:]...)

	r.broadcast(itypes.ServerMessage{Type: types.EvtParticipantLeft, Payload: types.ParticipantChange{
		DisplayName:  mem.name,
		Participants: r.participants(),
	}}, "")
	r.log.Info("participant left", zap.String("conn", connID), zap.String("name", mem.name))

	switch {
	case connID == r.ownerConn:
		r.log.Info("owner left, closing room", zap.Bool("spin_pending", r.pending != nil))
		r.closeRoom(closedByOwner)
	case len(r.members) == 0:
		r.closeRoom("")
	}
}

func (r *Room) chat(m Chat) {
	mem := r.member(m.ConnID)
	if mem == nil {
		r.reject(m.From, errNotMember)
		return
	}
	if err := validateChat(m.Message); err != nil {
		r.reject(m.From, err)
		return
	}
	r.broadcast(itypes.ServerMessage{Type: types.EvtChatReceived, Payload: types.ChatReceived{
		DisplayName: mem.name,
		Message:     m.Message,
		Timestamp:   r.now().UTC(),
	}}, "")
}

func (r *Room) typing(m Typing) {
	mem := r.member(m.ConnID)
	if mem == nil {
		r.reject(m.From, errNotMember)
		return
	}
	r.broadcast(itypes.ServerMessage{Type: types.EvtTyping, Payload: types.Typing{
		DisplayName: mem.name,
		Active:      m.Active,
	}}, m.ConnID)
}

func (r *Room) updateOptions(m UpdateOptions) {
	mem, err := r.requireOwner(m.ConnID, "update the wheel")
	if err != nil {
		r.reject(m.From, err)
		return
	}
	if r.pending != nil {
		r.reject(m.From, fmt.Errorf("%w: cannot change the wheel while a spin is in progress", apperr.ErrSequence))
		return
	}
	opts, err := wheel.Normalize(m.Options)
	if err != nil {
		r.reject(m.From, err)
		return
	}

	// a new option set is a new wheel; nonces restart for it
	r.options = opts
	r.wheelID = uuid.NewString()
	r.nonce = 0

	r.broadcast(itypes.ServerMessage{Type: types.EvtOptionsUpdated, Payload: types.OptionsUpdated{
		Options:   wheel.Clone(opts),
		UpdatedBy: mem.name,
		WheelID:   r.wheelID,
	}}, "")
	r.recorder.WheelCreated(r.code, r.wheelID, wheel.Clone(opts))
	r.log.Info("wheel options updated", zap.String("wheel", r.wheelID), zap.Int("options", len(opts)))
}

func (r *Room) spinStart(m SpinStart) {
	mem, err := r.requireOwner(m.ConnID, "spin the wheel")
	if err != nil {
		r.reject(m.From, err)
		return
	}
	if r.pending != nil {
		r.reject(m.From, fmt.Errorf("%w: a spin is already in progress", apperr.ErrSequence))
		return
	}
	if err := validateHints(m.Hints); err != nil {
		r.reject(m.From, err)
		return
	}

	serverSeed, err := fairness.GenerateSeed()
	if err != nil {
		r.log.Error("generate server seed", zap.Error(err))
		r.reject(m.From, fmt.Errorf("%w: could not start spin", apperr.ErrInternal))
		return
	}
	clientSeed, err := fairness.DeriveClientSeed(m.ClientSeed)
	if err != nil {
		r.log.Error("derive client seed", zap.Error(err))
		r.reject(m.From, fmt.Errorf("%w: could not start spin", apperr.ErrInternal))
		return
	}

	nonce := r.nonce + 1
	out, err := fairness.Spin(serverSeed, clientSeed, nonce, wheel.Weights(r.options))
	if err != nil {
		r.log.Error("spin", zap.Error(err))
		r.reject(m.From, fmt.Errorf("%w: could not start spin", apperr.ErrInternal))
		return
	}
	opt, _ := wheel.Find(r.options, out.OptionID)
	r.nonce = nonce

	now := r.now().UTC()
	r.pending = &fairness.SpinRecord{
		ID:           uuid.NewString(),
		RoomCode:     r.code,
		WheelID:      r.wheelID,
		Spinner:      mem.name,
		ServerSeed:   out.ServerSeed,
		ClientSeed:   out.ClientSeed,
		Nonce:        out.Nonce,
		CombinedHash: out.CombinedHash,
		ResultValue:  out.ResultValue,
		OptionID:     opt.ID,
		OptionLabel:  opt.Label,
		CreatedAt:    now,
	}

	r.broadcast(itypes.ServerMessage{Type: types.EvtSpinStarted, Payload: types.SpinStarted{
		VisualHints: m.Hints,
		SpinnerName: mem.name,
		Timestamp:   now,
		Commitment:  fairness.Commit(serverSeed),
		ClientSeed:  clientSeed,
		Nonce:       nonce,
	}}, "")
	r.log.Info("spin started", zap.Uint64("nonce", nonce), zap.String("wheel", r.wheelID))
}

func (r *Room) spinResult(m SpinResult) {
	mem, err := r.requireOwner(m.ConnID, "finish a spin")
	if err != nil {
		r.reject(m.From, err)
		return
	}
	if r.pending == nil {
		r.reject(m.From, fmt.Errorf("%w: no spin in progress", apperr.ErrSequence))
		return
	}

	rec := *r.pending
	if m.SelectedLabel != "" && m.SelectedLabel != rec.OptionLabel {
		r.log.Warn("client reported a different spin result",
			zap.String("reported", m.SelectedLabel),
			zap.String("outcome", rec.OptionLabel),
		)
	}

	r.broadcast(itypes.ServerMessage{Type: types.EvtSpinFinished, Payload: types.SpinFinished{
		SelectedLabel: rec.OptionLabel,
		OptionID:      rec.OptionID,
		SpinnerName:   mem.name,
		Timestamp:     r.now().UTC(),
		Proof: types.SpinProof{
			ServerSeed:   rec.ServerSeed,
			ClientSeed:   rec.ClientSeed,
			Nonce:        rec.Nonce,
			CombinedHash: rec.CombinedHash,
			ResultValue:  rec.ResultValue,
		},
	}}, "")
	r.pending = nil

	r.recorder.SpinFinished(rec)
	r.log.Info("spin finished", zap.String("spin", rec.ID), zap.String("option", rec.OptionLabel))
}

var errNotMember = fmt.Errorf("%w: not a member of this room", apperr.ErrUnauthorized)

func (r *Room) requireOwner(connID, action string) (*member, error) {
	mem := r.member(connID)
	if mem == nil {
		return nil, errNotMember
	}
	if connID != r.ownerConn {
		return nil, fmt.Errorf("%w: only the room owner can %s", apperr.ErrUnauthorized, action)
	}
	return mem, nil
}

// closeRoom moves to StateClosed. A non-empty reason is sent to every
// remaining member as room-closed, which also cancels any pending spin.
func (r *Room) closeRoom(reason string) {
	if r.state == StateClosed {
		return
	}
	if reason != "" {
		r.broadcast(itypes.ServerMessage{Type: types.EvtRoomClosed, Payload: types.RoomClosed{Reason: reason}}, "")
	}
	r.state = StateClosed
	r.owner = ""
	r.ownerConn = ""
	r.pending = nil
	r.members = nil
	r.evictions = nil
}

func (r *Room) reject(from From, err error) {
	if from.Outbox == nil {
		return
	}
	msg := itypes.ServerMessage{Type: types.EvtActionRejected, Payload: types.ActionRejected{
		Code:   apperr.Code(err),
		Reason: err.Error(),
	}}
	select {
	case from.Outbox <- msg:
	default:
		r.log.Debug("dropped rejection for slow connection", zap.String("conn", from.ConnID))
	}
	r.log.Debug("action rejected", zap.String("conn", from.ConnID), zap.Error(err))
}

func (r *Room) broadcast(msg itypes.ServerMessage, except string) {
	for _, m := range r.members {
		if m.connID == except {
			continue
		}
		r.deliver(m, msg)
	}
}

// deliver never blocks. A member whose outbox is full is evicted once the
// current message has been handled.
func (r *Room) deliver(m *member, msg itypes.ServerMessage) {
	if m.evicted {
		return
	}
	select {
	case m.out <- msg:
	default:
		m.evicted = true
		r.evictions = append(r.evictions, m.connID)
	}
}

func (r *Room) drainEvictions() {
	for len(r.evictions) > 0 && r.state != StateClosed {
		id := r.evictions[0]
		r.evictions = r.evictions[1:]

		mem := r.member(id)
		if mem == nil {
			continue
		}
		r.log.Warn("evicting slow member", zap.String("conn", id), zap.String("name", mem.name))
		if mem.kick != nil {
			mem.kick()
		}
		r.leave(id)
	}
}

func (r *Room) view() View {
	return View{
		Code:         r.code,
		State:        r.state,
		Owner:        r.owner,
		OwnerConnID:  r.ownerConn,
		Participants: r.participants(),
		Options:      wheel.Clone(r.options),
		WheelID:      r.wheelID,
		Nonce:        r.nonce,
		SpinPending:  r.pending != nil,
		NumMembers:   len(r.members),
	}
}

// participants lists display names in join order. Names are not unique:
// members are keyed by connection.
func (r *Room) participants() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.name)
	}
	return names
}

func (r *Room) member(connID string) *member {
	if i := r.memberIndex(connID); i >= 0 {
		return r.members[i]
	}
	return nil
}

func (r *Room) memberIndex(connID string) int {
	for i, m := range r.members {
		if m.connID == connID {
			return i
		}
	}
	return -1
}
