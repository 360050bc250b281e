package room

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	itypes "github.com/DoyleJ11/spin-rooms/internal/types"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

var twoOptions = []types.Option{
	{ID: "a", Label: "Alpha", Color: "#ef4444", Weight: 1},
	{ID: "b", Label: "Beta", Color: "#3b82f6", Weight: 3},
}

type fakeRecorder struct {
	mu     sync.Mutex
	wheels []string
	spins  []fairness.SpinRecord
	closed []string
}

func (f *fakeRecorder) WheelCreated(code, wheelID string, _ []types.Option) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wheels = append(f.wheels, wheelID)
}

func (f *fakeRecorder) SpinFinished(rec fairness.SpinRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spins = append(f.spins, rec)
}

func (f *fakeRecorder) RoomClosed(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, code)
}

func (f *fakeRecorder) spinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spins)
}

type client struct {
	id  string
	out chan itypes.ServerMessage
}

func newClient(id string) *client {
	return &client{id: id, out: make(chan itypes.ServerMessage, 16)}
}

func (c *client) from() From { return From{ConnID: c.id, Outbox: c.out} }

func newTestRoom(t *testing.T, cfg Config) *Room {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	if cfg.Options == nil {
		cfg.Options = twoOptions
	}
	return NewRoom(ctx, "R12345", cfg)
}

// helper: receive one message with a timeout so tests never hang
func recvMsg(t *testing.T, c *client, within time.Duration) itypes.ServerMessage {
	t.Helper()
	select {
	case m := <-c.out:
		return m
	case <-time.After(within):
		t.Fatalf("%s: timed out waiting for message", c.id)
		return itypes.ServerMessage{} // unreachable
	}
}

func recvType(t *testing.T, c *client, typ string) itypes.ServerMessage {
	t.Helper()
	m := recvMsg(t, c, 500*time.Millisecond)
	require.Equal(t, typ, m.Type, "payload: %+v", m.Payload)
	return m
}

func recvNoMsg(t *testing.T, c *client, within time.Duration) {
	t.Helper()
	select {
	case m := <-c.out:
		t.Fatalf("%s: expected no message within %v, got %+v", c.id, within, m)
	case <-time.After(within):
	}
}

func join(t *testing.T, r *Room, c *client, name string, claimOwner bool) JoinResult {
	t.Helper()
	res, err := r.Join(context.Background(), Join{From: c.from(), Name: name, ClaimOwner: claimOwner})
	require.NoError(t, err)
	return res
}

func view(t *testing.T, r *Room) View {
	t.Helper()
	v, err := r.View(context.Background())
	require.NoError(t, err)
	return v
}

func send(t *testing.T, r *Room, m Msg) {
	t.Helper()
	require.NoError(t, r.Send(context.Background(), m))
}

func waitClosed(t *testing.T, r *Room) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("room did not close")
	}
}

// alice owns, bob participates; both join snapshots and notices are drained.
func aliceAndBob(t *testing.T, cfg Config) (*Room, *client, *client) {
	t.Helper()
	r := newTestRoom(t, cfg)
	alice, bob := newClient("c-alice"), newClient("c-bob")

	res := join(t, r, alice, "Alice", true)
	require.True(t, res.IsOwner)
	recvType(t, alice, types.EvtJoined)

	res = join(t, r, bob, "Bob", false)
	require.False(t, res.IsOwner)
	recvType(t, bob, types.EvtJoined)
	recvType(t, alice, types.EvtParticipantJoined)
	return r, alice, bob
}

func TestRoom_JoinCreatesOwnerAndSnapshot(t *testing.T) {
	r := newTestRoom(t, Config{})
	alice := newClient("c-alice")

	assert.Equal(t, StateEmpty, view(t, r).State)

	res := join(t, r, alice, "Alice", true)
	require.NoError(t, res.Err)
	assert.True(t, res.IsOwner)

	snap := recvType(t, alice, types.EvtJoined).Payload.(types.Joined)
	assert.Equal(t, "R12345", snap.RoomCode)
	assert.Equal(t, "Alice", snap.Owner)
	assert.Equal(t, []string{"Alice"}, snap.Participants)
	assert.Equal(t, twoOptions, snap.WheelOptions)
	assert.True(t, snap.IsOwner)

	v := view(t, r)
	assert.Equal(t, StateActive, v.State)
	assert.Equal(t, "c-alice", v.OwnerConnID)
}

func TestRoom_SecondOwnerClaimDoesNotChangeOwner(t *testing.T) {
	r, alice, _ := aliceAndBob(t, Config{})
	carol := newClient("c-carol")

	res := join(t, r, carol, "Carol", true)
	assert.False(t, res.IsOwner)

	snap := recvType(t, carol, types.EvtJoined).Payload.(types.Joined)
	assert.Equal(t, "Alice", snap.Owner)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, snap.Participants)

	notice := recvType(t, alice, types.EvtParticipantJoined).Payload.(types.ParticipantChange)
	assert.Equal(t, "Carol", notice.DisplayName)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, notice.Participants)

	assert.Equal(t, "Alice", view(t, r).Owner)
}

func TestRoom_JoinWithoutClaimLeavesRoomOwnerless(t *testing.T) {
	r := newTestRoom(t, Config{})
	bob := newClient("c-bob")

	res := join(t, r, bob, "Bob", false)
	assert.False(t, res.IsOwner)
	assert.Empty(t, view(t, r).Owner)

	// the first claim after that wins
	alice := newClient("c-alice")
	res = join(t, r, alice, "Alice", true)
	assert.True(t, res.IsOwner)
}

func TestRoom_DuplicateNamesAreDistinctMembers(t *testing.T) {
	r := newTestRoom(t, Config{})
	a1, a2 := newClient("c1"), newClient("c2")

	join(t, r, a1, "Sam", true)
	join(t, r, a2, "Sam", false)

	v := view(t, r)
	assert.Equal(t, []string{"Sam", "Sam"}, v.Participants)
	assert.Equal(t, "c1", v.OwnerConnID)

	send(t, r, Leave{ConnID: "c2"})
	v = view(t, r)
	assert.Equal(t, StateActive, v.State)
	assert.Equal(t, []string{"Sam"}, v.Participants)
	assert.Equal(t, "c1", v.OwnerConnID)
}

func TestRoom_RejoinSameConnectionRejected(t *testing.T) {
	r := newTestRoom(t, Config{})
	alice := newClient("c-alice")
	join(t, r, alice, "Alice", true)
	recvType(t, alice, types.EvtJoined)

	res := join(t, r, alice, "Alice", true)
	assert.Error(t, res.Err)
	rej := recvType(t, alice, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "validation", rej.Code)
}

func TestRoom_OwnerLeaveClosesRoom(t *testing.T) {
	rec := &fakeRecorder{}
	closed := make(chan *Room, 1)
	r, _, bob := aliceAndBob(t, Config{Recorder: rec, OnClose: func(r *Room) { closed <- r }})

	send(t, r, Leave{ConnID: "c-alice"})

	left := recvType(t, bob, types.EvtParticipantLeft).Payload.(types.ParticipantChange)
	assert.Equal(t, "Alice", left.DisplayName)
	assert.Equal(t, []string{"Bob"}, left.Participants)

	rc := recvType(t, bob, types.EvtRoomClosed).Payload.(types.RoomClosed)
	assert.NotEmpty(t, rc.Reason)

	waitClosed(t, r)
	select {
	case got := <-closed:
		assert.Same(t, r, got)
	case <-time.After(time.Second):
		t.Fatal("OnClose not called")
	}
	assert.ErrorIs(t, r.Send(context.Background(), Chat{From: From{ConnID: "c-bob"}, Message: "hi"}), ErrRoomClosed)
	assert.Equal(t, []string{"R12345"}, rec.closed)
}

func TestRoom_NonOwnerLeaveKeepsRoom(t *testing.T) {
	r, alice, _ := aliceAndBob(t, Config{})

	send(t, r, Leave{ConnID: "c-bob"})

	left := recvType(t, alice, types.EvtParticipantLeft).Payload.(types.ParticipantChange)
	assert.Equal(t, "Bob", left.DisplayName)
	assert.Equal(t, []string{"Alice"}, left.Participants)

	v := view(t, r)
	assert.Equal(t, StateActive, v.State)
	assert.Equal(t, "Alice", v.Owner)
	assert.False(t, r.Closed())
}

func TestRoom_LastMemberLeavingClosesSilently(t *testing.T) {
	r := newTestRoom(t, Config{})
	bob := newClient("c-bob")
	join(t, r, bob, "Bob", false)
	recvType(t, bob, types.EvtJoined)

	send(t, r, Leave{ConnID: "c-bob"})
	waitClosed(t, r)
	recvNoMsg(t, bob, 50*time.Millisecond)
}

func TestRoom_UnknownLeaveIgnored(t *testing.T) {
	r, alice, bob := aliceAndBob(t, Config{})
	send(t, r, Leave{ConnID: "nobody"})

	assert.Equal(t, 2, view(t, r).NumMembers)
	recvNoMsg(t, alice, 30*time.Millisecond)
	recvNoMsg(t, bob, 30*time.Millisecond)
}

func TestRoom_ChatBroadcastToAllIncludingSender(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r, alice, bob := aliceAndBob(t, Config{Now: func() time.Time { return now }})

	send(t, r, Chat{From: bob.from(), Message: "hello"})

	for _, c := range []*client{alice, bob} {
		msg := recvType(t, c, types.EvtChatReceived).Payload.(types.ChatReceived)
		assert.Equal(t, "Bob", msg.DisplayName)
		assert.Equal(t, "hello", msg.Message)
		assert.Equal(t, now, msg.Timestamp)
	}
}

func TestRoom_ChatRejections(t *testing.T) {
	r, alice, bob := aliceAndBob(t, Config{})
	stranger := newClient("c-stranger")

	send(t, r, Chat{From: stranger.from(), Message: "let me in"})
	rej := recvType(t, stranger, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "unauthorized", rej.Code)

	send(t, r, Chat{From: bob.from(), Message: "   "})
	rej = recvType(t, bob, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "validation", rej.Code)

	recvNoMsg(t, alice, 30*time.Millisecond)
}

func TestRoom_TypingGoesToOthers(t *testing.T) {
	r, alice, bob := aliceAndBob(t, Config{})

	send(t, r, Typing{From: bob.from(), Active: true})

	got := recvType(t, alice, types.EvtTyping).Payload.(types.Typing)
	assert.Equal(t, types.Typing{DisplayName: "Bob", Active: true}, got)
	recvNoMsg(t, bob, 30*time.Millisecond)
}

func TestRoom_UpdateOptions(t *testing.T) {
	rec := &fakeRecorder{}
	r, alice, bob := aliceAndBob(t, Config{Recorder: rec})
	before := view(t, r).WheelID

	newOpts := []types.Option{
		{Label: "Pizza", Weight: 2},
		{Label: "Sushi", Weight: 1},
		{Label: "Tacos", Weight: 1},
	}
	send(t, r, UpdateOptions{From: alice.from(), Options: newOpts})

	var payloads []types.OptionsUpdated
	for _, c := range []*client{alice, bob} {
		payloads = append(payloads, recvType(t, c, types.EvtOptionsUpdated).Payload.(types.OptionsUpdated))
	}
	assert.Equal(t, payloads[0], payloads[1], "every member sees identical options")
	assert.Equal(t, "Alice", payloads[0].UpdatedBy)
	require.Len(t, payloads[0].Options, 3)
	assert.Equal(t, "Pizza", payloads[0].Options[0].Label)

	v := view(t, r)
	assert.NotEqual(t, before, v.WheelID)
	assert.Equal(t, payloads[0].WheelID, v.WheelID)
	assert.Equal(t, payloads[0].Options, v.Options)
	assert.Len(t, rec.wheels, 2, "seed wheel plus the update")
}

func TestRoom_UpdateOptionsValidation(t *testing.T) {
	r, alice, _ := aliceAndBob(t, Config{})

	send(t, r, UpdateOptions{From: alice.from(), Options: []types.Option{{Label: "only", Weight: 1}}})
	rej := recvType(t, alice, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "validation", rej.Code)

	send(t, r, UpdateOptions{From: alice.from(), Options: []types.Option{{Label: "x", Weight: 1}, {Label: "y", Weight: 0}}})
	rej = recvType(t, alice, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "validation", rej.Code)

	assert.Equal(t, twoOptions, view(t, r).Options)
}

func TestRoom_NonOwnerCannotMutate(t *testing.T) {
	r, alice, bob := aliceAndBob(t, Config{})
	before := view(t, r)

	send(t, r, UpdateOptions{From: bob.from(), Options: []types.Option{{Label: "x", Weight: 1}, {Label: "y", Weight: 1}}})
	rej := recvType(t, bob, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "unauthorized", rej.Code)

	send(t, r, SpinStart{From: bob.from()})
	rej = recvType(t, bob, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "unauthorized", rej.Code)

	send(t, r, SpinResult{From: bob.from(), SelectedLabel: "Alpha"})
	recvType(t, bob, types.EvtActionRejected)

	after := view(t, r)
	assert.Equal(t, before.Options, after.Options)
	assert.Equal(t, before.WheelID, after.WheelID)
	assert.False(t, after.SpinPending)
	assert.Equal(t, uint64(0), after.Nonce)
	recvNoMsg(t, alice, 30*time.Millisecond)
}

func TestRoom_SpinSequence(t *testing.T) {
	rec := &fakeRecorder{}
	r, alice, bob := aliceAndBob(t, Config{Recorder: rec})

	// result before any start
	send(t, r, SpinResult{From: alice.from(), SelectedLabel: "Alpha"})
	rej := recvType(t, alice, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "sequence", rej.Code)

	hints := types.VisualHints{Rotation: 1440, DurationMs: 4000}
	send(t, r, SpinStart{From: alice.from(), Hints: hints, ClientSeed: "bob's lucky seed"})

	var started types.SpinStarted
	for _, c := range []*client{alice, bob} {
		started = recvType(t, c, types.EvtSpinStarted).Payload.(types.SpinStarted)
	}
	assert.Equal(t, hints, started.VisualHints)
	assert.Equal(t, "Alice", started.SpinnerName)
	assert.Equal(t, uint64(1), started.Nonce)
	assert.Len(t, started.Commitment, 64)
	assert.True(t, view(t, r).SpinPending)

	// second start while pending
	send(t, r, SpinStart{From: alice.from()})
	rej = recvType(t, alice, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "sequence", rej.Code)

	// options are frozen while a spin is pending
	send(t, r, UpdateOptions{From: alice.from(), Options: []types.Option{{Label: "x", Weight: 1}, {Label: "y", Weight: 1}}})
	rej = recvType(t, alice, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "sequence", rej.Code)

	send(t, r, SpinResult{From: alice.from(), SelectedLabel: "whatever the client drew"})

	var finished types.SpinFinished
	for _, c := range []*client{alice, bob} {
		finished = recvType(t, c, types.EvtSpinFinished).Payload.(types.SpinFinished)
	}
	p := finished.Proof
	assert.Equal(t, started.ClientSeed, p.ClientSeed)
	assert.Equal(t, started.Nonce, p.Nonce)
	assert.Equal(t, started.Commitment, fairness.Commit(p.ServerSeed), "reveal matches commitment")
	assert.True(t, fairness.Verify(p.ServerSeed, p.ClientSeed, p.Nonce, p.CombinedHash, p.ResultValue))

	wantID, err := fairness.SelectOption(p.ResultValue, []fairness.Weighted{{ID: "a", Weight: 1}, {ID: "b", Weight: 3}})
	require.NoError(t, err)
	assert.Equal(t, wantID, finished.OptionID)
	if wantID == "a" {
		assert.Equal(t, "Alpha", finished.SelectedLabel)
	} else {
		assert.Equal(t, "Beta", finished.SelectedLabel)
	}

	// exactly one result per start
	send(t, r, SpinResult{From: alice.from(), SelectedLabel: "Alpha"})
	rej = recvType(t, alice, types.EvtActionRejected).Payload.(types.ActionRejected)
	assert.Equal(t, "sequence", rej.Code)

	require.Eventually(t, func() bool { return rec.spinCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, rec.spins[0].Verify())
	assert.Equal(t, "R12345", rec.spins[0].RoomCode)
	assert.Equal(t, "Alice", rec.spins[0].Spinner)
}

func TestRoom_SpinHintsAreBounded(t *testing.T) {
	r, alice, bob := aliceAndBob(t, Config{})

	for _, h := range []types.VisualHints{
		{Rotation: 720, DurationMs: -1},
		{Rotation: 720, DurationMs: MaxSpinMillis + 1},
		{Rotation: -90, DurationMs: 4000},
		{Rotation: math.Inf(1), DurationMs: 4000},
		{Rotation: math.NaN(), DurationMs: 4000},
	} {
		send(t, r, SpinStart{From: alice.from(), Hints: h})
		rej := recvType(t, alice, types.EvtActionRejected).Payload.(types.ActionRejected)
		assert.Equal(t, "validation", rej.Code, "hints %+v", h)
	}
	recvNoMsg(t, bob, 30*time.Millisecond)
	assert.False(t, view(t, r).SpinPending)

	send(t, r, SpinStart{From: alice.from(), Hints: types.VisualHints{Rotation: MaxRotation, DurationMs: MaxSpinMillis}})
	recvType(t, bob, types.EvtSpinStarted)
}

func TestRoom_NonceIncreasesAndResetsWithNewWheel(t *testing.T) {
	r, alice, _ := aliceAndBob(t, Config{})

	spin := func() uint64 {
		send(t, r, SpinStart{From: alice.from()})
		started := recvType(t, alice, types.EvtSpinStarted).Payload.(types.SpinStarted)
		send(t, r, SpinResult{From: alice.from()})
		recvType(t, alice, types.EvtSpinFinished)
		return started.Nonce
	}

	assert.Equal(t, uint64(1), spin())
	assert.Equal(t, uint64(2), spin())
	assert.Equal(t, uint64(3), spin())

	send(t, r, UpdateOptions{From: alice.from(), Options: []types.Option{{Label: "x", Weight: 1}, {Label: "y", Weight: 1}}})
	recvType(t, alice, types.EvtOptionsUpdated)
	assert.Equal(t, uint64(1), spin())
}

func TestRoom_OwnerLeavingMidSpinCancelsIt(t *testing.T) {
	rec := &fakeRecorder{}
	r, alice, bob := aliceAndBob(t, Config{Recorder: rec})

	send(t, r, SpinStart{From: alice.from()})
	recvType(t, bob, types.EvtSpinStarted)

	send(t, r, Leave{ConnID: "c-alice"})
	recvType(t, bob, types.EvtParticipantLeft)
	recvType(t, bob, types.EvtRoomClosed)
	waitClosed(t, r)

	recvNoMsg(t, bob, 30*time.Millisecond)
	assert.Equal(t, 0, rec.spinCount())
}

func TestRoom_SlowMemberIsEvicted(t *testing.T) {
	r, alice, _ := aliceAndBob(t, Config{})

	kicked := make(chan struct{})
	slow := &client{id: "c-slow", out: make(chan itypes.ServerMessage, 1)}
	_, err := r.Join(context.Background(), Join{From: slow.from(), Name: "Slow", Kick: func() { close(kicked) }})
	require.NoError(t, err)
	recvType(t, alice, types.EvtParticipantJoined)

	// slow's buffer already holds the joined snapshot
	send(t, r, Chat{From: alice.from(), Message: "one"})

	select {
	case <-kicked:
	case <-time.After(time.Second):
		t.Fatal("slow member was not kicked")
	}

	recvType(t, alice, types.EvtChatReceived)
	left := recvType(t, alice, types.EvtParticipantLeft).Payload.(types.ParticipantChange)
	assert.Equal(t, "Slow", left.DisplayName)
	assert.Equal(t, 2, view(t, r).NumMembers)
}

func TestRoom_EmptyRoomExpires(t *testing.T) {
	r := newTestRoom(t, Config{EmptyTTL: 20 * time.Millisecond})
	waitClosed(t, r)
}

func TestRoom_ShutdownNotifiesMembers(t *testing.T) {
	r, alice, bob := aliceAndBob(t, Config{})

	r.Close("maintenance")

	for _, c := range []*client{alice, bob} {
		rc := recvType(t, c, types.EvtRoomClosed).Payload.(types.RoomClosed)
		assert.Equal(t, "maintenance", rc.Reason)
	}
	waitClosed(t, r)
}

func TestRoom_PanicClosesOnlyThatRoom(t *testing.T) {
	r, alice, bob := aliceAndBob(t, Config{
		Now: func() time.Time { panic("clock exploded") },
	})
	other, otherAlice, _ := aliceAndBob(t, Config{})

	send(t, r, Chat{From: bob.from(), Message: "boom"})

	for _, c := range []*client{alice, bob} {
		rc := recvType(t, c, types.EvtRoomClosed).Payload.(types.RoomClosed)
		assert.Equal(t, closedInternal, rc.Reason)
	}
	waitClosed(t, r)

	assert.False(t, other.Closed())
	send(t, other, Chat{From: otherAlice.from(), Message: "still here"})
	recvType(t, otherAlice, types.EvtChatReceived)
}
