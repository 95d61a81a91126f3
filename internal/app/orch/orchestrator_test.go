package orch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	err    error
	panics bool
	closed bool
}

func (s *fakeSignal) TrySend(f core.Frame) error {
	if s.panics {
		panic("socket exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSignal) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSignal) events(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		var msg struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(f, &msg))
		out = append(out, msg.Event)
	}
	return out
}

func (s *fakeSignal) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// tokens map credential -> identity
type fakeResolver map[string]*domain.Identity

func (r fakeResolver) Resolve(_ context.Context, credential string) (*domain.Identity, error) {
	if credential == "" {
		return nil, domain.ErrCredentialMissing
	}
	id, ok := r[credential]
	if !ok {
		return nil, domain.ErrCredentialInvalid
	}
	return id, nil
}

type chanAudit struct {
	ch  chan app.AuditEvent
	err error
}

func (a *chanAudit) Record(_ context.Context, ev app.AuditEvent) error {
	a.ch <- ev
	return a.err
}

func newOrchestrator() *orch.Orchestrator {
	return &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
		Resolver: fakeResolver{
			"tok-42":  domain.NewIdentity("42", domain.RoleCustomer, nil),
			"tok-43":  domain.NewIdentity("43", domain.RoleCustomer, nil),
			"tok-m9":  domain.NewIdentity("m-9", domain.RoleMerchant, nil),
			"tok-d1":  domain.NewIdentity("d-1", domain.RoleDriver, nil),
			"tok-eml": domain.NewIdentity("alice@example.com", domain.RoleCustomer, nil),
			"tok-adm": domain.NewIdentity("a-1", domain.RoleAdmin, []domain.Permission{{Action: "join", Resource: "*"}}),
		},
		Binder:     app.PersonalRoomBinder{},
		Authorizer: app.PermissionAuthorizer{},
	}
}

func connect(t *testing.T, o *orch.Orchestrator, credential string) (*core.Connection, *fakeSignal) {
	t.Helper()
	conn, err := o.Admit(context.Background(), credential)
	require.NoError(t, err)
	sig := &fakeSignal{}
	require.NoError(t, conn.Attach(sig))
	require.NoError(t, o.Activate(conn.ID()))
	return conn, sig
}

func TestAdmit_RejectsBadCredential(t *testing.T) {
	o := newOrchestrator()

	_, err := o.Admit(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrCredentialMissing)

	_, err = o.Admit(context.Background(), "garbage")
	assert.ErrorIs(t, err, domain.ErrCredentialInvalid)

	assert.Equal(t, 0, o.Registry.Count())
	assert.Equal(t, 0, o.Rooms.Len())
}

func TestActivate_JoinsPersonalRoom(t *testing.T) {
	o := newOrchestrator()
	conn, _ := connect(t, o, "tok-42")

	assert.Equal(t, core.StateActive, conn.State())
	assert.Equal(t, []domain.RoomName{"customer:42"}, o.RoomsOf(conn.ID()))
	assert.Equal(t, []core.ConnectionID{conn.ID()}, o.MembersOf("customer:42"))
}

func TestActivate_StoreIDWithPunctuation(t *testing.T) {
	o := newOrchestrator()
	conn, sig := connect(t, o, "tok-eml")

	room := domain.CustomerRoom("alice@example.com")
	assert.Equal(t, []domain.RoomName{room}, o.RoomsOf(conn.ID()))
	res, err := o.Dispatch(context.Background(), core.Envelope{Event: "wallet:credited", Target: core.ToRoom(room)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Len(t, sig.events(t), 1)
}

type staticBinder []domain.RoomName

func (b staticBinder) InitialRooms(*domain.Identity) []domain.RoomName { return b }

func TestActivate_FailedJoinUndoesEarlierJoins(t *testing.T) {
	o := newOrchestrator()
	o.Binder = staticBinder{"customer:42", "order:1001", "bad room"}
	conn, err := o.Admit(context.Background(), "tok-42")
	require.NoError(t, err)
	require.NoError(t, conn.Attach(&fakeSignal{}))

	err = o.Activate(conn.ID())
	assert.ErrorIs(t, err, domain.ErrInvalidRoomName)
	assert.Equal(t, core.StateAuthenticated, conn.State())
	assert.Empty(t, o.RoomsOf(conn.ID()))
	assert.Equal(t, 0, o.Rooms.Len())

	o.OnDisconnect(conn.ID())
	assert.Equal(t, 0, o.Registry.Count())
}

func TestActivate_UnknownConnection(t *testing.T) {
	o := newOrchestrator()
	assert.ErrorIs(t, o.Activate("nope"), domain.ErrConnectionNotFound)
}

func TestDispatch_RoomFanOut(t *testing.T) {
	o := newOrchestrator()
	const n = 25
	sigs := make([]*fakeSignal, n)
	for i := range n {
		conn, sig := connect(t, o, "tok-m9")
		require.NoError(t, o.Join(conn.ID(), "order:1001"))
		sigs[i] = sig
	}

	res, err := o.Dispatch(context.Background(), core.Envelope{
		Event:   domain.EventOrderUpdated,
		Payload: map[string]string{"status": "ready"},
		Target:  core.ToRoom("order:1001"),
	})
	require.NoError(t, err)
	assert.Equal(t, n, res.Delivered)
	assert.Empty(t, res.Failed)
	for _, s := range sigs {
		assert.Equal(t, []string{domain.EventOrderUpdated}, s.events(t))
	}
}

func TestDispatch_EmptyRoom(t *testing.T) {
	o := newOrchestrator()
	res, err := o.Dispatch(context.Background(), core.Envelope{Event: "x", Target: core.ToRoom("order:404")})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempts())
}

func TestDispatch_InvalidEnvelope(t *testing.T) {
	o := newOrchestrator()

	_, err := o.Dispatch(context.Background(), core.Envelope{Target: core.ToRoom("order:1")})
	assert.ErrorIs(t, err, core.ErrInvalidEnvelope)

	_, err = o.Dispatch(context.Background(), core.Envelope{Event: "x", Target: core.ToRoom("bad room")})
	assert.Error(t, err)
}

func TestDispatch_FailureIsolation(t *testing.T) {
	o := newOrchestrator()
	o.Policy = app.DropPolicy{}

	good1, s1 := connect(t, o, "tok-42")
	bad, sBad := connect(t, o, "tok-43")
	exploding, sBoom := connect(t, o, "tok-d1")
	good2, s2 := connect(t, o, "tok-m9")
	sBad.err = errors.New("broken pipe")
	sBoom.panics = true
	for _, c := range []*core.Connection{good1, bad, exploding, good2} {
		require.NoError(t, o.Join(c.ID(), "ride:77"))
	}

	res, err := o.Dispatch(context.Background(), core.Envelope{Event: domain.EventRideLocation, Target: core.ToRoom("ride:77")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	require.Len(t, res.Failed, 2)

	failed := map[core.ConnectionID]error{}
	for _, f := range res.Failed {
		failed[f.Connection] = f.Err
	}
	assert.Contains(t, failed, bad.ID())
	assert.Contains(t, failed, exploding.ID())
	assert.Len(t, s1.events(t), 1)
	assert.Len(t, s2.events(t), 1)
}

func TestDispatch_SingleConnection(t *testing.T) {
	o := newOrchestrator()
	conn, sig := connect(t, o, "tok-42")

	res, err := o.Dispatch(context.Background(), core.Envelope{Event: "wallet:credited", Target: core.ToConnection(conn.ID())})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []string{"wallet:credited"}, sig.events(t))

	res, err = o.Dispatch(context.Background(), core.Envelope{Event: "wallet:credited", Target: core.ToConnection("gone")})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Delivered)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, domain.ErrConnectionNotFound)
}

func TestDispatch_PreservesOrderPerConnection(t *testing.T) {
	o := newOrchestrator()
	conn, sig := connect(t, o, "tok-42")
	require.NoError(t, o.Join(conn.ID(), "order:9"))

	var want []string
	for i := range 50 {
		ev := fmt.Sprintf("order:step%d", i)
		want = append(want, ev)
		_, err := o.Dispatch(context.Background(), core.Envelope{Event: ev, Target: core.ToRoom("order:9")})
		require.NoError(t, err)
	}
	assert.Equal(t, want, sig.events(t))
}

func TestDispatch_NotActiveIsNeverDelivered(t *testing.T) {
	o := newOrchestrator()
	conn, err := o.Admit(context.Background(), "tok-42")
	require.NoError(t, err)
	sig := &fakeSignal{}
	require.NoError(t, conn.Attach(sig))

	res, err := o.Dispatch(context.Background(), core.Envelope{Event: "x", Target: core.ToConnection(conn.ID())})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, core.ErrNotActive)
	assert.Empty(t, sig.events(t))
}

func TestDispatch_BackpressureKicks(t *testing.T) {
	o := newOrchestrator()
	slow, sig := connect(t, o, "tok-42")
	sig.err = core.ErrBackpressure

	res, err := o.Dispatch(context.Background(), core.Envelope{Event: "x", Target: core.ToRoom("customer:42")})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)

	assert.Equal(t, core.StateClosed, slow.State())
	assert.True(t, sig.isClosed())
	assert.Empty(t, o.RoomsOf(slow.ID()))
	_, ok := o.Registry.Get(slow.ID())
	assert.False(t, ok)
}

func TestDispatch_BackpressureDropKeepsConnection(t *testing.T) {
	o := newOrchestrator()
	o.Policy = app.DropPolicy{}
	slow, sig := connect(t, o, "tok-42")
	sig.err = core.ErrBackpressure

	_, err := o.Dispatch(context.Background(), core.Envelope{Event: "x", Target: core.ToRoom("customer:42")})
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, slow.State())
}

func TestDispatch_HooksSeeResultAndPanicsAreContained(t *testing.T) {
	o := newOrchestrator()
	stats := app.NewStats()
	var seen []core.DispatchResult
	o.Hooks = []app.DispatchHook{
		app.DispatchHookFunc(func(context.Context, core.Envelope, core.DispatchResult) { panic("bad hook") }),
		stats,
		app.DispatchHookFunc(func(_ context.Context, _ core.Envelope, res core.DispatchResult) { seen = append(seen, res) }),
	}
	connect(t, o, "tok-42")

	res, err := o.Dispatch(context.Background(), core.Envelope{Event: "x", Target: core.ToRoom("customer:42")})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, res.Delivered, seen[0].Delivered)
	assert.Equal(t, int64(1), stats.Snapshot().Delivered)
}

func TestOnDisconnect_Idempotent(t *testing.T) {
	o := newOrchestrator()
	conn, sig := connect(t, o, "tok-42")
	require.NoError(t, o.Join(conn.ID(), "order:1"))
	require.NoError(t, o.Join(conn.ID(), "order:2"))

	o.OnDisconnect(conn.ID())
	o.OnDisconnect(conn.ID())

	assert.Equal(t, core.StateClosed, conn.State())
	assert.True(t, sig.isClosed())
	assert.Equal(t, 0, o.Rooms.Len())
	assert.Equal(t, 0, o.Registry.Count())
	assert.False(t, o.Kick(conn.ID(), "again"))
}

// closeHookSignal observes the orchestrator from inside Close, which runs mid-disconnect.
type closeHookSignal struct {
	fakeSignal
	onClose func()
}

func (s *closeHookSignal) Close() {
	s.fakeSignal.Close()
	if s.onClose != nil {
		s.onClose()
	}
}

func TestOnDisconnect_ClosesBeforeLeavingRooms(t *testing.T) {
	o := newOrchestrator()
	conn, err := o.Admit(context.Background(), "tok-42")
	require.NoError(t, err)
	sig := &closeHookSignal{}
	require.NoError(t, conn.Attach(sig))
	require.NoError(t, o.Activate(conn.ID()))

	var (
		roomsAtClose []domain.RoomName
		toConn       core.DispatchResult
		toRoom       core.DispatchResult
	)
	sig.onClose = func() {
		roomsAtClose = o.RoomsOf(conn.ID())
		toConn, _ = o.Dispatch(context.Background(), core.Envelope{Event: "x", Target: core.ToConnection(conn.ID())})
		toRoom, _ = o.Dispatch(context.Background(), core.Envelope{Event: "x", Target: core.ToRoom("customer:42")})
	}

	o.OnDisconnect(conn.ID())

	assert.Equal(t, []domain.RoomName{"customer:42"}, roomsAtClose)
	assert.Equal(t, 0, toConn.Delivered)
	require.Len(t, toConn.Failed, 1)
	assert.ErrorIs(t, toConn.Failed[0].Err, domain.ErrConnectionNotFound)
	assert.Equal(t, 0, toRoom.Delivered)
	require.Len(t, toRoom.Failed, 1)
	assert.ErrorIs(t, toRoom.Failed[0].Err, domain.ErrConnectionNotFound)
	assert.Empty(t, sig.events(t))
}

func TestOnDisconnect_ConcurrentWithJoins(t *testing.T) {
	o := newOrchestrator()
	conn, _ := connect(t, o, "tok-42")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.Join(conn.ID(), domain.RoomName(fmt.Sprintf("order:%d", i)))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.OnDisconnect(conn.ID())
	}()
	wg.Wait()

	assert.Empty(t, o.RoomsOf(conn.ID()))
	assert.Equal(t, 0, o.Rooms.Len())
}

func TestEvictRoom(t *testing.T) {
	o := newOrchestrator()
	a, _ := connect(t, o, "tok-42")
	b, _ := connect(t, o, "tok-43")
	c, _ := connect(t, o, "tok-m9")
	require.NoError(t, o.Join(a.ID(), "tables:reservation:5"))
	require.NoError(t, o.Join(b.ID(), "tables:reservation:5"))

	assert.Equal(t, 2, o.EvictRoom("tables:reservation:5"))
	assert.False(t, o.Rooms.Exists("tables:reservation:5"))
	assert.Equal(t, core.StateActive, c.State())
}

func TestSubscribe_Authorization(t *testing.T) {
	o := newOrchestrator()
	cust, _ := connect(t, o, "tok-42")
	admin, _ := connect(t, o, "tok-adm")

	assert.NoError(t, o.Subscribe(context.Background(), cust.ID(), "customer:42"))
	assert.ErrorIs(t, o.Subscribe(context.Background(), cust.ID(), "customer:43"), orch.ErrNotAuthorized)
	assert.ErrorIs(t, o.Subscribe(context.Background(), cust.ID(), "not a room"), domain.ErrInvalidRoomName)
	assert.NoError(t, o.Subscribe(context.Background(), admin.ID(), "customer:43"))
	assert.ErrorIs(t, o.Subscribe(context.Background(), "ghost", "customer:42"), domain.ErrConnectionNotFound)
}

func TestAudit_FailureDoesNotAffectConnection(t *testing.T) {
	o := newOrchestrator()
	audit := &chanAudit{ch: make(chan app.AuditEvent, 4), err: errors.New("db down")}
	o.Audit = audit

	conn, _ := connect(t, o, "tok-42")
	assert.Equal(t, core.StateActive, conn.State())

	select {
	case ev := <-audit.ch:
		assert.Equal(t, app.AuditConnectionEstablished, ev.Kind)
		assert.Equal(t, domain.UserID("42"), ev.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("audit not recorded")
	}

	o.OnDisconnect(conn.ID())
	select {
	case ev := <-audit.ch:
		assert.Equal(t, app.AuditConnectionClosed, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("audit not recorded")
	}
}

// A customer follows an order while the merchant updates it.
func TestScenario_OrderTracking(t *testing.T) {
	o := newOrchestrator()
	cust, cSig := connect(t, o, "tok-42")
	merch, mSig := connect(t, o, "tok-m9")
	other, oSig := connect(t, o, "tok-43")

	order := domain.ResourceRoom(domain.VerticalMunch, "order", "1001")
	require.NoError(t, o.Join(cust.ID(), order))
	require.NoError(t, o.Join(merch.ID(), order))

	res, err := o.Dispatch(context.Background(), core.Envelope{Event: domain.EventOrderUpdated, Target: core.ToRoom(order)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)

	res, err = o.Dispatch(context.Background(), core.Envelope{Event: "wallet:credited", Target: core.ToRoom(domain.CustomerRoom("42"))})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)

	assert.Equal(t, []string{domain.EventOrderUpdated, "wallet:credited"}, cSig.events(t))
	assert.Equal(t, []string{domain.EventOrderUpdated}, mSig.events(t))
	assert.Empty(t, oSig.events(t))
	assert.Equal(t, core.StateActive, other.State())
}

// One user with two devices receives personal events on both.
func TestScenario_MultiDevice(t *testing.T) {
	o := newOrchestrator()
	phone, pSig := connect(t, o, "tok-42")
	_, wSig := connect(t, o, "tok-42")

	res, err := o.Dispatch(context.Background(), core.Envelope{Event: "wallet:credited", Target: core.ToRoom("customer:42")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Len(t, o.Registry.ByUser("42"), 2)

	o.OnDisconnect(phone.ID())
	res, err = o.Dispatch(context.Background(), core.Envelope{Event: "wallet:credited", Target: core.ToRoom("customer:42")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Len(t, pSig.events(t), 1)
	assert.Len(t, wSig.events(t), 2)
}
