package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"rendezlink/internal/core/domain"
	apperrors "rendezlink/pkg/errors"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testPublicAddr = &net.UDPAddr{IP: net.ParseIP("198.51.100.20"), Port: 51000}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Tick = 20 * time.Millisecond
	p.Cooldown = 20 * time.Millisecond
	p.ConnectTimeout = 2 * time.Second
	p.ListenerIdle = 2 * time.Second
	return p
}

type mediatorFixture struct {
	mediator *Mediator
	options  *fakeOptions
	dialer   *fakeDialer
	acceptor *recordingAcceptor
	metrics  *countingMetrics
}

func newMediatorFixture(t *testing.T, channels ...*fakeChannel) *mediatorFixture {
	t.Helper()
	var servers staticServers
	for _, ch := range channels {
		servers = append(servers, ch.host)
	}

	f := &mediatorFixture{
		options:  newFakeOptions(),
		dialer:   newFakeDialer(channels...),
		acceptor: newRecordingAcceptor(),
		metrics:  newCountingMetrics(),
	}
	f.mediator = NewMediator(MediatorDeps{
		LocalID:  "123456789",
		Dialer:   f.dialer,
		Servers:  servers,
		Options:  f.options,
		Resolver: staticResolver{addr: testPublicAddr},
		Keys:     staticKeys{0xca, 0xfe},
		Acceptor: f.acceptor,
		Metrics:  f.metrics,
	}, testPolicy(), zaptest.NewLogger(t).Sugar())
	return f
}

// startRound runs one round in the background and returns a channel closed
// when it finishes.
func (f *mediatorFixture) startRound(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.mediator.runRound(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("round did not finish in time")
	}
}

func TestMediator_FailedSessionStopsSiblings(t *testing.T) {
	channels := []*fakeChannel{
		newFakeChannel("rs1.example.com"),
		newFakeChannel("rs2.example.com"),
		newFakeChannel("rs3.example.com"),
		newFakeChannel("rs4.example.com"),
	}
	f := newMediatorFixture(t, channels...)

	done := f.startRound(context.Background())
	require.Eventually(t, func() bool { return len(f.mediator.Sessions()) == 4 }, time.Second, 5*time.Millisecond)

	channels[2].pushError(io.ErrUnexpectedEOF)

	// one tick plus slack
	waitDone(t, done, 500*time.Millisecond)
	for _, ch := range channels {
		assert.True(t, ch.isClosed(), "channel %s should be closed", ch.host)
	}
	assert.Empty(t, f.mediator.Sessions())
}

func TestMediator_Restart(t *testing.T) {
	channels := []*fakeChannel{newFakeChannel("rs1.example.com"), newFakeChannel("rs2.example.com")}
	f := newMediatorFixture(t, channels...)

	done := f.startRound(context.Background())
	require.Eventually(t, func() bool { return len(f.mediator.Sessions()) == 2 }, time.Second, 5*time.Millisecond)

	f.mediator.Restart()
	waitDone(t, done, 500*time.Millisecond)
	assert.True(t, channels[0].isClosed())
	assert.True(t, channels[1].isClosed())
}

func TestMediator_RestartWithoutRound(t *testing.T) {
	f := newMediatorFixture(t)
	assert.NotPanics(t, f.mediator.Restart)
}

func TestMediator_StopServiceSkipsRound(t *testing.T) {
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)
	f.options.SetOption(context.Background(), domain.OptionStopService, "Y")

	waitDone(t, f.startRound(context.Background()), time.Second)
	assert.Equal(t, 0, f.dialer.callCount())
}

func TestMediator_RunStopsOnContextCancel(t *testing.T) {
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.mediator.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.mediator.Sessions()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, ch.isClosed())
}

func TestMediator_RoundRestartsAfterCooldown(t *testing.T) {
	ch := newFakeChannel("rs1.example.com")
	ch.pushBinary()
	f := newMediatorFixture(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.mediator.Run(ctx)

	require.Eventually(t, func() bool { return f.dialer.callCount() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSession_PersistsKeyConfirmationAndLatency(t *testing.T) {
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)

	done := f.startRound(context.Background())
	require.Eventually(t, func() bool { return len(f.mediator.Sessions()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "Y", f.options.get(domain.OptionKeyConfirmed))
	assert.Equal(t, "Y", f.options.get(domain.HostKeyConfirmedOption("rs1.example.com")))
	assert.Equal(t, "rs1.example.com", f.options.get(domain.OptionRendezvousServer))

	rows := f.mediator.Latency()
	require.Len(t, rows, 1)
	assert.Equal(t, 200*time.Millisecond, rows[0].Latency)

	info := f.mediator.Sessions()[0]
	assert.Equal(t, "rs1.example.com", info.Host)
	assert.Equal(t, "127.0.0.1", info.LocalIP)

	f.mediator.Restart()
	waitDone(t, done, time.Second)
}

func TestSession_NoPublicAddress(t *testing.T) {
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)
	f.mediator.deps.Resolver = staticResolver{err: errors.New("stun timeout")}

	err := f.mediator.runSession(context.Background(), "rs1.example.com", domain.NewCancelGroup())
	assert.ErrorIs(t, err, domain.ErrNoPublicAddr)
	assert.True(t, apperrors.IsKind(err, apperrors.KindResource))
	assert.Equal(t, 0, f.dialer.callCount())
}

func TestSession_ConnectFailureCounted(t *testing.T) {
	f := newMediatorFixture(t)
	err := f.mediator.runSession(context.Background(), "unknown.example.com", domain.NewCancelGroup())
	assert.ErrorIs(t, err, domain.ErrAllHostsFailed)
	assert.Equal(t, 1, f.metrics.connectFail)
}

func TestSession_BinaryFrameIsFatal(t *testing.T) {
	ch := newFakeChannel("rs1.example.com")
	ch.pushBinary()
	f := newMediatorFixture(t, ch)

	err := f.mediator.runSession(context.Background(), ch.host, domain.NewCancelGroup())
	assert.ErrorIs(t, err, domain.ErrBinaryFrame)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProtocol))
	assert.True(t, ch.isClosed())
}

func TestSession_UnknownMessageIgnored(t *testing.T) {
	ch := newFakeChannel("rs1.example.com")
	ch.pushText(`{"hello":"world"}`)
	ch.pushText(`not json`)
	f := newMediatorFixture(t, ch)

	group := domain.NewCancelGroup()
	errCh := make(chan error, 1)
	go func() { errCh <- f.mediator.runSession(context.Background(), ch.host, group) }()

	require.Eventually(t, func() bool { return len(ch.incoming) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ch.isClosed())

	group.Cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not observe group cancellation")
	}
}

func TestSession_ConnectRequest(t *testing.T) {
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)

	group := domain.NewCancelGroup()
	go f.mediator.runSession(context.Background(), ch.host, group)
	defer group.Cancel()

	ch.pushText(`{"sender_id":"42"}`)

	var reply domain.ControlMessage
	select {
	case reply = <-ch.written:
	case <-time.After(time.Second):
		t.Fatal("no listening reply")
	}
	listening, ok := reply.(domain.Listening)
	require.True(t, ok, "expected Listening, got %T", reply)

	host, port, err := net.SplitHostPort(listening.LocalAddr)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.NotEqual(t, "0", port)
	assert.Equal(t, "42", listening.RequesterID)
	assert.Equal(t, testPublicAddr.String(), listening.PublicAddr)
	assert.Equal(t, []byte{0xca, 0xfe}, listening.PublicKey)

	// the reply survives the wire encoding
	data, err := json.Marshal(listening)
	require.NoError(t, err)
	decoded, err := domain.DecodeListening(data)
	require.NoError(t, err)
	assert.Equal(t, listening, decoded)

	conn, err := net.Dial("tcp", listening.LocalAddr)
	require.NoError(t, err)
	defer conn.Close()

	stream, ok := f.acceptor.next(time.Second)
	require.True(t, ok, "expected a handed off stream")
	defer stream.conn.Close()
	assert.Equal(t, domain.ConnKindNATTraversed, stream.kind)
	assert.Equal(t, conn.LocalAddr().String(), stream.peer.String())
}

func newFakeRelay(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	conns := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	return ln, conns
}

func TestSession_RelayNotReadyAbandonsRelay(t *testing.T) {
	relay, relayConns := newFakeRelay(t)
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)

	group := domain.NewCancelGroup()
	errCh := make(chan error, 1)
	go func() { errCh <- f.mediator.runSession(context.Background(), ch.host, group) }()

	ch.pushText(`{"addr":"` + relay.Addr().String() + `"}`)
	var relayConn net.Conn
	select {
	case relayConn = <-relayConns:
	case <-time.After(time.Second):
		t.Fatal("relay was not dialed")
	}
	defer relayConn.Close()

	ch.pushText(`"not ready"`)

	// the relay side observes the stream being closed
	relayConn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := relayConn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	_, ok := f.acceptor.next(100 * time.Millisecond)
	assert.False(t, ok, "no stream should be handed off")
	assert.False(t, ch.isClosed(), "session survives an abandoned relay")

	group.Cancel()
	assert.NoError(t, <-errCh)
}

func TestSession_RelayFollowedByConnectRequest(t *testing.T) {
	relay, relayConns := newFakeRelay(t)
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)

	group := domain.NewCancelGroup()
	errCh := make(chan error, 1)
	go func() { errCh <- f.mediator.runSession(context.Background(), ch.host, group) }()

	ch.pushText(`{"addr":"` + relay.Addr().String() + `"}`)
	var relayConn net.Conn
	select {
	case relayConn = <-relayConns:
	case <-time.After(time.Second):
		t.Fatal("relay was not dialed")
	}
	defer relayConn.Close()

	ch.pushText(`{"sender_id":"42"}`)

	// the relay is abandoned
	relayConn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := relayConn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	// and the connect request is still answered
	var reply domain.ControlMessage
	select {
	case reply = <-ch.written:
	case <-time.After(time.Second):
		t.Fatal("connect request after relay was not answered")
	}
	listening, ok := reply.(domain.Listening)
	require.True(t, ok, "expected Listening, got %T", reply)
	assert.Equal(t, "42", listening.RequesterID)

	_, ok = f.acceptor.next(100 * time.Millisecond)
	assert.False(t, ok, "relay stream must not be handed off")
	assert.False(t, ch.isClosed())

	group.Cancel()
	assert.NoError(t, <-errCh)
}

func TestSession_RelayReadyHandsOff(t *testing.T) {
	relay, relayConns := newFakeRelay(t)
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)

	group := domain.NewCancelGroup()
	go f.mediator.runSession(context.Background(), ch.host, group)
	defer group.Cancel()

	ch.pushText(`{"addr":"` + relay.Addr().String() + `"}`)
	ch.pushText(`{}`)

	select {
	case conn := <-relayConns:
		defer conn.Close()
	case <-time.After(time.Second):
		t.Fatal("relay was not dialed")
	}

	stream, ok := f.acceptor.next(time.Second)
	require.True(t, ok)
	defer stream.conn.Close()
	assert.Equal(t, domain.ConnKindRelay, stream.kind)
	assert.Equal(t, relay.Addr().String(), stream.peer.String())
}

func TestSession_ReadErrorWhileAwaitingRelayIsFatal(t *testing.T) {
	relay, _ := newFakeRelay(t)
	ch := newFakeChannel("rs1.example.com")
	ch.pushText(`{"addr":"` + relay.Addr().String() + `"}`)
	ch.pushError(io.ErrUnexpectedEOF)
	f := newMediatorFixture(t, ch)

	err := f.mediator.runSession(context.Background(), ch.host, domain.NewCancelGroup())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTransport))
}

func TestSession_AcceptTickSkipsEarlyFires(t *testing.T) {
	clk := clock.NewMock()
	m := &Mediator{policy: Policy{Tick: time.Second}, clock: clk}
	s := &session{m: m, lastTick: clk.Now()}

	clk.Add(500 * time.Millisecond)
	assert.False(t, s.acceptTick(clk.Now()))

	clk.Add(500 * time.Millisecond)
	assert.True(t, s.acceptTick(clk.Now()))

	clk.Add(999 * time.Millisecond)
	assert.False(t, s.acceptTick(clk.Now()))

	clk.Add(time.Millisecond)
	assert.True(t, s.acceptTick(clk.Now()))
}

func TestSession_MockClockTicksObserveGroup(t *testing.T) {
	clk := clock.NewMock()
	ch := newFakeChannel("rs1.example.com")
	f := newMediatorFixture(t, ch)
	f.mediator.clock = clk
	f.mediator.policy.Tick = time.Second

	group := domain.NewCancelGroup()
	errCh := make(chan error, 1)
	go func() { errCh <- f.mediator.runSession(context.Background(), ch.host, group) }()
	require.Eventually(t, func() bool { return len(f.mediator.Sessions()) == 1 }, time.Second, 5*time.Millisecond)

	group.Cancel()
	select {
	case <-errCh:
		t.Fatal("session exited before a tick")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Add(time.Second)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session ignored the tick")
	}
}
