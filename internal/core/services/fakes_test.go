package services

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
)

type fakeOptions struct {
	mu     sync.Mutex
	values map[string]string
	sets   map[string]int
}

func newFakeOptions(kv ...string) *fakeOptions {
	o := &fakeOptions{values: map[string]string{}, sets: map[string]int{}}
	for i := 0; i+1 < len(kv); i += 2 {
		o.values[kv[i]] = kv[i+1]
	}
	return o
}

func (o *fakeOptions) GetOption(ctx context.Context, key string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.values[key], nil
}

func (o *fakeOptions) SetOption(ctx context.Context, key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[key] = value
	o.sets[key]++
	return nil
}

func (o *fakeOptions) get(key string) string {
	v, _ := o.GetOption(context.Background(), key)
	return v
}

func (o *fakeOptions) setCount(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sets[key]
}

var errChannelClosed = errors.New("channel closed")

// fakeChannel is an in-memory signaling channel. Frames pushed with push are
// returned by ReadFrame in order; written messages are recorded.
type fakeChannel struct {
	host    string
	localIP net.IP

	incoming chan frameResult
	written  chan domain.ControlMessage
	closed   chan struct{}
	once     sync.Once
}

func newFakeChannel(host string) *fakeChannel {
	return &fakeChannel{
		host:     host,
		localIP:  net.IPv4(127, 0, 0, 1),
		incoming: make(chan frameResult, 16),
		written:  make(chan domain.ControlMessage, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeChannel) LocalIP() net.IP { return c.localIP }
func (c *fakeChannel) Host() string    { return c.host }

func (c *fakeChannel) ReadFrame() (domain.Frame, error) {
	select {
	case res := <-c.incoming:
		return res.frame, res.err
	case <-c.closed:
		return domain.Frame{}, errChannelClosed
	}
}

func (c *fakeChannel) WriteMessage(msg domain.ControlMessage) error {
	select {
	case <-c.closed:
		return errChannelClosed
	default:
	}
	c.written <- msg
	return nil
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) pushText(data string) {
	c.incoming <- frameResult{frame: domain.Frame{Data: []byte(data)}}
}

func (c *fakeChannel) pushBinary() {
	c.incoming <- frameResult{frame: domain.Frame{Binary: true, Data: []byte{0}}}
}

func (c *fakeChannel) pushError(err error) {
	c.incoming <- frameResult{err: err}
}

type fakeDialer struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	calls    int
}

func newFakeDialer(channels ...*fakeChannel) *fakeDialer {
	d := &fakeDialer{channels: map[string]*fakeChannel{}}
	for _, ch := range channels {
		d.channels[ch.host] = ch
	}
	return d
}

func (d *fakeDialer) Connect(ctx context.Context, hostList string) (ports.SignalChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	ch, ok := d.channels[hostList]
	if !ok {
		return nil, domain.ErrAllHostsFailed
	}
	return ch, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type staticServers []string

func (s staticServers) Servers(ctx context.Context) ([]string, error) { return s, nil }

type staticResolver struct {
	addr net.Addr
	err  error
}

func (r staticResolver) PublicAddr(ctx context.Context) (net.Addr, error) { return r.addr, r.err }

type staticKeys []byte

func (k staticKeys) PublicKey() []byte { return k }

type accepted struct {
	conn net.Conn
	peer net.Addr
	kind domain.ConnKind
}

type recordingAcceptor struct {
	streams chan accepted
}

func newRecordingAcceptor() *recordingAcceptor {
	return &recordingAcceptor{streams: make(chan accepted, 16)}
}

func (a *recordingAcceptor) Accept(ctx context.Context, conn net.Conn, peer net.Addr, kind domain.ConnKind) error {
	a.streams <- accepted{conn: conn, peer: peer, kind: kind}
	return nil
}

func (a *recordingAcceptor) next(timeout time.Duration) (accepted, bool) {
	select {
	case s := <-a.streams:
		return s, true
	case <-time.After(timeout):
		return accepted{}, false
	}
}

type countingMetrics struct {
	ports.NopMetrics
	mu          sync.Mutex
	bindFailed  int
	connectFail int
	handoffs    map[domain.ConnKind]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{handoffs: map[domain.ConnKind]int{}}
}

func (m *countingMetrics) DirectBindFailed() {
	m.mu.Lock()
	m.bindFailed++
	m.mu.Unlock()
}

func (m *countingMetrics) SignalConnectFailed() {
	m.mu.Lock()
	m.connectFail++
	m.mu.Unlock()
}

func (m *countingMetrics) Handoff(kind domain.ConnKind) {
	m.mu.Lock()
	m.handoffs[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) bindFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bindFailed
}
