package signal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
	apperrors "rendezlink/pkg/errors"
	"rendezlink/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Dialer opens signaling channels to rendezvous servers.
type Dialer struct {
	localID string

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	TLSConfig        *tls.Config

	logger *zap.SugaredLogger
}

var _ ports.SignalDialer = (*Dialer)(nil)

func NewDialer(localID string, logger *zap.SugaredLogger) *Dialer {
	return &Dialer{
		localID:          localID,
		ConnectTimeout:   18 * time.Second,
		HandshakeTimeout: 12 * time.Second,
		WriteTimeout:     10 * time.Second,
		logger:           logger,
	}
}

// Connect tries every host of a ';'-joined list in order and returns the
// first channel that completes the WebSocket handshake.
func (d *Dialer) Connect(ctx context.Context, hostList string) (ports.SignalChannel, error) {
	ch, err := d.ConnectHosts(ctx, SplitHosts(hostList))
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (d *Dialer) ConnectHosts(ctx context.Context, hosts []string) (*Channel, error) {
	ctx, span := tracing.TraceSignalConnect(ctx, fmt.Sprint(hosts))
	defer span.End()

	var errs error
	for i, host := range hosts {
		ch, err := d.dial(ctx, host)
		if err == nil {
			span.SetAttributes(tracing.HostKey.String(host), tracing.AttemptsKey.Int(i+1))
			d.logger.Infow("connected to rendezvous host", "host", host, "local_ip", ch.LocalIP().String())
			return ch, nil
		}

		d.logger.Warnw("failed to connect rendezvous host", "host", host, "error", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", host, err))

		if ctx.Err() != nil {
			break
		}
	}

	err := apperrors.Transport(multierr.Append(domain.ErrAllHostsFailed, errs), fmt.Sprintf("no reachable rendezvous host in %v", hosts))
	tracing.RecordError(ctx, err)
	return nil, err
}

func (d *Dialer) dial(ctx context.Context, host string) (*Channel, error) {
	target, err := NormalizeHost(host)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidHost, err)
	}
	u.Path = "/"
	u.RawQuery = url.Values{"user": {d.localID}}.Encode()

	var localIP net.IP
	wsDialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			nd := net.Dialer{Timeout: d.ConnectTimeout}
			conn, err := nd.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
				localIP = tcpAddr.IP
			}
			return conn, nil
		},
		HandshakeTimeout: d.HandshakeTimeout,
		TLSClientConfig:  d.TLSConfig,
	}

	conn, resp, err := wsDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	return &Channel{
		conn:         conn,
		host:         host,
		localIP:      localIP,
		writeTimeout: d.WriteTimeout,
	}, nil
}

// Channel is one live WebSocket connection to a rendezvous server.
type Channel struct {
	conn         *websocket.Conn
	host         string
	localIP      net.IP
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ ports.SignalChannel = (*Channel)(nil)

// LocalIP is the address of the local end of the TCP connection.
func (c *Channel) LocalIP() net.IP { return c.localIP }

// Host is the host list entry this channel was opened from.
func (c *Channel) Host() string { return c.host }

// ReadFrame blocks for the next data frame. Close unblocks it.
func (c *Channel) ReadFrame() (domain.Frame, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return domain.Frame{}, err
	}
	return domain.Frame{Binary: mt == websocket.BinaryMessage, Data: data}, nil
}

// WriteMessage sends msg as one JSON text frame.
func (c *Channel) WriteMessage(msg domain.ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
