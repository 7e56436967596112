package acceptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// ErrNoForwardAddress is returned when no local session server is configured.
var ErrNoForwardAddress = errors.New("no session forward address configured")

// Forwarder hands accepted streams to a local session server by splicing
// them onto a fresh TCP connection. Accept blocks until either side closes
// or ctx ends.
type Forwarder struct {
	address     string
	dialTimeout time.Duration
	logger      *zap.SugaredLogger

	active atomic.Int64
	total  atomic.Int64
}

var _ ports.SessionAcceptor = (*Forwarder)(nil)

func NewForwarder(address string, dialTimeout time.Duration, logger *zap.SugaredLogger) *Forwarder {
	return &Forwarder{address: address, dialTimeout: dialTimeout, logger: logger}
}

func (f *Forwarder) Accept(ctx context.Context, conn net.Conn, peer net.Addr, kind domain.ConnKind) error {
	if f.address == "" {
		return ErrNoForwardAddress
	}

	dialer := net.Dialer{Timeout: f.dialTimeout}
	upstream, err := dialer.DialContext(ctx, "tcp", f.address)
	if err != nil {
		return fmt.Errorf("failed to reach session server %s: %w", f.address, err)
	}

	f.active.Add(1)
	f.total.Add(1)
	defer f.active.Add(-1)

	f.logger.Infow("session started", "peer", peer.String(), "kind", kind, "upstream", f.address)
	start := time.Now()

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			conn.Close()
			upstream.Close()
		})
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()
	defer closeBoth()

	var sent, received int64
	g := new(errgroup.Group)
	g.Go(func() error {
		n, err := io.Copy(upstream, conn)
		sent = n
		closeWrite(upstream)
		return err
	})
	g.Go(func() error {
		n, err := io.Copy(conn, upstream)
		received = n
		closeWrite(conn)
		return err
	})
	err = g.Wait()

	f.logger.Infow("session ended",
		"peer", peer.String(),
		"kind", kind,
		"duration", time.Since(start),
		"bytes_in", sent,
		"bytes_out", received,
	)

	if err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		f.logger.Debugw("session stream error", "peer", peer.String(), "error", err)
	}
	return nil
}

// Active returns the number of sessions currently forwarded.
func (f *Forwarder) Active() int64 { return f.active.Load() }

// Total returns the number of sessions forwarded since start.
func (f *Forwarder) Total() int64 { return f.total.Load() }

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
}
