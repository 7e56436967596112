package acceptor

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"rendezlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// echoServer reflects every line it receives.
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

// tcpPair returns two ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestForwarder_Splices(t *testing.T) {
	f := NewForwarder(echoServer(t), time.Second, zaptest.NewLogger(t).Sugar())
	remote, local := tcpPair(t)

	done := make(chan error, 1)
	go func() {
		done <- f.Accept(context.Background(), local, remote.LocalAddr(), domain.ConnKindDirect)
	}()

	_, err := remote.Write([]byte("hello\n"))
	require.NoError(t, err)

	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(remote).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
	assert.Eventually(t, func() bool { return f.Active() == 1 }, time.Second, 10*time.Millisecond)

	remote.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not return after the peer closed")
	}
	assert.Equal(t, int64(0), f.Active())
	assert.Equal(t, int64(1), f.Total())
}

func TestForwarder_ContextCancelClosesStreams(t *testing.T) {
	f := NewForwarder(echoServer(t), time.Second, zaptest.NewLogger(t).Sugar())
	remote, local := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Accept(ctx, local, remote.LocalAddr(), domain.ConnKindRelay)
	}()

	assert.Eventually(t, func() bool { return f.Active() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not return after cancellation")
	}

	remote.SetReadDeadline(time.Now().Add(time.Second))
	_, err := remote.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestForwarder_NoAddress(t *testing.T) {
	f := NewForwarder("", time.Second, zaptest.NewLogger(t).Sugar())
	remote, local := tcpPair(t)

	err := f.Accept(context.Background(), local, remote.LocalAddr(), domain.ConnKindDirect)
	assert.ErrorIs(t, err, ErrNoForwardAddress)
}

func TestForwarder_UpstreamUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	f := NewForwarder(addr, 200*time.Millisecond, zaptest.NewLogger(t).Sugar())
	remote, local := tcpPair(t)

	err = f.Accept(context.Background(), local, remote.LocalAddr(), domain.ConnKindNATTraversed)
	assert.Error(t, err)
	assert.Equal(t, int64(0), f.Total())
}
