package stun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"rendezlink/internal/core/ports"
	"rendezlink/pkg/cache"
	"rendezlink/pkg/retry"

	"github.com/pion/stun"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrNoServers    = errors.New("stun: no servers configured")
	errUnresolvable = errors.New("stun: cannot resolve server")
	errNoMappedAddr = errors.New("stun: no mapped address in response")
)

const cacheKey = "public"

// Resolver discovers the public address with STUN binding requests. The
// result is cached; failures are not.
type Resolver struct {
	servers []string
	timeout time.Duration
	retry   retry.Config
	cache   *cache.Cache[string, net.Addr]
	logger  *zap.SugaredLogger
}

var _ ports.PublicAddrResolver = (*Resolver)(nil)

func NewResolver(servers []string, timeout, cacheTTL time.Duration, logger *zap.SugaredLogger) *Resolver {
	cfg := retry.DefaultConfig()
	cfg.Permanent = []error{errUnresolvable}

	return &Resolver{
		servers: servers,
		timeout: timeout,
		retry:   cfg,
		cache:   cache.New[string, net.Addr](cacheTTL),
		logger:  logger,
	}
}

func (r *Resolver) PublicAddr(ctx context.Context) (net.Addr, error) {
	return r.cache.GetOrLoad(ctx, cacheKey, r.discover)
}

func (r *Resolver) discover(ctx context.Context) (net.Addr, error) {
	if len(r.servers) == 0 {
		return nil, ErrNoServers
	}

	var errs error
	for _, server := range r.servers {
		addr, err := retry.DoWithResult(ctx, r.retry, func(ctx context.Context) (net.Addr, error) {
			return r.query(ctx, server)
		})
		if err == nil {
			r.logger.Debugw("public address discovered", "server", server, "addr", addr.String())
			return addr, nil
		}
		r.logger.Warnw("stun query failed", "server", server, "error", err)
		errs = multierr.Append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all stun servers failed: %w", errs)
}

func (r *Resolver) query(ctx context.Context, server string) (net.Addr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", errUnresolvable, server, err)
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("stun: dial %s: %w", server, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("stun: build request: %w", err)
	}
	if _, err := req.WriteTo(conn); err != nil {
		return nil, fmt.Errorf("stun: send request: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("stun: read response: %w", err)
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			return nil, fmt.Errorf("stun: decode response: %w", err)
		}
		// stray datagrams from an earlier attempt
		if res.TransactionID != req.TransactionID {
			continue
		}
		return mappedAddr(res)
	}
}

func mappedAddr(res *stun.Message) (net.Addr, error) {
	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}
	var addr stun.MappedAddress
	if err := addr.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: addr.IP, Port: addr.Port}, nil
	}
	return nil, errNoMappedAddr
}

// StaticResolver always reports a configured address.
type StaticResolver struct {
	Addr net.Addr
}

// NewStaticResolver parses an ip:port public address.
func NewStaticResolver(hostport string) (*StaticResolver, error) {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, fmt.Errorf("invalid public address %q: %w", hostport, err)
	}
	return &StaticResolver{Addr: addr}, nil
}

func (s *StaticResolver) PublicAddr(ctx context.Context) (net.Addr, error) {
	return s.Addr, nil
}
