package services

import (
	"context"
	"net"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
	"rendezlink/pkg/tracing"

	"go.uber.org/zap"
)

// handoff passes established streams to the session acceptor. The acceptor
// owns the connection; it is closed here only when Accept fails.
type handoff struct {
	acceptor ports.SessionAcceptor
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func (h *handoff) run(ctx context.Context, conn net.Conn, peer net.Addr, kind domain.ConnKind, sessionID string) {
	ctx, span := tracing.TraceHandoff(ctx, string(kind), sessionID)
	defer span.End()

	h.metrics.Handoff(kind)
	if err := h.acceptor.Accept(ctx, conn, peer, kind); err != nil {
		tracing.RecordError(ctx, err)
		h.logger.Warnw("session acceptor rejected stream", "peer", peer.String(), "kind", kind, "error", err)
		conn.Close()
	}
}
