package services

import (
	"context"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
	rlog "rendezlink/pkg/logger"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Policy holds the mediator timings.
type Policy struct {
	Cooldown           time.Duration // pause between rounds
	Tick               time.Duration // session housekeeping interval
	ConnectTimeout     time.Duration // relay dial and relay-ready wait
	ListenerIdle       time.Duration // NAT-traversal listener lifetime without accepts
	LatencyPlaceholder time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Cooldown:           time.Second,
		Tick:               time.Second,
		ConnectTimeout:     18 * time.Second,
		ListenerIdle:       30 * time.Second,
		LatencyPlaceholder: 200 * time.Millisecond,
	}
}

// MediatorDeps are the collaborators of a Mediator.
type MediatorDeps struct {
	LocalID  string
	Dialer   ports.SignalDialer
	Servers  ports.ServerLister
	Options  ports.OptionStore
	Resolver ports.PublicAddrResolver
	Keys     ports.KeyProvider
	Acceptor ports.SessionAcceptor
	Latency  *LatencyTable
	Metrics  ports.MetricsRecorder
	Clock    clock.Clock
}

// SessionInfo describes one live rendezvous session.
type SessionInfo struct {
	ID           string    `json:"id"`
	Host         string    `json:"host"`
	LocalIP      string    `json:"local_ip"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Mediator keeps one signaling session alive per rendezvous server and
// restarts the whole set whenever any of them ends.
type Mediator struct {
	deps    MediatorDeps
	policy  Policy
	clock   clock.Clock
	log     *rlog.ContextLogger
	logger  *zap.SugaredLogger
	handoff *handoff

	mu       sync.Mutex
	group    *domain.CancelGroup
	sessions map[string]*SessionInfo

	tasks sync.WaitGroup
}

func NewMediator(deps MediatorDeps, policy Policy, logger *zap.SugaredLogger) *Mediator {
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Latency == nil {
		deps.Latency = NewLatencyTable(deps.Options)
	}

	return &Mediator{
		deps:     deps,
		policy:   policy,
		clock:    deps.Clock,
		log:      rlog.NewContextLogger(logger.Desugar()),
		logger:   logger,
		handoff:  &handoff{acceptor: deps.Acceptor, metrics: deps.Metrics, logger: logger},
		sessions: make(map[string]*SessionInfo),
	}
}

// Run loops over rounds until ctx is cancelled. Background listener and
// handoff tasks are awaited before it returns.
func (m *Mediator) Run(ctx context.Context) error {
	m.logger.Infow("rendezvous mediator started", "id", m.deps.LocalID)
	defer m.tasks.Wait()

	for {
		m.runRound(ctx)

		select {
		case <-ctx.Done():
			m.logger.Infow("rendezvous mediator stopped")
			return nil
		case <-m.clock.After(m.policy.Cooldown):
		}
	}
}

func (m *Mediator) runRound(ctx context.Context) {
	m.deps.Latency.Reset()

	stop, err := m.deps.Options.GetOption(ctx, domain.OptionStopService)
	if err != nil {
		m.logger.Warnw("failed to read option", "key", domain.OptionStopService, "error", err)
		return
	}
	if stop != "" {
		return
	}

	servers, err := m.deps.Servers.Servers(ctx)
	if err != nil {
		m.logger.Warnw("failed to resolve rendezvous servers", "error", err)
		return
	}
	if len(servers) == 0 {
		return
	}

	group := domain.NewCancelGroup()
	m.setGroup(group)
	defer m.setGroup(nil)

	var wg sync.WaitGroup
	for _, hostList := range servers {
		wg.Add(1)
		go func(hostList string) {
			defer wg.Done()
			// any session ending takes the whole round down
			defer group.Cancel()

			if err := m.runSession(ctx, hostList, group); err != nil {
				m.logger.Warnw("rendezvous session ended", "servers", hostList, "error", err)
			}
		}(hostList)
	}
	wg.Wait()
}

// Restart ends every session of the current round; the next round starts
// after the cooldown.
func (m *Mediator) Restart() {
	m.mu.Lock()
	group := m.group
	m.mu.Unlock()

	if group != nil {
		group.Cancel()
	}
	m.logger.Infow("server restart")
}

// Sessions returns a snapshot of the live sessions.
func (m *Mediator) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Latency returns the current latency table.
func (m *Mediator) Latency() []HostLatency {
	return m.deps.Latency.Snapshot()
}

func (m *Mediator) setGroup(g *domain.CancelGroup) {
	m.mu.Lock()
	m.group = g
	m.mu.Unlock()
}

func (m *Mediator) register(info *SessionInfo) {
	m.mu.Lock()
	m.sessions[info.ID] = info
	m.mu.Unlock()
}

func (m *Mediator) unregister(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Mediator) touch(id string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivity = m.clock.Now()
	}
	m.mu.Unlock()
}

func (m *Mediator) spawn(fn func()) {
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		fn()
	}()
}
