package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
)

// LatencyTable tracks the latency of every rendezvous host currently online.
// The lowest positive latency host is persisted as the preferred server.
type LatencyTable struct {
	mu        sync.Mutex
	latencies map[string]time.Duration
	options   ports.OptionStore
}

func NewLatencyTable(options ports.OptionStore) *LatencyTable {
	return &LatencyTable{
		latencies: make(map[string]time.Duration),
		options:   options,
	}
}

// Reset forgets every host. Called at the start of each mediator round.
func (t *LatencyTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latencies = make(map[string]time.Duration)
}

// Update records the latency of host and persists the best host if it changed.
func (t *LatencyTable) Update(ctx context.Context, host string, latency time.Duration) error {
	t.mu.Lock()
	t.latencies[host] = latency
	best := t.bestLocked()
	t.mu.Unlock()

	if best == "" {
		return nil
	}
	if err := setOptionIfChanged(ctx, t.options, domain.OptionRendezvousServer, best); err != nil {
		return fmt.Errorf("failed to persist preferred rendezvous server: %w", err)
	}
	return nil
}

// bestLocked picks the lowest positive latency; ties go to the smaller host name.
func (t *LatencyTable) bestLocked() string {
	best := ""
	var bestLatency time.Duration
	for host, latency := range t.latencies {
		if latency <= 0 {
			continue
		}
		if best == "" || latency < bestLatency || (latency == bestLatency && host < best) {
			best, bestLatency = host, latency
		}
	}
	return best
}

// HostLatency is one row of a latency snapshot.
type HostLatency struct {
	Host    string        `json:"host"`
	Latency time.Duration `json:"latency_ns"`
}

// Snapshot returns the table sorted by latency.
func (t *LatencyTable) Snapshot() []HostLatency {
	t.mu.Lock()
	rows := make([]HostLatency, 0, len(t.latencies))
	for host, latency := range t.latencies {
		rows = append(rows, HostLatency{Host: host, Latency: latency})
	}
	t.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Latency != rows[j].Latency {
			return rows[i].Latency < rows[j].Latency
		}
		return rows[i].Host < rows[j].Host
	})
	return rows
}

// Preferred returns the persisted preferred host, if any.
func (t *LatencyTable) Preferred(ctx context.Context) string {
	host, err := t.options.GetOption(ctx, domain.OptionRendezvousServer)
	if err != nil {
		return ""
	}
	return host
}

func setOptionIfChanged(ctx context.Context, options ports.OptionStore, key, value string) error {
	current, err := options.GetOption(ctx, key)
	if err != nil {
		return err
	}
	if current == value {
		return nil
	}
	return options.SetOption(ctx, key, value)
}
