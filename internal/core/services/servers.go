package services

import (
	"context"
	"fmt"
	"strings"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"

	"go.uber.org/zap"
)

// ServerResolver builds the candidate server list for one mediator round.
type ServerResolver struct {
	options   ports.OptionStore
	directory ports.ServerDirectory
	latency   *LatencyTable
	logger    *zap.SugaredLogger
}

var _ ports.ServerLister = (*ServerResolver)(nil)

// NewServerResolver creates a resolver. directory may be nil, in which case
// only the option-provided servers are used.
func NewServerResolver(options ports.OptionStore, directory ports.ServerDirectory, latency *LatencyTable, logger *zap.SugaredLogger) *ServerResolver {
	return &ServerResolver{
		options:   options,
		directory: directory,
		latency:   latency,
		logger:    logger,
	}
}

// Servers returns one entry per session to run. An entry is a ';'-joined host
// list visited in order by the signal channel.
//
// Sources, first match wins: the custom-rendezvous-server option, the
// rendezvous-servers option, then the remote directory.
func (r *ServerResolver) Servers(ctx context.Context) ([]string, error) {
	custom, err := r.options.GetOption(ctx, domain.OptionCustomRendezvousServer)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", domain.OptionCustomRendezvousServer, err)
	}
	if custom = strings.TrimSpace(custom); custom != "" {
		return []string{custom}, nil
	}

	listed, err := r.options.GetOption(ctx, domain.OptionRendezvousServers)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", domain.OptionRendezvousServers, err)
	}
	if servers := parseServerList(listed); len(servers) > 0 {
		return r.prefer(ctx, servers), nil
	}

	if r.directory == nil {
		return nil, domain.ErrNoServers
	}

	endpoints, err := r.directory.Lookup(ctx)
	if err != nil {
		return nil, fmt.Errorf("server directory lookup failed: %w", err)
	}
	if len(endpoints) == 0 {
		return nil, domain.ErrNoServers
	}

	hosts := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		hosts = append(hosts, ep.String())
	}
	r.logger.Debugw("resolved rendezvous servers from directory", "hosts", hosts)
	return r.prefer(ctx, []string{strings.Join(hosts, domain.HostListSeparator)}), nil
}

// parseServerList splits a comma separated server option, keeping only
// entries that look like host names.
func parseServerList(value string) []string {
	var servers []string
	for _, s := range strings.Split(value, domain.ServerListSeparator) {
		s = strings.TrimSpace(s)
		if strings.Contains(s, ".") {
			servers = append(servers, s)
		}
	}
	return servers
}

// prefer moves the persisted lowest-latency host to the front of the entry
// that contains it, and that entry to the front of the list.
func (r *ServerResolver) prefer(ctx context.Context, entries []string) []string {
	if r.latency == nil {
		return entries
	}
	preferred := r.latency.Preferred(ctx)
	if preferred == "" {
		return entries
	}

	out := make([]string, 0, len(entries))
	var front string
	for _, entry := range entries {
		hosts := strings.Split(entry, domain.HostListSeparator)
		idx := -1
		for i, h := range hosts {
			if strings.TrimSpace(h) == preferred {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, entry)
			continue
		}
		reordered := append([]string{hosts[idx]}, append(hosts[:idx:idx], hosts[idx+1:]...)...)
		if front == "" {
			front = strings.Join(reordered, domain.HostListSeparator)
			continue
		}
		out = append(out, strings.Join(reordered, domain.HostListSeparator))
	}
	if front != "" {
		out = append([]string{front}, out...)
	}
	return out
}
