package signal

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"rendezlink/internal/core/domain"
)

// SplitHosts splits a ';'-joined host list, dropping blank entries.
func SplitHosts(hostList string) []string {
	var hosts []string
	for _, h := range strings.Split(hostList, domain.HostListSeparator) {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// CheckPort appends the rendezvous port to a host that carries none.
func CheckPort(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	p := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + p
	}
	return net.JoinHostPort(host, p)
}

// NormalizeHost turns a host list entry into a dialable URL: the scheme
// defaults to ws and the port to 21116.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	scheme := domain.DefaultScheme
	if i := strings.Index(host, "://"); i >= 0 {
		scheme = strings.ToLower(host[:i])
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}

	if host == "" {
		return "", fmt.Errorf("%w: empty host", domain.ErrInvalidHost)
	}
	if scheme != domain.DefaultScheme && scheme != domain.SecureScheme {
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidHost, scheme)
	}

	return scheme + "://" + CheckPort(host, domain.RendezvousPort), nil
}
