package identity

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
)

// Provider is the static identity of this host: the configured id and
// public key plus what the OS reports about the machine.
type Provider struct {
	id        string
	publicKey []byte
	info      domain.HostInfo
}

var (
	_ ports.KeyProvider      = (*Provider)(nil)
	_ ports.HostInfoProvider = (*Provider)(nil)
)

// New decodes the base64 public key and snapshots host details.
func New(id, publicKeyB64 string) (*Provider, error) {
	if id == "" {
		return nil, fmt.Errorf("identity id must not be empty")
	}

	var key []byte
	if publicKeyB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(publicKeyB64)
		if err != nil {
			return nil, fmt.Errorf("invalid public key encoding: %w", err)
		}
		key = decoded
	}

	return &Provider{
		id:        id,
		publicKey: key,
		info: domain.HostInfo{
			ID:       id,
			Mac:      primaryMAC(),
			Hostname: hostname(),
			Username: username(),
			Platform: platform(runtime.GOOS),
		},
	}, nil
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) PublicKey() []byte { return p.publicKey }

func (p *Provider) HostInfo() domain.HostInfo { return p.info }

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func username() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		// DOMAIN\user on windows
		if i := strings.LastIndexByte(u.Username, '\\'); i >= 0 {
			return u.Username[i+1:]
		}
		return u.Username
	}
	return os.Getenv("USER")
}

func platform(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	case "darwin":
		return "Mac OS"
	case "android":
		return "Android"
	default:
		return goos
	}
}

// primaryMAC returns the hardware address of the first up, non-loopback
// interface, upper-cased.
func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	return pickMAC(ifaces)
}

func pickMAC(ifaces []net.Interface) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ToUpper(iface.HardwareAddr.String())
	}
	return ""
}
