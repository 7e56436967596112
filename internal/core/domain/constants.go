package domain

// RendezvousPort is the well-known rendezvous port. The direct access and LAN
// discovery ports are derived from it.
const RendezvousPort = 21116

const (
	DefaultDirectPort    = RendezvousPort + 2
	LanDiscoveryPort     = RendezvousPort + 3
	DefaultScheme        = "ws"
	SecureScheme         = "wss"
	HostListSeparator    = ";"
	ServerListSeparator  = ","
	OptionEnabledValue   = "Y"
	hostKeyConfirmedPref = "host-key-confirmed:"
)

// Option keys consumed from (and persisted to) the option store.
const (
	OptionStopService            = "stop-service"
	OptionDirectServer           = "direct-server"
	OptionDirectAccessPort       = "direct-access-port"
	OptionCustomRendezvousServer = "custom-rendezvous-server"
	OptionRendezvousServers      = "rendezvous-servers"
	OptionRendezvousServer       = "rendezvous-server"
	OptionKeyConfirmed           = "key-confirmed"
)

// HostKeyConfirmedOption returns the option key recording that host accepted our key.
func HostKeyConfirmedOption(host string) string {
	return hostKeyConfirmedPref + host
}

// ConnKind describes how an established stream reached us.
type ConnKind string

const (
	ConnKindNATTraversed ConnKind = "nat_traversed"
	ConnKindRelay        ConnKind = "relay"
	ConnKindDirect       ConnKind = "direct"
)
