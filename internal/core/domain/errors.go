package domain

import "errors"

var (
	ErrAllHostsFailed    = errors.New("failed to connect any of the hosts in list")
	ErrNoServers         = errors.New("no rendezvous servers available")
	ErrNoPublicAddr      = errors.New("failed to retrieve public address")
	ErrBinaryFrame       = errors.New("received binary message from rendezvous server")
	ErrUnknownMessage    = errors.New("unrecognized control message")
	ErrRelayNotReady     = errors.New("relay did not confirm readiness")
	ErrNotPeerDiscovery  = errors.New("message is not a peer discovery")
	ErrInvalidHost       = errors.New("invalid rendezvous host")
	ErrOptionNotFound    = errors.New("option not found")
	ErrLanPeersNotStored = errors.New("lan peers not stored")
)
