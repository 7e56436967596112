package domain

import (
	"encoding/json"
	"fmt"
	"net"
)

// ControlKind discriminates decoded control messages. The wire format carries
// no tag; the kind is derived from which fields are present.
type ControlKind int

const (
	ControlConnectRequest ControlKind = iota + 1
	ControlListening
	ControlRelayConnection
	ControlRelayReady
)

func (k ControlKind) String() string {
	switch k {
	case ControlConnectRequest:
		return "connect_request"
	case ControlListening:
		return "listening"
	case ControlRelayConnection:
		return "relay_connection"
	case ControlRelayReady:
		return "relay_ready"
	default:
		return fmt.Sprintf("control(%d)", int(k))
	}
}

// ControlMessage is any message exchanged over the signaling channel.
type ControlMessage interface {
	Kind() ControlKind
}

// ConnectRequest asks us to accept a connection from SenderID.
type ConnectRequest struct {
	SenderID string `json:"sender_id"`
}

func (ConnectRequest) Kind() ControlKind { return ControlConnectRequest }

// Listening announces where we accept the requester's connection.
type Listening struct {
	RequesterID string `json:"requester_id"`
	LocalAddr   string `json:"local_addr"`
	PublicAddr  string `json:"public_addr"`
	PublicKey   []byte `json:"public_key"`
}

func (Listening) Kind() ControlKind { return ControlListening }

// NewListening builds the reply to a ConnectRequest.
func NewListening(requesterID string, local, public net.Addr, publicKey []byte) Listening {
	msg := Listening{RequesterID: requesterID, PublicKey: publicKey}
	if local != nil {
		msg.LocalAddr = local.String()
	}
	if public != nil {
		msg.PublicAddr = public.String()
	}
	return msg
}

// RelayConnection instructs us to dial a relay.
type RelayConnection struct {
	Addr string `json:"addr"`
}

func (RelayConnection) Kind() ControlKind { return ControlRelayConnection }

// RelayReady confirms the relay accepted our dial.
type RelayReady struct{}

func (RelayReady) Kind() ControlKind { return ControlRelayReady }

// DecodeControl parses an incoming text frame. Shapes are tried in a fixed
// order, ConnectRequest first and RelayConnection second, so a payload that
// matches both always resolves to ConnectRequest.
func DecodeControl(data []byte) (ControlMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrUnknownMessage
	}

	if raw, ok := fields["sender_id"]; ok {
		var msg ConnectRequest
		if err := json.Unmarshal(raw, &msg.SenderID); err == nil {
			return msg, nil
		}
	}

	if raw, ok := fields["addr"]; ok {
		var msg RelayConnection
		if err := json.Unmarshal(raw, &msg.Addr); err == nil {
			if _, _, err := net.SplitHostPort(msg.Addr); err == nil {
				return msg, nil
			}
		}
	}

	return nil, ErrUnknownMessage
}

// DecodeRelayReady accepts a JSON object that is not itself another control
// message. RelayReady carries no fields, so ConnectRequest and
// RelayConnection payloads are rejected.
func DecodeRelayReady(data []byte) (RelayReady, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return RelayReady{}, ErrRelayNotReady
	}
	if msg, err := DecodeControl(data); err == nil {
		return RelayReady{}, fmt.Errorf("%w: got %s", ErrRelayNotReady, msg.Kind())
	}
	return RelayReady{}, nil
}

// DecodeListening parses a Listening message. Only peers and tests need it.
func DecodeListening(data []byte) (Listening, error) {
	var msg Listening
	if err := json.Unmarshal(data, &msg); err != nil {
		return Listening{}, fmt.Errorf("invalid listening message: %w", err)
	}
	return msg, nil
}
