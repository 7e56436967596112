package lan

import (
	"fmt"

	"rendezlink/internal/core/domain"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the rendezvous message envelope and its PeerDiscovery body.
const (
	fieldPeerDiscovery protowire.Number = 22

	fieldCmd      protowire.Number = 1
	fieldMac      protowire.Number = 2
	fieldID       protowire.Number = 3
	fieldUsername protowire.Number = 4
	fieldHostname protowire.Number = 5
	fieldPlatform protowire.Number = 6
	fieldMisc     protowire.Number = 7
)

// EncodeDiscovery wraps msg in a rendezvous message envelope.
func EncodeDiscovery(msg domain.PeerDiscovery) []byte {
	var body []byte
	body = appendString(body, fieldCmd, msg.Cmd)
	body = appendString(body, fieldMac, msg.Mac)
	body = appendString(body, fieldID, msg.ID)
	body = appendString(body, fieldUsername, msg.Username)
	body = appendString(body, fieldHostname, msg.Hostname)
	body = appendString(body, fieldPlatform, msg.Platform)
	body = appendString(body, fieldMisc, msg.Misc)

	out := protowire.AppendTag(nil, fieldPeerDiscovery, protowire.BytesType)
	return protowire.AppendBytes(out, body)
}

// proto3 omits empty strings
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// DecodeDiscovery parses a rendezvous message envelope. Envelopes carrying any
// other union member yield ErrNotPeerDiscovery.
func DecodeDiscovery(data []byte) (domain.PeerDiscovery, error) {
	var (
		msg   domain.PeerDiscovery
		found bool
	)

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != fieldPeerDiscovery || typ != protowire.BytesType {
			return nil
		}
		// last union member on the wire wins
		body, err := decodeBody(value)
		if err != nil {
			return err
		}
		msg, found = body, true
		return nil
	})
	if err != nil {
		return domain.PeerDiscovery{}, fmt.Errorf("invalid rendezvous message: %w", err)
	}
	if !found {
		return domain.PeerDiscovery{}, domain.ErrNotPeerDiscovery
	}
	return msg, nil
}

func decodeBody(data []byte) (domain.PeerDiscovery, error) {
	var msg domain.PeerDiscovery
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		s := string(value)
		switch num {
		case fieldCmd:
			msg.Cmd = s
		case fieldMac:
			msg.Mac = s
		case fieldID:
			msg.ID = s
		case fieldUsername:
			msg.Username = s
		case fieldHostname:
			msg.Hostname = s
		case fieldPlatform:
			msg.Platform = s
		case fieldMisc:
			msg.Misc = s
		}
		return nil
	})
	return msg, err
}

// walkFields calls fn for each top-level field. value holds the payload of
// length-delimited fields and is nil otherwise.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var value []byte
		if typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			value, n = v, m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		data = data[n:]

		if err := fn(num, typ, value); err != nil {
			return err
		}
	}
	return nil
}
