package zkgroup

import (
	"fmt"
	"net"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire schema of a member key payload. Three fields, fixed forever:
// 1 host (string), 2 address (string), 3 port (int32).
const (
	fieldHost    = 1
	fieldAddress = 2
	fieldPort    = 3
)

// MemberKey identifies one member of a group: a hostname or a parsed IP,
// plus a port. When both are present the address takes precedence.
type MemberKey struct {
	Host    string
	Address net.IP
	Port    int
}

// Encode serializes the key as a deterministic protobuf-wire payload. Empty
// host and address are emitted as empty string fields, never omitted.
func (k MemberKey) Encode() []byte {
	addr := ""
	if k.Address != nil {
		addr = k.Address.String()
	}
	buf := protowire.AppendTag(nil, fieldHost, protowire.BytesType)
	buf = protowire.AppendString(buf, k.Host)
	buf = protowire.AppendTag(buf, fieldAddress, protowire.BytesType)
	buf = protowire.AppendString(buf, addr)
	buf = protowire.AppendTag(buf, fieldPort, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(uint32(k.Port)))
	return buf
}

// DecodeMemberKey parses a payload produced by Encode. Unknown fields are
// skipped; anything that does not fit the schema fails with ErrMalformedKey.
func DecodeMemberKey(payload []byte) (MemberKey, error) {
	var key MemberKey
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return MemberKey{}, fmt.Errorf("%w: bad tag", ErrMalformedKey)
		}
		b = b[n:]
		switch {
		case num == fieldHost && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return MemberKey{}, fmt.Errorf("%w: bad host field", ErrMalformedKey)
			}
			key.Host = v
			b = b[n:]
		case num == fieldAddress && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return MemberKey{}, fmt.Errorf("%w: bad address field", ErrMalformedKey)
			}
			if v != "" {
				ip := net.ParseIP(v)
				if ip == nil {
					return MemberKey{}, fmt.Errorf("%w: unparseable address %q", ErrMalformedKey, v)
				}
				key.Address = ip
			}
			b = b[n:]
		case num == fieldPort && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return MemberKey{}, fmt.Errorf("%w: bad port field", ErrMalformedKey)
			}
			if v > 65535 {
				return MemberKey{}, fmt.Errorf("%w: port %d out of range", ErrMalformedKey, v)
			}
			key.Port = int(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return MemberKey{}, fmt.Errorf("%w: bad field %d", ErrMalformedKey, num)
			}
			b = b[n:]
		}
	}
	return key, nil
}

// Equal compares keys field-wise. Addresses are compared as parsed, without
// re-resolution.
func (k MemberKey) Equal(o MemberKey) bool {
	if k.Host != o.Host || k.Port != o.Port {
		return false
	}
	if (k.Address == nil) != (o.Address == nil) {
		return false
	}
	return k.Address == nil || k.Address.Equal(o.Address)
}

// Endpoint renders the key as host:port, preferring the address.
func (k MemberKey) Endpoint() string {
	host := k.Host
	if k.Address != nil {
		host = k.Address.String()
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", k.Port))
}
