package zkgroup

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberKeyRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		key  MemberKey
	}{
		{"host only", MemberKey{Host: "app-1.internal", Port: 9001}},
		{"address only", MemberKey{Address: net.ParseIP("10.0.0.7"), Port: 9002}},
		{"ipv6 address", MemberKey{Address: net.ParseIP("fd00::1"), Port: 443}},
		{"both set", MemberKey{Host: "app-1", Address: net.ParseIP("192.168.1.9"), Port: 65535}},
		{"minimal port", MemberKey{Host: "x", Port: 1}},
		{"empty identity", MemberKey{Port: 80}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeMemberKey(tc.key.Encode())
			require.NoError(t, err)
			assert.True(t, decoded.Equal(tc.key), "decoded %+v, want %+v", decoded, tc.key)
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	key := MemberKey{Host: "a", Address: net.ParseIP("10.1.2.3"), Port: 8080}
	assert.Equal(t, key.Encode(), key.Encode())
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"truncated tag", []byte{0xff}},
		{"truncated string", []byte{0x0a, 0x10, 'a'}},
		{"unparseable address", rawKeyWithAddress("h", 1, "not-an-ip")},
		{"port out of range", []byte{0x18, 0xff, 0xff, 0x0f}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMemberKey(tc.payload)
			require.ErrorIs(t, err, ErrMalformedKey)
		})
	}
}

// rawKeyWithAddress appends an arbitrary address field, which Encode itself
// cannot produce; the later occurrence wins on decode.
func rawKeyWithAddress(host string, port int, addr string) []byte {
	buf := MemberKey{Host: host, Port: port}.Encode()
	buf = append(buf, 0x12, byte(len(addr)))
	buf = append(buf, addr...)
	return buf
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	payload := MemberKey{Host: "h", Port: 7}.Encode()
	// unknown field 9, varint 1
	payload = append(payload, 0x48, 0x01)
	key, err := DecodeMemberKey(payload)
	require.NoError(t, err)
	assert.Equal(t, "h", key.Host)
	assert.Equal(t, 7, key.Port)
}

func TestMemberKeyEqual(t *testing.T) {
	a := MemberKey{Host: "h", Address: net.ParseIP("10.0.0.1"), Port: 1}
	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(MemberKey{Host: "h", Port: 1}))
	assert.False(t, a.Equal(MemberKey{Host: "h", Address: net.ParseIP("10.0.0.2"), Port: 1}))
	assert.False(t, a.Equal(MemberKey{Host: "g", Address: net.ParseIP("10.0.0.1"), Port: 1}))
	assert.False(t, a.Equal(MemberKey{Host: "h", Address: net.ParseIP("10.0.0.1"), Port: 2}))
}

func TestEndpointPrefersAddress(t *testing.T) {
	key := MemberKey{Host: "app", Address: net.ParseIP("10.0.0.1"), Port: 9001}
	assert.Equal(t, "10.0.0.1:9001", key.Endpoint())
	assert.Equal(t, "app:9001", MemberKey{Host: "app", Port: 9001}.Endpoint())
}
