package locator

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIPv4(t *testing.T) {
	addr := make([]byte, 16)
	copy(addr[12:], []byte{10, 0, 0, 5})

	s, ok, err := Decode(Locator{Kind: UDPv4, Address: addr, Port: 7400})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.5:7400", s)
}

func TestDecodeUsesTrailingFourBytes(t *testing.T) {
	s, ok, err := Decode(Locator{Kind: UDPv4, Address: []byte{1, 2, 3, 239, 255, 0, 1}, Port: 7401})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "239.255.0.1:7401", s)

	s, ok, err = Decode(Locator{Kind: UDPv4, Address: []byte{192, 168, 1, 20}, Port: 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.20:1", s)
}

func TestDecodeOtherKinds(t *testing.T) {
	for _, k := range []Kind{Invalid, UDPv6, SHMEM} {
		t.Run(k.String(), func(t *testing.T) {
			s, ok, err := Decode(Locator{Kind: k, Address: make([]byte, 16), Port: 7400})
			assert.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, s)
		})
	}

	// short addresses are irrelevant for non-IPv4 kinds
	_, ok, err := Decode(Locator{Kind: UDPv6, Address: []byte{1}})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeShortAddress(t *testing.T) {
	for _, addr := range [][]byte{nil, {}, {10}, {10, 0, 0}} {
		s, ok, err := Decode(Locator{Kind: UDPv4, Address: addr, Port: 7400})
		require.ErrorIs(t, err, ErrAddressTooShort)
		assert.False(t, ok)
		assert.Empty(t, s)
	}
}

func TestNewUDPv4AndParse(t *testing.T) {
	l := NewUDPv4(net.ParseIP("239.255.0.1"), 7401)
	assert.Len(t, l.Address, AddressLen)
	assert.Equal(t, "udpv4://239.255.0.1:7401", l.String())

	p, err := ParseUDPv4("239.255.0.1:7401")
	require.NoError(t, err)
	assert.Equal(t, l, p)

	_, err = ParseUDPv4("::1:80")
	assert.Error(t, err)
	_, err = ParseUDPv4("10.0.0.1:99999")
	assert.Error(t, err)
	_, err = ParseUDPv4("udpv6://10.0.0.1")
	assert.Error(t, err)

	p, err = ParseUDPv4("udpv4://239.255.0.1:7401")
	require.NoError(t, err)
	assert.Equal(t, l, p)

	p, err = ParseUDPv4("builtin.udpv4://127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "udpv4://127.0.0.1:0", p.String())
	assert.Equal(t, UDPv4, p.Kind)

	p, err = ParseUDPv4("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), p.Port)

	assert.Equal(t, "shmem://?", Locator{Kind: SHMEM}.String())
}
