// Package locator describes transport endpoints advertised by bus peers and
// renders them for humans.
package locator

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind identifies the transport a locator belongs to.
type Kind int32

const (
	Invalid Kind = iota
	UDPv4
	UDPv6
	SHMEM
)

func (k Kind) String() string {
	switch k {
	case UDPv4:
		return "udpv4"
	case UDPv6:
		return "udpv6"
	case SHMEM:
		return "shmem"
	default:
		return "invalid"
	}
}

// AddressLen is the conventional address width. IPv4 addresses occupy the
// trailing four bytes.
const AddressLen = 16

var ErrAddressTooShort = errors.New("locator address too short")

// Locator is a transport address as advertised in peer metadata.
type Locator struct {
	Kind    Kind
	Address []byte
	Port    uint32
}

// NewUDPv4 builds a locator for ip:port. It panics if ip is not an IPv4 address.
func NewUDPv4(ip net.IP, port uint32) Locator {
	v4 := ip.To4()
	if v4 == nil {
		panic(fmt.Sprintf("locator: %v is not an IPv4 address", ip))
	}
	addr := make([]byte, AddressLen)
	copy(addr[AddressLen-4:], v4)
	return Locator{Kind: UDPv4, Address: addr, Port: port}
}

// ParseUDPv4 parses "a.b.c.d" or "a.b.c.d:port", optionally prefixed with a
// udpv4 scheme such as "udpv4://" or "builtin.udpv4://". A missing port
// yields port 0.
func ParseUDPv4(s string) (Locator, error) {
	rest := s
	if i := strings.Index(s, "://"); i >= 0 {
		scheme := s[:i]
		if scheme != "udpv4" && !strings.HasSuffix(scheme, ".udpv4") {
			return Locator{}, fmt.Errorf("parse locator %q: unsupported scheme %q", s, scheme)
		}
		rest = s[i+3:]
	}
	host, portStr := rest, ""
	if h, p, err := net.SplitHostPort(rest); err == nil {
		host, portStr = h, p
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return Locator{}, fmt.Errorf("parse locator %q: not an IPv4 address", s)
	}
	var port uint64
	if portStr != "" {
		var err error
		if port, err = strconv.ParseUint(portStr, 10, 16); err != nil {
			return Locator{}, fmt.Errorf("parse locator %q: bad port: %w", s, err)
		}
	}
	return NewUDPv4(ip, uint32(port)), nil
}

// Decode renders an IPv4 locator as "a.b.c.d:port". Locators of any other
// kind yield ok=false and no error. An IPv4 locator whose address holds
// fewer than four bytes is rejected with ErrAddressTooShort.
func Decode(l Locator) (string, bool, error) {
	if l.Kind != UDPv4 {
		return "", false, nil
	}
	if len(l.Address) < 4 {
		return "", false, fmt.Errorf("%w: have %d bytes, need 4", ErrAddressTooShort, len(l.Address))
	}
	q := l.Address[len(l.Address)-4:]
	return fmt.Sprintf("%d.%d.%d.%d:%d", q[0], q[1], q[2], q[3], l.Port), true, nil
}

func (l Locator) String() string {
	s, ok, err := Decode(l)
	if !ok || err != nil {
		return l.Kind.String() + "://?"
	}
	return l.Kind.String() + "://" + s
}
