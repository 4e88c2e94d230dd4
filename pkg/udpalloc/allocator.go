package udpalloc

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"redalf.de/shapes/pkg/metrics"
)

var ErrNoPorts = errors.New("no available participant ports")

// Allocator hands out participant port pairs for one domain. Participant i
// owns base+gain*i (metatraffic) and base+gain*i+1 (user traffic). Both
// sockets are bound at reservation time so a pair held by another process is
// skipped instead of failing later.
type Allocator struct {
	host  string
	base  int
	gain  int
	slots int
	mu    sync.Mutex
	// port -> bound socket
	reserved map[int]net.PacketConn
}

// Pair is a reserved participant slot.
type Pair struct {
	Participant int
	Meta        int
	User        int
}

// NewAllocator creates an allocator for slots participants starting at base.
// host is the address the sockets bind to; empty binds all interfaces.
func NewAllocator(host string, base, gain, slots int) (*Allocator, error) {
	if base <= 0 || slots <= 0 || gain < 2 {
		return nil, fmt.Errorf("invalid port layout base=%d gain=%d slots=%d", base, gain, slots)
	}
	if top := base + gain*(slots-1) + 1; top > 65535 {
		return nil, fmt.Errorf("port range ends at %d, beyond 65535", top)
	}
	return &Allocator{host: host, base: base, gain: gain, slots: slots, reserved: make(map[int]net.PacketConn)}, nil
}

// ReservePair binds the first free participant slot and returns it with a
// release function. release is idempotent.
func (a *Allocator) ReservePair() (Pair, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < a.slots; i++ {
		p := a.base + a.gain*i
		if _, ok := a.reserved[p]; ok {
			continue
		}
		meta, err := net.ListenPacket("udp4", net.JoinHostPort(a.host, fmt.Sprint(p)))
		if err != nil {
			continue
		}
		user, err := net.ListenPacket("udp4", net.JoinHostPort(a.host, fmt.Sprint(p+1)))
		if err != nil {
			meta.Close()
			continue
		}
		a.reserved[p] = meta
		a.reserved[p+1] = user
		metrics.IncParticipantPorts()
		var once sync.Once
		release := func() {
			once.Do(func() {
				a.mu.Lock()
				defer a.mu.Unlock()
				for _, port := range []int{p, p + 1} {
					if c, ok := a.reserved[port]; ok {
						c.Close()
						delete(a.reserved, port)
					}
				}
				metrics.DecParticipantPorts()
			})
		}
		return Pair{Participant: i, Meta: p, User: p + 1}, release, nil
	}
	return Pair{}, nil, ErrNoPorts
}

// Reserved returns the number of participant pairs currently held.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved) / 2
}
