// Package localbus is an in-process implementation of bus.Bus. Sessions
// created from the same Bus on the same domain discover each other, match
// writers with readers by topic and type, and exchange samples through
// per-topic queues. Nothing is sent over the network, but every participant
// still reserves its port pair so locators advertised to peers are real.
package localbus

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/antoniomika/syncmap"

	"redalf.de/shapes/pkg/bus"
	plog "redalf.de/shapes/pkg/log"
	"redalf.de/shapes/pkg/mcast"
	"redalf.de/shapes/pkg/topic"
	"redalf.de/shapes/pkg/udpalloc"
)

// MaxDomainID is the highest domain whose ports fit below 65535 with the
// default gains.
const MaxDomainID = 232

// Config describes port layout, discovery addresses and queue limits.
type Config struct {
	Topic           topic.Config
	PortBase        int
	DomainGain      int
	ParticipantGain int
	MaxParticipants int
	MulticastGroups string
	UnicastAddress  string
	InitialPeers    []string
}

// DefaultConfig mirrors config.Default().Bus.
func DefaultConfig() Config {
	return Config{
		Topic: topic.Config{
			MaxWriters:         16,
			MaxReadersPerTopic: 16,
			WriterQueueSize:    64,
			ReaderQueueSize:    16,
			GracePeriod:        5 * time.Second,
		},
		PortBase:        7400,
		DomainGain:      250,
		ParticipantGain: 2,
		MaxParticipants: 60,
		MulticastGroups: "239.255.0.1",
		UnicastAddress:  "127.0.0.1",
	}
}

// Bus holds every domain joined through it.
type Bus struct {
	cfg     Config
	groups  *mcast.Groups
	mu      sync.Mutex
	domains map[uint32]*domain
}

// domain is the shared state of one domain id.
type domain struct {
	id       uint32
	topics   *topic.Manager
	alloc    *udpalloc.Allocator
	peers    *syncmap.Map[bus.PeerHandle, bus.PeerInfo]
	sessions int
}

// New validates cfg and returns an empty Bus.
func New(cfg Config) (*Bus, error) {
	groups, err := mcast.NewFromCSV(cfg.MulticastGroups)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(cfg.UnicastAddress).To4() == nil {
		return nil, fmt.Errorf("unicast address %q is not IPv4", cfg.UnicastAddress)
	}
	return &Bus{cfg: cfg, groups: groups, domains: make(map[uint32]*domain)}, nil
}

// Connect joins domainID, reserving a participant port pair.
func (b *Bus) Connect(ctx context.Context, domainID uint32) (bus.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", bus.ErrConnection, err)
	}
	if domainID > MaxDomainID {
		return nil, fmt.Errorf("%w: domain %d out of range [0,%d]", bus.ErrConnection, domainID, MaxDomainID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.domains[domainID]
	if !ok {
		alloc, err := udpalloc.NewAllocator(b.cfg.UnicastAddress, b.participantBase(domainID), b.cfg.ParticipantGain, b.cfg.MaxParticipants)
		if err != nil {
			return nil, fmt.Errorf("%w: domain %d: %v", bus.ErrConnection, domainID, err)
		}
		d = &domain{
			id:     domainID,
			topics: topic.NewManager(b.cfg.Topic),
			alloc:  alloc,
			peers:  syncmap.New[bus.PeerHandle, bus.PeerInfo](),
		}
		b.domains[domainID] = d
	}

	pair, release, err := d.alloc.ReservePair()
	if err != nil {
		b.dropIfEmpty(d)
		return nil, fmt.Errorf("%w: domain %d: %v", bus.ErrConnection, domainID, err)
	}
	d.sessions++
	s := newSession(b, d, pair, release)
	plog.Info("localbus: participant %s joined domain %d (ports %d/%d)", s.handle, domainID, pair.Meta, pair.User)
	return s, nil
}

// Status returns topic status for every joined domain.
func (b *Bus) Status() map[uint32]topic.StatusJSON {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uint32]topic.StatusJSON, len(b.domains))
	for id, d := range b.domains {
		out[id] = d.topics.Status()
	}
	return out
}

// Domains returns the joined domain ids in ascending order.
func (b *Bus) Domains() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]uint32, 0, len(b.domains))
	for id := range b.domains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Peer looks a reader up across every joined domain.
func (b *Bus) Peer(h bus.PeerHandle) (bus.PeerInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.domains {
		if info, ok := d.peers.Load(h); ok {
			return info, true
		}
	}
	return bus.PeerInfo{}, false
}

func (b *Bus) leave(d *domain) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d.sessions--
	b.dropIfEmpty(d)
}

// dropIfEmpty forgets a domain nobody is in. b.mu must be held.
func (b *Bus) dropIfEmpty(d *domain) {
	if d.sessions > 0 {
		return
	}
	d.topics.Shutdown()
	delete(b.domains, d.id)
}

// participantBase is the first participant port of a domain (RTPS d1 offset).
func (b *Bus) participantBase(domainID uint32) int {
	return b.cfg.PortBase + b.cfg.DomainGain*int(domainID) + 10
}

// userMulticastPort is the port readers listen on for multicast user data
// (RTPS d2 offset).
func (b *Bus) userMulticastPort(domainID uint32) uint32 {
	return uint32(b.cfg.PortBase + b.cfg.DomainGain*int(domainID) + 1)
}

// metaMulticastPort is the discovery multicast port (RTPS d0 offset).
func (b *Bus) metaMulticastPort(domainID uint32) uint32 {
	return uint32(b.cfg.PortBase + b.cfg.DomainGain*int(domainID))
}
