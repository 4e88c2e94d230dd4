package mcast

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/cespare/xxhash/v2"

	"redalf.de/shapes/pkg/locator"
)

// Groups is a static set of multicast groups. Each topic is assigned one
// group by rendezvous hashing so the assignment is stable across processes
// that share the same group list.
type Groups struct {
	groups []string
	ips    map[string]net.IP
}

// NewFromCSV creates Groups from a comma-separated list of IPv4 multicast
// addresses (e.g., "239.255.0.1,239.255.0.2").
func NewFromCSV(list string) (*Groups, error) {
	g := &Groups{ips: make(map[string]net.IP)}
	if list == "" {
		return nil, errors.New("empty multicast group list")
	}
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ip := net.ParseIP(p)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return nil, fmt.Errorf("%q is not an IPv4 multicast address", p)
		}
		if _, dup := g.ips[p]; dup {
			continue
		}
		g.groups = append(g.groups, p)
		g.ips[p] = ip.To4()
	}
	if len(g.groups) == 0 {
		return nil, errors.New("no valid multicast groups")
	}
	return g, nil
}

// Members returns the configured groups in iteration order.
func (g *Groups) Members() []string { return g.groups }

// Group returns the group that carries topic.
func (g *Groups) Group(topic string) string {
	var best string
	var bestScore uint64
	for _, n := range g.groups {
		score := xxhash.Sum64String(n + "|" + topic)
		if best == "" || score > bestScore {
			best = n
			bestScore = score
		}
	}
	return best
}

// Locator returns the multicast locator readers of topic listen on.
func (g *Groups) Locator(topic string, port uint32) locator.Locator {
	return locator.NewUDPv4(g.ips[g.Group(topic)], port)
}
