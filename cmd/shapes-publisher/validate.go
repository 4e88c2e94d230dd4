package main

import (
	"fmt"
	"net"

	"redalf.de/shapes/pkg/config"
)

// validateParticipantPorts checks that need participant port pairs of domain
// can be bound on the unicast address. The sockets are closed again before
// returning.
func validateParticipantPorts(b config.Bus, domain uint32, need int) error {
	if b.PortBase == 0 {
		return fmt.Errorf("port base not set")
	}
	if (b.PortBase % 2) != 0 {
		return fmt.Errorf("port base must be even")
	}
	base := b.PortBase + b.DomainGain*int(domain) + 10
	var conns []net.PacketConn
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	free := 0
	var lastErr error
	for i := 0; i < b.MaxParticipants && free < need; i++ {
		p := base + b.ParticipantGain*i
		meta, err := net.ListenPacket("udp4", net.JoinHostPort(b.UnicastAddress, fmt.Sprint(p)))
		if err != nil {
			lastErr = err
			continue
		}
		user, err := net.ListenPacket("udp4", net.JoinHostPort(b.UnicastAddress, fmt.Sprint(p+1)))
		if err != nil {
			meta.Close()
			lastErr = err
			continue
		}
		conns = append(conns, meta, user)
		free++
	}
	if free < need {
		return fmt.Errorf("only %d of %d participant port pairs free in domain %d (last error: %v)", free, need, domain, lastErr)
	}
	return nil
}
