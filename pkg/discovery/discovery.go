// Package discovery reports the network locators of subscribers that match
// a writer.
package discovery

import (
	"errors"
	"fmt"
	"sync/atomic"

	"redalf.de/shapes/pkg/bus"
	"redalf.de/shapes/pkg/console"
	"redalf.de/shapes/pkg/locator"
	"redalf.de/shapes/pkg/log"
	"redalf.de/shapes/pkg/metrics"
)

// Observer prints the multicast locators of every subscriber that matches.
// It holds the resolver but does not own it.
type Observer struct {
	resolver bus.PeerResolver
	out      *console.Printer
	matched  atomic.Int64
}

// New returns an Observer writing to out (console.Stdout when nil).
func New(resolver bus.PeerResolver, out *console.Printer) *Observer {
	if out == nil {
		out = console.Stdout
	}
	return &Observer{resolver: resolver, out: out}
}

// Matched returns the subscriber count reported by the latest event.
func (o *Observer) Matched() int { return int(o.matched.Load()) }

// OnMatch implements bus.MatchListener.
func (o *Observer) OnMatch(ev bus.MatchEvent) {
	o.matched.Store(int64(ev.CurrentCount))
	metrics.IncMatchEvents(ev.Matched)
	metrics.SetMatchedSubscribers(ev.CurrentCount)

	if !ev.Matched {
		log.Info("subscriber %s unmatched, %d remaining", ev.Peer, ev.CurrentCount)
		return
	}

	info, err := o.resolver.LookupPeer(ev.Peer)
	if errors.Is(err, bus.ErrNotFound) {
		// the reader left before we got to it
		log.Debug("matched subscriber %s is gone: %v", ev.Peer, err)
		return
	}
	if err != nil {
		log.Warn("lookup of matched subscriber %s failed: %v", ev.Peer, err)
		return
	}

	lines := []string{fmt.Sprintf("on_publication_matched %s. Locators:", ev.Peer)}
	for _, l := range info.MulticastLocators {
		addr, ok, err := locator.Decode(l)
		if err != nil {
			metrics.IncLocatorDecodeErrors()
			log.Warn("subscriber %s: skipping locator %s: %v", ev.Peer, l, err)
			continue
		}
		if !ok {
			continue
		}
		lines = append(lines, "\t"+addr)
	}
	o.out.Block(lines...)
}
