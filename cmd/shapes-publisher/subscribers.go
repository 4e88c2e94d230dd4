package main

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"redalf.de/shapes/pkg/bus"
	"redalf.de/shapes/pkg/config"
	plog "redalf.de/shapes/pkg/log"
	"redalf.de/shapes/pkg/shape"
)

// demoSubscribers are in-process readers that give the publisher someone to
// match with.
type demoSubscribers struct {
	sessions []bus.Session
	wg       sync.WaitGroup
}

// startSubscribers joins n readers to the publisher's topic. A subscriber
// that fails to start is logged and skipped.
func startSubscribers(ctx context.Context, b bus.Bus, p config.Publisher, n int) *demoSubscribers {
	d := &demoSubscribers{}
	for i := 0; i < n; i++ {
		sess, r, err := startSubscriber(ctx, b, p)
		if err != nil {
			plog.Warn("demo subscriber %d: %v", i, err)
			continue
		}
		d.sessions = append(d.sessions, sess)
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			for s := range r.Samples() {
				if !plog.DebugEnabled() {
					continue
				}
				plog.Debug("demo subscriber %d: %v from %s seq %d", id, s.Data, s.Writer, s.Seq)
			}
		}(i)
	}
	if len(d.sessions) > 0 {
		plog.Info("started %d demo subscribers on %q", len(d.sessions), p.Topic)
	}
	return d
}

func startSubscriber(ctx context.Context, b bus.Bus, p config.Publisher) (bus.Session, bus.Reader, error) {
	sess, err := b.Connect(ctx, p.Domain)
	if err != nil {
		return nil, nil, err
	}
	t, err := sess.BindTopic(p.Topic, shape.Descriptor())
	if err != nil {
		return nil, nil, multierr.Append(err, sess.Close())
	}
	r, err := sess.CreateReader(t)
	if err != nil {
		return nil, nil, multierr.Append(err, sess.Close())
	}
	return sess, r, nil
}

// Close leaves the domain and waits for the reader loops to drain.
func (d *demoSubscribers) Close() error {
	var err error
	for _, s := range d.sessions {
		err = multierr.Append(err, s.Close())
	}
	d.wg.Wait()
	if err != nil {
		plog.Warn("demo subscribers: %v", err)
	}
	return err
}
