package localbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"redalf.de/shapes/pkg/bus"
	"redalf.de/shapes/pkg/locator"
	plog "redalf.de/shapes/pkg/log"
	"redalf.de/shapes/pkg/topic"
	"redalf.de/shapes/pkg/udpalloc"
)

type session struct {
	bus     *Bus
	dom     *domain
	handle  bus.PeerHandle
	pair    udpalloc.Pair
	release func()
	unicast net.IP

	mu      sync.Mutex
	closed  bool
	writers map[bus.PeerHandle]*writer
	readers map[bus.PeerHandle]*reader
}

func newSession(b *Bus, d *domain, pair udpalloc.Pair, release func()) *session {
	return &session{
		bus:     b,
		dom:     d,
		handle:  bus.PeerHandle(uuid.NewString()),
		pair:    pair,
		release: release,
		unicast: net.ParseIP(b.cfg.UnicastAddress),
		writers: make(map[bus.PeerHandle]*writer),
		readers: make(map[bus.PeerHandle]*reader),
	}
}

func (s *session) Info() bus.ParticipantInfo {
	info := bus.ParticipantInfo{
		Handle:       s.handle,
		DomainID:     s.dom.id,
		InitialPeers: append([]string(nil), s.bus.cfg.InitialPeers...),
		DefaultUnicastLocators: []locator.Locator{
			locator.NewUDPv4(s.unicast, uint32(s.pair.Meta)),
			locator.NewUDPv4(s.unicast, uint32(s.pair.User)),
		},
	}
	port := s.bus.metaMulticastPort(s.dom.id)
	for _, g := range s.bus.groups.Members() {
		info.MulticastReceiveAddresses = append(info.MulticastReceiveAddresses, fmt.Sprintf("udpv4://%s:%d", g, port))
	}
	return info
}

func (s *session) LookupPeer(h bus.PeerHandle) (bus.PeerInfo, error) {
	info, ok := s.dom.peers.Load(h)
	if !ok {
		return bus.PeerInfo{}, fmt.Errorf("%w: %s", bus.ErrNotFound, h)
	}
	return info, nil
}

func (s *session) BindTopic(name string, td bus.TypeDescriptor) (bus.Topic, error) {
	if err := s.checkOpen(); err != nil {
		return bus.Topic{}, fmt.Errorf("%w: %w", bus.ErrTopic, err)
	}
	if name == "" {
		return bus.Topic{}, fmt.Errorf("%w: empty topic name", bus.ErrTopic)
	}
	if td.Name == "" {
		return bus.Topic{}, fmt.Errorf("%w: topic %q has no type name", bus.ErrTopic, name)
	}
	if _, err := s.dom.topics.Ensure(name, td.Name, td.Signature()); err != nil {
		return bus.Topic{}, fmt.Errorf("%w: topic %q type %q: %v", bus.ErrTopic, name, td.Name, err)
	}
	return bus.Topic{Name: name, Type: td}, nil
}

func (s *session) CreateWriter(t bus.Topic, l bus.MatchListener) (bus.Writer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	// the topic may have expired between bind and create
	if _, err := s.dom.topics.Ensure(t.Name, t.Type.Name, t.Type.Signature()); err != nil {
		return nil, fmt.Errorf("%w: topic %q: %v", bus.ErrTopic, t.Name, err)
	}

	w := &writer{sess: s, topic: t.Name, handle: bus.PeerHandle(uuid.NewString())}
	var notify func(topic.MatchNote)
	if l != nil {
		notify = func(n topic.MatchNote) {
			l.OnMatch(bus.MatchEvent{
				Peer:         bus.PeerHandle(n.Reader),
				Matched:      n.Matched,
				CurrentCount: n.CurrentCount,
				TotalCount:   n.TotalCount,
			})
		}
	}
	w.ep = topic.NewWriterEndpoint(string(w.handle), notify)
	if err := s.dom.topics.RegisterWriter(t.Name, w.ep); err != nil {
		return nil, fmt.Errorf("%w: writer on %q: %v", bus.ErrTopic, t.Name, err)
	}

	s.mu.Lock()
	s.writers[w.handle] = w
	s.mu.Unlock()
	plog.Debug("localbus: writer %s created on %q", w.handle, t.Name)
	return w, nil
}

func (s *session) CreateReader(t bus.Topic) (bus.Reader, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := s.dom.topics.Ensure(t.Name, t.Type.Name, t.Type.Signature()); err != nil {
		return nil, fmt.Errorf("%w: topic %q: %v", bus.ErrTopic, t.Name, err)
	}

	r := &reader{
		sess:   s,
		topic:  t.Name,
		handle: bus.PeerHandle(uuid.NewString()),
		out:    make(chan bus.Delivery, s.bus.cfg.Topic.ReaderQueueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	r.ep = topic.NewReaderEndpoint(string(r.handle), s.bus.cfg.Topic.ReaderQueueSize)

	// metadata goes in first so matched writers can resolve it
	s.dom.peers.Store(r.handle, bus.PeerInfo{
		Handle:            r.handle,
		Participant:       s.handle,
		TopicName:         t.Name,
		TypeName:          t.Type.Name,
		UnicastLocators:   []locator.Locator{locator.NewUDPv4(s.unicast, uint32(s.pair.User))},
		MulticastLocators: []locator.Locator{s.bus.groups.Locator(t.Name, s.bus.userMulticastPort(s.dom.id))},
	})
	if err := s.dom.topics.RegisterReader(t.Name, r.ep); err != nil {
		s.dom.peers.Delete(r.handle)
		return nil, fmt.Errorf("%w: reader on %q: %v", bus.ErrTopic, t.Name, err)
	}
	go r.pump()

	s.mu.Lock()
	s.readers[r.handle] = r
	s.mu.Unlock()
	plog.Debug("localbus: reader %s created on %q", r.handle, t.Name)
	return r, nil
}

// Close closes every endpoint of the session and releases its ports.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	writers := make([]*writer, 0, len(s.writers))
	for _, w := range s.writers {
		writers = append(writers, w)
	}
	readers := make([]*reader, 0, len(s.readers))
	for _, r := range s.readers {
		readers = append(readers, r)
	}
	s.mu.Unlock()

	var err error
	for _, w := range writers {
		err = multierr.Append(err, w.Close())
	}
	for _, r := range readers {
		err = multierr.Append(err, r.Close())
	}
	s.release()
	s.bus.leave(s.dom)
	plog.Info("localbus: participant %s left domain %d", s.handle, s.dom.id)
	return err
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return bus.ErrClosed
	}
	return nil
}

func (s *session) forgetWriter(h bus.PeerHandle) {
	s.mu.Lock()
	delete(s.writers, h)
	s.mu.Unlock()
}

func (s *session) forgetReader(h bus.PeerHandle) {
	s.mu.Lock()
	delete(s.readers, h)
	s.mu.Unlock()
}

type writer struct {
	sess   *session
	topic  string
	handle bus.PeerHandle
	ep     *topic.WriterEndpoint
	seq    atomic.Uint64
	closed atomic.Bool
}

func (w *writer) Handle() bus.PeerHandle { return w.handle }

func (w *writer) Matched() []bus.PeerHandle {
	ids := w.ep.Matched()
	out := make([]bus.PeerHandle, len(ids))
	for i, id := range ids {
		out[i] = bus.PeerHandle(id)
	}
	return out
}

// Write hands sample to the topic. It never blocks on slow readers.
func (w *writer) Write(ctx context.Context, sample any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", bus.ErrPublish, err)
	}
	if w.closed.Load() {
		return fmt.Errorf("%w: %w", bus.ErrPublish, bus.ErrClosed)
	}
	s := &topic.Sample{WriterID: string(w.handle), Seq: w.seq.Add(1), Data: sample}
	if err := w.sess.dom.topics.Publish(w.topic, s); err != nil {
		return fmt.Errorf("%w: %q seq %d: %v", bus.ErrPublish, w.topic, s.Seq, err)
	}
	return nil
}

func (w *writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.sess.dom.topics.UnregisterWriter(w.topic, string(w.handle))
	w.sess.forgetWriter(w.handle)
	return nil
}

type reader struct {
	sess   *session
	topic  string
	handle bus.PeerHandle
	ep     *topic.ReaderEndpoint
	out    chan bus.Delivery
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (r *reader) Handle() bus.PeerHandle { return r.handle }

// Samples is closed once the reader is closed.
func (r *reader) Samples() <-chan bus.Delivery { return r.out }

func (r *reader) pump() {
	defer close(r.exited)
	defer close(r.out)
	for {
		select {
		case <-r.done:
			return
		case s := <-r.ep.C():
			d := bus.Delivery{Writer: bus.PeerHandle(s.WriterID), Seq: s.Seq, Data: s.Data}
			select {
			case r.out <- d:
			case <-r.done:
				return
			}
		}
	}
}

func (r *reader) Close() error {
	r.once.Do(func() {
		r.sess.dom.topics.UnregisterReader(r.topic, string(r.handle))
		r.sess.dom.peers.Delete(r.handle)
		close(r.done)
		<-r.exited
		r.sess.forgetReader(r.handle)
	})
	return nil
}
