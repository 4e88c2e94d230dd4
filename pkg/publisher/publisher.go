// Package publisher drives one shape writer: it joins a domain, binds the
// shape topic and writes a sine-wave square once per interval until the
// sample count is reached or the context is cancelled.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"redalf.de/shapes/pkg/bus"
	"redalf.de/shapes/pkg/console"
	"redalf.de/shapes/pkg/discovery"
	"redalf.de/shapes/pkg/log"
	"redalf.de/shapes/pkg/metrics"
	"redalf.de/shapes/pkg/motion"
	"redalf.de/shapes/pkg/shape"
)

// ErrSessionClosed is returned by Run on a session that already ran.
var ErrSessionClosed = errors.New("publisher: session already ran")

// State is the lifecycle position of a Session.
type State int32

const (
	Created State = iota
	Connected
	Publishing
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Connected:
		return "connected"
	case Publishing:
		return "publishing"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// PhaseError is a fatal error tagged with the phase it happened in.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return e.Phase + ": " + e.Err.Error() }

func (e *PhaseError) Unwrap() error { return e.Err }

// Config selects what to publish and where.
type Config struct {
	DomainID uint32
	// SampleCount of 0 publishes until cancelled.
	SampleCount uint64
	TopicName   string
	Interval    time.Duration
	Color       string
	Bounds      motion.Bounds
	Wave        motion.Wave
	Fill        shape.FillKind
}

// DefaultConfig publishes an orange square on "Square" once a second.
func DefaultConfig() Config {
	return Config{
		TopicName: "Square",
		Interval:  time.Second,
		Color:     "ORANGE",
		Bounds:    motion.DefaultBounds,
		Wave:      motion.DefaultWave,
		Fill:      shape.SolidFill,
	}
}

type Option func(*Session)

// WithClock replaces the wall clock used for pacing.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clk = c }
}

// WithConsole sets where the banner and match reports are printed.
func WithConsole(p *console.Printer) Option {
	return func(s *Session) { s.out = p }
}

// Session publishes samples for a single Run.
type Session struct {
	bus bus.Bus
	cfg Config
	clk clock.Clock
	out *console.Printer

	started  atomic.Bool
	state    atomic.Int32
	written  atomic.Uint64
	lastX    atomic.Int32
	lastY    atomic.Int32
	observer atomic.Pointer[discovery.Observer]
}

func New(b bus.Bus, cfg Config, opts ...Option) *Session {
	s := &Session{bus: b, cfg: cfg, clk: clock.New(), out: console.Stdout}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Written returns the number of samples written so far.
func (s *Session) Written() uint64 { return s.written.Load() }

// Status is a point-in-time view of a Session.
type Status struct {
	State    string `json:"state"`
	DomainID uint32 `json:"domain_id"`
	Topic    string `json:"topic"`
	Written  uint64 `json:"written"`
	Matched  int    `json:"matched"`
	LastX    int32  `json:"last_x"`
	LastY    int32  `json:"last_y"`
}

func (s *Session) Status() Status {
	st := Status{
		State:    s.State().String(),
		DomainID: s.cfg.DomainID,
		Topic:    s.cfg.TopicName,
		Written:  s.Written(),
		LastX:    s.lastX.Load(),
		LastY:    s.lastY.Load(),
	}
	if o := s.observer.Load(); o != nil {
		st.Matched = o.Matched()
	}
	return st
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	metrics.SetSessionState(int(st))
	log.Debug("publisher: %s", st)
}

// Run publishes until the sample count is reached or ctx is done. Cancellation
// is not an error. Fatal failures are returned as *PhaseError. Run may only be
// called once.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}

	sess, err := s.bus.Connect(ctx, s.cfg.DomainID)
	if err != nil {
		s.setState(Closed)
		return &PhaseError{Phase: "connect", Err: wrapSentinel(bus.ErrConnection, err)}
	}
	s.setState(Connected)

	var w bus.Writer
	defer func() {
		s.setState(Draining)
		var teardown error
		if w != nil {
			teardown = multierr.Append(teardown, w.Close())
		}
		teardown = multierr.Append(teardown, sess.Close())
		s.setState(Closed)
		if teardown != nil {
			if err == nil {
				err = &PhaseError{Phase: "teardown", Err: teardown}
			} else {
				log.Warn("publisher: teardown: %v", teardown)
			}
		}
	}()

	topic, err := sess.BindTopic(s.cfg.TopicName, shape.Descriptor())
	if err != nil {
		return &PhaseError{Phase: "bind", Err: wrapSentinel(bus.ErrTopic, err)}
	}

	obs := discovery.New(sess, s.out)
	s.observer.Store(obs)
	w, err = sess.CreateWriter(topic, obs)
	if err != nil {
		return &PhaseError{Phase: "writer", Err: wrapSentinel(bus.ErrTopic, err)}
	}

	s.banner(sess.Info())
	s.setState(Publishing)
	return s.loop(ctx, w)
}

func (s *Session) loop(ctx context.Context, w bus.Writer) error {
	gen := motion.New(s.cfg.Bounds, s.cfg.Wave)
	sample := shape.Sample{
		Color: s.cfg.Color,
		Size:  int32(s.cfg.Bounds.ShapeSize),
		Fill:  s.cfg.Fill,
	}

	for s.cfg.SampleCount == 0 || s.Written() < s.cfg.SampleCount {
		if ctx.Err() != nil {
			log.Info("publisher: cancelled after %d samples", s.Written())
			return nil
		}

		x, y := gen.Next()
		sample.X, sample.Y = int32(x), int32(y)
		if err := s.write(ctx, w, sample); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &PhaseError{Phase: "publish", Err: wrapSentinel(bus.ErrPublish, err)}
		}
		s.lastX.Store(sample.X)
		s.lastY.Store(sample.Y)
		log.Debug("publisher: wrote %s", sample)

		s.sleep(ctx)
		s.written.Add(1)
		metrics.IncSamplesWritten()
	}
	log.Info("publisher: wrote %d samples", s.Written())
	return nil
}

// write retries a failed write once before giving up.
func (s *Session) write(ctx context.Context, w bus.Writer, sample shape.Sample) error {
	err := w.Write(ctx, sample)
	if err == nil {
		return nil
	}
	metrics.IncPublishErrors()
	log.Warn("publisher: write failed, retrying: %v", err)
	if err = w.Write(ctx, sample); err != nil {
		metrics.IncPublishErrors()
		return err
	}
	return nil
}

// sleep waits one interval or until ctx is done.
func (s *Session) sleep(ctx context.Context) {
	t := s.clk.Timer(s.cfg.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Session) banner(info bus.ParticipantInfo) {
	lines := []string{"Participant initial peers:"}
	for _, p := range info.InitialPeers {
		lines = append(lines, "\t"+p)
	}
	lines = append(lines, "Participant multicast receive addresses:")
	for _, a := range info.MulticastReceiveAddresses {
		lines = append(lines, "\t"+a)
	}
	s.out.Block(lines...)
	s.out.Printf("Writing an %s square sine pattern. Ctrl+c to exit", s.cfg.Color)
}

func wrapSentinel(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
