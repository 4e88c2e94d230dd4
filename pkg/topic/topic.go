package topic

import (
	"errors"
	"sort"
	"sync"
	"time"

	"redalf.de/shapes/pkg/metrics"
)

// Config holds configuration for a domain's topic Manager
type Config struct {
	MaxWriters         int
	MaxReadersPerTopic int
	WriterQueueSize    int
	ReaderQueueSize    int
	GracePeriod        time.Duration
}

// Manager manages the topics of one domain and the global writer count
type Manager struct {
	mu          sync.RWMutex
	topics      map[string]*Topic
	cfg         Config
	writerCount int
}

// NewManager creates a new Topic Manager
func NewManager(cfg Config) *Manager {
	return &Manager{topics: make(map[string]*Topic), cfg: cfg}
}

// Shutdown cleans up resources
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, t := range m.topics {
		t.Close()
		delete(m.topics, name)
	}
	m.writerCount = 0
}

// StatusJSON is a condensed status structure for admin
type StatusJSON struct {
	Topics      []TopicStatus `json:"topics"`
	WriterCount int           `json:"writer_count"`
}

// TopicStatus describes topic in status
type TopicStatus struct {
	Name        string   `json:"name"`
	TypeName    string   `json:"type_name"`
	Writers     []string `json:"writers"`
	ReaderCount int      `json:"reader_count"`
}

// Ensure returns the topic called name, creating it when missing. An
// existing topic bound with a different type signature is rejected.
func (m *Manager) Ensure(name, typeName string, sig uint64) (*Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.topics[name]; ok {
		if t.sig != sig {
			return nil, ErrTypeMismatch
		}
		return t, nil
	}
	t := NewTopic(name, typeName, sig, m.cfg)
	m.topics[name] = t
	return t, nil
}

// RegisterWriter attaches a writer to a topic. The writer is notified of
// every reader already present.
func (m *Manager) RegisterWriter(name string, w *WriterEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writerCount >= m.cfg.MaxWriters {
		return ErrMaxWriters
	}
	t, ok := m.topics[name]
	if !ok {
		return ErrUnknownTopic
	}
	if err := t.AddWriter(w); err != nil {
		return err
	}
	m.writerCount++
	metrics.AddActiveWriters(1)
	return nil
}

// UnregisterWriter removes a writer from topic
func (m *Manager) UnregisterWriter(name, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.topics[name]; ok {
		if t.RemoveWriter(id) {
			if m.writerCount > 0 {
				m.writerCount--
			}
			metrics.AddActiveWriters(-1)
		}
		m.scheduleExpiry(t)
	}
}

// RegisterReader attaches a reader; returns error if topic missing or limit reached
func (m *Manager) RegisterReader(name string, r *ReaderEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[name]
	if !ok {
		return ErrUnknownTopic
	}
	if t.ReaderCount() >= m.cfg.MaxReadersPerTopic {
		return ErrTopicMaxReaders
	}
	if err := t.AddReader(r); err != nil {
		return err
	}
	metrics.AddActiveReaders(1)
	return nil
}

// UnregisterReader removes a reader from a topic; matched writers are told.
func (m *Manager) UnregisterReader(name, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.topics[name]; ok {
		if t.RemoveReader(id) {
			metrics.AddActiveReaders(-1)
		}
		m.scheduleExpiry(t)
	}
}

// scheduleExpiry drops an idle topic after the grace period. m.mu must be held.
func (m *Manager) scheduleExpiry(t *Topic) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.writers) > 0 || len(t.readers) > 0 || t.closed {
		return
	}
	if t.graceTimer != nil {
		t.graceTimer.Stop()
	}
	t.graceTimer = time.AfterFunc(m.cfg.GracePeriod, func() { m.expire(t) })
}

func (m *Manager) expire(t *Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.topics[t.name]; !ok || cur != t || !t.Idle() {
		return
	}
	delete(m.topics, t.name)
	t.Close()
}

// Status returns a StatusJSON for admin
func (m *Manager) Status() StatusJSON {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := StatusJSON{WriterCount: m.writerCount}
	for _, t := range m.topics {
		st.Topics = append(st.Topics, t.Status())
	}
	sort.Slice(st.Topics, func(i, j int) bool { return st.Topics[i].Name < st.Topics[j].Name })
	return st
}

// Lookup returns the live topic called name.
func (m *Manager) Lookup(name string) (*Topic, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[name]
	return t, ok
}

// Publish pushes a sample into the topic inbound queue.
func (m *Manager) Publish(topicName string, s *Sample) error {
	t, ok := m.Lookup(topicName)
	if !ok {
		return ErrUnknownTopic
	}
	return t.Publish(s)
}

// Topic is a named, typed data channel with its matched endpoints
type Topic struct {
	name     string
	typeName string
	sig      uint64
	mu       sync.RWMutex
	writers  map[string]*WriterEndpoint
	readers  map[string]*ReaderEndpoint
	in       chan *Sample
	cfg      Config
	closed   bool
	// grace timer
	graceTimer *time.Timer
}

// NewTopic creates a topic and starts its dispatcher
func NewTopic(name, typeName string, sig uint64, cfg Config) *Topic {
	qsz := cfg.WriterQueueSize
	if qsz <= 0 {
		qsz = 1
	}
	t := &Topic{
		name:     name,
		typeName: typeName,
		sig:      sig,
		writers:  make(map[string]*WriterEndpoint),
		readers:  make(map[string]*ReaderEndpoint),
		in:       make(chan *Sample, qsz),
		cfg:      cfg,
	}
	go t.dispatcher()
	return t
}

// Name returns the topic name
func (t *Topic) Name() string { return t.name }

// TypeName returns the registered type name
func (t *Topic) TypeName() string { return t.typeName }

// dispatcher reads inbound samples and fans out to readers
func (t *Topic) dispatcher() {
	for s := range t.in {
		t.mu.RLock()
		for _, r := range t.readers {
			if !r.Enqueue(s) {
				metrics.IncSamplesDropped()
			}
		}
		t.mu.RUnlock()
	}
}

// Publish enqueues s. When the inbound queue is full the oldest sample is
// dropped to prioritize live data.
func (t *Topic) Publish(s *Sample) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTopicClosed
	}
	if _, ok := t.writers[s.WriterID]; !ok {
		return ErrUnknownWriter
	}
	select {
	case t.in <- s:
		return nil
	default:
	}
	select {
	case <-t.in:
		metrics.IncSamplesDropped()
	default:
	}
	select {
	case t.in <- s:
		return nil
	default:
		metrics.IncSamplesDropped()
		return ErrQueueFull
	}
}

// AddWriter registers a writer and queues a match for each existing reader
func (t *Topic) AddWriter(w *WriterEndpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTopicClosed
	}
	t.stopGrace()
	t.writers[w.id] = w
	w.start()
	for _, id := range t.sortedReaders() {
		w.match(id)
	}
	return nil
}

// RemoveWriter removes a writer and stops its notifications
func (t *Topic) RemoveWriter(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.writers[id]
	if !ok {
		return false
	}
	delete(t.writers, id)
	w.stop()
	return true
}

// AddReader registers a reader and tells every writer about it
func (t *Topic) AddReader(r *ReaderEndpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTopicClosed
	}
	t.stopGrace()
	t.readers[r.id] = r
	for _, w := range t.writers {
		w.match(r.id)
	}
	return nil
}

// RemoveReader unregisters a reader and tells every writer it is gone
func (t *Topic) RemoveReader(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.readers[id]; !ok {
		return false
	}
	delete(t.readers, id)
	for _, w := range t.writers {
		w.unmatch(id)
	}
	return true
}

// ReaderCount returns the number of readers
func (t *Topic) ReaderCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.readers)
}

// Idle reports whether the topic has no endpoints
func (t *Topic) Idle() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.writers) == 0 && len(t.readers) == 0
}

// Status describes the topic for admin
func (t *Topic) Status() TopicStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := TopicStatus{Name: t.name, TypeName: t.typeName, Writers: []string{}, ReaderCount: len(t.readers)}
	for id := range t.writers {
		st.Writers = append(st.Writers, id)
	}
	sort.Strings(st.Writers)
	return st
}

// Close cleans up topic
func (t *Topic) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.stopGrace()
	for _, w := range t.writers {
		w.stop()
	}
	if n := len(t.writers); n > 0 {
		metrics.AddActiveWriters(-int64(n))
	}
	if n := len(t.readers); n > 0 {
		metrics.AddActiveReaders(-int64(n))
	}
	// close inbound; the dispatcher exits once drained
	close(t.in)
	t.writers = make(map[string]*WriterEndpoint)
	t.readers = make(map[string]*ReaderEndpoint)
}

func (t *Topic) stopGrace() {
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
}

func (t *Topic) sortedReaders() []string {
	ids := make([]string, 0, len(t.readers))
	for id := range t.readers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var (
	ErrMaxWriters      = errors.New("max writers reached")
	ErrTopicMaxReaders = errors.New("topic max readers reached")
	ErrUnknownTopic    = errors.New("unknown topic")
	ErrUnknownWriter   = errors.New("writer not registered on topic")
	ErrTypeMismatch    = errors.New("topic already bound with a different type")
	ErrTopicClosed     = errors.New("topic closed")
	ErrQueueFull       = errors.New("topic queue full")
)

// Sample is one published value in flight
type Sample struct {
	WriterID string
	Seq      uint64
	Data     any
}
