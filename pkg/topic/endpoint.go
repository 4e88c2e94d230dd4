package topic

import (
	"sort"
	"sync"
)

// MatchNote is a match or unmatch delivered to a writer.
type MatchNote struct {
	Reader       string
	Matched      bool
	CurrentCount int
	TotalCount   int
}

// WriterEndpoint is a writer registered on a topic. Match notes are queued
// without blocking the topic and delivered in order from a dedicated
// goroutine. Removing the writer waits for that goroutine to exit, so notify
// must not remove its own writer.
type WriterEndpoint struct {
	id     string
	notify func(MatchNote)

	mu      sync.Mutex
	matched map[string]struct{}
	total   int
	pending []MatchNote
	wake    chan struct{}
	done    chan struct{}
	exited  chan struct{}
	started bool
	stopped bool
}

// NewWriterEndpoint creates a writer. notify may be nil.
func NewWriterEndpoint(id string, notify func(MatchNote)) *WriterEndpoint {
	return &WriterEndpoint{
		id:      id,
		notify:  notify,
		matched: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// ID returns the writer id
func (w *WriterEndpoint) ID() string { return w.id }

// Matched returns the ids of currently matched readers
func (w *WriterEndpoint) Matched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.matched))
	for id := range w.matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *WriterEndpoint) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.deliver()
}

// stop discards undelivered notes and returns once no notify call is
// running.
func (w *WriterEndpoint) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.pending = nil
	close(w.done)
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.exited
	}
}

func (w *WriterEndpoint) match(reader string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.matched[reader]; ok || w.stopped {
		return
	}
	w.matched[reader] = struct{}{}
	w.total++
	w.push(MatchNote{Reader: reader, Matched: true, CurrentCount: len(w.matched), TotalCount: w.total})
}

func (w *WriterEndpoint) unmatch(reader string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.matched[reader]; !ok || w.stopped {
		return
	}
	delete(w.matched, reader)
	w.push(MatchNote{Reader: reader, Matched: false, CurrentCount: len(w.matched), TotalCount: w.total})
}

// push queues n. w.mu must be held.
func (w *WriterEndpoint) push(n MatchNote) {
	if w.notify == nil {
		return
	}
	w.pending = append(w.pending, n)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *WriterEndpoint) deliver() {
	defer close(w.exited)
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()
		for _, n := range batch {
			select {
			case <-w.done:
				return
			default:
			}
			w.notify(n)
		}
	}
}

// ReaderEndpoint is a reader registered on a topic with a bounded queue
type ReaderEndpoint struct {
	id    string
	queue chan *Sample
}

// NewReaderEndpoint creates a reader with a queue
func NewReaderEndpoint(id string, queueSize int) *ReaderEndpoint {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &ReaderEndpoint{id: id, queue: make(chan *Sample, queueSize)}
}

// ID returns the reader id
func (r *ReaderEndpoint) ID() string { return r.id }

// C returns the receive side of the reader queue
func (r *ReaderEndpoint) C() <-chan *Sample { return r.queue }

// Enqueue on reader returns false if a sample was dropped
func (r *ReaderEndpoint) Enqueue(s *Sample) bool {
	select {
	case r.queue <- s:
		return true
	default:
		// drop oldest
		select {
		case <-r.queue:
		default:
		}
		select {
		case r.queue <- s:
		default:
		}
		return false
	}
}
