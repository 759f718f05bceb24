package transport

import "sync"

// mailbox runs queued callbacks one at a time, in enqueue order, on its own
// goroutine, so a transport never calls a handler while holding its locks.
type mailbox struct {
	mu      sync.Mutex
	pending []func()
	held    bool
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newMailbox() *mailbox {
	return startMailbox(false)
}

// newHeldMailbox queues callbacks without running them until open is called.
func newHeldMailbox() *mailbox {
	return startMailbox(true)
}

func startMailbox(held bool) *mailbox {
	m := &mailbox{
		held:   held,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go m.deliver()
	return m
}

// enqueue never blocks, the mailbox is unbounded.
func (m *mailbox) enqueue(call func()) {
	m.mu.Lock()
	m.pending = append(m.pending, call)
	m.mu.Unlock()
	m.wake()
}

// open runs first ahead of everything queued so far and starts delivery.
func (m *mailbox) open(first func()) {
	m.mu.Lock()
	m.pending = append([]func(){first}, m.pending...)
	m.held = false
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// close stops delivery once the callbacks already queued have run.
// A mailbox closed while held drops them.
func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) deliver() {
	for {
		m.mu.Lock()
		var batch []func()
		if !m.held {
			batch = m.pending
			m.pending = nil
		}
		m.mu.Unlock()

		for _, call := range batch {
			call()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-m.notify:
		case <-m.done:
			m.mu.Lock()
			remaining := len(m.pending)
			held := m.held
			m.mu.Unlock()
			if remaining == 0 || held {
				return
			}
		}
	}
}
