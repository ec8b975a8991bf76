package store

import "sync"

// hub fans document changes out to path subscribers. Each subscriber owns a
// goroutine and an unbounded queue, so publishing never blocks on a slow
// callback and callbacks may write back into the store.
type hub struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]*subscriber
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[uint64]*subscriber)}
}

// add registers fn on path and queues initial as its first delivery. The
// caller must hold whatever lock orders initial against later publishes.
func (h *hub) add(path string, initial Snapshot, fn func(Snapshot)) Unsubscribe {
	sub := &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.next++
	id := h.next
	if h.subs[path] == nil {
		h.subs[path] = make(map[uint64]*subscriber)
	}
	h.subs[path][id] = sub
	h.mu.Unlock()

	sub.enqueue(initial)
	go sub.run()

	return func() {
		h.mu.Lock()
		if m := h.subs[path]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(h.subs, path)
			}
		}
		h.mu.Unlock()
		sub.stop()
	}
}

func (h *hub) publish(path string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[path] {
		sub.enqueue(snap)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for path, m := range h.subs {
		for _, sub := range m {
			sub.stop()
		}
		delete(h.subs, path)
	}
}

type subscriber struct {
	fn   func(Snapshot)
	mu   sync.Mutex
	q    []Snapshot
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *subscriber) enqueue(snap Snapshot) {
	s.mu.Lock()
	s.q = append(s.q, snap)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.q) == 0 {
				s.mu.Unlock()
				break
			}
			snap := s.q[0]
			s.q = s.q[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(snap)
		}
	}
}
