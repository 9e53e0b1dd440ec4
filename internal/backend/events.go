package backend

import "sync"

// Emitter is a small auth-event fan-out shared by backend implementations.
// Listeners are invoked synchronously in registration order; tests can fire
// events without a real backend.
type Emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]AuthListener
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[int]AuthListener)}
}

// Subscribe registers a listener and returns its unsubscribe handle.
func (e *Emitter) Subscribe(l AuthListener) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// Emit delivers the event to every registered listener.
func (e *Emitter) Emit(ev AuthEvent) {
	e.mu.Lock()
	ls := make([]AuthListener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	e.mu.Unlock()

	for _, l := range ls {
		l(ev)
	}
}
