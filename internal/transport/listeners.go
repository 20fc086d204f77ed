package transport

import "sync"

// listenerRegistry fans lifecycle and inbound events out to
// subscribers. Every On* method returns a disposer; callers invoke it
// on view teardown so a dead screen stops receiving callbacks.
type listenerRegistry struct {
	mu           sync.Mutex
	next         int
	connected    map[int]func()
	disconnected map[int]func()
	errors       map[int]func(string)
	events       map[int]func(interface{})
}

// OnConnected registers fn to run after every successful connect,
// including reconnects. Returns the unsubscribe closure.
func (t *Transport) OnConnected(fn func()) func() {
	r := &t.listeners
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected == nil {
		r.connected = make(map[int]func())
	}
	id := r.next
	r.next++
	r.connected[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.connected, id)
	}
}

// OnDisconnected registers fn to run on every connection loss or
// explicit Disconnect. Returns the unsubscribe closure.
func (t *Transport) OnDisconnected(fn func()) func() {
	r := &t.listeners
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnected == nil {
		r.disconnected = make(map[int]func())
	}
	id := r.next
	r.next++
	r.disconnected[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.disconnected, id)
	}
}

// OnError registers fn for transport errors: server error frames and
// terminal reconnect failure. Returns the unsubscribe closure.
func (t *Transport) OnError(fn func(message string)) func() {
	r := &t.listeners
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errors == nil {
		r.errors = make(map[int]func(string))
	}
	id := r.next
	r.next++
	r.errors[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.errors, id)
	}
}

// OnEvent registers fn for every decoded inbound event except error
// frames, which go through OnError. Returns the unsubscribe closure.
func (t *Transport) OnEvent(fn func(event interface{})) func() {
	r := &t.listeners
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[int]func(interface{}))
	}
	id := r.next
	r.next++
	r.events[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.events, id)
	}
}

func (r *listenerRegistry) notifyConnected() {
	for _, fn := range r.snapshot(r.connected) {
		fn()
	}
}

func (r *listenerRegistry) notifyDisconnected() {
	for _, fn := range r.snapshot(r.disconnected) {
		fn()
	}
}

func (r *listenerRegistry) notifyError(message string) {
	r.mu.Lock()
	fns := make([]func(string), 0, len(r.errors))
	for _, fn := range r.errors {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(message)
	}
}

func (r *listenerRegistry) notifyEvent(event interface{}) {
	r.mu.Lock()
	fns := make([]func(interface{}), 0, len(r.events))
	for _, fn := range r.events {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

// snapshot copies the listener set so callbacks run without the lock
// held and may themselves subscribe or unsubscribe.
func (r *listenerRegistry) snapshot(m map[int]func()) []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fns := make([]func(), 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	return fns
}
