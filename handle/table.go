// Package handle maps the small integer handles the engine passes around
// (graphics contexts, audio contexts) to Go values. Handle 0 is reserved and
// always invalid, matching the Emscripten convention of 0 meaning failure.
package handle

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("handle table closed")

// Handle is an opaque reference to a value in a table.
type Handle uint32

// Type identifiers for the values kept in tables.
const (
	TypeGraphicsContext uint32 = iota + 1
	TypeAudioContext
)

type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event represents a handle lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// Dropper is implemented by values that release host resources when their
// handle is removed.
type Dropper interface {
	Drop()
}

type entry struct {
	value  any
	typeID uint32
	valid  bool
}

// Table allocates handles, reusing freed ones.
type Table struct {
	entries   []entry
	freeList  []Handle
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 8),
		freeList: make([]Handle, 0, 4),
	}
}

// Insert adds a value and returns its handle, or 0 once the table is closed.
func (t *Table) Insert(typeID uint32, value any) Handle {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}

	e := entry{typeID: typeID, value: value, valid: true}
	var h Handle
	if n := len(t.freeList); n > 0 {
		h = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[h-1] = e
	} else {
		t.entries = append(t.entries, e)
		h = Handle(len(t.entries))
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, TypeID: typeID, Value: value})
	return h
}

// Get retrieves a value by handle.
func (t *Table) Get(h Handle) (any, bool) {
	if h == 0 {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(h) > len(t.entries) {
		return nil, false
	}
	e := t.entries[h-1]
	if !e.valid {
		return nil, false
	}
	return e.value, true
}

// GetTyped retrieves a value only if it was inserted with typeID.
func (t *Table) GetTyped(h Handle, typeID uint32) (any, bool) {
	if h == 0 {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(h) > len(t.entries) {
		return nil, false
	}
	e := t.entries[h-1]
	if !e.valid || e.typeID != typeID {
		return nil, false
	}
	return e.value, true
}

// Remove drops a handle and returns (value, true) if it was live.
// Values implementing Dropper are dropped.
func (t *Table) Remove(h Handle) (any, bool) {
	if h == 0 {
		return nil, false
	}

	t.mu.Lock()
	if int(h) > len(t.entries) || !t.entries[h-1].valid {
		t.mu.Unlock()
		return nil, false
	}
	e := t.entries[h-1]
	t.entries[h-1] = entry{}
	t.freeList = append(t.freeList, h)
	t.mu.Unlock()

	if d, ok := e.value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{Type: EventDropped, Handle: h, TypeID: e.typeID, Value: e.value})
	return e.value, true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) - len(t.freeList)
}

// Clear drops every live handle.
func (t *Table) Clear() {
	t.mu.RLock()
	var live []Handle
	for i, e := range t.entries {
		if e.valid {
			live = append(live, Handle(i+1))
		}
	}
	t.mu.RUnlock()

	for _, h := range live {
		t.Remove(h)
	}
}

// Close drops every handle and stops accepting inserts.
func (t *Table) Close() error {
	t.Clear()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
