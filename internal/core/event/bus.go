package event

import "reflect"

type queued struct {
	t  reflect.Type
	ev any
}

// Bus is a double-buffered event bus. Events emitted in tick N are
// dispatched in tick N+1, after SwapBuffers, in the order they were
// emitted across all types. Subscribe at startup; Emit and dispatch run on
// the tick goroutine.
type Bus struct {
	front    []queued
	back     []queued
	handlers map[reflect.Type][]func(any)
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]func(any))}
}

func typeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// Emit queues an event for the next tick.
func Emit[T any](b *Bus, event T) {
	b.back = append(b.back, queued{t: typeOf[T](), ev: event})
}

// Subscribe registers a handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	t := typeOf[T]()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

// SwapBuffers makes last tick's events dispatchable. Called once at tick
// start.
func (b *Bus) SwapBuffers() {
	clear(b.front)
	b.front, b.back = b.back, b.front[:0]
}

// DispatchAll delivers the swapped-in events and returns how many there
// were. Events emitted by handlers wait for the next swap.
func (b *Bus) DispatchAll() int {
	for _, q := range b.front {
		for _, h := range b.handlers[q.t] {
			h(q.ev)
		}
	}
	return len(b.front)
}

// Pending returns how many events of type T wait for the next swap.
func Pending[T any](b *Bus) int {
	t := typeOf[T]()
	n := 0
	for _, q := range b.back {
		if q.t == t {
			n++
		}
	}
	return n
}
