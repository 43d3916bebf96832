package cache

import (
	"fmt"
	"reflect"
)

type EventType int

const (
	EventInsert EventType = iota
	EventRemove
	EventClear
)

func (t EventType) String() string {
	switch t {
	case EventInsert:
		return "insert"
	case EventRemove:
		return "remove"
	case EventClear:
		return "clear"
	default:
		return "unknown"
	}
}

// EventPayload is the key that changed and the value involved in the change.
type EventPayload[K comparable, V any] struct {
	Key   K
	Value V
}

// Event describes a single committed mutation of a cache. The set of
// implementations is closed: InsertEvent, RemoveEvent and ClearEvent.
type Event[K comparable, V any] interface {
	Type() EventType
	isEvent(EventPayload[K, V])
}

// InsertEvent is emitted when a key is added or its value is replaced.
// The payload carries the new value.
type InsertEvent[K comparable, V any] struct {
	payload EventPayload[K, V]
}

func (InsertEvent[K, V]) isEvent(EventPayload[K, V]) {}

func (InsertEvent[K, V]) Type() EventType { return EventInsert }

func (e InsertEvent[K, V]) Key() K { return e.payload.Key }

func (e InsertEvent[K, V]) Value() V { return e.payload.Value }

func (e InsertEvent[K, V]) Payload() EventPayload[K, V] { return e.payload }

// RemoveEvent is emitted when a key is deleted, evicted or expires.
// The payload carries the value that was resident right before removal.
type RemoveEvent[K comparable, V any] struct {
	payload EventPayload[K, V]
}

func (RemoveEvent[K, V]) isEvent(EventPayload[K, V]) {}

func (RemoveEvent[K, V]) Type() EventType { return EventRemove }

func (e RemoveEvent[K, V]) Key() K { return e.payload.Key }

func (e RemoveEvent[K, V]) Value() V { return e.payload.Value }

func (e RemoveEvent[K, V]) Payload() EventPayload[K, V] { return e.payload }

// ClearEvent is emitted once when the whole cache is emptied. It carries no
// per-key data; it is not a shorthand for a series of RemoveEvents.
type ClearEvent[K comparable, V any] struct{}

func (ClearEvent[K, V]) isEvent(EventPayload[K, V]) {}

func (ClearEvent[K, V]) Type() EventType { return EventClear }

func newInsertEvent[K comparable, V any](key K, value V) Event[K, V] {
	return InsertEvent[K, V]{payload: EventPayload[K, V]{Key: key, Value: value}}
}

func newRemoveEvent[K comparable, V any](key K, value V) Event[K, V] {
	return RemoveEvent[K, V]{payload: EventPayload[K, V]{Key: key, Value: value}}
}

func newClearEvent[K comparable, V any]() Event[K, V] {
	return ClearEvent[K, V]{}
}

// EventsEqual reports whether two events have the same variant and equal
// payloads. Unlike ==, it does not panic for non-comparable value types.
func EventsEqual[K comparable, V any](a, b Event[K, V]) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Observer handles every kind of event. Implementations must provide all
// three methods, so a new event kind is a compile-time break for observers.
type Observer[K comparable, V any] interface {
	OnInsert(EventPayload[K, V])
	OnRemove(EventPayload[K, V])
	OnClear()
}

// Dispatch routes ev to the observer method matching its kind. It panics
// on an implementation outside the three event kinds, such as a pointer.
func Dispatch[K comparable, V any](ev Event[K, V], o Observer[K, V]) {
	switch e := ev.(type) {
	case InsertEvent[K, V]:
		o.OnInsert(e.payload)
	case RemoveEvent[K, V]:
		o.OnRemove(e.payload)
	case ClearEvent[K, V]:
		o.OnClear()
	default:
		panic(fmt.Sprintf("go-cache: unknown event implementation %T", ev))
	}
}
