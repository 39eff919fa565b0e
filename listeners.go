package douki

import "reflect"

// MaxEventTypes defines the maximum number of distinct event types a
// Listeners instance dispatches.
const MaxEventTypes = 32

// Listeners routes replication events to subscribed handlers. Handlers run
// synchronously, in subscription order, on the goroutine that publishes.
// Subscribing is not safe concurrently with publishing; wire all handlers
// before the replication loop starts.
//
// Published *ValueChangeEvent values are pooled and only valid for the
// duration of the handler call.
type Listeners struct {
	eventTypeMap    map[reflect.Type]uint8
	handlers        [MaxEventTypes][]any
	nextEventTypeID uint8
}

// NewListeners returns an empty dispatcher.
func NewListeners() *Listeners {
	return &Listeners{eventTypeMap: make(map[reflect.Type]uint8, 4)}
}

// Subscribe registers handler for events of type T.
//
// Parameters:
//   - l: The dispatcher to subscribe to.
//   - handler: A function that takes a single argument of type `T`.
func Subscribe[T any](l *Listeners, handler func(T)) {
	id := l.getEventTypeID(reflect.TypeFor[T]())
	if cap(l.handlers[id]) == 0 {
		l.handlers[id] = make([]any, 0, 4)
	}
	l.handlers[id] = append(l.handlers[id], handler)
}

// SubscribeValueChanges registers handler for value change events with the
// given explanation only.
func SubscribeValueChanges(l *Listeners, explanation Explanation, handler func(*ValueChangeEvent)) {
	Subscribe(l, func(e *ValueChangeEvent) {
		if e.Explanation == explanation {
			handler(e)
		}
	})
}

// Publish delivers event to every handler subscribed to T. It does not
// allocate.
func Publish[T any](l *Listeners, event T) {
	if l == nil {
		return
	}
	if id, ok := l.eventTypeMap[reflect.TypeFor[T]()]; ok {
		for _, h := range l.handlers[id] {
			h.(func(T))(event)
		}
	}
}

// HasSubscribers reports whether any handler listens for T. Publishers use
// it to skip building events nobody will see.
func HasSubscribers[T any](l *Listeners) bool {
	if l == nil {
		return false
	}
	id, ok := l.eventTypeMap[reflect.TypeFor[T]()]
	return ok && len(l.handlers[id]) > 0
}

// getEventTypeID retrieves or assigns an ID for the event type.
func (l *Listeners) getEventTypeID(t reflect.Type) uint8 {
	if l.eventTypeMap == nil {
		l.eventTypeMap = make(map[reflect.Type]uint8)
	}
	if id, ok := l.eventTypeMap[t]; ok {
		return id
	}
	if int(l.nextEventTypeID) >= MaxEventTypes {
		panic("douki: too many event types")
	}
	id := l.nextEventTypeID
	l.nextEventTypeID++
	l.eventTypeMap[t] = id
	return id
}
