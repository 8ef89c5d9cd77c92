package core

import "sync"

// EventContext carries the payload of a fired event. Data holds one of the
// event structs below, depending on Code.
type EventContext struct {
	Code EventCode
	Data interface{}
}

// System internal event codes. Application should use codes beyond 255.
type EventCode int

const (
	// A resource moved from one state to another.
	/* Context usage:
	 * data := ctx.Data.(*ResourceEvent)
	 */
	EVENT_CODE_RESOURCE_STATE_CHANGED EventCode = 0x01

	// A resource finished realization on the device.
	/* Context usage:
	 * data := ctx.Data.(*ResourceEvent)
	 */
	EVENT_CODE_RESOURCE_REALIZED EventCode = 0x02

	// A resource released its device memory.
	/* Context usage:
	 * data := ctx.Data.(*ResourceEvent)
	 */
	EVENT_CODE_RESOURCE_DISPOSED EventCode = 0x03

	// Loading, decompressing or downloading a resource failed.
	/* Context usage:
	 * data := ctx.Data.(*ResourceEvent), data.Err is set
	 */
	EVENT_CODE_RESOURCE_FAILED EventCode = 0x04

	// The device backend reported a fatal failure; Reset is required.
	/* Context usage:
	 * data := ctx.Data.(error)
	 */
	EVENT_CODE_DEVICE_LOST EventCode = 0x05

	// A frame ring has been presented by the device thread.
	/* Context usage:
	 * data := ctx.Data.(fence.Fence) end fence of the ring
	 */
	EVENT_CODE_FRAME_PRESENTED EventCode = 0x06

	MAX_EVENT_CODE EventCode = 0xFF
)

// ResourceEvent describes a resource lifecycle event. Name and Kind are
// copied from the descriptor so listeners never touch the resource itself.
type ResourceEvent struct {
	Name string
	Kind string
	From string
	To   string
	Err  error
}

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// Should return true if handled.
type FnOnEvent func(code EventCode, sender interface{}, listenerInst interface{}, data EventContext) bool

// EventBus dispatches engine events to registered listeners. Callbacks run
// synchronously on the goroutine that fires the event, which for resource
// events is usually the device thread: keep them short.
type EventBus struct {
	mu         sync.RWMutex
	registered map[EventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[EventCode][]*registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listeners will not be registered again and will cause this to return false.
 * @param code The event code to listen for.
 * @param listener A pointer to a listener instance. Can be nil.
 * @param onEvent The callback function to be invoked when the event code is fired.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (eb *EventBus) Register(code EventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil {
		return false
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, e := range eb.registered[code] {
		if listener != nil && e.listener == listener {
			LogWarn("event listener already registered for code %d", code)
			return false
		}
	}
	eb.registered[code] = append(eb.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns false.
 */
func (eb *EventBus) Unregister(code EventCode, listener interface{}) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	events := eb.registered[code]
	for i, e := range events {
		if e.listener == listener {
			eb.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 * @returns true if handled, otherwise false.
 */
func (eb *EventBus) Fire(code EventCode, sender interface{}, context EventContext) bool {
	eb.mu.RLock()
	events := eb.registered[code]
	eb.mu.RUnlock()

	context.Code = code
	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}
