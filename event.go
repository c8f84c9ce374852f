package vividcore

// eventJump is the synthetic event name the jump phase dispatches
// internally (spec.md §4.5); init/entry/exit are not separate events here
// since declared operations are recorded once by Builder and replayed
// directly by phase (enter/callExit/invokeOnEvent), rather than redelivered
// through the StateFunc as distinct phase events the way the original
// phase-multiplexed callback did (spec.md REDESIGN FLAGS).
const eventJump = "jump"

// EventOption configures a single QueueEvent call.
type EventOption func(*eventOptions)

type eventOptions struct {
	static     []byte
	dynamic    any
	destructor func(any)
}

// WithStaticParam attaches a STATIC-mode parameter, copied into the queue
// (its preallocated slab in mutex mode; a buffer allocated per push in
// lock-free mode). Rejected at push time if it exceeds the
// chart's computed max parameter size.
func WithStaticParam(b []byte) EventOption {
	return func(o *eventOptions) { o.static = b }
}

// WithDynamicParam attaches a DYNAMIC-mode parameter: an
// already-allocated payload plus a destructor the queue invokes exactly
// once, either when the event is popped for processing or when the chart
// is closed with the event still unprocessed. If the queue is full,
// QueueEvent invokes the destructor itself before returning its error.
func WithDynamicParam(payload any, destructor func(any)) EventOption {
	return func(o *eventOptions) {
		o.dynamic = payload
		o.destructor = destructor
	}
}
