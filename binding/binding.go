// Package binding declares the capability bundle a host must supply to run
// a vividcore chart: clock, mutex, async wake-up, timers, logging, and
// fatal-error escalation. The core never talks to a platform directly; it
// only ever talks to a Binding.
package binding

import "time"

// Clock abstracts monotonic time reads and a blocking delay, the latter
// exposed purely for test harnesses — the core itself never calls Sleep.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Mutex guards state shared between the owning task and event producers
// when a Chart runs in mutex mode. Never consulted in lock-free mode.
type Mutex interface {
	Lock()
	Unlock()
}

// AsyncEvent is a multi-producer-to-single-consumer wake-up channel. Trigger
// may be called from any goroutine and coalesces repeated triggers; the
// owning task is guaranteed at least one delivery of its callback after
// each Trigger.
type AsyncEvent interface {
	Trigger()
	Destroy()
}

// Timer is a one-shot timer in the binding's clock domain. The engine
// re-arms it explicitly via Start on every entry to the declaring state;
// it never relies on implicit periodic behavior.
type Timer interface {
	Start(d time.Duration)
	Stop()
	Destroy()
}

// Level mirrors the four severities the original binding contract exposed,
// plus NONE for a disabled logger.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// Str builds a string Field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Logger is the seam between the core and a structured-log backend. A nil
// Logger is valid and means "no logging" (NONE).
type Logger interface {
	Log(level Level, msg string, fields ...Field)
}

// ErrorKind enumerates the transient-runtime-error classes a Binding may
// report. CALLOC, LOCK_MUTEX and UNLOCK_MUTEX from the original contract
// are dropped: Go's allocator cannot fail this way (see DESIGN.md Open
// Question decision 3) and sync.Mutex cannot report lock/unlock failure.
type ErrorKind int

const (
	ErrorEvent ErrorKind = iota
	ErrorQueueEvent
	ErrorTriggerEvent
	ErrorTimer
	ErrorStartTimer
	ErrorStopTimer
	ErrorGetTime
	ErrorSleep
)

// String names an ErrorKind for log lines.
func (k ErrorKind) String() string {
	switch k {
	case ErrorEvent:
		return "event"
	case ErrorQueueEvent:
		return "queue_event"
	case ErrorTriggerEvent:
		return "trigger_event"
	case ErrorTimer:
		return "timer"
	case ErrorStartTimer:
		return "start_timer"
	case ErrorStopTimer:
		return "stop_timer"
	case ErrorGetTime:
		return "get_time"
	case ErrorSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// ErrorHook receives transient runtime errors the engine could not avoid
// but also did not consider fatal to the dispatch loop. It is free to
// abort the process, escalate elsewhere, or simply record the event; the
// engine makes no further guarantee beyond best effort once it has called
// the hook.
type ErrorHook interface {
	HandleError(kind ErrorKind)
}

// Binding is the full capability bundle a Chart is constructed with.
type Binding interface {
	// CreateEvent returns an AsyncEvent that invokes callback (on whatever
	// goroutine the binding chooses to run its dispatcher on) after each
	// Trigger.
	CreateEvent(callback func()) AsyncEvent

	// CreateTimer returns a Timer that invokes callback when it fires.
	CreateTimer(callback func()) Timer

	// Clock returns the binding's clock. Never nil.
	Clock() Clock

	// NewMutex returns a fresh Mutex. Never called in lock-free mode.
	NewMutex() Mutex

	// Logger returns the binding's structured logger, or nil for none.
	Logger() Logger

	// ErrorHook returns the binding's transient-error hook, or nil for
	// none.
	ErrorHook() ErrorHook
}
