package vividcore

// StateFunc declares a node's sub-structure. Invoked exactly once, during
// the init walk, against a *Builder that records a slice of tagged
// declOp operations instead of the original C implementation's
// phase-multiplexed single callback (spec.md §9 "Phase multiplexing via a
// single callback function"). The engine replays the recorded operations
// on every subsequent phase (entry, exit, a named user event, jump)
// instead of re-invoking the StateFunc.
type StateFunc func(*Builder)

// Always is the guard used for an "else" jump clause, the Go equivalent of
// the original's guard-string "true" convention (spec.md §4.5).
func Always(*EventCtx) bool { return true }

type opKind int

const (
	opSubState opKind = iota
	opSubParallel
	opSubFinal
	opSubCondition
	opSubJunction
	opDefault
	opOnEntry
	opOnExit
	opOnEvent
	opOnEventParam
	opOnTimeout
	opJump
	opJumpParam
)

// declOp is one recorded declaration operation, the "tagged record" the
// REDESIGN FLAGS note calls for in place of macro-expansion dispatch.
type declOp struct {
	kind opKind

	// sub-state / sub-parallel / sub-final / sub-condition / sub-junction
	name string
	fn   StateFunc

	// default
	defaultName string

	// on-entry / on-exit
	action func(*EventCtx)

	// on-event / on-event-param
	event     string
	paramSize int
	guard     func(*EventCtx) bool
	target    StateFunc

	// on-timeout
	timerName string
	duration  durationFn

	// jump / jump-param
	paramEventName string
}

// durationFn is the closure OnTimeout takes to compute a timer's duration,
// in nanoseconds; it is called again each time the declaring state is
// entered, so the duration may change between arms.
type durationFn func() (nsec int64)

// Builder records the declarative operations a state body performs during
// the init walk. It is never reused across nodes and never replayed: after
// Builder collects a node's operations, the engine interprets that slice
// directly per spec.md §6.3.
type Builder struct {
	ops []declOp
}

func (b *Builder) subState(kind opKind, name string, fn StateFunc) {
	b.ops = append(b.ops, declOp{kind: kind, name: name, fn: fn})
}

// SubState declares an exclusive (non-parallel) child state named name,
// whose own structure is described by fn.
func (b *Builder) SubState(name string, fn StateFunc) { b.subState(opSubState, name, fn) }

// SubParallel declares a child that is one of several simultaneously-active
// orthogonal regions under this node.
func (b *Builder) SubParallel(name string, fn StateFunc) { b.subState(opSubParallel, name, fn) }

// SubFinal declares a terminal child indicating region completion.
func (b *Builder) SubFinal(name string, fn StateFunc) { b.subState(opSubFinal, name, fn) }

// SubCondition declares a CONDITION pseudo-state child.
func (b *Builder) SubCondition(name string, fn StateFunc) { b.subState(opSubCondition, name, fn) }

// SubJunction declares a JUNCTION pseudo-state child.
func (b *Builder) SubJunction(name string, fn StateFunc) { b.subState(opSubJunction, name, fn) }

// Default names which previously-declared child is this node's default
// sub-state, entered when this node is entered without more specific
// history or target information.
func (b *Builder) Default(name string) {
	b.ops = append(b.ops, declOp{kind: opDefault, defaultName: name})
}

// OnEntry registers an action run when this node is entered.
func (b *Builder) OnEntry(action func(*EventCtx)) {
	b.ops = append(b.ops, declOp{kind: opOnEntry, action: action})
}

// OnExit registers an action run when this node is exited.
func (b *Builder) OnExit(action func(*EventCtx)) {
	b.ops = append(b.ops, declOp{kind: opOnExit, action: action})
}

// OnEvent declares a transition: when event is dispatched to this node and
// guard (if non-nil) evaluates true, the node transitions to target,
// running action (if non-nil) between the exit and entry walks.
func (b *Builder) OnEvent(event string, guard func(*EventCtx) bool, target StateFunc, action func(*EventCtx)) {
	b.ops = append(b.ops, declOp{kind: opOnEvent, event: event, guard: guard, target: target, action: action})
}

// OnEventParam is OnEvent for an event declared with a STATIC parameter of
// paramSize bytes; paramSize contributes to the chart's computed maximum
// parameter slab size (spec.md §4.1/§4.3).
func (b *Builder) OnEventParam(event string, paramSize int, guard func(*EventCtx) bool, target StateFunc, action func(*EventCtx)) {
	b.ops = append(b.ops, declOp{kind: opOnEventParam, event: event, paramSize: paramSize, guard: guard, target: target, action: action})
}

// OnTimeout declares a per-node timer named name, armed for duration on
// entry to this node and disarmed on exit (spec.md §4.6).
func (b *Builder) OnTimeout(name string, duration func() int64, target StateFunc, action func(*EventCtx)) {
	b.ops = append(b.ops, declOp{
		kind: opOnTimeout, timerName: name, duration: duration,
		event: name, target: target, action: action,
	})
}

// Jump declares one ordered clause of a CONDITION or JUNCTION node's jump
// chain. The first clause (in declaration order) whose guard evaluates
// true fires; Always is the "else" clause.
func (b *Builder) Jump(guard func(*EventCtx) bool, target StateFunc, action func(*EventCtx)) {
	b.ops = append(b.ops, declOp{kind: opJump, guard: guard, target: target, action: action})
}

// JumpParam is Jump, additionally requesting the parameter of the last
// user event named paramEventName. If the chart's last dispatched event
// name does not match paramEventName (by string identity, standing in for
// the original's pointer-identity check), the parameter is denied and an
// error is logged, but guard evaluation still proceeds (spec.md §4.5).
func (b *Builder) JumpParam(paramEventName string, guard func(*EventCtx) bool, target StateFunc, action func(*EventCtx)) {
	b.ops = append(b.ops, declOp{kind: opJumpParam, guard: guard, target: target, action: action, paramEventName: paramEventName})
}
