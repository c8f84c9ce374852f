// Package vividcore is an embeddable hierarchical state machine runtime:
// nested and parallel states, pseudo-state jump chains, guarded
// transitions, a bounded event queue, and per-state timers, all driven
// through a host-supplied binding.Binding rather than any direct
// dependency on a particular runtime or transport.
package vividcore

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/comalice/vividcore/binding"
	"github.com/comalice/vividcore/config"
	"github.com/comalice/vividcore/omap"
	"github.com/comalice/vividcore/queue"
	"github.com/comalice/vividcore/timer"
)

// Chart is one constructed, running state machine instance. Construct with
// New; release resources with Close.
type Chart struct {
	binding binding.Binding
	cfg     config.Config
	mode    queue.Mode

	stateMu binding.Mutex // guards current_state in ModeMutex; unused otherwise
	nodes   []*Node
	root    *Node

	// funcIndex is the node map spec.md §4.3 calls for: the declaring
	// StateFunc's pointer identity to its NodeID, backed by omap's ordered
	// tree per spec.md §4.2 rather than a plain Go map.
	funcIndex *omap.Tree[uintptr, NodeID]

	timers      *timer.Registry
	nodeTimers  map[string]binding.Timer
	timerEvent  map[string]*Node

	q     *queue.Queue
	event binding.AsyncEvent

	initFlag sync.Once
	jumpFlag atomic.Bool

	stateChangeCB func()

	// lastEvent records the most recently dispatched user event, for
	// JumpParam's parameter-forwarding check (spec.md §4.5); safe to keep
	// as a single chart-scoped value because only one event is ever in
	// flight through the chart at a time (spec.md §5).
	lastEvent queue.Entry

	closeOnce sync.Once
	closed    atomic.Bool
}

// New constructs a Chart from a root StateFunc and configuration, walking
// the declared tree once to build the node arena, validate it, and compute
// the event queue's parameter slab size, per spec.md §4.3's init walk.
// Returns every accumulated ConstructionError, joined, if the tree is
// invalid; the Chart is not usable in that case.
func New(b binding.Binding, root StateFunc, cfg config.Config) (*Chart, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vividcore: %w", err)
	}
	mode, err := cfg.Mode.ToQueueMode()
	if err != nil {
		return nil, fmt.Errorf("vividcore: %w", err)
	}

	c := &Chart{
		binding:    b,
		cfg:        cfg,
		mode:       mode,
		funcIndex:  omap.New[uintptr, NodeID](),
		timers:     timer.NewRegistry(),
		nodeTimers: make(map[string]binding.Timer),
		timerEvent: make(map[string]*Node),
	}
	if mode != queue.ModeLockFree {
		c.stateMu = b.NewMutex()
	}

	var errs constructionErrors
	c.root = c.buildNode(NodeRoot, "root", root, nil, 0, &errs)

	maxParamSize := cfg.MaxParamSizeOverride
	if maxParamSize == 0 {
		maxParamSize = c.computeMaxParamSize(&errs)
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	c.q = queue.New(mode, cfg.EventQueueSize, maxParamSize)
	c.event = b.CreateEvent(c.onWake)

	c.event.Trigger()
	return c, nil
}

// buildNode allocates one Node, runs fn against a fresh Builder to collect
// its declared operations, then recurses into every declared child —
// exactly the shape of the original implementation's single init walk,
// minus the phase-multiplexing callback (spec.md §9).
func (c *Chart) buildNode(typ NodeType, name string, fn StateFunc, parent *Node, depth int, errs *constructionErrors) *Node {
	n := &Node{
		id:     NodeID(len(c.nodes)),
		typ:    typ,
		name:   name,
		fn:     fn,
		parent: parent,
		depth:  depth,
	}
	c.nodes = append(c.nodes, n)
	if fn != nil {
		n.funcPtr = reflect.ValueOf(fn).Pointer()
		if _, exists := c.funcIndex.Get(n.funcPtr); exists {
			errs.add(ReasonDuplicateSubState, name)
		} else {
			c.funcIndex.Set(n.funcPtr, n.id)
		}

		bld := &Builder{}
		fn(bld)
		n.ops = bld.ops
		c.processOps(n, bld.ops, errs)
	}
	return n
}

// processOps interprets one node's recorded declarations: spawning child
// nodes for every Sub* op, resolving the Default name, declaring timer
// names, and rejecting mixed parallel/exclusive siblings.
func (c *Chart) processOps(n *Node, ops []declOp, errs *constructionErrors) {
	var defaultName string
	var sawDefault bool
	seenParallel, sawNonParallel := false, false

	for _, op := range ops {
		switch op.kind {
		case opSubState, opSubParallel, opSubFinal, opSubCondition, opSubJunction:
			childType := map[opKind]NodeType{
				opSubState:     NodeState,
				opSubParallel:  NodeStateParallel,
				opSubFinal:     NodeStateFinal,
				opSubCondition: NodeCondition,
				opSubJunction:  NodeJunction,
			}[op.kind]
			if childType == NodeStateParallel {
				seenParallel = true
			} else {
				sawNonParallel = true
			}
			child := c.buildNode(childType, op.name, op.fn, n, n.depth+1, errs)
			n.children = append(n.children, child)
		case opDefault:
			if sawDefault {
				errs.add(ReasonDuplicateDefault, n.name)
			}
			sawDefault = true
			defaultName = op.defaultName
		case opOnTimeout:
			if !c.timers.Declare(op.timerName) {
				errs.add(ReasonDuplicateTimerName, n.name)
			}
			c.timerEvent[op.timerName] = n
		}
	}

	if seenParallel && sawNonParallel {
		errs.add(ReasonMixedParallelSiblings, n.name)
	}

	if len(n.children) > 0 && !seenParallel {
		if !sawDefault {
			errs.add(ReasonMissingDefault, n.name)
			return
		}
		for _, ch := range n.children {
			if ch.name == defaultName {
				n.defaultChild = ch
				return
			}
		}
		errs.add(ReasonUnknownDefaultTarget, n.name)
	}
}

// computeMaxParamSize scans every declared OnEventParam clause across the
// whole tree for the largest declared size, per spec.md §4.1's "the queue's
// slab size is the maximum of every declared STATIC parameter size". Since
// every node handling a given event name shares one queue slot layout for
// it, two OnEventParam clauses for the same event name must agree on size;
// a mismatch is a construction error rather than a silent max() over both.
func (c *Chart) computeMaxParamSize(errs *constructionErrors) int {
	max := 0
	seen := make(map[string]int)
	for _, n := range c.nodes {
		for _, op := range n.ops {
			if op.kind != opOnEventParam {
				continue
			}
			if prior, ok := seen[op.event]; ok && prior != op.paramSize {
				errs.add(ReasonDuplicateEventParamSize, op.event)
			} else {
				seen[op.event] = op.paramSize
			}
			if op.paramSize > max {
				max = op.paramSize
			}
		}
	}
	return max
}

// nodeForFunc resolves a StateFunc back to its declared Node via the
// pointer-identity index built during New, standing in for the original
// implementation's function-pointer node key (spec.md REDESIGN FLAGS).
func (c *Chart) nodeForFunc(fn StateFunc) *Node {
	if fn == nil {
		return nil
	}
	id, ok := c.funcIndex.Get(reflect.ValueOf(fn).Pointer())
	if !ok {
		return nil
	}
	return c.nodes[id]
}

// getCurrent reads node's active child, using atomic.Pointer loads in
// lock-free mode and the binding mutex otherwise (spec.md §3).
func (c *Chart) getCurrent(node *Node) *Node {
	if c.mode == queue.ModeLockFree {
		return node.currentAtomic.Load()
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return node.currentPlain
}

// setCurrent writes node's active child. node may be nil when the caller
// already knows there is nothing to update (e.g. at the chart root).
func (c *Chart) setCurrent(node *Node, val *Node) {
	if node == nil {
		return
	}
	if c.mode == queue.ModeLockFree {
		node.currentAtomic.Store(val)
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	node.currentPlain = val
}

// armTimer starts or restarts the per-node timer a just-entered node
// declared via OnTimeout, lazily creating the underlying binding.Timer on
// first use.
func (c *Chart) armTimer(node *Node, op declOp) {
	t, ok := c.nodeTimers[op.timerName]
	if !ok {
		name := op.timerName
		t = c.binding.CreateTimer(func() { c.onTimerFire(name) })
		c.nodeTimers[name] = t
	}
	var d time.Duration
	if op.duration != nil {
		d = time.Duration(op.duration())
	}
	c.timers.Arm(op.timerName, c.binding.Clock().Now().Add(d))
	t.Start(d)
}

// disarmTimer stops the timer a just-exited node declared.
func (c *Chart) disarmTimer(node *Node, op declOp) {
	c.timers.Disarm(op.timerName)
	if t, ok := c.nodeTimers[op.timerName]; ok {
		t.Stop()
	}
}

// onTimerFire runs on the binding's own timer callback goroutine; it only
// queues the timeout as an ordinary named event, deferring the actual
// due-time check to dispatch time via timer.Registry.Due, per spec.md
// §4.6's late-timeout-discard rule (see also the countdown test scenario).
func (c *Chart) onTimerFire(name string) {
	if !c.q.Push(name, nil) {
		c.logTransient(c.timerEvent[name], "timer event dropped, queue full")
		if eh := c.binding.ErrorHook(); eh != nil {
			eh.HandleError(binding.ErrorQueueEvent)
		}
		return
	}
	c.event.Trigger()
}

// QueueEvent enqueues a user event for asynchronous dispatch. Safe to call
// from any goroutine, including from within a handler running on the
// dispatch loop itself (spec.md §4.1/§5).
func (c *Chart) QueueEvent(name string, opts ...EventOption) error {
	if c.closed.Load() {
		return fmt.Errorf("vividcore: chart is closed")
	}
	var o eventOptions
	for _, opt := range opts {
		opt(&o)
	}

	var ok bool
	if o.dynamic != nil {
		ok = c.q.PushDynamic(name, o.dynamic, o.destructor)
		if !ok && o.destructor != nil {
			// Ownership was not transferred; the caller's destructor is
			// invoked here rather than left for the caller to remember,
			// matching the inverted-ownership contract DESIGN.md records.
			o.destructor(o.dynamic)
		}
	} else {
		ok = c.q.Push(name, o.static)
	}
	if !ok {
		c.logTransient(nil, "event rejected by queue")
		if eh := c.binding.ErrorHook(); eh != nil {
			eh.HandleError(binding.ErrorQueueEvent)
		}
		return fmt.Errorf("vividcore: event queue full")
	}
	c.event.Trigger()
	return nil
}

// onWake runs on the binding's dispatch goroutine each time the async
// event fires. On the very first call it first performs the chart's initial
// entry; every call then processes at most one queued event,
// then re-triggers itself if more remain — the cooperative-fairness rule
// of spec.md §4.4 step 7, letting other work interleave between events
// instead of draining the whole queue in one callback.
func (c *Chart) onWake() {
	if c.closed.Load() {
		return
	}
	c.initFlag.Do(func() {
		c.walkEntryDown(c.root)
		c.runJumpPhase()
	})

	entry, ok := c.q.Front()
	if !ok {
		return
	}

	c.lastEvent = entry
	handled := c.walkEvent(c.root, entry.Name, entry.Static, entry.Dynamic)
	if !handled {
		c.logDebug("unhandled event", binding.Str("event", entry.Name))
	}
	c.runJumpPhase()
	c.q.Pop()

	if !c.q.Empty() {
		c.event.Trigger()
	}
}

// runJumpPhase resolves every currently active pseudo-state's jump chain:
// evaluate each Jump/JumpParam clause in declared order, firing the first
// whose guard passes, and repeat as long as entering some new target sets
// jumpFlag again (spec.md §4.5). jumpFlag is a single chart-wide flag, so
// one dispatch can simultaneously land on a pseudo-state in more than one
// parallel region (e.g. both regions' defaults chaining into a CONDITION, or
// a transition through their common ancestor re-entering both); every
// active pseudo-state reachable from root is collected and resolved each
// iteration, not just the first one found, so that no region is left with a
// CONDITION/JUNCTION node as its parent's current_state when the phase ends
// (spec.md §8 "Pseudo-state transience").
func (c *Chart) runJumpPhase() {
	for c.jumpFlag.Load() {
		c.jumpFlag.Store(false)
		var nodes []*Node
		c.collectActivePseudoStates(c.root, &nodes)
		for _, node := range nodes {
			// A transition fired for an earlier node in this same sweep may
			// have already exited node's region (e.g. both chained into a
			// transition that leaves the parallel construct entirely);
			// resolve only nodes still actually active.
			if node.parent != nil && c.getCurrent(node.parent) != node {
				continue
			}
			c.resolveJump(node)
		}
	}
}

// collectActivePseudoStates appends every currently active CONDITION or
// JUNCTION node reachable from node to out, descending into every parallel
// region rather than stopping at the first match.
func (c *Chart) collectActivePseudoStates(node *Node, out *[]*Node) {
	if node.typ == NodeCondition || node.typ == NodeJunction {
		*out = append(*out, node)
		return
	}
	if node.isParallelParent() {
		for _, ch := range node.children {
			c.collectActivePseudoStates(ch, out)
		}
		return
	}
	if cur := c.getCurrent(node); cur != nil {
		c.collectActivePseudoStates(cur, out)
	}
}

// resolveJump evaluates node's declared Jump/JumpParam clauses in order,
// firing the first whose guard passes. A JumpParam clause only receives
// the last dispatched event's parameter if its declared paramEventName
// matches that event's name (spec.md §4.5); otherwise the guard still
// runs, just without a forwarded parameter, and the mismatch is logged.
func (c *Chart) resolveJump(node *Node) {
	for _, op := range node.ops {
		if op.kind != opJump && op.kind != opJumpParam {
			continue
		}
		ctx := &EventCtx{chart: c, node: node, name: eventJump}
		if op.kind == opJumpParam {
			if op.paramEventName == c.lastEvent.Name {
				ctx.static = c.lastEvent.Static
				ctx.dynamic = c.lastEvent.Dynamic
			} else {
				c.logTransient(node, "jump-param event name mismatch, parameter not forwarded")
			}
		}
		if op.guard != nil && !op.guard(ctx) {
			continue
		}
		ctx.Transit(op.target, op.action)
		if ctx.pending != nil {
			c.fireTransition(ctx.pending)
		}
		return
	}
}

// IsIn reports whether state is currently active anywhere in the chart.
func (c *Chart) IsIn(state StateFunc) bool {
	node := c.nodeForFunc(state)
	if node == nil {
		return false
	}
	// A parallel region is active exactly when its parallel parent is.
	for node != c.root && node.parent.isParallelParent() {
		node = node.parent
	}
	if node == c.root {
		return true
	}
	cur := c.getCurrent(node.parent)
	return cur == node
}

// GetState returns the currently active child of parent, if parent is
// itself active and exclusive (not a parallel region holder with no single
// active child of interest).
func (c *Chart) GetState(parent StateFunc) (StateFunc, bool) {
	node := c.nodeForFunc(parent)
	if node == nil || node.isParallelParent() {
		return nil, false
	}
	cur := c.getCurrent(node)
	if cur == nil {
		return nil, false
	}
	return cur.fn, true
}

// SetStateChangeCallback registers cb to be invoked after every transition
// whose target is a real state (not a pseudo-state), per spec.md §4.4.
func (c *Chart) SetStateChangeCallback(cb func()) {
	c.stateChangeCB = cb
}

// Close tears down the chart: stops and destroys every armed binding.Timer,
// clears the timer registry, destroys the async event, and drains the
// queue, invoking DYNAMIC destructors for anything left unprocessed —
// "destroyed with the chart", per spec.md §4.6's description of a timer's
// lifetime. Idempotent.
func (c *Chart) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		for _, t := range c.nodeTimers {
			t.Stop()
			t.Destroy()
		}
		for _, name := range c.timers.Names() {
			c.timers.Clear(name)
		}
		if c.event != nil {
			c.event.Destroy()
		}
		if c.q != nil {
			c.q.Close()
		}
	})
	return nil
}

// logTransient reports a transient runtime condition at ERROR level through
// the binding's logger (spec.md §7 class 2 — distinct from class-1
// construction errors and class-3 unhandled-event diagnostics, neither of
// which involve the ErrorHook). node may be nil when the error is not
// attributable to a single node.
func (c *Chart) logTransient(node *Node, msg string) {
	fields := []binding.Field{binding.Str("chart", c.cfg.Name)}
	if node != nil {
		fields = append(fields, binding.Str("node", node.name))
	}
	if l := c.binding.Logger(); l != nil {
		l.Log(binding.LevelError, msg, fields...)
	}
}

// logDebug reports a debug-level diagnostic, such as an unhandled event —
// spec.md §7 class 3, never escalated to the ErrorHook.
func (c *Chart) logDebug(msg string, fields ...binding.Field) {
	if l := c.binding.Logger(); l != nil {
		l.Log(binding.LevelDebug, msg, fields...)
	}
}
