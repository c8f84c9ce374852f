package vividcore

// EventCtx is passed to every entry/exit/event/jump handler a StateFunc
// declared. For event and jump handlers, and for the transition actions they
// fire, it carries the event currently being processed; entry and exit
// actions receive an EventCtx with no event name or parameter. It also
// carries the means to request a transition. Unlike the original implementation's chart-wide
// scratchpad (spec.md §9 "Global-like coupling via the chart scratchpad"),
// a fresh EventCtx is created for each handler invocation and its Transit
// call records the request on itself; the walker reads it back after the
// handler returns and applies it explicitly, eliminating the
// mutable-shared-state-during-recursion anti-pattern the REDESIGN FLAGS
// call out.
type EventCtx struct {
	chart   *Chart
	node    *Node
	name    string
	static  []byte
	dynamic any
	pending *pendingTransition
}

// Name returns the event name currently being dispatched.
func (c *EventCtx) Name() string { return c.name }

// StaticParam returns the STATIC-mode parameter bytes attached to the
// current event, if any. Per DESIGN.md's resolution of the spec's Open
// Question about zero-size-vs-undeclared parameters, a node should only
// call this for events it declared via OnEventParam.
func (c *EventCtx) StaticParam() []byte { return c.static }

// DynamicParam returns the DYNAMIC-mode parameter attached to the current
// event, if any.
func (c *EventCtx) DynamicParam() any { return c.dynamic }

// Node returns the node currently handling the event.
func (c *EventCtx) Node() *Node { return c.node }

// Chart returns the owning chart, for queueing follow-up events from
// within a handler.
func (c *EventCtx) Chart() *Chart { return c.chart }

// Transit requests a transition from the current node to target, with an
// optional transition action run between the exit and entry walks. A
// handler may call Transit at most meaningfully once per invocation; a
// later call overwrites an earlier one.
func (c *EventCtx) Transit(target StateFunc, action func(*EventCtx)) {
	if action != nil {
		// The action runs later, in fireTransition; hand it the event (and
		// parameter) that triggered the transition.
		inner := action
		name, static, dynamic := c.name, c.static, c.dynamic
		action = func(ctx *EventCtx) {
			ctx.name, ctx.static, ctx.dynamic = name, static, dynamic
			inner(ctx)
		}
	}
	c.pending = &pendingTransition{source: c.node, targetFn: target, action: action}
}

// pendingTransition is the value a handler hands back to the walker
// instead of mutating shared chart state, per the REDESIGN FLAGS note on
// the chart scratchpad.
type pendingTransition struct {
	source   *Node
	targetFn StateFunc
	action   func(*EventCtx)
}

// pathUpToAncestor returns the chain of nodes from start up to (but
// excluding) ancestor, in start-to-ancestor order, plus ancestor itself
// appended if includeAncestor is true.
func pathUpToAncestor(start, ancestor *Node, includeAncestor bool) []*Node {
	var path []*Node
	for n := start; n != ancestor; n = n.parent {
		path = append(path, n)
	}
	if includeAncestor {
		path = append(path, ancestor)
	}
	return path
}

// fireTransition applies a pendingTransition: computes the LCA of source
// and target, exits the path from source up, runs the transition action,
// then enters the path back down to target, mirroring spec.md §4.4's
// "Transition firing" algorithm.
func (c *Chart) fireTransition(p *pendingTransition) {
	target := c.nodeForFunc(p.targetFn)
	if target == nil {
		c.logTransient(nil, "transition target is not a declared node")
		return
	}
	source := p.source
	ancestor := lca(source, target)
	reenterAncestor := source == ancestor || target == ancestor

	c.walkExitUp(source, ancestor, reenterAncestor)

	if p.action != nil {
		p.action(&EventCtx{chart: c, node: target})
	}

	realChange := c.walkEntryUp(target, ancestor, reenterAncestor)
	if realChange && c.stateChangeCB != nil {
		c.stateChangeCB()
	}
}

// walkExitUp exits the path from source up to (and, if reenterAncestor,
// including) ancestor. If the path crosses a parallel parent's boundary —
// reaching a node whose parent is ancestor itself and ancestor holds
// orthogonal regions — every region is exited, not just the one containing
// source, per spec.md §8 scenario 4 ("LCA correctness"): transitioning out
// through a parallel ancestor always exits all of its regions.
func (c *Chart) walkExitUp(source, ancestor *Node, reenterAncestor bool) {
	regionsHandled := false
	n := source
	for n != ancestor {
		if n.parent == ancestor && ancestor.isParallelParent() {
			c.exitAllRegionsOf(ancestor)
			regionsHandled = true
			n = ancestor
			break
		}
		c.exitActive(n)
		c.setCurrent(n.parent, nil)
		n = n.parent
	}
	if reenterAncestor {
		if !regionsHandled {
			if ancestor.isParallelParent() {
				c.exitAllRegionsOf(ancestor)
			} else if cur := c.getCurrent(ancestor); cur != nil {
				c.exitActive(cur)
				c.setCurrent(ancestor, nil)
			}
		}
		c.callExit(ancestor)
		if ancestor.parent != nil {
			c.setCurrent(ancestor.parent, nil)
		}
	}
}

// exitAllRegionsOf fully exits every child of a parallel parent.
func (c *Chart) exitAllRegionsOf(parent *Node) {
	for _, region := range parent.children {
		c.exitActive(region)
	}
}

// exitActive fully exits node: first recursively exiting whatever is
// active beneath it (all regions, if node is a parallel parent; its single
// active child, otherwise), then calling node's own exit phase.
func (c *Chart) exitActive(node *Node) {
	if node.isParallelParent() {
		for _, ch := range node.children {
			c.exitActive(ch)
		}
	} else if cur := c.getCurrent(node); cur != nil {
		c.exitActive(cur)
		c.setCurrent(node, nil)
	}
	c.callExit(node)
}

// walkEntryUp enters the path from ancestor down to target (the reverse
// of walkExitUp's path), then descends from target into its own defaults
// or parallel children. Returns whether this was a "real state change"
// (spec.md §4.4: true only if target is of type STATE or STATE_FINAL).
func (c *Chart) walkEntryUp(target, ancestor *Node, reenterAncestor bool) bool {
	chain := pathUpToAncestor(target, ancestor, false)
	// chain is [target, ..., nearest-to-ancestor]; reverse for outer-first
	// entry order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	if reenterAncestor {
		c.setCurrent(ancestor.parent, ancestor)
		c.enter(ancestor)
	} else if ancestor.isParallelParent() && len(chain) > 0 {
		c.enterAllRegionsExcept(ancestor, chain[0])
	}

	for _, n := range chain {
		c.setCurrent(n.parent, n)
		c.enter(n)
	}

	c.descendInto(target)

	return target.typ == NodeState || target.typ == NodeStateFinal
}

// enterAllRegionsExcept fully enters every child of a parallel parent
// other than except, which is entered via the normal chain walk.
func (c *Chart) enterAllRegionsExcept(parent, except *Node) {
	for _, region := range parent.children {
		if region == except {
			continue
		}
		c.walkEntryDown(region)
	}
}

// enter runs node's own entry phase: on-entry actions, then arming any
// declared timer, then (for pseudo-states) setting the jump flag so the
// jump phase of the current dispatch resolves the chain.
func (c *Chart) enter(node *Node) {
	for _, op := range node.ops {
		if op.kind == opOnEntry && op.action != nil {
			op.action(&EventCtx{chart: c, node: node})
		}
		if op.kind == opOnTimeout {
			c.armTimer(node, op)
		}
	}
	if node.typ == NodeCondition || node.typ == NodeJunction {
		c.jumpFlag.Store(true)
	}
}

// callExit runs node's own exit phase: disarm timers, then on-exit
// actions.
func (c *Chart) callExit(node *Node) {
	for _, op := range node.ops {
		if op.kind == opOnTimeout {
			c.disarmTimer(node, op)
		}
	}
	for _, op := range node.ops {
		if op.kind == opOnExit && op.action != nil {
			op.action(&EventCtx{chart: c, node: node})
		}
	}
}

// walkEntryDown performs a full entry of node and everything beneath it
// reached by following default-child links (and, for parallel parents,
// every region), per spec.md §4.4 step 1.
func (c *Chart) walkEntryDown(node *Node) {
	c.enter(node)
	c.descendInto(node)
}

// descendInto enters node's default child, or all of its children if node
// is a parallel parent. Leaf nodes are a no-op.
func (c *Chart) descendInto(node *Node) {
	switch {
	case node.isParallelParent():
		for _, ch := range node.children {
			c.walkEntryDown(ch)
		}
	case node.defaultChild != nil:
		c.setCurrent(node, node.defaultChild)
		c.walkEntryDown(node.defaultChild)
	}
}

// walkEvent delivers event to node and, if no transition fired there,
// recurses per spec.md §4.4's "Event walk": into every parallel child, or
// into the single current_state child. Returns whether any node along the
// way handled the event (fired a transition).
func (c *Chart) walkEvent(node *Node, name string, static []byte, dynamic any) bool {
	ctx := &EventCtx{chart: c, node: node, name: name, static: static, dynamic: dynamic}
	c.invokeOnEvent(node, ctx)

	if ctx.pending != nil {
		c.fireTransition(ctx.pending)
		return true
	}

	handled := false
	if node.isParallelParent() {
		for _, ch := range node.children {
			if c.walkEvent(ch, name, static, dynamic) {
				handled = true
			}
		}
		return handled
	}
	if cur := c.getCurrent(node); cur != nil {
		return c.walkEvent(cur, name, static, dynamic)
	}
	return handled
}

// invokeOnEvent runs every on-event/on-event-param clause on node matching
// name whose guard (if any) evaluates true, stopping at the first that
// requests a transition.
func (c *Chart) invokeOnEvent(node *Node, ctx *EventCtx) {
	for _, op := range node.ops {
		if (op.kind != opOnEvent && op.kind != opOnEventParam && op.kind != opOnTimeout) || op.event != ctx.name {
			continue
		}
		if op.kind == opOnTimeout && !c.timers.Due(op.timerName, c.binding.Clock().Now()) {
			continue
		}
		if op.guard != nil && !op.guard(ctx) {
			continue
		}
		if op.target != nil {
			ctx.Transit(op.target, op.action)
		} else if op.action != nil {
			op.action(ctx)
		}
		if ctx.pending != nil {
			return
		}
	}
}
