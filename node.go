package vividcore

import "sync/atomic"

// NodeID is a monotonically-assigned arena index identifying a Node. In
// keeping with the REDESIGN FLAGS note "function-pointer identity as node
// key", internal storage is keyed by NodeID rather than by the identity of
// the declaring StateFunc; the declaring function is still used at the
// public API boundary (IsIn, GetState) as the natural way a caller
// identifies "the state I mean", resolved to a NodeID via an index built
// during the init walk.
type NodeID uint64

// NodeType names the kind of vertex a Node represents.
type NodeType int

const (
	NodeRoot NodeType = iota
	NodeState
	NodeStateFinal
	NodeStateParallel
	NodeCondition
	NodeJunction
)

func (t NodeType) String() string {
	switch t {
	case NodeRoot:
		return "root"
	case NodeState:
		return "state"
	case NodeStateFinal:
		return "state_final"
	case NodeStateParallel:
		return "state_parallel"
	case NodeCondition:
		return "condition"
	case NodeJunction:
		return "junction"
	default:
		return "unknown"
	}
}

// Node is a vertex of the statechart: a state, pseudo-state, or region
// root. The sole mutable runtime attribute is current_state (here split
// into currentAtomic/currentPlain depending on the chart's synchronization
// mode — see Chart.getCurrent/setCurrent), published with release/acquire
// semantics (lock-free mode) or guarded by the binding mutex (mutex mode),
// per spec.md §3.
type Node struct {
	id      NodeID
	typ     NodeType
	name    string
	fn      StateFunc
	funcPtr uintptr
	parent  *Node
	children []*Node
	defaultChild *Node
	depth   int
	ops     []declOp

	currentAtomic atomic.Pointer[Node]
	currentPlain  *Node
}

// ID returns the node's arena-assigned identifier.
func (n *Node) ID() NodeID { return n.id }

// Type returns the node's NodeType.
func (n *Node) Type() NodeType { return n.typ }

// Name returns the diagnostic label the node was declared with.
func (n *Node) Name() string { return n.name }

// Depth returns the node's distance from the root (0 for root).
func (n *Node) Depth() int { return n.depth }

// isParallelParent reports whether this node's children are parallel
// regions — simultaneously active once this node itself is active. This is
// a property of the children's declared type (NodeStateParallel), not a
// distinct type of the parent itself, matching the original's "mixing
// parallel and non-parallel siblings is rejected" constraint (§4.3): a
// parent's children are homogeneously parallel or homogeneously exclusive.
func (n *Node) isParallelParent() bool {
	return len(n.children) > 0 && n.children[0].typ == NodeStateParallel
}

// lca returns the least common ancestor of a and b, per spec.md §4.4:
// advance the deeper of the two upward until depths are equal, then
// advance both upward synchronously until they match.
func lca(a, b *Node) *Node {
	for a.depth > b.depth {
		a = a.parent
	}
	for b.depth > a.depth {
		b = b.parent
	}
	for a != b {
		a = a.parent
		b = b.parent
	}
	return a
}
