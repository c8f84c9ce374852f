package vividcore

import "fmt"

// ConstructionReason names the kind of problem a ConstructionError reports.
type ConstructionReason int

const (
	ReasonDuplicateSubState ConstructionReason = iota
	ReasonMixedParallelSiblings
	ReasonMissingDefault
	ReasonDuplicateDefault
	ReasonUnknownDefaultTarget
	ReasonDuplicateTimerName
	ReasonDuplicateEventParamSize
)

func (r ConstructionReason) String() string {
	switch r {
	case ReasonDuplicateSubState:
		return "sub-state defined more than once"
	case ReasonMixedParallelSiblings:
		return "cannot mix parallel and non-parallel sub-states"
	case ReasonMissingDefault:
		return "undefined default sub-state"
	case ReasonDuplicateDefault:
		return "duplicate default sub-state"
	case ReasonUnknownDefaultTarget:
		return "default names an undeclared sub-state"
	case ReasonDuplicateTimerName:
		return "duplicate timer name"
	case ReasonDuplicateEventParamSize:
		return "conflicting parameter size for event"
	default:
		return "unknown construction error"
	}
}

// ConstructionError reports a problem found while walking the chart's
// declared state tree during New. Modeled on the teacher's
// primitives.MachineConfig.Validate style: every problem found is wrapped
// with enough context (the offending node's name) to locate it, and
// multiple problems accumulate rather than aborting on the first
// (spec.md §7 class 1).
type ConstructionError struct {
	Reason ConstructionReason
	Node   string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("vividcore: construction error at %q: %s", e.Node, e.Reason)
}

// constructionErrors accumulates ConstructionError values during the init
// walk and joins them into a single error for New to return.
type constructionErrors struct {
	errs []error
}

func (c *constructionErrors) add(reason ConstructionReason, node string) {
	c.errs = append(c.errs, &ConstructionError{Reason: reason, Node: node})
}

func (c *constructionErrors) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	joined := c.errs[0]
	for _, e := range c.errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}
	return joined
}
