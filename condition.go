package flowwire

import "fmt"

// ConditionKind enumerates the scheduling conditions that can be attached to
// a port. Ports carry an ordered list of (kind, instance) pairs; the resolver
// appends defaults only when the list is empty and the port is not part of a
// multi-port condition group.
type ConditionKind int

const (
	// ConditionNone disables default condition attachment for the port.
	ConditionNone ConditionKind = iota

	// ConditionMessageAvailable gates execution on at least MinSize
	// messages queued at the receiver.
	ConditionMessageAvailable

	// ConditionDownstreamAffordable gates execution on the downstream
	// receiver having room for at least MinSize messages.
	ConditionDownstreamAffordable

	// ConditionMultiMessageAvailable gates execution on messages across a
	// declared group of input ports.
	ConditionMultiMessageAvailable
)

func (k ConditionKind) String() string {
	switch k {
	case ConditionNone:
		return "None"
	case ConditionMessageAvailable:
		return "MessageAvailable"
	case ConditionDownstreamAffordable:
		return "DownstreamAffordable"
	case ConditionMultiMessageAvailable:
		return "MultiMessageAvailable"
	default:
		return fmt.Sprintf("ConditionKind(%d)", int(k))
	}
}

// componentType returns the runtime component type materialized for the
// condition kind.
func (k ConditionKind) componentType() string {
	switch k {
	case ConditionMessageAvailable:
		return "MessageAvailableCondition"
	case ConditionDownstreamAffordable:
		return "DownstreamAffordableCondition"
	case ConditionMultiMessageAvailable:
		return "MultiMessageAvailableCondition"
	default:
		return ""
	}
}

// Condition is one scheduling condition instance attached to a port.
type Condition struct {
	Kind    ConditionKind
	MinSize int64
}

// ConditionGroup declares a multi-port condition spanning several input
// ports. Ports named by a group do not receive default per-port conditions.
type ConditionGroup struct {
	Kind  ConditionKind
	Ports []string
}
