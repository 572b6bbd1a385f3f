package flowwire

import "fmt"

// Queue size sentinels for PortSpec. Any positive value is a fixed capacity.
const (
	// QueueSizePrecedingCount resolves to the number of distinct edges
	// terminating at the port, counted across all predecessors.
	QueueSizePrecedingCount int64 = 0

	// QueueSizeAnySize defers the port to indexed sub-ports ("name:0",
	// "name:1", ...), one per connected edge; no receiver is materialized
	// for the port itself.
	QueueSizeAnySize int64 = -1

	// QueueSizeOne is the default fixed capacity.
	QueueSizeOne int64 = 1
)

// PortDirection tells whether a port receives or transmits.
type PortDirection int

const (
	DirectionInput PortDirection = iota
	DirectionOutput
)

func (d PortDirection) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// ConnectorKind selects the physical connector materialized for a port.
type ConnectorKind int

const (
	// ConnectorDefault resolves to ConnectorDoubleBuffer for
	// within-boundary edges. Boundary-crossing edges are rewritten by the
	// distributed lowering pass, which stamps ConnectorTransport where
	// needed, so ConnectorDefault never survives to materialization.
	ConnectorDefault ConnectorKind = iota
	ConnectorDoubleBuffer
	ConnectorTransport
	ConnectorCustom
)

func (k ConnectorKind) String() string {
	switch k {
	case ConnectorDefault:
		return "Default"
	case ConnectorDoubleBuffer:
		return "DoubleBuffer"
	case ConnectorTransport:
		return "Transport"
	case ConnectorCustom:
		return "Custom"
	default:
		return fmt.Sprintf("ConnectorKind(%d)", int(k))
	}
}

// OverflowPolicy decides what happens when a connector queue is full.
type OverflowPolicy int

const (
	// OverflowPop drops the oldest queued message.
	OverflowPop OverflowPolicy = iota
	// OverflowReject drops the incoming message.
	OverflowReject
	// OverflowFault aborts execution. This is the default.
	OverflowFault
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowPop:
		return "Pop"
	case OverflowReject:
		return "Reject"
	case OverflowFault:
		return "Fault"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// Args carries free-form component arguments handed to the Runtime.
type Args map[string]any

// PortSpec describes one named port of an operator: queue sizing policy,
// connector kind, overflow policy and scheduling conditions.
//
// Declared state (what the user configured) is kept separately from working
// state so that Reset can restore a spec after a composition pass overrode
// it (cycle mitigation, transport collapse).
type PortSpec struct {
	name      string
	direction PortDirection

	queueSize         int64
	declaredQueueSize int64

	overflow OverflowPolicy

	connector         ConnectorKind
	declaredConnector ConnectorKind
	connectorArgs     Args
	declaredArgs      Args

	conditions     []Condition
	userConditions []Condition

	// Working state filled in during materialization.
	resolvedSize int64
	componentID  ComponentID
}

func newPortSpec(name string, direction PortDirection) *PortSpec {
	return &PortSpec{
		name:              name,
		direction:         direction,
		queueSize:         QueueSizeOne,
		declaredQueueSize: QueueSizeOne,
		overflow:          OverflowFault,
	}
}

// Name returns the port name.
func (ps *PortSpec) Name() string { return ps.name }

// Direction returns the port direction.
func (ps *PortSpec) Direction() PortDirection { return ps.direction }

// QueueSize returns the current queue size policy value.
func (ps *PortSpec) QueueSize() int64 { return ps.queueSize }

// SetQueueSize sets the queue size policy. Use the QueueSize* sentinels or a
// fixed positive capacity.
func (ps *PortSpec) SetQueueSize(n int64) *PortSpec {
	ps.queueSize = n
	ps.declaredQueueSize = n
	return ps
}

// OverflowPolicy returns the configured overflow policy.
func (ps *PortSpec) OverflowPolicy() OverflowPolicy { return ps.overflow }

// SetOverflowPolicy sets the queue overflow policy.
func (ps *PortSpec) SetOverflowPolicy(p OverflowPolicy) *PortSpec {
	ps.overflow = p
	return ps
}

// Connector returns the current connector kind.
func (ps *PortSpec) Connector() ConnectorKind { return ps.connector }

// ConnectorArgs returns the connector arguments, if any.
func (ps *PortSpec) ConnectorArgs() Args { return ps.connectorArgs }

// SetConnector assigns an explicit connector kind. Explicit assignment wins
// over the Default resolution.
func (ps *PortSpec) SetConnector(kind ConnectorKind, args Args) *PortSpec {
	ps.connector = kind
	ps.declaredConnector = kind
	ps.connectorArgs = args
	ps.declaredArgs = args
	return ps
}

// setConnectorOverride stamps a connector without touching the declared
// state; used by the distributed lowering collapse so Reset can undo it.
func (ps *PortSpec) setConnectorOverride(kind ConnectorKind, args Args) {
	ps.connector = kind
	ps.connectorArgs = args
}

// SetCondition attaches a user condition to the port. User conditions
// suppress default condition attachment.
func (ps *PortSpec) SetCondition(kind ConditionKind, minSize int64) *PortSpec {
	c := Condition{Kind: kind, MinSize: minSize}
	ps.conditions = append(ps.conditions, c)
	ps.userConditions = append(ps.userConditions, c)
	return ps
}

// SetConditionNone disables all conditions on the port, including defaults.
func (ps *PortSpec) SetConditionNone() *PortSpec {
	ps.conditions = []Condition{{Kind: ConditionNone}}
	ps.userConditions = []Condition{{Kind: ConditionNone}}
	return ps
}

// Conditions returns the ordered condition list.
func (ps *PortSpec) Conditions() []Condition { return ps.conditions }

// ResolvedQueueSize returns the queue size resolved during the last
// composition pass, or 0 if the port was not materialized.
func (ps *PortSpec) ResolvedQueueSize() int64 { return ps.resolvedSize }

// ComponentID returns the receiver/transmitter component materialized for
// the port, or 0 if none exists yet.
func (ps *PortSpec) ComponentID() ComponentID { return ps.componentID }

// setDefaultCondition appends a resolver-provided default without marking it
// as user-supplied.
func (ps *PortSpec) setDefaultCondition(kind ConditionKind, minSize int64) {
	ps.conditions = append(ps.conditions, Condition{Kind: kind, MinSize: minSize})
}

// disableConditions clears the working condition list (used by the self-edge
// mitigation for the execution output port). Declared conditions survive for
// Reset.
func (ps *PortSpec) disableConditions() {
	ps.conditions = []Condition{{Kind: ConditionNone}}
}

// forceQueueSizeOne overrides the working queue size during cycle
// mitigation. AnySize ports are left alone; their indexed sub-ports are
// overridden individually.
func (ps *PortSpec) forceQueueSizeOne() {
	if ps.queueSize == QueueSizeAnySize {
		return
	}
	ps.queueSize = QueueSizeOne
}

// reset restores the declared state and discards everything a composition
// pass computed.
func (ps *PortSpec) reset() {
	ps.queueSize = ps.declaredQueueSize
	ps.connector = ps.declaredConnector
	ps.connectorArgs = ps.declaredArgs
	ps.conditions = append([]Condition(nil), ps.userConditions...)
	ps.resolvedSize = 0
	ps.componentID = 0
}
