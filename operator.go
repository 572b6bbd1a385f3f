package flowwire

import (
	"fmt"
	"strings"
)

// Operator is a unit of computation with named input and output ports. The
// lowering engine only consumes its declarative surface; how an operator
// computes is the concern of the external runtime.
type Operator interface {
	// Name returns the unique operator name within a fragment.
	Name() string

	// Setup declares the operator's ports, parameters and conditions.
	// Called exactly once when the operator is added to a fragment.
	Setup(spec *OperatorSpec)

	// Initialize is the operator-initialization boundary call, invoked by
	// the planner when the operator's node is finalized.
	Initialize() error
}

// OperatorKind tags how an operator participates in composition. Kind is
// resolved once, when the operator is added, via the KindMarker interface;
// operators that do not implement it are Native.
type OperatorKind int

const (
	// KindNative is a regular operator. Only native operators may
	// participate in control-flow edges.
	KindNative OperatorKind = iota
	// KindWrapped wraps a runtime-owned codelet; its entity already
	// exists on the runtime side.
	KindWrapped
	// KindVirtual stands in for the remote end of a boundary-crossing
	// edge. Virtual operators are never materialized as entities.
	KindVirtual
)

func (k OperatorKind) String() string {
	switch k {
	case KindNative:
		return "Native"
	case KindWrapped:
		return "Wrapped"
	case KindVirtual:
		return "Virtual"
	default:
		return fmt.Sprintf("OperatorKind(%d)", int(k))
	}
}

// SupportsControlFlow reports whether operators of this kind may be an
// endpoint of a control-flow edge.
func (k OperatorKind) SupportsControlFlow() bool { return k == KindNative }

// KindMarker is implemented by operators that are not plain native
// operators.
type KindMarker interface {
	Kind() OperatorKind
}

func kindOf(op Operator) OperatorKind {
	if m, ok := op.(KindMarker); ok {
		return m.Kind()
	}
	return KindNative
}

// MetadataPolicy selects how per-message metadata from multiple inputs is
// merged. Nodes on feedback edges are switched to MetadataPolicyUpdate so
// repeated loop iterations do not accumulate stale metadata.
type MetadataPolicy int

const (
	MetadataPolicyDefault MetadataPolicy = iota
	MetadataPolicyUpdate
)

// ParamKind classifies operator parameters. The engine only cares about
// indexed multi-receiver parameters, which allow dynamic port creation.
type ParamKind int

const (
	ParamPlain ParamKind = iota
	// ParamMultiReceiver declares a parameter that accepts any number of
	// connections; each edge to it creates an indexed input port
	// ("name:0", "name:1", ...).
	ParamMultiReceiver
)

// Execution port names used for control-flow edges. Created lazily when a
// control-flow edge is added.
const (
	inputExecPortName  = "__input_exec__"
	outputExecPortName = "__output_exec__"
)

// OperatorSpec holds an operator's declared ports, parameters, resources and
// condition groups, in declaration order.
type OperatorSpec struct {
	inputs      map[string]*PortSpec
	outputs     map[string]*PortSpec
	inputOrder  []string
	outputOrder []string

	params     map[string]ParamKind
	paramOrder []string

	groups []ConditionGroup

	resources []Resource

	inputExec  *PortSpec
	outputExec *PortSpec
}

func newOperatorSpec() *OperatorSpec {
	return &OperatorSpec{
		inputs:  make(map[string]*PortSpec),
		outputs: make(map[string]*PortSpec),
		params:  make(map[string]ParamKind),
	}
}

// Input declares (or returns the existing) input port with the given name.
func (s *OperatorSpec) Input(name string) *PortSpec {
	if ps, ok := s.inputs[name]; ok {
		return ps
	}
	ps := newPortSpec(name, DirectionInput)
	s.inputs[name] = ps
	s.inputOrder = append(s.inputOrder, name)
	return ps
}

// Output declares (or returns the existing) output port with the given name.
func (s *OperatorSpec) Output(name string) *PortSpec {
	if ps, ok := s.outputs[name]; ok {
		return ps
	}
	ps := newPortSpec(name, DirectionOutput)
	s.outputs[name] = ps
	s.outputOrder = append(s.outputOrder, name)
	return ps
}

// MultiReceiver declares an indexed multi-receiver parameter. Edges naming
// it as their destination create indexed input ports lazily.
func (s *OperatorSpec) MultiReceiver(name string) {
	if _, ok := s.params[name]; !ok {
		s.paramOrder = append(s.paramOrder, name)
	}
	s.params[name] = ParamMultiReceiver
}

// Param declares a plain parameter.
func (s *OperatorSpec) Param(name string) {
	if _, ok := s.params[name]; !ok {
		s.params[name] = ParamPlain
		s.paramOrder = append(s.paramOrder, name)
	}
}

// AddConditionGroup declares a multi-port condition spanning several input
// ports. Member ports do not receive default per-port conditions.
func (s *OperatorSpec) AddConditionGroup(kind ConditionKind, ports ...string) {
	s.groups = append(s.groups, ConditionGroup{Kind: kind, Ports: ports})
}

// AddResource attaches a device-bound resource to the operator; the resource
// grouper validates device affinity across execution groups.
func (s *OperatorSpec) AddResource(r Resource) {
	s.resources = append(s.resources, r)
}

// InputNames returns the input port names in declaration order.
func (s *OperatorSpec) InputNames() []string { return s.inputOrder }

// OutputNames returns the output port names in declaration order.
func (s *OperatorSpec) OutputNames() []string { return s.outputOrder }

// InputPort returns the named input port, if declared.
func (s *OperatorSpec) InputPort(name string) (*PortSpec, bool) {
	ps, ok := s.inputs[name]
	return ps, ok
}

// OutputPort returns the named output port, if declared.
func (s *OperatorSpec) OutputPort(name string) (*PortSpec, bool) {
	ps, ok := s.outputs[name]
	return ps, ok
}

// InputExec returns the control-flow input port, or nil.
func (s *OperatorSpec) InputExec() *PortSpec { return s.inputExec }

// OutputExec returns the control-flow output port, or nil.
func (s *OperatorSpec) OutputExec() *PortSpec { return s.outputExec }

// isMultiReceiver reports whether name refers to an indexed multi-receiver
// parameter.
func (s *OperatorSpec) isMultiReceiver(name string) bool {
	return s.params[name] == ParamMultiReceiver
}

// multiReceiverParams returns the multi-receiver parameter names in
// declaration order.
func (s *OperatorSpec) multiReceiverParams() []string {
	var names []string
	for _, n := range s.paramOrder {
		if s.params[n] == ParamMultiReceiver {
			names = append(names, n)
		}
	}
	return names
}

// dataInputNames returns input names excluding the execution port.
func (s *OperatorSpec) dataInputNames() []string {
	names := make([]string, 0, len(s.inputOrder))
	for _, n := range s.inputOrder {
		if n == inputExecPortName {
			continue
		}
		names = append(names, n)
	}
	return names
}

// indexedCount returns how many indexed sub-ports of the given base name
// exist so far.
func (s *OperatorSpec) indexedCount(base string) int {
	prefix := base + ":"
	count := 0
	for _, n := range s.inputOrder {
		if strings.HasPrefix(n, prefix) {
			count++
		}
	}
	return count
}

// addIndexedInput creates the next indexed sub-port for base and returns its
// name. Indexed sub-ports are fixed-capacity single-slot receivers.
func (s *OperatorSpec) addIndexedInput(base string) string {
	name := fmt.Sprintf("%s:%d", base, s.indexedCount(base))
	s.Input(name)
	return name
}

// ensureInputExec lazily creates the control-flow input port. Its queue size
// policy is PrecedingCount so the capacity follows the number of inbound
// control edges; the planner lowers it to one on feedback edges.
func (s *OperatorSpec) ensureInputExec() *PortSpec {
	if s.inputExec == nil {
		s.inputExec = s.Input(inputExecPortName)
		s.inputExec.SetQueueSize(QueueSizePrecedingCount)
	}
	return s.inputExec
}

// ensureOutputExec lazily creates the control-flow output port.
func (s *OperatorSpec) ensureOutputExec() *PortSpec {
	if s.outputExec == nil {
		s.outputExec = s.Output(outputExecPortName)
	}
	return s.outputExec
}

// portInConditionGroup reports whether an input port belongs to a declared
// multi-port condition group.
func (s *OperatorSpec) portInConditionGroup(name string) bool {
	for _, g := range s.groups {
		for _, p := range g.Ports {
			if p == name {
				return true
			}
		}
	}
	return false
}

// removeInput drops an input port. Only indexed sub-ports are ever removed.
func (s *OperatorSpec) removeInput(name string) {
	if _, ok := s.inputs[name]; !ok {
		return
	}
	delete(s.inputs, name)
	for i, n := range s.inputOrder {
		if n == name {
			s.inputOrder = append(s.inputOrder[:i], s.inputOrder[i+1:]...)
			break
		}
	}
}

// reset restores all port specs to their declared state.
func (s *OperatorSpec) reset() {
	for _, name := range s.inputOrder {
		s.inputs[name].reset()
	}
	for _, name := range s.outputOrder {
		s.outputs[name].reset()
	}
}
