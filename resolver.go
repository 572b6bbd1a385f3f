package flowwire

import (
	"fmt"

	"github.com/go-logr/logr"
)

// portResolver turns port specs into runtime components: receivers and
// transmitters with resolved capacities, plus default scheduling conditions.
type portResolver struct {
	g   *FlowGraph
	rt  Runtime
	log logr.Logger
}

// resolveQueueSize computes the effective capacity of an input port. A fixed
// positive size passes through; PrecedingCount counts the edges that
// terminate at the port across all predecessors.
func (r *portResolver) resolveQueueSize(n *node, ps *PortSpec) (int64, error) {
	size := ps.QueueSize()
	if size == QueueSizePrecedingCount {
		size = 0
		for _, p := range r.g.previousNodes(n.id) {
			ep := r.g.portMapBetween(p, n.id)
			if ep == nil {
				continue
			}
			for _, src := range ep.order {
				for _, dst := range ep.m[src] {
					if dst == ps.Name() {
						size++
					}
				}
			}
		}
	}
	if size < 1 {
		return 0, fmt.Errorf("%w: operator %q input port %q resolves to queue size %d",
			ErrQueueConfiguration, n.name, ps.Name(), size)
	}
	return size, nil
}

// receiverType maps a connector kind to the receiver component type.
func receiverType(kind ConnectorKind) string {
	if kind == ConnectorTransport {
		return "TransportReceiver"
	}
	return "DoubleBufferReceiver"
}

// transmitterType maps a connector kind to the transmitter component type.
func transmitterType(kind ConnectorKind) string {
	if kind == ConnectorTransport {
		return "TransportTransmitter"
	}
	return "DoubleBufferTransmitter"
}

// connectorArgs merges the resolved capacity and overflow policy with any
// user-supplied connector arguments.
func connectorArgs(ps *PortSpec, capacity int64) Args {
	args := Args{
		"capacity": capacity,
		"policy":   ps.OverflowPolicy().String(),
	}
	for k, v := range ps.ConnectorArgs() {
		args[k] = v
	}
	return args
}

// materializeInput creates the receiver component for an input port and
// attaches its conditions. AnySize ports are skipped entirely; their indexed
// sub-ports are materialized individually.
func (r *portResolver) materializeInput(n *node, ps *PortSpec) error {
	if ps.QueueSize() == QueueSizeAnySize {
		return nil
	}
	capacity, err := r.resolveQueueSize(n, ps)
	if err != nil {
		return err
	}
	ps.resolvedSize = capacity

	kind := ps.Connector()
	if kind == ConnectorDefault {
		kind = ConnectorDoubleBuffer
	}
	r.log.V(1).Info("resolved input port",
		"operator", n.name, "port", ps.Name(), "connector", receiverType(kind), "capacity", capacity)
	rxID, err := r.rt.AddComponent(n.entity, receiverType(kind), ps.Name(), connectorArgs(ps, capacity))
	if err != nil {
		return err
	}
	ps.componentID = rxID

	if len(ps.Conditions()) == 0 && !n.spec.portInConditionGroup(ps.Name()) {
		ps.setDefaultCondition(ConditionMessageAvailable, capacity)
	}
	return r.attachConditions(n, ps)
}

// materializeOutput creates the transmitter component for an output port.
// Transport ports never receive the default downstream condition: the remote
// receiver's fill level is not observable across the boundary.
func (r *portResolver) materializeOutput(n *node, ps *PortSpec) error {
	capacity := ps.QueueSize()
	if capacity < 1 {
		capacity = QueueSizeOne
	}
	ps.resolvedSize = capacity

	kind := ps.Connector()
	if kind == ConnectorDefault {
		kind = ConnectorDoubleBuffer
	}
	r.log.V(1).Info("resolved output port",
		"operator", n.name, "port", ps.Name(), "connector", transmitterType(kind), "capacity", capacity)
	txID, err := r.rt.AddComponent(n.entity, transmitterType(kind), ps.Name(), connectorArgs(ps, capacity))
	if err != nil {
		return err
	}
	ps.componentID = txID

	if len(ps.Conditions()) == 0 && kind != ConnectorTransport {
		ps.setDefaultCondition(ConditionDownstreamAffordable, 1)
	}
	return r.attachConditions(n, ps)
}

// attachConditions materializes the port's condition list. ConditionNone
// entries produce nothing.
func (r *portResolver) attachConditions(n *node, ps *PortSpec) error {
	for i, c := range ps.Conditions() {
		ctype := c.Kind.componentType()
		if ctype == "" {
			continue
		}
		name := fmt.Sprintf("%s_cond_%d", ps.Name(), i)
		args := Args{
			"min_size": c.MinSize,
			"port":     ps.ComponentID(),
		}
		if _, err := r.rt.AddComponent(n.entity, ctype, name, args); err != nil {
			return err
		}
	}
	return nil
}

// materializeGroups creates the multi-port condition components declared on
// the operator, referencing the receivers of the member ports.
func (r *portResolver) materializeGroups(n *node) error {
	for i, g := range n.spec.groups {
		ctype := g.Kind.componentType()
		if ctype == "" {
			continue
		}
		ids := make([]ComponentID, 0, len(g.Ports))
		for _, p := range g.Ports {
			ps, ok := n.spec.InputPort(p)
			if !ok {
				return fmt.Errorf("%w: operator %q has no input port %q for condition group",
					ErrGraphStructure, n.name, p)
			}
			ids = append(ids, ps.ComponentID())
		}
		name := fmt.Sprintf("group_cond_%d", i)
		if _, err := r.rt.AddComponent(n.entity, ctype, name, Args{"ports": ids}); err != nil {
			return err
		}
	}
	return nil
}
