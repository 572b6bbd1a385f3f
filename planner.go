package flowwire

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
)

// Connection is one materialized transmitter-to-receiver link, named as
// "entity.component" on both ends.
type Connection struct {
	Source string
	Target string
	Kind   ConnectorKind
}

// Plan summarizes what a composition pass materialized.
type Plan struct {
	Entities    []string
	Connections []Connection
	Broadcasts  int
}

// broadcastEntity tracks a fan-out entity inserted behind an output port.
type broadcastEntity struct {
	name     string
	entity   EntityID
	capacity int64
	policy   OverflowPolicy
	nextTx   int
}

// connectionPlanner walks the graph in topological order, finalizing each
// node (entity creation, port materialization, operator initialization) and
// wiring edges as soon as both endpoints are finalized. Feedback edges are
// broken by forcing the affected queues to capacity one.
type connectionPlanner struct {
	g        *FlowGraph
	rt       Runtime
	log      logr.Logger
	resolver *portResolver
	prefix   string

	indegree   []int
	queue      []NodeID
	queued     []bool
	broadcasts map[NodeID]map[string]*broadcastEntity
	plan       *Plan
}

func newConnectionPlanner(g *FlowGraph, rt Runtime, log logr.Logger, prefix string) *connectionPlanner {
	return &connectionPlanner{
		g:          g,
		rt:         rt,
		log:        log,
		resolver:   &portResolver{g: g, rt: rt, log: log},
		prefix:     prefix,
		broadcasts: make(map[NodeID]map[string]*broadcastEntity),
		plan:       &Plan{},
	}
}

func (p *connectionPlanner) run() (*Plan, error) {
	n := len(p.g.nodes)
	p.indegree = make([]int, n)
	p.queued = make([]bool, n)
	for v := 0; v < n; v++ {
		p.indegree[v] = len(p.g.previousNodes(NodeID(v)))
	}
	for v := 0; v < n; v++ {
		if p.indegree[v] == 0 {
			p.enqueue(NodeID(v))
		}
	}

	for {
		for len(p.queue) > 0 {
			u := p.queue[0]
			p.queue = p.queue[1:]
			if p.g.nodes[u].finalized {
				continue
			}
			if err := p.visit(u); err != nil {
				return nil, err
			}
			for _, v := range p.g.nextNodes(u) {
				p.indegree[v]--
				if p.indegree[v] <= 0 && !p.g.nodes[v].finalized {
					p.enqueue(v)
				}
			}
		}

		// Nodes still unfinalized sit on cycles with no natural root;
		// force them in name order so repeated compositions pick the
		// same roots.
		var stuck []*node
		for _, nd := range p.g.nodes {
			if !nd.finalized {
				stuck = append(stuck, nd)
			}
		}
		if len(stuck) == 0 {
			break
		}
		sort.SliceStable(stuck, func(i, j int) bool { return stuck[i].name < stuck[j].name })
		p.log.V(1).Info("forcing cycle roots", "count", len(stuck))
		for _, nd := range stuck {
			p.indegree[nd.id] = 0
			p.enqueue(nd.id)
		}
	}
	return p.plan, nil
}

func (p *connectionPlanner) enqueue(v NodeID) {
	if p.queued[v] {
		return
	}
	p.queued[v] = true
	p.queue = append(p.queue, v)
}

func (p *connectionPlanner) visit(u NodeID) error {
	nd := p.g.nodes[u]

	if p.hasUnfinalizedPred(u) {
		p.breakCycle(nd)
	}
	if err := p.finalize(nd); err != nil {
		return err
	}
	if err := p.insertBroadcasts(nd); err != nil {
		return err
	}
	// Wire every edge whose other endpoint is already finalized. An edge
	// is wired exactly when its second endpoint finalizes, so nothing is
	// wired twice. Self edges are never wired: the cycle mitigation on
	// the node's own ports stands in for the connection.
	for _, pr := range p.g.previousNodes(u) {
		if pr != u && p.g.nodes[pr].finalized {
			if err := p.wireEdge(pr, u); err != nil {
				return err
			}
		}
	}
	for _, v := range p.g.nextNodes(u) {
		if v != u && p.g.nodes[v].finalized {
			if err := p.wireEdge(u, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *connectionPlanner) hasUnfinalizedPred(u NodeID) bool {
	for _, pr := range p.g.previousNodes(u) {
		if !p.g.nodes[pr].finalized {
			return true
		}
	}
	return false
}

// breakCycle applies the feedback-edge mitigations to a node visited while
// one of its predecessors is not finalized: queues fed by the feedback edge
// drop to capacity one so the loop cannot deadlock on its own backlog, the
// metadata policy switches to update, and a self edge loses the downstream
// condition on its output so the node can fire into its own queue.
func (p *connectionPlanner) breakCycle(nd *node) {
	selfEdge := p.g.portMapBetween(nd.id, nd.id) != nil
	p.log.Info("cycle break applied", "operator", nd.name, "self_edge", selfEdge)
	nd.metadataPolicy = MetadataPolicyUpdate

	if exec := nd.spec.InputExec(); exec != nil {
		exec.forceQueueSizeOne()
	}
	for _, pr := range p.g.previousNodes(nd.id) {
		if p.g.nodes[pr].finalized {
			continue
		}
		ep := p.g.portMapBetween(pr, nd.id)
		for _, src := range ep.order {
			for _, dst := range ep.m[src] {
				if ps, ok := nd.spec.InputPort(dst); ok {
					ps.forceQueueSizeOne()
				}
			}
		}
	}
	if ep := p.g.portMapBetween(nd.id, nd.id); ep != nil {
		for _, src := range ep.order {
			if ps, ok := nd.spec.OutputPort(src); ok {
				ps.disableConditions()
			}
		}
	}
}

// finalize creates the node's entity, materializes its ports and runs the
// operator's initialization hook. Virtual nodes only flip the flag.
func (p *connectionPlanner) finalize(nd *node) error {
	if nd.kind == KindVirtual {
		nd.finalized = true
		return nil
	}
	eid, err := p.rt.CreateEntity(p.prefix + nd.name)
	if err != nil {
		return err
	}
	nd.entity = eid
	p.plan.Entities = append(p.plan.Entities, p.prefix+nd.name)

	for _, name := range nd.spec.InputNames() {
		ps, _ := nd.spec.InputPort(name)
		if err := p.resolver.materializeInput(nd, ps); err != nil {
			return err
		}
	}
	for _, name := range nd.spec.OutputNames() {
		ps, _ := nd.spec.OutputPort(name)
		if err := p.resolver.materializeOutput(nd, ps); err != nil {
			return err
		}
	}
	if err := p.resolver.materializeGroups(nd); err != nil {
		return err
	}
	if err := nd.op.Initialize(); err != nil {
		return fmt.Errorf("initializing operator %q: %w", nd.name, err)
	}
	nd.finalized = true
	return nil
}

// insertBroadcasts scans the node's output ports for fan-out and inserts one
// broadcast entity per port feeding two or more destinations. The broadcast
// receiver inherits the source transmitter's capacity and policy.
func (p *connectionPlanner) insertBroadcasts(nd *node) error {
	if nd.kind == KindVirtual {
		return nil
	}
	for _, name := range nd.spec.OutputNames() {
		ps, _ := nd.spec.OutputPort(name)
		count := p.g.connectionCountFrom(nd.id, name)
		if count < 2 {
			continue
		}
		if ps.Connector() == ConnectorTransport {
			return fmt.Errorf("%w: transport output %q.%q fans out to %d destinations",
				ErrTransportConfiguration, nd.name, name, count)
		}

		bname := fmt.Sprintf("broadcast_%s_%s", nd.name, name)
		eid, err := p.rt.CreateEntity(p.prefix + bname)
		if err != nil {
			return err
		}
		capacity := ps.ResolvedQueueSize()
		rxID, err := p.rt.AddComponent(eid, "DoubleBufferReceiver", "source", Args{
			"capacity": capacity,
			"policy":   ps.OverflowPolicy().String(),
		})
		if err != nil {
			return err
		}
		if _, err := p.rt.AddComponent(eid, "MessageAvailableCondition", "source_cond", Args{
			"min_size": int64(1),
			"port":     rxID,
		}); err != nil {
			return err
		}
		if err := p.rt.AddConnection(ps.ComponentID(), rxID); err != nil {
			return err
		}
		p.plan.Connections = append(p.plan.Connections, Connection{
			Source: fmt.Sprintf("%s.%s", p.prefix+nd.name, name),
			Target: p.prefix + bname + ".source",
			Kind:   ConnectorDoubleBuffer,
		})
		p.plan.Entities = append(p.plan.Entities, p.prefix+bname)
		p.plan.Broadcasts++

		if p.broadcasts[nd.id] == nil {
			p.broadcasts[nd.id] = make(map[string]*broadcastEntity)
		}
		p.broadcasts[nd.id][name] = &broadcastEntity{
			name:     p.prefix + bname,
			entity:   eid,
			capacity: capacity,
			policy:   ps.OverflowPolicy(),
		}
	}
	return nil
}

// wireEdge connects every port pair on the edge u->v. Edges whose traffic
// leaves the process are skipped: the transport connectors stamped during
// distributed lowering already carry them.
func (p *connectionPlanner) wireEdge(u, v NodeID) error {
	un, vn := p.g.nodes[u], p.g.nodes[v]
	ep := p.g.portMapBetween(u, v)
	if ep == nil {
		return nil
	}
	for _, src := range ep.order {
		for _, dst := range ep.m[src] {
			if err := p.wirePair(un, vn, src, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *connectionPlanner) wirePair(un, vn *node, src, dst string) error {
	bcast := p.broadcasts[un.id][src]

	// Virtual consumer: traffic leaves through a transport transmitter.
	// Collapsed onto the real output port when it was the only
	// destination, otherwise attached to the broadcast.
	if vn.kind == KindVirtual {
		if bcast == nil {
			return nil
		}
		vo := vn.op.(*VirtualOperator)
		return p.addBroadcastTx(bcast, ConnectorTransport, vo.TransportArgs().connectorArgs(), nil, "")
	}
	// Virtual producer: the consumer's transport receiver (or the forward
	// operator's) is already bound; nothing to connect locally.
	if un.kind == KindVirtual {
		return nil
	}

	dstPS, ok := vn.spec.InputPort(dst)
	if !ok {
		return fmt.Errorf("%w: operator %q has no input port %q", ErrGraphStructure, vn.name, dst)
	}
	if bcast != nil {
		target := fmt.Sprintf("%s.%s", p.prefix+vn.name, dst)
		return p.addBroadcastTx(bcast, ConnectorDoubleBuffer, nil, dstPS, target)
	}
	srcPS, ok := un.spec.OutputPort(src)
	if !ok {
		return fmt.Errorf("%w: operator %q has no output port %q", ErrGraphStructure, un.name, src)
	}
	if srcPS.Connector() == ConnectorTransport || dstPS.Connector() == ConnectorTransport {
		// Collapsed boundary edge between real nodes does not occur;
		// a transport connector next to a real peer means the pair is
		// carried by the network.
		return nil
	}
	if err := p.rt.AddConnection(srcPS.ComponentID(), dstPS.ComponentID()); err != nil {
		return err
	}
	p.plan.Connections = append(p.plan.Connections, Connection{
		Source: fmt.Sprintf("%s.%s", p.prefix+un.name, src),
		Target: fmt.Sprintf("%s.%s", p.prefix+vn.name, dst),
		Kind:   ConnectorDoubleBuffer,
	})
	return nil
}

// addBroadcastTx creates the next per-destination transmitter on a broadcast
// entity. Local destinations get a connection to their receiver; transport
// destinations carry the endpoint in their connector arguments.
func (p *connectionPlanner) addBroadcastTx(b *broadcastEntity, kind ConnectorKind, extra Args, dstPS *PortSpec, target string) error {
	name := fmt.Sprintf("btx_%d", b.nextTx)
	b.nextTx++
	args := Args{
		"capacity": b.capacity,
		"policy":   b.policy.String(),
	}
	for k, v := range extra {
		args[k] = v
	}
	txID, err := p.rt.AddComponent(b.entity, transmitterType(kind), name, args)
	if err != nil {
		return err
	}
	if kind != ConnectorTransport {
		if _, err := p.rt.AddComponent(b.entity, "DownstreamAffordableCondition", name+"_cond", Args{
			"min_size": int64(1),
			"port":     txID,
		}); err != nil {
			return err
		}
	}
	if dstPS == nil {
		p.plan.Connections = append(p.plan.Connections, Connection{
			Source: fmt.Sprintf("%s.%s", b.name, name),
			Target: "remote",
			Kind:   ConnectorTransport,
		})
		return nil
	}
	if err := p.rt.AddConnection(txID, dstPS.ComponentID()); err != nil {
		return err
	}
	p.plan.Connections = append(p.plan.Connections, Connection{
		Source: fmt.Sprintf("%s.%s", b.name, name),
		Target: target,
		Kind:   ConnectorDoubleBuffer,
	})
	return nil
}
