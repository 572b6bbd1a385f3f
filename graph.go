package flowwire

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// NodeID indexes a node in a FlowGraph. IDs are dense and stable for the
// lifetime of the graph; synthetic nodes removed by reset leave no holes
// because reset truncates the arena back to the user-defined prefix.
type NodeID int

type node struct {
	id        NodeID
	name      string
	op        Operator
	spec      *OperatorSpec
	kind      OperatorKind
	synthetic bool

	entity         EntityID
	finalized      bool
	metadataPolicy MetadataPolicy
}

// edgePorts holds the port pairs of a single graph edge, keyed by source
// port name, preserving insertion order.
type edgePorts struct {
	order []string
	m     map[string][]string
}

func newEdgePorts() *edgePorts {
	return &edgePorts{m: make(map[string][]string)}
}

func (e *edgePorts) add(src, dst string) {
	if _, ok := e.m[src]; !ok {
		e.order = append(e.order, src)
	}
	for _, existing := range e.m[src] {
		if existing == dst {
			return
		}
	}
	e.m[src] = append(e.m[src], dst)
}

// FlowGraph is the operator graph of one fragment. Nodes are operators,
// edges carry the set of port pairs between two operators.
type FlowGraph struct {
	nodes  []*node
	byName map[string]NodeID

	succ      []map[NodeID]*edgePorts
	succOrder [][]NodeID
	pred      [][]NodeID

	userNodes int
	frozen    bool
}

func newFlowGraph() *FlowGraph {
	return &FlowGraph{byName: make(map[string]NodeID)}
}

func (g *FlowGraph) addNode(name string, op Operator, spec *OperatorSpec, kind OperatorKind, synthetic bool) (NodeID, error) {
	if _, ok := g.byName[name]; ok {
		return 0, fmt.Errorf("%w: %q", ErrOperatorAlreadyExists, name)
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &node{id: id, name: name, op: op, spec: spec, kind: kind, synthetic: synthetic})
	g.byName[name] = id
	g.succ = append(g.succ, make(map[NodeID]*edgePorts))
	g.succOrder = append(g.succOrder, nil)
	g.pred = append(g.pred, nil)
	if !synthetic {
		g.userNodes = len(g.nodes)
	}
	return id, nil
}

func (g *FlowGraph) nodeByName(name string) (*node, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// addEdge merges the port pair into the edge from u to v, creating the edge
// if needed. Duplicate pairs are dropped.
func (g *FlowGraph) addEdge(u, v NodeID, srcPort, dstPort string) {
	ep, ok := g.succ[u][v]
	if !ok {
		ep = newEdgePorts()
		g.succ[u][v] = ep
		g.succOrder[u] = append(g.succOrder[u], v)
		g.pred[v] = append(g.pred[v], u)
	}
	ep.add(srcPort, dstPort)
}

// previousNodes returns the predecessors of v in edge insertion order.
func (g *FlowGraph) previousNodes(v NodeID) []NodeID { return g.pred[v] }

// nextNodes returns the successors of u in edge insertion order.
func (g *FlowGraph) nextNodes(u NodeID) []NodeID { return g.succOrder[u] }

// portMapBetween returns the port pairs on the edge u->v, or nil if there is
// no edge.
func (g *FlowGraph) portMapBetween(u, v NodeID) *edgePorts {
	return g.succ[u][v]
}

// connectionCountFrom counts distinct destination endpoints reachable from
// the given output port of u.
func (g *FlowGraph) connectionCountFrom(u NodeID, srcPort string) int {
	count := 0
	for _, v := range g.succOrder[u] {
		count += len(g.succ[u][v].m[srcPort])
	}
	return count
}

func (g *FlowGraph) freeze() { g.frozen = true }

// reset drops synthetic nodes and all edges incident to them, clears edge
// and materialization state, and restores every port spec to its declared
// state. User-defined nodes and their edges survive; ports created lazily by
// flow addition (execution ports, indexed sub-ports) persist.
func (g *FlowGraph) reset() {
	for _, n := range g.nodes[g.userNodes:] {
		delete(g.byName, n.name)
	}
	g.nodes = g.nodes[:g.userNodes]
	g.succ = g.succ[:g.userNodes]
	g.succOrder = g.succOrder[:g.userNodes]
	g.pred = g.pred[:g.userNodes]

	limit := NodeID(g.userNodes)
	for u := range g.nodes {
		kept := g.succOrder[u][:0]
		for _, v := range g.succOrder[u] {
			if v < limit {
				kept = append(kept, v)
			} else {
				delete(g.succ[u], v)
			}
		}
		g.succOrder[u] = kept

		preds := g.pred[u][:0]
		for _, p := range g.pred[u] {
			if p < limit {
				preds = append(preds, p)
			}
		}
		g.pred[u] = preds
	}

	// Indexed sub-ports whose only edge came from a removed synthetic
	// node are dropped; the next lowering pass recreates them.
	for u, n := range g.nodes {
		targeted := make(map[string]bool)
		for _, p := range g.pred[u] {
			ep := g.succ[p][NodeID(u)]
			for _, src := range ep.order {
				for _, dst := range ep.m[src] {
					targeted[dst] = true
				}
			}
		}
		for _, name := range append([]string(nil), n.spec.inputOrder...) {
			if strings.ContainsRune(name, ':') && !targeted[name] {
				n.spec.removeInput(name)
			}
		}
	}

	for _, n := range g.nodes {
		n.entity = 0
		n.finalized = false
		n.metadataPolicy = MetadataPolicyDefault
		n.spec.reset()
	}
	g.frozen = false
}

// validate checks that every edge references declared ports, aggregating all
// violations.
func (g *FlowGraph) validate() error {
	var err error
	for u := range g.nodes {
		un := g.nodes[u]
		for _, v := range g.succOrder[u] {
			vn := g.nodes[v]
			ep := g.succ[NodeID(u)][v]
			for _, src := range ep.order {
				if _, ok := un.spec.OutputPort(src); !ok {
					err = multierr.Append(err, fmt.Errorf("%w: operator %q has no output port %q", ErrGraphStructure, un.name, src))
				}
				for _, dst := range ep.m[src] {
					if _, ok := vn.spec.InputPort(dst); !ok {
						err = multierr.Append(err, fmt.Errorf("%w: operator %q has no input port %q", ErrGraphStructure, vn.name, dst))
					}
				}
			}
		}
	}
	return err
}
