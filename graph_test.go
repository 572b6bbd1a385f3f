package flowwire

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestEdgeMerge(t *testing.T) {
	g := newFlowGraph()
	a, err := g.addNode("a", srcOp("a"), setupSpec(srcOp("a")), KindNative, false)
	assert.NoError(t, err)
	b, err := g.addNode("b", sinkOp("b"), setupSpec(sinkOp("b")), KindNative, false)
	assert.NoError(t, err)

	g.addEdge(a, b, "out", "in")
	g.addEdge(a, b, "out", "in")
	g.addEdge(a, b, "out", "in2")

	ep := g.portMapBetween(a, b)
	assert.Equal(t, []string{"out"}, ep.order)
	assert.Equal(t, []string{"in", "in2"}, ep.m["out"])
	assert.Equal(t, 2, g.connectionCountFrom(a, "out"))
	assert.Equal(t, []NodeID{a}, g.previousNodes(b))
	assert.Equal(t, []NodeID{b}, g.nextNodes(a))
}

func TestDuplicateNodeName(t *testing.T) {
	g := newFlowGraph()
	_, err := g.addNode("a", srcOp("a"), setupSpec(srcOp("a")), KindNative, false)
	assert.NoError(t, err)
	_, err = g.addNode("a", srcOp("a"), setupSpec(srcOp("a")), KindNative, false)
	assert.True(t, errors.Is(err, ErrOperatorAlreadyExists))
}

func TestValidateUnknownPorts(t *testing.T) {
	g := newFlowGraph()
	a, _ := g.addNode("a", srcOp("a"), setupSpec(srcOp("a")), KindNative, false)
	b, _ := g.addNode("b", sinkOp("b"), setupSpec(sinkOp("b")), KindNative, false)
	g.addEdge(a, b, "nope", "in")
	g.addEdge(a, b, "out", "missing")

	err := g.validate()
	assert.True(t, errors.Is(err, ErrGraphStructure))
	assert.Contains(t, err.Error(), `no output port "nope"`)
	assert.Contains(t, err.Error(), `no input port "missing"`)
}

func TestResetDropsSyntheticNodes(t *testing.T) {
	g := newFlowGraph()
	a, _ := g.addNode("a", srcOp("a"), setupSpec(srcOp("a")), KindNative, false)
	b, _ := g.addNode("b", sinkOp("b"), setupSpec(sinkOp("b")), KindNative, false)
	g.addEdge(a, b, "out", "in")

	vt := NewVirtualTransmitter("virtual_a_out_0", "out", TransportArgs{})
	v, _ := g.addNode(vt.Name(), vt, setupSpec(vt), KindVirtual, true)
	g.addEdge(a, v, "out", "out")

	g.nodes[a].finalized = true
	g.nodes[a].entity = 7
	g.reset()

	assert.Equal(t, 2, len(g.nodes))
	_, ok := g.nodeByName("virtual_a_out_0")
	assert.False(t, ok)
	assert.Equal(t, []NodeID{b}, g.nextNodes(a))
	assert.False(t, g.nodes[a].finalized)
	assert.Equal(t, EntityID(0), g.nodes[a].entity)
}

func TestResetRestoresPortOverrides(t *testing.T) {
	spec := newOperatorSpec()
	ps := spec.Output("out")
	ps.SetQueueSize(4)
	ps.setConnectorOverride(ConnectorTransport, Args{"port": 10000})
	ps.forceQueueSizeOne()
	ps.disableConditions()

	ps.reset()

	assert.Equal(t, int64(4), ps.QueueSize())
	assert.Equal(t, ConnectorDefault, ps.Connector())
	assert.Equal(t, 0, len(ps.Conditions()))
}

func TestIndexedInputs(t *testing.T) {
	spec := newOperatorSpec()
	spec.MultiReceiver("receivers")

	assert.Equal(t, "receivers:0", spec.addIndexedInput("receivers"))
	assert.Equal(t, "receivers:1", spec.addIndexedInput("receivers"))
	assert.Equal(t, 2, spec.indexedCount("receivers"))

	_, ok := spec.InputPort("receivers:1")
	assert.True(t, ok)
}

// setupSpec runs an operator's Setup against a fresh spec.
func setupSpec(op Operator) *OperatorSpec {
	s := newOperatorSpec()
	op.Setup(s)
	return s
}
