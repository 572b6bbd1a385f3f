package flowwire

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func newTestFragment(t *testing.T, rt Runtime) *Fragment {
	t.Helper()
	return NewFragment("test", WithRuntime(rt))
}

func TestComposeLinearPipeline(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	src := srcOp("src")
	pipe := pipeOp("pipe")
	sink := sinkOp("sink")
	assert.NoError(t, f.AddFlow(src, pipe))
	assert.NoError(t, f.AddFlow(pipe, sink))
	assert.NoError(t, f.Compose())

	assert.Equal(t, []string{"src", "pipe", "sink"}, rt.entities)

	t.Run("transmitter defaults", func(t *testing.T) {
		tx, ok := rt.component("src", "out")
		assert.True(t, ok)
		assert.Equal(t, "DoubleBufferTransmitter", tx.ctype)
		assert.Equal(t, int64(1), tx.args["capacity"].(int64))
		assert.Equal(t, "Fault", tx.args["policy"].(string))

		cond, ok := rt.component("src", "out_cond_0")
		assert.True(t, ok)
		assert.Equal(t, "DownstreamAffordableCondition", cond.ctype)
		assert.Equal(t, int64(1), cond.args["min_size"].(int64))
	})

	t.Run("receiver defaults", func(t *testing.T) {
		rx, ok := rt.component("pipe", "in")
		assert.True(t, ok)
		assert.Equal(t, "DoubleBufferReceiver", rx.ctype)
		assert.Equal(t, int64(1), rx.args["capacity"].(int64))

		cond, ok := rt.component("pipe", "in_cond_0")
		assert.True(t, ok)
		assert.Equal(t, "MessageAvailableCondition", cond.ctype)
		assert.Equal(t, int64(1), cond.args["min_size"].(int64))
	})

	t.Run("wiring", func(t *testing.T) {
		srcTx, _ := rt.component("src", "out")
		pipeRx, _ := rt.component("pipe", "in")
		assert.True(t, rt.connected(srcTx.id, pipeRx.id))
		assert.Equal(t, 2, len(rt.conns))
	})

	t.Run("plan", func(t *testing.T) {
		plan := f.Plan()
		assert.Equal(t, 0, plan.Broadcasts)
		assert.Equal(t, 2, len(plan.Connections))
		assert.Equal(t, "src.out", plan.Connections[0].Source)
		assert.Equal(t, "pipe.in", plan.Connections[0].Target)
	})

	assert.Equal(t, 1, src.initialized)
	assert.Equal(t, 1, pipe.initialized)
	assert.Equal(t, 1, sink.initialized)
}

func TestQueueSizeAndPolicyFlowIntoConnector(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	sink := newTestOp("sink", func(s *OperatorSpec) {
		s.Input("in").SetQueueSize(8).SetOverflowPolicy(OverflowPop)
	})
	assert.NoError(t, f.AddFlow(srcOp("src"), sink))
	assert.NoError(t, f.Compose())

	rx, ok := rt.component("sink", "in")
	assert.True(t, ok)
	assert.Equal(t, int64(8), rx.args["capacity"].(int64))
	assert.Equal(t, "Pop", rx.args["policy"].(string))

	cond, ok := rt.component("sink", "in_cond_0")
	assert.True(t, ok)
	assert.Equal(t, int64(8), cond.args["min_size"].(int64))
}

func TestOutputPortAmbiguity(t *testing.T) {
	f := newTestFragment(t, newFakeRuntime())
	two := newTestOp("two", func(s *OperatorSpec) {
		s.Output("o1")
		s.Output("o2")
	})
	err := f.AddFlow(two, sinkOp("sink"))
	assert.True(t, errors.Is(err, ErrGraphStructure))
	assert.Contains(t, err.Error(), "should be one of (o1, o2)")
}

func TestInputPortAmbiguity(t *testing.T) {
	f := newTestFragment(t, newFakeRuntime())
	two := newTestOp("two", func(s *OperatorSpec) {
		s.Input("i1")
		s.Input("i2")
	})
	err := f.AddFlow(srcOp("src"), two)
	assert.True(t, errors.Is(err, ErrGraphStructure))
	assert.Contains(t, err.Error(), "should be one of (i1, i2)")
}

func TestUnknownPortNamesCandidates(t *testing.T) {
	f := newTestFragment(t, newFakeRuntime())
	err := f.AddFlow(srcOp("src"), sinkOp("sink"), PortPair{From: "bogus", To: "in"})
	assert.True(t, errors.Is(err, ErrGraphStructure))
	assert.Contains(t, err.Error(), "should be one of (out)")
}

func TestControlFlow(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	a, b, c := bareOp("a"), bareOp("b"), bareOp("c")
	assert.NoError(t, f.AddFlow(a, c))
	assert.NoError(t, f.AddFlow(b, c))
	assert.NoError(t, f.Compose())

	// The execution input counts its inbound control edges.
	rx, ok := rt.component("c", "__input_exec__")
	assert.True(t, ok)
	assert.Equal(t, "DoubleBufferReceiver", rx.ctype)
	assert.Equal(t, int64(2), rx.args["capacity"].(int64))

	tx, ok := rt.component("a", "__output_exec__")
	assert.True(t, ok)
	assert.Equal(t, "DoubleBufferTransmitter", tx.ctype)
	assert.Equal(t, 2, len(rt.conns))
}

func TestControlFlowWhenDestinationHasNoInputs(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	// The upstream has a data output, but the destination cannot take
	// data, so the unqualified flow degrades to a control edge.
	assert.NoError(t, f.AddFlow(srcOp("src"), bareOp("trigger")))
	assert.NoError(t, f.Compose())

	_, ok := rt.component("src", "__output_exec__")
	assert.True(t, ok)
	_, ok = rt.component("trigger", "__input_exec__")
	assert.True(t, ok)
}

func TestUnqualifiedFlowToMultiReceiver(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	gather := newTestOp("gather", func(s *OperatorSpec) {
		s.MultiReceiver("receivers")
	})
	assert.NoError(t, f.AddFlow(srcOp("s1"), gather))
	assert.NoError(t, f.AddFlow(srcOp("s2"), gather))
	assert.NoError(t, f.Compose())

	_, ok := rt.component("gather", "receivers:0")
	assert.True(t, ok)
	_, ok = rt.component("gather", "receivers:1")
	assert.True(t, ok)
	_, ok = rt.component("gather", "__input_exec__")
	assert.False(t, ok)
}

func TestControlFlowRequiresNativeOperators(t *testing.T) {
	f := newTestFragment(t, newFakeRuntime())
	w := wrappedOp{bareOp("wrapped")}
	err := f.AddFlow(w, bareOp("b"))
	assert.True(t, errors.Is(err, ErrGraphStructure))
	assert.Contains(t, err.Error(), "Wrapped")
}

func TestAnySizeCreatesIndexedReceivers(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	gather := newTestOp("gather", func(s *OperatorSpec) {
		s.Input("in").SetQueueSize(QueueSizeAnySize)
	})
	assert.NoError(t, f.AddFlow(srcOp("s1"), gather, PortPair{From: "out", To: "in"}))
	assert.NoError(t, f.AddFlow(srcOp("s2"), gather, PortPair{From: "out", To: "in"}))
	assert.NoError(t, f.Compose())

	_, ok := rt.component("gather", "in")
	assert.False(t, ok)
	r0, ok := rt.component("gather", "in:0")
	assert.True(t, ok)
	assert.Equal(t, int64(1), r0.args["capacity"].(int64))
	_, ok = rt.component("gather", "in:1")
	assert.True(t, ok)
	assert.Equal(t, 2, len(rt.conns))
}

func TestMultiReceiverParameter(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	gather := newTestOp("gather", func(s *OperatorSpec) {
		s.MultiReceiver("receivers")
	})
	assert.NoError(t, f.AddFlow(srcOp("s1"), gather, PortPair{To: "receivers"}))
	assert.NoError(t, f.AddFlow(srcOp("s2"), gather, PortPair{To: "receivers"}))
	assert.NoError(t, f.Compose())

	_, ok := rt.component("gather", "receivers:0")
	assert.True(t, ok)
	_, ok = rt.component("gather", "receivers:1")
	assert.True(t, ok)
}

func TestBroadcastInsertion(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	src := newTestOp("src", func(s *OperatorSpec) {
		s.Output("out").SetQueueSize(3).SetOverflowPolicy(OverflowReject)
	})
	assert.NoError(t, f.AddFlow(src, sinkOp("sink1")))
	assert.NoError(t, f.AddFlow(src, sinkOp("sink2")))
	assert.NoError(t, f.Compose())

	assert.Equal(t, 1, f.Plan().Broadcasts)

	bcastRx, ok := rt.component("broadcast_src_out", "source")
	assert.True(t, ok)
	assert.Equal(t, "DoubleBufferReceiver", bcastRx.ctype)
	assert.Equal(t, int64(3), bcastRx.args["capacity"].(int64))
	assert.Equal(t, "Reject", bcastRx.args["policy"].(string))

	srcTx, _ := rt.component("src", "out")
	assert.True(t, rt.connected(srcTx.id, bcastRx.id))

	btx0, ok := rt.component("broadcast_src_out", "btx_0")
	assert.True(t, ok)
	btx1, ok := rt.component("broadcast_src_out", "btx_1")
	assert.True(t, ok)
	rx1, _ := rt.component("sink1", "in")
	rx2, _ := rt.component("sink2", "in")
	assert.True(t, rt.connected(btx0.id, rx1.id))
	assert.True(t, rt.connected(btx1.id, rx2.id))
}

func TestTransportFanoutFails(t *testing.T) {
	f := newTestFragment(t, newFakeRuntime())
	src := newTestOp("src", func(s *OperatorSpec) {
		s.Output("out").SetConnector(ConnectorTransport, Args{"port": 10000})
	})
	assert.NoError(t, f.AddFlow(src, sinkOp("sink1")))
	assert.NoError(t, f.AddFlow(src, sinkOp("sink2")))
	assert.True(t, errors.Is(f.Compose(), ErrTransportConfiguration))
}

func TestCycleBreak(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	deepQueue := func(name string) *testOp {
		return newTestOp(name, func(s *OperatorSpec) {
			s.Input("in").SetQueueSize(5)
			s.Output("out")
		})
	}
	a, b := deepQueue("a"), deepQueue("b")
	assert.NoError(t, f.AddFlow(a, b))
	assert.NoError(t, f.AddFlow(b, a))
	assert.NoError(t, f.Compose())

	// The name-wise first node roots the cycle: its queue collapses to
	// one and its metadata policy switches to update.
	aRx, _ := rt.component("a", "in")
	assert.Equal(t, int64(1), aRx.args["capacity"].(int64))
	bRx, _ := rt.component("b", "in")
	assert.Equal(t, int64(5), bRx.args["capacity"].(int64))

	na, _ := f.graph.nodeByName("a")
	assert.Equal(t, MetadataPolicyUpdate, na.metadataPolicy)
	nb, _ := f.graph.nodeByName("b")
	assert.Equal(t, MetadataPolicyDefault, nb.metadataPolicy)

	assert.Equal(t, 2, len(rt.conns))
}

func TestResidualCycleFallbackOrder(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	// Two independent cycles, registered in an order that differs from
	// name order. The forced roots must follow name order, so "a" and
	// "c" take the break regardless of registration order.
	c, d := pipeOp("c"), pipeOp("d")
	a, b := pipeOp("a"), pipeOp("b")
	assert.NoError(t, f.AddFlow(c, d))
	assert.NoError(t, f.AddFlow(d, c))
	assert.NoError(t, f.AddFlow(a, b))
	assert.NoError(t, f.AddFlow(b, a))
	assert.NoError(t, f.Compose())

	broken := func(name string) bool {
		n, ok := f.graph.nodeByName(name)
		assert.True(t, ok)
		return n.metadataPolicy == MetadataPolicyUpdate
	}
	assert.True(t, broken("a"))
	assert.True(t, broken("c"))
	assert.False(t, broken("b"))
	assert.False(t, broken("d"))
	assert.Equal(t, 4, len(rt.conns))
}

func TestSelfEdge(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	loop := pipeOp("loop")
	assert.NoError(t, f.AddFlow(loop, loop, PortPair{From: "out", To: "in"}))
	assert.NoError(t, f.Compose())

	rx, _ := rt.component("loop", "in")
	assert.Equal(t, int64(1), rx.args["capacity"].(int64))

	// The looping output fires without a downstream condition.
	_, ok := rt.component("loop", "out_cond_0")
	assert.False(t, ok)

	// The loop is never wired as a runtime connection; the queue override
	// and the dropped condition carry the feedback semantics.
	tx, _ := rt.component("loop", "out")
	assert.False(t, rt.connected(tx.id, rx.id))
	assert.Equal(t, 0, len(rt.conns))
	assert.Equal(t, 0, len(f.Plan().Connections))
}

func TestConditionGroupSuppressesDefaults(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	join := newTestOp("join", func(s *OperatorSpec) {
		s.Input("left")
		s.Input("right")
		s.AddConditionGroup(ConditionMultiMessageAvailable, "left", "right")
	})
	assert.NoError(t, f.AddFlow(srcOp("s1"), join, PortPair{To: "left"}))
	assert.NoError(t, f.AddFlow(srcOp("s2"), join, PortPair{To: "right"}))
	assert.NoError(t, f.Compose())

	_, ok := rt.component("join", "left_cond_0")
	assert.False(t, ok)
	_, ok = rt.component("join", "right_cond_0")
	assert.False(t, ok)

	group, ok := rt.component("join", "group_cond_0")
	assert.True(t, ok)
	assert.Equal(t, "MultiMessageAvailableCondition", group.ctype)
	assert.Equal(t, 2, len(group.args["ports"].([]ComponentID)))
}

func TestUserConditionSuppressesDefault(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	sink := newTestOp("sink", func(s *OperatorSpec) {
		s.Input("in").SetQueueSize(4).SetCondition(ConditionMessageAvailable, 2)
	})
	assert.NoError(t, f.AddFlow(srcOp("src"), sink))
	assert.NoError(t, f.Compose())

	cond, ok := rt.component("sink", "in_cond_0")
	assert.True(t, ok)
	assert.Equal(t, int64(2), cond.args["min_size"].(int64))
}

func TestConditionNoneSuppressesDefault(t *testing.T) {
	rt := newFakeRuntime()
	f := newTestFragment(t, rt)

	sink := newTestOp("sink", func(s *OperatorSpec) {
		s.Input("in").SetConditionNone()
	})
	assert.NoError(t, f.AddFlow(srcOp("src"), sink))
	assert.NoError(t, f.Compose())

	_, ok := rt.component("sink", "in_cond_0")
	assert.False(t, ok)
}

func TestPrecedingCountWithoutEdgesFails(t *testing.T) {
	f := newTestFragment(t, newFakeRuntime())
	bad := newTestOp("bad", func(s *OperatorSpec) {
		s.Input("in").SetQueueSize(QueueSizePrecedingCount)
		s.Output("out")
	})
	assert.NoError(t, f.AddFlow(bad, sinkOp("sink")))
	err := f.Compose()
	assert.True(t, errors.Is(err, ErrQueueConfiguration))
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestInitializeErrorPropagates(t *testing.T) {
	f := newTestFragment(t, newFakeRuntime())
	src := srcOp("src")
	src.initErr = errors.New("boom")
	assert.NoError(t, f.AddFlow(src, sinkOp("sink")))
	err := f.Compose()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `"src"`)
}

func TestComposeRequiresRuntime(t *testing.T) {
	f := NewFragment("test")
	assert.NoError(t, f.AddFlow(srcOp("src"), sinkOp("sink")))
	assert.True(t, errors.Is(f.Compose(), ErrNoRuntime))
}

func TestComposeTwiceFails(t *testing.T) {
	f := newTestFragment(t, newFakeRuntime())
	assert.NoError(t, f.AddFlow(srcOp("src"), sinkOp("sink")))
	assert.NoError(t, f.Compose())
	assert.True(t, errors.Is(f.Compose(), ErrComposed))
	assert.True(t, errors.Is(f.AddOperator(srcOp("late")), ErrComposed))
	assert.True(t, errors.Is(f.AddFlow(srcOp("x"), sinkOp("y")), ErrComposed))
}

func TestComposeResetCompose(t *testing.T) {
	rt1 := newFakeRuntime()
	f := newTestFragment(t, rt1)

	src := newTestOp("src", func(s *OperatorSpec) {
		s.Output("out").SetQueueSize(3)
	})
	assert.NoError(t, f.AddFlow(src, sinkOp("sink1")))
	assert.NoError(t, f.AddFlow(src, sinkOp("sink2")))
	assert.NoError(t, f.Compose())

	f.Reset()
	assert.Zero(t, f.Plan())

	rt2 := newFakeRuntime()
	f.rt = rt2
	assert.NoError(t, f.Compose())

	assert.Equal(t, rt1.entities, rt2.entities)
	assert.Equal(t, len(rt1.conns), len(rt2.conns))
	assert.Equal(t, len(rt1.comps), len(rt2.comps))
}

func TestEntityPrefix(t *testing.T) {
	rt := newFakeRuntime()
	f := NewFragment("test", WithRuntime(rt), WithEntityPrefix("frag_"))
	assert.NoError(t, f.AddFlow(srcOp("src"), sinkOp("sink")))
	assert.NoError(t, f.Compose())
	assert.Equal(t, []string{"frag_src", "frag_sink"}, rt.entities)
}
