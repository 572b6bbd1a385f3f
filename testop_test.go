package flowwire

// testOp is a configurable operator for tests. Its setup function declares
// ports; initErr is returned from Initialize.
type testOp struct {
	name    string
	setup   func(*OperatorSpec)
	initErr error

	initialized int
}

func newTestOp(name string, setup func(*OperatorSpec)) *testOp {
	return &testOp{name: name, setup: setup}
}

func (o *testOp) Name() string { return o.name }

func (o *testOp) Setup(spec *OperatorSpec) {
	if o.setup != nil {
		o.setup(spec)
	}
}

func (o *testOp) Initialize() error {
	o.initialized++
	return o.initErr
}

// srcOp has a single output port "out".
func srcOp(name string) *testOp {
	return newTestOp(name, func(s *OperatorSpec) { s.Output("out") })
}

// sinkOp has a single input port "in".
func sinkOp(name string) *testOp {
	return newTestOp(name, func(s *OperatorSpec) { s.Input("in") })
}

// pipeOp has one input "in" and one output "out".
func pipeOp(name string) *testOp {
	return newTestOp(name, func(s *OperatorSpec) {
		s.Input("in")
		s.Output("out")
	})
}

// bareOp declares no ports at all.
func bareOp(name string) *testOp {
	return newTestOp(name, nil)
}

// wrappedOp is a testOp reporting the wrapped kind.
type wrappedOp struct{ *testOp }

func (o wrappedOp) Kind() OperatorKind { return KindWrapped }
