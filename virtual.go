package flowwire

// VirtualOperator stands in for the remote end of a boundary-crossing edge.
// A virtual transmitter replaces a remote consumer (it exposes one input
// port), a virtual receiver replaces a remote producer (one output port).
// Virtual operators are graph-only: the planner skips entity creation and
// port materialization for them.
type VirtualOperator struct {
	name      string
	portName  string
	direction PortDirection
	args      TransportArgs
}

var _ Operator = (*VirtualOperator)(nil)
var _ KindMarker = (*VirtualOperator)(nil)

// NewVirtualTransmitter creates the stand-in for a remote consumer. The
// local producer's messages leave through a transport connector configured
// from args.
func NewVirtualTransmitter(name, portName string, args TransportArgs) *VirtualOperator {
	return &VirtualOperator{name: name, portName: portName, direction: DirectionInput, args: args}
}

// NewVirtualReceiver creates the stand-in for a remote producer.
func NewVirtualReceiver(name, portName string, args TransportArgs) *VirtualOperator {
	return &VirtualOperator{name: name, portName: portName, direction: DirectionOutput, args: args}
}

func (v *VirtualOperator) Name() string { return v.name }

func (v *VirtualOperator) Setup(spec *OperatorSpec) {
	if v.direction == DirectionInput {
		spec.Input(v.portName)
	} else {
		spec.Output(v.portName)
	}
}

func (v *VirtualOperator) Initialize() error { return nil }

func (v *VirtualOperator) Kind() OperatorKind { return KindVirtual }

// PortName returns the single port the virtual operator exposes.
func (v *VirtualOperator) PortName() string { return v.portName }

// TransportArgs returns the boundary endpoint configuration.
func (v *VirtualOperator) TransportArgs() TransportArgs { return v.args }

// forwardOp bridges a transport receiver to a local consumer when the
// boundary edge cannot be collapsed onto the consumer directly (fan-in onto
// an indexed multi-receiver parameter). Its input port carries the transport
// connector; its output feeds the consumer through a regular in-memory edge.
type forwardOp struct {
	name string
	args TransportArgs
}

var _ Operator = (*forwardOp)(nil)

func newForwardOp(name string, args TransportArgs) *forwardOp {
	return &forwardOp{name: name, args: args}
}

func (f *forwardOp) Name() string { return f.name }

func (f *forwardOp) Setup(spec *OperatorSpec) {
	spec.Input("in").SetConnector(ConnectorTransport, f.args.connectorArgs())
	spec.Output("out")
}

func (f *forwardOp) Initialize() error { return nil }
