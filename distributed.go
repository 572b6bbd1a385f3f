package flowwire

import (
	"fmt"
	"os"

	"github.com/flowwire/flowwire/internal/netaddr"
)

// IOType tells which side of a boundary-crossing edge a connection item
// describes.
type IOType int

const (
	// IOInput marks the consuming side: this fragment receives from a
	// remote producer.
	IOInput IOType = iota
	// IOOutput marks the producing side: this fragment sends to a remote
	// consumer.
	IOOutput
)

func (t IOType) String() string {
	if t == IOInput {
		return "input"
	}
	return "output"
}

// SourceAddressEnvVar overrides the local bind address of transport
// receivers. Only the host part is used; ports stay as assigned by the
// deployment.
const SourceAddressEnvVar = "FLOWWIRE_SOURCE_ADDRESS"

// TransportArgs configures one endpoint of a boundary-crossing edge.
type TransportArgs struct {
	// ReceiverAddress and Port locate the remote receiver (producing
	// side).
	ReceiverAddress string
	Port            int

	// LocalAddress and LocalPort configure the bind point (consuming
	// side).
	LocalAddress string
	LocalPort    int

	// MaxRetries bounds connection attempts on the producing side.
	MaxRetries int
}

func (a TransportArgs) connectorArgs() Args {
	args := Args{}
	if a.ReceiverAddress != "" {
		args["receiver_address"] = a.ReceiverAddress
		args["port"] = a.Port
	}
	if a.LocalAddress != "" {
		args["local_address"] = a.LocalAddress
	}
	if a.LocalPort > 0 {
		args["local_port"] = a.LocalPort
	}
	if a.MaxRetries > 0 {
		args["max_retries"] = a.MaxRetries
	}
	return args
}

// ConnectionItem names one boundary-crossing endpoint of the fragment:
// "operator.port" plus the transport configuration for that edge. Items are
// produced by application composition and consumed by the distributed
// lowering pass.
type ConnectionItem struct {
	OperatorPort string
	IOType       IOType
	Args         TransportArgs
}

// splitOperatorPort splits "operator.port" into its parts.
func splitOperatorPort(s string) (op, port string, ok bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// lowerDistributed rewrites boundary-crossing edges described by the
// fragment's connection items into virtual operators and, where a consumer
// port cannot carry the transport connector itself, forward operators.
//
// Producing side: each output item gets a virtual transmitter standing in
// for the remote consumer. When the real output port feeds exactly one
// destination the transport connector is stamped onto it directly and no
// broadcast is needed.
//
// Consuming side: each input item gets a virtual receiver standing in for
// the remote producer. Plain input ports carry the transport connector
// themselves; indexed multi-receiver parameters get a forward operator in
// between because their sub-ports are created per edge and cannot be bound
// to a transport endpoint ahead of time.
func (f *Fragment) lowerDistributed() error {
	if len(f.connectionItems) == 0 {
		return nil
	}

	// Per-port index so repeated items on the same port get distinct
	// virtual operator names.
	indexOf := make(map[string]int)

	for _, item := range f.connectionItems {
		opName, portName, ok := splitOperatorPort(item.OperatorPort)
		if !ok {
			return fmt.Errorf("%w: connection item %q is not of the form operator.port",
				ErrTransportConfiguration, item.OperatorPort)
		}
		n, found := f.graph.nodeByName(opName)
		if !found {
			return fmt.Errorf("%w: connection item references operator %q",
				ErrOperatorNotFound, opName)
		}

		idx := indexOf[item.OperatorPort]
		indexOf[item.OperatorPort] = idx + 1
		virtualName := fmt.Sprintf("virtual_%s_%s_%d", opName, portName, idx)

		switch item.IOType {
		case IOOutput:
			if _, ok := n.spec.OutputPort(portName); !ok {
				return fmt.Errorf("%w: operator %q has no output port %q",
					ErrGraphStructure, n.name, portName)
			}
			vt := NewVirtualTransmitter(virtualName, portName, outputArgs(item.Args))
			vn, err := f.addNode(vt, true)
			if err != nil {
				return err
			}
			f.graph.addEdge(n.id, vn.id, portName, portName)

		case IOInput:
			args := inputArgs(item.Args)
			vr := NewVirtualReceiver(virtualName, portName, args)
			vn, err := f.addNode(vr, true)
			if err != nil {
				return err
			}

			if n.spec.isMultiReceiver(portName) {
				fwdName := fmt.Sprintf("forward_%s_%s", opName, portName)
				if idx > 0 {
					fwdName = fmt.Sprintf("%s:%d", fwdName, idx)
				}
				fwd, err := f.addNode(newForwardOp(fwdName, args), true)
				if err != nil {
					return err
				}
				f.graph.addEdge(vn.id, fwd.id, portName, "in")
				sub := n.spec.addIndexedInput(portName)
				f.graph.addEdge(fwd.id, n.id, "out", sub)
				continue
			}

			ps, ok := n.spec.InputPort(portName)
			if !ok {
				return fmt.Errorf("%w: operator %q has no input port %q",
					ErrGraphStructure, n.name, portName)
			}
			ps.setConnectorOverride(ConnectorTransport, args.connectorArgs())
			f.graph.addEdge(vn.id, n.id, portName, portName)

		default:
			return fmt.Errorf("%w: connection item %q has unknown io type %d",
				ErrTransportConfiguration, item.OperatorPort, int(item.IOType))
		}
	}

	// Collapse: a producing port that feeds exactly one destination
	// carries the transport connector itself instead of going through a
	// broadcast.
	for _, item := range f.connectionItems {
		if item.IOType != IOOutput {
			continue
		}
		opName, portName, _ := splitOperatorPort(item.OperatorPort)
		n, _ := f.graph.nodeByName(opName)
		if f.graph.connectionCountFrom(n.id, portName) == 1 {
			ps, _ := n.spec.OutputPort(portName)
			ps.setConnectorOverride(ConnectorTransport, outputArgs(item.Args).connectorArgs())
		}
	}
	return nil
}

// outputArgs finalizes a transmitter endpoint. The source-address override
// rebinds the local side; its port component is dropped so co-located
// transmitters do not collide.
func outputArgs(args TransportArgs) TransportArgs {
	if env := os.Getenv(SourceAddressEnvVar); env != "" {
		host, _ := netaddr.ParseAddress(env, "", "")
		if host != "" {
			args.LocalAddress = host
			args.LocalPort = 0
		}
	}
	return args
}

// inputArgs finalizes a receiver endpoint, defaulting the bind address.
func inputArgs(args TransportArgs) TransportArgs {
	if args.LocalAddress == "" {
		args.LocalAddress = "0.0.0.0"
	}
	return args
}
