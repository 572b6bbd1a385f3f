package flowwire

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

// PortPair names one source/destination port pair of a flow. Either side may
// be empty when the operator has a single port of the relevant direction.
type PortPair struct {
	From string
	To   string
}

// Fragment holds one operator graph and composes it onto a Runtime.
type Fragment struct {
	name         string
	graph        *FlowGraph
	rt           Runtime
	log          logr.Logger
	entityPrefix string

	composeMu *sync.Mutex
	composed  bool

	pools           []*ThreadPool
	connectionItems []ConnectionItem
	plan            *Plan
}

// FragmentOption configures a Fragment.
type FragmentOption func(*Fragment)

// WithLogr sets the logger. Defaults to logr.Discard.
func WithLogr(log logr.Logger) FragmentOption {
	return func(f *Fragment) { f.log = log }
}

// WithRuntime sets the materialization target.
func WithRuntime(rt Runtime) FragmentOption {
	return func(f *Fragment) { f.rt = rt }
}

// WithComposeLock shares a compose mutex across fragments so an application
// can serialize composition against a single runtime.
func WithComposeLock(mu *sync.Mutex) FragmentOption {
	return func(f *Fragment) { f.composeMu = mu }
}

// WithEntityPrefix prefixes every entity name created for this fragment,
// keeping names unique when several fragments share a runtime.
func WithEntityPrefix(prefix string) FragmentOption {
	return func(f *Fragment) { f.entityPrefix = prefix }
}

// NewFragment creates an empty fragment.
func NewFragment(name string, opts ...FragmentOption) *Fragment {
	f := &Fragment{
		name:      name,
		graph:     newFlowGraph(),
		log:       logr.Discard(),
		composeMu: &sync.Mutex{},
	}
	for _, o := range opts {
		o(f)
	}
	f.log = f.log.WithValues("fragment", name)
	return f
}

// Name returns the fragment name.
func (f *Fragment) Name() string { return f.name }

// AddOperator registers an operator, running its Setup to collect the port
// declarations. Adding the same name twice fails.
func (f *Fragment) AddOperator(op Operator) error {
	if f.composed {
		return ErrComposed
	}
	_, err := f.addNode(op, false)
	return err
}

func (f *Fragment) addNode(op Operator, synthetic bool) (*node, error) {
	spec := newOperatorSpec()
	op.Setup(spec)
	id, err := f.graph.addNode(op.Name(), op, spec, kindOf(op), synthetic)
	if err != nil {
		return nil, err
	}
	return f.graph.nodes[id], nil
}

func (f *Fragment) nodeFor(op Operator) (*node, error) {
	if nd, ok := f.graph.nodeByName(op.Name()); ok {
		return nd, nil
	}
	return f.addNode(op, false)
}

// AddFlow connects two operators. Operators not yet added are added first.
//
// With no port pairs, the call either becomes a control-flow edge (when the
// upstream has no data outputs, or the downstream already participates in
// control flow) or defaults to the single output and single input port;
// multiple candidates on either side are an error naming the choices.
//
// A destination naming a multi-receiver parameter, or an input port with the
// any-size policy, gets a fresh indexed sub-port per call.
func (f *Fragment) AddFlow(up, down Operator, pairs ...PortPair) error {
	if f.composed {
		return ErrComposed
	}
	un, err := f.nodeFor(up)
	if err != nil {
		return err
	}
	dn, err := f.nodeFor(down)
	if err != nil {
		return err
	}

	if len(pairs) == 0 {
		if f.isControlFlow(un, dn) {
			return f.addControlFlow(un, dn)
		}
		pairs = []PortPair{{}}
	}

	for _, pp := range pairs {
		src, err := f.resolveSourcePort(un, pp.From)
		if err != nil {
			return err
		}
		dst, err := f.resolveTargetPort(dn, pp.To)
		if err != nil {
			return err
		}
		f.graph.addEdge(un.id, dn.id, src, dst)
	}
	return nil
}

// isControlFlow decides whether an unqualified flow is a control edge: no
// data can move when either side lacks data ports, and a downstream already
// driven by control edges keeps being driven that way.
func (f *Fragment) isControlFlow(un, dn *node) bool {
	if dn.spec.InputExec() != nil {
		return true
	}
	hasDataOutput := false
	for _, n := range un.spec.OutputNames() {
		if n != outputExecPortName {
			hasDataOutput = true
			break
		}
	}
	if !hasDataOutput {
		return true
	}
	return len(dn.spec.dataInputNames()) == 0 && len(dn.spec.multiReceiverParams()) == 0
}

// addControlFlow wires the execution ports of two operators so the
// downstream runs once per upstream completion.
func (f *Fragment) addControlFlow(un, dn *node) error {
	if !un.kind.SupportsControlFlow() || !dn.kind.SupportsControlFlow() {
		return fmt.Errorf("%w: control flow between %q (%s) and %q (%s) requires native operators",
			ErrGraphStructure, un.name, un.kind, dn.name, dn.kind)
	}
	src := un.spec.ensureOutputExec()
	dst := dn.spec.ensureInputExec()
	f.graph.addEdge(un.id, dn.id, src.Name(), dst.Name())
	return nil
}

func (f *Fragment) resolveSourcePort(un *node, from string) (string, error) {
	outputs := un.spec.OutputNames()
	if from == "" {
		data := make([]string, 0, len(outputs))
		for _, n := range outputs {
			if n != outputExecPortName {
				data = append(data, n)
			}
		}
		switch len(data) {
		case 1:
			return data[0], nil
		case 0:
			return "", fmt.Errorf("%w: operator %q has no output port", ErrGraphStructure, un.name)
		default:
			return "", fmt.Errorf("%w: output port of operator %q must be specified, should be one of (%s)",
				ErrGraphStructure, un.name, strings.Join(data, ", "))
		}
	}
	if _, ok := un.spec.OutputPort(from); !ok {
		return "", fmt.Errorf("%w: operator %q has no output port %q, should be one of (%s)",
			ErrGraphStructure, un.name, from, strings.Join(outputs, ", "))
	}
	return from, nil
}

func (f *Fragment) resolveTargetPort(dn *node, to string) (string, error) {
	if to == "" {
		// Indexed sub-ports are per-edge artifacts, never defaulting
		// candidates.
		var inputs []string
		for _, n := range dn.spec.dataInputNames() {
			if !strings.ContainsRune(n, ':') {
				inputs = append(inputs, n)
			}
		}
		switch len(inputs) {
		case 1:
			to = inputs[0]
		case 0:
			params := dn.spec.multiReceiverParams()
			if len(params) == 1 {
				return dn.spec.addIndexedInput(params[0]), nil
			}
			return "", fmt.Errorf("%w: operator %q has no input port", ErrGraphStructure, dn.name)
		default:
			return "", fmt.Errorf("%w: input port of operator %q must be specified, should be one of (%s)",
				ErrGraphStructure, dn.name, strings.Join(inputs, ", "))
		}
	}
	if dn.spec.isMultiReceiver(to) {
		return dn.spec.addIndexedInput(to), nil
	}
	if ps, ok := dn.spec.InputPort(to); ok {
		if ps.QueueSize() == QueueSizeAnySize {
			return dn.spec.addIndexedInput(to), nil
		}
		return to, nil
	}
	return "", fmt.Errorf("%w: operator %q has no input port %q, should be one of (%s)",
		ErrGraphStructure, dn.name, to, strings.Join(dn.spec.dataInputNames(), ", "))
}

// SetConnectionItems installs the fragment's boundary-crossing endpoints.
// Normally called by application composition.
func (f *Fragment) SetConnectionItems(items []ConnectionItem) {
	f.connectionItems = items
}

// NewThreadPool creates a worker pool; operators added to it share one
// execution group.
func (f *Fragment) NewThreadPool(name string, workers int64) *ThreadPool {
	tp := &ThreadPool{name: name, workers: workers}
	f.pools = append(f.pools, tp)
	return tp
}

// Compose lowers the graph onto the runtime: distributed lowering, port
// resolution, topological materialization, wiring and resource grouping.
// Composing twice without Reset fails.
func (f *Fragment) Compose() error {
	f.composeMu.Lock()
	defer f.composeMu.Unlock()

	if f.rt == nil {
		return ErrNoRuntime
	}
	if f.composed {
		return ErrComposed
	}
	if err := f.lowerDistributed(); err != nil {
		return err
	}
	if err := f.graph.validate(); err != nil {
		return err
	}
	f.graph.freeze()

	planner := newConnectionPlanner(f.graph, f.rt, f.log, f.entityPrefix)
	plan, err := planner.run()
	if err != nil {
		return err
	}
	grouper := &resourceGrouper{g: f.graph, rt: f.rt}
	if err := grouper.apply(f); err != nil {
		return err
	}
	f.plan = plan
	f.composed = true
	f.log.Info("fragment composed",
		"entities", len(plan.Entities),
		"connections", len(plan.Connections),
		"broadcasts", plan.Broadcasts)
	return nil
}

// Plan returns the summary of the last composition, or nil.
func (f *Fragment) Plan() *Plan { return f.plan }

// Reset discards everything composition computed so the fragment can be
// composed again, possibly against a different runtime. User-declared
// operators, flows and port settings survive.
func (f *Fragment) Reset() {
	f.composeMu.Lock()
	defer f.composeMu.Unlock()
	f.graph.reset()
	f.plan = nil
	f.composed = false
}

// Run composes if needed, then activates and drives the runtime until it
// finishes or the context is canceled.
func (f *Fragment) Run(ctx context.Context) error {
	if !f.composed {
		if err := f.Compose(); err != nil {
			return err
		}
	}
	if err := f.rt.Activate(); err != nil {
		return err
	}
	if err := f.rt.RunAsync(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- f.rt.Wait() }()
	select {
	case <-ctx.Done():
		_ = f.rt.Deactivate()
		<-done
		return ctx.Err()
	case err := <-done:
		if derr := f.rt.Deactivate(); err == nil {
			err = derr
		}
		return err
	}
}

// Interrupt tears the runtime down out of band.
func (f *Fragment) Interrupt() error { return f.rt.Deactivate() }
