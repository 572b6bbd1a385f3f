package flowwire

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// appFlow is one boundary-crossing connection between two fragments. The
// pair sides are "operator.port" references into the respective fragments.
type appFlow struct {
	src, dst *Fragment
	pairs    []PortPair
}

// App composes and runs a set of fragments. Cross-fragment flows are turned
// into connection items: the producing fragment learns where to send, the
// consuming fragment learns where to bind.
type App struct {
	name       string
	fragments  []*Fragment
	byName     map[string]*Fragment
	flows      []appFlow
	deployment *Deployment
	log        logr.Logger
}

// AppOption configures an App.
type AppOption func(*App)

// WithAppLogr sets the application logger. Defaults to logr.Discard.
func WithAppLogr(log logr.Logger) AppOption {
	return func(a *App) { a.log = log }
}

// WithDeployment sets the fragment placement descriptor.
func WithDeployment(d *Deployment) AppOption {
	return func(a *App) { a.deployment = d }
}

// NewApp creates an empty application.
func NewApp(name string, opts ...AppOption) *App {
	a := &App{
		name:   name,
		byName: make(map[string]*Fragment),
		log:    logr.Discard(),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.WithValues("app", name)
	return a
}

// AddFragment registers a fragment. Fragment names must be unique within the
// application.
func (a *App) AddFragment(f *Fragment) error {
	if _, ok := a.byName[f.name]; ok {
		return fmt.Errorf("%w: fragment %q", ErrOperatorAlreadyExists, f.name)
	}
	a.fragments = append(a.fragments, f)
	a.byName[f.name] = f
	return nil
}

// AddFlow declares cross-fragment connections. Pair sides are
// "operator.port" references; the port may be omitted when the operator has
// a single port of the relevant direction.
func (a *App) AddFlow(src, dst *Fragment, pairs ...PortPair) error {
	if _, ok := a.byName[src.name]; !ok {
		return fmt.Errorf("%w: fragment %q", ErrOperatorNotFound, src.name)
	}
	if _, ok := a.byName[dst.name]; !ok {
		return fmt.Errorf("%w: fragment %q", ErrOperatorNotFound, dst.name)
	}
	if len(pairs) == 0 {
		return fmt.Errorf("%w: flow %s -> %s needs explicit operator.port pairs",
			ErrGraphStructure, src.name, dst.name)
	}
	a.flows = append(a.flows, appFlow{src: src, dst: dst, pairs: pairs})
	return nil
}

// Compose allocates transport endpoints for every cross-fragment flow, hands
// each fragment its connection items, and composes the fragments in
// registration order.
func (a *App) Compose() error {
	items := make(map[string][]ConnectionItem)
	nextPort := make(map[string]int)

	for _, fl := range a.flows {
		place := a.deployment.PlacementFor(fl.dst.name)
		for _, pp := range fl.pairs {
			srcRef, err := resolveFlowRef(fl.src, pp.From, DirectionOutput)
			if err != nil {
				return err
			}
			dstRef, err := resolveFlowRef(fl.dst, pp.To, DirectionInput)
			if err != nil {
				return err
			}
			port := place.PortBase + nextPort[fl.dst.name]
			nextPort[fl.dst.name]++

			items[fl.src.name] = append(items[fl.src.name], ConnectionItem{
				OperatorPort: srcRef,
				IOType:       IOOutput,
				Args: TransportArgs{
					ReceiverAddress: place.Address,
					Port:            port,
					MaxRetries:      10,
				},
			})
			items[fl.dst.name] = append(items[fl.dst.name], ConnectionItem{
				OperatorPort: dstRef,
				IOType:       IOInput,
				Args: TransportArgs{
					LocalAddress: place.Address,
					LocalPort:    port,
				},
			})
		}
	}

	for _, f := range a.fragments {
		f.SetConnectionItems(items[f.name])
		if err := f.Compose(); err != nil {
			return fmt.Errorf("composing fragment %q: %w", f.name, err)
		}
	}
	return nil
}

// resolveFlowRef normalizes an "operator.port" reference, filling in the
// port when the operator has exactly one of the relevant direction.
func resolveFlowRef(f *Fragment, ref string, dir PortDirection) (string, error) {
	opName, portName, hasPort := splitOperatorPort(ref)
	if !hasPort {
		opName = ref
	}
	nd, ok := f.graph.nodeByName(opName)
	if !ok {
		return "", fmt.Errorf("%w: fragment %q has no operator %q", ErrOperatorNotFound, f.name, opName)
	}
	var names []string
	if dir == DirectionOutput {
		names = nd.spec.OutputNames()
	} else {
		names = nd.spec.dataInputNames()
	}
	if hasPort {
		for _, n := range names {
			if n == portName {
				return ref, nil
			}
		}
		if dir == DirectionInput && nd.spec.isMultiReceiver(portName) {
			return ref, nil
		}
		return "", fmt.Errorf("%w: operator %q has no %s port %q, should be one of (%s)",
			ErrGraphStructure, opName, dir, portName, strings.Join(names, ", "))
	}
	if len(names) != 1 {
		return "", fmt.Errorf("%w: %s port of operator %q must be specified, should be one of (%s)",
			ErrGraphStructure, dir, opName, strings.Join(names, ", "))
	}
	return opName + "." + names[0], nil
}

// Run composes if needed and runs every fragment concurrently, stopping all
// of them when one fails or the context is canceled.
func (a *App) Run(ctx context.Context) error {
	for _, f := range a.fragments {
		if !f.composed {
			if err := a.Compose(); err != nil {
				return err
			}
			break
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range a.fragments {
		f := f
		g.Go(func() error { return f.Run(ctx) })
	}
	return g.Wait()
}

// Fragment returns a registered fragment by name.
func (a *App) Fragment(name string) (*Fragment, bool) {
	f, ok := a.byName[name]
	return f, ok
}
