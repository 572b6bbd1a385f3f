// Package inmem provides an in-memory Runtime that records every entity,
// component, connection and group it is handed. It backs tests and dry runs
// of composition.
package inmem

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/flowwire/flowwire"
)

// Entity is one recorded entity.
type Entity struct {
	ID   flowwire.EntityID
	Name string
}

// Component is one recorded component.
type Component struct {
	ID     flowwire.ComponentID
	Entity flowwire.EntityID
	Type   string
	Name   string
	Args   flowwire.Args
}

// Connection is one recorded transmitter-to-receiver link.
type Connection struct {
	Source flowwire.ComponentID
	Target flowwire.ComponentID
}

// Runtime records materialization calls. The zero value is not usable; use
// New.
type Runtime struct {
	mu sync.Mutex

	nextEntity    flowwire.EntityID
	nextComponent flowwire.ComponentID
	nextGroup     flowwire.GroupID

	entities    []Entity
	entityNames map[string]flowwire.EntityID
	components  map[flowwire.ComponentID]Component
	order       []flowwire.ComponentID
	connections []Connection

	groups  map[flowwire.GroupID]string
	groupOf map[flowwire.EntityID]flowwire.GroupID

	activated bool
	stop      chan struct{}
	done      chan struct{}
}

var _ flowwire.Runtime = (*Runtime)(nil)

// New creates an empty recording runtime.
func New() *Runtime {
	return &Runtime{
		entityNames: make(map[string]flowwire.EntityID),
		components:  make(map[flowwire.ComponentID]Component),
		groups:      make(map[flowwire.GroupID]string),
		groupOf:     make(map[flowwire.EntityID]flowwire.GroupID),
	}
}

func (r *Runtime) CreateEntity(name string) (flowwire.EntityID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entityNames[name]; ok {
		return 0, fmt.Errorf("entity %q already exists", name)
	}
	r.nextEntity++
	id := r.nextEntity
	r.entities = append(r.entities, Entity{ID: id, Name: name})
	r.entityNames[name] = id
	return id, nil
}

func (r *Runtime) AddComponent(eid flowwire.EntityID, ctype, name string, args flowwire.Args) (flowwire.ComponentID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eid <= 0 || eid > r.nextEntity {
		return 0, fmt.Errorf("unknown entity %d", eid)
	}
	r.nextComponent++
	id := r.nextComponent
	r.components[id] = Component{ID: id, Entity: eid, Type: ctype, Name: name, Args: args}
	r.order = append(r.order, id)
	return id, nil
}

func (r *Runtime) AddConnection(source, target flowwire.ComponentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[source]; !ok {
		return fmt.Errorf("unknown source component %d", source)
	}
	if _, ok := r.components[target]; !ok {
		return fmt.Errorf("unknown target component %d", target)
	}
	r.connections = append(r.connections, Connection{Source: source, Target: target})
	return nil
}

func (r *Runtime) CreateEntityGroup(name string) (flowwire.GroupID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGroup++
	r.groups[r.nextGroup] = name
	return r.nextGroup, nil
}

func (r *Runtime) AddToEntityGroup(gid flowwire.GroupID, eid flowwire.EntityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[gid]; !ok {
		return fmt.Errorf("unknown group %d", gid)
	}
	r.groupOf[eid] = gid
	return nil
}

// Activate verifies every connection links a transmitter to a receiver.
func (r *Runtime) Activate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activated {
		return fmt.Errorf("already activated")
	}
	for _, c := range r.connections {
		src, dst := r.components[c.Source], r.components[c.Target]
		if !isTransmitter(src.Type) {
			return fmt.Errorf("connection source %s/%s is not a transmitter", src.Type, src.Name)
		}
		if !isReceiver(dst.Type) {
			return fmt.Errorf("connection target %s/%s is not a receiver", dst.Type, dst.Name)
		}
	}
	r.activated = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	return nil
}

func isTransmitter(t string) bool {
	return t == "DoubleBufferTransmitter" || t == "TransportTransmitter"
}

func isReceiver(t string) bool {
	return t == "DoubleBufferReceiver" || t == "TransportReceiver"
}

func (r *Runtime) RunAsync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activated {
		return fmt.Errorf("not activated")
	}
	go func() {
		<-r.stop
		close(r.done)
	}()
	return nil
}

func (r *Runtime) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return fmt.Errorf("not running")
	}
	<-done
	return nil
}

func (r *Runtime) Deactivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activated {
		return nil
	}
	r.activated = false
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	return nil
}

// Entities returns the recorded entity names in creation order.
func (r *Runtime) Entities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.entities))
	for i, e := range r.entities {
		names[i] = e.Name
	}
	return names
}

// Entity returns the id of a named entity.
func (r *Runtime) Entity(name string) (flowwire.EntityID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entityNames[name]
	return id, ok
}

// Component returns a recorded component by id.
func (r *Runtime) Component(id flowwire.ComponentID) (Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[id]
	return c, ok
}

// Components returns the components of an entity in creation order.
func (r *Runtime) Components(eid flowwire.EntityID) []Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Component
	for _, id := range r.order {
		if c := r.components[id]; c.Entity == eid {
			out = append(out, c)
		}
	}
	return out
}

// ComponentsOfType returns every component of the given type in creation
// order.
func (r *Runtime) ComponentsOfType(ctype string) []Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Component
	for _, id := range r.order {
		if c := r.components[id]; c.Type == ctype {
			out = append(out, c)
		}
	}
	return out
}

// NamedComponent finds a component by entity name and component name.
func (r *Runtime) NamedComponent(entity, name string) (Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eid, ok := r.entityNames[entity]
	if !ok {
		return Component{}, false
	}
	for _, id := range r.order {
		if c := r.components[id]; c.Entity == eid && c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Connections returns the recorded links in creation order.
func (r *Runtime) Connections() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Connection(nil), r.connections...)
}

// GroupOf returns the group name an entity belongs to, if any.
func (r *Runtime) GroupOf(eid flowwire.EntityID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gid, ok := r.groupOf[eid]
	if !ok {
		return "", false
	}
	return r.groups[gid], true
}

// Summary returns per-component-type counts.
func (r *Runtime) Summary() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, c := range r.components {
		counts[c.Type]++
	}
	return counts
}

// ComponentTypes returns the distinct component types, sorted.
func (r *Runtime) ComponentTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, c := range r.components {
		seen[c.Type] = struct{}{}
	}
	types := maps.Keys(seen)
	sort.Strings(types)
	return types
}
