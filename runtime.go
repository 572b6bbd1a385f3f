package flowwire

// EntityID identifies an entity created on the runtime. Zero means the
// entity has not been materialized.
type EntityID int64

// ComponentID identifies a component attached to an entity. Zero means the
// component has not been materialized.
type ComponentID int64

// GroupID identifies an entity group on the runtime.
type GroupID int64

// Runtime is the materialization boundary: the planner turns the lowered
// graph into entities, components and connections through it. Implementations
// must tolerate being called from a single goroutine only; the fragment
// serializes composition.
type Runtime interface {
	// CreateEntity creates a named entity and returns its id.
	CreateEntity(name string) (EntityID, error)

	// AddComponent attaches a component of the given type to an entity.
	AddComponent(eid EntityID, ctype, name string, args Args) (ComponentID, error)

	// AddConnection connects a transmitter component to a receiver
	// component.
	AddConnection(source, target ComponentID) error

	// CreateEntityGroup creates a named execution group.
	CreateEntityGroup(name string) (GroupID, error)

	// AddToEntityGroup moves an entity into a group.
	AddToEntityGroup(gid GroupID, eid EntityID) error

	// Activate validates and activates the materialized graph.
	Activate() error

	// RunAsync starts execution without blocking.
	RunAsync() error

	// Wait blocks until execution finishes.
	Wait() error

	// Deactivate tears down the activated graph.
	Deactivate() error
}
