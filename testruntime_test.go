package flowwire

import (
	"fmt"
	"sync"
)

type fakeComponent struct {
	id     ComponentID
	entity EntityID
	ctype  string
	name   string
	args   Args
}

// fakeRuntime records materialization calls for assertions.
type fakeRuntime struct {
	nextEntity    EntityID
	nextComponent ComponentID
	nextGroup     GroupID

	entities []string
	byName   map[string]EntityID
	comps    []fakeComponent
	conns    [][2]ComponentID

	groups  map[GroupID]string
	groupOf map[EntityID]GroupID

	mu          sync.Mutex
	activated   bool
	deactivated int
	running     chan struct{}
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		byName:  make(map[string]EntityID),
		groups:  make(map[GroupID]string),
		groupOf: make(map[EntityID]GroupID),
	}
}

func (r *fakeRuntime) CreateEntity(name string) (EntityID, error) {
	if _, ok := r.byName[name]; ok {
		return 0, fmt.Errorf("duplicate entity %q", name)
	}
	r.nextEntity++
	r.entities = append(r.entities, name)
	r.byName[name] = r.nextEntity
	return r.nextEntity, nil
}

func (r *fakeRuntime) AddComponent(eid EntityID, ctype, name string, args Args) (ComponentID, error) {
	r.nextComponent++
	r.comps = append(r.comps, fakeComponent{id: r.nextComponent, entity: eid, ctype: ctype, name: name, args: args})
	return r.nextComponent, nil
}

func (r *fakeRuntime) AddConnection(source, target ComponentID) error {
	r.conns = append(r.conns, [2]ComponentID{source, target})
	return nil
}

func (r *fakeRuntime) CreateEntityGroup(name string) (GroupID, error) {
	r.nextGroup++
	r.groups[r.nextGroup] = name
	return r.nextGroup, nil
}

func (r *fakeRuntime) AddToEntityGroup(gid GroupID, eid EntityID) error {
	r.groupOf[eid] = gid
	return nil
}

func (r *fakeRuntime) Activate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated = true
	r.running = make(chan struct{})
	return nil
}

func (r *fakeRuntime) RunAsync() error { return nil }

func (r *fakeRuntime) Wait() error {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	<-running
	return nil
}

func (r *fakeRuntime) Deactivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivated++
	if r.running != nil {
		select {
		case <-r.running:
		default:
			close(r.running)
		}
	}
	return nil
}

func (r *fakeRuntime) isActivated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activated
}

func (r *fakeRuntime) deactivations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deactivated
}

func (r *fakeRuntime) entity(name string) EntityID { return r.byName[name] }

func (r *fakeRuntime) componentsOf(entity string) []fakeComponent {
	eid := r.byName[entity]
	var out []fakeComponent
	for _, c := range r.comps {
		if c.entity == eid {
			out = append(out, c)
		}
	}
	return out
}

func (r *fakeRuntime) component(entity, name string) (fakeComponent, bool) {
	for _, c := range r.componentsOf(entity) {
		if c.name == name {
			return c, true
		}
	}
	return fakeComponent{}, false
}

func (r *fakeRuntime) componentByID(id ComponentID) fakeComponent {
	for _, c := range r.comps {
		if c.id == id {
			return c
		}
	}
	return fakeComponent{}
}

func (r *fakeRuntime) componentsOfType(ctype string) []fakeComponent {
	var out []fakeComponent
	for _, c := range r.comps {
		if c.ctype == ctype {
			out = append(out, c)
		}
	}
	return out
}

func (r *fakeRuntime) connected(source, target ComponentID) bool {
	for _, c := range r.conns {
		if c[0] == source && c[1] == target {
			return true
		}
	}
	return false
}
