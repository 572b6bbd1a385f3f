package flowwire

import (
	"fmt"
)

// ResourceKind classifies operator resources for device-affinity checks.
type ResourceKind int

const (
	ResourceAllocator ResourceKind = iota
	ResourceStreamPool
	ResourceDevice
)

// Resource is a named operator resource. Device-bound resources carry the
// device identifier they are pinned to.
type Resource struct {
	Name     string
	Kind     ResourceKind
	DeviceID int32
}

// deviceBound reports whether the resource pins its operator to a device.
func (r Resource) deviceBound() bool {
	return r.Kind == ResourceStreamPool || r.Kind == ResourceDevice
}

// ThreadPool pins a set of operators to a shared worker pool. Members of one
// pool execute in the same entity group.
type ThreadPool struct {
	name    string
	workers int64
	members []Operator
}

// Add pins an operator to the pool.
func (tp *ThreadPool) Add(ops ...Operator) {
	tp.members = append(tp.members, ops...)
}

// Name returns the pool name.
func (tp *ThreadPool) Name() string { return tp.name }

// Workers returns the configured worker count.
func (tp *ThreadPool) Workers() int64 { return tp.workers }

// resourceGrouper maps thread pools onto runtime entity groups and checks
// that no group mixes operators pinned to different devices. Operators with
// a transport port need a device component in their group so the transport
// layer can pick the right device; the grouper synthesizes one when the
// group has none.
type resourceGrouper struct {
	g  *FlowGraph
	rt Runtime

	deviceSeq int
}

// nextDeviceName hands out generated device component names in synthesis
// order, independent of the device ids they carry.
func (rg *resourceGrouper) nextDeviceName() string {
	name := fmt.Sprintf("gpu_device_%d", rg.deviceSeq)
	rg.deviceSeq++
	return name
}

func (rg *resourceGrouper) apply(f *Fragment) error {
	pooled := make(map[NodeID]bool)
	for _, tp := range f.pools {
		gid, err := rg.rt.CreateEntityGroup(tp.name)
		if err != nil {
			return err
		}

		deviceID := int32(-1)
		deviceOwner := ""
		hasTransport := false

		for _, op := range tp.members {
			nd, ok := f.graph.nodeByName(op.Name())
			if !ok {
				return fmt.Errorf("%w: thread pool %q member %q", ErrOperatorNotFound, tp.name, op.Name())
			}
			if err := rg.rt.AddToEntityGroup(gid, nd.entity); err != nil {
				return err
			}
			pooled[nd.id] = true

			for _, r := range nd.spec.resources {
				if !r.deviceBound() {
					continue
				}
				if deviceID >= 0 && r.DeviceID != deviceID {
					return fmt.Errorf("%w: thread pool %q has operator %q on device %d and operator %q on device %d",
						ErrResourceConflict, tp.name, deviceOwner, deviceID, nd.name, r.DeviceID)
				}
				if deviceID < 0 {
					deviceID = r.DeviceID
					deviceOwner = nd.name
				}
			}
			if nodeHasTransportPort(nd) {
				hasTransport = true
			}
		}

		if hasTransport && deviceID < 0 {
			deviceID = 0
		}
		if hasTransport || deviceID >= 0 {
			// Device components live on their own entity inside the
			// group so every member sees the same device.
			eid, err := rg.rt.CreateEntity(f.entityPrefix + tp.name + "_device")
			if err != nil {
				return err
			}
			if _, err := rg.rt.AddComponent(eid, "Device", rg.nextDeviceName(), Args{"device_id": deviceID}); err != nil {
				return err
			}
			if err := rg.rt.AddToEntityGroup(gid, eid); err != nil {
				return err
			}
		}
	}

	// Transport connectors expect a device component next to them. Pool
	// members were covered above; every other operator holding a transport
	// port carries the device on its own entity.
	for _, nd := range rg.g.nodes {
		if pooled[nd.id] || nd.kind == KindVirtual || !nodeHasTransportPort(nd) {
			continue
		}
		deviceID := int32(0)
		for _, r := range nd.spec.resources {
			if r.deviceBound() {
				deviceID = r.DeviceID
				break
			}
		}
		if _, err := rg.rt.AddComponent(nd.entity, "Device", rg.nextDeviceName(), Args{"device_id": deviceID}); err != nil {
			return err
		}
	}
	return nil
}

func nodeHasTransportPort(nd *node) bool {
	for _, name := range nd.spec.InputNames() {
		ps, _ := nd.spec.InputPort(name)
		if ps.Connector() == ConnectorTransport {
			return true
		}
	}
	for _, name := range nd.spec.OutputNames() {
		ps, _ := nd.spec.OutputPort(name)
		if ps.Connector() == ConnectorTransport {
			return true
		}
	}
	return false
}
