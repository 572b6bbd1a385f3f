package flowwire

import "errors"

// Composition errors. All of them are fatal: composition aborts with the
// offending operator/port names attached via %w wrapping, and no retries are
// performed because graph construction is deterministic for identical input.
var (
	// ErrGraphStructure covers ambiguous port mappings, references to
	// missing ports and control-flow edges between incompatible operator
	// kinds.
	ErrGraphStructure = errors.New("flowwire: graph structure error")

	// ErrQueueConfiguration is returned when a port's resolved queue size
	// is smaller than 1.
	ErrQueueConfiguration = errors.New("flowwire: queue configuration error")

	// ErrResourceConflict is returned when members of one execution group
	// reference different device identifiers.
	ErrResourceConflict = errors.New("flowwire: resource conflict")

	// ErrTransportConfiguration is returned when a transport-kind output
	// port fans out to multiple destinations that cannot share it.
	ErrTransportConfiguration = errors.New("flowwire: transport configuration error")

	// ErrOperatorAlreadyExists is returned when two operators are
	// registered under the same name.
	ErrOperatorAlreadyExists = errors.New("flowwire: operator already exists")

	// ErrOperatorNotFound is returned when a flow or group references an
	// operator that was never added.
	ErrOperatorNotFound = errors.New("flowwire: operator not found")

	// ErrComposed is returned when the graph is mutated or re-composed
	// after materialization began. Call Reset first.
	ErrComposed = errors.New("flowwire: graph already composed")

	// ErrNoRuntime is returned by Compose when no Runtime was configured.
	ErrNoRuntime = errors.New("flowwire: no runtime configured")
)
