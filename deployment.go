package flowwire

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default placement used for fragments the deployment descriptor does not
// mention.
const (
	DefaultFragmentAddress = "127.0.0.1"
	DefaultPortBase        = 10000
)

// Placement locates one fragment: the address its transport receivers bind
// to and the base of the port range allocated to it.
type Placement struct {
	Address  string `yaml:"address"`
	PortBase int    `yaml:"port_base"`
}

// Deployment maps fragment names to placements.
type Deployment struct {
	Fragments map[string]Placement `yaml:"fragments"`
}

// PlacementFor returns the placement of a fragment, falling back to the
// defaults for unknown names.
func (d *Deployment) PlacementFor(name string) Placement {
	if d != nil {
		if p, ok := d.Fragments[name]; ok {
			if p.Address == "" {
				p.Address = DefaultFragmentAddress
			}
			if p.PortBase == 0 {
				p.PortBase = DefaultPortBase
			}
			return p
		}
	}
	return Placement{Address: DefaultFragmentAddress, PortBase: DefaultPortBase}
}

// LoadDeployment reads a deployment descriptor from a YAML file.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployment descriptor: %w", err)
	}
	var d Deployment
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing deployment descriptor %s: %w", path, err)
	}
	return &d, nil
}
