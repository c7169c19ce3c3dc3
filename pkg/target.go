package pkg

import (
	"context"
	"fmt"
	"strings"
)

type TopologyMode string

const (
	TopologyLocation TopologyMode = "location"
	TopologyInstance TopologyMode = "instance"

	// localGroup is the bind label used for devices addressed directly.
	localGroup = "local"
)

func (m TopologyMode) Valid() bool {
	switch TopologyMode(strings.ToLower(string(m))) {
	case TopologyLocation, TopologyInstance:
		return true
	}
	return false
}

// BindTarget is a local address outbound probes are sourced from.
type BindTarget struct {
	Address string
	Label   string
	Group   string
}

func (t BindTarget) String() string {
	return fmt.Sprintf("%s (%s/%s)", t.Address, t.Label, t.Group)
}

// Inventory is the read side of the device inventory API.
type Inventory interface {
	AgentInstances(ctx context.Context) ([]AgentInstance, error)
	Devices(ctx context.Context) ([]Device, error)
}

type BindResolver struct {
	inventory Inventory
}

func NewBindResolver(inventory Inventory) *BindResolver {
	if inventory == nil {
		panic("pkg.NewBindResolver: inventory is nil")
	}
	return &BindResolver{inventory: inventory}
}

// Resolve returns the bind targets for nodeID under the given topology.
// In location mode nodeID is a location id, in instance mode an agent
// instance id.
func (r *BindResolver) Resolve(ctx context.Context, mode TopologyMode, nodeID int) ([]BindTarget, error) {
	switch TopologyMode(strings.ToLower(string(mode))) {
	case TopologyLocation:
		return r.resolveLocation(ctx, nodeID)
	case TopologyInstance:
		return r.resolveInstance(ctx, nodeID)
	default:
		return nil, configErr("TOPOLOGY", "must be location|instance, got %q", mode)
	}
}

func (r *BindResolver) resolveLocation(ctx context.Context, locationID int) ([]BindTarget, error) {
	devices, err := r.inventory.Devices(ctx)
	if err != nil {
		return nil, err
	}
	targets := make([]BindTarget, 0, len(devices))
	for _, d := range devices {
		if d.Location.ID != locationID {
			continue
		}
		targets = append(targets, BindTarget{
			Address: d.BindTarget,
			Label:   d.Location.Name,
			Group:   localGroup,
		})
	}
	return targets, nil
}

func (r *BindResolver) resolveInstance(ctx context.Context, instanceID int) ([]BindTarget, error) {
	devices, err := r.inventory.Devices(ctx)
	if err != nil {
		return nil, err
	}
	instances, err := r.inventory.AgentInstances(ctx)
	if err != nil {
		return nil, err
	}

	var current *AgentInstance
	for i := range instances {
		if instances[i].ID == instanceID {
			current = &instances[i]
			break
		}
	}
	if current == nil {
		return nil, configErr("NODE_ID", "matches no agent instance (%d)", instanceID)
	}

	targets := make([]BindTarget, 0, len(devices))
	for _, d := range devices {
		targets = append(targets, BindTarget{
			Address: VirtualAddress(current.Ordinal, d.Location.Ordinal, d.Ordinal),
			Label:   d.Location.Name,
			Group:   current.Name,
		})
	}
	return targets, nil
}

// VirtualAddress composes the per-instance address of a device.
func VirtualAddress(instanceOrdinal, locationOrdinal, deviceOrdinal int) string {
	return fmt.Sprintf("10.%d.%d.%d", instanceOrdinal, locationOrdinal, deviceOrdinal)
}
