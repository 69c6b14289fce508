// Package roles implements the role registry (M14, Design Note §9 "deep
// dispatch by role"): agent roles are rows in config, not a hierarchy of
// role-specific code paths. Anything that used to ask "is this agent an
// orchestrator/implementer/reviewer?" asks the registry instead.
package roles

import (
	"fmt"

	"github.com/fleetctl/orchestrator/config"
)

// Role is one entry of the registry, the in-package mirror of
// config.RoleConfig with capability flags as a set for O(1) lookups.
type Role struct {
	Name                string
	CapabilityFlags     map[string]bool
	DefaultPriorityBand int
}

// Registry is a read-only, name-keyed view over the configured roles.
type Registry struct {
	roles map[string]Role
	order []string
}

// New builds a Registry from config. A role with a blank name or a
// duplicate name is rejected, since dispatch-by-name would otherwise be
// ambiguous.
func New(rows []config.RoleConfig) (*Registry, error) {
	r := &Registry{roles: make(map[string]Role, len(rows))}
	for _, row := range rows {
		if row.Name == "" {
			return nil, fmt.Errorf("roles: role with empty name")
		}
		if _, exists := r.roles[row.Name]; exists {
			return nil, fmt.Errorf("roles: duplicate role name %q", row.Name)
		}
		flags := make(map[string]bool, len(row.CapabilityFlags))
		for _, f := range row.CapabilityFlags {
			flags[f] = true
		}
		r.roles[row.Name] = Role{
			Name:                row.Name,
			CapabilityFlags:     flags,
			DefaultPriorityBand: row.DefaultPriorityBand,
		}
		r.order = append(r.order, row.Name)
	}
	return r, nil
}

// Lookup returns the named role, if registered.
func (r *Registry) Lookup(name string) (Role, bool) {
	role, ok := r.roles[name]
	return role, ok
}

// HasCapability reports whether the named role carries the given
// capability flag. An unknown role never has any capability.
func (r *Registry) HasCapability(name, capability string) bool {
	role, ok := r.roles[name]
	if !ok {
		return false
	}
	return role.CapabilityFlags[capability]
}

// DefaultPriorityBand returns the role's configured default priority
// band, or store.PriorityNormal's numeric value (0) for an unknown role
// rather than erroring — a message still needs some priority even for a
// role the registry doesn't recognize.
func (r *Registry) DefaultPriorityBand(name string) int {
	role, ok := r.roles[name]
	if !ok {
		return 0
	}
	return role.DefaultPriorityBand
}

// Names returns every registered role name in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
