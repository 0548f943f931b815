// Package node holds the static replica set member list and the
// one-operation-per-connection connector used to reach individual members.
package node

import (
	"fmt"
	"strings"

	"github.com/devrev/replicawatch/internal/model"
)

// Registry is the ordered list of configured nodes. The first node is the
// primary. The list is fixed at startup; there is no discovery.
type Registry struct {
	nodes []string
	index map[string]int
}

// NewRegistry builds a registry from addresses in configuration order.
// Blank entries are rejected, as are duplicates.
func NewRegistry(addresses []string) (*Registry, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("at least one node is required")
	}
	r := &Registry{
		nodes: make([]string, 0, len(addresses)),
		index: make(map[string]int, len(addresses)),
	}
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return nil, fmt.Errorf("node address must not be empty")
		}
		if _, dup := r.index[addr]; dup {
			return nil, fmt.Errorf("duplicate node address: %s", addr)
		}
		r.index[addr] = len(r.nodes)
		r.nodes = append(r.nodes, addr)
	}
	return r, nil
}

// Primary returns the write target
func (r *Registry) Primary() string {
	return r.nodes[0]
}

// Nodes returns a copy of all addresses in configuration order
func (r *Registry) Nodes() []string {
	out := make([]string, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Contains reports whether address is a configured node
func (r *Registry) Contains(address string) bool {
	_, ok := r.index[address]
	return ok
}

// Len returns the number of configured nodes
func (r *Registry) Len() int {
	return len(r.nodes)
}

// Info lists the nodes with their position and primary flag
func (r *Registry) Info() []model.NodeInfo {
	out := make([]model.NodeInfo, len(r.nodes))
	for i, addr := range r.nodes {
		out[i] = model.NodeInfo{Address: addr, Index: i, IsPrimary: i == 0}
	}
	return out
}
