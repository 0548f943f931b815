package model

import "time"

// Role is a node's self-reported replication role
type Role string

const (
	// RolePrimary marks the node accepting writes
	RolePrimary Role = "PRIMARY"
	// RoleSecondary marks a replicating, read-only node
	RoleSecondary Role = "SECONDARY"
	// RoleUnknown is reported when the role query failed
	RoleUnknown Role = "UNKNOWN"
)

// RecentRecordsLimit is the number of records shown per node snapshot
const RecentRecordsLimit = 10

// NodeInfo describes one configured node
type NodeInfo struct {
	Address   string `json:"address"`
	Index     int    `json:"index"`
	IsPrimary bool   `json:"is_primary"`
}

// NodeStatus is a point-in-time consistency snapshot of one node.
// Error is set when the data query failed; RoleError when only the role query failed.
type NodeStatus struct {
	Node      string    `json:"node"`
	Role      Role      `json:"role"`
	Records   []Record  `json:"records"`
	AsOf      time.Time `json:"as_of"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	RoleError string    `json:"role_error,omitempty"`
}

// OK reports whether the data query succeeded
func (s NodeStatus) OK() bool {
	return s.Error == ""
}

// Partial reports whether the data query succeeded but the role query did not
func (s NodeStatus) Partial() bool {
	return s.Error == "" && s.RoleError != ""
}

// StatusRound is the result of checking every configured node once
type StatusRound struct {
	Nodes []NodeStatus `json:"nodes"`
	AsOf  time.Time    `json:"as_of"`
}
