package models

import (
	"strings"
	"time"
)

// NodeStatus is the lifecycle state of a node.
type NodeStatus string

const (
	NodeCreated        NodeStatus = "created"
	NodeOnline         NodeStatus = "online"
	NodeOffline        NodeStatus = "offline"
	NodeMaintenance    NodeStatus = "maintenance"
	NodeDecommissioned NodeStatus = "decommissioned"
)

// HealthCategory is derived from the node's health score.
type HealthCategory string

const (
	HealthHealthy  HealthCategory = "healthy"
	HealthDegraded HealthCategory = "degraded"
	HealthCritical HealthCategory = "critical"
)

// HealthTrend compares the current score against the previous one.
type HealthTrend string

const (
	TrendImproving HealthTrend = "improving"
	TrendStable    HealthTrend = "stable"
	TrendDegrading HealthTrend = "degrading"
)

// Resources is a per-dimension resource quantity. CPU is in millicores,
// memory and disk in MB.
type Resources struct {
	CPUMillicores int64 `json:"cpu_millicores"`
	MemoryMB      int64 `json:"memory_mb"`
	DiskMB        int64 `json:"disk_mb"`
}

// IsZero reports whether no dimension carries a quantity.
func (r Resources) IsZero() bool {
	return r.CPUMillicores == 0 && r.MemoryMB == 0 && r.DiskMB == 0
}

// Add returns r + o per dimension.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		CPUMillicores: r.CPUMillicores + o.CPUMillicores,
		MemoryMB:      r.MemoryMB + o.MemoryMB,
		DiskMB:        r.DiskMB + o.DiskMB,
	}
}

// Sub returns r - o per dimension.
func (r Resources) Sub(o Resources) Resources {
	return Resources{
		CPUMillicores: r.CPUMillicores - o.CPUMillicores,
		MemoryMB:      r.MemoryMB - o.MemoryMB,
		DiskMB:        r.DiskMB - o.DiskMB,
	}
}

// Node is the core domain object: a host in the fleet capable of running
// game-server workloads. Shared between the services and the storage layer.
type Node struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	Name     string    `json:"name"`
	Platform string    `json:"platform"`
	Capacity Resources `json:"capacity"`

	Status          NodeStatus `json:"status"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at,omitzero"`

	HealthScore    int            `json:"health_score"`
	HealthCategory HealthCategory `json:"health_category,omitempty"`
	HealthTrend    HealthTrend    `json:"health_trend,omitempty"`

	// Version is bumped on every mutation; the store compares it on write.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeName canonicalizes a node name for the per-tenant uniqueness
// index. Collisions are case-insensitive.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
