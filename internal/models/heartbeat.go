package models

import "time"

// HeartbeatSample is the telemetry payload an agent reports for a node.
// Utilization values are percentages in [0,100]. Samples are ephemeral:
// only the derived score and trend persist on the node record.
type HeartbeatSample struct {
	NodeID       string    `json:"node_id"`
	Timestamp    time.Time `json:"timestamp"`
	CPUPercent   float64   `json:"cpu_percent"`
	MemPercent   float64   `json:"mem_percent"`
	DiskPercent  float64   `json:"disk_percent"`
	ProcessCount int       `json:"process_count"`
}
