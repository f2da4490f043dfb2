package health

import (
	"math"

	"github.com/hostforge/fleetd/internal/models"
)

// Thresholds are the utilization levels above which a dimension starts
// costing health score. Percentages in [0,100]; MaxProcesses is an absolute
// count.
type Thresholds struct {
	CPUPercent   float64
	MemPercent   float64
	DiskPercent  float64
	MaxProcesses int
}

// Dimension weights. Utilization pressure on cpu and memory dominates the
// score; disk and process count temper it.
const (
	weightCPU  = 0.35
	weightMem  = 0.35
	weightDisk = 0.20
	weightProc = 0.10
)

// Score maps a heartbeat sample to a 0-100 fitness value. A sample fully
// under every threshold scores 100; each dimension loses up to its weight's
// share as utilization climbs from its threshold toward saturation.
func Score(s models.HeartbeatSample, t Thresholds) int {
	penalty := weightCPU*overshoot(s.CPUPercent, t.CPUPercent) +
		weightMem*overshoot(s.MemPercent, t.MemPercent) +
		weightDisk*overshoot(s.DiskPercent, t.DiskPercent) +
		weightProc*procOvershoot(s.ProcessCount, t.MaxProcesses)
	score := int(math.Round(100 * (1 - penalty)))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// overshoot maps utilization to [0,1]: 0 at or below the threshold, 1 at
// full saturation.
func overshoot(util, threshold float64) float64 {
	if util <= threshold {
		return 0
	}
	if threshold >= 100 {
		return 0
	}
	frac := (util - threshold) / (100 - threshold)
	return math.Min(frac, 1)
}

func procOvershoot(count, max int) float64 {
	if max <= 0 || count <= max {
		return 0
	}
	// Saturates at double the configured ceiling.
	frac := float64(count-max) / float64(max)
	return math.Min(frac, 1)
}

// Categorize derives the health category from a score.
func Categorize(score int) models.HealthCategory {
	switch {
	case score >= 80:
		return models.HealthHealthy
	case score >= 50:
		return models.HealthDegraded
	default:
		return models.HealthCritical
	}
}

// Trend compares the new score against the previous one. Movement inside
// the hysteresis band keeps the prior trend, so measurement noise never
// flaps the reported direction.
func Trend(prev models.HealthTrend, prevScore, score, hysteresis int) models.HealthTrend {
	delta := score - prevScore
	switch {
	case delta > hysteresis:
		return models.TrendImproving
	case delta < -hysteresis:
		return models.TrendDegrading
	}
	if prev == "" {
		return models.TrendStable
	}
	return prev
}

// Issues names the dimensions over their thresholds, for the degraded
// notification payload.
func Issues(s models.HeartbeatSample, t Thresholds) []string {
	var out []string
	if s.CPUPercent > t.CPUPercent {
		out = append(out, "cpu_utilization")
	}
	if s.MemPercent > t.MemPercent {
		out = append(out, "memory_utilization")
	}
	if s.DiskPercent > t.DiskPercent {
		out = append(out, "disk_utilization")
	}
	if t.MaxProcesses > 0 && s.ProcessCount > t.MaxProcesses {
		out = append(out, "process_count")
	}
	return out
}
