package health

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostforge/fleetd/internal/models"
)

var testThresholds = Thresholds{
	CPUPercent:   80,
	MemPercent:   85,
	DiskPercent:  90,
	MaxProcesses: 400,
}

func TestScoreIdleNodeIsPerfect(t *testing.T) {
	s := models.HeartbeatSample{CPUPercent: 10, MemPercent: 20, DiskPercent: 30, ProcessCount: 50}
	require.Equal(t, 100, Score(s, testThresholds))
}

func TestScoreSaturatedNodeIsZero(t *testing.T) {
	s := models.HeartbeatSample{CPUPercent: 100, MemPercent: 100, DiskPercent: 100, ProcessCount: 1000}
	require.Equal(t, 0, Score(s, testThresholds))
}

func TestScoreSingleDimensionPressure(t *testing.T) {
	// CPU halfway between threshold and saturation: loses half the cpu
	// weight's share of the score.
	s := models.HeartbeatSample{CPUPercent: 90, MemPercent: 10, DiskPercent: 10}
	got := Score(s, testThresholds)
	require.Equal(t, 83, got) // 100 - 0.35*0.5*100, rounded
}

func TestScoreAtThresholdCostsNothing(t *testing.T) {
	s := models.HeartbeatSample{CPUPercent: 80, MemPercent: 85, DiskPercent: 90, ProcessCount: 400}
	require.Equal(t, 100, Score(s, testThresholds))
}

func TestCategorizeBoundaries(t *testing.T) {
	require.Equal(t, models.HealthHealthy, Categorize(100))
	require.Equal(t, models.HealthHealthy, Categorize(80))
	require.Equal(t, models.HealthDegraded, Categorize(79))
	require.Equal(t, models.HealthDegraded, Categorize(50))
	require.Equal(t, models.HealthCritical, Categorize(49))
	require.Equal(t, models.HealthCritical, Categorize(0))
}

func TestTrendHysteresis(t *testing.T) {
	const band = 3

	// Oscillation inside the band never flips the trend.
	trend := Trend("", 0, 80, band) // first sample
	require.Equal(t, models.TrendImproving, trend)
	trend = Trend(trend, 80, 78, band)
	require.Equal(t, models.TrendImproving, trend)
	trend = Trend(trend, 78, 81, band)
	require.Equal(t, models.TrendImproving, trend)

	// Crossing by more than the band does.
	trend = Trend(trend, 81, 75, band)
	require.Equal(t, models.TrendDegrading, trend)
	trend = Trend(trend, 75, 77, band)
	require.Equal(t, models.TrendDegrading, trend)
	trend = Trend(trend, 77, 85, band)
	require.Equal(t, models.TrendImproving, trend)
}

func TestTrendInitialStable(t *testing.T) {
	require.Equal(t, models.TrendStable, Trend("", 0, 2, 3))
}

func TestIssuesNamesOffendingDimensions(t *testing.T) {
	s := models.HeartbeatSample{CPUPercent: 95, MemPercent: 50, DiskPercent: 99, ProcessCount: 500}
	require.Equal(t, []string{"cpu_utilization", "disk_utilization", "process_count"}, Issues(s, testThresholds))

	require.Empty(t, Issues(models.HeartbeatSample{CPUPercent: 10}, testThresholds))
}
