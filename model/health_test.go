package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wacul/ptr"
)

func TestAggregateHealth_Empty(t *testing.T) {
	now := time.Now()
	h := AggregateHealth(nil, now)
	assert.Equal(t, HealthGreen, h.Status)
	assert.Equal(t, 100.0, h.SuccessRate)
	assert.Equal(t, now, h.LastChecked)
	assert.Empty(t, h.RoutesHealth)
}

func TestAggregateHealth_Thresholds(t *testing.T) {
	tests := []struct {
		name             string
		success, failure int64
		expected         HealthStatus
	}{
		{"all good", 100, 0, HealthGreen},
		{"exactly 10 percent", 90, 10, HealthGreen},
		{"above 10 percent", 89, 11, HealthYellow},
		{"exactly 30 percent", 70, 30, HealthYellow},
		{"above 30 percent", 69, 31, HealthRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes := []UssdRoute{
				{ID: "r1", Code: "A", SuccessCount: tt.success, FailureCount: tt.failure},
			}
			assert.Equal(t, tt.expected, AggregateHealth(routes, time.Now()).Status)
		})
	}
}

func TestAggregateHealth_RoutesSnapshot(t *testing.T) {
	routes := []UssdRoute{
		{ID: "r1", Code: "A", SuccessCount: 5, FailureCount: 5, SuccessRate: 50, Status: RouteDegraded, AverageResponseTimeMs: ptr.Float64(300)},
		{ID: "r2", Code: "B", SuccessCount: 10, SuccessRate: 100, Status: RouteActive, AverageResponseTimeMs: ptr.Float64(100)},
	}

	h := AggregateHealth(routes, time.Now())
	assert.Equal(t, int64(20), h.TotalChecks)
	assert.Equal(t, int64(5), h.FailedChecks)
	assert.Equal(t, 75.0, h.SuccessRate)
	assert.Equal(t, 200.0, h.ResponseTimeMs)
	assert.Equal(t, HealthYellow, h.Status)
	assert.Len(t, h.RoutesHealth, 2)
	assert.Equal(t, RouteDegraded, h.RoutesHealth[0].Status)
}
