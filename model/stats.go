/*
Copyright 2024 Bingwa Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import "time"

const (
	// DegradedSuccessRate is the success rate below which a route is degraded.
	DegradedSuccessRate = 90.0
	// MaxAnomalies is the anomaly count above which a route is degraded regardless of success rate.
	MaxAnomalies = 10
)

// ExecutionOutcome is the result of one step execution applied to a route's statistics.
type ExecutionOutcome struct {
	Success    bool
	Anomaly    bool
	DurationMs int64
	At         time.Time
}

// SuccessRate returns success/(success+failure)*100, or 100 when nothing ran yet.
func SuccessRate(success, failure int64) float64 {
	total := success + failure
	if total == 0 {
		return 100
	}
	return float64(success) / float64(total) * 100
}

// DeriveRouteStatus recomputes Active/Degraded. Administrative Inactive and
// Failed statuses are left untouched.
func DeriveRouteStatus(current RouteStatus, successRate float64, anomalyCount int64) RouteStatus {
	if current == RouteInactive || current == RouteFailed {
		return current
	}
	if successRate < DegradedSuccessRate || anomalyCount > MaxAnomalies {
		return RouteDegraded
	}
	return RouteActive
}

// NextAverageResponseTime is the two-point decaying average (previous+elapsed)/2.
func NextAverageResponseTime(previous *float64, elapsedMs int64) float64 {
	if previous == nil {
		return float64(elapsedMs)
	}
	return (*previous + float64(elapsedMs)) / 2
}

// ApplyExecution folds one outcome into the route's counters, rate, average and status in a single step.
func ApplyExecution(route *UssdRoute, outcome ExecutionOutcome) {
	if outcome.Success {
		route.SuccessCount++
	} else {
		route.FailureCount++
	}
	if outcome.Anomaly {
		route.AnomalyCount++
	}

	avg := NextAverageResponseTime(route.AverageResponseTimeMs, outcome.DurationMs)
	route.AverageResponseTimeMs = &avg
	route.SuccessRate = SuccessRate(route.SuccessCount, route.FailureCount)
	route.Status = DeriveRouteStatus(route.Status, route.SuccessRate, route.AnomalyCount)

	if !outcome.At.IsZero() {
		at := outcome.At
		route.LastExecutedAt = &at
	}
}
