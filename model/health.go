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

type HealthStatus string

const (
	HealthGreen  HealthStatus = "green"
	HealthYellow HealthStatus = "yellow"
	HealthRed    HealthStatus = "red"
)

type RouteHealth struct {
	RouteID        string      `json:"route_id"`
	RouteCode      string      `json:"route_code"`
	Status         RouteStatus `json:"status"`
	SuccessRate    float64     `json:"success_rate"`
	ResponseTimeMs float64     `json:"response_time_ms"`
	AnomalyCount   int64       `json:"anomaly_count"`
}

type SystemHealth struct {
	Status         HealthStatus  `json:"status"`
	Message        string        `json:"message"`
	LastChecked    time.Time     `json:"last_checked"`
	SuccessRate    float64       `json:"success_rate"`
	ResponseTimeMs float64       `json:"response_time_ms"`
	TotalChecks    int64         `json:"total_checks"`
	FailedChecks   int64         `json:"failed_checks"`
	RoutesHealth   []RouteHealth `json:"routes_health"`
}

// AggregateHealth rolls route statistics into the system-wide status.
// Green by default, Yellow above 10% failed checks, Red above 30%.
func AggregateHealth(routes []UssdRoute, now time.Time) SystemHealth {
	health := SystemHealth{
		Status:       HealthGreen,
		Message:      "All systems normal",
		LastChecked:  now,
		RoutesHealth: make([]RouteHealth, 0, len(routes)),
	}

	var totalResponse float64
	for _, r := range routes {
		health.TotalChecks += r.SuccessCount + r.FailureCount
		health.FailedChecks += r.FailureCount

		rh := RouteHealth{
			RouteID:      r.ID,
			RouteCode:    r.Code,
			Status:       r.Status,
			SuccessRate:  r.SuccessRate,
			AnomalyCount: r.AnomalyCount,
		}
		if r.AverageResponseTimeMs != nil {
			rh.ResponseTimeMs = *r.AverageResponseTimeMs
		}
		totalResponse += rh.ResponseTimeMs
		health.RoutesHealth = append(health.RoutesHealth, rh)
	}

	health.SuccessRate = SuccessRate(health.TotalChecks-health.FailedChecks, health.FailedChecks)
	if len(routes) > 0 {
		health.ResponseTimeMs = totalResponse / float64(len(routes))
	}

	// integer comparison keeps the 10% and 30% boundaries exact
	switch {
	case health.FailedChecks*10 > health.TotalChecks*3:
		health.Status = HealthRed
		health.Message = "Critical issues detected"
	case health.FailedChecks*10 > health.TotalChecks:
		health.Status = HealthYellow
		health.Message = "Degraded performance detected"
	}
	return health
}
