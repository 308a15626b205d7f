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

package bingwa

import (
	"context"

	"github.com/bingwapro/bingwa/internal/metrics"
	"github.com/bingwapro/bingwa/model"
)

var healthGaugeValue = map[model.HealthStatus]float64{
	model.HealthGreen:  0,
	model.HealthYellow: 1,
	model.HealthRed:    2,
}

// GetRouteHealth aggregates every route's statistics into the system health
// snapshot and publishes it to the health gauges.
func (b *Bingwa) GetRouteHealth(ctx context.Context) (*model.SystemHealth, error) {
	ctx, span := tracer.Start(ctx, "GetRouteHealth")
	defer span.End()

	routes, err := b.datasource.GetAllRoutes(ctx)
	if err != nil {
		return nil, err
	}

	health := model.AggregateHealth(routes, b.clock())
	metrics.HealthStatus.Set(healthGaugeValue[health.Status])
	for _, r := range health.RoutesHealth {
		metrics.RouteSuccessRate.WithLabelValues(r.RouteCode).Set(r.SuccessRate)
	}
	return &health, nil
}
