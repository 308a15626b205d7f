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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/bingwapro/bingwa/model"
	"github.com/lib/pq"
)

const routeColumns = `route_id, code, name, description, ussd_string, processing_mode, expected_responses,
	extraction_patterns, required_step_count, success_count, failure_count, anomaly_count, success_rate,
	avg_response_time_ms, status, is_active, meta_data, last_executed_at, created_at, updated_at`

const routeCacheTTL = 5 * time.Minute

func routeCacheKey(code string) string {
	return fmt.Sprintf("ussd-route:%s", code)
}

func scanRoute(row scanner) (*model.UssdRoute, error) {
	r := model.UssdRoute{}
	var (
		expected, extraction, metaData []byte
		avgResponse                    sql.NullFloat64
		lastExecuted                   sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.Code, &r.Name, &r.Description, &r.DialTemplate, &r.ProcessingMode, &expected,
		&extraction, &r.RequiredStepCount, &r.SuccessCount, &r.FailureCount, &r.AnomalyCount, &r.SuccessRate,
		&avgResponse, &r.Status, &r.IsActive, &metaData, &lastExecuted, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(expected) > 0 {
		if err := json.Unmarshal(expected, &r.ExpectedResponses); err != nil {
			return nil, err
		}
	}
	if len(extraction) > 0 {
		if err := json.Unmarshal(extraction, &r.ExtractionPatterns); err != nil {
			return nil, err
		}
	}
	if len(metaData) > 0 {
		if err := json.Unmarshal(metaData, &r.MetaData); err != nil {
			return nil, err
		}
	}
	if avgResponse.Valid {
		r.AverageResponseTimeMs = &avgResponse.Float64
	}
	if lastExecuted.Valid {
		r.LastExecutedAt = &lastExecuted.Time
	}
	return &r, nil
}

func marshalRouteRules(route *model.UssdRoute) (expected, extraction, metaData []byte, err error) {
	if route.ExpectedResponses == nil {
		route.ExpectedResponses = []model.ExpectedResponse{}
	}
	if route.ExtractionPatterns == nil {
		route.ExtractionPatterns = []model.ExtractionPattern{}
	}
	expected, err = json.Marshal(route.ExpectedResponses)
	if err != nil {
		return nil, nil, nil, err
	}
	extraction, err = json.Marshal(route.ExtractionPatterns)
	if err != nil {
		return nil, nil, nil, err
	}
	metaData, err = json.Marshal(route.MetaData)
	if err != nil {
		return nil, nil, nil, err
	}
	return expected, extraction, metaData, nil
}

func (d Datasource) CreateRoute(ctx context.Context, route *model.UssdRoute) error {
	expected, extraction, metaData, err := marshalRouteRules(route)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal route rules", err)
	}

	now := time.Now()
	route.CreatedAt = now
	route.UpdatedAt = now

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO bingwa.ussd_routes (
			route_id, code, name, description, ussd_string, processing_mode, expected_responses,
			extraction_patterns, required_step_count, success_rate, status, is_active, meta_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, route.ID, route.Code, route.Name, route.Description, route.DialTemplate, route.ProcessingMode, expected,
		extraction, route.RequiredStepCount, route.SuccessRate, route.Status, route.IsActive, metaData, route.CreatedAt, route.UpdatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Route with code '%s' already exists", route.Code), model.ErrRouteExists)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create route", err)
	}
	return nil
}

func (d Datasource) getRoute(ctx context.Context, column, value string) (*model.UssdRoute, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.ussd_routes WHERE %s = $1
	`, routeColumns, column), value)

	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Route with %s '%s' not found", column, value), model.ErrRouteNotFound)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve route", err)
	}
	return route, nil
}

func (d Datasource) GetRouteByID(ctx context.Context, id string) (*model.UssdRoute, error) {
	return d.getRoute(ctx, "route_id", id)
}

// GetRouteByCode reads through the route cache when one is configured.
// Cached entries carry the route definition; statistics on them may lag.
func (d Datasource) GetRouteByCode(ctx context.Context, code string) (*model.UssdRoute, error) {
	if d.Cache != nil {
		cached := model.UssdRoute{}
		if err := d.Cache.Get(ctx, routeCacheKey(code), &cached); err == nil && cached.ID != "" {
			return &cached, nil
		}
	}

	route, err := d.getRoute(ctx, "code", code)
	if err != nil {
		return nil, err
	}

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, routeCacheKey(code), route, routeCacheTTL)
	}
	return route, nil
}

func (d Datasource) GetAllRoutes(ctx context.Context) ([]model.UssdRoute, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.ussd_routes ORDER BY created_at DESC
	`, routeColumns))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve routes", err)
	}
	defer rows.Close()

	routes := []model.UssdRoute{}
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan route data", err)
		}
		routes = append(routes, *route)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over routes", err)
	}
	return routes, nil
}

func (d Datasource) UpdateRoute(ctx context.Context, route *model.UssdRoute, status *model.RouteStatus) error {
	expected, extraction, metaData, err := marshalRouteRules(route)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal route rules", err)
	}

	previous, err := d.GetRouteByID(ctx, route.ID)
	if err != nil {
		return err
	}

	// status is only written when the admin sets it, so a concurrent
	// ApplyRouteExecution recomputation is not overwritten.
	route.UpdatedAt = time.Now()
	err = d.Conn.QueryRowContext(ctx, `
		UPDATE bingwa.ussd_routes SET
			code = $2,
			name = $3,
			description = $4,
			ussd_string = $5,
			processing_mode = $6,
			expected_responses = $7,
			extraction_patterns = $8,
			required_step_count = $9,
			status = COALESCE($10, status),
			is_active = $11,
			meta_data = $12,
			updated_at = $13
		WHERE route_id = $1
		RETURNING status
	`, route.ID, route.Code, route.Name, route.Description, route.DialTemplate, route.ProcessingMode,
		expected, extraction, route.RequiredStepCount, status, route.IsActive, metaData, route.UpdatedAt).Scan(&route.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Route with ID '%s' not found", route.ID), model.ErrRouteNotFound)
		}
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Route with code '%s' already exists", route.Code), model.ErrRouteExists)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update route", err)
	}

	d.invalidateRoute(ctx, previous.Code)
	if previous.Code != route.Code {
		d.invalidateRoute(ctx, route.Code)
	}
	return nil
}

func (d Datasource) invalidateRoute(ctx context.Context, code string) {
	if d.Cache == nil {
		return
	}
	_ = d.Cache.Delete(ctx, routeCacheKey(code))
}

// ApplyRouteExecution updates counters, success rate, average response time and
// status in one statement. Every right-hand side reads the pre-update row.
func (d Datasource) ApplyRouteExecution(ctx context.Context, routeID string, outcome model.ExecutionOutcome) (*model.UssdRoute, error) {
	var success, failure, anomalies int64
	if outcome.Success {
		success = 1
	} else {
		failure = 1
	}
	if outcome.Anomaly {
		anomalies = 1
	}
	at := outcome.At
	if at.IsZero() {
		at = time.Now()
	}

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE bingwa.ussd_routes SET
			success_count = success_count + $2,
			failure_count = failure_count + $3,
			anomaly_count = anomaly_count + $4,
			avg_response_time_ms = CASE
				WHEN avg_response_time_ms IS NULL THEN $5::double precision
				ELSE (avg_response_time_ms + $5::double precision) / 2
			END,
			success_rate = CASE
				WHEN success_count + failure_count + $2 + $3 = 0 THEN 100
				ELSE (success_count + $2)::double precision * 100 / (success_count + failure_count + $2 + $3)
			END,
			status = CASE
				WHEN status IN ('inactive', 'failed') THEN status
				WHEN anomaly_count + $4 > %d THEN 'degraded'
				WHEN success_count + failure_count + $2 + $3 > 0
					AND (success_count + $2)::double precision * 100 / (success_count + failure_count + $2 + $3) < %g THEN 'degraded'
				ELSE 'active'
			END,
			last_executed_at = $6
		WHERE route_id = $1
		RETURNING %s
	`, model.MaxAnomalies, model.DegradedSuccessRate, routeColumns), routeID, success, failure, anomalies, outcome.DurationMs, at)

	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Route with ID '%s' not found", routeID), model.ErrRouteNotFound)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update route statistics", err)
	}
	return route, nil
}
