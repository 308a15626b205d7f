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
)

const anomalyColumns = `anomaly_id, route_id, route_code, session_id, transaction_id, agent_id, description,
	severity, status, expected_response, actual_response, context, suggested_action, resolved_by,
	resolved_at, resolution_notes, created_at, updated_at`

func scanAnomaly(row scanner) (*model.Anomaly, error) {
	a := model.Anomaly{}
	var (
		routeCode, agentID, suggested sql.NullString
		transactionID, resolvedBy     sql.NullString
		notes                         sql.NullString
		resolvedAt                    sql.NullTime
		expected, actual, ctxJSON     []byte
	)
	err := row.Scan(
		&a.AnomalyID, &a.RouteID, &routeCode, &a.SessionID, &transactionID, &agentID, &a.Description,
		&a.Severity, &a.Status, &expected, &actual, &ctxJSON, &suggested, &resolvedBy,
		&resolvedAt, &notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.RouteCode = routeCode.String
	a.AgentID = agentID.String
	a.SuggestedAction = suggested.String
	if transactionID.Valid {
		a.TransactionID = &transactionID.String
	}
	if resolvedBy.Valid {
		a.ResolvedBy = &resolvedBy.String
	}
	if notes.Valid {
		a.ResolutionNotes = &notes.String
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}

	if err := json.Unmarshal(expected, &a.ExpectedResponse); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actual, &a.ActualResponse); err != nil {
		return nil, err
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &a.Context); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (d Datasource) CreateAnomaly(ctx context.Context, anomaly *model.Anomaly) error {
	expected, err := json.Marshal(anomaly.ExpectedResponse)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal expected response", err)
	}
	actual, err := json.Marshal(anomaly.ActualResponse)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal actual response", err)
	}
	contextJSON, err := json.Marshal(anomaly.Context)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal anomaly context", err)
	}

	now := time.Now()
	anomaly.CreatedAt = now
	anomaly.UpdatedAt = now

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO bingwa.ussd_anomalies (
			anomaly_id, route_id, route_code, session_id, transaction_id, agent_id, description, severity,
			status, expected_response, actual_response, context, suggested_action, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, anomaly.AnomalyID, anomaly.RouteID, anomaly.RouteCode, anomaly.SessionID, anomaly.TransactionID,
		nullString(anomaly.AgentID), anomaly.Description, anomaly.Severity, anomaly.Status, expected, actual,
		contextJSON, anomaly.SuggestedAction, anomaly.CreatedAt, anomaly.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record anomaly", err)
	}
	return nil
}

func (d Datasource) GetAnomaly(ctx context.Context, id string) (*model.Anomaly, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.ussd_anomalies WHERE anomaly_id = $1
	`, anomalyColumns), id)

	anomaly, err := scanAnomaly(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Anomaly with ID '%s' not found", id), model.ErrAnomalyNotFound)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve anomaly", err)
	}
	return anomaly, nil
}

func (d Datasource) GetAnomalies(ctx context.Context, status model.AnomalyStatus, limit int) ([]model.Anomaly, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = d.Conn.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM bingwa.ussd_anomalies ORDER BY created_at DESC LIMIT $1
		`, anomalyColumns), limit)
	} else {
		rows, err = d.Conn.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM bingwa.ussd_anomalies WHERE status = $1 ORDER BY created_at DESC LIMIT $2
		`, anomalyColumns), status, limit)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve anomalies", err)
	}
	defer rows.Close()

	anomalies := []model.Anomaly{}
	for rows.Next() {
		anomaly, err := scanAnomaly(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan anomaly data", err)
		}
		anomalies = append(anomalies, *anomaly)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over anomalies", err)
	}
	return anomalies, nil
}

// UpdateAnomaly writes the status and resolution fields.
func (d Datasource) UpdateAnomaly(ctx context.Context, anomaly *model.Anomaly) error {
	now := time.Now()
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bingwa.ussd_anomalies SET
			status = $2,
			resolved_by = $3,
			resolved_at = $4,
			resolution_notes = $5,
			updated_at = $6
		WHERE anomaly_id = $1
	`, anomaly.AnomalyID, anomaly.Status, anomaly.ResolvedBy, anomaly.ResolvedAt, anomaly.ResolutionNotes, now)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update anomaly", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Anomaly with ID '%s' not found", anomaly.AnomalyID), model.ErrAnomalyNotFound)
	}
	anomaly.UpdatedAt = now
	return nil
}
