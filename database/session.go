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

const sessionColumns = `session_id, route_id, agent_id, transaction_id, phone_number, msisdn, dial_string,
	processing_mode, current_step, status, request_history, extracted_data, raw_responses, error_message,
	is_anomaly, anomaly_id, completed_at, created_at, updated_at`

func scanSession(row scanner) (*model.UssdSession, error) {
	s := model.UssdSession{}
	var (
		agentID, transactionID, msisdn, dialString, errorMessage, anomalyID sql.NullString
		history, extracted, raw                                            []byte
		completedAt                                                        sql.NullTime
	)
	err := row.Scan(
		&s.SessionID, &s.RouteID, &agentID, &transactionID, &s.PhoneNumber, &msisdn, &dialString,
		&s.ProcessingMode, &s.CurrentStep, &s.Status, &history, &extracted, &raw, &errorMessage,
		&s.IsAnomaly, &anomalyID, &completedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.AgentID = agentID.String
	s.TransactionID = transactionID.String
	s.Msisdn = msisdn.String
	s.DialString = dialString.String
	s.ErrorMessage = errorMessage.String
	s.AnomalyID = anomalyID.String
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}

	for _, field := range []struct {
		raw  []byte
		dest interface{}
	}{
		{history, &s.RequestHistory},
		{extracted, &s.ExtractedData},
		{raw, &s.RawResponses},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

type sessionJSON struct {
	history, extracted, raw []byte
}

func marshalSession(session *model.UssdSession) (sessionJSON, error) {
	if session.RequestHistory == nil {
		session.RequestHistory = []model.RequestRecord{}
	}
	if session.ExtractedData == nil {
		session.ExtractedData = map[string]string{}
	}
	if session.RawResponses == nil {
		session.RawResponses = []string{}
	}

	var out sessionJSON
	var err error
	if out.history, err = json.Marshal(session.RequestHistory); err != nil {
		return out, err
	}
	if out.extracted, err = json.Marshal(session.ExtractedData); err != nil {
		return out, err
	}
	if out.raw, err = json.Marshal(session.RawResponses); err != nil {
		return out, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (d Datasource) CreateSession(ctx context.Context, session *model.UssdSession) error {
	data, err := marshalSession(session)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal session", err)
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO bingwa.ussd_sessions (
			session_id, route_id, agent_id, transaction_id, phone_number, msisdn, dial_string, processing_mode,
			current_step, status, request_history, extracted_data, raw_responses, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, session.SessionID, session.RouteID, nullString(session.AgentID), nullString(session.TransactionID),
		session.PhoneNumber, nullString(session.Msisdn), nullString(session.DialString), session.ProcessingMode,
		session.CurrentStep, session.Status, data.history, data.extracted, data.raw, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Session with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create session", err)
	}
	return nil
}

func (d Datasource) GetSession(ctx context.Context, sessionID string) (*model.UssdSession, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.ussd_sessions WHERE session_id = $1
	`, sessionColumns), sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Session with ID '%s' not found", sessionID), model.ErrSessionNotFound)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve session", err)
	}
	return session, nil
}

func (d Datasource) SaveSessionStep(ctx context.Context, session *model.UssdSession) (bool, error) {
	data, err := marshalSession(session)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal session", err)
	}

	now := time.Now()
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bingwa.ussd_sessions SET
			current_step = $2,
			status = $3,
			request_history = $4,
			extracted_data = $5,
			raw_responses = $6,
			error_message = $7,
			is_anomaly = $8,
			anomaly_id = $9,
			completed_at = $10,
			dial_string = $11,
			updated_at = $12
		WHERE session_id = $1 AND status NOT IN `+terminalSessionStatuses,
		session.SessionID, session.CurrentStep, session.Status, data.history, data.extracted, data.raw,
		nullString(session.ErrorMessage), session.IsAnomaly, nullString(session.AnomalyID), session.CompletedAt,
		nullString(session.DialString), now)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save session step", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}
	session.UpdatedAt = now
	return true, nil
}

func (d Datasource) AbortSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bingwa.ussd_sessions SET status = 'aborted', completed_at = $2, updated_at = $2
		WHERE session_id = $1 AND status NOT IN `+terminalSessionStatuses, sessionID, at)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to abort session", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}

func (d Datasource) querySessions(ctx context.Context, query string, args ...interface{}) ([]model.UssdSession, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve sessions", err)
	}
	defer rows.Close()

	sessions := []model.UssdSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan session data", err)
		}
		sessions = append(sessions, *session)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over sessions", err)
	}
	return sessions, nil
}

func (d Datasource) GetActiveSessions(ctx context.Context, limit int) ([]model.UssdSession, error) {
	return d.querySessions(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.ussd_sessions
		WHERE status IN ('initiated', 'in_progress')
		ORDER BY created_at DESC
		LIMIT $1
	`, sessionColumns), limit)
}

func (d Datasource) GetSessionsByAgent(ctx context.Context, agentID string, limit int) ([]model.UssdSession, error) {
	if agentID == "" {
		return d.querySessions(ctx, fmt.Sprintf(`
			SELECT %s FROM bingwa.ussd_sessions ORDER BY created_at DESC LIMIT $1
		`, sessionColumns), limit)
	}
	return d.querySessions(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.ussd_sessions
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionColumns), agentID, limit)
}
