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

type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

type AnomalyStatus string

const (
	AnomalyDetected      AnomalyStatus = "detected"
	AnomalyInvestigating AnomalyStatus = "investigating"
	AnomalyResolved      AnomalyStatus = "resolved"
	AnomalyIgnored       AnomalyStatus = "ignored"
)

// Valid reports whether s is a known anomaly status.
func (s AnomalyStatus) Valid() bool {
	switch s {
	case AnomalyDetected, AnomalyInvestigating, AnomalyResolved, AnomalyIgnored:
		return true
	}
	return false
}

const (
	ActionReviewRoute       = "REVIEW_ROUTE"
	ActionCheckSessionState = "CHECK_SESSION_STATE"
)

// Anomaly records a step whose response did not match the route's declared expectation.
type Anomaly struct {
	AnomalyID        string                 `json:"anomaly_id"`
	RouteID          string                 `json:"route_id"`
	RouteCode        string                 `json:"route_code"`
	SessionID        string                 `json:"session_id"`
	TransactionID    *string                `json:"transaction_id,omitempty"`
	AgentID          string                 `json:"agent_id,omitempty"`
	Description      string                 `json:"description"`
	Severity         AnomalySeverity        `json:"severity"`
	Status           AnomalyStatus          `json:"status"`
	ExpectedResponse map[string]interface{} `json:"expected_response"`
	ActualResponse   map[string]interface{} `json:"actual_response"`
	Context          map[string]interface{} `json:"context,omitempty"`
	SuggestedAction  string                 `json:"suggested_action"`
	ResolvedBy       *string                `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time             `json:"resolved_at,omitempty"`
	ResolutionNotes  *string                `json:"resolution_notes,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}
