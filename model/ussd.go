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

import (
	"strings"
	"time"
)

type ProcessingMode string

const (
	ProcessingExpress  ProcessingMode = "express"
	ProcessingAdvanced ProcessingMode = "advanced"
)

type RouteStatus string

const (
	RouteActive   RouteStatus = "active"
	RouteInactive RouteStatus = "inactive"
	RouteDegraded RouteStatus = "degraded"
	RouteFailed   RouteStatus = "failed"
)

type SessionStatus string

const (
	SessionInitiated  SessionStatus = "initiated"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionTimedOut   SessionStatus = "timeout"
	SessionAborted    SessionStatus = "aborted"
)

// IsTerminal reports whether the session can no longer execute steps.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionTimedOut, SessionAborted:
		return true
	}
	return false
}

type UssdAction string

const (
	ActionInitiate UssdAction = "initiate"
	ActionRespond  UssdAction = "respond"
	ActionCancel   UssdAction = "cancel"
)

// ParseUssdAction normalises an action name. ok is false for anything unknown.
func ParseUssdAction(s string) (UssdAction, bool) {
	switch a := UssdAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionInitiate, ActionRespond, ActionCancel:
		return a, true
	}
	return "", false
}

type ExpectedResponse struct {
	Step       int    `json:"step"`
	Pattern    string `json:"pattern"`
	NextAction string `json:"next_action,omitempty"`
}

type ExtractionPattern struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
	Step    int    `json:"step"`
}

// UssdRoute is a reusable dialogue template plus its rolling health statistics.
type UssdRoute struct {
	ID                    string                 `json:"route_id"`
	Code                  string                 `json:"code"`
	Name                  string                 `json:"name"`
	Description           string                 `json:"description"`
	DialTemplate          string                 `json:"ussd_string"`
	ProcessingMode        ProcessingMode         `json:"processing_mode"`
	ExpectedResponses     []ExpectedResponse     `json:"expected_responses"`
	ExtractionPatterns    []ExtractionPattern    `json:"extraction_patterns"`
	RequiredStepCount     int                    `json:"required_step_count"`
	SuccessCount          int64                  `json:"success_count"`
	FailureCount          int64                  `json:"failure_count"`
	AnomalyCount          int64                  `json:"anomaly_count"`
	SuccessRate           float64                `json:"success_rate"`
	AverageResponseTimeMs *float64               `json:"avg_response_time_ms,omitempty"`
	Status                RouteStatus            `json:"status"`
	IsActive              bool                   `json:"is_active"`
	MetaData              map[string]interface{} `json:"meta_data,omitempty"`
	LastExecutedAt        *time.Time             `json:"last_executed_at,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// Available reports whether new sessions may start on the route.
func (r *UssdRoute) Available() bool {
	return r.IsActive && r.Status != RouteFailed && r.Status != RouteInactive
}

// Interpolate fills the {amount}, {phone} and {product} placeholders of the dial template.
func (r *UssdRoute) Interpolate(amount, phone, product string) string {
	return strings.NewReplacer(
		"{amount}", amount,
		"{phone}", phone,
		"{product}", product,
	).Replace(r.DialTemplate)
}

type RequestRecord struct {
	Step       int       `json:"step"`
	Request    string    `json:"request"`
	Response   string    `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

// UssdSession is one dialogue instance against a route.
type UssdSession struct {
	SessionID      string            `json:"session_id"`
	RouteID        string            `json:"route_id"`
	AgentID        string            `json:"agent_id,omitempty"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	PhoneNumber    string            `json:"phone_number"`
	Msisdn         string            `json:"msisdn,omitempty"`
	DialString     string            `json:"dial_string,omitempty"`
	ProcessingMode ProcessingMode    `json:"processing_mode"`
	CurrentStep    int               `json:"current_step"`
	Status         SessionStatus     `json:"status"`
	RequestHistory []RequestRecord   `json:"request_history"`
	ExtractedData  map[string]string `json:"extracted_data"`
	RawResponses   []string          `json:"raw_responses"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	IsAnomaly      bool              `json:"is_anomaly"`
	AnomalyID      string            `json:"anomaly_id,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// MergeExtracted adds values to the session's extracted data. Existing keys are overwritten, never dropped.
func (s *UssdSession) MergeExtracted(values map[string]string) {
	if s.ExtractedData == nil {
		s.ExtractedData = make(map[string]string, len(values))
	}
	for k, v := range values {
		s.ExtractedData[k] = v
	}
}

// LastResponse returns the most recent gateway response, if any.
func (s *UssdSession) LastResponse() (string, bool) {
	if len(s.RequestHistory) == 0 {
		return "", false
	}
	return s.RequestHistory[len(s.RequestHistory)-1].Response, true
}

type UssdResponse struct {
	SessionID      string            `json:"session_id"`
	Status         SessionStatus     `json:"status"`
	Message        string            `json:"message"`
	RequiresInput  bool              `json:"requires_input"`
	CurrentStep    int               `json:"current_step"`
	TotalSteps     int               `json:"total_steps,omitempty"`
	ExtractedData  map[string]string `json:"extracted_data"`
	Reference      string            `json:"reference,omitempty"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	ProcessingMode ProcessingMode    `json:"processing_mode,omitempty"`
}
