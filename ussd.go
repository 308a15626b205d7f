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
	"fmt"
	"strings"
	"time"

	"github.com/bingwapro/bingwa/internal/apierror"
	redlock "github.com/bingwapro/bingwa/internal/lock"
	"github.com/bingwapro/bingwa/internal/metrics"
	"github.com/bingwapro/bingwa/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	sessionCancelledMessage = "USSD session cancelled"
	defaultSessionLimit     = 50
)

// ExecuteUssdRequest is one initiate, respond or cancel call against the session engine.
type ExecuteUssdRequest struct {
	Action         string
	RouteCode      string
	AgentID        string
	AgentPhone     string
	CustomerPhone  string
	SessionID      string
	Input          string
	Amount         decimal.Decimal
	ProductCode    string
	TransactionID  string
	ProcessingMode model.ProcessingMode
}

// ExecuteUssd dispatches req to the session state machine.
func (b *Bingwa) ExecuteUssd(ctx context.Context, req ExecuteUssdRequest) (*model.UssdResponse, error) {
	ctx, span := tracer.Start(ctx, "ExecuteUssd")
	defer span.End()

	action, ok := model.ParseUssdAction(req.Action)
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unsupported USSD action '%s'", req.Action), model.ErrInvalidAction)
	}
	span.SetAttributes(attribute.String("ussd.action", string(action)))

	var (
		resp *model.UssdResponse
		err  error
	)
	switch action {
	case model.ActionInitiate:
		resp, err = b.initiateSession(ctx, req)
	case model.ActionRespond:
		resp, err = b.respondSession(ctx, req)
	case model.ActionCancel:
		resp, err = b.cancelSession(ctx, req.SessionID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ussd.session_id", resp.SessionID), attribute.String("ussd.status", string(resp.Status)))
	return resp, nil
}

func (b *Bingwa) initiateSession(ctx context.Context, req ExecuteUssdRequest) (*model.UssdResponse, error) {
	code := strings.TrimSpace(req.RouteCode)
	if code == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Route code is required to initiate a session", nil)
	}

	route, err := b.datasource.GetRouteByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !route.IsActive {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Route '%s' not found or inactive", code), model.ErrRouteNotFound)
	}
	if !route.Available() {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Route '%s' is %s", code, route.Status), model.ErrRouteUnavailable)
	}

	mode := route.ProcessingMode
	if req.ProcessingMode == model.ProcessingAdvanced {
		mode = model.ProcessingAdvanced
	}

	phone := req.CustomerPhone
	if phone == "" {
		phone = req.AgentPhone
	}
	amount := ""
	if !req.Amount.IsZero() {
		amount = req.Amount.String()
	}

	now := b.clock()
	session := &model.UssdSession{
		SessionID:      model.GenerateUUIDWithSuffix("ussd"),
		RouteID:        route.ID,
		AgentID:        req.AgentID,
		TransactionID:  req.TransactionID,
		PhoneNumber:    phone,
		Msisdn:         req.AgentPhone,
		DialString:     route.Interpolate(amount, phone, req.ProductCode),
		ProcessingMode: mode,
		CurrentStep:    1,
		Status:         model.SessionInitiated,
		RequestHistory: []model.RequestRecord{},
		ExtractedData:  map[string]string{},
		RawResponses:   []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := b.datasource.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session_id": session.SessionID,
		"route":      route.Code,
		"mode":       mode,
	}).Info("ussd session initiated")

	return b.executeStep(ctx, route, session, req.Input)
}

func (b *Bingwa) respondSession(ctx context.Context, req ExecuteUssdRequest) (*model.UssdResponse, error) {
	if req.SessionID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Session ID required for respond action", nil)
	}

	var resp *model.UssdResponse
	err := b.withLock(ctx, redlock.SessionLockKey(req.SessionID), func() error {
		session, err := b.datasource.GetSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Session already %s", session.Status), model.ErrSessionAlreadyTerminal)
		}

		route, err := b.datasource.GetRouteByID(ctx, session.RouteID)
		if err != nil {
			return err
		}
		resp, err = b.executeStep(ctx, route, session, req.Input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// cancelSession aborts the session without contacting the gateway. A step
// already in flight finishes, but its write is discarded.
func (b *Bingwa) cancelSession(ctx context.Context, sessionID string) (*model.UssdResponse, error) {
	if sessionID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Session ID required for cancel action", nil)
	}

	if _, err := b.datasource.AbortSession(ctx, sessionID, b.clock()); err != nil {
		return nil, err
	}
	session, err := b.datasource.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionAborted {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Session already %s", session.Status), model.ErrSessionAlreadyTerminal)
	}

	logrus.WithField("session_id", sessionID).Info("ussd session cancelled")
	return &model.UssdResponse{
		SessionID:      session.SessionID,
		Status:         session.Status,
		Message:        sessionCancelledMessage,
		CurrentStep:    session.CurrentStep,
		ExtractedData:  session.ExtractedData,
		TransactionID:  session.TransactionID,
		ProcessingMode: session.ProcessingMode,
	}, nil
}

// expressSucceeded is the one-shot success heuristic: a success keyword in the
// response or an extracted reference.
func expressSucceeded(response string, extracted map[string]string) bool {
	lower := strings.ToLower(response)
	return strings.Contains(lower, "success") || strings.Contains(lower, "confirmed") || extracted["reference"] != ""
}

// executeStep sends the session's current step to the gateway and folds the
// exchange into the session, the route statistics and the anomaly log.
func (b *Bingwa) executeStep(ctx context.Context, route *model.UssdRoute, session *model.UssdSession, input string) (*model.UssdResponse, error) {
	ctx, span := tracer.Start(ctx, "ExecuteUssdStep")
	defer span.End()

	rules, err := b.rules.get(route)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compile route rules", err)
	}

	step := session.CurrentStep
	previous, hasPrevious := session.LastResponse()

	started := b.now()
	response, err := b.ussd.Send(ctx, session.DialString, input)
	elapsed := b.now().Sub(started)
	at := b.clock()
	metrics.UssdStepDuration.WithLabelValues(route.Code).Observe(elapsed.Seconds())

	if err != nil {
		span.RecordError(err)
		return nil, b.failStep(ctx, route, session, err, elapsed, at)
	}

	session.RequestHistory = append(session.RequestHistory, model.RequestRecord{
		Step:       step,
		Request:    input,
		Response:   response,
		Timestamp:  at,
		DurationMs: elapsed.Milliseconds(),
	})
	session.RawResponses = append(session.RawResponses, response)

	var completed bool
	switch session.ProcessingMode {
	case model.ProcessingAdvanced:
		session.MergeExtracted(rules.ExtractStep(step, response))
		session.CurrentStep = step + 1
		completed = session.CurrentStep > route.RequiredStepCount
	default:
		session.MergeExtracted(rules.ExtractAll(response))
		completed = expressSucceeded(response, session.ExtractedData)
	}

	if completed {
		session.Status = model.SessionCompleted
		session.CompletedAt = &at
	} else {
		session.Status = model.SessionInProgress
	}

	anomaly := detectAnomaly(route, rules, session, step, response, previous, hasPrevious, at)
	if anomaly != nil {
		session.IsAnomaly = true
		session.AnomalyID = anomaly.AnomalyID
	}

	saved, saveErr := b.datasource.SaveSessionStep(ctx, session)
	recorded := false
	if saveErr == nil && saved && anomaly != nil {
		recorded = b.recordAnomaly(ctx, anomaly)
	}
	b.recordExecution(ctx, route, model.ExecutionOutcome{
		Success:    true,
		Anomaly:    recorded,
		DurationMs: elapsed.Milliseconds(),
		At:         at,
	})

	if saveErr != nil {
		return nil, saveErr
	}
	if !saved {
		// cancelled while the gateway call was in flight
		metrics.UssdSteps.WithLabelValues(route.Code, "discarded").Inc()
		current, err := b.datasource.GetSession(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
		return b.buildResponse(route, current, sessionCancelledMessage), nil
	}

	metrics.UssdSteps.WithLabelValues(route.Code, string(session.Status)).Inc()
	b.sendSessionWebhook(ctx, session)
	return b.buildResponse(route, session, response), nil
}

// failStep marks the session failed after a gateway error and records the
// failure against the route. The returned error is surfaced to the caller.
func (b *Bingwa) failStep(ctx context.Context, route *model.UssdRoute, session *model.UssdSession, cause error, elapsed time.Duration, at time.Time) error {
	session.Status = model.SessionFailed
	session.ErrorMessage = cause.Error()
	session.CompletedAt = &at

	saved, err := b.datasource.SaveSessionStep(ctx, session)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Error("failed to mark ussd session failed")
	}
	b.recordExecution(ctx, route, model.ExecutionOutcome{
		Success:    false,
		DurationMs: elapsed.Milliseconds(),
		At:         at,
	})
	metrics.UssdSteps.WithLabelValues(route.Code, string(model.SessionFailed)).Inc()
	if saved {
		b.sendSessionWebhook(ctx, session)
	}

	return apierror.NewAPIError(apierror.ErrBadGateway, fmt.Sprintf("USSD gateway call failed: %s", cause.Error()),
		fmt.Errorf("%w: %w", model.ErrGatewayUnavailable, cause))
}

// recordExecution folds one step into the route statistics. Errors are logged;
// statistics never fail the request that produced them.
func (b *Bingwa) recordExecution(ctx context.Context, route *model.UssdRoute, outcome model.ExecutionOutcome) {
	updated, err := b.datasource.ApplyRouteExecution(ctx, route.ID, outcome)
	if err != nil {
		logrus.WithError(err).WithField("route", route.Code).Error("failed to update route statistics")
		return
	}
	metrics.RouteSuccessRate.WithLabelValues(updated.Code).Set(updated.SuccessRate)
	if updated.Status != route.Status {
		logrus.WithFields(logrus.Fields{
			"route": updated.Code,
			"from":  route.Status,
			"to":    updated.Status,
		}).Warn("route status changed")
	}
}

func (b *Bingwa) buildResponse(route *model.UssdRoute, session *model.UssdSession, message string) *model.UssdResponse {
	return &model.UssdResponse{
		SessionID:      session.SessionID,
		Status:         session.Status,
		Message:        message,
		RequiresInput:  !session.Status.IsTerminal(),
		CurrentStep:    session.CurrentStep,
		TotalSteps:     route.RequiredStepCount,
		ExtractedData:  session.ExtractedData,
		Reference:      session.ExtractedData["reference"],
		TransactionID:  session.TransactionID,
		ProcessingMode: session.ProcessingMode,
	}
}

func (b *Bingwa) GetSession(ctx context.Context, sessionID string) (*model.UssdSession, error) {
	return b.datasource.GetSession(ctx, sessionID)
}

// GetActiveSessions lists sessions still initiated or in progress, newest first.
func (b *Bingwa) GetActiveSessions(ctx context.Context, limit int) ([]model.UssdSession, error) {
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	return b.datasource.GetActiveSessions(ctx, limit)
}

func (b *Bingwa) GetSessionHistory(ctx context.Context, agentID string, limit int) ([]model.UssdSession, error) {
	if agentID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "agent_id is required", nil)
	}
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	return b.datasource.GetSessionsByAgent(ctx, agentID, limit)
}
