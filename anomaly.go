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
	"time"

	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/bingwapro/bingwa/internal/metrics"
	"github.com/bingwapro/bingwa/model"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"github.com/wacul/ptr"
)

const (
	// repeatedResponseSimilarity is the similarity to the previous response at
	// which the gateway is considered to be repeating itself.
	repeatedResponseSimilarity = 0.9
	defaultAnomalyLimit        = 100
)

// similarity returns 1 - levenshtein(a, b)/max(len(a), len(b)), in [0, 1].
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptionsWithSub)
	return 1 - float64(distance)/float64(longest)
}

// detectAnomaly checks the response of the just-executed step against the
// route's expectation for that step. It returns nil when the step has no
// expectation or the response matches it.
func detectAnomaly(route *model.UssdRoute, rules *model.CompiledRules, session *model.UssdSession, step int, response, previous string, hasPrevious bool, at time.Time) *model.Anomaly {
	expected, ok := rules.ExpectedFor(step)
	if !ok || expected.Pattern.MatchString(response) {
		return nil
	}

	details := map[string]interface{}{
		"step":       step,
		"time":       at,
		"dialString": session.DialString,
	}
	action := model.ActionReviewRoute
	if hasPrevious {
		score := similarity(previous, response)
		details["similarityToPrevious"] = score
		if score >= repeatedResponseSimilarity {
			action = model.ActionCheckSessionState
		}
	}

	var transactionID *string
	if session.TransactionID != "" {
		transactionID = ptr.String(session.TransactionID)
	}

	return &model.Anomaly{
		AnomalyID:     model.GenerateUUIDWithSuffix("anomaly"),
		RouteID:       route.ID,
		RouteCode:     route.Code,
		SessionID:     session.SessionID,
		TransactionID: transactionID,
		AgentID:       session.AgentID,
		Description:   fmt.Sprintf("Unexpected response at step %d", step),
		Severity:      model.SeverityMedium,
		Status:        model.AnomalyDetected,
		ExpectedResponse: map[string]interface{}{
			"step":    step,
			"pattern": expected.Pattern.String(),
		},
		ActualResponse:  map[string]interface{}{"message": response},
		Context:         details,
		SuggestedAction: action,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

// recordAnomaly persists a detected anomaly. It reports whether the record was written.
func (b *Bingwa) recordAnomaly(ctx context.Context, anomaly *model.Anomaly) bool {
	if err := b.datasource.CreateAnomaly(ctx, anomaly); err != nil {
		logrus.WithError(err).WithField("session_id", anomaly.SessionID).Error("failed to record ussd anomaly")
		return false
	}
	metrics.UssdAnomalies.WithLabelValues(anomaly.RouteCode).Inc()
	logrus.WithFields(logrus.Fields{
		"anomaly_id": anomaly.AnomalyID,
		"route":      anomaly.RouteCode,
		"session_id": anomaly.SessionID,
		"action":     anomaly.SuggestedAction,
	}).Warn("ussd anomaly detected")
	b.sendWebhook(ctx, EventAnomalyDetected, anomaly)
	return true
}

// ListAnomalies returns anomalies newest first. An empty status lists all of them.
func (b *Bingwa) ListAnomalies(ctx context.Context, status model.AnomalyStatus, limit int) ([]model.Anomaly, error) {
	if status != "" && !status.Valid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown anomaly status '%s'", status), nil)
	}
	if limit <= 0 {
		limit = defaultAnomalyLimit
	}
	return b.datasource.GetAnomalies(ctx, status, limit)
}

func (b *Bingwa) GetAnomaly(ctx context.Context, id string) (*model.Anomaly, error) {
	return b.datasource.GetAnomaly(ctx, id)
}

// ResolveAnomaly closes an anomaly. Resolution is always manual.
func (b *Bingwa) ResolveAnomaly(ctx context.Context, id, notes, resolvedBy string) (*model.Anomaly, error) {
	ctx, span := tracer.Start(ctx, "ResolveAnomaly")
	defer span.End()

	anomaly, err := b.datasource.GetAnomaly(ctx, id)
	if err != nil {
		return nil, err
	}
	if anomaly.Status == model.AnomalyResolved {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Anomaly '%s' is already resolved", id), model.ErrAnomalyResolved)
	}

	anomaly.Status = model.AnomalyResolved
	anomaly.ResolvedAt = ptr.Time(b.clock())
	if resolvedBy != "" {
		anomaly.ResolvedBy = ptr.String(resolvedBy)
	}
	if notes != "" {
		anomaly.ResolutionNotes = ptr.String(notes)
	}
	if err := b.datasource.UpdateAnomaly(ctx, anomaly); err != nil {
		return nil, err
	}
	return anomaly, nil
}

// UpdateAnomalyStatus moves an open anomaly between detected, investigating and
// ignored. Resolution goes through ResolveAnomaly.
func (b *Bingwa) UpdateAnomalyStatus(ctx context.Context, id string, status model.AnomalyStatus) (*model.Anomaly, error) {
	if !status.Valid() || status == model.AnomalyResolved {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Cannot set anomaly status to '%s'", status), nil)
	}

	anomaly, err := b.datasource.GetAnomaly(ctx, id)
	if err != nil {
		return nil, err
	}
	if anomaly.Status == model.AnomalyResolved {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Anomaly '%s' is already resolved", id), model.ErrAnomalyResolved)
	}

	anomaly.Status = status
	if err := b.datasource.UpdateAnomaly(ctx, anomaly); err != nil {
		return nil, err
	}
	return anomaly, nil
}
