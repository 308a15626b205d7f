package bingwa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bingwapro/bingwa/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("", ""))
	assert.Equal(t, 1.0, similarity("Service busy", "Service busy"))
	assert.Equal(t, 0.0, similarity("abc", "xyz"))
	assert.InDelta(t, 0.75, similarity("abcd", "abce"), 1e-9)
}

func TestDetectAnomaly(t *testing.T) {
	route := &model.UssdRoute{
		ID:                "route_1",
		Code:              "R1",
		ExpectedResponses: []model.ExpectedResponse{{Step: 2, Pattern: `Select bundle`}},
	}
	rules, err := model.CompileRules(route)
	require.NoError(t, err)
	session := &model.UssdSession{SessionID: "ussd_1", TransactionID: "tx-1", DialString: "*544#"}
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	assert.Nil(t, detectAnomaly(route, rules, session, 1, "anything", "", false, at), "no expectation for step 1")
	assert.Nil(t, detectAnomaly(route, rules, session, 2, "Select bundle:\n1. 1GB", "", false, at))

	a := detectAnomaly(route, rules, session, 2, "Invalid input", "1. Buy Data", true, at)
	require.NotNil(t, a)
	assert.Equal(t, "Unexpected response at step 2", a.Description)
	require.NotNil(t, a.TransactionID)
	assert.Equal(t, "tx-1", *a.TransactionID)
	assert.Equal(t, 2, a.Context["step"])
	assert.Contains(t, a.Context, "similarityToPrevious")
	assert.Equal(t, model.ActionReviewRoute, a.SuggestedAction)
}

func seedAnomaly(t *testing.T, env *testEnv) *model.Anomaly {
	t.Helper()
	a := &model.Anomaly{
		AnomalyID:       model.GenerateUUIDWithSuffix("anomaly"),
		RouteID:         "route_1",
		RouteCode:       "R1",
		SessionID:       "ussd_1",
		Description:     "Unexpected response at step 1",
		Severity:        model.SeverityMedium,
		Status:          model.AnomalyDetected,
		SuggestedAction: model.ActionReviewRoute,
	}
	require.NoError(t, env.store.CreateAnomaly(context.Background(), a))
	return a
}

func TestResolveAnomaly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedAnomaly(t, env)

	resolved, err := env.bingwa.ResolveAnomaly(ctx, a.AnomalyID, "menu changed, pattern updated", "ops@bingwa")
	require.NoError(t, err)
	assert.Equal(t, model.AnomalyResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "ops@bingwa", *resolved.ResolvedBy)
	assert.Equal(t, "menu changed, pattern updated", *resolved.ResolutionNotes)

	_, err = env.bingwa.ResolveAnomaly(ctx, a.AnomalyID, "", "")
	assert.True(t, errors.Is(err, ErrAnomalyResolved))

	_, err = env.bingwa.UpdateAnomalyStatus(ctx, a.AnomalyID, model.AnomalyIgnored)
	assert.True(t, errors.Is(err, ErrAnomalyResolved))

	_, err = env.bingwa.ResolveAnomaly(ctx, "anomaly_missing", "", "")
	assert.True(t, errors.Is(err, ErrAnomalyNotFound))
}

func TestUpdateAnomalyStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedAnomaly(t, env)

	updated, err := env.bingwa.UpdateAnomalyStatus(ctx, a.AnomalyID, model.AnomalyInvestigating)
	require.NoError(t, err)
	assert.Equal(t, model.AnomalyInvestigating, updated.Status)
	assert.Nil(t, updated.ResolvedAt)

	_, err = env.bingwa.UpdateAnomalyStatus(ctx, a.AnomalyID, model.AnomalyResolved)
	require.Error(t, err, "resolution goes through ResolveAnomaly")

	_, err = env.bingwa.UpdateAnomalyStatus(ctx, a.AnomalyID, "bogus")
	require.Error(t, err)

	investigating, err := env.bingwa.ListAnomalies(ctx, model.AnomalyInvestigating, 10)
	require.NoError(t, err)
	assert.Len(t, investigating, 1)

	_, err = env.bingwa.ListAnomalies(ctx, "bogus", 10)
	require.Error(t, err)
}
