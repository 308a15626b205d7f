package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bingwapro/bingwa/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentAttempt_RenameCheckoutID(t *testing.T) {
	ctx := context.Background()
	s := New()

	attempt := &model.PaymentAttempt{
		MerchantRequestID: "mrq_1",
		CheckoutRequestID: "chk_provisional",
		AgentID:           gofakeit.UUID(),
		Amount:            decimal.NewFromInt(100),
		Status:            model.PaymentInitiated,
	}
	require.NoError(t, s.CreatePaymentAttempt(ctx, attempt))

	attempt.CheckoutRequestID = "ws_CO_gateway"
	attempt.Status = model.PaymentPending
	require.NoError(t, s.UpdatePaymentAttempt(ctx, attempt))
	assert.Equal(t, int64(2), attempt.Version)

	_, err := s.GetPaymentAttemptByCheckoutID(ctx, "chk_provisional")
	assert.True(t, errors.Is(err, model.ErrPaymentNotFound))

	got, err := s.GetPaymentAttemptByCheckoutID(ctx, "ws_CO_gateway")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestPaymentAttempt_StaleWrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	attempt := &model.PaymentAttempt{MerchantRequestID: "mrq_1", CheckoutRequestID: "c1", Status: model.PaymentInitiated}
	require.NoError(t, s.CreatePaymentAttempt(ctx, attempt))

	first, _ := s.GetPaymentAttemptByMerchantID(ctx, "mrq_1")
	second, _ := s.GetPaymentAttemptByMerchantID(ctx, "mrq_1")

	first.Status = model.PaymentCompleted
	require.NoError(t, s.UpdatePaymentAttempt(ctx, first))

	second.Status = model.PaymentFailed
	err := s.UpdatePaymentAttempt(ctx, second)
	assert.True(t, errors.Is(err, model.ErrStaleWrite))
}

func TestParkedCallback(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.ParkCallback(ctx, "c1", []byte(`{"a":1}`)))
	parked, err := s.TakeParkedCallback(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, parked)
	assert.Equal(t, `{"a":1}`, string(parked.Payload))

	parked, err = s.TakeParkedCallback(ctx, "c1")
	assert.NoError(t, err)
	assert.Nil(t, parked)
}

func TestApplyRouteExecution_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRoute(ctx, &model.UssdRoute{ID: "r1", Code: "A", Status: model.RouteActive, IsActive: true}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ApplyRouteExecution(ctx, "r1", model.ExecutionOutcome{Success: i%10 != 0, DurationMs: 10})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	route, err := s.GetRouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), route.SuccessCount)
	assert.Equal(t, int64(10), route.FailureCount)
	assert.Equal(t, 90.0, route.SuccessRate)
	assert.Equal(t, model.RouteActive, route.Status)
}

func TestUpdateRoute_KeepsStatistics(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRoute(ctx, &model.UssdRoute{ID: "r1", Code: "A", Status: model.RouteActive, IsActive: true}))
	_, err := s.ApplyRouteExecution(ctx, "r1", model.ExecutionOutcome{Success: true, DurationMs: 10})
	require.NoError(t, err)

	require.NoError(t, s.UpdateRoute(ctx, &model.UssdRoute{ID: "r1", Code: "B", Name: "renamed", Status: model.RouteActive}, nil))

	_, err = s.GetRouteByCode(ctx, "A")
	assert.True(t, errors.Is(err, model.ErrRouteNotFound))

	route, err := s.GetRouteByCode(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "renamed", route.Name)
	assert.Equal(t, int64(1), route.SuccessCount)
	assert.False(t, route.IsActive)
}

func TestUpdateRoute_StatusOnlyWhenSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRoute(ctx, &model.UssdRoute{ID: "r1", Code: "A", Status: model.RouteDegraded, IsActive: true}))

	stale := &model.UssdRoute{ID: "r1", Code: "A", Name: "renamed", Status: model.RouteActive, IsActive: true}
	require.NoError(t, s.UpdateRoute(ctx, stale, nil))
	assert.Equal(t, model.RouteDegraded, stale.Status)

	route, err := s.GetRouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RouteDegraded, route.Status)
	assert.Equal(t, "renamed", route.Name)

	failed := model.RouteFailed
	require.NoError(t, s.UpdateRoute(ctx, route, &failed))
	route, err = s.GetRouteByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RouteFailed, route.Status)
}

func TestSessionTerminalGuard(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateSession(ctx, &model.UssdSession{SessionID: "s1", Status: model.SessionInitiated, CurrentStep: 1}))

	aborted, err := s.AbortSession(ctx, "s1", time.Now())
	require.NoError(t, err)
	assert.True(t, aborted)

	saved, err := s.SaveSessionStep(ctx, &model.UssdSession{SessionID: "s1", Status: model.SessionCompleted, CurrentStep: 2})
	require.NoError(t, err)
	assert.False(t, saved)

	session, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionAborted, session.Status)
	assert.Equal(t, 1, session.CurrentStep)

	aborted, err = s.AbortSession(ctx, "s1", time.Now())
	require.NoError(t, err)
	assert.False(t, aborted)
}

func TestCreditWallet_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	balance, applied, err := s.CreditWallet(ctx, "agent_1", decimal.NewFromInt(500), "mrq_1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, balance.Equal(decimal.NewFromInt(500)))

	balance, applied, err = s.CreditWallet(ctx, "agent_1", decimal.NewFromInt(500), "mrq_1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, balance.Equal(decimal.NewFromInt(500)))

	w, err := s.GetWallet(ctx, "agent_1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(500)))
}
