package bingwa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/internal/mpesa"
	"github.com/bingwapro/bingwa/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successCallback(t *testing.T, merchantID, checkoutID string, amount int64, receipt string) []byte {
	t.Helper()
	raw, err := model.BuildCallbackPayload(merchantID, checkoutID, 0, "The service request is processed successfully.", []model.CallbackItem{
		{Name: model.ItemAmount, Value: amount},
		{Name: model.ItemReceiptNumber, Value: receipt},
		{Name: model.ItemTransactionDate, Value: int64(20240501103015)},
		{Name: model.ItemPhoneNumber, Value: int64(254712345678)},
	})
	require.NoError(t, err)
	return raw
}

func failedCallback(t *testing.T, merchantID, checkoutID string, code int) []byte {
	t.Helper()
	raw, err := model.BuildCallbackPayload(merchantID, checkoutID, code, "Request failed", nil)
	require.NoError(t, err)
	return raw
}

func walletBalance(t *testing.T, env *testEnv, agentID string) decimal.Decimal {
	t.Helper()
	w, err := env.store.GetWallet(context.Background(), agentID)
	require.NoError(t, err)
	return w.Balance
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0712345678", want: "254712345678"},
		{in: "0112345678", want: "254112345678"},
		{in: "+254712345678", want: "254712345678"},
		{in: "254712345678", want: "254712345678"},
		{in: "712345678", want: "254712345678"},
		{in: "0712 345 678", want: "254712345678"},
		{in: "0812345678", wantErr: true},
		{in: "12345", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPhone))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitiatePaymentValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		amount decimal.Decimal
		phone  string
		agent  string
		target error
	}{
		{name: "below minimum", amount: decimal.NewFromInt(5), phone: "0712345678", agent: "agentA", target: ErrInvalidAmount},
		{name: "above maximum", amount: decimal.NewFromInt(150001), phone: "0712345678", agent: "agentA", target: ErrInvalidAmount},
		{name: "fractional", amount: decimal.RequireFromString("100.50"), phone: "0712345678", agent: "agentA", target: ErrInvalidAmount},
		{name: "bad phone", amount: decimal.NewFromInt(100), phone: "0812345678", agent: "agentA", target: ErrInvalidPhone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.bingwa.InitiatePayment(ctx, tt.amount, tt.phone, tt.agent, InitiatePaymentOptions{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target))
		})
	}

	_, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(100), "0712345678", "  ", InitiatePaymentOptions{})
	require.Error(t, err)

	assert.Zero(t, env.payments.calls, "validation failures must not reach the gateway")
}

func TestSuccessfulTopUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(500), "0712345678", "agentA", InitiatePaymentOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res.CheckoutRequestID)

	require.Len(t, env.payments.requests, 1)
	assert.Equal(t, int64(500), env.payments.requests[0].Amount)
	assert.Equal(t, "254712345678", env.payments.requests[0].PhoneNumber)
	assert.Equal(t, "AGENTagentA", env.payments.requests[0].AccountReference)

	pending, err := env.bingwa.QueryPaymentStatus(ctx, res.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, pending.Status)

	outcome := env.bingwa.HandlePaymentCallback(ctx, successCallback(t, res.MerchantRequestID, res.CheckoutRequestID, 500, "MOCK123456"))
	assert.Equal(t, CallbackCredited, outcome)

	attempt, err := env.bingwa.GetPaymentAttempt(ctx, res.MerchantRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, attempt.Status)
	assert.True(t, attempt.IsCredited)
	require.NotNil(t, attempt.ReceiptNumber)
	assert.Equal(t, "MOCK123456", *attempt.ReceiptNumber)
	assert.True(t, walletBalance(t, env, "agentA").Equal(decimal.NewFromInt(500)))
	assert.Contains(t, env.queue.events(), EventPaymentCompleted)
}

func TestDuplicateCallbackCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(500), "0712345678", "agentA", InitiatePaymentOptions{})
	require.NoError(t, err)

	raw := successCallback(t, res.MerchantRequestID, res.CheckoutRequestID, 500, "MOCK123456")
	assert.Equal(t, CallbackCredited, env.bingwa.HandlePaymentCallback(ctx, raw))
	assert.Equal(t, CallbackDuplicate, env.bingwa.HandlePaymentCallback(ctx, raw))

	assert.True(t, walletBalance(t, env, "agentA").Equal(decimal.NewFromInt(500)))
}

func TestConcurrentDuplicateCallbacksCreditOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(500), "0712345678", "agentA", InitiatePaymentOptions{})
	require.NoError(t, err)

	const deliveries = 8
	raw := successCallback(t, res.MerchantRequestID, res.CheckoutRequestID, 500, "MOCK123456")

	var wg sync.WaitGroup
	outcomes := make(chan CallbackOutcome, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- env.bingwa.HandlePaymentCallback(ctx, raw)
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := make(map[CallbackOutcome]int)
	for outcome := range outcomes {
		counts[outcome]++
	}
	assert.Equal(t, 1, counts[CallbackCredited])
	assert.Equal(t, deliveries-1, counts[CallbackDuplicate])
	assert.True(t, walletBalance(t, env, "agentA").Equal(decimal.NewFromInt(500)))

	attempt, err := env.bingwa.GetPaymentAttempt(ctx, res.MerchantRequestID)
	require.NoError(t, err)
	assert.True(t, attempt.IsCredited)
}

func TestFailedTopUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(500), "0712345678", "agentA", InitiatePaymentOptions{})
	require.NoError(t, err)

	outcome := env.bingwa.HandlePaymentCallback(ctx, failedCallback(t, res.MerchantRequestID, res.CheckoutRequestID, 1))
	assert.Equal(t, CallbackFailed, outcome)

	attempt, err := env.bingwa.GetPaymentAttempt(ctx, res.MerchantRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, attempt.Status)
	assert.False(t, attempt.IsCredited)

	_, err = env.store.GetWallet(ctx, "agentA")
	assert.True(t, errors.Is(err, ErrWalletNotFound))
	assert.Contains(t, env.queue.events(), EventPaymentFailed)
}

func TestCallbackResultCodes(t *testing.T) {
	tests := []struct {
		code int
		want model.PaymentStatus
	}{
		{code: 1032, want: model.PaymentCancelled},
		{code: 1037, want: model.PaymentTimedOut},
		{code: 2001, want: model.PaymentFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			res, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(100), "0712345678", "agentA", InitiatePaymentOptions{})
			require.NoError(t, err)
			env.bingwa.HandlePaymentCallback(ctx, failedCallback(t, res.MerchantRequestID, res.CheckoutRequestID, tt.code))

			status, err := env.bingwa.QueryPaymentStatus(ctx, res.CheckoutRequestID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.Status)
		})
	}
}

func TestCallbackBeforeCheckoutIDIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var early CallbackOutcome
	env.payments.onPush = func(checkoutID string) {
		early = env.bingwa.HandlePaymentCallback(ctx, successCallback(t, "29115-1", checkoutID, 250, "MOCK000001"))
	}

	res, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(250), "0712345678", "agentB", InitiatePaymentOptions{})
	require.NoError(t, err)
	assert.Equal(t, CallbackParked, early)

	attempt, err := env.bingwa.GetPaymentAttempt(ctx, res.MerchantRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, attempt.Status)
	assert.True(t, attempt.IsCredited)
	assert.True(t, walletBalance(t, env, "agentB").Equal(decimal.NewFromInt(250)))

	parked, err := env.store.TakeParkedCallback(ctx, res.CheckoutRequestID)
	require.NoError(t, err)
	assert.Nil(t, parked)
}

func TestCallbackForInitiatedAttemptStillCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	attempt := &model.PaymentAttempt{
		MerchantRequestID: "merchant-1",
		CheckoutRequestID: "ws_CO_initiated",
		AgentID:           "agentC",
		PhoneNumber:       "254712345678",
		Amount:            decimal.NewFromInt(300),
		Status:            model.PaymentInitiated,
	}
	require.NoError(t, env.store.CreatePaymentAttempt(ctx, attempt))

	outcome := env.bingwa.HandlePaymentCallback(ctx, successCallback(t, "merchant-1", "ws_CO_initiated", 300, "MOCK000300"))
	assert.Equal(t, CallbackCredited, outcome)
	assert.True(t, walletBalance(t, env, "agentC").Equal(decimal.NewFromInt(300)))
}

func TestMalformedCallbackIsDropped(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, CallbackMalformed, env.bingwa.HandlePaymentCallback(context.Background(), []byte(`{"Body":{}}`)))
	assert.Equal(t, CallbackMalformed, env.bingwa.HandlePaymentCallback(context.Background(), []byte(`not json`)))
}

func TestInitiatePaymentGatewayErrors(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.payments.resp = &mpesa.StkPushResponse{ResponseCode: "1", ResponseDescription: "Invalid BusinessShortCode"}

		_, err := env.bingwa.InitiatePayment(context.Background(), decimal.NewFromInt(100), "0712345678", "agentA", InitiatePaymentOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrGatewayRejected))
		assert.Contains(t, err.Error(), "Invalid BusinessShortCode")

		attempts, err := env.bingwa.GetAgentPayments(context.Background(), "agentA", 0)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.Equal(t, model.PaymentFailed, attempts[0].Status)
	})

	t.Run("unauthorized", func(t *testing.T) {
		env := newTestEnv(t)
		env.payments.err = mpesa.ErrUnauthorized

		_, err := env.bingwa.InitiatePayment(context.Background(), decimal.NewFromInt(100), "0712345678", "agentA", InitiatePaymentOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrGatewayAuth))
	})

	t.Run("unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.payments.err = errors.New("dial tcp: connection refused")

		_, err := env.bingwa.InitiatePayment(context.Background(), decimal.NewFromInt(100), "0712345678", "agentA", InitiatePaymentOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrGatewayUnavailable))
	})
}

func TestCreditFailureIsRetried(t *testing.T) {
	mem := &flakyWallet{failing: true}
	env := newTestEnv(t, WithWallet(mem))
	mem.next = NewDatasourceWallet(env.store)
	ctx := context.Background()

	res, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(400), "0712345678", "agentD", InitiatePaymentOptions{})
	require.NoError(t, err)

	outcome := env.bingwa.HandlePaymentCallback(ctx, successCallback(t, res.MerchantRequestID, res.CheckoutRequestID, 400, "MOCK000400"))
	assert.Equal(t, CallbackCreditPending, outcome)
	assert.Equal(t, []string{res.MerchantRequestID}, env.queue.retries)

	attempt, err := env.bingwa.GetPaymentAttempt(ctx, res.MerchantRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, attempt.Status)
	assert.False(t, attempt.IsCredited)
	assert.Equal(t, 1, attempt.CreditAttempts)

	mem.setFailing(false)
	credited, err := env.bingwa.RetryPendingCredits(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, credited)

	attempt, err = env.bingwa.GetPaymentAttempt(ctx, res.MerchantRequestID)
	require.NoError(t, err)
	assert.True(t, attempt.IsCredited)
	assert.True(t, walletBalance(t, env, "agentD").Equal(decimal.NewFromInt(400)))

	// a second retry finds nothing left to credit
	require.NoError(t, env.bingwa.CreditAttempt(ctx, res.MerchantRequestID))
	assert.True(t, walletBalance(t, env, "agentD").Equal(decimal.NewFromInt(400)))
}

func TestSimulateCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.bingwa.InitiatePayment(ctx, decimal.NewFromInt(150), "0712345678", "agentE", InitiatePaymentOptions{})
	require.NoError(t, err)

	outcome, err := env.bingwa.SimulateCallback(ctx, res.CheckoutRequestID, true)
	require.NoError(t, err)
	assert.Equal(t, CallbackCredited, outcome)

	attempt, err := env.bingwa.GetPaymentAttempt(ctx, res.MerchantRequestID)
	require.NoError(t, err)
	require.NotNil(t, attempt.ReceiptNumber)
	assert.True(t, strings.HasPrefix(*attempt.ReceiptNumber, "MOCK"))
	assert.Equal(t, mockReceipt(res.CheckoutRequestID), *attempt.ReceiptNumber)
}

func TestSimulateCallbackOutsideSandbox(t *testing.T) {
	env := newTestEnv(t)
	env.bingwa.config = &config.Configuration{Mpesa: config.MpesaConfig{Environment: config.MpesaProduction}}

	_, err := env.bingwa.SimulateCallback(context.Background(), "ws_CO_001", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSimulationDisabled))
}
