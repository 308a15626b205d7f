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
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/internal/apierror"
	redlock "github.com/bingwapro/bingwa/internal/lock"
	"github.com/bingwapro/bingwa/internal/metrics"
	"github.com/bingwapro/bingwa/internal/mpesa"
	"github.com/bingwapro/bingwa/internal/notification"
	"github.com/bingwapro/bingwa/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTransactionDesc = "Token Purchase"
	defaultPaymentsLimit   = 50

	// Daraja result codes that map to their own terminal status.
	resultCodeCancelledByUser = 1032
	resultCodeUnreachable     = 1037
)

// CallbackOutcome describes what a callback did. It is for logs, metrics and tests;
// the gateway always receives the same acknowledgement.
type CallbackOutcome string

const (
	CallbackCredited      CallbackOutcome = "credited"
	CallbackFailed        CallbackOutcome = "failed"
	CallbackCreditPending CallbackOutcome = "credit_pending"
	CallbackDuplicate     CallbackOutcome = "duplicate"
	CallbackParked        CallbackOutcome = "parked"
	CallbackMalformed     CallbackOutcome = "malformed"
	CallbackError         CallbackOutcome = "error"
)

// InitiatePaymentOptions overrides the defaults shown on the customer's prompt.
type InitiatePaymentOptions struct {
	AccountReference string
	TransactionDesc  string
}

var kenyanMobile = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone converts 07XXXXXXXX, 01XXXXXXXX, +2547XXXXXXXX and 2547XXXXXXXX
// into the 2547XXXXXXXX form the gateway expects.
func NormalizePhone(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	switch {
	case len(p) == 10 && strings.HasPrefix(p, "0"):
		p = "254" + p[1:]
	case len(p) == 9 && (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "1")):
		p = "254" + p
	}
	if !kenyanMobile.MatchString(p) {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("invalid phone number '%s'", phone), ErrInvalidPhone)
	}
	return p, nil
}

func (b *Bingwa) amountLimits() (decimal.Decimal, decimal.Decimal) {
	lo, hi := b.config.Mpesa.MinAmount, b.config.Mpesa.MaxAmount
	if lo <= 0 {
		lo = 10
	}
	if hi <= 0 {
		hi = 150000
	}
	return decimal.NewFromFloat(lo), decimal.NewFromFloat(hi)
}

func (b *Bingwa) validateAmount(amount decimal.Decimal) error {
	lo, hi := b.amountLimits()
	switch {
	case !amount.IsInteger():
		return apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be a whole number of shillings", ErrInvalidAmount)
	case amount.LessThan(lo) || amount.GreaterThan(hi):
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("amount must be between %s and %s", lo, hi), ErrInvalidAmount)
	}
	return nil
}

// InitiatePayment sends an STK push for amount to phone and records the attempt.
// The attempt is Pending once the gateway accepts it, or Failed when the gateway
// rejects it or cannot be reached.
func (b *Bingwa) InitiatePayment(ctx context.Context, amount decimal.Decimal, phone, agentID string, opts InitiatePaymentOptions) (*model.InitiatePaymentResult, error) {
	ctx, span := tracer.Start(ctx, "InitiatePayment")
	defer span.End()

	if strings.TrimSpace(agentID) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "agent id is required", nil)
	}
	if err := b.validateAmount(amount); err != nil {
		return nil, err
	}
	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	if opts.AccountReference == "" {
		opts.AccountReference = fmt.Sprintf("AGENT%s", agentID)
	}
	if opts.TransactionDesc == "" {
		opts.TransactionDesc = defaultTransactionDesc
	}

	attempt := &model.PaymentAttempt{
		MerchantRequestID: uuid.NewString(),
		CheckoutRequestID: model.GenerateUUIDWithSuffix("ws_CO"),
		AgentID:           agentID,
		PhoneNumber:       msisdn,
		Amount:            amount,
		AccountReference:  opts.AccountReference,
		TransactionDesc:   opts.TransactionDesc,
		Status:            model.PaymentInitiated,
	}
	if err := b.datasource.CreatePaymentAttempt(ctx, attempt); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("bingwa.merchant_request_id", attempt.MerchantRequestID))

	resp, err := b.payments.PushPayment(ctx, mpesa.StkPushRequest{
		Amount:           amount.IntPart(),
		PhoneNumber:      msisdn,
		AccountReference: opts.AccountReference,
		TransactionDesc:  opts.TransactionDesc,
	})
	if err != nil {
		return nil, b.failInitiation(ctx, span, attempt, err)
	}
	if !resp.Accepted() {
		metrics.PaymentsInitiated.WithLabelValues("rejected").Inc()
		b.markInitiationFailed(ctx, attempt, resp.ResponseDescription)
		return nil, apierror.NewAPIError(apierror.ErrBadGateway, resp.ResponseDescription, ErrGatewayRejected)
	}

	err = b.withLock(ctx, redlock.PaymentLockKey(attempt.MerchantRequestID), func() error {
		current, err := b.datasource.GetPaymentAttemptByMerchantID(ctx, attempt.MerchantRequestID)
		if err != nil {
			return err
		}
		if resp.CheckoutRequestID != "" {
			current.CheckoutRequestID = resp.CheckoutRequestID
		}
		if current.Status.CanTransition(model.PaymentPending) {
			current.Status = model.PaymentPending
		}
		if err := b.datasource.UpdatePaymentAttempt(ctx, current); err != nil {
			return err
		}
		attempt = current
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metrics.PaymentsInitiated.WithLabelValues(string(model.PaymentPending)).Inc()

	logrus.WithFields(logrus.Fields{
		"merchant_request_id": attempt.MerchantRequestID,
		"checkout_request_id": attempt.CheckoutRequestID,
		"agent_id":            agentID,
		"amount":              amount.String(),
	}).Info("stk push accepted")

	b.replayParkedCallback(ctx, attempt.CheckoutRequestID)

	return &model.InitiatePaymentResult{
		MerchantRequestID:   attempt.MerchantRequestID,
		CheckoutRequestID:   attempt.CheckoutRequestID,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

func (b *Bingwa) failInitiation(ctx context.Context, span trace.Span, attempt *model.PaymentAttempt, err error) error {
	span.RecordError(err)
	if errors.Is(err, mpesa.ErrUnauthorized) {
		metrics.PaymentsInitiated.WithLabelValues("auth_failed").Inc()
		b.markInitiationFailed(ctx, attempt, "payment gateway authentication failed")
		return apierror.NewAPIError(apierror.ErrBadGateway, "payment gateway authentication failed", fmt.Errorf("%w: %v", ErrGatewayAuth, err))
	}
	metrics.PaymentsInitiated.WithLabelValues("gateway_error").Inc()
	b.markInitiationFailed(ctx, attempt, err.Error())
	return apierror.NewAPIError(apierror.ErrBadGateway, "payment gateway unavailable", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
}

// markInitiationFailed records a push the gateway never accepted. No callback can
// reference the provisional checkout id, so the write needs no lock.
func (b *Bingwa) markInitiationFailed(ctx context.Context, attempt *model.PaymentAttempt, reason string) {
	attempt.Status = model.PaymentFailed
	attempt.ResultDesc = &reason
	if err := b.datasource.UpdatePaymentAttempt(ctx, attempt); err != nil {
		logrus.WithError(err).WithField("merchant_request_id", attempt.MerchantRequestID).
			Error("failed to mark payment attempt as failed")
	}
}

// replayParkedCallback processes a callback that arrived before the checkout id was known.
func (b *Bingwa) replayParkedCallback(ctx context.Context, checkoutID string) {
	parked, err := b.datasource.TakeParkedCallback(ctx, checkoutID)
	if err != nil {
		logrus.WithError(err).WithField("checkout_request_id", checkoutID).Error("failed to read parked callback")
		return
	}
	if parked == nil {
		return
	}
	logrus.WithField("checkout_request_id", checkoutID).Info("replaying parked callback")
	b.HandlePaymentCallback(ctx, parked.Payload)
}

// HandlePaymentCallback reconciles a gateway result notification. It never fails:
// malformed payloads are logged and dropped, unknown checkout ids are parked for
// replay, duplicates are no-ops. A successful payment credits the agent's wallet
// exactly once.
func (b *Bingwa) HandlePaymentCallback(ctx context.Context, raw []byte) CallbackOutcome {
	ctx, span := tracer.Start(ctx, "HandlePaymentCallback")
	defer span.End()

	var outcome CallbackOutcome
	switch cb := model.ParseCallback(raw).(type) {
	case model.MalformedCallback:
		logrus.WithField("reason", cb.Reason).Warn("dropping malformed payment callback")
		outcome = CallbackMalformed
	case model.StkCallback:
		span.SetAttributes(attribute.String("bingwa.checkout_request_id", cb.CheckoutRequestID))
		outcome = b.reconcile(ctx, cb)
	}

	metrics.PaymentsReconciled.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (b *Bingwa) reconcile(ctx context.Context, cb model.StkCallback) CallbackOutcome {
	log := logrus.WithFields(logrus.Fields{
		"checkout_request_id": cb.CheckoutRequestID,
		"merchant_request_id": cb.MerchantRequestID,
		"result_code":         cb.ResultCode,
	})

	attempt, err := b.datasource.GetPaymentAttemptByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if !errors.Is(err, ErrPaymentNotFound) {
			log.WithError(err).Error("failed to load payment attempt for callback")
			return CallbackError
		}
		attempt, err = b.parkCallback(ctx, cb)
		if err != nil {
			log.WithError(err).Error("failed to park callback")
			return CallbackError
		}
		if attempt == nil {
			log.Warn("callback for unknown checkout id parked for replay")
			return CallbackParked
		}
	}

	var outcome CallbackOutcome
	err = b.withLock(ctx, redlock.PaymentLockKey(attempt.MerchantRequestID), func() error {
		current, err := b.datasource.GetPaymentAttemptByMerchantID(ctx, attempt.MerchantRequestID)
		if err != nil {
			return err
		}
		outcome, err = b.applyCallback(ctx, current, cb)
		return err
	})
	if err != nil {
		log.WithError(err).Error("payment callback left unreconciled")
		return CallbackError
	}

	log.WithField("outcome", outcome).Info("payment callback processed")
	return outcome
}

// parkCallback stores cb for replay, then looks the attempt up once more in case
// the checkout id was assigned meanwhile. When it was, the parked copy is taken
// back so exactly one side processes it.
func (b *Bingwa) parkCallback(ctx context.Context, cb model.StkCallback) (*model.PaymentAttempt, error) {
	if err := b.datasource.ParkCallback(ctx, cb.CheckoutRequestID, cb.Raw); err != nil {
		return nil, err
	}

	attempt, err := b.datasource.GetPaymentAttemptByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, err
	}

	parked, err := b.datasource.TakeParkedCallback(ctx, cb.CheckoutRequestID)
	if err != nil || parked == nil {
		// The initiating side took it and will replay it.
		return nil, err
	}
	return attempt, nil
}

func statusForResult(code int) model.PaymentStatus {
	switch code {
	case 0:
		return model.PaymentCompleted
	case resultCodeCancelledByUser:
		return model.PaymentCancelled
	case resultCodeUnreachable:
		return model.PaymentTimedOut
	default:
		return model.PaymentFailed
	}
}

// applyCallback runs under the attempt lock on a freshly read attempt.
func (b *Bingwa) applyCallback(ctx context.Context, attempt *model.PaymentAttempt, cb model.StkCallback) (CallbackOutcome, error) {
	if attempt.Status.IsTerminal() {
		if attempt.NeedsCredit() && cb.Succeeded() {
			return b.creditOrSchedule(ctx, attempt), nil
		}
		return CallbackDuplicate, nil
	}

	target := statusForResult(cb.ResultCode)
	if !attempt.Status.CanTransition(target) {
		target = model.PaymentFailed
	}

	code, desc := cb.ResultCode, cb.ResultDesc
	attempt.Status = target
	attempt.ResultCode = &code
	attempt.ResultDesc = &desc
	attempt.CallbackPayload = cb.Raw
	if cb.Succeeded() {
		attempt.ReceiptNumber = cb.ReceiptNumber()
		attempt.PhoneNumberUsed = cb.PhoneNumber()
		attempt.TransactionDate = cb.TransactionDate()
	}
	if err := b.datasource.UpdatePaymentAttempt(ctx, attempt); err != nil {
		return CallbackError, err
	}

	b.sendPaymentWebhook(ctx, attempt)

	if !cb.Succeeded() {
		return CallbackFailed, nil
	}
	return b.creditOrSchedule(ctx, attempt), nil
}

// creditOrSchedule credits the wallet; on failure the attempt stays uncredited and
// a retry task is queued.
func (b *Bingwa) creditOrSchedule(ctx context.Context, attempt *model.PaymentAttempt) CallbackOutcome {
	err := b.creditLocked(ctx, attempt)
	if err == nil {
		return CallbackCredited
	}

	notification.NotifyError(fmt.Errorf("wallet credit failed for payment %s (agent %s): %w", attempt.MerchantRequestID, attempt.AgentID, err))
	if qErr := b.queue.EnqueueCreditRetry(ctx, attempt.MerchantRequestID); qErr != nil {
		logrus.WithError(qErr).WithField("merchant_request_id", attempt.MerchantRequestID).
			Error("failed to enqueue credit retry; left for the sweep")
	}
	return CallbackCreditPending
}

// creditLocked credits the agent for a completed attempt and marks it credited.
// The caller holds the attempt lock. The wallet dedupes by merchant request id,
// so a credit whose flag failed to save is not applied twice.
func (b *Bingwa) creditLocked(ctx context.Context, attempt *model.PaymentAttempt) error {
	ctx, span := tracer.Start(ctx, "CreditWallet")
	defer span.End()

	attempt.CreditAttempts++
	balance, err := b.wallet.Credit(ctx, attempt.AgentID, attempt.Amount, attempt.MerchantRequestID)
	if err != nil {
		span.RecordError(err)
		metrics.WalletCredits.WithLabelValues("failed").Inc()
		if uErr := b.datasource.UpdatePaymentAttempt(ctx, attempt); uErr != nil {
			logrus.WithError(uErr).Error("failed to record credit attempt")
		}
		return err
	}

	now := b.clock()
	attempt.IsCredited = true
	attempt.CreditedAt = &now
	if err := b.datasource.UpdatePaymentAttempt(ctx, attempt); err != nil {
		span.RecordError(err)
		return err
	}

	metrics.WalletCredits.WithLabelValues("credited").Inc()
	logrus.WithFields(logrus.Fields{
		"merchant_request_id": attempt.MerchantRequestID,
		"agent_id":            attempt.AgentID,
		"amount":              attempt.Amount.String(),
		"balance":             balance.String(),
	}).Info("wallet credited")
	return nil
}

// CreditAttempt retries the wallet credit for one completed, uncredited attempt.
// It is a no-op when there is nothing to credit.
func (b *Bingwa) CreditAttempt(ctx context.Context, merchantRequestID string) error {
	return b.withLock(ctx, redlock.PaymentLockKey(merchantRequestID), func() error {
		attempt, err := b.datasource.GetPaymentAttemptByMerchantID(ctx, merchantRequestID)
		if err != nil {
			return err
		}
		if !attempt.NeedsCredit() {
			return nil
		}
		return b.creditLocked(ctx, attempt)
	})
}

// RetryPendingCredits sweeps completed attempts that were never credited and
// returns how many it credited.
func (b *Bingwa) RetryPendingCredits(ctx context.Context, batchSize int) (int, error) {
	ctx, span := tracer.Start(ctx, "RetryPendingCredits")
	defer span.End()

	if batchSize <= 0 {
		batchSize = 100
	}
	pending, err := b.datasource.GetUncreditedPaymentAttempts(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	credited := 0
	var errs []error
	for _, attempt := range pending {
		if err := b.CreditAttempt(ctx, attempt.MerchantRequestID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", attempt.MerchantRequestID, err))
			continue
		}
		credited++
	}
	if len(errs) > 0 {
		logrus.WithField("failed", len(errs)).Warn("credit sweep left attempts uncredited")
	}
	return credited, errors.Join(errs...)
}

// QueryPaymentStatus returns the polling view of an attempt by checkout id.
func (b *Bingwa) QueryPaymentStatus(ctx context.Context, checkoutRequestID string) (*model.PaymentStatusResult, error) {
	attempt, err := b.datasource.GetPaymentAttemptByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	res := attempt.ToStatusResult()
	return &res, nil
}

func (b *Bingwa) GetPaymentAttempt(ctx context.Context, merchantRequestID string) (*model.PaymentAttempt, error) {
	return b.datasource.GetPaymentAttemptByMerchantID(ctx, merchantRequestID)
}

// GetAgentPayments lists an agent's attempts, newest first.
func (b *Bingwa) GetAgentPayments(ctx context.Context, agentID string, limit int) ([]model.PaymentAttempt, error) {
	if limit <= 0 {
		limit = defaultPaymentsLimit
	}
	return b.datasource.GetAgentPaymentAttempts(ctx, agentID, limit)
}

// mockReceipt derives a stable MOCK receipt number for a checkout id.
func mockReceipt(checkoutID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(checkoutID))
	return fmt.Sprintf("MOCK%06d", h.Sum32()%1000000)
}

// SimulateCallback builds a gateway callback for a sandbox attempt and feeds it
// through HandlePaymentCallback.
func (b *Bingwa) SimulateCallback(ctx context.Context, checkoutRequestID string, success bool) (CallbackOutcome, error) {
	if b.config.Mpesa.Environment != config.MpesaSandbox {
		return "", apierror.NewAPIError(apierror.ErrBadRequest, "simulation only available in sandbox mode", ErrSimulationDisabled)
	}

	attempt, err := b.datasource.GetPaymentAttemptByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		return "", err
	}

	code, desc := 1, "Transaction failed"
	var items []model.CallbackItem
	if success {
		code, desc = 0, "The service request is processed successfully."
		items = []model.CallbackItem{
			{Name: model.ItemAmount, Value: attempt.Amount.IntPart()},
			{Name: model.ItemReceiptNumber, Value: mockReceipt(checkoutRequestID)},
			{Name: model.ItemTransactionDate, Value: b.now().In(model.EAT).Format(model.CallbackDateLayout)},
			{Name: model.ItemPhoneNumber, Value: attempt.PhoneNumber},
		}
	}

	raw, err := model.BuildCallbackPayload(attempt.MerchantRequestID, attempt.CheckoutRequestID, code, desc, items)
	if err != nil {
		return "", err
	}
	return b.HandlePaymentCallback(ctx, raw), nil
}
