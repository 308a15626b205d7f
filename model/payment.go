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
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentTimedOut  PaymentStatus = "timeout"
)

// paymentTransitions lists the statuses each status may move to.
// Initiated may jump straight to Completed or Failed because a callback can
// arrive before the gateway's synchronous accept response is processed.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentInitiated: {PaymentPending, PaymentCompleted, PaymentFailed},
	PaymentPending:   {PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentTimedOut},
}

// IsTerminal reports whether no further transition is allowed from s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentAttempt is one STK push lifecycle, from initiation to the asynchronous callback.
type PaymentAttempt struct {
	MerchantRequestID string          `json:"merchant_request_id"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	AgentID           string          `json:"agent_id"`
	PhoneNumber       string          `json:"phone_number"`
	Amount            decimal.Decimal `json:"amount"`
	AccountReference  string          `json:"account_reference"`
	TransactionDesc   string          `json:"transaction_desc"`
	Status            PaymentStatus   `json:"status"`
	ResultCode        *int            `json:"result_code,omitempty"`
	ResultDesc        *string         `json:"result_desc,omitempty"`
	ReceiptNumber     *string         `json:"mpesa_receipt_number,omitempty"`
	PhoneNumberUsed   *string         `json:"phone_number_used,omitempty"`
	TransactionDate   *time.Time      `json:"transaction_date,omitempty"`
	CallbackPayload   json.RawMessage `json:"callback_payload,omitempty"`
	IsCredited        bool            `json:"is_credited"`
	CreditedAt        *time.Time      `json:"credited_at,omitempty"`
	CreditAttempts    int             `json:"credit_attempts"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NeedsCredit reports whether the attempt completed but the wallet has not been credited yet.
func (p *PaymentAttempt) NeedsCredit() bool {
	return p.Status == PaymentCompleted && !p.IsCredited
}

// ParkedCallback is a callback that arrived before its checkout request id was known.
type ParkedCallback struct {
	CheckoutRequestID string          `json:"checkout_request_id"`
	Payload           json.RawMessage `json:"payload"`
	ReceivedAt        time.Time       `json:"received_at"`
}

type InitiatePaymentResult struct {
	MerchantRequestID   string `json:"merchant_request_id"`
	CheckoutRequestID   string `json:"checkout_request_id"`
	ResponseDescription string `json:"response_description"`
	CustomerMessage     string `json:"customer_message"`
}

type PaymentStatusResult struct {
	CheckoutRequestID string          `json:"checkout_request_id"`
	MerchantRequestID string          `json:"merchant_request_id"`
	Status            PaymentStatus   `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	ResultDesc        string          `json:"result_desc,omitempty"`
	ReceiptNumber     string          `json:"mpesa_receipt_number,omitempty"`
	IsCredited        bool            `json:"is_credited"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ToStatusResult flattens the attempt into the polling view returned to agents.
func (p *PaymentAttempt) ToStatusResult() PaymentStatusResult {
	res := PaymentStatusResult{
		CheckoutRequestID: p.CheckoutRequestID,
		MerchantRequestID: p.MerchantRequestID,
		Status:            p.Status,
		Amount:            p.Amount,
		IsCredited:        p.IsCredited,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.ResultDesc != nil {
		res.ResultDesc = *p.ResultDesc
	}
	if p.ReceiptNumber != nil {
		res.ReceiptNumber = *p.ReceiptNumber
	}
	return res
}
