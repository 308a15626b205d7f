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
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// StkPushRequest is the body of POST /mpesa/stkpush.
type StkPushRequest struct {
	Amount           float64 `json:"amount"`
	PhoneNumber      string  `json:"phone_number"`
	AccountReference string  `json:"account_reference,omitempty"`
	TransactionDesc  string  `json:"transaction_desc,omitempty"`
}

func (r *StkPushRequest) ValidateStkPush() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Amount, validation.Required, validation.Min(1.0)),
		validation.Field(&r.PhoneNumber, validation.Required),
		// Daraja truncates longer values
		validation.Field(&r.AccountReference, validation.Length(0, 12)),
		validation.Field(&r.TransactionDesc, validation.Length(0, 13)),
	)
}

func (r *StkPushRequest) AmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(r.Amount)
}

// SimulateCallback is the optional body of POST /mpesa/simulate/:checkoutId.
type SimulateCallback struct {
	Success *bool `json:"success"`
}

// Succeeds defaults to a successful payment when success is omitted.
func (s SimulateCallback) Succeeds() bool {
	return s.Success == nil || *s.Success
}
