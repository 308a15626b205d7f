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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/bingwapro/bingwa/model"
	"github.com/lib/pq"
)

const paymentColumns = `merchant_request_id, checkout_request_id, agent_id, phone_number, amount,
	account_reference, transaction_desc, status, result_code, result_desc, mpesa_receipt_number,
	phone_number_used, transaction_date, callback_payload, is_credited, credited_at, credit_attempts,
	version, created_at, updated_at`

func scanPaymentAttempt(row scanner) (*model.PaymentAttempt, error) {
	p := model.PaymentAttempt{}
	var (
		resultCode      sql.NullInt64
		resultDesc      sql.NullString
		receipt         sql.NullString
		phoneUsed       sql.NullString
		accountRef      sql.NullString
		desc            sql.NullString
		transactionDate sql.NullTime
		creditedAt      sql.NullTime
		payload         []byte
	)

	err := row.Scan(
		&p.MerchantRequestID, &p.CheckoutRequestID, &p.AgentID, &p.PhoneNumber, &p.Amount,
		&accountRef, &desc, &p.Status, &resultCode, &resultDesc, &receipt,
		&phoneUsed, &transactionDate, &payload, &p.IsCredited, &creditedAt, &p.CreditAttempts,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.AccountReference = accountRef.String
	p.TransactionDesc = desc.String
	if resultCode.Valid {
		code := int(resultCode.Int64)
		p.ResultCode = &code
	}
	if resultDesc.Valid {
		p.ResultDesc = &resultDesc.String
	}
	if receipt.Valid {
		p.ReceiptNumber = &receipt.String
	}
	if phoneUsed.Valid {
		p.PhoneNumberUsed = &phoneUsed.String
	}
	if transactionDate.Valid {
		p.TransactionDate = &transactionDate.Time
	}
	if creditedAt.Valid {
		p.CreditedAt = &creditedAt.Time
	}
	if len(payload) > 0 {
		p.CallbackPayload = payload
	}
	return &p, nil
}

func (d Datasource) CreatePaymentAttempt(ctx context.Context, attempt *model.PaymentAttempt) error {
	now := time.Now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	attempt.Version = 1

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO bingwa.payment_attempts (
			merchant_request_id, checkout_request_id, agent_id, phone_number, amount,
			account_reference, transaction_desc, status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, attempt.MerchantRequestID, attempt.CheckoutRequestID, attempt.AgentID, attempt.PhoneNumber, attempt.Amount,
		attempt.AccountReference, attempt.TransactionDesc, attempt.Status, attempt.Version, attempt.CreatedAt, attempt.UpdatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Payment attempt with this request id already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payment attempt", err)
	}
	return nil
}

func (d Datasource) getPaymentAttempt(ctx context.Context, column, value string) (*model.PaymentAttempt, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.payment_attempts WHERE %s = $1
	`, paymentColumns, column), value)

	attempt, err := scanPaymentAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment attempt with %s '%s' not found", column, value), model.ErrPaymentNotFound)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment attempt", err)
	}
	return attempt, nil
}

func (d Datasource) GetPaymentAttemptByCheckoutID(ctx context.Context, checkoutID string) (*model.PaymentAttempt, error) {
	return d.getPaymentAttempt(ctx, "checkout_request_id", checkoutID)
}

func (d Datasource) GetPaymentAttemptByMerchantID(ctx context.Context, merchantID string) (*model.PaymentAttempt, error) {
	return d.getPaymentAttempt(ctx, "merchant_request_id", merchantID)
}

func (d Datasource) UpdatePaymentAttempt(ctx context.Context, attempt *model.PaymentAttempt) error {
	now := time.Now()
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bingwa.payment_attempts SET
			checkout_request_id = $3,
			status = $4,
			result_code = $5,
			result_desc = $6,
			mpesa_receipt_number = $7,
			phone_number_used = $8,
			transaction_date = $9,
			callback_payload = $10,
			is_credited = $11,
			credited_at = $12,
			credit_attempts = $13,
			updated_at = $14,
			version = version + 1
		WHERE merchant_request_id = $1 AND version = $2
	`, attempt.MerchantRequestID, attempt.Version, attempt.CheckoutRequestID, attempt.Status,
		attempt.ResultCode, attempt.ResultDesc, attempt.ReceiptNumber, attempt.PhoneNumberUsed,
		attempt.TransactionDate, nullableJSON(attempt.CallbackPayload), attempt.IsCredited,
		attempt.CreditedAt, attempt.CreditAttempts, now)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Checkout request id already assigned", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payment attempt", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payment attempt '%s' was modified concurrently", attempt.MerchantRequestID), model.ErrStaleWrite)
	}

	attempt.Version++
	attempt.UpdatedAt = now
	return nil
}

func (d Datasource) queryPaymentAttempts(ctx context.Context, query string, args ...interface{}) ([]model.PaymentAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment attempts", err)
	}
	defer rows.Close()

	attempts := []model.PaymentAttempt{}
	for rows.Next() {
		attempt, err := scanPaymentAttempt(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment attempt", err)
		}
		attempts = append(attempts, *attempt)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payment attempts", err)
	}
	return attempts, nil
}

func (d Datasource) GetAgentPaymentAttempts(ctx context.Context, agentID string, limit int) ([]model.PaymentAttempt, error) {
	return d.queryPaymentAttempts(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.payment_attempts
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, paymentColumns), agentID, limit)
}

func (d Datasource) GetUncreditedPaymentAttempts(ctx context.Context, limit int) ([]model.PaymentAttempt, error) {
	return d.queryPaymentAttempts(ctx, fmt.Sprintf(`
		SELECT %s FROM bingwa.payment_attempts
		WHERE status = 'completed' AND is_credited = FALSE
		ORDER BY updated_at ASC
		LIMIT $1
	`, paymentColumns), limit)
}

func (d Datasource) ParkCallback(ctx context.Context, checkoutID string, payload []byte) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO bingwa.parked_callbacks (checkout_request_id, payload, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (checkout_request_id) DO UPDATE SET payload = EXCLUDED.payload, received_at = EXCLUDED.received_at
	`, checkoutID, string(payload), time.Now())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to park callback", err)
	}
	return nil
}

func (d Datasource) TakeParkedCallback(ctx context.Context, checkoutID string) (*model.ParkedCallback, error) {
	parked := model.ParkedCallback{}
	var payload []byte
	err := d.Conn.QueryRowContext(ctx, `
		DELETE FROM bingwa.parked_callbacks WHERE checkout_request_id = $1
		RETURNING checkout_request_id, payload, received_at
	`, checkoutID).Scan(&parked.CheckoutRequestID, &payload, &parked.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to take parked callback", err)
	}
	parked.Payload = payload
	return &parked, nil
}
