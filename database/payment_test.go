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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/bingwapro/bingwa/model"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentColumnNames = []string{
	"merchant_request_id", "checkout_request_id", "agent_id", "phone_number", "amount",
	"account_reference", "transaction_desc", "status", "result_code", "result_desc", "mpesa_receipt_number",
	"phone_number_used", "transaction_date", "callback_payload", "is_credited", "credited_at", "credit_attempts",
	"version", "created_at", "updated_at",
}

func paymentRow(status model.PaymentStatus, credited bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(paymentColumnNames).AddRow(
		"mrq_1", "ws_CO_1", "agent_1", "254712345678", "500",
		"AGENTagent_1", "Token Purchase", string(status), int64(0), "ok", "MOCK123456",
		nil, nil, []byte(`{"Body":{}}`), credited, nil, int64(0),
		int64(3), now, now,
	)
}

func TestCreatePaymentAttempt_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	attempt := &model.PaymentAttempt{
		MerchantRequestID: "mrq_1",
		CheckoutRequestID: "ws_CO_1",
		AgentID:           "agent_1",
		PhoneNumber:       "254712345678",
		Amount:            decimal.NewFromInt(500),
		Status:            model.PaymentInitiated,
	}

	mock.ExpectExec("INSERT INTO bingwa.payment_attempts").
		WithArgs("mrq_1", "ws_CO_1", "agent_1", "254712345678", sqlmock.AnyArg(), "", "", model.PaymentInitiated, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.CreatePaymentAttempt(context.Background(), attempt)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), attempt.Version)
	assert.WithinDuration(t, time.Now(), attempt.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentAttempt_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("INSERT INTO bingwa.payment_attempts").
		WillReturnError(&pq.Error{Code: "23505"})

	err = ds.CreatePaymentAttempt(context.Background(), &model.PaymentAttempt{MerchantRequestID: "mrq_1"})
	require.Error(t, err)
	assert.Equal(t, 409, apierror.MapErrorToHTTPStatus(err))
}

func TestGetPaymentAttemptByCheckoutID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM bingwa.payment_attempts WHERE checkout_request_id = \\$1").
		WithArgs("ws_CO_1").
		WillReturnRows(paymentRow(model.PaymentCompleted, true))

	attempt, err := ds.GetPaymentAttemptByCheckoutID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "mrq_1", attempt.MerchantRequestID)
	assert.Equal(t, model.PaymentCompleted, attempt.Status)
	assert.True(t, attempt.Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, attempt.IsCredited)
	require.NotNil(t, attempt.ResultCode)
	assert.Equal(t, 0, *attempt.ResultCode)
	assert.Equal(t, "MOCK123456", *attempt.ReceiptNumber)
	assert.Nil(t, attempt.PhoneNumberUsed)
	assert.Equal(t, int64(3), attempt.Version)
}

func TestGetPaymentAttemptByCheckoutID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM bingwa.payment_attempts").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetPaymentAttemptByCheckoutID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPaymentNotFound))
}

func TestUpdatePaymentAttempt_BumpsVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	attempt := &model.PaymentAttempt{MerchantRequestID: "mrq_1", CheckoutRequestID: "ws_CO_1", Status: model.PaymentPending, Version: 1}

	mock.ExpectExec("UPDATE bingwa.payment_attempts SET").
		WithArgs("mrq_1", int64(1), "ws_CO_1", model.PaymentPending, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil, false, sqlmock.AnyArg(), 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.UpdatePaymentAttempt(context.Background(), attempt))
	assert.Equal(t, int64(2), attempt.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePaymentAttempt_StaleVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	attempt := &model.PaymentAttempt{MerchantRequestID: "mrq_1", Version: 1}

	mock.ExpectExec("UPDATE bingwa.payment_attempts SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdatePaymentAttempt(context.Background(), attempt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrStaleWrite))
	assert.Equal(t, int64(1), attempt.Version)
}

func TestGetUncreditedPaymentAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM bingwa.payment_attempts\\s+WHERE status = 'completed' AND is_credited = FALSE").
		WithArgs(10).
		WillReturnRows(paymentRow(model.PaymentCompleted, false))

	attempts, err := ds.GetUncreditedPaymentAttempts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].NeedsCredit())
}

func TestParkAndTakeCallback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	payload := []byte(`{"Body":{"stkCallback":{}}}`)

	mock.ExpectExec("INSERT INTO bingwa.parked_callbacks").
		WithArgs("ws_CO_9", string(payload), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, ds.ParkCallback(context.Background(), "ws_CO_9", payload))

	now := time.Now()
	mock.ExpectQuery("DELETE FROM bingwa.parked_callbacks").
		WithArgs("ws_CO_9").
		WillReturnRows(sqlmock.NewRows([]string{"checkout_request_id", "payload", "received_at"}).AddRow("ws_CO_9", payload, now))
	parked, err := ds.TakeParkedCallback(context.Background(), "ws_CO_9")
	require.NoError(t, err)
	require.NotNil(t, parked)
	assert.JSONEq(t, string(payload), string(parked.Payload))

	mock.ExpectQuery("DELETE FROM bingwa.parked_callbacks").
		WithArgs("ws_CO_9").
		WillReturnError(sql.ErrNoRows)
	parked, err = ds.TakeParkedCallback(context.Background(), "ws_CO_9")
	assert.NoError(t, err)
	assert.Nil(t, parked)

	assert.NoError(t, mock.ExpectationsWereMet())
}
