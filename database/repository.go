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
	"time"

	"github.com/bingwapro/bingwa/model"
	"github.com/shopspring/decimal"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	payment // Payment attempts and parked callbacks
	route   // USSD route registry and statistics
	session // USSD sessions
	anomaly // Detected anomalies
	wallet  // Agent token wallets
}

type payment interface {
	CreatePaymentAttempt(ctx context.Context, attempt *model.PaymentAttempt) error
	GetPaymentAttemptByCheckoutID(ctx context.Context, checkoutID string) (*model.PaymentAttempt, error)
	GetPaymentAttemptByMerchantID(ctx context.Context, merchantID string) (*model.PaymentAttempt, error)
	// UpdatePaymentAttempt writes the attempt only if its stored version still matches attempt.Version,
	// then bumps the version on the passed value.
	UpdatePaymentAttempt(ctx context.Context, attempt *model.PaymentAttempt) error
	GetAgentPaymentAttempts(ctx context.Context, agentID string, limit int) ([]model.PaymentAttempt, error)
	GetUncreditedPaymentAttempts(ctx context.Context, limit int) ([]model.PaymentAttempt, error)
	ParkCallback(ctx context.Context, checkoutID string, payload []byte) error
	// TakeParkedCallback removes and returns the parked callback, or nil when there is none.
	TakeParkedCallback(ctx context.Context, checkoutID string) (*model.ParkedCallback, error)
}

type route interface {
	CreateRoute(ctx context.Context, route *model.UssdRoute) error
	GetRouteByID(ctx context.Context, id string) (*model.UssdRoute, error)
	GetRouteByCode(ctx context.Context, code string) (*model.UssdRoute, error)
	GetAllRoutes(ctx context.Context) ([]model.UssdRoute, error)
	// UpdateRoute writes the route definition and admin fields. Statistics are left
	// untouched, and so is status unless status is non-nil. route.Status is refreshed
	// from the stored row.
	UpdateRoute(ctx context.Context, route *model.UssdRoute, status *model.RouteStatus) error
	// ApplyRouteExecution atomically folds one execution into the route's statistics and status.
	ApplyRouteExecution(ctx context.Context, routeID string, outcome model.ExecutionOutcome) (*model.UssdRoute, error)
}

type session interface {
	CreateSession(ctx context.Context, session *model.UssdSession) error
	GetSession(ctx context.Context, sessionID string) (*model.UssdSession, error)
	// SaveSessionStep persists a step only while the stored session is not terminal.
	// It reports false when the write was discarded.
	SaveSessionStep(ctx context.Context, session *model.UssdSession) (bool, error)
	// AbortSession moves a non-terminal session to aborted. It reports false when the session was already terminal.
	AbortSession(ctx context.Context, sessionID string, at time.Time) (bool, error)
	GetActiveSessions(ctx context.Context, limit int) ([]model.UssdSession, error)
	GetSessionsByAgent(ctx context.Context, agentID string, limit int) ([]model.UssdSession, error)
}

type anomaly interface {
	CreateAnomaly(ctx context.Context, anomaly *model.Anomaly) error
	GetAnomaly(ctx context.Context, id string) (*model.Anomaly, error)
	GetAnomalies(ctx context.Context, status model.AnomalyStatus, limit int) ([]model.Anomaly, error)
	UpdateAnomaly(ctx context.Context, anomaly *model.Anomaly) error
}

type wallet interface {
	// CreditWallet adds amount to the agent's wallet once per reference. applied is false
	// when the reference was already credited, in which case the current balance is returned.
	CreditWallet(ctx context.Context, agentID string, amount decimal.Decimal, reference string) (balance decimal.Decimal, applied bool, err error)
	GetWallet(ctx context.Context, agentID string) (*model.Wallet, error)
}
