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
package mocks

import (
	"context"
	"time"

	"github.com/bingwapro/bingwa/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Payment methods

func (m *MockDataSource) CreatePaymentAttempt(ctx context.Context, attempt *model.PaymentAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockDataSource) GetPaymentAttemptByCheckoutID(ctx context.Context, checkoutID string) (*model.PaymentAttempt, error) {
	args := m.Called(ctx, checkoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentAttempt), args.Error(1)
}

func (m *MockDataSource) GetPaymentAttemptByMerchantID(ctx context.Context, merchantID string) (*model.PaymentAttempt, error) {
	args := m.Called(ctx, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentAttempt), args.Error(1)
}

func (m *MockDataSource) UpdatePaymentAttempt(ctx context.Context, attempt *model.PaymentAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockDataSource) GetAgentPaymentAttempts(ctx context.Context, agentID string, limit int) ([]model.PaymentAttempt, error) {
	args := m.Called(ctx, agentID, limit)
	return args.Get(0).([]model.PaymentAttempt), args.Error(1)
}

func (m *MockDataSource) GetUncreditedPaymentAttempts(ctx context.Context, limit int) ([]model.PaymentAttempt, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.PaymentAttempt), args.Error(1)
}

func (m *MockDataSource) ParkCallback(ctx context.Context, checkoutID string, payload []byte) error {
	args := m.Called(ctx, checkoutID, payload)
	return args.Error(0)
}

func (m *MockDataSource) TakeParkedCallback(ctx context.Context, checkoutID string) (*model.ParkedCallback, error) {
	args := m.Called(ctx, checkoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ParkedCallback), args.Error(1)
}

// Route methods

func (m *MockDataSource) CreateRoute(ctx context.Context, route *model.UssdRoute) error {
	args := m.Called(ctx, route)
	return args.Error(0)
}

func (m *MockDataSource) GetRouteByID(ctx context.Context, id string) (*model.UssdRoute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UssdRoute), args.Error(1)
}

func (m *MockDataSource) GetRouteByCode(ctx context.Context, code string) (*model.UssdRoute, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UssdRoute), args.Error(1)
}

func (m *MockDataSource) GetAllRoutes(ctx context.Context) ([]model.UssdRoute, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.UssdRoute), args.Error(1)
}

func (m *MockDataSource) UpdateRoute(ctx context.Context, route *model.UssdRoute, status *model.RouteStatus) error {
	args := m.Called(ctx, route, status)
	return args.Error(0)
}

func (m *MockDataSource) ApplyRouteExecution(ctx context.Context, routeID string, outcome model.ExecutionOutcome) (*model.UssdRoute, error) {
	args := m.Called(ctx, routeID, outcome)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UssdRoute), args.Error(1)
}

// Session methods

func (m *MockDataSource) CreateSession(ctx context.Context, session *model.UssdSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockDataSource) GetSession(ctx context.Context, sessionID string) (*model.UssdSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UssdSession), args.Error(1)
}

func (m *MockDataSource) SaveSessionStep(ctx context.Context, session *model.UssdSession) (bool, error) {
	args := m.Called(ctx, session)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) AbortSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetActiveSessions(ctx context.Context, limit int) ([]model.UssdSession, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.UssdSession), args.Error(1)
}

func (m *MockDataSource) GetSessionsByAgent(ctx context.Context, agentID string, limit int) ([]model.UssdSession, error) {
	args := m.Called(ctx, agentID, limit)
	return args.Get(0).([]model.UssdSession), args.Error(1)
}

// Anomaly methods

func (m *MockDataSource) CreateAnomaly(ctx context.Context, anomaly *model.Anomaly) error {
	args := m.Called(ctx, anomaly)
	return args.Error(0)
}

func (m *MockDataSource) GetAnomaly(ctx context.Context, id string) (*model.Anomaly, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Anomaly), args.Error(1)
}

func (m *MockDataSource) GetAnomalies(ctx context.Context, status model.AnomalyStatus, limit int) ([]model.Anomaly, error) {
	args := m.Called(ctx, status, limit)
	return args.Get(0).([]model.Anomaly), args.Error(1)
}

func (m *MockDataSource) UpdateAnomaly(ctx context.Context, anomaly *model.Anomaly) error {
	args := m.Called(ctx, anomaly)
	return args.Error(0)
}

// Wallet methods

func (m *MockDataSource) CreditWallet(ctx context.Context, agentID string, amount decimal.Decimal, reference string) (decimal.Decimal, bool, error) {
	args := m.Called(ctx, agentID, amount, reference)
	return args.Get(0).(decimal.Decimal), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetWallet(ctx context.Context, agentID string) (*model.Wallet, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}
