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

// Package memstore is an in-memory database.IDataSource used by tests and the
// memory:// data source.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bingwapro/bingwa/database"
	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/bingwapro/bingwa/model"
	"github.com/shopspring/decimal"
)

var _ database.IDataSource = (*Store)(nil)

// Store keeps deep copies of every record behind a single mutex, so each
// method is atomic the way a single SQL statement is.
type Store struct {
	mu sync.Mutex

	payments   map[string]*model.PaymentAttempt // by merchant request id
	checkouts  map[string]string                // checkout request id -> merchant request id
	parked     map[string]model.ParkedCallback
	routes     map[string]*model.UssdRoute // by route id
	routeCodes map[string]string           // code -> route id
	sessions   map[string]*model.UssdSession
	anomalies  map[string]*model.Anomaly
	wallets    map[string]*model.Wallet
	credits    map[string]model.WalletCredit
}

func New() *Store {
	return &Store{
		payments:   make(map[string]*model.PaymentAttempt),
		checkouts:  make(map[string]string),
		parked:     make(map[string]model.ParkedCallback),
		routes:     make(map[string]*model.UssdRoute),
		routeCodes: make(map[string]string),
		sessions:   make(map[string]*model.UssdSession),
		anomalies:  make(map[string]*model.Anomaly),
		wallets:    make(map[string]*model.Wallet),
		credits:    make(map[string]model.WalletCredit),
	}
}

// clone deep copies v through JSON so callers never share mutable state with the store.
func clone[T any](v *T) *T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memstore: marshal %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(fmt.Sprintf("memstore: unmarshal %T: %v", v, err))
	}
	return out
}

func limitOf(n, limit int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}

func notFound(what, id string, sentinel error) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("%s '%s' not found", what, id), sentinel)
}

// Payments

func (s *Store) CreatePaymentAttempt(_ context.Context, attempt *model.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[attempt.MerchantRequestID]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "Payment attempt with this request id already exists", nil)
	}
	if _, ok := s.checkouts[attempt.CheckoutRequestID]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "Payment attempt with this request id already exists", nil)
	}

	now := time.Now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	attempt.Version = 1

	s.payments[attempt.MerchantRequestID] = clone(attempt)
	s.checkouts[attempt.CheckoutRequestID] = attempt.MerchantRequestID
	return nil
}

func (s *Store) GetPaymentAttemptByCheckoutID(_ context.Context, checkoutID string) (*model.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merchantID, ok := s.checkouts[checkoutID]
	if !ok {
		return nil, notFound("Payment attempt", checkoutID, model.ErrPaymentNotFound)
	}
	return clone(s.payments[merchantID]), nil
}

func (s *Store) GetPaymentAttemptByMerchantID(_ context.Context, merchantID string) (*model.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[merchantID]
	if !ok {
		return nil, notFound("Payment attempt", merchantID, model.ErrPaymentNotFound)
	}
	return clone(p), nil
}

func (s *Store) UpdatePaymentAttempt(_ context.Context, attempt *model.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.payments[attempt.MerchantRequestID]
	if !ok || stored.Version != attempt.Version {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payment attempt '%s' was modified concurrently", attempt.MerchantRequestID), model.ErrStaleWrite)
	}
	if owner, taken := s.checkouts[attempt.CheckoutRequestID]; taken && owner != attempt.MerchantRequestID {
		return apierror.NewAPIError(apierror.ErrConflict, "Checkout request id already assigned", nil)
	}

	if stored.CheckoutRequestID != attempt.CheckoutRequestID {
		delete(s.checkouts, stored.CheckoutRequestID)
		s.checkouts[attempt.CheckoutRequestID] = attempt.MerchantRequestID
	}

	attempt.Version++
	attempt.UpdatedAt = time.Now()
	s.payments[attempt.MerchantRequestID] = clone(attempt)
	return nil
}

func (s *Store) listPayments(filter func(*model.PaymentAttempt) bool, less func(a, b *model.PaymentAttempt) bool, limit int) []model.PaymentAttempt {
	matched := make([]*model.PaymentAttempt, 0)
	for _, p := range s.payments {
		if filter(p) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	out := make([]model.PaymentAttempt, 0, limitOf(len(matched), limit))
	for _, p := range matched[:limitOf(len(matched), limit)] {
		out = append(out, *clone(p))
	}
	return out
}

func (s *Store) GetAgentPaymentAttempts(_ context.Context, agentID string, limit int) ([]model.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listPayments(
		func(p *model.PaymentAttempt) bool { return p.AgentID == agentID },
		func(a, b *model.PaymentAttempt) bool { return a.CreatedAt.After(b.CreatedAt) },
		limit,
	), nil
}

func (s *Store) GetUncreditedPaymentAttempts(_ context.Context, limit int) ([]model.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listPayments(
		func(p *model.PaymentAttempt) bool { return p.NeedsCredit() },
		func(a, b *model.PaymentAttempt) bool { return a.UpdatedAt.Before(b.UpdatedAt) },
		limit,
	), nil
}

func (s *Store) ParkCallback(_ context.Context, checkoutID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parked[checkoutID] = model.ParkedCallback{
		CheckoutRequestID: checkoutID,
		Payload:           append([]byte(nil), payload...),
		ReceivedAt:        time.Now(),
	}
	return nil
}

func (s *Store) TakeParkedCallback(_ context.Context, checkoutID string) (*model.ParkedCallback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parked, ok := s.parked[checkoutID]
	if !ok {
		return nil, nil
	}
	delete(s.parked, checkoutID)
	return &parked, nil
}

// Routes

func (s *Store) CreateRoute(_ context.Context, route *model.UssdRoute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routeCodes[route.Code]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Route with code '%s' already exists", route.Code), model.ErrRouteExists)
	}

	now := time.Now()
	route.CreatedAt = now
	route.UpdatedAt = now
	s.routes[route.ID] = clone(route)
	s.routeCodes[route.Code] = route.ID
	return nil
}

func (s *Store) GetRouteByID(_ context.Context, id string) (*model.UssdRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routes[id]
	if !ok {
		return nil, notFound("Route", id, model.ErrRouteNotFound)
	}
	return clone(r), nil
}

func (s *Store) GetRouteByCode(_ context.Context, code string) (*model.UssdRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.routeCodes[code]
	if !ok {
		return nil, notFound("Route", code, model.ErrRouteNotFound)
	}
	return clone(s.routes[id]), nil
}

func (s *Store) GetAllRoutes(_ context.Context) ([]model.UssdRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	routes := make([]model.UssdRoute, 0, len(s.routes))
	for _, r := range s.routes {
		routes = append(routes, *clone(r))
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].CreatedAt.After(routes[j].CreatedAt) })
	return routes, nil
}

func (s *Store) UpdateRoute(_ context.Context, route *model.UssdRoute, status *model.RouteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.routes[route.ID]
	if !ok {
		return notFound("Route", route.ID, model.ErrRouteNotFound)
	}
	if owner, taken := s.routeCodes[route.Code]; taken && owner != route.ID {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Route with code '%s' already exists", route.Code), model.ErrRouteExists)
	}

	updated := clone(stored)
	updated.Code = route.Code
	updated.Name = route.Name
	updated.Description = route.Description
	updated.DialTemplate = route.DialTemplate
	updated.ProcessingMode = route.ProcessingMode
	updated.ExpectedResponses = route.ExpectedResponses
	updated.ExtractionPatterns = route.ExtractionPatterns
	updated.RequiredStepCount = route.RequiredStepCount
	if status != nil {
		updated.Status = *status
	}
	updated.IsActive = route.IsActive
	updated.MetaData = route.MetaData
	updated.UpdatedAt = time.Now()

	delete(s.routeCodes, stored.Code)
	s.routeCodes[updated.Code] = updated.ID
	s.routes[route.ID] = clone(updated)

	route.Status = updated.Status
	route.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *Store) ApplyRouteExecution(_ context.Context, routeID string, outcome model.ExecutionOutcome) (*model.UssdRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routes[routeID]
	if !ok {
		return nil, notFound("Route", routeID, model.ErrRouteNotFound)
	}
	if outcome.At.IsZero() {
		outcome.At = time.Now()
	}
	model.ApplyExecution(r, outcome)
	return clone(r), nil
}

// Sessions

func (s *Store) CreateSession(_ context.Context, session *model.UssdSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.SessionID]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "Session with this ID already exists", nil)
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.SessionID] = clone(session)
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*model.UssdSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, notFound("Session", sessionID, model.ErrSessionNotFound)
	}
	return clone(session), nil
}

func (s *Store) SaveSessionStep(_ context.Context, session *model.UssdSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[session.SessionID]
	if !ok || stored.Status.IsTerminal() {
		return false, nil
	}
	session.UpdatedAt = time.Now()
	session.CreatedAt = stored.CreatedAt
	s.sessions[session.SessionID] = clone(session)
	return true, nil
}

func (s *Store) AbortSession(_ context.Context, sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionID]
	if !ok || stored.Status.IsTerminal() {
		return false, nil
	}
	stored.Status = model.SessionAborted
	stored.CompletedAt = &at
	stored.UpdatedAt = at
	return true, nil
}

func (s *Store) listSessions(filter func(*model.UssdSession) bool, limit int) []model.UssdSession {
	matched := make([]*model.UssdSession, 0)
	for _, session := range s.sessions {
		if filter(session) {
			matched = append(matched, session)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	out := make([]model.UssdSession, 0, limitOf(len(matched), limit))
	for _, session := range matched[:limitOf(len(matched), limit)] {
		out = append(out, *clone(session))
	}
	return out
}

func (s *Store) GetActiveSessions(_ context.Context, limit int) ([]model.UssdSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listSessions(func(session *model.UssdSession) bool { return !session.Status.IsTerminal() }, limit), nil
}

func (s *Store) GetSessionsByAgent(_ context.Context, agentID string, limit int) ([]model.UssdSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listSessions(func(session *model.UssdSession) bool {
		return agentID == "" || session.AgentID == agentID
	}, limit), nil
}

// Anomalies

func (s *Store) CreateAnomaly(_ context.Context, anomaly *model.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	anomaly.CreatedAt = now
	anomaly.UpdatedAt = now
	s.anomalies[anomaly.AnomalyID] = clone(anomaly)
	return nil
}

func (s *Store) GetAnomaly(_ context.Context, id string) (*model.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.anomalies[id]
	if !ok {
		return nil, notFound("Anomaly", id, model.ErrAnomalyNotFound)
	}
	return clone(a), nil
}

func (s *Store) GetAnomalies(_ context.Context, status model.AnomalyStatus, limit int) ([]model.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*model.Anomaly, 0)
	for _, a := range s.anomalies {
		if status == "" || a.Status == status {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	out := make([]model.Anomaly, 0, limitOf(len(matched), limit))
	for _, a := range matched[:limitOf(len(matched), limit)] {
		out = append(out, *clone(a))
	}
	return out, nil
}

func (s *Store) UpdateAnomaly(_ context.Context, anomaly *model.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.anomalies[anomaly.AnomalyID]
	if !ok {
		return notFound("Anomaly", anomaly.AnomalyID, model.ErrAnomalyNotFound)
	}
	stored.Status = anomaly.Status
	stored.ResolvedBy = anomaly.ResolvedBy
	stored.ResolvedAt = anomaly.ResolvedAt
	stored.ResolutionNotes = anomaly.ResolutionNotes
	stored.UpdatedAt = time.Now()
	anomaly.UpdatedAt = stored.UpdatedAt
	return nil
}

// Wallets

func (s *Store) CreditWallet(_ context.Context, agentID string, amount decimal.Decimal, reference string) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[agentID]
	if _, dup := s.credits[reference]; dup {
		if !ok {
			return decimal.Zero, false, nil
		}
		return w.Balance, false, nil
	}

	now := time.Now()
	if !ok {
		w = &model.Wallet{AgentID: agentID, Balance: decimal.Zero, CreatedAt: now}
		s.wallets[agentID] = w
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = now
	s.credits[reference] = model.WalletCredit{Reference: reference, AgentID: agentID, Amount: amount, CreatedAt: now}
	return w.Balance, true, nil
}

func (s *Store) GetWallet(_ context.Context, agentID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[agentID]
	if !ok {
		return nil, notFound("Wallet", agentID, model.ErrWalletNotFound)
	}
	return clone(w), nil
}
