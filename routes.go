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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/bingwapro/bingwa/model"
)

// ruleCache memoises compiled route rules per route version. A route's
// UpdatedAt only moves on administrative edits.
type ruleCache struct {
	mu      sync.RWMutex
	entries map[string]ruleEntry
}

type ruleEntry struct {
	version time.Time
	rules   *model.CompiledRules
}

func newRuleCache() *ruleCache {
	return &ruleCache{entries: make(map[string]ruleEntry)}
}

func (c *ruleCache) get(route *model.UssdRoute) (*model.CompiledRules, error) {
	c.mu.RLock()
	e, ok := c.entries[route.ID]
	c.mu.RUnlock()
	if ok && e.version.Equal(route.UpdatedAt) {
		return e.rules, nil
	}

	rules, err := model.CompileRules(route)
	if err != nil {
		return nil, err
	}
	c.store(route, rules)
	return rules, nil
}

func (c *ruleCache) store(route *model.UssdRoute, rules *model.CompiledRules) {
	c.mu.Lock()
	c.entries[route.ID] = ruleEntry{version: route.UpdatedAt, rules: rules}
	c.mu.Unlock()
}

// RoutePatch carries the fields UpdateRoute changes. Nil fields are left as they are.
type RoutePatch struct {
	Code               *string
	Name               *string
	Description        *string
	DialTemplate       *string
	ProcessingMode     *model.ProcessingMode
	ExpectedResponses  *[]model.ExpectedResponse
	ExtractionPatterns *[]model.ExtractionPattern
	RequiredStepCount  *int
	Status             *model.RouteStatus
	IsActive           *bool
	MetaData           map[string]interface{}
}

func (p RoutePatch) apply(r *model.UssdRoute) {
	if p.Code != nil {
		r.Code = *p.Code
	}
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.DialTemplate != nil {
		r.DialTemplate = *p.DialTemplate
	}
	if p.ProcessingMode != nil {
		r.ProcessingMode = *p.ProcessingMode
	}
	if p.ExpectedResponses != nil {
		r.ExpectedResponses = *p.ExpectedResponses
	}
	if p.ExtractionPatterns != nil {
		r.ExtractionPatterns = *p.ExtractionPatterns
	}
	if p.RequiredStepCount != nil {
		r.RequiredStepCount = *p.RequiredStepCount
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	if p.MetaData != nil {
		r.MetaData = p.MetaData
	}
}

func validateRoute(r *model.UssdRoute) (*model.CompiledRules, error) {
	r.Code = strings.TrimSpace(r.Code)
	switch {
	case r.Code == "":
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "route code is required", nil)
	case strings.TrimSpace(r.DialTemplate) == "":
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "ussd string is required", nil)
	case r.ProcessingMode != model.ProcessingExpress && r.ProcessingMode != model.ProcessingAdvanced:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown processing mode '%s'", r.ProcessingMode), nil)
	case r.RequiredStepCount < 0:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "required step count cannot be negative", nil)
	}
	switch r.Status {
	case model.RouteActive, model.RouteDegraded, model.RouteFailed, model.RouteInactive:
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown route status '%s'", r.Status), nil)
	}

	rules, err := model.CompileRules(r)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	return rules, nil
}

// CreateRoute registers a new route. Patterns are compiled up front, so a route
// with an invalid expression is rejected here rather than at execution time.
func (b *Bingwa) CreateRoute(ctx context.Context, route *model.UssdRoute) (*model.UssdRoute, error) {
	ctx, span := tracer.Start(ctx, "CreateRoute")
	defer span.End()

	if route.ProcessingMode == "" {
		route.ProcessingMode = model.ProcessingExpress
	}
	route.ID = model.GenerateUUIDWithSuffix("route")
	route.Status = model.RouteActive
	route.IsActive = true
	route.SuccessCount, route.FailureCount, route.AnomalyCount = 0, 0, 0
	route.SuccessRate = model.SuccessRate(0, 0)
	route.AverageResponseTimeMs = nil

	rules, err := validateRoute(route)
	if err != nil {
		return nil, err
	}
	if err := b.datasource.CreateRoute(ctx, route); err != nil {
		return nil, err
	}
	b.rules.store(route, rules)
	return route, nil
}

func (b *Bingwa) GetRoute(ctx context.Context, id string) (*model.UssdRoute, error) {
	return b.datasource.GetRouteByID(ctx, id)
}

func (b *Bingwa) GetRouteByCode(ctx context.Context, code string) (*model.UssdRoute, error) {
	return b.datasource.GetRouteByCode(ctx, code)
}

func (b *Bingwa) ListRoutes(ctx context.Context) ([]model.UssdRoute, error) {
	return b.datasource.GetAllRoutes(ctx)
}

// UpdateRoute applies patch to the route's definition. Statistics are not editable.
func (b *Bingwa) UpdateRoute(ctx context.Context, id string, patch RoutePatch) (*model.UssdRoute, error) {
	ctx, span := tracer.Start(ctx, "UpdateRoute")
	defer span.End()

	route, err := b.datasource.GetRouteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.apply(route)

	rules, err := validateRoute(route)
	if err != nil {
		return nil, err
	}
	if err := b.datasource.UpdateRoute(ctx, route, patch.Status); err != nil {
		return nil, err
	}
	b.rules.store(route, rules)
	return route, nil
}

// ToggleRoute flips the administrative isActive flag. Routes are never deleted;
// deactivation is how a route is retired.
func (b *Bingwa) ToggleRoute(ctx context.Context, id string) (*model.UssdRoute, error) {
	route, err := b.datasource.GetRouteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	active := !route.IsActive
	return b.UpdateRoute(ctx, id, RoutePatch{IsActive: &active})
}
