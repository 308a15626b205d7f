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
	"github.com/bingwapro/bingwa"
	"github.com/bingwapro/bingwa/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

type ExecuteUssd struct {
	Action         string  `json:"action"`
	RouteCode      string  `json:"route_code"`
	SessionID      string  `json:"session_id"`
	Input          string  `json:"input"`
	Amount         float64 `json:"amount"`
	ProductCode    string  `json:"product_code"`
	TransactionID  string  `json:"transaction_id"`
	AgentPhone     string  `json:"agent_phone"`
	CustomerPhone  string  `json:"customer_phone"`
	ProcessingMode string  `json:"processing_mode"`
}

func (e *ExecuteUssd) ValidateExecuteUssd() error {
	action, _ := model.ParseUssdAction(e.Action)
	return validation.ValidateStruct(e,
		validation.Field(&e.Action, validation.Required, validation.By(func(interface{}) error {
			if action == "" {
				return validation.NewError("validation_action", "must be one of initiate, respond or cancel")
			}
			return nil
		})),
		validation.Field(&e.RouteCode, validation.When(action == model.ActionInitiate, validation.Required)),
		validation.Field(&e.SessionID, validation.When(action == model.ActionRespond || action == model.ActionCancel, validation.Required)),
		validation.Field(&e.Amount, validation.Min(0.0)),
		validation.Field(&e.ProcessingMode, validation.In(string(model.ProcessingExpress), string(model.ProcessingAdvanced))),
	)
}

func (e *ExecuteUssd) ToRequest(agentID string) bingwa.ExecuteUssdRequest {
	return bingwa.ExecuteUssdRequest{
		Action:         e.Action,
		RouteCode:      e.RouteCode,
		AgentID:        agentID,
		AgentPhone:     e.AgentPhone,
		CustomerPhone:  e.CustomerPhone,
		SessionID:      e.SessionID,
		Input:          e.Input,
		Amount:         decimal.NewFromFloat(e.Amount),
		ProductCode:    e.ProductCode,
		TransactionID:  e.TransactionID,
		ProcessingMode: model.ProcessingMode(e.ProcessingMode),
	}
}

type CreateRoute struct {
	Code               string                    `json:"code"`
	Name               string                    `json:"name"`
	Description        string                    `json:"description"`
	UssdString         string                    `json:"ussd_string"`
	ProcessingMode     string                    `json:"processing_mode"`
	ExpectedResponses  []model.ExpectedResponse  `json:"expected_responses"`
	ExtractionPatterns []model.ExtractionPattern `json:"extraction_patterns"`
	RequiredStepCount  int                       `json:"required_step_count"`
	MetaData           map[string]interface{}    `json:"meta_data"`
}

func (r *CreateRoute) ValidateCreateRoute() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Code, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.UssdString, validation.Required),
		validation.Field(&r.ProcessingMode, validation.In(string(model.ProcessingExpress), string(model.ProcessingAdvanced))),
		validation.Field(&r.RequiredStepCount, validation.Min(0)),
	)
}

func (r *CreateRoute) ToRoute() *model.UssdRoute {
	return &model.UssdRoute{
		Code:               r.Code,
		Name:               r.Name,
		Description:        r.Description,
		DialTemplate:       r.UssdString,
		ProcessingMode:     model.ProcessingMode(r.ProcessingMode),
		ExpectedResponses:  r.ExpectedResponses,
		ExtractionPatterns: r.ExtractionPatterns,
		RequiredStepCount:  r.RequiredStepCount,
		MetaData:           r.MetaData,
	}
}

// UpdateRoute carries only the fields being changed.
type UpdateRoute struct {
	Code               *string                    `json:"code"`
	Name               *string                    `json:"name"`
	Description        *string                    `json:"description"`
	UssdString         *string                    `json:"ussd_string"`
	ProcessingMode     *string                    `json:"processing_mode"`
	ExpectedResponses  *[]model.ExpectedResponse  `json:"expected_responses"`
	ExtractionPatterns *[]model.ExtractionPattern `json:"extraction_patterns"`
	RequiredStepCount  *int                       `json:"required_step_count"`
	Status             *string                    `json:"status"`
	IsActive           *bool                      `json:"is_active"`
	MetaData           map[string]interface{}     `json:"meta_data"`
}

func (r *UpdateRoute) ValidateUpdateRoute() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Code, validation.NilOrNotEmpty),
		validation.Field(&r.UssdString, validation.NilOrNotEmpty),
		validation.Field(&r.ProcessingMode, validation.NilOrNotEmpty, validation.In(string(model.ProcessingExpress), string(model.ProcessingAdvanced))),
		validation.Field(&r.Status, validation.NilOrNotEmpty, validation.In(
			string(model.RouteActive), string(model.RouteDegraded), string(model.RouteFailed), string(model.RouteInactive))),
		validation.Field(&r.RequiredStepCount, validation.Min(0)),
	)
}

func (r *UpdateRoute) ToPatch() bingwa.RoutePatch {
	patch := bingwa.RoutePatch{
		Code:               r.Code,
		Name:               r.Name,
		Description:        r.Description,
		DialTemplate:       r.UssdString,
		ExpectedResponses:  r.ExpectedResponses,
		ExtractionPatterns: r.ExtractionPatterns,
		RequiredStepCount:  r.RequiredStepCount,
		IsActive:           r.IsActive,
		MetaData:           r.MetaData,
	}
	if r.ProcessingMode != nil {
		mode := model.ProcessingMode(*r.ProcessingMode)
		patch.ProcessingMode = &mode
	}
	if r.Status != nil {
		status := model.RouteStatus(*r.Status)
		patch.Status = &status
	}
	return patch
}

type ResolveAnomaly struct {
	Notes      string `json:"notes"`
	ResolvedBy string `json:"resolved_by"`
}

func (r *ResolveAnomaly) ValidateResolveAnomaly() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ResolvedBy, validation.Required),
	)
}

type UpdateAnomalyStatus struct {
	Status string `json:"status"`
}

func (r *UpdateAnomalyStatus) ValidateUpdateAnomalyStatus() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Status, validation.Required, validation.In(
			string(model.AnomalyDetected), string(model.AnomalyInvestigating), string(model.AnomalyIgnored))),
	)
}
