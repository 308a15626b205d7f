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

import "github.com/bingwapro/bingwa/model"

// Sentinel errors returned (wrapped) by the service. Match with errors.Is.
var (
	ErrInvalidAmount          = model.ErrInvalidAmount
	ErrInvalidPhone           = model.ErrInvalidPhone
	ErrGatewayAuth            = model.ErrGatewayAuth
	ErrGatewayRejected        = model.ErrGatewayRejected
	ErrGatewayUnavailable     = model.ErrGatewayUnavailable
	ErrPaymentNotFound        = model.ErrPaymentNotFound
	ErrRouteNotFound          = model.ErrRouteNotFound
	ErrRouteUnavailable       = model.ErrRouteUnavailable
	ErrRouteExists            = model.ErrRouteExists
	ErrSessionNotFound        = model.ErrSessionNotFound
	ErrSessionAlreadyTerminal = model.ErrSessionAlreadyTerminal
	ErrInvalidAction          = model.ErrInvalidAction
	ErrAnomalyNotFound        = model.ErrAnomalyNotFound
	ErrAnomalyResolved        = model.ErrAnomalyResolved
	ErrSimulationDisabled     = model.ErrSimulationDisabled
	ErrWalletNotFound         = model.ErrWalletNotFound
	ErrInsufficientFunds      = model.ErrInsufficientFunds
)
