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

import "errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidPhone           = errors.New("invalid phone number")
	ErrGatewayAuth            = errors.New("payment gateway authentication failed")
	ErrGatewayRejected        = errors.New("payment gateway rejected the request")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrPaymentNotFound        = errors.New("payment attempt not found")
	ErrRouteNotFound          = errors.New("ussd route not found")
	ErrRouteUnavailable       = errors.New("ussd route unavailable")
	ErrRouteExists            = errors.New("ussd route already exists")
	ErrSessionNotFound        = errors.New("ussd session not found")
	ErrSessionAlreadyTerminal = errors.New("ussd session already terminal")
	ErrInvalidAction          = errors.New("invalid ussd action")
	ErrAnomalyNotFound        = errors.New("anomaly not found")
	ErrAnomalyResolved        = errors.New("anomaly already resolved")
	ErrSimulationDisabled     = errors.New("callback simulation is only available in the sandbox")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrStaleWrite             = errors.New("record was modified concurrently")
)
