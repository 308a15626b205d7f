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

// Package metrics provides Prometheus metrics for payments, USSD routes and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bingwa"

var (
	// PaymentsInitiated counts push payments by outcome of the initiate call.
	PaymentsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_initiated_total",
			Help:      "Total number of push payments initiated by status",
		},
		[]string{"status"},
	)

	// PaymentsReconciled counts processed payment callbacks by outcome.
	PaymentsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_reconciled_total",
			Help:      "Total number of payment callbacks processed by outcome",
		},
		[]string{"outcome"},
	)

	WalletCredits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_credits_total",
			Help:      "Total number of wallet credit attempts by status",
		},
		[]string{"status"},
	)

	UssdSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ussd_steps_total",
			Help:      "Total number of USSD steps executed by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	UssdStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ussd_step_duration_seconds",
			Help:      "Duration of USSD gateway round trips in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route"},
	)

	UssdAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ussd_anomalies_total",
			Help:      "Total number of USSD response anomalies by route",
		},
		[]string{"route"},
	)

	// RouteSuccessRate is the last computed success rate per route, 0-100.
	RouteSuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "route_success_rate",
			Help:      "Success rate of each USSD route in percent",
		},
		[]string{"route"},
	)

	// HealthStatus is 0 for green, 1 for yellow and 2 for red.
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "Aggregate USSD health: 0 green, 1 yellow, 2 red",
		},
	)
)
