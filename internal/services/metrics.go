// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	servicesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "powerd_services_running",
			Help: "Number of supervised services currently running.",
		},
	)

	serviceRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerd_service_restarts_total",
			Help: "Total number of service restarts, by service.",
		},
		[]string{"service"},
	)

	serviceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerd_service_failures_total",
			Help: "Total number of service failures, by service and reason.",
		},
		[]string{"service", "reason"},
	)
)

// recordRestart increments the restart counter for a service.
func recordRestart(service string) {
	serviceRestartsTotal.WithLabelValues(service).Inc()
}

// recordFailure increments the failure counter for a service.
func recordFailure(service, reason string) {
	serviceFailuresTotal.WithLabelValues(service, reason).Inc()
}
