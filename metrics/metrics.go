/*
 * skvalp metrics
 *
 * Copyright (c) 2024 Telenor Norge AS
 * Author(s):
 *  - Kristian Lyngstøl <kly@kly.no>
 *
 * This library is free software; you can redistribute it and/or
 * modify it under the terms of the GNU Lesser General Public
 * License as published by the Free Software Foundation; either
 * version 2.1 of the License, or (at your option) any later version.
 *
 * This library is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
 * Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public
 * License along with this library; if not, write to the Free Software
 * Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA
 * 02110-1301  USA
 */

// Package metrics holds the prometheus instruments for the poller itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hosts counts finished host workers by operation (get, walk,
	// inherited) and result (ok, failed, skipped).
	Hosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skvalp",
		Name:      "hosts_total",
		Help:      "Host workers finished, by operation and result.",
	}, []string{"operation", "result"})

	Records = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skvalp",
		Name:      "records_sent_total",
		Help:      "Records handed to a sink.",
	}, []string{"sink"})

	SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skvalp",
		Name:      "sink_failures_total",
		Help:      "Records a sink failed to deliver.",
	}, []string{"sink"})

	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "skvalp",
		Name:      "open_sessions",
		Help:      "SNMP sessions currently open.",
	})

	Duration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "skvalp",
		Name:      "operation_duration_seconds",
		Help:      "Time to complete a whole operation over all hosts.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"operation"})
)
