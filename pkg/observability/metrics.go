// Copyright 2025 Kadir Pekel
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

// Package observability exposes the agent's runtime metrics and a small
// debug HTTP server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the agent does. All methods are safe on a nil
// receiver so callers may leave metrics unconfigured.
type Metrics struct {
	eventsSent         *prometheus.CounterVec
	envelopesPublished prometheus.Counter
	framesReceived     *prometheus.CounterVec
	reconnects         prometheus.Counter
	runningActors      prometheus.Gauge
	outboundQueueBytes prometheus.Gauge
	replayDropped      prometheus.Counter
}

// NewMetrics registers the agent's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rekuest",
			Name:      "events_sent_total",
			Help:      "Assignment events sent to the server, by kind.",
		}, []string{"kind"}),
		envelopesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rekuest",
			Name:      "envelopes_published_total",
			Help:      "State envelopes published to the server.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rekuest",
			Name:      "frames_received_total",
			Help:      "Inbound frames, by type.",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rekuest",
			Name:      "reconnects_total",
			Help:      "Sessions re-established after a connection loss.",
		}),
		runningActors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rekuest",
			Name:      "running_actors",
			Help:      "Assignments currently executing.",
		}),
		outboundQueueBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rekuest",
			Name:      "outbound_queue_bytes",
			Help:      "Bytes waiting in the outbound queue.",
		}),
		replayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rekuest",
			Name:      "replay_dropped_total",
			Help:      "Terminal events evicted from the replay buffer.",
		}),
	}
	reg.MustRegister(
		m.eventsSent,
		m.envelopesPublished,
		m.framesReceived,
		m.reconnects,
		m.runningActors,
		m.outboundQueueBytes,
		m.replayDropped,
	)
	return m
}

// EventSent counts one outbound assignment event.
func (m *Metrics) EventSent(kind string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(kind).Inc()
}

// EnvelopePublished counts one outbound state envelope.
func (m *Metrics) EnvelopePublished() {
	if m == nil {
		return
	}
	m.envelopesPublished.Inc()
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

// Reconnected counts one re-established session.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ActorStarted tracks the running-actor gauge up.
func (m *Metrics) ActorStarted() {
	if m == nil {
		return
	}
	m.runningActors.Inc()
}

// ActorFinished tracks the running-actor gauge down.
func (m *Metrics) ActorFinished() {
	if m == nil {
		return
	}
	m.runningActors.Dec()
}

// QueueBytes reports the outbound queue depth.
func (m *Metrics) QueueBytes(n int) {
	if m == nil {
		return
	}
	m.outboundQueueBytes.Set(float64(n))
}

// ReplayDropped counts one evicted replay entry.
func (m *Metrics) ReplayDropped() {
	if m == nil {
		return
	}
	m.replayDropped.Inc()
}
