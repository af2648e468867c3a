// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package redisauth

import (
	"github.com/mochi-mqtt/auth-redis/acl"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultDenied  = "denied"
	resultInvalid = "invalid"
	resultError   = "error"
	resultAllow   = "allow"
	resultDeny    = "deny"
)

// Metrics counts authentication and authorization decisions. A nil *Metrics
// records nothing.
type Metrics struct {
	Authentications *prometheus.CounterVec // by result
	Authorizations  *prometheus.CounterVec // by operation and result
	StoreErrors     prometheus.Counter
}

// NewMetrics creates the decision counters and registers them with reg, if
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mochi",
			Subsystem: "auth",
			Name:      "authentications_total",
			Help:      "Authentication attempts by result.",
		}, []string{"result"}),
		Authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mochi",
			Subsystem: "auth",
			Name:      "authorizations_total",
			Help:      "Publish and subscribe authorization checks by operation and result.",
		}, []string{"operation", "result"}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mochi",
			Subsystem: "auth",
			Name:      "store_errors_total",
			Help:      "Credential store fetches which failed or timed out.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.Authentications, m.Authorizations, m.StoreErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) authenticated(result string) {
	if m == nil {
		return
	}

	m.Authentications.WithLabelValues(result).Inc()
}

func (m *Metrics) authorized(op acl.Operation, ok bool) {
	if m == nil {
		return
	}

	result := resultDeny
	if ok {
		result = resultAllow
	}

	m.Authorizations.WithLabelValues(op.String(), result).Inc()
}

func (m *Metrics) storeError() {
	if m == nil {
		return
	}

	m.StoreErrors.Inc()
}
