// Package metrics provides Prometheus metrics for authentication operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token operation labels.
const (
	OpIssued  = "issued"
	OpRotated = "rotated"
	OpRevoked = "revoked"
)

// Metrics holds the counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	authAttempts      *prometheus.CounterVec
	tokens            *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	identitiesCreated *prometheus.CounterVec
	indexConflicts    *prometheus.CounterVec
}

// New creates and registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		authAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_auth_attempts_total",
			Help: "Authentication attempts by method and result",
		}, []string{"method", "result"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_tokens_total",
			Help: "Token pair operations",
		}, []string{"op"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_token_verifications_total",
			Help: "Access token verifications by result",
		}, []string{"result"}),
		identitiesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_identities_created_total",
			Help: "Identities created by first method",
		}, []string{"method"}),
		indexConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_index_conflicts_total",
			Help: "Lost index claims by index",
		}, []string{"index"}),
	}
}

func (m *Metrics) AuthAttempt(method, result string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(method, result).Inc()
}

func (m *Metrics) TokenOp(op string) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(op).Inc()
}

func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IdentityCreated(method string) {
	if m == nil {
		return
	}
	m.identitiesCreated.WithLabelValues(method).Inc()
}

func (m *Metrics) IndexConflict(index string) {
	if m == nil {
		return
	}
	m.indexConflicts.WithLabelValues(index).Inc()
}
