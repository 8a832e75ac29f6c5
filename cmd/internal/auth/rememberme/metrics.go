package rememberme

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the remember-me counters. A nil *Metrics records nothing.
type Metrics struct {
	verifications   *prometheus.CounterVec
	issued          *prometheus.CounterVec
	swept           prometheus.Counter
	revoked         *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg (nil means unregistered).
// Registering twice on the same registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rememberme_verifications_total",
			Help: "Remember-me cookie verifications by outcome and internal reason.",
		}, []string{"outcome", "reason"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rememberme_tokens_issued_total",
			Help: "Remember-me tokens written, by kind (fresh or rotated).",
		}, []string{"kind"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rememberme_tokens_swept_total",
			Help: "Expired remember-me rows removed by lazy sweeps.",
		}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rememberme_tokens_revoked_total",
			Help: "Remember-me rows deleted, by reason.",
		}, []string{"reason"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rememberme_persist_failures_total",
			Help: "Remember-me storage failures, by operation.",
		}, []string{"op"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.verifications, err = register(reg, m.verifications); err != nil {
		return nil, err
	}
	if m.issued, err = register(reg, m.issued); err != nil {
		return nil, err
	}
	if m.swept, err = register(reg, m.swept); err != nil {
		return nil, err
	}
	if m.revoked, err = register(reg, m.revoked); err != nil {
		return nil, err
	}
	if m.persistFailures, err = register(reg, m.persistFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) verified(outcome Outcome, reason Reason) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome.String(), string(reason)).Inc()
}

func (m *Metrics) issuedToken(kind string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(kind).Inc()
}

func (m *Metrics) sweptRows(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

func (m *Metrics) revokedRows(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) persistFailed(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}
