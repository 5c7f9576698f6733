package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TokensIssuedTotal     prometheus.Counter
	TokensRevokedTotal    prometheus.Counter
	TokenValidationsTotal *prometheus.CounterVec
	AuthAttemptsTotal     *prometheus.CounterVec
)

// Init initializes and registers the gateway's custom Prometheus metrics.
// It should be called once at application startup. Passing a nil registerer
// creates the metrics without registering them (useful in tests).
func Init(reg prometheus.Registerer) {
	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcpgw_tokens_issued_total",
		Help: "Total number of access tokens issued.",
	})
	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcpgw_tokens_revoked_total",
		Help: "Total number of access tokens revoked.",
	})
	TokenValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpgw_token_validations_total",
		Help: "Token validation attempts by result.",
	}, []string{"result"})
	AuthAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpgw_auth_attempts_total",
		Help: "Authentication attempts by method and outcome.",
	}, []string{"method", "outcome"})

	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		TokensIssuedTotal,
		TokensRevokedTotal,
		TokenValidationsTotal,
		AuthAttemptsTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}

func init() {
	// Metrics are usable before Init wires them to a registry.
	Init(nil)
}
