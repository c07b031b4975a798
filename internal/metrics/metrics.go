package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for the claim/redeem flow
type Metrics struct {
	ClaimsIssued      prometheus.Counter
	ClaimsDenied      *prometheus.CounterVec
	Redemptions       *prometheus.CounterVec
	RedemptionsFailed *prometheus.CounterVec
	BurnedWithoutKey  prometheus.Counter
	KeysGenerated     *prometheus.CounterVec
	ValidationsTotal  *prometheus.CounterVec
}

// New registers and returns the metrics on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClaimsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyserver_claims_issued_total",
			Help: "Total number of claim tokens issued",
		}),
		ClaimsDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyserver_claims_denied_total",
			Help: "Total number of claim requests denied by rate limiting",
		}, []string{"scope"}),
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyserver_redemptions_total",
			Help: "Total number of successful key redemptions",
		}, []string{"type"}),
		RedemptionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyserver_redemptions_failed_total",
			Help: "Total number of failed redemption attempts",
		}, []string{"reason"}),
		BurnedWithoutKey: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyserver_tokens_burned_without_key_total",
			Help: "Tokens consumed with no key left to grant; each one is a user owed a key",
		}),
		KeysGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyserver_keys_generated_total",
			Help: "Total number of keys generated by administrators",
		}, []string{"type"}),
		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyserver_validations_total",
			Help: "Total number of direct key validation requests",
		}, []string{"result"}),
	}
}

// NewDefault registers on the default prometheus registry
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
