package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for gateway traffic and persistence.
var (
	SMSReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smsgate_sms_received_total",
			Help: "Total number of SMS parts received from modems",
		},
	)

	SMSSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smsgate_sms_sent_total",
			Help: "Total number of SMS accepted for sending",
		},
	)

	USSDSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smsgate_ussd_sent_total",
			Help: "Total number of USSD codes sent",
		},
	)

	EventsStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsgate_events_stored_total",
			Help: "Total number of events appended to the event store",
		},
		[]string{"type"},
	)

	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsgate_rpc_requests_total",
			Help: "Total number of RPC requests by method",
		},
		[]string{"method"},
	)

	RPCUnauthorizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smsgate_rpc_unauthorized_total",
			Help: "Total number of RPC requests rejected for a bad token",
		},
	)

	RPCRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smsgate_rpc_request_duration_seconds",
			Help:    "Duration of RPC request handling",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(SMSReceivedTotal)
		prometheus.MustRegister(SMSSentTotal)
		prometheus.MustRegister(USSDSentTotal)
		prometheus.MustRegister(EventsStoredTotal)
		prometheus.MustRegister(RPCRequestsTotal)
		prometheus.MustRegister(RPCUnauthorizedTotal)
		prometheus.MustRegister(RPCRequestDuration)
	})
}
