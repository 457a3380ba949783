package bitcoind

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klingwallet",
		Subsystem: "bitcoind_rpc",
		Name:      "operations_total",
		Help:      "Count of bitcoind RPC operations.",
	}, []string{"operation", "network", "status"})
	rpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "klingwallet",
		Subsystem: "bitcoind_rpc",
		Name:      "operation_duration_seconds",
		Help:      "Duration of bitcoind RPC operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "network", "status"})
)

// RPCMetrics records metrics for RPC calls.
type RPCMetrics interface {
	Observe(operation string, err error, started time.Time)
}

// promMetrics labels every observation with the node's network.
type promMetrics struct {
	network string
}

// NewRPCMetrics returns the Prometheus recorder for a node on network.
func NewRPCMetrics(network string) RPCMetrics {
	if network == "" {
		network = "unknown"
	}
	return promMetrics{network: network}
}

// Observe records a single RPC call outcome and duration.
func (m promMetrics) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	rpcRequestsTotal.WithLabelValues(operation, m.network, status).Inc()
	rpcRequestDuration.WithLabelValues(operation, m.network, status).Observe(time.Since(started).Seconds())
}
