// Package metrics provides Prometheus metrics for the Z-Wave broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BrokerConnections tracks currently registered gateway clients
	BrokerConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graylogic_zwave_broker_connections",
		Help: "Number of gateway clients in the active set",
	})

	// BrokerConnects counts CONNECT handshakes by result
	BrokerConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_broker_connects_total",
		Help: "Total CONNECT handshakes by result",
	}, []string{"result"})

	// BrokerPacketsReceived counts inbound packets by type
	BrokerPacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_broker_packets_received_total",
		Help: "Total MQTT packets received by type",
	}, []string{"type"})

	// BrokerPacketsSent counts outbound packets by type
	BrokerPacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_broker_packets_sent_total",
		Help: "Total MQTT packets sent by type",
	}, []string{"type"})

	// BrokerPublishAcks counts PUBACKs sent by result
	BrokerPublishAcks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_broker_publish_acks_total",
		Help: "Total PUBACKs sent for inbound publishes by result",
	}, []string{"result"})

	// DiscoveryMessages counts discovery messages by outcome
	DiscoveryMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_discovery_messages_total",
		Help: "Total discovery messages processed by outcome",
	}, []string{"outcome"})

	// StateMessages counts state messages by result
	StateMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_state_messages_total",
		Help: "Total state messages processed by result",
	}, []string{"result"})

	// Commands counts host commands by result
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_commands_total",
		Help: "Total host commands dispatched by result",
	}, []string{"result"})

	// HistoryWrites counts entity history writes to InfluxDB by result
	HistoryWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_history_writes_total",
		Help: "Total entity history writes by result",
	}, []string{"result"})

	// UplinkDropped counts registry events the uplink discarded on a full queue
	UplinkDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graylogic_zwave_uplink_dropped_total",
		Help: "Total entity events dropped by the uplink because its queue was full",
	})

	// StateApplyDuration tracks how long applying one state message takes
	StateApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graylogic_zwave_state_apply_duration_seconds",
		Help:    "Duration of state message application in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// APIRequests counts HTTP API requests by route and status class
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graylogic_zwave_api_requests_total",
		Help: "Total HTTP API requests",
	}, []string{"method", "status"})
)
