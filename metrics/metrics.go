// Package metrics defines prometheus collectors for the node.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridemesh"

// ProcessedMessages counts inbound broadcast messages by topic and result
// (accepted, duplicate, malformed, ignored).
var ProcessedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "processed_messages_total",
	Help:      "Inbound broadcast messages by topic and processing result.",
}, []string{"topic", "result"})

// Results for ProcessedMessages.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultMalformed = "malformed"
	ResultIgnored   = "ignored"
)

// PeerDials counts discovery dial attempts by outcome.
var PeerDials = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "peer_dials_total",
	Help:      "Peer dial attempts from the discovery loop by outcome.",
}, []string{"outcome"})

// Outcomes for PeerDials.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// DirectSendFailures counts failed point-to-point deliveries by protocol.
var DirectSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "direct_send_failures_total",
	Help:      "Failed direct stream deliveries by protocol.",
}, []string{"protocol"})

// ArchivalResults counts ride receipt archival attempts by outcome.
var ArchivalResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "archival_results_total",
	Help:      "Ride receipt archival attempts by outcome.",
}, []string{"outcome"})
