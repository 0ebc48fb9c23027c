// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cart_agent"

var (
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_messages_total",
		Help:      "Inbound chat messages by pipeline outcome.",
	}, []string{"outcome"})

	IdentityResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identity_resolutions_total",
		Help:      "Identity resolutions by the step that produced the result.",
	}, []string{"source"})

	BufferFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_flushes_total",
		Help:      "Debounced inbound bursts handed to the conversation engine.",
	})

	BufferedFragments = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "buffer_fragments",
		Help:      "Fragments collapsed into one logical turn.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13},
	})

	ResponderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "responder_fallbacks_total",
		Help:      "Turns answered with the fixed fallback text.",
	})

	OutboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_sends_total",
		Help:      "Outbound transport sends by kind and result.",
	}, []string{"kind", "result"})

	Campaigns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "campaigns_total",
		Help:      "Commerce events by intake outcome.",
	}, []string{"outcome"})

	StorePersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_persist_errors_total",
		Help:      "Snapshot writes that failed.",
	})
)
