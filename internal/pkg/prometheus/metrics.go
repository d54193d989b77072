package prometheus

import "github.com/prometheus/client_golang/prometheus"

const namespace = "kahlabot"

var (
	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "frames_received_total",
		Help:      "Frames received on the event channel.",
	})

	// FramesDropped counts frames discarded by the dispatcher, labelled by reason.
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped before reaching the bot policy.",
	}, []string{"reason"})

	DecryptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "decrypt_failures_total",
		Help:      "Inbound messages whose payload could not be decrypted.",
	})

	Handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "handshakes_total",
		Help:      "Handshake sequences by result.",
	}, []string{"result"})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "reconnects_total",
		Help:      "Reconnects triggered by channel disconnection.",
	})

	ChannelOpens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "opens_total",
		Help:      "Event channels opened.",
	})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "kahla",
		Name:      "messages_sent_total",
		Help:      "Outbound messages by result.",
	}, []string{"result"})
)
