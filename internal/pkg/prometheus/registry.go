package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		FramesReceived,
		FramesDropped,
		DecryptFailures,
		Handshakes,
		Reconnects,
		ChannelOpens,
		MessagesSent,
	)
}

func GetRegistry() *prometheus.Registry {
	return registry
}
