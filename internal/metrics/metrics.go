// Package metrics provides Prometheus metrics for the reconnect supervisor,
// the pixel engine and the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "noded",
		Subsystem: "wifi",
		Name:      "connect_attempts_total",
		Help:      "Connect requests issued by the reconnect supervisor",
	})

	connectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noded",
		Subsystem: "wifi",
		Name:      "connect_failures_total",
		Help:      "Connect attempts that did not produce an address",
	}, []string{"reason"})

	linkUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "noded",
		Subsystem: "wifi",
		Name:      "link_up",
		Help:      "1 while the station holds an address",
	})

	consecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "noded",
		Subsystem: "wifi",
		Name:      "consecutive_failures",
		Help:      "Failed attempts since the last acquired address",
	})

	animations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noded",
		Subsystem: "pixel",
		Name:      "animations_total",
		Help:      "Animations started, by style",
	}, []string{"style"})

	events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noded",
		Subsystem: "eventbus",
		Name:      "events_total",
		Help:      "Events published on the bus, by type",
	}, []string{"type"})
)

// RecordConnectAttempt counts one connect request.
func RecordConnectAttempt() {
	connectAttempts.Inc()
}

// RecordConnectFailure counts a failed attempt and sets the failure streak.
func RecordConnectFailure(reason string, streak int) {
	connectFailures.WithLabelValues(reason).Inc()
	consecutiveFailures.Set(float64(streak))
}

// SetLinkUp records the link state. An acquired address resets the streak.
func SetLinkUp(up bool) {
	if up {
		linkUp.Set(1)
		consecutiveFailures.Set(0)
		return
	}
	linkUp.Set(0)
}

// RecordAnimation counts a started animation.
func RecordAnimation(style string) {
	animations.WithLabelValues(style).Inc()
}

// RecordEvent counts a published bus event.
func RecordEvent(eventType string) {
	events.WithLabelValues(eventType).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
