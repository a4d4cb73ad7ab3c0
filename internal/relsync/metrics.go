package relsync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/simplesurance/relsync/internal/logfields"
)

const metricNamespace = "relsync"

const metricsJobName = "relsync"

const (
	issuesMatchedMetricName  = "issues_matched_count"
	issuesUpdatedMetricName  = "issues_updated_count"
	lastRunTimestampName     = "last_run_timestamp_seconds"
	lastRunSuccessMetricName = "last_run_success"
)

// MetricsPusher publishes the outcome of a run to a Prometheus Pushgateway.
// A nil MetricsPusher is valid, its methods do nothing.
type MetricsPusher struct {
	logger *zap.Logger
	pusher *push.Pusher

	issuesMatched    prometheus.Gauge
	issuesUpdated    prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
	lastRunSuccess   prometheus.Gauge
}

// NewMetricsPusher returns a MetricsPusher that pushes to the Pushgateway at
// gatewayURL.
func NewMetricsPusher(gatewayURL string) *MetricsPusher {
	registry := prometheus.NewRegistry()

	m := MetricsPusher{
		logger: zap.L().Named(loggerName).Named("metrics"),
		issuesMatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      issuesMatchedMetricName,
			Help:      "count of jira issues in pending state that matched the release",
		}),
		issuesUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      issuesUpdatedMetricName,
			Help:      "count of jira issues that were updated in the last run",
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      lastRunTimestampName,
			Help:      "unix timestamp of the last completed run",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      lastRunSuccessMetricName,
			Help:      "1 if the last run completed without errors, 0 otherwise",
		}),
	}

	registry.MustRegister(
		m.issuesMatched,
		m.issuesUpdated,
		m.lastRunTimestamp,
		m.lastRunSuccess,
	)

	m.pusher = push.New(gatewayURL, metricsJobName).Gatherer(registry)

	return &m
}

// RecordRun records the outcome of a run and pushes all metrics.
// Push failures are logged, they do not fail the run.
func (m *MetricsPusher) RecordRun(matched, updated int, success bool) {
	if m == nil {
		return
	}

	m.issuesMatched.Set(float64(matched))
	m.issuesUpdated.Set(float64(updated))
	m.lastRunTimestamp.Set(float64(time.Now().Unix()))

	if success {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}

	if err := m.pusher.Push(); err != nil {
		m.logger.Warn(
			"pushing metrics to pushgateway failed",
			logfields.Event("metrics_push_failed"),
			zap.Error(err),
		)
	}
}
