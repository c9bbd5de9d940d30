// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the playout engine:
// - tick loop timing and mutex contention
// - event dispatch per channel and device
// - action and job queue health
// - device and plugin lifecycle
// - feed, as-run, and scanner throughput

var (
	// Tick Loop Metrics
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "tarantula_tick_duration_seconds",
			Help: "Duration of engine ticks in seconds",
			// A 25fps frame is 40ms; overruns land in the top buckets.
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.08, 0.2, 1},
		},
	)

	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_ticks_skipped_total",
			Help: "Ticks skipped because the engine mutex was not acquired in time",
		},
	)

	TickOverruns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_tick_overruns_total",
			Help: "Ticks whose work exceeded the frame interval",
		},
	)

	// Event Dispatch Metrics
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantula_events_dispatched_total",
			Help: "Playlist events dispatched to devices",
		},
		[]string{"channel", "family", "device"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantula_events_skipped_total",
			Help: "Playlist events skipped instead of dispatched",
		},
		[]string{"channel", "reason"}, // "manual_hold", "device_missing", "dispatch_error"
	)

	// Action Queue Metrics
	ActionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tarantula_action_queue_depth",
			Help: "Pending event actions awaiting the tick thread",
		},
	)

	ActionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantula_actions_processed_total",
			Help: "Event actions drained from the action queue",
		},
		[]string{"kind", "status"}, // status: "complete", "failed"
	)

	// Async Job Metrics
	JobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tarantula_job_queue_depth",
			Help: "Jobs waiting for the async worker",
		},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantula_jobs_processed_total",
			Help: "Async jobs finished by the worker",
		},
		[]string{"status"}, // "complete", "failed"
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tarantula_job_duration_seconds",
			Help:    "Async job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Device Metrics
	DeviceStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tarantula_device_status",
			Help: "Device state (0=starting, 1=waiting, 2=ready, 3=crashed, 4=unload)",
		},
		[]string{"device", "family"},
	)

	DeviceCommandFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantula_device_command_failures_total",
			Help: "Device commands that failed to send or were rejected",
		},
		[]string{"device"},
	)

	DeviceLinkUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tarantula_device_link_up",
			Help: "Whether the device control connection is established (0 or 1)",
		},
		[]string{"device"},
	)

	PluginReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantula_plugin_reloads_total",
			Help: "Plugin reload attempts by the plugin supervisor",
		},
		[]string{"plugin"},
	)

	PluginUnloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_plugin_unloads_total",
			Help: "Plugins unloaded after exhausting reload credits",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tarantula_circuit_breaker_state",
			Help: "Device transport breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Feed Metrics
	FeedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantula_feed_messages_total",
			Help: "Messages published to the playout event feed",
		},
		[]string{"topic"},
	)

	FeedPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_feed_publish_errors_total",
			Help: "Feed publishes that returned an error",
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tarantula_websocket_connections",
			Help: "Current number of active WebSocket clients",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_websocket_messages_sent_total",
			Help: "Total WebSocket messages sent to clients",
		},
	)

	// As-Run Metrics
	AsRunWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_asrun_writes_total",
			Help: "Rows written to the as-run log",
		},
	)

	AsRunBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tarantula_asrun_batch_size",
			Help:    "Rows per as-run batch flush",
			Buckets: []float64{1, 4, 16, 64, 128, 256},
		},
	)

	AsRunErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_asrun_errors_total",
			Help: "As-run writes that failed",
		},
	)

	// Scanner Metrics
	ScannerFilesSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_scanner_files_seen_total",
			Help: "Files visited by scanner crawls",
		},
	)

	ScannerFilesProbed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_scanner_files_probed_total",
			Help: "Files probed for duration",
		},
	)

	ScannerProbeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tarantula_scanner_probe_errors_total",
			Help: "Probe invocations that failed",
		},
	)

	ScannerLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tarantula_scanner_last_run_timestamp",
			Help: "Unix timestamp of the last completed scan",
		},
	)

	// TCP Adapter Metrics
	TCPConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tarantula_tcp_connections",
			Help: "Current raw protocol connections",
		},
	)

	TCPCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarantula_tcp_commands_total",
			Help: "Raw protocol commands by reply status",
		},
		[]string{"status"}, // "200", "400", "500"
	)
)

// RecordTick records one tick's duration and flags overruns against the
// frame interval.
func RecordTick(duration, frame time.Duration) {
	TickDuration.Observe(duration.Seconds())
	if duration > frame {
		TickOverruns.Inc()
	}
}

// RecordDispatch counts a dispatched event.
func RecordDispatch(channel, family, device string) {
	EventsDispatched.WithLabelValues(channel, family, device).Inc()
}

// RecordSkip counts a skipped event.
func RecordSkip(channel, reason string) {
	EventsSkipped.WithLabelValues(channel, reason).Inc()
}

// RecordJob records a finished async job.
func RecordJob(status string, duration time.Duration) {
	JobsProcessed.WithLabelValues(status).Inc()
	JobDuration.Observe(duration.Seconds())
}

// SetDeviceStatus publishes a device's numeric state.
func SetDeviceStatus(device, family string, state int) {
	DeviceStatus.WithLabelValues(device, family).Set(float64(state))
}

// RecordAsRunBatch records one appender flush.
func RecordAsRunBatch(rows int) {
	AsRunWrites.Add(float64(rows))
	AsRunBatchSize.Observe(float64(rows))
}
