/*
Package monitoring provides the sensor's self-monitoring metrics.

# Overview

The sensor reports on itself through Prometheus: how many spans it records,
how full the delivery queue is, how many traces it had to drop and how the
host agent connection behaves.

# Usage

	// Create metrics against a registry
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	// Time a delivery
	timer := monitoring.NewTimer(metrics)
	err := backend.ReportTraces(ctx, spans)
	timer.Stop(len(spans), err)

	// Count status server requests
	router.Use(monitoring.Middleware(metrics))

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
*/
package monitoring
