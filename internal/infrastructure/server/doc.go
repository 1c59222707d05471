/*
Package server provides the sensor's optional local status endpoint.

	GET    /health   agent readiness and counters
	GET    /metrics  Prometheus exposition
	GET    /traces   traces waiting for delivery
	DELETE /traces   discard queued traces

It is off by default and meant for operators and adapter test suites.
*/
package server
