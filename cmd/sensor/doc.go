// Package main runs a small Gin application instrumented by the sensor.
//
// Every inbound request opens an http-server entry span; /fetch makes a
// traced outbound call. Traces are delivered to the host agent found through
// the INSTANA_* environment variables.
//
// Configuration:
//   - Environment variables (INSTANA_AGENT_HOST, INSTANA_AGENT_PORT, ...)
//   - CLI flags for the demo listener and the status server
//
// Usage:
//
//	# Report to a local agent
//	./sensor -addr :8080
//
//	# Expose queued traces and metrics on 127.0.0.1:16816
//	INSTANA_DEBUG=true ./sensor -status
//
//	# Keep traces in memory without an agent
//	INSTANA_TEST=1 ./sensor -status
package main
