/*
Package agent connects the sensor to the host agent running next to it.

# Overview

The Agent facade owns a discovery.Cell and two observers:

  - ActivationObserver reacts to the cell becoming empty. It looks the agent
    up (configured host first, default gateway second), announces the
    process, waits for the agent to accept data and publishes the result.
  - ReportingObserver reacts to a published state by reporting a runtime
    snapshot at a fixed interval. Three failed reports in a row empty the
    cell again, which makes the process announce itself anew.

Lookup, announce and readiness checks are retried with exponential backoff
until they succeed or the agent is shut down. Trace delivery is never
retried.

# Usage

	a := agent.New(agent.Config{Host: "127.0.0.1", Port: 42699}, logger)
	a.Setup()
	a.SpawnBackground()
	defer a.Shutdown(ctx)

	if a.Ready() {
		err := a.ReportTraces(ctx, spans)
	}

When Config.TestMode is set, Ready always reports true and no discovery
happens.
*/
package agent
