/*
Package resilience provides the circuit breaker guarding calls to the host agent.

# Overview

When the agent stops answering, the sensor should not queue up requests
against it. The breaker counts failures and, once ReadyToTrip says so, rejects
calls until Timeout has passed. A limited number of probe calls are then let
through; enough successes close the breaker again.

# Usage

	breaker := resilience.New("host-agent", resilience.Settings{
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Info("breaker state changed", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	err := breaker.Do(func() error {
		return client.post(ctx, path, body)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
