/*
Package processor queues completed traces and delivers them to the host agent.

# Overview

The tracer hands every closed trace to Enqueue, which never blocks the
instrumented code: the queue is bounded and a trace arriving while it is full
is dropped (reject-newest). A single background loop drains the queue on a
ticker, when the queue reaches the batch size, or on an explicit Flush.

Delivery happens only while the backend reports ready. Each pass redacts span
data with the secret configuration the backend holds at that moment, stamps
the reporting entity and sends the spans in one call per batch. A failed call
drops its batch: traces are delivered at most once.

# Usage

	proc := processor.New(agent, logger,
		processor.WithQueueSize(1000),
		processor.WithFlushInterval(time.Second),
	)
	proc.Start()
	defer proc.Stop(ctx)

	// Inspection for operational tooling
	queued := proc.QueuedTraces()
	proc.Clear()
*/
package processor
