/*
Package sensor assembles the tracing engine.

# Overview

A Sensor owns one Tracer, one Processor and one Agent facade. Finished
traces flow from the tracer into the processor queue; the processor delivers
them once the agent reports ready and redacts secrets on the way out.

# Usage

	cfg := config.LoadOrDefault()
	s, err := sensor.New(cfg)
	if err != nil {
		return err
	}
	s.Start()
	defer s.Shutdown(ctx)

	router.Use(s.Middleware())
*/
package sensor
