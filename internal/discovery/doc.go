/*
Package discovery holds what the sensor knows about its local host agent.

# Overview

A Cell stores a *State that is either nil (no agent known) or a complete
record of the announced agent. Values are replaced wholesale and never
mutated in place, so readers always see a consistent record.

Every replacement is classified as a Transition and delivered to the
registered observers synchronously, in registration order, before Swap
returns:

	nil   -> nil    Reset
	nil   -> state  Activated
	state -> state  Updated
	state -> nil    Deactivated

# Usage

	cell := discovery.NewCell().
		WithObserver(activation).
		WithObserver(reporting)

	cell.Set(nil) // kicks off activation
*/
package discovery
