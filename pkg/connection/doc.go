// Package connection provides the backoff calculator used when a
// session reinitializes after losing its device.
//
// Battery devices drop the link the moment they are done talking, and
// reinitializing too eagerly just drains them faster. Delays grow
// exponentially with jitter:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// starting at 1 second, doubling to a 60 second ceiling, and resetting
// to 1 second after a successful initialization.
package connection
