// Package session implements the receiver core of the audiocast stream:
// socket ingest, adaptive jitter buffering, playout, per-second statistics
// sampling, and session lifecycle.
//
// A session is a set of cooperating goroutines sharing a playout buffer
// and lock-free atomic counters: the network receiver parses packets and
// feeds the buffer, the player drains it into a blocking audio sink, and
// the stats sampler reads per-window deltas, drives the adaptive jitter
// controller, and publishes telemetry. The audio pipeline is initialized
// lazily from the first valid packet, which carries the stream's sample
// rate, channel count, and frame size.
//
// Example:
//
//	sup := session.NewSupervisor()
//	err := sup.Start(session.Config{
//	    Port:        50000,
//	    JitterMs:    20,
//	    Transport:   session.TransportUDP,
//	    SinkFactory: mySinkFactory,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sup.Stop()
package session
