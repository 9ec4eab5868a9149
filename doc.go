// Package routineflow runs dataflow pipelines made of routines: sources that
// produce values, middles that transform them and destinations that consume
// them. Routines are grouped into flows and wired together through bounded
// queues; a control plane built on a Watermill Go-channel pub/sub carries
// start, stop, kill and pacing events between them.
//
// A minimal setup creates a Pipe, declares routines with NewSource,
// NewMiddle and NewDestination, groups them with Pipe.CreateFlow, wires them
// with Pipe.Link and calls Build, Start and Join. See examples/simple for a
// copy/paste starting point.
//
// # Transmission strategies
//
// Every wire applies a transmission strategy to the messages it carries:
//   - direct: hands the payload reference to the next routine
//   - shared-segment: stores byte, string and protobuf payloads in named
//     memory-mapped segments that the receiver reads and unlinks
//
// Custom strategies register through RegisterStrategy.
//
// # Runners
//
// RunnerThread runs a routine loop on a goroutine. RunnerProcess pins it to
// a dedicated locked OS thread instead; both run inside the calling process,
// so a RunnerProcess routine shares memory with the rest of the pipe and a
// crash in it takes the whole program down.
//
// # Pacing
//
// With auto pacing on, every routine periodically reports its iteration
// durations and a synchronizer caps each source at the slowest rate found
// downstream of it, times a multiplier. WithConstFPS pins a routine to a
// fixed rate instead.
//
// # Introspection
//
// Config.IntrospectionEnabled serves /api/routines with live per-routine
// stats, and /metrics with Prometheus collectors when Config.MetricsEnabled
// is set. IterationHooks expose OnIterationStart, OnIterationDone and
// OnIterationError callbacks for custom logging, metrics and alerting.
package routineflow
