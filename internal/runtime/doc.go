/*
Package runtime provides the core pipeline machinery for routineflow.

# Architecture Overview

A pipeline is a directed acyclic graph of routines. Routines run their own
loop on a goroutine, receive messages from a bounded queue, run user logic
and emit results along exactly one outbound wire. Flows group routines and
forward control events to them. The Pipe assembles both, validates the graph
and owns the shared infrastructure.

There are two planes:
  - the data plane (dataplane/, transmit/) moves payloads through queues
    and applies a transmission strategy per wire
  - the control plane (events/) is a Watermill Go-channel pub/sub carrying
    start, stop, kill, update-fps and routine-duration events

# Package Structure

## Routines (routine.go, logic.go, runner.go)

A Routine wraps Producer, Processor or Consumer logic:
  - setup and cleanup bracket every run
  - errors and panics are logged and the loop continues
  - unsupported payloads are dropped
  - a Runner decides whether the loop gets its own OS thread

## Flows and Pipes (flow.go, pipe.go)

Flow listens on the bus for the union of its members' events and forwards
them in member order. Pipe checks wiring rules at Build and then starts every
flow, the synchronizer and the introspection server.

## Stats & Monitoring (stats.go, resources.go, metrics.go, hooks.go)

Per-routine metrics collection:
  - Latency percentiles (p50, p95, p99)
  - Throughput tracking
  - Error categorization
  - Resource usage sampling
  - Backlog from queue depth
  - Prometheus collectors and iteration hooks

## Introspection (introspection.go)

HTTP API for routine state and statistics, plus /metrics.

# Sub-packages

  - config/: Pipeline configuration with validation
  - dataplane/: Messages, queues, fan-out and the per-routine handler
  - errors/: Sentinel errors and error types
  - events/: Control events, the bus and handler registries
  - ids/: ULID generation for message IDs and routine names
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - pacing/: Pacers and the batched duration notifier
  - synchronizer/: Auto-pacing target computation

# Usage Example

	pipe, _ := routineflow.NewPipe(routineflow.DefaultConfig(), logger)

	camera := routineflow.NewSource(grabber)
	detect := routineflow.NewMiddle(detector)
	show := routineflow.NewDestination(display)

	pipe.CreateFlow("vision", routineflow.RunnerThread, camera, detect, show)
	pipe.Link(nil, camera, detect)
	pipe.Link(nil, detect, show)

	pipe.Build(ctx)
	pipe.Start()
	pipe.Join()
*/
package runtime
