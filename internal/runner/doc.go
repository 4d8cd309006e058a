// Package runner drives a pool of virtual workers against a target following
// a concurrency schedule.
//
// The [Driver] reads the target worker count from a [schedule.Schedule] and
// reconciles the live pool against it: missing workers are started at once,
// surplus workers are asked to drain. A draining worker finishes the iteration
// it is in (request, checks and outcome emission) before it exits; in-flight
// requests are never cancelled by the driver. The context passed to the
// [Transport] is cancelled on the stop signal so retry waits end early.
//
// # Basic Usage
//
//	sched, _ := schedule.New([]schedule.Stage{
//		{Duration: 30 * time.Second, Target: 10},
//		{Duration: 30 * time.Second, Target: 0},
//	})
//	d, err := runner.New(runner.Options{
//		Schedule:  sched,
//		Builder:   builder,   // runner.RequestBuilder
//		Transport: transport, // runner.Transport
//		Checker:   checks,    // runner.Checker (optional)
//		Sink:      collector, // runner.Sink
//	})
//	result := d.Run(ctx)
//
// # Worker Loop
//
// Every worker repeats build, dispatch, check and emit until it is told to
// stop. A build or transport error yields a failed [Outcome] without checks
// and the worker moves on to its next iteration. Each iteration makes exactly
// one attempt; retrying is left to the [Transport].
//
// # Worker Lifecycle
//
// Workers move through [StateRunning], [StateDraining] and [StateStopped].
// The driver only raises the stop signal; the worker observes it at the next
// iteration boundary, enters [StateDraining] and exits.
//
// # Sinks
//
// Outcomes are streamed to the configured [Sink] as they complete. Emission is
// concurrent and unordered across workers. Use [MultiSink] to fan out to
// several sinks and [WithFailureLogging] to report failed iterations.
package runner
