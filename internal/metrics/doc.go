// Package metrics aggregates iteration outcomes into the statistics shown in
// the final report and evaluated by thresholds.
//
// A [Collector] is a runner.Sink. Every outcome counts towards the totals;
// latency percentiles come from an HDR histogram and only include requests
// that completed with a response:
//
//	collector := metrics.NewCollector()
//	sink := runner.MultiSink{collector, outcomes}
//	...
//	stats := collector.Stats(elapsed)
//
// [Stats] carries per-check pass/fail counts (the checks rate is the fraction
// of evaluated checks that held), a status code histogram and a breakdown of
// transport failures by kind, see [ErrorName].
//
// The Collector is safe for concurrent use.
package metrics
