// Package logagg aggregates structured log records from many concurrent
// producers into a single sink, rate limiting each log site so a hot loop
// cannot flood the output.
//
// Producers call [Aggregator.Emit] (or [Aggregator.Log]), which never
// blocks: a record either passes its site's rate limit and is queued, or is
// counted as suppressed. One consumer, [Aggregator.Drain], writes queued
// records to the [Sink]. Before the first record that passes after a run of
// suppressions the consumer writes a summary record carrying the exact
// suppressed count, and a periodic sweep reports counts for sites that went
// quiet. [Aggregator.Close] flushes every outstanding count exactly once.
//
// Rate policies are keyed by site patterns using path.Match syntax:
//
//	agg.SetRatePolicy("db.*", 5*time.Second)
//	agg.SetRatePolicy("db.pool.acquire", 0) // never limited
//
// An exact pattern beats a glob and a longer literal prefix beats a shorter
// one. Sites without a matching policy use the default interval.
//
// Minimum levels are resolved hierarchically on ".", "/" and "::"
// separators, so SetSiteLevel("net", Debug) also applies to "net.http".
package logagg
