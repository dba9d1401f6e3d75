// Package sink provides output destinations for logagg records: JSON
// lines, human-readable text, terminal auto-detection, zap (with optional
// lumberjack file rotation), an in-memory sink for tests, and fan-out.
//
// Sinks are written by the aggregator's single consumer. The writers here
// still lock internally so they can also be shared across aggregators.
package sink
