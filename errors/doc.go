// Package errors provides the structured error taxonomy shared by the
// supervisor, the log aggregator and the parsing utilities.
//
// Every error carries an [ErrorCode] for programmatic handling. Callers
// test for a class of failure with [IsCode] rather than comparing values:
//
//	d, err := clock.ParseDuration("5 fortnights")
//	if errors.IsCode(err, errors.ErrCodeParse) {
//	    // recoverable: report to the user
//	}
//
// Propagation follows three rules. Parse and config errors are returned to
// the immediate caller. Task failures stay with the task and are reported
// through its handle. Aggregator failures degrade (drop with counting)
// instead of propagating.
package errors
