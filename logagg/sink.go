package logagg

// Sink receives records from the aggregator's consumer. Write is only ever
// called from one goroutine at a time.
type Sink interface {
	Write(Record) error
	Flush() error
}

// SinkFunc adapts a function to a Sink with a no-op Flush.
type SinkFunc func(Record) error

func (f SinkFunc) Write(r Record) error { return f(r) }

func (f SinkFunc) Flush() error { return nil }

type discard struct{}

func (discard) Write(Record) error { return nil }
func (discard) Flush() error       { return nil }

// Discard drops every record.
var Discard Sink = discard{}
