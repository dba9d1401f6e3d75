package sink

import (
	"errors"

	"github.com/baxromumarov/taskrt/logagg"
)

type multi []logagg.Sink

// Multi fans every record out to all sinks. A failing sink does not stop
// the others; the errors are joined.
func Multi(sinks ...logagg.Sink) logagg.Sink {
	return multi(sinks)
}

func (m multi) Write(rec logagg.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Flush() error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
