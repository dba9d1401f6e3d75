package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/baxromumarov/taskrt/clock"
	rterrors "github.com/baxromumarov/taskrt/errors"
)

// Duration is a time.Duration written as human text in YAML: "500ms",
// "1h30m", "2 days". A bare number means seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return rterrors.NewWithContext(rterrors.ErrCodeParse, "duration must be a scalar",
			map[string]any{"line": node.Line})
	}
	v, err := clock.ParseDuration(node.Value)
	if err != nil {
		return rterrors.WrapWithContext(rterrors.ErrCodeParse, "invalid duration", err,
			map[string]any{"line": node.Line})
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}
