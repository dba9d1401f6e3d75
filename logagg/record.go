package logagg

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/baxromumarov/taskrt/ident"
)

// Record is one structured log event. Records are immutable once built;
// [NewRecord] copies and normalises the fields it is given.
type Record struct {
	Time          time.Time
	Level         Level
	Site          string
	CorrelationID ident.ID
	Message       string
	// Fields holds only string, int64, uint64, float64 and bool values.
	Fields map[string]any
}

// NewRecord builds a Record. Field values that are not strings, numbers or
// booleans are converted to strings; errors use their Error text.
func NewRecord(t time.Time, level Level, site, msg string, fields map[string]any) Record {
	return Record{
		Time:    t,
		Level:   level,
		Site:    site,
		Message: msg,
		Fields:  normalizeFields(fields),
	}
}

// WithCorrelation returns a copy of r carrying id.
func (r Record) WithCorrelation(id ident.ID) Record {
	r.CorrelationID = id
	return r
}

type recordJSON struct {
	Timestamp     string         `json:"timestamp"`
	Level         Level          `json:"level"`
	Site          string         `json:"site"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Message       string         `json:"message"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// MarshalJSON renders the external record shape: RFC 3339 timestamp with
// zone offset, level name, site, correlation ID, message and fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Timestamp: r.Time.Format(time.RFC3339Nano),
		Level:     r.Level,
		Site:      r.Site,
		Message:   r.Message,
		Fields:    r.Fields,
	}
	if !r.CorrelationID.IsNil() {
		out.CorrelationID = r.CorrelationID.String()
	}
	return json.Marshal(out)
}

func normalizeFields(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string, bool, int64, uint64:
		return x
	case float64:
		return finite(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case float32:
		return finite(float64(x))
	case time.Duration:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case error:
		return safeString(x, x.Error)
	case fmt.Stringer:
		return safeString(x, x.String)
	default:
		return fmt.Sprint(x)
	}
}

// finite keeps f as a number unless JSON cannot carry it.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

// safeString renders v through fn the way fmt does: a nil pointer becomes
// "<nil>" and a panicking method is reported inline.
func safeString(v any, fn func() string) (s string) {
	defer func() {
		if r := recover(); r != nil {
			if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
				s = "<nil>"
				return
			}
			s = fmt.Sprintf("!PANIC(%v)", r)
		}
	}()
	return fn()
}
