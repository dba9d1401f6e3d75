package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/baxromumarov/taskrt/logagg"
)

// TextTimeFormat is the timestamp layout of the text sink.
const TextTimeFormat = "2006-01-02 15:04:05.000"

type format int

const (
	formatJSON format = iota
	formatText
)

// Stream writes records to an io.Writer, one line per record. Output is
// buffered until Flush.
type Stream struct {
	mu     sync.Mutex
	w      *bufio.Writer
	format format
}

// JSON returns a sink writing one JSON object per line.
func JSON(w io.Writer) *Stream {
	return &Stream{w: bufio.NewWriter(w), format: formatJSON}
}

// Text returns a sink writing lines such as
//
//	2024-05-01 10:00:00.000 WARN  [disk] low space free=3
func Text(w io.Writer) *Stream {
	return &Stream{w: bufio.NewWriter(w), format: formatText}
}

// Auto returns a Text sink when f is a terminal and a JSON sink otherwise.
func Auto(f *os.File) *Stream {
	if term.IsTerminal(int(f.Fd())) {
		return Text(f)
	}
	return JSON(f)
}

// Write implements logagg.Sink.
func (s *Stream) Write(rec logagg.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == formatJSON {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if _, err := s.w.Write(b); err != nil {
			return err
		}
		return s.w.WriteByte('\n')
	}

	_, err := s.w.WriteString(FormatText(rec))
	if err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Flush implements logagg.Sink.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// FormatText renders rec in the text sink's line format, without the
// trailing newline. Fields are sorted by key.
func FormatText(rec logagg.Record) string {
	var b strings.Builder
	b.WriteString(rec.Time.Format(TextTimeFormat))
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%-5s", rec.Level.String())
	b.WriteString(" [")
	b.WriteString(rec.Site)
	b.WriteString("] ")
	b.WriteString(rec.Message)

	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(textValue(rec.Fields[k]))
	}
	if !rec.CorrelationID.IsNil() {
		b.WriteString(" correlation_id=")
		b.WriteString(rec.CorrelationID.String())
	}
	return b.String()
}

func textValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
