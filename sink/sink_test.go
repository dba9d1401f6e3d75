package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/baxromumarov/taskrt/ident"
	"github.com/baxromumarov/taskrt/logagg"
)

var at = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func record(level logagg.Level, site, msg string, fields map[string]any) logagg.Record {
	return logagg.NewRecord(at, level, site, msg, fields)
}

func TestJSONWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	s := JSON(&buf)

	require.NoError(t, s.Write(record(logagg.LevelInfo, "a", "one", map[string]any{"n": 1})))
	require.NoError(t, s.Write(record(logagg.LevelError, "b", "two", nil)))
	assert.Empty(t, buf.String(), "buffered until flush")
	require.NoError(t, s.Flush())

	sc := bufio.NewScanner(&buf)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "one", lines[0]["message"])
	assert.Equal(t, "2024-05-01T10:00:00Z", lines[0]["timestamp"])
	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.NotContains(t, lines[1], "correlation_id")
}

func TestTextFormat(t *testing.T) {
	id := ident.NewSeeded(3).New()
	rec := record(logagg.LevelWarn, "disk", "low space", map[string]any{
		"free":  3,
		"mount": "/var lib",
	}).WithCorrelation(id)

	assert.Equal(t,
		`2024-05-01 10:00:00.000 WARN  [disk] low space free=3 mount="/var lib" correlation_id=`+id.String(),
		FormatText(rec))

	var buf bytes.Buffer
	s := Text(&buf)
	require.NoError(t, s.Write(record(logagg.LevelInfo, "x", "hi", nil)))
	require.NoError(t, s.Flush())
	assert.Equal(t, "2024-05-01 10:00:00.000 INFO  [x] hi\n", buf.String())
}

func TestAutoPicksJSONForFiles(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.log"))
	require.NoError(t, err)
	defer f.Close()

	s := Auto(f)
	require.NoError(t, s.Write(record(logagg.LevelInfo, "x", "hi", nil)))
	require.NoError(t, s.Flush())

	b, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "{"), string(b))
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Write(record(logagg.LevelInfo, "a", "1", nil)))
	require.NoError(t, m.Write(record(logagg.LevelInfo, "b", "2", nil)))
	require.NoError(t, m.Flush())

	assert.Len(t, m.Records(), 2)
	assert.Len(t, m.BySite("a"), 1)
	assert.Equal(t, 1, m.Flushes())
	m.Reset()
	assert.Empty(t, m.Records())
}

type brokenSink struct{}

func (brokenSink) Write(logagg.Record) error { return errors.New("write failed") }
func (brokenSink) Flush() error              { return errors.New("flush failed") }

func TestMultiContinuesPastFailures(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	s := Multi(a, brokenSink{}, b)

	err := s.Write(record(logagg.LevelInfo, "x", "y", nil))
	assert.EqualError(t, err, "write failed")
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)

	assert.EqualError(t, s.Flush(), "flush failed")
	assert.Equal(t, 1, a.Flushes())
	assert.Equal(t, 1, b.Flushes())
}

func TestZapPreservesRecordShape(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	z := NewZapFromCore(core)

	id := ident.NewSeeded(9).New()
	require.NoError(t, z.Write(record(logagg.LevelTrace, "net", "dial", map[string]any{"port": 80}).WithCorrelation(id)))
	require.NoError(t, z.Write(record(logagg.LevelWarn, "disk", "full", nil)))
	require.NoError(t, z.Flush())

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "net", entries[0].LoggerName)
	assert.Equal(t, at, entries[0].Time)
	ctx := entries[0].ContextMap()
	assert.Equal(t, int64(80), ctx["port"])
	assert.Equal(t, id.String(), ctx["correlation_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestZapRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cfg := DefaultZapConfig()
	cfg.Path = path

	z, err := NewZap(cfg)
	require.NoError(t, err)
	require.NoError(t, z.Write(record(logagg.LevelInfo, "svc", "started", map[string]any{"pid": 1})))
	require.NoError(t, z.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &m))
	assert.Equal(t, "started", m["msg"])
	assert.Equal(t, "svc", m["site"])
	assert.Equal(t, "info", m["level"])
	assert.EqualValues(t, 1, m["pid"])
}
