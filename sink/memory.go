package sink

import (
	"sync"

	"github.com/baxromumarov/taskrt/logagg"
)

// Memory keeps every record in memory. Intended for tests.
type Memory struct {
	mu      sync.Mutex
	records []logagg.Record
	flushes int
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(rec logagg.Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Flush() error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

// Records returns a copy of the records written so far.
func (m *Memory) Records() []logagg.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logagg.Record, len(m.records))
	copy(out, m.records)
	return out
}

// BySite returns the records written for site.
func (m *Memory) BySite(site string) []logagg.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []logagg.Record
	for _, r := range m.records {
		if r.Site == site {
			out = append(out, r)
		}
	}
	return out
}

// Flushes reports how many times Flush was called.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Reset forgets all records.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.records = nil
	m.mu.Unlock()
}
