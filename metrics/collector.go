// Package metrics exports runtime task and log counters to Prometheus.
package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/baxromumarov/taskrt"
	"github.com/baxromumarov/taskrt/logagg"
)

const namespace = "taskrt"

// Source provides current counter snapshots. [*taskrt.Runtime] implements
// it.
type Source interface {
	TaskStats() taskrt.Stats
	LogStats() logagg.Stats
}

// Collector reads a Source on every scrape. It keeps no state of its own,
// so several runtimes can be exported side by side under distinct names.
type Collector struct {
	src  Source
	name string

	tasksSpawned   *prom.Desc
	tasksActive    *prom.Desc
	tasksRunning   *prom.Desc
	tasksFinished  *prom.Desc
	tasksFailed    *prom.Desc
	blockingQueued *prom.Desc
	blockingBusy   *prom.Desc
	admissionInUse *prom.Desc

	logRecords    *prom.Desc
	logSummaries  *prom.Desc
	logSinkErrors *prom.Desc
	logQueued     *prom.Desc
}

// NewCollector returns a Collector for src labelled runtime=name.
func NewCollector(src Source, name string) *Collector {
	labels := prom.Labels{"runtime": name}
	desc := func(sub, metric, help string, vars ...string) *prom.Desc {
		return prom.NewDesc(prom.BuildFQName(namespace, sub, metric), help, vars, labels)
	}
	return &Collector{
		src:  src,
		name: name,

		tasksSpawned:   desc("tasks", "spawned_total", "Tasks ever spawned, including rejected ones."),
		tasksActive:    desc("tasks", "active", "Tasks not yet terminal."),
		tasksRunning:   desc("tasks", "running", "Tasks whose function is executing."),
		tasksFinished:  desc("tasks", "finished_total", "Tasks that reached a terminal state.", "state"),
		tasksFailed:    desc("tasks", "failed_total", "Completed tasks that returned an error."),
		blockingQueued: desc("blocking", "queued", "Blocking tasks waiting for a pool worker."),
		blockingBusy:   desc("blocking", "in_flight", "Blocking tasks holding a pool worker."),
		admissionInUse: desc("tasks", "admission_in_use", "Admission slots in use; zero when unbounded."),

		logRecords:    desc("log", "records_total", "Log records by outcome.", "outcome"),
		logSummaries:  desc("log", "summaries_total", "Suppression summary records written."),
		logSinkErrors: desc("log", "sink_errors_total", "Sink write or flush failures."),
		logQueued:     desc("log", "queued", "Records waiting for the consumer."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range []*prom.Desc{
		c.tasksSpawned, c.tasksActive, c.tasksRunning, c.tasksFinished,
		c.tasksFailed, c.blockingQueued, c.blockingBusy, c.admissionInUse,
		c.logRecords, c.logSummaries, c.logSinkErrors, c.logQueued,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	ts := c.src.TaskStats()
	ls := c.src.LogStats()

	counter := func(d *prom.Desc, v float64, lv ...string) {
		ch <- prom.MustNewConstMetric(d, prom.CounterValue, v, lv...)
	}
	gauge := func(d *prom.Desc, v float64, lv ...string) {
		ch <- prom.MustNewConstMetric(d, prom.GaugeValue, v, lv...)
	}

	counter(c.tasksSpawned, float64(ts.Spawned))
	gauge(c.tasksActive, float64(ts.Active))
	gauge(c.tasksRunning, float64(ts.Running))
	counter(c.tasksFinished, float64(ts.Completed), taskrt.StateCompleted.String())
	counter(c.tasksFinished, float64(ts.Cancelled), taskrt.StateCancelled.String())
	counter(c.tasksFinished, float64(ts.Panicked), taskrt.StatePanicked.String())
	counter(c.tasksFailed, float64(ts.Failed))
	gauge(c.blockingQueued, float64(ts.Blocking.QueueDepth))
	gauge(c.blockingBusy, float64(ts.Blocking.InFlight))
	gauge(c.admissionInUse, float64(ts.Admission))

	counter(c.logRecords, float64(ls.Delivered), "delivered")
	counter(c.logRecords, float64(ls.Suppressed), "suppressed")
	counter(c.logRecords, float64(ls.Filtered), "filtered")
	counter(c.logRecords, float64(ls.Dropped), "dropped")
	counter(c.logSummaries, float64(ls.Summaries))
	counter(c.logSinkErrors, float64(ls.SinkErrors))
	gauge(c.logQueued, float64(ls.Queued))
}

// Register adds a Collector for src to reg.
func Register(reg prom.Registerer, src Source, name string) (*Collector, error) {
	c := NewCollector(src, name)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
