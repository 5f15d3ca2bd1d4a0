// Copyright 2025 SCION Association
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package periodic runs tasks at a fixed interval.
package periodic

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/metrics"
)

// Event types reported in Metrics.Events.
const (
	EventStop    = "stop"
	EventKill    = "kill"
	EventTrigger = "triggered"
)

// Metrics are the metrics of a runner. All fields are optional.
type Metrics struct {
	Events    func(string) metrics.Counter
	Runtime   metrics.Gauge
	StartTime metrics.Gauge
	Period    metrics.Gauge
}

// NewMetrics creates the prometheus metrics of the runner of task name.
func NewMetrics(name string, opts ...metrics.Option) *Metrics {
	auto := metrics.ApplyOptions(opts...).Auto()
	labels := prometheus.Labels{"task": name}
	events := auto.NewCounterVec(prometheus.CounterOpts{
		Name:        "keymgr_periodic_events_total",
		Help:        "Total number of events of the periodic task.",
		ConstLabels: labels,
	}, []string{"event_type"})
	return &Metrics{
		Events: func(s string) metrics.Counter {
			return metrics.CounterWith(events, "event_type", s)
		},
		Runtime: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "keymgr_periodic_runtime_duration_seconds",
			Help:        "Duration in seconds of the last run of the periodic task.",
			ConstLabels: labels,
		}, nil),
		StartTime: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "keymgr_periodic_runtime_timestamp_seconds",
			Help:        "Start time of the last run of the periodic task.",
			ConstLabels: labels,
		}, nil),
		Period: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "keymgr_periodic_period_duration_seconds",
			Help:        "Period of the periodic task.",
			ConstLabels: labels,
		}, nil),
	}
}

func (m *Metrics) event(s string) {
	if m == nil || m.Events == nil {
		return
	}
	metrics.CounterInc(m.Events(s))
}

// A Task that has to be periodically executed.
type Task interface {
	// Run executes the task once, it should return within the context's
	// timeout.
	Run(context.Context)
	// Name returns the task's name for use in logs and metrics.
	Name() string
}

// Scheduled is implemented by tasks that know when they are due next. The
// runner wakes up at that time if it is earlier than the end of the period.
// A zero time means nothing is scheduled.
type Scheduled interface {
	NextRun() time.Time
}

// MinWait is the shortest pause between two runs of a Scheduled task. It
// bounds the run rate of a task that reports a due time in the past.
const MinWait = 100 * time.Millisecond

// Runner runs a task periodically.
type Runner struct {
	task         Task
	period       time.Duration
	timeout      time.Duration
	stop         chan struct{}
	loopFinished chan struct{}
	ctx          context.Context
	cancelF      context.CancelFunc
	trigger      chan struct{}
	metrics      *Metrics
}

// Start creates and starts a new Runner to run the given task periodically.
// The task runs once right away. The timeout is used for the context timeout
// of the task. The timeout can be larger than the period. That means if a
// task takes a long time it will be immediately retriggered.
func Start(task Task, period, timeout time.Duration) *Runner {
	return StartWithMetrics(task, nil, period, timeout)
}

// StartWithMetrics is like Start but reports to m, which may be nil.
func StartWithMetrics(task Task, m *Metrics, period, timeout time.Duration) *Runner {
	ctx, cancelF := context.WithCancel(context.Background())
	logger := log.New("task", task.Name())
	ctx = log.CtxWith(ctx, logger)
	runner := &Runner{
		task:         task,
		period:       period,
		timeout:      timeout,
		stop:         make(chan struct{}),
		loopFinished: make(chan struct{}),
		ctx:          ctx,
		cancelF:      cancelF,
		trigger:      make(chan struct{}),
		metrics:      m,
	}
	if m != nil {
		metrics.GaugeSet(m.Period, period.Seconds())
	}
	_, scheduled := task.(Scheduled)
	logger.Info("Starting periodic task", "period", period, "timeout", timeout,
		"scheduled", scheduled)
	go func() {
		defer log.HandlePanic()
		runner.runLoop()
	}()
	return runner
}

// Stop stops the periodic execution of the Runner. If the task is currently
// running this method will block until it is done.
func (r *Runner) Stop() {
	if r == nil {
		return
	}
	close(r.stop)
	<-r.loopFinished
	r.metrics.event(EventStop)
}

// Kill is like stop but it also cancels the context of the current running
// method.
func (r *Runner) Kill() {
	if r == nil {
		return
	}
	close(r.stop)
	r.cancelF()
	<-r.loopFinished
	r.metrics.event(EventKill)
}

// TriggerRun triggers the periodic task to run now. The next regular run is
// scheduled relative to the triggered one.
//
// The method blocks until either the triggered run was started or the runner
// was stopped, in which case the triggered run will not be executed.
func (r *Runner) TriggerRun() {
	select {
	case <-r.stop:
	case r.trigger <- struct{}{}:
		r.metrics.event(EventTrigger)
	}
}

func (r *Runner) runLoop() {
	defer close(r.loopFinished)
	defer r.cancelF()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
		case <-r.trigger:
		}
		r.onTick()
		timer.Reset(r.wait())
	}
}

// wait returns the pause until the next run.
func (r *Runner) wait() time.Duration {
	s, ok := r.task.(Scheduled)
	if !ok {
		return r.period
	}
	next := s.NextRun()
	if next.IsZero() {
		return r.period
	}
	return min(max(time.Until(next), MinWait), r.period)
}

func (r *Runner) onTick() {
	select {
	// Make sure that stop case is evaluated first, so that when we kill and
	// both channels are ready we always go into stop first.
	case <-r.stop:
		return
	default:
		ctx, cancelF := context.WithTimeout(r.ctx, r.timeout)
		start := time.Now()
		r.task.Run(ctx)
		if r.metrics != nil {
			metrics.GaugeSet(r.metrics.Runtime, time.Since(start).Seconds())
			metrics.GaugeSetTimestamp(r.metrics.StartTime, start.UnixNano())
		}
		cancelF()
	}
}
