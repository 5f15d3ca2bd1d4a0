// Copyright 2018 Anapaya Systems
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

package periodic_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scionproto/keymgr/pkg/metrics"
	"github.com/scionproto/keymgr/pkg/private/xtest"
	"github.com/scionproto/keymgr/private/periodic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingTask signals every run on runs and counts them.
type countingTask struct {
	runs  chan struct{}
	count atomic.Int32
	run   func(context.Context)
}

func newCountingTask() *countingTask {
	return &countingTask{runs: make(chan struct{}, 100)}
}

func (c *countingTask) Run(ctx context.Context) {
	if c.run != nil {
		c.run(ctx)
	}
	c.count.Add(1)
	c.runs <- struct{}{}
}

func (c *countingTask) Name() string {
	return "keymgr_test"
}

// scheduledTask reports a fixed next run.
type scheduledTask struct {
	*countingTask
	mtx  sync.Mutex
	next time.Time
}

func (s *scheduledTask) NextRun() time.Time {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.next
}

func (s *scheduledTask) setNext(t time.Time) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.next = t
}

func newMetrics() (*periodic.Metrics, *metrics.TestCounter, *metrics.TestGauge) {
	events := metrics.NewTestCounter()
	period := metrics.NewTestGauge()
	return &periodic.Metrics{
		Events: func(s string) metrics.Counter {
			return events.With("event_type", s)
		},
		Period: period,
	}, events, period
}

func eventCount(events *metrics.TestCounter, event string) float64 {
	return metrics.CounterValue(events.With("event_type", event))
}

// waitRuns waits for n runs of task.
func waitRuns(t *testing.T, task *countingTask, n int) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range n {
			select {
			case <-task.runs:
			case <-time.After(time.Second):
				return
			}
		}
	}()
	xtest.AssertReadReturnsBefore(t, done, 2*time.Second)
}

func TestRunsImmediately(t *testing.T) {
	task := newCountingTask()
	m, events, period := newMetrics()
	r := periodic.StartWithMetrics(task, m, time.Hour, time.Minute)
	waitRuns(t, task, 1)
	r.Stop()

	assert.Equal(t, int32(1), task.count.Load())
	assert.Equal(t, time.Hour.Seconds(), metrics.GaugeValue(period))
	assert.Equal(t, 1.0, eventCount(events, periodic.EventStop))
}

func TestPeriodicExecution(t *testing.T) {
	task := newCountingTask()
	start := time.Now()
	r := periodic.Start(task, 20*time.Millisecond, time.Second)
	waitRuns(t, task, 5)
	r.Stop()

	// The first run is immediate, four periods follow.
	assert.GreaterOrEqual(t, time.Since(start), 4*20*time.Millisecond)
	assert.GreaterOrEqual(t, task.count.Load(), int32(5))
}

func TestScheduledTask(t *testing.T) {
	t.Run("due time wakes the runner", func(t *testing.T) {
		task := &scheduledTask{countingTask: newCountingTask()}
		task.setNext(time.Now().Add(50 * time.Millisecond))
		r := periodic.Start(task, time.Hour, time.Minute)
		defer r.Stop()
		waitRuns(t, task.countingTask, 2)
	})
	t.Run("past due time is rate limited", func(t *testing.T) {
		task := &scheduledTask{countingTask: newCountingTask()}
		task.setNext(time.Now().Add(-time.Hour))
		start := time.Now()
		r := periodic.Start(task, time.Hour, time.Minute)
		waitRuns(t, task.countingTask, 3)
		r.Stop()
		assert.GreaterOrEqual(t, time.Since(start), 2*periodic.MinWait)
	})
	t.Run("nothing scheduled waits for the period", func(t *testing.T) {
		task := &scheduledTask{countingTask: newCountingTask()}
		r := periodic.Start(task, time.Hour, time.Minute)
		waitRuns(t, task.countingTask, 1)
		time.Sleep(3 * periodic.MinWait)
		r.Stop()
		assert.Equal(t, int32(1), task.count.Load())
	})
}

func TestTriggerRun(t *testing.T) {
	task := newCountingTask()
	m, events, _ := newMetrics()
	r := periodic.StartWithMetrics(task, m, time.Hour, time.Minute)
	waitRuns(t, task, 1)

	r.TriggerRun()
	waitRuns(t, task, 1)
	r.Stop()
	assert.Equal(t, int32(2), task.count.Load())
	assert.Equal(t, 1.0, eventCount(events, periodic.EventTrigger))

	// Triggering a stopped runner does not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.TriggerRun()
	}()
	xtest.AssertReadReturnsBefore(t, done, time.Second)
}

func TestTimeout(t *testing.T) {
	task := newCountingTask()
	errs := make(chan error, 1)
	task.run = func(ctx context.Context) {
		<-ctx.Done()
		errs <- ctx.Err()
	}
	r := periodic.Start(task, time.Hour, 10*time.Millisecond)
	waitRuns(t, task, 1)
	r.Stop()
	assert.ErrorIs(t, <-errs, context.DeadlineExceeded)
}

func TestKillCancelsRun(t *testing.T) {
	task := newCountingTask()
	started := make(chan struct{})
	errs := make(chan error, 1)
	task.run = func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		errs <- ctx.Err()
	}
	m, events, _ := newMetrics()
	r := periodic.StartWithMetrics(task, m, time.Hour, time.Hour)
	xtest.AssertReadReturnsBefore(t, started, time.Second)

	killed := make(chan struct{})
	go func() {
		defer close(killed)
		r.Kill()
	}()
	xtest.AssertReadReturnsBefore(t, killed, time.Second)
	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.Equal(t, 1.0, eventCount(events, periodic.EventKill))
}

func TestStopWaitsForRun(t *testing.T) {
	task := newCountingTask()
	started := make(chan struct{})
	var finished atomic.Bool
	task.run = func(ctx context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}
	r := periodic.Start(task, time.Hour, time.Hour)
	xtest.AssertReadReturnsBefore(t, started, time.Second)
	r.Stop()
	assert.True(t, finished.Load())
}

func TestNilRunner(t *testing.T) {
	var r *periodic.Runner
	require.NotPanics(t, r.Stop)
	require.NotPanics(t, r.Kill)
}
