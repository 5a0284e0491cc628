package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunsAllTasks(t *testing.T) {
	d := NewDispatcher(3, 8)
	d.Start()
	defer d.Stop()

	const tasks = 50
	var done atomic.Int32
	var wg sync.WaitGroup
	for range tasks {
		wg.Add(1)
		d.Submit(func(context.Context) {
			defer wg.Done()
			done.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(tasks), done.Load())
}

func TestDispatcher_SurvivesPanickingTask(t *testing.T) {
	d := NewDispatcher(1, 4)
	d.Start()
	defer d.Stop()

	d.Submit(func(context.Context) {
		panic("task blew up")
	})

	ran := make(chan struct{})
	d.Submit(func(context.Context) {
		close(ran)
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestDispatcher_QueueOverflowStillRuns(t *testing.T) {
	// Queue of 1 with a single busy worker forces the spill path.
	d := NewDispatcher(1, 1)
	d.Start()
	defer d.Stop()

	gate := make(chan struct{})
	d.Submit(func(context.Context) { <-gate })

	const tasks = 20
	var done atomic.Int32
	var wg sync.WaitGroup
	for range tasks {
		wg.Add(1)
		d.Submit(func(context.Context) {
			defer wg.Done()
			done.Add(1)
		})
	}
	close(gate)
	wg.Wait()
	assert.Equal(t, int32(tasks), done.Load())
}

func TestDispatcher_StopWaitsForInflight(t *testing.T) {
	d := NewDispatcher(2, 4)
	d.Start()

	var finished atomic.Bool
	started := make(chan struct{})
	d.Submit(func(context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	d.Stop()
	require.True(t, finished.Load(), "Stop returned before the task finished")
}
