package service

import (
	"context"
	"sync"

	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// Task is one unit of background work. Tasks carry their own error
// handling; the dispatcher only supervises execution.
type Task func(ctx context.Context)

// Dispatcher runs background tasks on a fixed pool of workers. Submit
// never blocks the caller; a full queue spills into a goroutine that
// waits for room.
type Dispatcher struct {
	workerCount int

	tasks    chan Task
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(workerCount, queueSize int) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		workerCount: workerCount,
		tasks:       make(chan Task, queueSize),
		stopCh:      make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	for range d.workerCount {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop waits for in-flight tasks to finish. Queued tasks that never ran
// are dropped; stale recovery picks their work up on the next start.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Submit(task Task) {
	select {
	case d.tasks <- task:
	default:
		go func() {
			select {
			case d.tasks <- task:
			case <-d.stopCh:
			}
		}()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case task := <-d.tasks:
			if err := docjob.SafeExecute(func() error {
				task(context.Background())
				return nil
			}); err != nil {
				log.Error("Background task panicked: %v", err)
			}
		}
	}
}
