// Package queue implements the FIFO store of pending follow-up tasks the
// commander drains toward eventual consistency.
package queue

import (
	"errors"
	"sync"

	"github.com/skuraya/conductor/internal/model"
)

// ErrEmpty is returned by Peek and Dequeue when the queue holds no tasks.
var ErrEmpty = errors.New("queue is empty")

// Queue is the work-queue contract. Any operation may fail transiently
// (service.ErrUnavailable); callers drive each operation through the retry
// executor.
type Queue interface {
	Enqueue(t *model.QueueTask) error
	Peek() (*model.QueueTask, error)
	Dequeue() (*model.QueueTask, error)
	Len() int
}

// Memory is an in-process FIFO queue.
type Memory struct {
	mu    sync.Mutex
	tasks []*model.QueueTask
}

func NewMemory() *Memory {
	return &Memory{}
}

func (q *Memory) Enqueue(t *model.QueueTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *Memory) Peek() (*model.QueueTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, ErrEmpty
	}
	return q.tasks[0], nil
}

func (q *Memory) Dequeue() (*model.QueueTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, ErrEmpty
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, nil
}

func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// snapshot returns the current task records, oldest first.
func (q *Memory) snapshot() []model.TaskRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	recs := make([]model.TaskRecord, 0, len(q.tasks))
	for _, t := range q.tasks {
		recs = append(recs, t.Record())
	}
	return recs
}

// Flaky wraps a Queue with an injectable fault queue, mirroring the flaky
// service wrappers. Each operation consumes the next queued fault first.
type Flaky struct {
	Inner  Queue
	Faults *FaultFunc
}

// FaultFunc pops scripted errors in order.
type FaultFunc struct {
	mu    sync.Mutex
	queue []error
}

func NewFaults(errs ...error) *FaultFunc {
	return &FaultFunc{queue: append([]error(nil), errs...)}
}

func (f *FaultFunc) Push(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, errs...)
}

func (f *FaultFunc) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil
	}
	err := f.queue[0]
	f.queue = f.queue[1:]
	return err
}

func (q *Flaky) Enqueue(t *model.QueueTask) error {
	if err := q.Faults.next(); err != nil {
		return err
	}
	return q.Inner.Enqueue(t)
}

func (q *Flaky) Peek() (*model.QueueTask, error) {
	if err := q.Faults.next(); err != nil {
		return nil, err
	}
	return q.Inner.Peek()
}

func (q *Flaky) Dequeue() (*model.QueueTask, error) {
	if err := q.Faults.next(); err != nil {
		return nil, err
	}
	return q.Inner.Dequeue()
}

func (q *Flaky) Len() int {
	return q.Inner.Len()
}
