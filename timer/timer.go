package timer

import (
	"container/heap"
	"sync"
	"time"
)

type TimerTask struct {
	Id       int64
	Execute  time.Time
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x any) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// TimerManager runs one-shot callbacks at their deadline. Each due callback
// runs on its own goroutine.
type TimerManager struct {
	queue  TimerQueue
	tasks  map[int64]*TimerTask
	mutex  sync.Mutex
	nextId int64
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewTimerManager() *TimerManager {
	manager := &TimerManager{
		queue:  make(TimerQueue, 0),
		tasks:  make(map[int64]*TimerTask),
		nextId: 1,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// AfterFunc schedules callback after delay and returns an id for Cancel.
func (m *TimerManager) AfterFunc(delay time.Duration, callback func()) int64 {
	return m.At(time.Now().Add(delay), callback)
}

// At schedules callback at t. A t in the past fires on the next loop iteration.
func (m *TimerManager) At(t time.Time, callback func()) int64 {
	m.mutex.Lock()
	task := &TimerTask{
		Id:       m.nextId,
		Execute:  t,
		Callback: callback,
	}
	m.nextId++
	heap.Push(&m.queue, task)
	m.tasks[task.Id] = task
	head := m.queue[0] == task
	m.mutex.Unlock()

	if head {
		m.poke()
	}
	return task.Id
}

// Cancel removes a pending timer. It reports false if the timer already fired or never existed.
func (m *TimerManager) Cancel(timerId int64) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.tasks[timerId]
	if !ok {
		return false
	}
	heap.Remove(&m.queue, task.index)
	delete(m.tasks, timerId)
	return true
}

func (m *TimerManager) Pending() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.tasks)
}

// Stop drops all pending timers and ends the scheduling loop.
func (m *TimerManager) Stop() {
	m.once.Do(func() {
		close(m.done)
		m.mutex.Lock()
		m.queue = m.queue[:0]
		m.tasks = make(map[int64]*TimerTask)
		m.mutex.Unlock()
	})
}

func (m *TimerManager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *TimerManager) process() {
	t := time.NewTimer(time.Hour)
	defer t.Stop()

	for {
		due, next := m.popDue(time.Now())
		for _, task := range due {
			go task.Callback()
		}

		wait := time.Hour
		if !next.IsZero() {
			wait = time.Until(next)
		}
		t.Reset(wait)

		select {
		case <-m.done:
			return
		case <-m.wake:
		case <-t.C:
		}
	}
}

// popDue removes every task due at now and returns the next deadline, if any.
func (m *TimerManager) popDue(now time.Time) ([]*TimerTask, time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var due []*TimerTask
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			return due, task.Execute
		}
		heap.Pop(&m.queue)
		delete(m.tasks, task.Id)
		due = append(due, task)
	}
	return due, time.Time{}
}
