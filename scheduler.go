package rtsp

import (
	"sync/atomic"
	"time"
)

// taskToken identifies a delayed task. Zero is never issued.
type taskToken uint64

type stopper interface {
	Stop() bool
}

type delayedTask struct {
	ev    any
	timer stopper
}

type taskFired struct {
	token taskToken
}

const schedulerQueueSize = 64

// scheduler is the event loop of one session. Every event is dispatched on
// the goroutine that calls Run, one at a time, in arrival order.
type scheduler struct {
	events chan any
	wake   chan struct{}
	stop   atomic.Bool
	done   chan struct{}

	// owned by the Run goroutine
	tasks map[taskToken]*delayedTask
	next  taskToken

	afterFunc func(d time.Duration, f func()) stopper
}

func newScheduler() *scheduler {
	return &scheduler{
		events: make(chan any, schedulerQueueSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		tasks:  make(map[taskToken]*delayedTask),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Post queues the event for dispatch. Safe for concurrent use.
// Events posted after the loop has exited are dropped.
func (s *scheduler) Post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// ScheduleDelayedTask dispatches ev after d unless the task is unscheduled
// first. Must be called from the loop goroutine.
func (s *scheduler) ScheduleDelayedTask(d time.Duration, ev any) taskToken {
	s.next++
	token := s.next

	s.tasks[token] = &delayedTask{
		ev: ev,
		timer: s.afterFunc(d, func() {
			s.Post(taskFired{token: token})
		}),
	}

	return token
}

// UnscheduleDelayedTask cancels the task. A zero or already fired token is
// ignored. Must be called from the loop goroutine.
func (s *scheduler) UnscheduleDelayedTask(token taskToken) {
	task, ok := s.tasks[token]
	if !ok {
		return
	}

	task.timer.Stop()
	delete(s.tasks, token)
}

// Run dispatches events until Stop is called. The stop flag is checked on
// every iteration.
func (s *scheduler) Run(dispatch func(ev any)) {
	defer close(s.done)

	for !s.stop.Load() {
		select {
		case ev := <-s.events:
			if fired, ok := ev.(taskFired); ok {
				task, ok := s.tasks[fired.token]
				if !ok {
					// unscheduled after the timer went off
					continue
				}
				delete(s.tasks, fired.token)
				ev = task.ev
			}

			dispatch(ev)

		case <-s.wake:
		}
	}

	for token, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, token)
	}
}

// Stop sets the stop flag and wakes the loop.
func (s *scheduler) Stop() {
	s.stop.Store(true)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (s *scheduler) Done() <-chan struct{} {
	return s.done
}
