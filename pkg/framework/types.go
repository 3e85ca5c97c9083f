package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Task is a housekeeping job. The loop runs tasks between hardware events,
// they must not block.
type Task interface {
	Housekeep(Iteration) error
}

// TaskFunc is the func form of Task.
type TaskFunc func(Iteration) error

// Housekeep implements Task.
func (f TaskFunc) Housekeep(it Iteration) error {
	return f(it)
}

// TimeSource provides the time of the current iteration.
type TimeSource interface {
	Time() time.Time
}

// Iteration is one pass of the idle loop.
type Iteration interface {
	TimeSource
	// Context retrieves context.Context.
	Context() context.Context
	// Seq is the iteration number, starting from 1.
	Seq() uint64
	// PriorityLevel gets the current priority level.
	PriorityLevel() int
	// Once injects one-shot tasks at the current priority level. Called from
	// a one-shot task, the new tasks run in the next iteration.
	Once(tasks ...Task)

	LoopControl
}

// PriorityLevels is the total levels of priorities.
const PriorityLevels int = 8

// Predefined priority levels
const (
	PrLvTop    int = 0
	PrLvHigh   int = 2
	PrLvNormal int = 4
	PrLvLow    int = 6
	PrLvIdle   int = PriorityLevels - 1

	// PrLvSample collects statistics from the hardware.
	PrLvSample = PrLvHigh
	// PrLvPublish ships collected statistics.
	PrLvPublish = PrLvNormal
	// PrLvReport logs.
	PrLvReport = PrLvLow
)

// LoopControl exposes access to the idle loop.
type LoopControl interface {
	// OnceAt injects one-shot tasks at the priority level.
	OnceAt(priorityLevel int, tasks ...Task)
	// TriggerNext schedules the next iteration to be executed
	// immediately after the current iteration.
	TriggerNext()
}
