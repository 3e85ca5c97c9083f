package framework

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is the housekeeping period when nothing triggers the loop.
const DefaultInterval = 100 * time.Millisecond

// Loop is where the control thread parks once the hardware is armed. It
// wakes on its interval or TriggerNext and runs housekeeping tasks by
// priority, it never spins.
type Loop struct {
	Interval time.Duration

	tasks   [PriorityLevels]taskList
	runners []Runnable

	seq      uint64
	wakeUpCh chan struct{}
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

type loopCtl struct {
	*Loop
}

type loopIteration struct {
	loopCtl
	ctx           context.Context
	time          time.Time
	seq           uint64
	priorityLevel int
}

type taskList struct {
	once  []Task
	tasks []Task
	lock  sync.Mutex
}

var (
	loopCtxKey = &Loop{}
)

// LoopCtlFrom gets LoopControl from context.
func LoopCtlFrom(ctx context.Context) LoopControl {
	return ctx.Value(loopCtxKey).(LoopControl)
}

// IterationFrom gets the Iteration from the context of a task.
func IterationFrom(ctx context.Context) Iteration {
	return ctx.Value(loopCtxKey).(Iteration)
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{
		Interval: DefaultInterval,
		wakeUpCh: make(chan struct{}, 1),
	}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddTask registers tasks run in every iteration. A task also implementing
// Runnable is started with the loop.
func (l *Loop) AddTask(priorityLevel int, tasks ...Task) *Loop {
	lst := &l.tasks[priorityLevel]
	lst.lock.Lock()
	lst.tasks = append(lst.tasks, tasks...)
	lst.lock.Unlock()
	for _, task := range tasks {
		if runner, ok := task.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds Runnables started with the loop.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Iterations returns the number of completed iterations.
func (l *Loop) Iterations() uint64 {
	return atomic.LoadUint64(&l.seq)
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}

	runner := NewRunnerWith(context.WithValue(ctx, loopCtxKey, &loopCtl{l}))
	runner.Go(l.runners...)

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := runner.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			l.runIteration(ctx)
		case <-l.wakeUpCh:
			l.runIteration(ctx)
		}
	}
}

// RunOrFail is intended to be used in main to simply run the loop.
func (l *Loop) RunOrFail(ctx context.Context) {
	if err := l.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalln(err)
	}
}

// OnceAt implements LoopControl.
func (l *Loop) OnceAt(priorityLevel int, tasks ...Task) {
	lst := &l.tasks[priorityLevel]
	lst.lock.Lock()
	lst.once = append(lst.once, tasks...)
	lst.lock.Unlock()
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

func (l *Loop) runIteration(ctx context.Context) {
	iter := &loopIteration{
		loopCtl: loopCtl{l},
		time:    time.Now(),
		seq:     atomic.LoadUint64(&l.seq) + 1,
	}
	iter.ctx = context.WithValue(ctx, loopCtxKey, iter)
	for i := 0; i < PriorityLevels; i++ {
		iter.priorityLevel = i
		l.tasks[i].run(iter)
	}
	atomic.StoreUint64(&l.seq, iter.seq)
}

func (t *loopIteration) Context() context.Context {
	return t.ctx
}

func (t *loopIteration) Time() time.Time {
	return t.time
}

func (t *loopIteration) Seq() uint64 {
	return t.seq
}

func (t *loopIteration) PriorityLevel() int {
	return t.priorityLevel
}

func (t *loopIteration) Once(tasks ...Task) {
	t.OnceAt(t.priorityLevel, tasks...)
}

func (c *taskList) run(iter *loopIteration) {
	c.lock.Lock()
	once, tasks := c.once, c.tasks
	c.once = nil
	c.lock.Unlock()
	runTasks(iter, tasks)
	runTasks(iter, once)
}

func runTasks(iter *loopIteration, tasks []Task) {
	for _, task := range tasks {
		if err := task.Housekeep(iter); err != nil {
			glog.Errorf("housekeeping error: %v", err)
		}
	}
}
