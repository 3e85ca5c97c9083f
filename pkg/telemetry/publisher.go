package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	fx "github.com/robotalks/piobridge/pkg/framework"
)

// Publisher is the housekeeping task collecting and shipping snapshots.
type Publisher struct {
	Source   string
	Interval time.Duration
	Bridge   StatsSource
	Sinks    []PacketWriter

	seq     uint64
	lastAt  time.Time
	forced  int32
	last    *Snapshot
	lastErr error
}

// NewPublisher creates a Publisher from the config.
func (c *Config) NewPublisher(src StatsSource, sinks ...PacketWriter) *Publisher {
	return &Publisher{
		Source:   c.SourceID(),
		Interval: c.Interval,
		Bridge:   src,
		Sinks:    sinks,
	}
}

// AddToLoop implements framework.LoopAdder. Sinks that are Runnable start
// with the loop.
func (p *Publisher) AddToLoop(l *fx.Loop) {
	l.AddTask(fx.PrLvPublish, p)
	for _, sink := range p.Sinks {
		if runner, ok := sink.(fx.Runnable); ok {
			l.AddRunnable(runner)
		}
	}
}

// Force makes the next iteration publish regardless of the interval.
func (p *Publisher) Force() {
	atomic.StoreInt32(&p.forced, 1)
}

// Last returns the most recently published snapshot, nil before the first.
func (p *Publisher) Last() *Snapshot {
	return p.last
}

func (p *Publisher) due(now time.Time) bool {
	if atomic.SwapInt32(&p.forced, 0) != 0 {
		return true
	}
	return p.lastAt.IsZero() || now.Sub(p.lastAt) >= p.Interval
}

// Housekeep implements framework.Task.
func (p *Publisher) Housekeep(it fx.Iteration) error {
	now := it.Time()
	if !p.due(now) {
		return nil
	}
	p.lastAt = now
	p.seq++
	snap := Collect(p.Bridge, p.Source, p.seq, now)
	data, err := snap.Encode()
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	p.last = snap
	var errs fx.AggregatedError
	for _, sink := range p.Sinks {
		errs.Add(sink.WritePacket(data))
	}
	err = errs.Aggregate()
	switch {
	case err != nil && p.lastErr == nil:
		glog.Warningf("telemetry: publish: %v", err)
	case err == nil && p.lastErr != nil:
		glog.Info("telemetry: publishing again")
	}
	p.lastErr = err
	glog.V(3).Infof("telemetry: %s", snap)
	return nil
}

// Reporter logs a one-line summary of the bridge at Info.
type Reporter struct {
	Interval time.Duration
	Bridge   StatsSource

	lastAt time.Time
	prev   *Snapshot
}

// AddToLoop implements framework.LoopAdder.
func (r *Reporter) AddToLoop(l *fx.Loop) {
	l.AddTask(fx.PrLvReport, r)
}

// Housekeep implements framework.Task.
func (r *Reporter) Housekeep(it fx.Iteration) error {
	now := it.Time()
	if !r.lastAt.IsZero() && now.Sub(r.lastAt) < r.Interval {
		return nil
	}
	snap := Collect(r.Bridge, "", it.Seq(), now)
	if prev := r.prev; prev != nil {
		glog.Infof("bridge: %d edges, %d transfers, %d underruns in %v, last %#02x -> %#02x",
			snap.Pushes-prev.Pushes, snap.Transfers-prev.Transfers, snap.Underruns-prev.Underruns,
			now.Sub(r.lastAt).Round(time.Millisecond), snap.Sampled, snap.Emitted)
	}
	r.lastAt, r.prev = now, snap
	return nil
}
