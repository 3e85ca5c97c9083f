package stimulus

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/robotalks/piobridge/pkg/chip"
	"github.com/robotalks/piobridge/pkg/gpio"
)

// WordBits is the width of the data bus.
const WordBits = 8

// Config configures a Driver.
type Config struct {
	// DataIn is the first pin the driver presents words on.
	DataIn uint8
	// DataOut is the first pin the driver samples.
	DataOut uint8
	// Clock is the bus clock pin.
	Clock uint8
	// Period is the bus clock period.
	Period time.Duration
	// Edges stops the driver after that many falling edges, 0 runs until
	// the pattern ends or the context is done.
	Edges int
	// Lockstep settles the chip after every clock level change instead of
	// waiting half a period for the chip timeline.
	Lockstep bool
}

var defaultConfig = Config{
	Clock:  8,
	Period: time.Millisecond,
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.DurationVar(&defaultConfig.Period, "stimulus-period", defaultConfig.Period, "Bus clock period of the stimulus.")
	flag.IntVar(&defaultConfig.Edges, "stimulus-edges", defaultConfig.Edges, "Falling edges to drive, 0 for unlimited.")
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Sample is what the driver saw at one falling edge.
type Sample struct {
	// Edge counts falling edges from 1.
	Edge int
	// Presented is the word on the input pins at this edge.
	Presented uint8
	// Emitted is the word on the output pins after this edge settled.
	Emitted uint8
	// Expected is the word presented at the previous edge, valid from the
	// second edge on.
	Expected uint8
}

// Valid reports whether Expected is meaningful.
func (s Sample) Valid() bool {
	return s.Edge > 1
}

// Match reports whether the bridge echoed the previous word.
func (s Sample) Match() bool {
	return !s.Valid() || s.Emitted == s.Expected
}

// Stats counts driven edges and echo mismatches.
type Stats struct {
	Edges      int
	Mismatches int
	Last       Sample
}

// Driver clocks the bus of a chip.
type Driver struct {
	Config   Config
	Pattern  Pattern
	OnSample func(Sample)

	chip  *chip.Chip
	lock  sync.Mutex
	stats Stats
}

// NewDriver creates a Driver for c.
func (c Config) NewDriver(ch *chip.Chip, p Pattern) *Driver {
	if c.Period <= 0 {
		c.Period = defaultConfig.Period
	}
	return &Driver{Config: c, Pattern: p, chip: ch}
}

// Name implements framework.Named.
func (d *Driver) Name() string {
	return "stimulus"
}

// Stats returns a copy of the counters.
func (d *Driver) Stats() Stats {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.stats
}

func (d *Driver) wait(ctx context.Context) error {
	if d.Config.Lockstep {
		d.chip.Settle(d.chip.Config().Burst)
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.Config.Period / 2):
		return nil
	}
}

func (d *Driver) clock(ctx context.Context, level gpio.State) error {
	if err := d.chip.DriveExternal(d.Config.Clock, level); err != nil {
		return errors.Wrap(err, "drive clock")
	}
	return d.wait(ctx)
}

// Run implements framework.Runnable. It returns nil once the pattern or the
// edge budget is exhausted.
func (d *Driver) Run(ctx context.Context) error {
	glog.Infof("stimulus: %v on gpio %d, clock gpio %d, period %v",
		d.Pattern, d.Config.DataIn, d.Config.Clock, d.Config.Period)
	if err := d.clock(ctx, gpio.High); err != nil {
		return err
	}
	var prev uint8
	for n := 0; d.Config.Edges == 0 || n < d.Config.Edges; n++ {
		w, ok := d.Pattern.Word(n)
		if !ok {
			break
		}
		if err := d.chip.DriveByte(d.Config.DataIn, WordBits, uint32(w)); err != nil {
			return errors.Wrap(err, "present word")
		}
		if err := d.clock(ctx, gpio.Low); err != nil {
			return err
		}
		s := Sample{
			Edge:      n + 1,
			Presented: w,
			Emitted:   uint8(d.chip.Outputs(d.Config.DataOut, WordBits)),
			Expected:  prev,
		}
		d.record(s)
		prev = w
		if err := d.clock(ctx, gpio.High); err != nil {
			return err
		}
	}
	glog.Infof("stimulus: done, %d edges, %d mismatches", d.Stats().Edges, d.Stats().Mismatches)
	return nil
}

func (d *Driver) record(s Sample) {
	d.lock.Lock()
	d.stats.Edges++
	if !s.Match() {
		d.stats.Mismatches++
		glog.Warningf("stimulus: edge %d emitted %#02x, expected %#02x", s.Edge, s.Emitted, s.Expected)
	} else {
		glog.V(2).Infof("stimulus: edge %d presented %#02x emitted %#02x", s.Edge, s.Presented, s.Emitted)
	}
	d.stats.Last = s
	d.lock.Unlock()
	if fn := d.OnSample; fn != nil {
		fn(s)
	}
}

// Simulate runs the chip timeline and the driver together until the driver
// finishes, either fails, or ctx is done.
func Simulate(ctx context.Context, c *chip.Chip, d *Driver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errGrp, gCtx := errgroup.WithContext(ctx)
	errGrp.Go(func() error {
		err := c.Run(gCtx)
		if errors.Cause(err) == context.Canceled {
			return nil
		}
		return err
	})
	errGrp.Go(func() error {
		defer cancel()
		return d.Run(gCtx)
	})
	return errGrp.Wait()
}
