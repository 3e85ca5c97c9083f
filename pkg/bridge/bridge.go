// Package bridge arms a PIO state machine as a clock synchronized byte wide
// bus tap and closes it into a loop with a DMA channel: every sampled word
// is re-emitted one clock later without processor attention.
package bridge

import (
	"log"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/piobridge/pkg/chip"
	"github.com/robotalks/piobridge/pkg/dma"
	"github.com/robotalks/piobridge/pkg/gpio"
	"github.com/robotalks/piobridge/pkg/pio"
)

// noCopy makes go vet flag copies of a Bridge.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Bridge is the armed pipeline. There is no disarm: once Setup returns the
// state machine and the DMA channel run for the life of the chip.
type Bridge struct {
	noCopy noCopy

	chip    *chip.Chip
	opts    Options
	program *pio.Program
	block   *pio.Block
	sm      *pio.StateMachine
	offset  uint8
	cfg     pio.Config
}

// Stats is a snapshot of the pipeline.
type Stats struct {
	Ticks   uint64
	PC      uint8
	SM      pio.Stats
	DMA     dma.ChannelStats
	TxLevel int
	RxLevel int
	// Emitted is the word the chip drives on the output pins.
	Emitted uint8
	// Sampled is the level of the input pins.
	Sampled uint8
}

// Setup arms the bridge on c: load the program, build the configuration,
// apply the pin plan, initialize and enable the state machine, then start
// the DMA loopback. Any error leaves the chip as it was: claimed resources
// are released and pins restored, the state machine is never enabled and
// the channel never started.
func Setup(c *chip.Chip, opts Options) (*Bridge, error) {
	var b *Bridge
	err := c.Do(func(c *chip.Chip) (err error) {
		b, err = setup(c, opts)
		return
	})
	if err != nil {
		return nil, err
	}
	glog.Infof("bridge: armed pio%d sm%d at offset %d, dma %d, %s",
		opts.PIO, opts.StateMachine, b.offset, opts.DMAChannel, opts.Pins)
	return b, nil
}

// MustSetup is Setup failing the process on error.
func MustSetup(c *chip.Chip, opts Options) *Bridge {
	b, err := Setup(c, opts)
	if err != nil {
		log.Fatalln(err)
	}
	return b
}

type rollback []func()

func (r *rollback) add(fn func()) {
	*r = append(*r, fn)
}

func (r rollback) run() {
	for n := len(r) - 1; n >= 0; n-- {
		r[n]()
	}
}

func setup(c *chip.Chip, opts Options) (_ *Bridge, err error) {
	join, err := pio.ParseFIFOJoin(opts.FIFOJoin)
	if err != nil {
		return nil, err
	}
	if opts.PIO >= chip.PIOCount {
		return nil, errors.Wrapf(pio.ErrInvalidConfig, "pio%d", opts.PIO)
	}
	plan := opts.Pins
	if err = plan.Validate(c.GPIO().ReservedMask()); err != nil {
		return nil, errors.Wrap(err, "pin plan")
	}
	if plan.Shared() {
		glog.Warningf("bridge: data in and out share pins (%s)", plan)
	}

	var undo rollback
	defer func() {
		if err != nil {
			undo.run()
		}
	}()

	program := NewProgram(plan.Clock)
	block := c.PIO(opts.PIO)
	sm, err := block.ClaimStateMachine(opts.StateMachine)
	if err != nil {
		return nil, err
	}
	undo.add(func() { block.UnclaimStateMachine(sm) })

	offset, err := sm.Load(program)
	if err != nil {
		return nil, errors.Wrap(err, "load program")
	}
	cfg, err := BuildConfig(program, offset, plan, join)
	if err != nil {
		return nil, errors.Wrap(err, "build config")
	}
	if err = applyPins(c.GPIO(), sm, plan, gpio.FuncPIO(opts.PIO), &undo); err != nil {
		return nil, errors.Wrap(err, "apply pins")
	}
	if err = sm.Init(cfg); err != nil {
		return nil, errors.Wrap(err, "init state machine")
	}

	ctl := c.DMA()
	if err = ctl.Claim(opts.DMAChannel); err != nil {
		return nil, err
	}
	undo.add(func() { ctl.Unclaim(opts.DMAChannel) })
	dmaCfg := dma.DefaultChannelConfig(opts.DMAChannel)
	dmaCfg.DataSize = dma.Size32
	dmaCfg.ReadIncrement = false
	dmaCfg.WriteIncrement = false
	dmaCfg.Dreq = block.DreqRx(opts.StateMachine)
	err = ctl.Configure(opts.DMAChannel, dmaCfg,
		block.TxAddr(opts.StateMachine),
		block.RxAddr(opts.StateMachine),
		dma.Unbounded, false)
	if err != nil {
		return nil, errors.Wrap(err, "configure dma")
	}

	if err = sm.SetEnabled(true); err != nil {
		return nil, err
	}
	if err = ctl.Start(opts.DMAChannel); err != nil {
		return nil, err
	}
	return &Bridge{
		chip:    c,
		opts:    opts,
		program: program,
		block:   block,
		sm:      sm,
		offset:  offset,
		cfg:     cfg,
	}, nil
}

// applyPins hands data pins to the PIO block with their directions and
// leaves the clock pin on SIO as an input: it is watched, never driven.
func applyPins(bank *gpio.Bank, sm *pio.StateMachine, plan PinPlan, fn gpio.Function, undo *rollback) error {
	for _, e := range plan.Entries() {
		pin, prevFn, prevDir := e.Pin, bank.Function(e.Pin), bank.Dir(e.Pin)
		role := e.Role
		undo.add(func() {
			if role != RoleClock && prevFn != fn {
				sm.SetPinDirs(1<<pin, 0)
			}
			bank.SetFunction(pin, prevFn)
			bank.SetDir(pin, prevDir)
		})
		target := fn
		if e.Role == RoleClock {
			target = gpio.FuncSIO
		}
		if err := bank.SetFunction(e.Pin, target); err != nil {
			return err
		}
		if err := bank.SetDir(e.Pin, e.Dir); err != nil {
			return err
		}
		if e.Role != RoleClock {
			mask := uint32(1) << e.Pin
			sm.SetPinDirs(mask, uint32(e.Dir)<<e.Pin)
		}
	}
	return nil
}

// Config returns the configuration the state machine runs with.
func (b *Bridge) Config() pio.Config {
	return b.cfg
}

// Offset returns the load offset of the program.
func (b *Bridge) Offset() uint8 {
	return b.offset
}

// Program returns the loaded program.
func (b *Bridge) Program() *pio.Program {
	return b.program
}

// Options returns the options the bridge was armed with.
func (b *Bridge) Options() Options {
	return b.opts
}

// Stats takes a snapshot of the pipeline.
func (b *Bridge) Stats() Stats {
	var s Stats
	plan := b.opts.Pins
	b.chip.Inspect(func(c *chip.Chip) {
		s.PC = b.sm.PC()
		s.SM = b.sm.Stats()
		s.DMA = c.DMA().Stats(b.opts.DMAChannel)
		s.TxLevel = b.sm.TxFIFO().Len()
		s.RxLevel = b.sm.RxFIFO().Len()
		s.Emitted = uint8(c.GPIO().Outputs() >> plan.DataOut)
		s.Sampled = uint8(c.GPIO().Levels() >> plan.DataIn)
	})
	s.Ticks = b.chip.Ticks()
	return s
}

// Emitted returns the word the chip drives on the output pins.
func (b *Bridge) Emitted() uint8 {
	return uint8(b.chip.Outputs(b.opts.Pins.DataOut, WordBits))
}
