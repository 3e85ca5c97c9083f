// Package chip assembles the simulated microcontroller: pin bank, two PIO
// blocks, the DMA controller and the register bus that ties them together.
//
// The chip is a hardware timeline of its own. Run steps it on a goroutine
// while there is work and parks it while every state machine is stalled and
// no DMA request is pending; a pin change wakes it up. Control code touches
// the chip only through Do and Inspect, which serialize with the timeline.
package chip

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/piobridge/pkg/dma"
	"github.com/robotalks/piobridge/pkg/gpio"
	"github.com/robotalks/piobridge/pkg/pio"
)

// PIOCount is the number of PIO blocks.
const PIOCount = 2

// Config configures a Chip.
type Config struct {
	// SysClockHz is the system clock, used to convert ticks to time.
	SysClockHz uint32
	// Reserved pins are refused to SetFunction.
	Reserved []uint8
	// LevelWait makes WAIT level sensitive instead of consuming one edge
	// per WAIT.
	LevelWait bool
	// SRAMWords is the size of the scratch memory at SRAMBase.
	SRAMWords int
	// Burst is the most ticks Run executes per lock acquisition.
	Burst int
}

// DefaultConfig returns the configuration of a Pico board.
func DefaultConfig() Config {
	return Config{
		SysClockHz: 125000000,
		Reserved:   append([]uint8(nil), gpio.PicoReserved...),
		SRAMWords:  1024,
		Burst:      4096,
	}
}

// Chip is the simulated microcontroller.
type Chip struct {
	cfg Config

	lock  sync.Mutex
	gpio  *gpio.Bank
	pio   [PIOCount]*pio.Block
	dma   *dma.Controller
	bus   Bus
	sram  RAM
	ticks uint64

	wakeCh chan struct{}
}

// New creates a chip.
func New(cfg Config) *Chip {
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	c := &Chip{
		cfg:    cfg,
		gpio:   gpio.NewBank(cfg.Reserved...),
		sram:   make(RAM, cfg.SRAMWords),
		wakeCh: make(chan struct{}, 1),
	}
	for n := range c.pio {
		block := pio.NewBlock(uint8(n), c.gpio.Port(gpio.FuncPIO(uint8(n))), gpio.PinCount)
		if cfg.LevelWait {
			for sm := uint8(0); sm < pio.StateMachineCount; sm++ {
				block.StateMachine(sm).SetEdgeDetector(pio.LevelSense{})
			}
		}
		c.pio[n] = block
		c.mustMap(Region{
			Name:    fmt.Sprintf("pio%d", n),
			Start:   block.BaseAddr(),
			Size:    pio.RegionSize,
			OnRead:  block.ReadReg,
			OnWrite: block.WriteReg,
		})
	}
	c.dma = dma.NewController(&c.bus, c)
	c.mustMap(c.sram.Region("sram", SRAMBase))
	c.mustMap(Region{
		Name:    "sio",
		Start:   SIOBase,
		Size:    0x100,
		OnRead:  c.readSIO,
		OnWrite: c.writeSIO,
	})
	c.gpio.OnChange(func(pin uint8, level bool) {
		for _, block := range c.pio {
			block.Observe(pin, level)
		}
		c.Wake()
	})
	return c
}

func (c *Chip) mustMap(r Region) {
	if err := c.bus.MapIO(r); err != nil {
		panic(err)
	}
}

func (c *Chip) readSIO(offset uint32) uint32 {
	switch offset {
	case SIOGPIOIn:
		return c.gpio.Levels()
	}
	return 0
}

func (c *Chip) writeSIO(offset uint32, v uint32) {
	for pin := uint8(0); pin < gpio.PinCount; pin++ {
		bit := v&(1<<pin) != 0
		switch offset {
		case SIOGPIOOut:
			c.gpio.Put(pin, bit)
		case SIOGPIOOE:
			dir := gpio.Input
			if bit {
				dir = gpio.Output
			}
			c.gpio.SetDir(pin, dir)
		}
	}
}

// Config returns the configuration.
func (c *Chip) Config() Config {
	return c.cfg
}

// GPIO returns the pin bank. Use inside Do or Inspect.
func (c *Chip) GPIO() *gpio.Bank {
	return c.gpio
}

// PIO returns PIO block n. Use inside Do or Inspect.
func (c *Chip) PIO(n uint8) *pio.Block {
	return c.pio[n%PIOCount]
}

// DMA returns the DMA controller. Use inside Do or Inspect.
func (c *Chip) DMA() *dma.Controller {
	return c.dma
}

// Bus returns the register bus. Use inside Do or Inspect.
func (c *Chip) Bus() *Bus {
	return &c.bus
}

// Dreq implements dma.DreqSource.
func (c *Chip) Dreq(dreq uint8) bool {
	for _, block := range c.pio {
		if level, ok := block.Dreq(dreq); ok {
			return level
		}
	}
	return false
}

// Ticks returns the number of elapsed system clock cycles.
func (c *Chip) Ticks() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ticks
}

// step advances one system clock: state machines first, then DMA, so a
// word pushed by a state machine is moved no earlier than the cycle it was
// pushed in and seen by a state machine no earlier than the next one.
func (c *Chip) step() bool {
	c.ticks++
	progressed := false
	for _, block := range c.pio {
		if block.Tick() {
			progressed = true
		}
	}
	if c.dma.Step() {
		progressed = true
	}
	return progressed
}

// Step advances one system clock and reports whether anything progressed.
func (c *Chip) Step() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.step()
}

// Settle steps until nothing progresses or max ticks elapse, and returns
// the number of ticks run.
func (c *Chip) Settle(max int) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.settle(max)
}

func (c *Chip) settle(max int) int {
	for n := 1; n <= max; n++ {
		if !c.step() {
			return n
		}
	}
	return max
}

// Wake makes a parked Run resume stepping.
func (c *Chip) Wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// Run is the hardware timeline. It returns when ctx is done.
func (c *Chip) Run(ctx context.Context) error {
	glog.V(1).Info("chip: running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.lock.Lock()
		n := c.settle(c.cfg.Burst)
		c.lock.Unlock()
		if n < c.cfg.Burst {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.wakeCh:
			}
		}
	}
}

// Do runs fn holding the chip and wakes the timeline afterwards.
func (c *Chip) Do(fn func(*Chip) error) error {
	c.lock.Lock()
	err := fn(c)
	c.lock.Unlock()
	c.Wake()
	return err
}

// Inspect runs fn holding the chip, for reading state.
func (c *Chip) Inspect(fn func(*Chip)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	fn(c)
}

// DriveExternal sets what the outside world drives onto pin.
func (c *Chip) DriveExternal(pin uint8, s gpio.State) error {
	return c.Do(func(c *Chip) error {
		return c.gpio.DriveExternal(pin, s)
	})
}

// DriveByte drives width pins from base externally with the bits of v.
func (c *Chip) DriveByte(base, width uint8, v uint32) error {
	return c.Do(func(c *Chip) error {
		for n := uint8(0); n < width; n++ {
			s := gpio.Low
			if v&(1<<n) != 0 {
				s = gpio.High
			}
			if err := c.gpio.DriveExternal(base+n, s); err != nil {
				return errors.Wrapf(err, "drive bit %d", n)
			}
		}
		return nil
	})
}

// Outputs returns the levels the chip drives on width pins from base.
func (c *Chip) Outputs(base, width uint8) uint32 {
	var v uint32
	c.Inspect(func(c *Chip) {
		v = c.gpio.Outputs() >> base & (1<<width - 1)
	})
	return v
}
