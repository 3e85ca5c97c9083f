package bridge

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/piobridge/pkg/chip"
	"github.com/robotalks/piobridge/pkg/dma"
	"github.com/robotalks/piobridge/pkg/gpio"
	"github.com/robotalks/piobridge/pkg/pio"
)

const settleTicks = 256

// topOffset is where the program lands in an empty block.
const topOffset = pio.InstructionMemorySize - ProgramLength

func clockEdge(t *testing.T, c *chip.Chip, clock uint8) {
	require.NoError(t, c.DriveExternal(clock, gpio.High))
	c.Settle(settleTicks)
	require.NoError(t, c.DriveExternal(clock, gpio.Low))
	c.Settle(settleTicks)
}

func disjointOptions() Options {
	opts := *NewOptions()
	opts.Pins = PinPlan{DataIn: 0, DataOut: 10, Clock: 8}
	return opts
}

func TestSetupDefault(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	b, err := Setup(c, *NewOptions())
	require.NoError(t, err)

	cfg := b.Config()
	assert.Equal(t, uint8(topOffset), b.Offset())
	assert.Equal(t, b.Offset(), cfg.WrapTarget)
	assert.Equal(t, b.Offset()+ProgramLength-1, cfg.WrapTop)
	assert.True(t, cfg.Autopush)
	assert.True(t, cfg.Autopull)
	assert.False(t, cfg.InShiftRight)
	assert.True(t, cfg.OutShiftRight)
	assert.Equal(t, uint8(WordBits), cfg.PushBits())
	assert.Equal(t, uint8(WordBits), cfg.PullBits())
	assert.Equal(t, uint8(8), cfg.SidesetBase)
	assert.Zero(t, cfg.SidesetCount)
	assert.Equal(t, uint8(5), cfg.SetCount)
	assert.Equal(t, pio.FIFOJoinNone, cfg.FIFOJoin)

	c.Inspect(func(c *chip.Chip) {
		for pin := uint8(0); pin < WordBits; pin++ {
			assert.Equal(t, gpio.FuncPIO(1), c.GPIO().Function(pin))
			assert.Equal(t, gpio.Output, c.GPIO().Dir(pin))
		}
		assert.Equal(t, gpio.FuncSIO, c.GPIO().Function(8))
		assert.Equal(t, gpio.Input, c.GPIO().Dir(8))
		sm := c.PIO(1).StateMachine(0)
		assert.True(t, sm.Enabled())
		assert.Equal(t, b.Offset(), sm.PC())
		ch := c.DMA().Config(0)
		assert.Equal(t, dma.Size32, ch.DataSize)
		assert.False(t, ch.ReadIncrement)
		assert.False(t, ch.WriteIncrement)
		assert.Equal(t, uint8(12), ch.Dreq)
		st := c.DMA().Stats(0)
		assert.True(t, st.Busy)
		assert.Equal(t, pio.PIO1Base+pio.RegRXF0, st.ReadAddr)
		assert.Equal(t, pio.PIO1Base+pio.RegTXF0, st.WriteAddr)
		assert.Equal(t, dma.Unbounded, st.Remaining)
	})
}

func TestLoopbackSecondEdge(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	b, err := Setup(c, *NewOptions())
	require.NoError(t, err)

	require.NoError(t, c.DriveByte(0, WordBits, 0xb1))
	clockEdge(t, c, 8)
	assert.NotEqual(t, uint8(0xb1), b.Emitted())
	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.SM.Pushes)
	assert.Equal(t, uint64(1), stats.DMA.Transfers)
	assert.Equal(t, uint32(0xb1), stats.DMA.LastWord)
	assert.Equal(t, uint64(1), stats.SM.Underruns)

	clockEdge(t, c, 8)
	assert.Equal(t, uint8(0xb1), b.Emitted())
	stats = b.Stats()
	assert.Equal(t, uint64(2), stats.SM.Pushes)
	assert.Equal(t, uint64(2), stats.SM.Pulls)
	assert.Equal(t, b.Offset(), stats.PC)
}

func TestLoopbackLatency(t *testing.T) {
	words := []uint8{0x00, 0xff, 0x5a, 0xa5, 0x01, 0x80, 0x3c, 0xc3, 0x7e, 0x42}
	for _, opts := range []Options{*NewOptions(), disjointOptions()} {
		t.Run(opts.Pins.String(), func(t *testing.T) {
			c := chip.New(chip.DefaultConfig())
			b, err := Setup(c, opts)
			require.NoError(t, err)
			for n, w := range words {
				require.NoError(t, c.DriveByte(opts.Pins.DataIn, WordBits, uint32(w)))
				clockEdge(t, c, opts.Pins.Clock)
				if n > 0 {
					assert.Equal(t, words[n-1], b.Emitted(), "edge %d", n+1)
				}
				stats := b.Stats()
				assert.Equal(t, uint64(n+1), stats.SM.Pushes)
				assert.Equal(t, uint64(n+1), stats.DMA.Transfers)
				assert.Zero(t, stats.RxLevel)
				assert.Zero(t, stats.TxLevel)
				// wrap keeps the program at its offset between edges
				assert.Equal(t, b.Offset(), stats.PC)
			}
		})
	}
}

func TestStalledClock(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	b, err := Setup(c, disjointOptions())
	require.NoError(t, err)

	require.NoError(t, c.Do(func(c *chip.Chip) error {
		return c.Bus().Write32(pio.PIO1Base+pio.RegTXF0, 0x77)
	}))
	for n := 0; n < 8; n++ {
		require.NoError(t, c.DriveByte(0, WordBits, uint32(n)))
		for i := 0; i < 100; i++ {
			c.Step()
		}
	}
	stats := b.Stats()
	assert.Zero(t, stats.SM.Pushes)
	assert.Zero(t, stats.SM.Pulls)
	assert.Zero(t, stats.SM.Executed)
	assert.Zero(t, stats.DMA.Transfers)
	assert.Zero(t, stats.RxLevel)
	assert.Equal(t, 1, stats.TxLevel)
	assert.Equal(t, b.Offset(), stats.PC)
	assert.Zero(t, b.Emitted())
}

func TestSetupIdempotent(t *testing.T) {
	type snapshot struct {
		fns  [gpio.PinCount]gpio.Function
		dirs [gpio.PinCount]gpio.Direction
	}
	arm := func() (*Bridge, snapshot) {
		c := chip.New(chip.DefaultConfig())
		b, err := Setup(c, *NewOptions())
		require.NoError(t, err)
		var s snapshot
		c.Inspect(func(c *chip.Chip) {
			for pin := uint8(0); pin < gpio.PinCount; pin++ {
				s.fns[pin] = c.GPIO().Function(pin)
				s.dirs[pin] = c.GPIO().Dir(pin)
			}
		})
		return b, s
	}
	b1, s1 := arm()
	b2, s2 := arm()
	assert.Equal(t, b1.Config(), b2.Config())
	assert.Equal(t, b1.Offset(), b2.Offset())
	assert.Equal(t, s1, s2)
}

func TestSetupTwice(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	b, err := Setup(c, disjointOptions())
	require.NoError(t, err)

	_, err = Setup(c, disjointOptions())
	require.Error(t, err)
	assert.Equal(t, pio.ErrNoStateMachine, errors.Cause(err))

	require.NoError(t, c.DriveByte(0, WordBits, 0x12))
	clockEdge(t, c, 8)
	require.NoError(t, c.DriveByte(0, WordBits, 0x34))
	clockEdge(t, c, 8)
	assert.Equal(t, uint8(0x12), b.Emitted())
}

func TestSetupSecondStateMachine(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	b1, err := Setup(c, disjointOptions())
	require.NoError(t, err)

	opts := disjointOptions()
	opts.StateMachine = 1
	opts.DMAChannel = 1
	opts.Pins = PinPlan{DataIn: 0, DataOut: 10, Clock: 9}
	b2, err := Setup(c, opts)
	require.NoError(t, err)
	assert.Equal(t, uint8(topOffset), b1.Offset())
	assert.Equal(t, uint8(topOffset-ProgramLength), b2.Offset())
	c.Inspect(func(c *chip.Chip) {
		assert.Equal(t, uint32(0xff000000), c.PIO(1).UsedMask())
	})

	// both watch their own clock
	require.NoError(t, c.DriveByte(0, WordBits, 0x66))
	clockEdge(t, c, 9)
	clockEdge(t, c, 9)
	assert.Equal(t, uint64(2), b2.Stats().SM.Pushes)
	assert.Zero(t, b1.Stats().SM.Pushes)
}

func TestSetupProgramSpace(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	filler := &pio.Program{
		Instructions: []uint16{pio.EncodeNop(), pio.EncodeNop(), pio.EncodeNop(), pio.EncodeNop()},
		Origin:       pio.AutoOrigin,
	}
	require.NoError(t, c.Do(func(c *chip.Chip) error {
		for n := 0; n < pio.InstructionMemorySize/ProgramLength; n++ {
			if _, err := c.PIO(1).AddProgram(filler); err != nil {
				return err
			}
		}
		return nil
	}))

	_, err := Setup(c, *NewOptions())
	require.Error(t, err)
	assert.Equal(t, pio.ErrNoProgramSpace, errors.Cause(err))
	c.Inspect(func(c *chip.Chip) {
		assert.False(t, c.PIO(1).Claimed(0))
		assert.False(t, c.DMA().Claimed(0))
		for pin := uint8(0); pin <= 8; pin++ {
			assert.Equal(t, gpio.FuncNull, c.GPIO().Function(pin))
		}
	})
}

func TestSetupRollback(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	require.NoError(t, c.Do(func(c *chip.Chip) error {
		return c.DMA().Claim(0)
	}))

	_, err := Setup(c, disjointOptions())
	require.Error(t, err)
	assert.Equal(t, dma.ErrChannelClaimed, errors.Cause(err))
	c.Inspect(func(c *chip.Chip) {
		block := c.PIO(1)
		assert.False(t, block.Claimed(0))
		assert.Zero(t, block.UsedMask())
		assert.Equal(t, pio.StateUnloaded, block.StateMachine(0).State())
		for _, pin := range []uint8{0, 7, 8, 10, 17} {
			assert.Equal(t, gpio.FuncNull, c.GPIO().Function(pin), "gpio %d", pin)
			assert.Equal(t, gpio.Input, c.GPIO().Dir(pin), "gpio %d", pin)
		}
		assert.True(t, c.DMA().Claimed(0))
		assert.False(t, c.DMA().Stats(0).Busy)
	})
}

func TestSetupRejects(t *testing.T) {
	testCases := []struct {
		name  string
		opts  func(*Options)
		cause error
	}{
		{"tx join", func(o *Options) { o.FIFOJoin = "tx" }, ErrNoInboundFIFO},
		{"rx join", func(o *Options) { o.FIFOJoin = "rx" }, ErrNoOutboundFIFO},
		{"bad join", func(o *Options) { o.FIFOJoin = "both" }, pio.ErrInvalidConfig},
		{"bad pio", func(o *Options) { o.PIO = 2 }, pio.ErrInvalidConfig},
		{"bad sm", func(o *Options) { o.StateMachine = 4 }, pio.ErrNoStateMachine},
		{"bad channel", func(o *Options) { o.DMAChannel = dma.ChannelCount }, dma.ErrChannelRange},
		{"shared without allow", func(o *Options) { o.Pins.AllowSharedData = false }, ErrPinConflict},
		{"clock in data", func(o *Options) { o.Pins.Clock = 3 }, ErrPinConflict},
		{"reserved", func(o *Options) { o.Pins.DataOut = 20 }, gpio.ErrReserved},
		{"out of range", func(o *Options) { o.Pins.Clock = 30 }, gpio.ErrPinRange},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := chip.New(chip.DefaultConfig())
			opts := NewOptions()
			tc.opts(opts)
			_, err := Setup(c, *opts)
			require.Error(t, err)
			assert.Equal(t, tc.cause, errors.Cause(err))
			c.Inspect(func(c *chip.Chip) {
				assert.Zero(t, c.PIO(1).UsedMask())
				assert.Equal(t, gpio.FuncNull, c.GPIO().Function(0))
			})
		})
	}
}

func TestPinPlanValidate(t *testing.T) {
	reserved := uint32(1<<23 | 1<<24 | 1<<25 | 1<<29)
	testCases := []struct {
		plan  PinPlan
		cause error
		pin   uint8
	}{
		{PinPlan{DataIn: 0, DataOut: 10, Clock: 8}, nil, 0},
		{PinPlan{DataIn: 0, DataOut: 0, Clock: 8, AllowSharedData: true}, nil, 0},
		{PinPlan{DataIn: 0, DataOut: 4, Clock: 20}, ErrPinConflict, 4},
		{PinPlan{DataIn: 0, DataOut: 10, Clock: 12}, ErrPinConflict, 12},
		{PinPlan{DataIn: 0, DataOut: 10, Clock: 12, AllowSharedData: true}, ErrPinConflict, 12},
		{PinPlan{DataIn: 16, DataOut: 0, Clock: 8}, gpio.ErrReserved, 23},
		{PinPlan{DataIn: 0, DataOut: 10, Clock: 31}, gpio.ErrPinRange, 31},
	}
	for _, tc := range testCases {
		t.Run(tc.plan.String(), func(t *testing.T) {
			err := tc.plan.Validate(reserved)
			if tc.cause == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.cause, errors.Cause(err))
			var pce *PinConflictError
			require.True(t, errors.As(err, &pce))
			assert.Equal(t, tc.pin, pce.Pin)
		})
	}
}

func TestPinPlanMasks(t *testing.T) {
	p := PinPlan{DataIn: 2, DataOut: 12, Clock: 1}
	assert.Equal(t, uint32(0x3fc), p.InMask())
	assert.Equal(t, uint32(0xff000), p.OutMask())
	assert.False(t, p.Shared())
	entries := p.Entries()
	require.Len(t, entries, 2*WordBits+1)
	assert.Equal(t, PinEntry{Pin: 2, Role: RoleInput, Dir: gpio.Input}, entries[0])
	assert.Equal(t, PinEntry{Pin: 12, Role: RoleOutput, Dir: gpio.Output}, entries[WordBits])
	assert.Equal(t, PinEntry{Pin: 1, Role: RoleClock, Dir: gpio.Input}, entries[2*WordBits])
	assert.Equal(t, "in=2..9 out=12..19 clock=1", p.String())
}

func TestProgram(t *testing.T) {
	p := NewProgram(8)
	require.Equal(t, ProgramLength, int(p.Length()))
	assert.Equal(t, "wait 0 gpio 8", pio.Decode(p.Instructions[0]).String())
	assert.Equal(t, "in pins, 8", pio.Decode(p.Instructions[1]).String())
	assert.Equal(t, "out pins, 8", pio.Decode(p.Instructions[2]).String())

	relocated := p.Relocate(28)
	assert.Equal(t, pio.EncodeJmp(28, pio.JmpAlways), relocated[3])
	target, top := p.Wrap(28)
	assert.Equal(t, uint8(28), target)
	assert.Equal(t, uint8(31), top)
}

func TestOptionsLoadFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(`
sm: 2
dma_channel: 3
pins:
  data_out: 10
  allow_shared_data: false
`), 0644))
	opts := NewOptions()
	require.NoError(t, opts.LoadFile(fn))
	assert.Equal(t, uint8(1), opts.PIO)
	assert.Equal(t, uint8(2), opts.StateMachine)
	assert.Equal(t, uint8(3), opts.DMAChannel)
	assert.Equal(t, "none", opts.FIFOJoin)
	assert.Equal(t, PinPlan{DataIn: 0, DataOut: 10, Clock: 8}, opts.Pins)
	assert.Equal(t, defaultOptions, *NewOptions())

	require.Error(t, opts.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestTopology(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	b, err := Setup(c, disjointOptions())
	require.NoError(t, err)

	g, err := b.Topology()
	require.NoError(t, err)
	adjacency, err := g.AdjacencyMap()
	require.NoError(t, err)
	assert.Len(t, adjacency, 7)
	assert.Len(t, adjacency[NodeSM], 2)

	path, err := graph.ShortestPath(g, NodeRxFIFO, NodeDataOut)
	require.NoError(t, err)
	assert.Equal(t, []string{NodeRxFIFO, NodeDMA, NodeTxFIFO, NodeSM, NodeDataOut}, path)
	_, err = graph.ShortestPath(g, NodeDataOut, NodeSM)
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, b.WriteDOT(&buf))
	assert.Contains(t, buf.String(), "digraph")
	assert.Contains(t, buf.String(), NodeRxFIFO)
	assert.Contains(t, buf.String(), "dreq 12")
}

func TestOptionsEnv(t *testing.T) {
	t.Setenv("PIOBRIDGE_TEST_BOOL", "yes")
	t.Setenv("PIOBRIDGE_TEST_UINT8", "300")
	shared, n := true, uint8(7)
	envBool("PIOBRIDGE_TEST_BOOL", &shared)
	envUint8("PIOBRIDGE_TEST_UINT8", &n)
	assert.True(t, shared)
	assert.Equal(t, uint8(7), n)

	t.Setenv("PIOBRIDGE_TEST_BOOL", "false")
	t.Setenv("PIOBRIDGE_TEST_UINT8", "0x10")
	envBool("PIOBRIDGE_TEST_BOOL", &shared)
	envUint8("PIOBRIDGE_TEST_UINT8", &n)
	assert.False(t, shared)
	assert.Equal(t, uint8(16), n)

	t.Setenv("PIOBRIDGE_TEST_BOOL", "")
	envBool("PIOBRIDGE_TEST_BOOL", &shared)
	assert.False(t, shared)
}

// A TX join leaves the state machine without an RX FIFO: the first sample
// can never be pushed and the program parks on IN for good.
func TestTxJoinStallsOnPush(t *testing.T) {
	c := chip.New(chip.DefaultConfig())
	plan := disjointOptions().Pins
	program := NewProgram(plan.Clock)

	_, err := BuildConfig(program, 0, plan, pio.FIFOJoinTX)
	assert.Equal(t, ErrNoInboundFIFO, errors.Cause(err))

	var sm *pio.StateMachine
	var offset uint8
	require.NoError(t, c.Do(func(c *chip.Chip) (err error) {
		if sm, err = c.PIO(1).ClaimStateMachine(0); err != nil {
			return err
		}
		if offset, err = sm.Load(program); err != nil {
			return err
		}
		cfg, err := BuildConfig(program, offset, plan, pio.FIFOJoinNone)
		if err != nil {
			return err
		}
		cfg.SetFIFOJoin(pio.FIFOJoinTX)
		if err = sm.Init(cfg); err != nil {
			return err
		}
		return sm.SetEnabled(true)
	}))
	c.Inspect(func(*chip.Chip) {
		assert.Equal(t, 2*pio.FIFODepth, sm.TxFIFO().Cap())
		assert.False(t, sm.RxFIFO().Enabled())
	})

	for n := 0; n < 3; n++ {
		require.NoError(t, c.DriveByte(plan.DataIn, WordBits, 0xb1))
		clockEdge(t, c, plan.Clock)
		c.Inspect(func(*chip.Chip) {
			st := sm.Stats()
			assert.Equal(t, offset+1, sm.PC(), "edge %d", n+1)
			assert.Equal(t, uint64(1), st.Executed, "edge %d", n+1)
			assert.Zero(t, st.Pushes)
			assert.Zero(t, st.Pulls)
			assert.NotZero(t, st.Stalls)
		})
	}
	assert.Zero(t, c.Outputs(plan.DataOut, WordBits))
}

// With level sensitive WAIT a low clock lets the program run freely: every
// pass samples and re-emits, and no word is created or lost on the way.
func TestLevelWaitLoopback(t *testing.T) {
	cfg := chip.DefaultConfig()
	cfg.LevelWait = true
	c := chip.New(cfg)
	opts := disjointOptions()
	require.NoError(t, c.DriveExternal(opts.Pins.Clock, gpio.High))
	b, err := Setup(c, opts)
	require.NoError(t, err)

	c.Settle(settleTicks)
	assert.Zero(t, b.Stats().SM.Pushes)
	assert.Equal(t, b.Offset(), b.Stats().PC)

	balanced := func(st Stats) {
		assert.Equal(t, st.SM.Pushes, st.DMA.Transfers+uint64(st.RxLevel))
		assert.Equal(t, st.DMA.Transfers, st.SM.Pulls+uint64(st.TxLevel))
	}

	require.NoError(t, c.DriveByte(opts.Pins.DataIn, WordBits, 0x5a))
	require.NoError(t, c.DriveExternal(opts.Pins.Clock, gpio.Low))
	for n := 0; n < 400; n++ {
		c.Step()
	}
	st := b.Stats()
	assert.Greater(t, st.SM.Pushes, uint64(10))
	balanced(st)
	assert.Equal(t, uint8(0x5a), b.Emitted())

	require.NoError(t, c.DriveExternal(opts.Pins.Clock, gpio.High))
	c.Settle(settleTicks)
	parked := b.Stats()
	balanced(parked)
	assert.Equal(t, b.Offset(), parked.PC)
	for n := 0; n < 100; n++ {
		c.Step()
	}
	assert.Equal(t, parked.SM.Pushes, b.Stats().SM.Pushes)
}
