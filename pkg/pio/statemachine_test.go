package pio

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type smTestEnv struct {
	t     *testing.T
	port  *testPort
	block *Block
	sm    *StateMachine
}

// newSMTestEnv loads the bus tap program on pio0 sm0: input pins 0..7,
// output pins 16..23, clock on gpio 8.
func newSMTestEnv(t *testing.T) *smTestEnv {
	env := &smTestEnv{t: t, port: &testPort{}}
	env.block = NewBlock(0, env.port, 30)
	env.sm = env.block.StateMachine(0)
	offset, err := env.sm.Load(fourInstrProgram())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.SetInPins(0)
	cfg.SetOutPins(16, 8)
	cfg.SetWrap(fourInstrProgram().Wrap(offset))
	cfg.SetInShift(false, true, 8)
	cfg.SetOutShift(true, true, 8)
	require.NoError(t, env.sm.Init(cfg))
	require.NoError(t, env.sm.SetEnabled(true))
	return env
}

func (e *smTestEnv) ticks(n int) {
	for i := 0; i < n; i++ {
		e.block.Tick()
	}
}

func (e *smTestEnv) fallingEdge() {
	e.block.Observe(8, false)
	e.ticks(5)
}

func TestStateMachineLifecycle(t *testing.T) {
	b := NewBlock(0, &testPort{}, 30)
	sm := b.StateMachine(1)
	require.Equal(t, ErrInvalidTransition, errors.Cause(sm.Init(DefaultConfig())))
	require.Equal(t, ErrInvalidTransition, errors.Cause(sm.SetEnabled(true)))

	offset, err := sm.Load(fourInstrProgram())
	require.NoError(t, err)
	require.Equal(t, StateLoaded, sm.State())
	_, err = sm.Load(fourInstrProgram())
	require.Equal(t, ErrInvalidTransition, errors.Cause(err))

	bad := DefaultConfig()
	bad.SetOutPins(28, 8)
	require.Equal(t, ErrInvalidConfig, errors.Cause(sm.Init(bad)))
	require.Equal(t, StateLoaded, sm.State())

	require.NoError(t, sm.Init(DefaultConfig()))
	require.Equal(t, offset, sm.PC())
	require.NoError(t, sm.SetEnabled(true))
	require.True(t, sm.Enabled())
	require.NoError(t, sm.SetEnabled(true))
	require.Equal(t, ErrInvalidTransition, errors.Cause(sm.Init(DefaultConfig())))
	require.Equal(t, ErrInvalidTransition, errors.Cause(sm.Unload()))
	require.NoError(t, sm.SetEnabled(false))
	require.NoError(t, sm.Unload())
	require.Equal(t, StateUnloaded, sm.State())
}

func TestStateMachineStallsWithoutEdge(t *testing.T) {
	env := newSMTestEnv(t)
	env.port.inputs = 0xb1
	env.ticks(100)
	stats := env.sm.Stats()
	assert.Equal(t, uint64(100), stats.Stalls)
	assert.Zero(t, stats.Executed)
	assert.True(t, env.sm.RxFIFO().Empty())
	assert.Zero(t, env.port.writes)
	// rising edges do not release a falling edge wait
	env.block.Observe(8, true)
	env.ticks(10)
	assert.Zero(t, env.sm.Stats().Executed)
}

func TestStateMachineSampleAndEmit(t *testing.T) {
	env := newSMTestEnv(t)

	env.port.inputs = 0xb1
	env.fallingEdge()
	w, ok := env.sm.RxFIFO().Get()
	require.True(t, ok)
	require.Equal(t, uint32(0xb1), w)
	require.Equal(t, uint64(1), env.sm.Stats().Underruns)
	require.Zero(t, env.port.writes)

	require.True(t, env.sm.TxFIFO().Put(0x5a))
	env.port.inputs = 0x3c
	env.fallingEdge()
	// the outbound word is fetched by this edge and emitted on the next
	require.Zero(t, env.port.writes)
	require.False(t, env.sm.OSREmpty())

	env.fallingEdge()
	require.Equal(t, 1, env.port.writes)
	require.Equal(t, uint32(0x5a)<<16, env.port.outputs)
	stats := env.sm.Stats()
	assert.Equal(t, uint64(3), stats.Pushes)
	assert.Equal(t, uint64(1), stats.Pulls)
	assert.Equal(t, uint32(0x5a), stats.LastPulled)
	assert.Equal(t, uint32(0x3c), stats.LastPushed)
}

func TestStateMachineWrap(t *testing.T) {
	env := newSMTestEnv(t)
	offset := env.sm.Offset()
	for n := 0; n < 20; n++ {
		env.block.Observe(8, false)
		for i := 0; i < 5; i++ {
			env.block.Tick()
			pc := env.sm.PC()
			require.True(t, pc >= offset && pc < offset+4, "pc %d", pc)
		}
		require.Equal(t, offset, env.sm.PC())
		_, ok := env.sm.RxFIFO().Get()
		require.True(t, ok)
	}
}

func TestStateMachineAutopushFull(t *testing.T) {
	env := newSMTestEnv(t)
	for n := 0; n < FIFODepth; n++ {
		env.port.inputs = uint32(n)
		env.fallingEdge()
	}
	require.True(t, env.sm.RxFIFO().Full())
	env.port.inputs = 0xff
	env.fallingEdge()
	// IN stalls instead of dropping the sample
	pc := env.sm.PC()
	require.Equal(t, env.sm.Offset()+1, pc)
	w, _ := env.sm.RxFIFO().Get()
	require.Zero(t, w)
	env.ticks(5)
	for n := 1; n < FIFODepth; n++ {
		w, _ = env.sm.RxFIFO().Get()
		require.Equal(t, uint32(n), w)
	}
	w, _ = env.sm.RxFIFO().Get()
	require.Equal(t, uint32(0xff), w)
}

func TestStateMachineExec(t *testing.T) {
	testCases := []struct {
		name   string
		instrs []uint16
		check  func(*testing.T, *StateMachine, *testPort)
	}{
		{
			name:   "set x",
			instrs: []uint16{EncodeSet(DestX, 5)},
			check: func(t *testing.T, sm *StateMachine, _ *testPort) {
				require.Equal(t, uint32(5), sm.x)
			},
		},
		{
			name:   "mov invert",
			instrs: []uint16{EncodeSet(DestY, 1), EncodeMov(DestX, MovInvert, SrcY)},
			check: func(t *testing.T, sm *StateMachine, _ *testPort) {
				require.Equal(t, uint32(0xfffffffe), sm.x)
			},
		},
		{
			name:   "mov reverse",
			instrs: []uint16{EncodeSet(DestY, 1), EncodeMov(DestX, MovReverse, SrcY)},
			check: func(t *testing.T, sm *StateMachine, _ *testPort) {
				require.Equal(t, uint32(0x80000000), sm.x)
			},
		},
		{
			name:   "set pins",
			instrs: []uint16{EncodeSet(DestPinDirs, 3), EncodeSet(DestPins, 2)},
			check: func(t *testing.T, _ *StateMachine, port *testPort) {
				require.Equal(t, uint32(3)<<10, port.dirs)
				require.Equal(t, uint32(2)<<10, port.outputs)
			},
		},
		{
			name:   "pull noblock copies x",
			instrs: []uint16{EncodeSet(DestX, 7), EncodePull(false, false)},
			check: func(t *testing.T, sm *StateMachine, _ *testPort) {
				require.Equal(t, uint32(7), sm.osr)
			},
		},
		{
			name:   "irq set and clear",
			instrs: []uint16{EncodeIRQSet(false, false, 3), EncodeIRQSet(true, false, 1)},
			check: func(t *testing.T, sm *StateMachine, _ *testPort) {
				// relative flag 1 on sm1 is flag 2
				require.Equal(t, uint8(0x0c), sm.block.IRQFlags())
			},
		},
		{
			name:   "jmp x-- decrements",
			instrs: []uint16{EncodeSet(DestX, 2), EncodeJmp(0, JmpXNZeroDec)},
			check: func(t *testing.T, sm *StateMachine, _ *testPort) {
				require.Equal(t, uint32(1), sm.x)
				require.Equal(t, uint8(0), sm.pc)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			port := &testPort{}
			b := NewBlock(0, port, 30)
			sm := b.StateMachine(1)
			p := &Program{Instructions: []uint16{EncodeNop()}, Origin: 20}
			_, err := sm.Load(p)
			require.NoError(t, err)
			cfg := DefaultConfig()
			cfg.SetSetPins(10, 2)
			require.NoError(t, sm.Init(cfg))
			require.NoError(t, sm.SetEnabled(true))
			for _, instr := range tc.instrs {
				sm.Exec(instr)
				b.Tick()
			}
			tc.check(t, sm, port)
		})
	}
}

func TestStateMachineDelayAndDivider(t *testing.T) {
	port := &testPort{}
	b := NewBlock(0, port, 30)
	sm := b.StateMachine(0)
	p := &Program{Instructions: []uint16{WithDelaySideSet(EncodeNop(), 0, 0, 3)}, Origin: AutoOrigin}
	offset, err := sm.Load(p)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.SetWrap(p.Wrap(offset))
	cfg.SetClkDiv(2, 0)
	require.NoError(t, sm.Init(cfg))
	require.NoError(t, sm.SetEnabled(true))
	for i := 0; i < 16; i++ {
		b.Tick()
	}
	stats := sm.Stats()
	// 16 system clocks at divider 2 are 8 cycles, each nop takes 4
	require.Equal(t, uint64(8), stats.Cycles)
	require.Equal(t, uint64(2), stats.Executed)
}

func TestStateMachineSideSet(t *testing.T) {
	port := &testPort{}
	b := NewBlock(0, port, 30)
	sm := b.StateMachine(0)
	p := &Program{Instructions: []uint16{WithDelaySideSet(EncodeNop(), 2, 3, 0)}, Origin: AutoOrigin}
	offset, err := sm.Load(p)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.SetWrap(p.Wrap(offset))
	cfg.SetSidesetPins(4)
	cfg.SetSideset(2, true, false)
	require.NoError(t, sm.Init(cfg))
	require.NoError(t, sm.SetEnabled(true))
	b.Tick()
	// optional side-set: one enable bit plus one pin
	require.Equal(t, uint32(1)<<4, port.outputs)
}

func TestEdgeDetectors(t *testing.T) {
	var latch EdgeLatch
	require.False(t, latch.Ready(8, false, false))
	latch.Observe(8, false)
	require.False(t, latch.Ready(8, true, false))
	require.True(t, latch.Ready(8, false, false))
	require.False(t, latch.Ready(8, false, false))
	latch.Observe(8, true)
	latch.Reset()
	require.False(t, latch.Ready(8, true, true))

	var level LevelSense
	require.True(t, level.Ready(8, false, false))
	require.False(t, level.Ready(8, true, false))
}
