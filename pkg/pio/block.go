package pio

import (
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// StateMachineCount is the number of state machines in a block.
const StateMachineCount = 4

// Register offsets from the block base address.
const (
	RegCTRL  uint32 = 0x000
	RegFSTAT uint32 = 0x004
	RegTXF0  uint32 = 0x010
	RegRXF0  uint32 = 0x020
	RegIRQ   uint32 = 0x030

	// RegionSize is the address space decoded by a block.
	RegionSize uint32 = 0x1000
)

// Block base addresses.
const (
	PIO0Base uint32 = 0x50200000
	PIO1Base uint32 = 0x50300000
)

// Port connects a block to the pins.
type Port interface {
	// Inputs returns the pad level of every pin, bit n for pin n.
	Inputs() uint32
	// DriveOutputs sets output levels of the masked pins owned by the block.
	DriveOutputs(mask, values uint32)
	// DriveDirs sets directions (1 = output) of the masked pins owned by the block.
	DriveDirs(mask, dirs uint32)
}

// Block is a programmable I/O block: shared instruction memory and four
// state machines.
type Block struct {
	index    uint8
	port     Port
	pinCount int

	mem  [InstructionMemorySize]uint16
	used uint32

	sms     [StateMachineCount]StateMachine
	claimed uint8
	irq     uint8
}

// NewBlock creates block number index (0 or 1) attached to port.
func NewBlock(index uint8, port Port, pinCount int) *Block {
	b := &Block{index: index, port: port, pinCount: pinCount}
	for n := range b.sms {
		b.sms[n] = StateMachine{
			block: b,
			index: uint8(n),
			cfg:   DefaultConfig(),
			edges: &EdgeLatch{},
		}
		b.sms[n].resetFIFOs()
		b.sms[n].restart()
	}
	return b
}

// Index returns the block number.
func (b *Block) Index() uint8 {
	return b.index
}

// BaseAddr returns the bus address of the block registers.
func (b *Block) BaseAddr() uint32 {
	if b.index == 0 {
		return PIO0Base
	}
	return PIO1Base
}

// Instruction returns the word stored at addr.
func (b *Block) Instruction(addr uint8) uint16 {
	return b.mem[addr%InstructionMemorySize]
}

// UsedMask returns the occupied instruction slots, bit n for slot n.
func (b *Block) UsedMask() uint32 {
	return b.used
}

func programMask(length, offset uint8) uint32 {
	return uint32(uint64(1)<<length-1) << offset
}

func (b *Block) findOffset(p *Program) (uint8, bool) {
	n := p.Length()
	if p.Origin >= 0 {
		offset := uint8(p.Origin)
		return offset, b.used&programMask(n, offset) == 0
	}
	for offset := int(InstructionMemorySize - n); offset >= 0; offset-- {
		if b.used&programMask(n, uint8(offset)) == 0 {
			return uint8(offset), true
		}
	}
	return 0, false
}

// CanAddProgram reports whether AddProgram would succeed.
func (b *Block) CanAddProgram(p *Program) bool {
	if p.Validate() != nil {
		return false
	}
	_, ok := b.findOffset(p)
	return ok
}

// AddProgram loads p at its origin, or at the highest free range when the
// origin is AutoOrigin, and returns the offset. Occupied slots are never
// overwritten.
func (b *Block) AddProgram(p *Program) (uint8, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	offset, ok := b.findOffset(p)
	if !ok {
		return 0, errors.Wrapf(ErrNoProgramSpace, "pio%d: %d instructions, used %08x", b.index, p.Length(), b.used)
	}
	copy(b.mem[offset:], p.Relocate(offset))
	b.used |= programMask(p.Length(), offset)
	return offset, nil
}

// RemoveProgram frees the slots of p loaded at offset.
func (b *Block) RemoveProgram(p *Program, offset uint8) {
	mask := programMask(p.Length(), offset)
	for n := range b.mem {
		if mask&(1<<uint(n)) != 0 {
			b.mem[n] = EncodeJmp(uint8(n), JmpAlways)
		}
	}
	b.used &^= mask
}

// StateMachine returns state machine n.
func (b *Block) StateMachine(n uint8) *StateMachine {
	return &b.sms[n%StateMachineCount]
}

// ClaimStateMachine marks state machine n as in use.
func (b *Block) ClaimStateMachine(n uint8) (*StateMachine, error) {
	if n >= StateMachineCount {
		return nil, errors.Wrapf(ErrNoStateMachine, "pio%d sm%d", b.index, n)
	}
	if b.claimed&(1<<n) != 0 {
		return nil, errors.Wrapf(ErrNoStateMachine, "pio%d sm%d already claimed", b.index, n)
	}
	b.claimed |= 1 << n
	return &b.sms[n], nil
}

// ClaimUnusedStateMachine claims the lowest free state machine.
func (b *Block) ClaimUnusedStateMachine() (*StateMachine, error) {
	for n := uint8(0); n < StateMachineCount; n++ {
		if b.claimed&(1<<n) == 0 {
			return b.ClaimStateMachine(n)
		}
	}
	return nil, errors.Wrapf(ErrNoStateMachine, "pio%d", b.index)
}

// UnclaimStateMachine disables, unloads and releases a state machine.
func (b *Block) UnclaimStateMachine(sm *StateMachine) {
	if sm.state == StateEnabled {
		sm.state = StateConfigured
	}
	if err := sm.Unload(); err != nil {
		glog.Warningf("pio%d sm%d: unload: %v", b.index, sm.index, err)
	}
	sm.cfg = DefaultConfig()
	sm.resetFIFOs()
	sm.restart()
	b.claimed &^= 1 << sm.index
}

// Claimed reports whether state machine n is claimed.
func (b *Block) Claimed(n uint8) bool {
	return b.claimed&(1<<(n%StateMachineCount)) != 0
}

// IRQFlags returns the eight IRQ flags.
func (b *Block) IRQFlags() uint8 {
	return b.irq
}

// Observe forwards a pin level change to the edge detectors.
func (b *Block) Observe(gpio uint8, level bool) {
	for n := range b.sms {
		b.sms[n].edges.Observe(gpio, level)
	}
}

// Tick advances every enabled state machine by one system clock cycle. It
// returns false when nothing made progress, i.e. every enabled state
// machine is stalled.
func (b *Block) Tick() bool {
	progressed := false
	for n := range b.sms {
		sm := &b.sms[n]
		if sm.state != StateEnabled {
			continue
		}
		if sm.tick() {
			progressed = true
		}
	}
	return progressed
}

// DreqTx returns the DMA request number of the TX FIFO of state machine n.
func (b *Block) DreqTx(n uint8) uint8 {
	return b.index*8 + n%StateMachineCount
}

// DreqRx returns the DMA request number of the RX FIFO of state machine n.
func (b *Block) DreqRx(n uint8) uint8 {
	return b.index*8 + 4 + n%StateMachineCount
}

// Dreq reports the level of a request line owned by this block.
func (b *Block) Dreq(dreq uint8) (level, ok bool) {
	if dreq/8 != b.index {
		return false, false
	}
	sm := &b.sms[dreq%4]
	if dreq&4 == 0 {
		return sm.TxRequest(), true
	}
	return sm.RxRequest(), true
}

// TxAddr returns the bus address of the TX FIFO of state machine n.
func (b *Block) TxAddr(n uint8) uint32 {
	return b.BaseAddr() + RegTXF0 + 4*uint32(n%StateMachineCount)
}

// RxAddr returns the bus address of the RX FIFO of state machine n.
func (b *Block) RxAddr(n uint8) uint32 {
	return b.BaseAddr() + RegRXF0 + 4*uint32(n%StateMachineCount)
}

func (b *Block) fstat() uint32 {
	var v uint32
	for n := range b.sms {
		sm := &b.sms[n]
		if sm.rx.Full() {
			v |= 1 << uint(n)
		}
		if sm.rx.Empty() {
			v |= 1 << uint(8+n)
		}
		if sm.tx.Full() {
			v |= 1 << uint(16+n)
		}
		if sm.tx.Empty() {
			v |= 1 << uint(24+n)
		}
	}
	return v
}

// ReadReg reads a register at offset from the base address. Reading an RXF
// register pops the FIFO; an empty FIFO reads as zero.
func (b *Block) ReadReg(offset uint32) uint32 {
	switch {
	case offset == RegCTRL:
		var v uint32
		for n := range b.sms {
			if b.sms[n].state == StateEnabled {
				v |= 1 << uint(n)
			}
		}
		return v
	case offset == RegFSTAT:
		return b.fstat()
	case offset >= RegRXF0 && offset < RegRXF0+16:
		w, _ := b.sms[(offset-RegRXF0)/4].rx.Get()
		return w
	case offset == RegIRQ:
		return uint32(b.irq)
	}
	return 0
}

// WriteReg writes a register at offset from the base address. Writing a TXF
// register pushes to the FIFO; a full FIFO drops the word.
func (b *Block) WriteReg(offset uint32, v uint32) {
	switch {
	case offset >= RegTXF0 && offset < RegTXF0+16:
		sm := &b.sms[(offset-RegTXF0)/4]
		if !sm.tx.Put(v) {
			glog.V(2).Infof("pio%d sm%d: tx overflow, dropped %08x", b.index, sm.index, v)
		}
	case offset == RegIRQ:
		b.irq &^= uint8(v)
	}
}
