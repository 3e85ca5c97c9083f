package pio

import (
	"math/bits"

	"github.com/golang/glog"
)

// Stats are the counters of a state machine.
type Stats struct {
	// Cycles counts divided clock ticks while enabled.
	Cycles uint64
	// Executed counts retired instructions.
	Executed uint64
	// Stalls counts cycles an instruction could not retire.
	Stalls uint64
	// Pushes and Pulls count words moved through the FIFOs.
	Pushes uint64
	Pulls  uint64
	// Underruns counts OUTs that found the OSR empty.
	Underruns uint64
	// LastPushed and LastPulled are the most recent FIFO words.
	LastPushed uint32
	LastPulled uint32
}

// StateMachine is one sequencer of a block.
type StateMachine struct {
	block *Block
	index uint8
	state State

	program *Program
	offset  uint8
	cfg     Config
	edges   EdgeDetector

	tx TxFIFO
	rx RxFIFO

	pc       uint8
	x, y     uint32
	isr      uint32
	isrCount uint8
	osr      uint32
	osrCount uint8
	delay    uint8
	acc      uint32

	exec       uint16
	execValid  bool
	irqWaiting bool

	stats Stats
}

// Index returns the state machine number within its block.
func (sm *StateMachine) Index() uint8 {
	return sm.index
}

// Block returns the owning block.
func (sm *StateMachine) Block() *Block {
	return sm.block
}

// State returns the lifecycle state.
func (sm *StateMachine) State() State {
	return sm.state
}

// Offset returns the load offset of the program, valid once loaded.
func (sm *StateMachine) Offset() uint8 {
	return sm.offset
}

// Config returns a copy of the active configuration.
func (sm *StateMachine) Config() Config {
	return sm.cfg
}

// PC returns the program counter.
func (sm *StateMachine) PC() uint8 {
	return sm.pc
}

// Stats returns a copy of the counters.
func (sm *StateMachine) Stats() Stats {
	return sm.stats
}

// TxFIFO returns the FIFO feeding the state machine.
func (sm *StateMachine) TxFIFO() *TxFIFO {
	return &sm.tx
}

// RxFIFO returns the FIFO drained from the state machine.
func (sm *StateMachine) RxFIFO() *RxFIFO {
	return &sm.rx
}

// TxRequest is the TX data request line: the TX FIFO can take a word.
func (sm *StateMachine) TxRequest() bool {
	return sm.tx.Enabled() && !sm.tx.Full()
}

// RxRequest is the RX data request line: the RX FIFO holds a word.
func (sm *StateMachine) RxRequest() bool {
	return !sm.rx.Empty()
}

// SetEdgeDetector replaces the detector consulted by WAIT GPIO/PIN.
func (sm *StateMachine) SetEdgeDetector(d EdgeDetector) {
	sm.edges = d
}

// Load places the program into the block's instruction memory.
func (sm *StateMachine) Load(p *Program) (uint8, error) {
	if sm.state != StateUnloaded {
		return 0, errTransition(sm.state, "load")
	}
	offset, err := sm.block.AddProgram(p)
	if err != nil {
		return 0, err
	}
	sm.program, sm.offset, sm.state = p, offset, StateLoaded
	glog.V(2).Infof("pio%d sm%d: program of %d loaded at %d", sm.block.index, sm.index, p.Length(), offset)
	return offset, nil
}

// Unload releases the instruction memory of a loaded, disabled state machine.
func (sm *StateMachine) Unload() error {
	if sm.state == StateUnloaded {
		return nil
	}
	if sm.state == StateEnabled {
		return errTransition(sm.state, "unload")
	}
	sm.block.RemoveProgram(sm.program, sm.offset)
	sm.program, sm.state = nil, StateUnloaded
	return nil
}

// Init applies a configuration, resets FIFOs and registers and places the PC
// at the program offset. The state machine stays disabled.
func (sm *StateMachine) Init(cfg Config) error {
	switch sm.state {
	case StateLoaded, StateConfigured:
	default:
		return errTransition(sm.state, "init")
	}
	if err := cfg.Validate(sm.block.pinCount); err != nil {
		return err
	}
	sm.cfg = cfg
	sm.resetFIFOs()
	sm.restart()
	sm.pc = sm.offset
	sm.state = StateConfigured
	return nil
}

// SetEnabled starts or stops instruction execution.
func (sm *StateMachine) SetEnabled(enabled bool) error {
	switch {
	case enabled && sm.state == StateConfigured:
		sm.edges.Reset()
		sm.state = StateEnabled
	case !enabled && sm.state == StateEnabled:
		sm.state = StateConfigured
	case enabled && sm.state == StateEnabled, !enabled && sm.state == StateConfigured:
	default:
		return errTransition(sm.state, "enable")
	}
	return nil
}

// Enabled reports whether the state machine executes.
func (sm *StateMachine) Enabled() bool {
	return sm.state == StateEnabled
}

// Exec forces an instruction to run on the next cycle.
func (sm *StateMachine) Exec(instr uint16) {
	sm.exec, sm.execValid = instr, true
}

// SetPinDirs sets directions of pins selected by mask, like
// pio_sm_set_pindirs_with_mask.
func (sm *StateMachine) SetPinDirs(mask, dirs uint32) {
	sm.block.port.DriveDirs(mask, dirs)
}

// SetPins sets output levels of pins selected by mask.
func (sm *StateMachine) SetPins(mask, values uint32) {
	sm.block.port.DriveOutputs(mask, values)
}

// OSREmpty reports whether the output shift register needs a refill.
func (sm *StateMachine) OSREmpty() bool {
	return sm.osrCount >= sm.cfg.PullBits()
}

func (sm *StateMachine) resetFIFOs() {
	txDepth, rxDepth := fifoDepths(sm.cfg.FIFOJoin)
	sm.tx, sm.rx = TxFIFO{newFIFO(txDepth)}, RxFIFO{newFIFO(rxDepth)}
}

func (sm *StateMachine) restart() {
	sm.x, sm.y = 0, 0
	sm.isr, sm.isrCount = 0, 0
	sm.osr, sm.osrCount = 0, 32
	sm.delay, sm.acc = 0, 0
	sm.execValid, sm.irqWaiting = false, false
	sm.edges.Reset()
}

// tick advances one system clock cycle. It reports whether the state machine
// made progress, i.e. it is not stalled.
func (sm *StateMachine) tick() bool {
	sm.acc += 256
	div := sm.cfg.ClkDiv256()
	if sm.acc < div {
		return true
	}
	sm.acc -= div
	sm.stats.Cycles++

	if sm.delay > 0 {
		sm.delay--
		return true
	}

	fromExec := sm.execValid
	raw := sm.exec
	if fromExec {
		sm.execValid = false
	} else {
		raw = sm.block.mem[sm.pc]
	}
	instr := Decode(raw)
	delay := sm.sideSet(instr)

	done, jumped := sm.execute(instr)
	if !done {
		if fromExec {
			sm.exec, sm.execValid = raw, true
		}
		sm.stats.Stalls++
		return false
	}
	sm.stats.Executed++
	if !jumped && !fromExec {
		sm.advance()
	}
	sm.delay = delay
	return true
}

func (sm *StateMachine) advance() {
	if sm.pc == sm.cfg.WrapTop {
		sm.pc = sm.cfg.WrapTarget
		return
	}
	sm.pc = (sm.pc + 1) % InstructionMemorySize
}

// sideSet applies side-set bits and returns the delay of the instruction.
func (sm *StateMachine) sideSet(instr Instr) uint8 {
	count := sm.cfg.SidesetCount
	field := instr.DelaySideSet
	delay := field & (1<<(5-count) - 1)
	if count == 0 {
		return delay
	}
	value := field >> (5 - count)
	pins := count
	if sm.cfg.SidesetOptional {
		pins--
		if value&(1<<pins) == 0 {
			return delay
		}
		value &= 1<<pins - 1
	}
	sm.drive(sm.cfg.SidesetBase, pins, uint32(value), sm.cfg.SidesetPinDirs)
	return delay
}

func (sm *StateMachine) drive(base, count uint8, data uint32, dirs bool) {
	if count == 0 {
		return
	}
	mask := uint32(1)<<count - 1
	if count >= 32 {
		mask = 0xffffffff
	}
	mask = bits.RotateLeft32(mask, int(base))
	data = bits.RotateLeft32(data, int(base))
	if dirs {
		sm.block.port.DriveDirs(mask, data)
	} else {
		sm.block.port.DriveOutputs(mask, data)
	}
}

func (sm *StateMachine) inputPins() uint32 {
	return bits.RotateLeft32(sm.block.port.Inputs(), -int(sm.cfg.InBase))
}

func bitMask(n uint8) uint32 {
	if n >= 32 {
		return 0xffffffff
	}
	return uint32(1)<<n - 1
}

// execute runs an instruction. done is false when it stalls; jumped is true
// when it wrote the PC.
func (sm *StateMachine) execute(instr Instr) (done, jumped bool) {
	switch instr.Op {
	case OpJMP:
		if sm.jmpCond(JmpCond(instr.Arg1)) {
			sm.pc = instr.Arg2
			return true, true
		}
		return true, false
	case OpWAIT:
		return sm.wait(instr), false
	case OpIN:
		return sm.in(Src(instr.Arg1), instr.BitCount()), false
	case OpOUT:
		return sm.out(Dest(instr.Arg1), instr.BitCount())
	case OpPUSHPULL:
		ifCond, block := instr.Arg1&2 != 0, instr.Arg1&1 != 0
		if instr.IsPull() {
			return sm.pull(ifCond, block), false
		}
		return sm.push(ifCond, block), false
	case OpMOV:
		return sm.mov(Dest(instr.Arg1), MovOp(instr.Arg2>>3&3), Src(instr.Arg2&7))
	case OpIRQ:
		return sm.irq(instr), false
	default:
		return sm.set(Dest(instr.Arg1), instr.Arg2), false
	}
}

func (sm *StateMachine) jmpCond(cond JmpCond) bool {
	switch cond {
	case JmpXZero:
		return sm.x == 0
	case JmpXNZeroDec:
		taken := sm.x != 0
		sm.x--
		return taken
	case JmpYZero:
		return sm.y == 0
	case JmpYNZeroDec:
		taken := sm.y != 0
		sm.y--
		return taken
	case JmpXNotEqualY:
		return sm.x != sm.y
	case JmpPin:
		return sm.block.port.Inputs()&(1<<(sm.cfg.JmpPin&31)) != 0
	case JmpOSRNotEmpty:
		return !sm.OSREmpty()
	}
	return true
}

func (sm *StateMachine) wait(instr Instr) bool {
	polarity := instr.Arg1&4 != 0
	switch WaitSource(instr.Arg1 & 3) {
	case WaitGPIO:
		gpio := instr.Arg2
		level := sm.block.port.Inputs()&(1<<gpio) != 0
		return sm.edges.Ready(gpio, polarity, level)
	case WaitPin:
		gpio := (sm.cfg.InBase + instr.Arg2) & 31
		level := sm.block.port.Inputs()&(1<<gpio) != 0
		return sm.edges.Ready(gpio, polarity, level)
	case WaitIRQ:
		flag := sm.irqIndex(instr.Arg2)
		set := sm.block.irq&(1<<flag) != 0
		if !polarity {
			return !set
		}
		if set {
			sm.block.irq &^= 1 << flag
			return true
		}
	}
	return false
}

func (sm *StateMachine) irqIndex(arg uint8) uint8 {
	idx := arg & 7
	if arg&0x10 != 0 {
		idx = idx&4 | (idx+sm.index)&3
	}
	return idx
}

func (sm *StateMachine) source(src Src) uint32 {
	switch src {
	case SrcPins:
		return sm.inputPins()
	case SrcX:
		return sm.x
	case SrcY:
		return sm.y
	case SrcStatus:
		if sm.tx.Len() < int(sm.cfg.StatusN) {
			return 0xffffffff
		}
		return 0
	case SrcISR:
		return sm.isr
	case SrcOSR:
		return sm.osr
	}
	return 0
}

func (sm *StateMachine) in(src Src, n uint8) bool {
	threshold := sm.cfg.PushBits()
	willPush := sm.cfg.Autopush && sm.isrCount+n >= threshold
	if willPush && sm.rx.Full() {
		return false
	}
	data := sm.source(src) & bitMask(n)
	switch {
	case n == 32:
		sm.isr = data
	case sm.cfg.InShiftRight:
		sm.isr = sm.isr>>n | data<<(32-n)
	default:
		sm.isr = sm.isr<<n | data
	}
	sm.isrCount += n
	if sm.isrCount > 32 {
		sm.isrCount = 32
	}
	if willPush {
		sm.pushISR()
	}
	return true
}

func (sm *StateMachine) pushISR() bool {
	if !sm.rx.push(sm.isr) {
		return false
	}
	sm.stats.Pushes++
	sm.stats.LastPushed = sm.isr
	glog.V(4).Infof("pio%d sm%d: push %08x", sm.block.index, sm.index, sm.isr)
	sm.isr, sm.isrCount = 0, 0
	return true
}

func (sm *StateMachine) pullOSR() bool {
	w, ok := sm.tx.pull()
	if !ok {
		return false
	}
	sm.stats.Pulls++
	sm.stats.LastPulled = w
	glog.V(4).Infof("pio%d sm%d: pull %08x", sm.block.index, sm.index, w)
	sm.osr, sm.osrCount = w, 0
	return true
}

// out shifts from the OSR. With autopull, an OUT that finds the OSR empty
// retires without touching its destination and counts an underrun; the OSR
// is refilled after the shift so the next OUT sees the fresh word.
func (sm *StateMachine) out(dest Dest, n uint8) (done, jumped bool) {
	if sm.cfg.Autopull && sm.OSREmpty() {
		sm.stats.Underruns++
		sm.pullOSR()
		return true, false
	}
	var data uint32
	switch {
	case n == 32:
		data = sm.osr
		sm.osr = 0
	case sm.cfg.OutShiftRight:
		data = sm.osr & bitMask(n)
		sm.osr >>= n
	default:
		data = sm.osr >> (32 - n)
		sm.osr <<= n
	}
	sm.osrCount += n
	if sm.osrCount > 32 {
		sm.osrCount = 32
	}

	switch dest {
	case DestPins:
		sm.drive(sm.cfg.OutBase, sm.cfg.OutCount, data, false)
	case DestX:
		sm.x = data
	case DestY:
		sm.y = data
	case DestPinDirs:
		sm.drive(sm.cfg.OutBase, sm.cfg.OutCount, data, true)
	case DestPC:
		sm.pc = uint8(data) & 0x1f
		jumped = true
	case DestISR:
		sm.isr, sm.isrCount = data, n
	case DestExecOut:
		sm.Exec(uint16(data))
	}

	if sm.cfg.Autopull && sm.OSREmpty() {
		sm.pullOSR()
	}
	return true, jumped
}

func (sm *StateMachine) push(ifFull, block bool) bool {
	if ifFull && sm.isrCount < sm.cfg.PushBits() {
		return true
	}
	if sm.rx.Full() {
		if block {
			return false
		}
		sm.isr, sm.isrCount = 0, 0
		return true
	}
	return sm.pushISR()
}

func (sm *StateMachine) pull(ifEmpty, block bool) bool {
	if ifEmpty && !sm.OSREmpty() {
		return true
	}
	if sm.pullOSR() {
		return true
	}
	if block {
		return false
	}
	sm.osr = sm.x
	return true
}

func (sm *StateMachine) mov(dest Dest, op MovOp, src Src) (done, jumped bool) {
	v := sm.source(src)
	switch op {
	case MovInvert:
		v = ^v
	case MovReverse:
		v = bits.Reverse32(v)
	}
	switch dest {
	case DestPins:
		sm.drive(sm.cfg.OutBase, sm.cfg.OutCount, v, false)
	case DestX:
		sm.x = v
	case DestY:
		sm.y = v
	case DestExecMov:
		sm.Exec(uint16(v))
	case DestPC:
		sm.pc = uint8(v) & 0x1f
		return true, true
	case DestISR:
		sm.isr, sm.isrCount = v, 0
	case DestOSR:
		sm.osr, sm.osrCount = v, 0
	}
	return true, false
}

func (sm *StateMachine) irq(instr Instr) bool {
	flag := sm.irqIndex(instr.Arg2)
	bit := uint8(1) << flag
	if instr.Arg1&2 != 0 {
		sm.block.irq &^= bit
		return true
	}
	if instr.Arg1&1 == 0 {
		sm.block.irq |= bit
		return true
	}
	if !sm.irqWaiting {
		sm.block.irq |= bit
		sm.irqWaiting = true
		return false
	}
	if sm.block.irq&bit != 0 {
		return false
	}
	sm.irqWaiting = false
	return true
}

func (sm *StateMachine) set(dest Dest, data uint8) bool {
	switch dest {
	case DestPins:
		sm.drive(sm.cfg.SetBase, sm.cfg.SetCount, uint32(data), false)
	case DestX:
		sm.x = uint32(data)
	case DestY:
		sm.y = uint32(data)
	case DestPinDirs:
		sm.drive(sm.cfg.SetBase, sm.cfg.SetCount, uint32(data), true)
	}
	return true
}
