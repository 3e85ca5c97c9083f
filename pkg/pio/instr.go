package pio

import "fmt"

// Opcode is the major instruction kind, bits 15..13 of an instruction word.
type Opcode uint8

// Opcodes
const (
	OpJMP Opcode = iota
	OpWAIT
	OpIN
	OpOUT
	OpPUSHPULL
	OpMOV
	OpIRQ
	OpSET
)

var opcodeNames = [...]string{"jmp", "wait", "in", "out", "push/pull", "mov", "irq", "set"}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	return opcodeNames[o&7]
}

// Src is the source operand of IN and MOV.
type Src uint8

// Sources
const (
	SrcPins   Src = 0
	SrcX      Src = 1
	SrcY      Src = 2
	SrcNull   Src = 3
	SrcStatus Src = 5
	SrcISR    Src = 6
	SrcOSR    Src = 7
)

// Dest is the destination operand of OUT, MOV and SET.
type Dest uint8

// Destinations
const (
	DestPins    Dest = 0
	DestX       Dest = 1
	DestY       Dest = 2
	DestNull    Dest = 3
	DestPinDirs Dest = 4
	DestExecMov Dest = 4
	DestPC      Dest = 5
	DestISR     Dest = 6
	DestOSR     Dest = 7
	DestExecOut Dest = 7
)

// JmpCond is the condition of a JMP.
type JmpCond uint8

// Jump conditions
const (
	JmpAlways JmpCond = iota
	JmpXZero
	JmpXNZeroDec
	JmpYZero
	JmpYNZeroDec
	JmpXNotEqualY
	JmpPin
	JmpOSRNotEmpty
)

// WaitSource selects what WAIT observes.
type WaitSource uint8

// Wait sources
const (
	WaitGPIO WaitSource = iota
	WaitPin
	WaitIRQ
)

// MovOp is the operation applied by MOV.
type MovOp uint8

// Mov operations
const (
	MovNone MovOp = iota
	MovInvert
	MovReverse
)

const (
	instrBitsJMP  uint16 = 0x0000
	instrBitsWAIT uint16 = 0x2000
	instrBitsIN   uint16 = 0x4000
	instrBitsOUT  uint16 = 0x6000
	instrBitsPUSH uint16 = 0x8000
	instrBitsPULL uint16 = 0x8080
	instrBitsMOV  uint16 = 0xa000
	instrBitsIRQ  uint16 = 0xc000
	instrBitsSET  uint16 = 0xe000
)

func encodeArgs(bits uint16, arg1, arg2 uint8) uint16 {
	return bits | uint16(arg1&7)<<5 | uint16(arg2&0x1f)
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// EncodeJmp encodes a JMP to an absolute address.
func EncodeJmp(addr uint8, cond JmpCond) uint16 {
	return encodeArgs(instrBitsJMP, uint8(cond), addr)
}

// EncodeWaitGPIO encodes WAIT on an absolute GPIO number.
func EncodeWaitGPIO(polarity bool, gpio uint8) uint16 {
	return encodeArgs(instrBitsWAIT, boolBit(polarity)<<2|uint8(WaitGPIO), gpio)
}

// EncodeWaitPin encodes WAIT on a pin relative to the IN base.
func EncodeWaitPin(polarity bool, pin uint8) uint16 {
	return encodeArgs(instrBitsWAIT, boolBit(polarity)<<2|uint8(WaitPin), pin)
}

// EncodeWaitIRQ encodes WAIT on an IRQ flag.
func EncodeWaitIRQ(polarity, relative bool, irq uint8) uint16 {
	return encodeArgs(instrBitsWAIT, boolBit(polarity)<<2|uint8(WaitIRQ), boolBit(relative)<<4|irq&7)
}

// EncodeIn encodes IN; bitCount 32 is encoded as 0.
func EncodeIn(src Src, bitCount uint8) uint16 {
	return encodeArgs(instrBitsIN, uint8(src), bitCount)
}

// EncodeOut encodes OUT; bitCount 32 is encoded as 0.
func EncodeOut(dest Dest, bitCount uint8) uint16 {
	return encodeArgs(instrBitsOUT, uint8(dest), bitCount)
}

// EncodePush encodes PUSH.
func EncodePush(ifFull, block bool) uint16 {
	return encodeArgs(instrBitsPUSH, boolBit(ifFull)<<1|boolBit(block), 0)
}

// EncodePull encodes PULL.
func EncodePull(ifEmpty, block bool) uint16 {
	return encodeArgs(instrBitsPULL, boolBit(ifEmpty)<<1|boolBit(block), 0)
}

// EncodeMov encodes MOV with an operation.
func EncodeMov(dest Dest, op MovOp, src Src) uint16 {
	return encodeArgs(instrBitsMOV, uint8(dest), uint8(op&3)<<3|uint8(src&7))
}

// EncodeIRQSet encodes IRQ SET, optionally waiting for the flag to clear.
func EncodeIRQSet(relative, wait bool, irq uint8) uint16 {
	return encodeArgs(instrBitsIRQ, boolBit(wait), boolBit(relative)<<4|irq&7)
}

// EncodeIRQClear encodes IRQ CLEAR.
func EncodeIRQClear(relative bool, irq uint8) uint16 {
	return encodeArgs(instrBitsIRQ, 2, boolBit(relative)<<4|irq&7)
}

// EncodeSet encodes SET with a 5-bit immediate.
func EncodeSet(dest Dest, value uint8) uint16 {
	return encodeArgs(instrBitsSET, uint8(dest), value)
}

// EncodeNop encodes the canonical no-op, MOV Y, Y.
func EncodeNop() uint16 {
	return EncodeMov(DestY, MovNone, SrcY)
}

// WithDelaySideSet merges the delay/side-set field into an instruction.
// sideSetBits is the number of bits of the 5-bit field stolen by side-set,
// including the enable bit when side-set is optional.
func WithDelaySideSet(instr uint16, sideSetBits, sideSet, delay uint8) uint16 {
	delayBits := 5 - sideSetBits
	field := uint16(sideSet)<<delayBits | uint16(delay)&(1<<delayBits-1)
	return instr&^0x1f00 | (field&0x1f)<<8
}

// Instr is a decoded instruction.
type Instr struct {
	Op Opcode
	// DelaySideSet is the raw 5-bit delay/side-set field.
	DelaySideSet uint8
	// Arg1 is the 3-bit field at bits 7..5.
	Arg1 uint8
	// Arg2 is the 5-bit field at bits 4..0.
	Arg2 uint8
	Raw  uint16
}

// Decode splits an instruction word into its fields.
func Decode(raw uint16) Instr {
	return Instr{
		Op:           Opcode(raw >> 13),
		DelaySideSet: uint8(raw>>8) & 0x1f,
		Arg1:         uint8(raw>>5) & 7,
		Arg2:         uint8(raw) & 0x1f,
		Raw:          raw,
	}
}

// BitCount returns the IN/OUT bit count, where 0 means 32.
func (i Instr) BitCount() uint8 {
	if i.Arg2 == 0 {
		return 32
	}
	return i.Arg2
}

// IsPull tells PULL from PUSH.
func (i Instr) IsPull() bool {
	return i.Op == OpPUSHPULL && i.Arg1&4 != 0
}

// String disassembles the instruction without side-set or delay.
func (i Instr) String() string {
	switch i.Op {
	case OpJMP:
		conds := [...]string{"", "!x, ", "x--, ", "!y, ", "y--, ", "x!=y, ", "pin, ", "!osre, "}
		return fmt.Sprintf("jmp %s%d", conds[i.Arg1], i.Arg2)
	case OpWAIT:
		srcs := [...]string{"gpio", "pin", "irq", "?"}
		return fmt.Sprintf("wait %d %s %d", i.Arg1>>2, srcs[i.Arg1&3], i.Arg2)
	case OpIN:
		srcs := [...]string{"pins", "x", "y", "null", "?", "?", "isr", "osr"}
		return fmt.Sprintf("in %s, %d", srcs[i.Arg1], i.BitCount())
	case OpOUT:
		dests := [...]string{"pins", "x", "y", "null", "pindirs", "pc", "isr", "exec"}
		return fmt.Sprintf("out %s, %d", dests[i.Arg1], i.BitCount())
	case OpPUSHPULL:
		name, cond := "push", "iffull "
		if i.IsPull() {
			name, cond = "pull", "ifempty "
		}
		if i.Arg1&2 == 0 {
			cond = ""
		}
		block := "noblock"
		if i.Arg1&1 != 0 {
			block = "block"
		}
		return fmt.Sprintf("%s %s%s", name, cond, block)
	case OpMOV:
		dests := [...]string{"pins", "x", "y", "?", "exec", "pc", "isr", "osr"}
		srcs := [...]string{"pins", "x", "y", "null", "?", "status", "isr", "osr"}
		ops := [...]string{"", "!", "::", "?"}
		return fmt.Sprintf("mov %s, %s%s", dests[i.Arg1], ops[(i.Arg2>>3)&3], srcs[i.Arg2&7])
	case OpIRQ:
		verb := "set"
		if i.Arg1&2 != 0 {
			verb = "clear"
		} else if i.Arg1&1 != 0 {
			verb = "wait"
		}
		rel := ""
		if i.Arg2&0x10 != 0 {
			rel = " rel"
		}
		return fmt.Sprintf("irq %s %d%s", verb, i.Arg2&7, rel)
	default:
		dests := [...]string{"pins", "x", "y", "?", "pindirs", "?", "?", "?"}
		return fmt.Sprintf("set %s, %d", dests[i.Arg1], i.Arg2)
	}
}
