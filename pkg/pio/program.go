package pio

import (
	"github.com/pkg/errors"
)

// InstructionMemorySize is the number of instruction slots in a block.
const InstructionMemorySize = 32

// AutoOrigin lets the block choose where a program is loaded.
const AutoOrigin int8 = -1

// Program is a relocatable sequencer program.
type Program struct {
	Instructions []uint16
	// Origin is the required load offset, or AutoOrigin.
	Origin int8
}

// Length returns the number of instructions.
func (p *Program) Length() uint8 {
	return uint8(len(p.Instructions))
}

// Validate checks the program fits instruction memory.
func (p *Program) Validate() error {
	n := len(p.Instructions)
	if n == 0 {
		return ErrEmptyProgram
	}
	if n > InstructionMemorySize {
		return errors.Wrapf(ErrProgramTooLong, "%d instructions", n)
	}
	if p.Origin >= 0 && int(p.Origin)+n > InstructionMemorySize {
		return errors.Wrapf(ErrProgramTooLong, "origin %d + %d instructions", p.Origin, n)
	}
	return nil
}

// Relocate returns the instructions as they are stored when loaded at offset.
// JMP targets are program-relative and get shifted by offset.
func (p *Program) Relocate(offset uint8) []uint16 {
	out := make([]uint16, len(p.Instructions))
	for n, raw := range p.Instructions {
		if Decode(raw).Op == OpJMP {
			addr := (uint8(raw) + offset) & 0x1f
			raw = raw&^0x1f | uint16(addr)
		}
		out[n] = raw
	}
	return out
}

// Wrap returns the wrap target and wrap top for a program loaded at offset,
// i.e. the address range [offset, offset+length).
func (p *Program) Wrap(offset uint8) (target, top uint8) {
	return offset, offset + p.Length() - 1
}

// JmpRel returns a JMP from instruction index from to from+delta, expressed
// as a program-relative address as Relocate expects.
func JmpRel(from int, delta int, cond JmpCond) uint16 {
	return EncodeJmp(uint8(from+delta), cond)
}
