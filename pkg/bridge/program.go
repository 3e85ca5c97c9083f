package bridge

import (
	"github.com/robotalks/piobridge/pkg/pio"
)

// WordBits is the width of a bus word.
const WordBits = 8

// ProgramLength is the number of instructions of the bus tap program.
const ProgramLength = 4

// NewProgram returns the bus tap program watching clock:
//
//	wait 0 gpio <clock>  ; falling edge of the bus clock
//	in   pins, 8         ; sample the data bus
//	out  pins, 8         ; emit the word fetched by autopull
//	jmp  0               ; back to the wait
//
// The wait has no timeout. A stopped clock parks the state machine on the
// first instruction indefinitely.
func NewProgram(clock uint8) *pio.Program {
	return &pio.Program{
		Instructions: []uint16{
			pio.EncodeWaitGPIO(false, clock),
			pio.EncodeIn(pio.SrcPins, WordBits),
			pio.EncodeOut(pio.DestPins, WordBits),
			pio.JmpRel(3, -3, pio.JmpAlways),
		},
		Origin: pio.AutoOrigin,
	}
}
