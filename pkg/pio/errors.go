package pio

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyProgram indicates a program without instructions.
	ErrEmptyProgram = errors.New("empty program")
	// ErrProgramTooLong indicates a program exceeding instruction memory.
	ErrProgramTooLong = errors.New("program too long")
	// ErrNoProgramSpace indicates no free instruction slots can hold the program.
	ErrNoProgramSpace = errors.New("no program space")
	// ErrNoStateMachine indicates all state machines are claimed.
	ErrNoStateMachine = errors.New("no free state machine")
	// ErrInvalidTransition indicates a lifecycle call out of order.
	ErrInvalidTransition = errors.New("invalid state machine transition")
	// ErrInvalidConfig indicates a configuration that cannot be applied.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrClkDivRange indicates a clock divider outside 1..65536.
	ErrClkDivRange = errors.New("clock divider out of range")
)

// State is the lifecycle state of a state machine.
type State int

// States
const (
	StateUnloaded State = iota
	StateLoaded
	StateConfigured
	StateEnabled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateConfigured:
		return "configured"
	case StateEnabled:
		return "enabled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func errTransition(from State, op string) error {
	return errors.Wrapf(ErrInvalidTransition, "%s while %s", op, from)
}
