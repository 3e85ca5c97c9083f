package bridge

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/robotalks/piobridge/pkg/gpio"
)

// ErrPinConflict indicates two roles claiming one pin.
var ErrPinConflict = errors.New("pin conflict")

// Role is what a pin does for the bridge.
type Role uint8

// Roles
const (
	RoleInput Role = iota
	RoleOutput
	RoleClock
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	case RoleClock:
		return "clock"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// PinEntry is one pin assignment.
type PinEntry struct {
	Pin  uint8
	Role Role
	Dir  gpio.Direction
}

// PinPlan assigns the data and clock pins.
type PinPlan struct {
	// DataIn is the first of WordBits sampled pins.
	DataIn uint8 `yaml:"data_in"`
	// DataOut is the first of WordBits driven pins.
	DataOut uint8 `yaml:"data_out"`
	// Clock is the pin whose falling edge clocks the bus.
	Clock uint8 `yaml:"clock"`
	// AllowSharedData permits input and output ranges to overlap, which
	// makes the bridge a half-duplex tap on one set of pins.
	AllowSharedData bool `yaml:"allow_shared_data"`
}

// Entries lists the assignments in the order they are applied: inputs,
// outputs, then the clock.
func (p PinPlan) Entries() []PinEntry {
	entries := make([]PinEntry, 0, 2*WordBits+1)
	for n := uint8(0); n < WordBits; n++ {
		entries = append(entries, PinEntry{Pin: p.DataIn + n, Role: RoleInput, Dir: gpio.Input})
	}
	for n := uint8(0); n < WordBits; n++ {
		entries = append(entries, PinEntry{Pin: p.DataOut + n, Role: RoleOutput, Dir: gpio.Output})
	}
	return append(entries, PinEntry{Pin: p.Clock, Role: RoleClock, Dir: gpio.Input})
}

// InMask returns the input pins, bit n for pin n.
func (p PinPlan) InMask() uint32 {
	return uint32(1<<WordBits-1) << p.DataIn
}

// OutMask returns the output pins, bit n for pin n.
func (p PinPlan) OutMask() uint32 {
	return uint32(1<<WordBits-1) << p.DataOut
}

// Shared reports whether input and output ranges overlap.
func (p PinPlan) Shared() bool {
	return p.InMask()&p.OutMask() != 0
}

// String implements fmt.Stringer.
func (p PinPlan) String() string {
	return fmt.Sprintf("in=%d..%d out=%d..%d clock=%d",
		p.DataIn, p.DataIn+WordBits-1, p.DataOut, p.DataOut+WordBits-1, p.Clock)
}

// PinConflictError reports the pin and roles of a rejected plan.
type PinConflictError struct {
	Pin   uint8
	Roles []Role
	Err   error
}

// Error implements error.
func (e *PinConflictError) Error() string {
	roles := make([]string, len(e.Roles))
	for n, r := range e.Roles {
		roles[n] = r.String()
	}
	return fmt.Sprintf("gpio %d (%s): %v", e.Pin, strings.Join(roles, ", "), e.Err)
}

// Cause returns the underlying sentinel, for errors.Cause.
func (e *PinConflictError) Cause() error {
	return e.Err
}

// Validate checks the plan against a bank of gpio.PinCount pins with the
// reserved pins given as a mask.
func (p PinPlan) Validate(reserved uint32) error {
	roles := make(map[uint8][]Role)
	var order []uint8
	for _, e := range p.Entries() {
		if e.Pin >= gpio.PinCount {
			return &PinConflictError{Pin: e.Pin, Roles: []Role{e.Role}, Err: gpio.ErrPinRange}
		}
		if reserved&(1<<e.Pin) != 0 {
			return &PinConflictError{Pin: e.Pin, Roles: []Role{e.Role}, Err: gpio.ErrReserved}
		}
		if _, ok := roles[e.Pin]; !ok {
			order = append(order, e.Pin)
		}
		roles[e.Pin] = append(roles[e.Pin], e.Role)
	}
	for _, pin := range order {
		rs := roles[pin]
		if len(rs) < 2 {
			continue
		}
		shared := len(rs) == 2 && rs[0] == RoleInput && rs[1] == RoleOutput
		if !shared || !p.AllowSharedData {
			return &PinConflictError{Pin: pin, Roles: rs, Err: ErrPinConflict}
		}
	}
	return nil
}
