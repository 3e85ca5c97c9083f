// Package gpio models the bank of general purpose pins: function select,
// per-function output and direction latches, external drive and change
// notification.
//
// A Bank is not safe for concurrent use, the owner serializes access.
package gpio

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// PinCount is the number of user pins.
const PinCount = 30

// Function selects which peripheral controls a pin.
type Function uint8

// Functions
const (
	FuncSIO  Function = 5
	FuncPIO0 Function = 6
	FuncPIO1 Function = 7
	FuncNull Function = 0x1f
)

// String implements fmt.Stringer.
func (f Function) String() string {
	switch f {
	case FuncSIO:
		return "sio"
	case FuncPIO0:
		return "pio0"
	case FuncPIO1:
		return "pio1"
	case FuncNull:
		return "null"
	}
	return fmt.Sprintf("func(%d)", uint8(f))
}

// FuncPIO returns the function of PIO block n.
func FuncPIO(n uint8) Function {
	if n == 0 {
		return FuncPIO0
	}
	return FuncPIO1
}

// Direction of a pin.
type Direction uint8

// Directions
const (
	Input Direction = iota
	Output
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Output {
		return "out"
	}
	return "in"
}

// State is the level an external circuit drives onto a pin.
type State uint8

// States
const (
	Low State = iota
	High
	// Z means nothing external drives the pin.
	Z
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Low:
		return "0"
	case High:
		return "1"
	}
	return "z"
}

// ParseState parses 0, 1, z, low or high.
func ParseState(s string) (State, error) {
	switch s {
	case "0", "low", "L":
		return Low, nil
	case "1", "high", "H":
		return High, nil
	case "z", "Z":
		return Z, nil
	}
	return Z, errors.Errorf("invalid pin state %q", s)
}

var (
	// ErrPinRange indicates a pin number beyond the bank.
	ErrPinRange = errors.New("pin out of range")
	// ErrReserved indicates a pin held by the board.
	ErrReserved = errors.New("pin reserved")
)

// PicoReserved are the pins a Pico board wires to on-board functions:
// SMPS mode, VBUS sense, LED and VSYS sense.
var PicoReserved = []uint8{23, 24, 25, 29}

// Listener is notified on every pad level change.
type Listener func(pin uint8, level bool)

// owners holding an output/direction latch.
const (
	ownerSIO = iota
	ownerPIO0
	ownerPIO1
	ownerCount
)

func ownerOf(fn Function) int {
	switch fn {
	case FuncSIO:
		return ownerSIO
	case FuncPIO0:
		return ownerPIO0
	case FuncPIO1:
		return ownerPIO1
	}
	return -1
}

// Bank is the pin bank.
type Bank struct {
	funcs    [PinCount]Function
	external [PinCount]State
	outs     [ownerCount]uint32
	oes      [ownerCount]uint32
	reserved uint32
	levels   uint32

	listeners []Listener
}

// NewBank creates a bank with every pin unselected and undriven.
func NewBank(reserved ...uint8) *Bank {
	b := &Bank{}
	for n := range b.funcs {
		b.funcs[n] = FuncNull
		b.external[n] = Z
	}
	b.Reserve(reserved...)
	return b
}

func checkPin(pin uint8) error {
	if pin >= PinCount {
		return errors.Wrapf(ErrPinRange, "gpio %d", pin)
	}
	return nil
}

// Reserve marks pins as unavailable to SetFunction.
func (b *Bank) Reserve(pins ...uint8) {
	for _, pin := range pins {
		if pin < PinCount {
			b.reserved |= 1 << pin
		}
	}
}

// Reserved reports whether pin is reserved.
func (b *Bank) Reserved(pin uint8) bool {
	return pin < PinCount && b.reserved&(1<<pin) != 0
}

// ReservedMask returns the reserved pins, bit n for pin n.
func (b *Bank) ReservedMask() uint32 {
	return b.reserved
}

// OnChange registers a listener for pad level changes.
func (b *Bank) OnChange(l Listener) {
	b.listeners = append(b.listeners, l)
}

// SetFunction hands pin to a peripheral.
func (b *Bank) SetFunction(pin uint8, fn Function) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	if b.Reserved(pin) {
		return errors.Wrapf(ErrReserved, "gpio %d", pin)
	}
	b.funcs[pin] = fn
	glog.V(3).Infof("gpio %d: function %s", pin, fn)
	b.update()
	return nil
}

// Function returns the function selected for pin.
func (b *Bank) Function(pin uint8) Function {
	if pin >= PinCount {
		return FuncNull
	}
	return b.funcs[pin]
}

// SetDir sets the SIO direction of pin.
func (b *Bank) SetDir(pin uint8, dir Direction) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	b.latch(&b.oes[ownerSIO], 1<<pin, uint32(dir)<<pin)
	return nil
}

// Put sets the SIO output level of pin.
func (b *Bank) Put(pin uint8, level bool) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	var v uint32
	if level {
		v = 1 << pin
	}
	b.latch(&b.outs[ownerSIO], 1<<pin, v)
	return nil
}

// Dir returns the direction pin gets from its selected function.
func (b *Bank) Dir(pin uint8) Direction {
	owner := ownerOf(b.Function(pin))
	if owner < 0 || b.oes[owner]&(1<<pin) == 0 {
		return Input
	}
	return Output
}

// DriveExternal sets what the outside world drives onto pin.
func (b *Bank) DriveExternal(pin uint8, s State) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	b.external[pin] = s
	b.update()
	return nil
}

// External returns the external drive of pin.
func (b *Bank) External(pin uint8) State {
	if pin >= PinCount {
		return Z
	}
	return b.external[pin]
}

// Output returns the level the chip drives onto pin, and whether it drives
// it at all.
func (b *Bank) Output(pin uint8) (level, driven bool) {
	owner := ownerOf(b.Function(pin))
	if owner < 0 || b.oes[owner]&(1<<pin) == 0 {
		return false, false
	}
	return b.outs[owner]&(1<<pin) != 0, true
}

// Outputs returns the levels the chip drives, bit n for pin n; undriven
// pins read as 0.
func (b *Bank) Outputs() uint32 {
	var v uint32
	for pin := uint8(0); pin < PinCount; pin++ {
		if level, _ := b.Output(pin); level {
			v |= 1 << pin
		}
	}
	return v
}

// Level returns the pad level of pin.
func (b *Bank) Level(pin uint8) bool {
	return b.levels&(1<<pin) != 0
}

// Levels returns every pad level, bit n for pin n.
func (b *Bank) Levels() uint32 {
	return b.levels
}

func (b *Bank) padLevel(pin uint8) bool {
	switch b.external[pin] {
	case High:
		return true
	case Low:
		return false
	}
	level, _ := b.Output(pin)
	return level
}

func (b *Bank) latch(reg *uint32, mask, values uint32) {
	*reg = *reg&^mask | values&mask
	b.update()
}

func (b *Bank) update() {
	var levels uint32
	for pin := uint8(0); pin < PinCount; pin++ {
		if b.padLevel(pin) {
			levels |= 1 << pin
		}
	}
	changed := levels ^ b.levels
	b.levels = levels
	if changed == 0 {
		return
	}
	for pin := uint8(0); pin < PinCount; pin++ {
		if changed&(1<<pin) == 0 {
			continue
		}
		level := levels&(1<<pin) != 0
		glog.V(4).Infof("gpio %d: %v", pin, level)
		for _, l := range b.listeners {
			l(pin, level)
		}
	}
}

// Port is the view a PIO block has of the bank.
type Port struct {
	bank  *Bank
	owner int
	fn    Function
}

// Port returns the port of a PIO function.
func (b *Bank) Port(fn Function) *Port {
	return &Port{bank: b, owner: ownerOf(fn), fn: fn}
}

// Inputs returns every pad level; input synchronizers see all pins
// regardless of function.
func (p *Port) Inputs() uint32 {
	return p.bank.levels
}

// DriveOutputs sets the output latch of the masked pins.
func (p *Port) DriveOutputs(mask, values uint32) {
	p.bank.latch(&p.bank.outs[p.owner], mask, values)
}

// DriveDirs sets the direction latch of the masked pins.
func (p *Port) DriveDirs(mask, dirs uint32) {
	p.bank.latch(&p.bank.oes[p.owner], mask, dirs)
}
