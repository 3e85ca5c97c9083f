package pio

import (
	"math"

	"github.com/pkg/errors"
)

// FIFOJoin selects how the two 4-entry FIFOs of a state machine are used.
type FIFOJoin uint8

// FIFO join modes
const (
	// FIFOJoinNone keeps separate 4-entry TX and RX FIFOs.
	FIFOJoinNone FIFOJoin = iota
	// FIFOJoinTX gives TX 8 entries and disables RX.
	FIFOJoinTX
	// FIFOJoinRX gives RX 8 entries and disables TX.
	FIFOJoinRX
)

// String implements fmt.Stringer.
func (j FIFOJoin) String() string {
	switch j {
	case FIFOJoinNone:
		return "none"
	case FIFOJoinTX:
		return "tx"
	case FIFOJoinRX:
		return "rx"
	}
	return "invalid"
}

// ParseFIFOJoin parses the String form of a FIFOJoin.
func ParseFIFOJoin(s string) (FIFOJoin, error) {
	for _, j := range []FIFOJoin{FIFOJoinNone, FIFOJoinTX, FIFOJoinRX} {
		if j.String() == s {
			return j, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidConfig, "fifo join %q", s)
}

// Config is the configuration of a state machine. It is a plain value: Init
// copies it, so later changes to the caller's copy have no effect.
type Config struct {
	InBase uint8

	OutBase  uint8
	OutCount uint8

	SetBase  uint8
	SetCount uint8

	SidesetBase     uint8
	SidesetCount    uint8
	SidesetOptional bool
	SidesetPinDirs  bool

	JmpPin uint8

	// Step frequency = system clock / (ClkDivInt + ClkDivFrac/256).
	// ClkDivInt 0 means 65536.
	ClkDivInt  uint16
	ClkDivFrac uint8

	WrapTarget uint8
	WrapTop    uint8

	InShiftRight  bool
	Autopush      bool
	PushThreshold uint8 // 0 means 32

	OutShiftRight bool
	Autopull      bool
	PullThreshold uint8 // 0 means 32

	FIFOJoin FIFOJoin

	// StatusN makes MOV STATUS all-ones while the TX FIFO holds fewer than
	// StatusN words.
	StatusN uint8
}

// DefaultConfig returns the reset configuration: divider 1, wrap over the
// whole instruction memory, both shifters right with threshold 32.
func DefaultConfig() Config {
	var cfg Config
	cfg.SetClkDiv(1, 0)
	cfg.SetWrap(0, InstructionMemorySize-1)
	cfg.SetInShift(true, false, 32)
	cfg.SetOutShift(true, false, 32)
	return cfg
}

// SetInPins sets the base of IN PINS and WAIT PIN.
func (c *Config) SetInPins(base uint8) {
	c.InBase = base
}

// SetOutPins sets the range driven by OUT PINS and MOV PINS.
func (c *Config) SetOutPins(base, count uint8) {
	c.OutBase, c.OutCount = base, count
}

// SetSetPins sets the range driven by SET PINS.
func (c *Config) SetSetPins(base, count uint8) {
	c.SetBase, c.SetCount = base, count
}

// SetSidesetPins sets the lowest pin affected by side-set.
func (c *Config) SetSidesetPins(base uint8) {
	c.SidesetBase = base
}

// SetSideset sets the number of side-set bits (including the enable bit
// when optional) and whether side-set drives directions instead of levels.
func (c *Config) SetSideset(bitCount uint8, optional, pinDirs bool) {
	c.SidesetCount, c.SidesetOptional, c.SidesetPinDirs = bitCount, optional, pinDirs
}

// SetJmpPin sets the pin tested by JMP PIN.
func (c *Config) SetJmpPin(pin uint8) {
	c.JmpPin = pin
}

// SetClkDiv sets the clock divider from its integer and fractional parts.
func (c *Config) SetClkDiv(div uint16, frac uint8) {
	c.ClkDivInt, c.ClkDivFrac = div, frac
}

// SetWrap sets the wrap range: after executing top the PC continues at target.
func (c *Config) SetWrap(target, top uint8) {
	c.WrapTarget, c.WrapTop = target, top
}

// SetInShift sets the input shift register behaviour.
func (c *Config) SetInShift(shiftRight, autopush bool, threshold uint8) {
	c.InShiftRight, c.Autopush, c.PushThreshold = shiftRight, autopush, threshold&0x1f
}

// SetOutShift sets the output shift register behaviour.
func (c *Config) SetOutShift(shiftRight, autopull bool, threshold uint8) {
	c.OutShiftRight, c.Autopull, c.PullThreshold = shiftRight, autopull, threshold&0x1f
}

// SetFIFOJoin sets the FIFO join mode.
func (c *Config) SetFIFOJoin(join FIFOJoin) {
	c.FIFOJoin = join
}

// ClkDiv256 returns the divider in 1/256 units.
func (c *Config) ClkDiv256() uint32 {
	div := uint32(c.ClkDivInt)
	if div == 0 {
		div = 65536
	}
	return div<<8 | uint32(c.ClkDivFrac)
}

// PushBits returns the autopush threshold in bits.
func (c *Config) PushBits() uint8 {
	if c.PushThreshold == 0 {
		return 32
	}
	return c.PushThreshold
}

// PullBits returns the autopull threshold in bits.
func (c *Config) PullBits() uint8 {
	if c.PullThreshold == 0 {
		return 32
	}
	return c.PullThreshold
}

// Validate checks the configuration against a bank of pinCount pins.
func (c *Config) Validate(pinCount int) error {
	checkRange := func(what string, base, count uint8) error {
		if int(base)+int(count) > pinCount {
			return errors.Wrapf(ErrInvalidConfig, "%s pins %d..%d exceed %d pins", what, base, int(base)+int(count)-1, pinCount)
		}
		return nil
	}
	if c.OutCount > 32 {
		return errors.Wrapf(ErrInvalidConfig, "out count %d", c.OutCount)
	}
	if c.SetCount > 5 {
		return errors.Wrapf(ErrInvalidConfig, "set count %d", c.SetCount)
	}
	if c.SidesetCount > 5 {
		return errors.Wrapf(ErrInvalidConfig, "side-set count %d", c.SidesetCount)
	}
	if c.SidesetOptional && c.SidesetCount == 0 {
		return errors.Wrap(ErrInvalidConfig, "optional side-set needs at least one bit")
	}
	for _, r := range []struct {
		what        string
		base, count uint8
	}{
		{"in", c.InBase, 1},
		{"out", c.OutBase, c.OutCount},
		{"set", c.SetBase, c.SetCount},
		{"side-set", c.SidesetBase, c.SidesetCount},
		{"jmp", c.JmpPin, 1},
	} {
		if err := checkRange(r.what, r.base, r.count); err != nil {
			return err
		}
	}
	if c.WrapTarget >= InstructionMemorySize || c.WrapTop >= InstructionMemorySize {
		return errors.Wrapf(ErrInvalidConfig, "wrap %d..%d", c.WrapTarget, c.WrapTop)
	}
	if c.FIFOJoin > FIFOJoinRX {
		return errors.Wrapf(ErrInvalidConfig, "fifo join %d", c.FIFOJoin)
	}
	return nil
}

// ClkDivFromFrequency calculates the divider reaching freq from sysFreq, both in Hz.
func ClkDivFromFrequency(freq, sysFreq uint32) (whole uint16, frac uint8, err error) {
	if freq == 0 {
		return 0, 0, ErrClkDivRange
	}
	return splitClkDiv(256 * uint64(sysFreq) / uint64(freq))
}

// ClkDivFromPeriod calculates the divider for a step period in nanoseconds.
func ClkDivFromPeriod(period, sysFreq uint32) (whole uint16, frac uint8, err error) {
	return splitClkDiv(256 * uint64(period) * uint64(sysFreq) / uint64(1e9))
}

func splitClkDiv(div256 uint64) (whole uint16, frac uint8, err error) {
	if div256 > 256*math.MaxUint16 {
		return 0, 0, errors.Wrap(ErrClkDivRange, "too slow")
	} else if div256 < 256 {
		return 0, 0, errors.Wrap(ErrClkDivRange, "too fast")
	}
	return uint16(div256 / 256), uint8(div256 % 256), nil
}
