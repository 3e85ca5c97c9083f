package bridge

import (
	"github.com/pkg/errors"

	"github.com/robotalks/piobridge/pkg/gpio"
	"github.com/robotalks/piobridge/pkg/pio"
)

var (
	// ErrNoInboundFIFO indicates a FIFO join leaving no RX FIFO, so samples
	// have nowhere to go and the DMA is never paced.
	ErrNoInboundFIFO = errors.New("fifo join leaves no inbound fifo")
	// ErrNoOutboundFIFO indicates a FIFO join leaving no TX FIFO, so the DMA
	// has nowhere to put the samples back.
	ErrNoOutboundFIFO = errors.New("fifo join leaves no outbound fifo")
)

// setPinCount is the widest SET range the hardware supports.
const setPinCount = 5

// BuildConfig derives the state machine configuration for program p loaded
// at offset:
//
//   - IN from plan.DataIn, shifting left, autopush every WordBits bits
//   - OUT to plan.DataOut, WordBits wide, shifting right, autopull every
//     WordBits bits
//   - SET on the low output pins
//   - divider 1, the clock wait paces the program
//   - wrap over exactly the loaded program
//   - side-set base on the clock pin with no side-set bits, so the clock is
//     never driven
func BuildConfig(p *pio.Program, offset uint8, plan PinPlan, join pio.FIFOJoin) (pio.Config, error) {
	switch join {
	case pio.FIFOJoinTX:
		return pio.Config{}, errors.Wrapf(ErrNoInboundFIFO, "fifo join %s", join)
	case pio.FIFOJoinRX:
		return pio.Config{}, errors.Wrapf(ErrNoOutboundFIFO, "fifo join %s", join)
	}
	cfg := pio.DefaultConfig()
	cfg.SetInPins(plan.DataIn)
	cfg.SetOutPins(plan.DataOut, WordBits)
	cfg.SetSetPins(plan.DataOut, setPinCount)
	cfg.SetSidesetPins(plan.Clock)
	cfg.SetClkDiv(1, 0)
	cfg.SetWrap(p.Wrap(offset))
	cfg.SetInShift(false, true, WordBits)
	cfg.SetOutShift(true, true, WordBits)
	cfg.SetFIFOJoin(join)
	if err := cfg.Validate(gpio.PinCount); err != nil {
		return pio.Config{}, err
	}
	return cfg, nil
}
