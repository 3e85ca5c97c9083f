package gpio

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBankFunction(t *testing.T) {
	b := NewBank(PicoReserved...)
	require.Equal(t, FuncNull, b.Function(0))
	require.NoError(t, b.SetFunction(0, FuncPIO1))
	require.Equal(t, FuncPIO1, b.Function(0))
	require.Equal(t, ErrReserved, errors.Cause(b.SetFunction(25, FuncSIO)))
	require.Equal(t, ErrPinRange, errors.Cause(b.SetFunction(30, FuncSIO)))
	require.True(t, b.Reserved(29))
	require.False(t, b.Reserved(8))
	require.Equal(t, FuncPIO0, FuncPIO(0))
	require.Equal(t, "pio1", FuncPIO(1).String())
}

func TestBankPadLevel(t *testing.T) {
	testCases := []struct {
		name     string
		fn       Function
		dir      Direction
		out      bool
		external State
		level    bool
		driven   bool
	}{
		{"floating input", FuncSIO, Input, true, Z, false, false},
		{"driven input", FuncSIO, Input, false, High, true, false},
		{"output", FuncSIO, Output, true, Z, true, true},
		{"output overridden", FuncSIO, Output, true, Low, false, true},
		{"unselected output", FuncNull, Output, true, Z, false, false},
		{"pio owned ignores sio latch", FuncPIO0, Output, true, Z, false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBank()
			require.NoError(t, b.SetFunction(3, tc.fn))
			require.NoError(t, b.SetDir(3, tc.dir))
			require.NoError(t, b.Put(3, tc.out))
			require.NoError(t, b.DriveExternal(3, tc.external))
			assert.Equal(t, tc.level, b.Level(3))
			_, driven := b.Output(3)
			assert.Equal(t, tc.driven, driven)
		})
	}
}

func TestBankPort(t *testing.T) {
	b := NewBank()
	for pin := uint8(0); pin < 8; pin++ {
		require.NoError(t, b.SetFunction(pin, FuncPIO1))
	}
	p0, p1 := b.Port(FuncPIO0), b.Port(FuncPIO1)
	p1.DriveDirs(0xff, 0xff)
	p1.DriveOutputs(0xff, 0xb1)
	require.Equal(t, uint32(0xb1), b.Outputs())
	require.Equal(t, uint32(0xb1), p0.Inputs())
	require.Equal(t, Output, b.Dir(0))

	// pio0 does not own the pins
	p0.DriveDirs(0xff, 0xff)
	p0.DriveOutputs(0xff, 0x00)
	require.Equal(t, uint32(0xb1), b.Levels())

	require.NoError(t, b.DriveExternal(1, High))
	require.Equal(t, uint32(0xb3), p1.Inputs())
	out, driven := b.Output(1)
	require.False(t, out)
	require.True(t, driven)
}

func TestBankListeners(t *testing.T) {
	b := NewBank()
	type change struct {
		pin   uint8
		level bool
	}
	var changes []change
	b.OnChange(func(pin uint8, level bool) {
		changes = append(changes, change{pin, level})
	})
	require.NoError(t, b.DriveExternal(8, High))
	require.NoError(t, b.DriveExternal(8, High))
	require.NoError(t, b.DriveExternal(8, Low))
	require.NoError(t, b.DriveExternal(8, Z))
	require.Equal(t, []change{{8, true}, {8, false}}, changes)
}

func TestParseState(t *testing.T) {
	for _, s := range []State{Low, High, Z} {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseState("2")
	require.Error(t, err)
}
