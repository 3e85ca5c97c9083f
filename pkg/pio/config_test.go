package pio

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClkDiv(t *testing.T) {
	testCases := []struct {
		name   string
		freq   uint32
		whole  uint16
		frac   uint8
		hasErr bool
	}{
		{"full speed", 125000000, 1, 0, false},
		{"1MHz", 1000000, 125, 0, false},
		{"3MHz", 3000000, 41, 170, false},
		{"too fast", 250000000, 0, 0, true},
		{"too slow", 1000, 0, 0, true},
		{"zero", 0, 0, 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			whole, frac, err := ClkDivFromFrequency(tc.freq, 125000000)
			if tc.hasErr {
				require.Equal(t, ErrClkDivRange, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.whole, whole)
			require.Equal(t, tc.frac, frac)
		})
	}

	whole, frac, err := ClkDivFromPeriod(1000, 125000000)
	require.NoError(t, err)
	require.Equal(t, uint16(125), whole)
	require.Equal(t, uint8(0), frac)
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, uint32(256), cfg.ClkDiv256())
	require.Equal(t, uint8(32), cfg.PushBits())
	require.Equal(t, uint8(32), cfg.PullBits())
	require.Equal(t, uint8(31), cfg.WrapTop)
	require.NoError(t, cfg.Validate(30))

	cfg.SetClkDiv(0, 0)
	require.Equal(t, uint32(65536*256), cfg.ClkDiv256())
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name  string
		apply func(*Config)
		valid bool
	}{
		{"out pins fit", func(c *Config) { c.SetOutPins(22, 8) }, true},
		{"out pins exceed", func(c *Config) { c.SetOutPins(23, 8) }, false},
		{"set count 5", func(c *Config) { c.SetSetPins(0, 5) }, true},
		{"set count 8", func(c *Config) { c.SetSetPins(0, 8) }, false},
		{"in base out of range", func(c *Config) { c.SetInPins(30) }, false},
		{"optional zero side-set", func(c *Config) { c.SetSideset(0, true, false) }, false},
		{"side-set base only", func(c *Config) { c.SetSidesetPins(8) }, true},
		{"wrap out of memory", func(c *Config) { c.SetWrap(0, 32) }, false},
		{"join rx", func(c *Config) { c.SetFIFOJoin(FIFOJoinRX) }, true},
		{"join invalid", func(c *Config) { c.SetFIFOJoin(FIFOJoin(7)) }, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.apply(&cfg)
			err := cfg.Validate(30)
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Equal(t, ErrInvalidConfig, errors.Cause(err))
			}
		})
	}
}

func TestParseFIFOJoin(t *testing.T) {
	for _, j := range []FIFOJoin{FIFOJoinNone, FIFOJoinTX, FIFOJoinRX} {
		parsed, err := ParseFIFOJoin(j.String())
		require.NoError(t, err)
		require.Equal(t, j, parsed)
	}
	_, err := ParseFIFOJoin("both")
	require.Error(t, err)

	tx, rx := fifoDepths(FIFOJoinTX)
	require.Equal(t, 8, tx)
	require.Equal(t, 0, rx)
}
