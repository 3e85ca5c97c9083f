// Package dma models the transfer engine: channels that copy words between
// bus addresses, paced by data request lines, without processor attention.
package dma

import (
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// ChannelCount is the number of channels.
const ChannelCount = 12

// Unbounded is the transfer count of a channel that never completes.
const Unbounded uint32 = 0xffffffff

// DreqForce is the request line that is always asserted.
const DreqForce uint8 = 0x3f

var (
	// ErrChannelRange indicates a channel number beyond ChannelCount.
	ErrChannelRange = errors.New("dma channel out of range")
	// ErrChannelClaimed indicates the channel is in use.
	ErrChannelClaimed = errors.New("dma channel already claimed")
	// ErrNoChannel indicates every channel is in use.
	ErrNoChannel = errors.New("no free dma channel")
	// ErrNotClaimed indicates use of an unclaimed channel.
	ErrNotClaimed = errors.New("dma channel not claimed")
	// ErrBusy indicates reconfiguring a running channel.
	ErrBusy = errors.New("dma channel busy")
)

// DataSize is the width of one transfer.
type DataSize uint8

// Transfer widths
const (
	Size8 DataSize = iota
	Size16
	Size32
)

// Bytes returns the address increment of a transfer.
func (s DataSize) Bytes() uint32 {
	return 1 << s
}

func (s DataSize) mask() uint32 {
	switch s {
	case Size8:
		return 0xff
	case Size16:
		return 0xffff
	}
	return 0xffffffff
}

// Bus is the address space a channel reads and writes.
type Bus interface {
	Read32(addr uint32) (uint32, error)
	Write32(addr uint32, v uint32) error
}

// DreqSource reports the level of data request lines.
type DreqSource interface {
	Dreq(dreq uint8) bool
}

// ChannelConfig is the control word of a channel.
type ChannelConfig struct {
	DataSize       DataSize
	ReadIncrement  bool
	WriteIncrement bool
	Dreq           uint8
	// ChainTo triggers another channel on completion; a channel chained to
	// itself chains nowhere.
	ChainTo      uint8
	HighPriority bool
}

// DefaultChannelConfig returns the reset control word of channel ch: word
// transfers, read increment, unpaced, no chaining.
func DefaultChannelConfig(ch uint8) ChannelConfig {
	return ChannelConfig{
		DataSize:      Size32,
		ReadIncrement: true,
		Dreq:          DreqForce,
		ChainTo:       ch,
	}
}

// ChannelStats describes a channel.
type ChannelStats struct {
	Busy      bool
	ReadAddr  uint32
	WriteAddr uint32
	Remaining uint32
	Transfers uint64
	LastWord  uint32
	BusErrors uint64
}

type channel struct {
	claimed bool
	cfg     ChannelConfig
	ChannelStats
}

// Controller is the transfer engine.
type Controller struct {
	bus      Bus
	dreqs    DreqSource
	channels [ChannelCount]channel
	next     int
	chained  uint16
}

// NewController creates a controller moving data on bus.
func NewController(bus Bus, dreqs DreqSource) *Controller {
	c := &Controller{bus: bus, dreqs: dreqs}
	for n := range c.channels {
		c.channels[n].cfg = DefaultChannelConfig(uint8(n))
	}
	return c
}

func (c *Controller) channel(ch uint8) (*channel, error) {
	if ch >= ChannelCount {
		return nil, errors.Wrapf(ErrChannelRange, "channel %d", ch)
	}
	return &c.channels[ch], nil
}

// Claim marks channel ch as in use.
func (c *Controller) Claim(ch uint8) error {
	chn, err := c.channel(ch)
	if err != nil {
		return err
	}
	if chn.claimed {
		return errors.Wrapf(ErrChannelClaimed, "channel %d", ch)
	}
	chn.claimed = true
	return nil
}

// ClaimUnused claims the lowest free channel.
func (c *Controller) ClaimUnused() (uint8, error) {
	for n := range c.channels {
		if !c.channels[n].claimed {
			c.channels[n].claimed = true
			return uint8(n), nil
		}
	}
	return 0, ErrNoChannel
}

// Unclaim aborts and releases channel ch.
func (c *Controller) Unclaim(ch uint8) {
	if chn, err := c.channel(ch); err == nil {
		*chn = channel{cfg: DefaultChannelConfig(ch)}
	}
}

// Claimed reports whether channel ch is claimed.
func (c *Controller) Claimed(ch uint8) bool {
	return ch < ChannelCount && c.channels[ch].claimed
}

// Configure programs a claimed channel. With trigger the channel starts at
// once, otherwise Start starts it.
func (c *Controller) Configure(ch uint8, cfg ChannelConfig, write, read, count uint32, trigger bool) error {
	chn, err := c.channel(ch)
	if err != nil {
		return err
	}
	if !chn.claimed {
		return errors.Wrapf(ErrNotClaimed, "channel %d", ch)
	}
	if chn.Busy {
		return errors.Wrapf(ErrBusy, "channel %d", ch)
	}
	if cfg.ChainTo >= ChannelCount {
		return errors.Wrapf(ErrChannelRange, "chain to %d", cfg.ChainTo)
	}
	chn.cfg = cfg
	chn.WriteAddr, chn.ReadAddr, chn.Remaining = write, read, count
	glog.V(2).Infof("dma %d: %08x -> %08x count %d dreq %d", ch, read, write, count, cfg.Dreq)
	if trigger {
		return c.Start(ch)
	}
	return nil
}

// Start triggers a configured channel.
func (c *Controller) Start(ch uint8) error {
	chn, err := c.channel(ch)
	if err != nil {
		return err
	}
	if !chn.claimed {
		return errors.Wrapf(ErrNotClaimed, "channel %d", ch)
	}
	chn.Busy = chn.Remaining > 0
	return nil
}

// Abort stops channel ch.
func (c *Controller) Abort(ch uint8) {
	if chn, err := c.channel(ch); err == nil {
		chn.Busy = false
	}
}

// Stats returns the state of channel ch.
func (c *Controller) Stats(ch uint8) ChannelStats {
	if chn, err := c.channel(ch); err == nil {
		return chn.ChannelStats
	}
	return ChannelStats{}
}

// Config returns the control word of channel ch.
func (c *Controller) Config(ch uint8) ChannelConfig {
	if chn, err := c.channel(ch); err == nil {
		return chn.cfg
	}
	return ChannelConfig{}
}

// Busy reports whether any channel is running.
func (c *Controller) Busy() bool {
	for n := range c.channels {
		if c.channels[n].Busy {
			return true
		}
	}
	return false
}

// Step gives every running channel whose request line is asserted one
// transfer, high priority channels first. Channels triggered by a chain
// start on the next Step. It reports whether anything moved.
func (c *Controller) Step() bool {
	moved := false
	for _, high := range []bool{true, false} {
		for i := 0; i < ChannelCount; i++ {
			n := (c.next + i) % ChannelCount
			chn := &c.channels[n]
			if !chn.Busy || chn.cfg.HighPriority != high {
				continue
			}
			if c.transfer(uint8(n), chn) {
				moved = true
			}
		}
	}
	c.next = (c.next + 1) % ChannelCount
	for n := uint8(0); c.chained != 0; n++ {
		if c.chained&(1<<n) == 0 {
			continue
		}
		c.chained &^= 1 << n
		if err := c.Start(n); err != nil {
			glog.Warningf("dma: chain to %d: %v", n, err)
		}
	}
	return moved
}

func (c *Controller) transfer(ch uint8, chn *channel) bool {
	if chn.cfg.Dreq != DreqForce && !c.dreqs.Dreq(chn.cfg.Dreq) {
		return false
	}
	v, err := c.bus.Read32(chn.ReadAddr)
	if err == nil {
		v &= chn.cfg.DataSize.mask()
		err = c.bus.Write32(chn.WriteAddr, v)
	}
	if err != nil {
		chn.BusErrors++
		chn.Busy = false
		glog.Errorf("dma %d: bus error, channel halted: %v", ch, err)
		return false
	}
	chn.Transfers++
	chn.LastWord = v
	glog.V(4).Infof("dma %d: %08x", ch, v)
	step := chn.cfg.DataSize.Bytes()
	if chn.cfg.ReadIncrement {
		chn.ReadAddr += step
	}
	if chn.cfg.WriteIncrement {
		chn.WriteAddr += step
	}
	if chn.Remaining == Unbounded {
		return true
	}
	chn.Remaining--
	if chn.Remaining == 0 {
		chn.Busy = false
		glog.V(2).Infof("dma %d: complete after %d transfers", ch, chn.Transfers)
		if chn.cfg.ChainTo != ch {
			c.chained |= 1 << chn.cfg.ChainTo
		}
	}
	return true
}
