package chip

import (
	"sort"

	"github.com/pkg/errors"
)

// ErrBusFault indicates an access to an unmapped or misaligned address.
var ErrBusFault = errors.New("bus fault")

// Well known addresses.
const (
	SRAMBase uint32 = 0x20000000
	SIOBase  uint32 = 0xd0000000

	// SIO register offsets
	SIOGPIOIn  uint32 = 0x004
	SIOGPIOOut uint32 = 0x010
	SIOGPIOOE  uint32 = 0x020
)

// Region is an address-mapped window with read and write handlers receiving
// the offset from the region start.
type Region struct {
	Name    string
	Start   uint32
	Size    uint32
	OnRead  func(offset uint32) uint32
	OnWrite func(offset uint32, v uint32)
}

func (r *Region) contains(addr uint32) bool {
	return addr >= r.Start && addr-r.Start < r.Size
}

// Bus decodes 32-bit accesses to regions.
type Bus struct {
	regions []Region
}

// MapIO adds a region. Regions must not overlap.
func (b *Bus) MapIO(r Region) error {
	for _, m := range b.regions {
		if r.Start < m.Start+m.Size && m.Start < r.Start+r.Size {
			return errors.Errorf("region %s overlaps %s", r.Name, m.Name)
		}
	}
	b.regions = append(b.regions, r)
	sort.Slice(b.regions, func(i, j int) bool { return b.regions[i].Start < b.regions[j].Start })
	return nil
}

func (b *Bus) find(addr uint32) (*Region, error) {
	if addr&3 != 0 {
		return nil, errors.Wrapf(ErrBusFault, "misaligned %08x", addr)
	}
	n := sort.Search(len(b.regions), func(i int) bool {
		return b.regions[i].Start+b.regions[i].Size > addr
	})
	if n < len(b.regions) && b.regions[n].contains(addr) {
		return &b.regions[n], nil
	}
	return nil, errors.Wrapf(ErrBusFault, "unmapped %08x", addr)
}

// Read32 reads a word.
func (b *Bus) Read32(addr uint32) (uint32, error) {
	r, err := b.find(addr)
	if err != nil {
		return 0, err
	}
	if r.OnRead == nil {
		return 0, nil
	}
	return r.OnRead(addr - r.Start), nil
}

// Write32 writes a word.
func (b *Bus) Write32(addr uint32, v uint32) error {
	r, err := b.find(addr)
	if err != nil {
		return err
	}
	if r.OnWrite != nil {
		r.OnWrite(addr-r.Start, v)
	}
	return nil
}

// Regions lists the mapped regions by address.
func (b *Bus) Regions() []Region {
	return append([]Region(nil), b.regions...)
}

// RAM is word-addressed memory to map on a Bus.
type RAM []uint32

// Region maps the memory at start.
func (m RAM) Region(name string, start uint32) Region {
	return Region{
		Name:    name,
		Start:   start,
		Size:    uint32(len(m)) * 4,
		OnRead:  func(offset uint32) uint32 { return m[offset/4] },
		OnWrite: func(offset uint32, v uint32) { m[offset/4] = v },
	}
}
