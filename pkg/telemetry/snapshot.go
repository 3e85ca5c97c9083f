// Package telemetry ships bridge counters off the chip: a periodic
// housekeeping task collects a Snapshot and writes it, protobuf encoded, to
// packet sinks (MQTT, TCP stream, websocket).
package telemetry

import (
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/piobridge/pkg/bridge"
)

// Snapshot is the telemetry record of one bridge.
type Snapshot struct {
	Source    string `protobuf:"bytes,1,opt,name=source,proto3" json:"source,omitempty"`
	Seq       uint64 `protobuf:"varint,2,opt,name=seq,proto3" json:"seq,omitempty"`
	Timestamp int64  `protobuf:"varint,3,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Ticks     uint64 `protobuf:"varint,4,opt,name=ticks,proto3" json:"ticks,omitempty"`
	Pc        uint32 `protobuf:"varint,5,opt,name=pc,proto3" json:"pc,omitempty"`
	Cycles    uint64 `protobuf:"varint,6,opt,name=cycles,proto3" json:"cycles,omitempty"`
	Executed  uint64 `protobuf:"varint,7,opt,name=executed,proto3" json:"executed,omitempty"`
	Stalls    uint64 `protobuf:"varint,8,opt,name=stalls,proto3" json:"stalls,omitempty"`
	Pushes    uint64 `protobuf:"varint,9,opt,name=pushes,proto3" json:"pushes,omitempty"`
	Pulls     uint64 `protobuf:"varint,10,opt,name=pulls,proto3" json:"pulls,omitempty"`
	Underruns uint64 `protobuf:"varint,11,opt,name=underruns,proto3" json:"underruns,omitempty"`
	Transfers uint64 `protobuf:"varint,12,opt,name=transfers,proto3" json:"transfers,omitempty"`
	BusErrors uint64 `protobuf:"varint,13,opt,name=bus_errors,proto3" json:"bus_errors,omitempty"`
	TxLevel   uint32 `protobuf:"varint,14,opt,name=tx_level,proto3" json:"tx_level,omitempty"`
	RxLevel   uint32 `protobuf:"varint,15,opt,name=rx_level,proto3" json:"rx_level,omitempty"`
	Sampled   uint32 `protobuf:"varint,16,opt,name=sampled,proto3" json:"sampled,omitempty"`
	Emitted   uint32 `protobuf:"varint,17,opt,name=emitted,proto3" json:"emitted,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Snapshot) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Snapshot) Reset() { *m = Snapshot{} }

// String implements proto.Message.
func (m *Snapshot) String() string { return proto.CompactTextString(m) }

// Encode encodes the snapshot to bytes.
func (m *Snapshot) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// DecodeSnapshot decodes bytes into a Snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var m Snapshot
	if err := proto.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// StatsSource is what a snapshot is collected from.
type StatsSource interface {
	Stats() bridge.Stats
}

// Collect takes a snapshot of src.
func Collect(src StatsSource, source string, seq uint64, at time.Time) *Snapshot {
	s := src.Stats()
	return &Snapshot{
		Source:    source,
		Seq:       seq,
		Timestamp: at.UnixNano(),
		Ticks:     s.Ticks,
		Pc:        uint32(s.PC),
		Cycles:    s.SM.Cycles,
		Executed:  s.SM.Executed,
		Stalls:    s.SM.Stalls,
		Pushes:    s.SM.Pushes,
		Pulls:     s.SM.Pulls,
		Underruns: s.SM.Underruns,
		Transfers: s.DMA.Transfers,
		BusErrors: s.DMA.BusErrors,
		TxLevel:   uint32(s.TxLevel),
		RxLevel:   uint32(s.RxLevel),
		Sampled:   uint32(s.Sampled),
		Emitted:   uint32(s.Emitted),
	}
}
