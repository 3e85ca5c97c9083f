// Package stream serves telemetry packets over TCP.
package stream

import (
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	fx "github.com/robotalks/piobridge/pkg/framework"
	"github.com/robotalks/piobridge/pkg/telemetry"
)

// MaxPacketSize bounds what ReadPacket accepts.
const MaxPacketSize = 1 << 16

// ErrPacketTooLarge indicates a length prefix over MaxPacketSize.
var ErrPacketTooLarge = errors.New("packet too large")

// ReadWriter implements telemetry.PacketReadWriter.
// Each packet is prefixed by 4-byte (little-endian) indicate the length.
type ReadWriter struct {
	io.ReadWriter
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{s}
}

// ReadPacket implements telemetry.PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	var size uint32
	if err := binary.Read(p, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size > MaxPacketSize {
		return nil, errors.Wrapf(ErrPacketTooLarge, "%d bytes", size)
	}
	pkt := make([]byte, size)
	_, err := io.ReadFull(p, pkt)
	return pkt, err
}

// WritePacket implements telemetry.PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	buf := make([]byte, 4+len(pkt))
	binary.LittleEndian.PutUint32(buf, uint32(len(pkt)))
	copy(buf[4:], pkt)
	_, err := p.Write(buf)
	return err
}

// Server accepts TCP clients and writes every packet to all of them.
type Server struct {
	Addr string

	hub      telemetry.Hub
	listener net.Listener
}

// NewServer creates a Server listening on addr.
func NewServer(addr string) *Server {
	return &Server{Addr: addr}
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "telemetry-stream"
}

// Listen binds the address. Run calls it when needed.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.Addr)
	}
	s.listener = ln
	glog.Infof("telemetry: stream on %s", ln.Addr())
	return nil
}

// ListenAddr returns the bound address, nil before Listen.
func (s *Server) ListenAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return s.hub.Len()
}

// WritePacket implements telemetry.PacketWriter.
func (s *Server) WritePacket(pkt []byte) error {
	return s.hub.WritePacket(pkt)
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.hub.Close()
	return fx.RunWithContextCloser(ctx, s.listener, s.serve)
}

func (s *Server) serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		glog.V(1).Infof("telemetry: stream client %s", conn.RemoteAddr())
		detach := s.hub.Attach(New(conn), conn)
		go func() {
			// clients only listen; EOF means gone
			io.Copy(io.Discard, conn)
			detach()
			conn.Close()
		}()
	}
}
