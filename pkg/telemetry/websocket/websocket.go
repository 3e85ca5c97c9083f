// Package websocket serves telemetry packets to websocket clients.
package websocket

import (
	"context"
	"net"
	"net/http"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	fx "github.com/robotalks/piobridge/pkg/framework"
	"github.com/robotalks/piobridge/pkg/telemetry"
)

// DefaultPath is where clients connect.
const DefaultPath = "/telemetry"

// ReadWriter implements telemetry.PacketReadWriter.
type ReadWriter websocket.Conn

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *ReadWriter {
	return (*ReadWriter)(conn)
}

// ReadPacket implements telemetry.PacketReader.
func (p *ReadWriter) ReadPacket() (pkt []byte, err error) {
	err = websocket.Message.Receive((*websocket.Conn)(p), &pkt)
	return
}

// WritePacket implements telemetry.PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	return websocket.Message.Send((*websocket.Conn)(p), pkt)
}

// Server is an HTTP server upgrading Path to a websocket that receives
// every packet as a binary message.
type Server struct {
	Addr string
	Path string

	hub      telemetry.Hub
	listener net.Listener
}

// NewServer creates a Server on addr serving DefaultPath.
func NewServer(addr string) *Server {
	return &Server{Addr: addr, Path: DefaultPath}
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "telemetry-websocket"
}

// Listen binds the address. Run calls it when needed.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.Addr)
	}
	s.listener = ln
	glog.Infof("telemetry: websocket on ws://%s%s", ln.Addr(), s.Path)
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

func (s *Server) handle(conn *websocket.Conn) {
	glog.V(1).Infof("telemetry: websocket client %s", conn.Request().RemoteAddr)
	rw := New(conn)
	detach := s.hub.Attach(rw, conn)
	defer detach()
	for {
		if _, err := rw.ReadPacket(); err != nil {
			return
		}
	}
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	mux := http.NewServeMux()
	mux.Handle(s.Path, websocket.Handler(s.handle))
	srv := &http.Server{Handler: mux}
	defer s.hub.Close()
	return fx.RunWithContextCloser(ctx, srv, func() error {
		return srv.Serve(s.listener)
	})
}
