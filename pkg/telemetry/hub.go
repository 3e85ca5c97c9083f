package telemetry

import (
	"io"
	"sync"

	"github.com/golang/glog"
)

// PacketReader reads packets in bytes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes packets in bytes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes packets in bytes.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

type hubClient struct {
	w PacketWriter
	c io.Closer
}

// Hub fans packets out to attached clients. A client failing a write is
// closed and detached.
type Hub struct {
	lock    sync.Mutex
	clients map[uint64]hubClient
	next    uint64
}

// Attach adds a client. closer may be nil. The returned func detaches it.
func (h *Hub) Attach(w PacketWriter, closer io.Closer) (detach func()) {
	h.lock.Lock()
	if h.clients == nil {
		h.clients = make(map[uint64]hubClient)
	}
	id := h.next
	h.next++
	h.clients[id] = hubClient{w: w, c: closer}
	h.lock.Unlock()
	return func() {
		h.lock.Lock()
		delete(h.clients, id)
		h.lock.Unlock()
	}
}

// Len returns the number of attached clients.
func (h *Hub) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// WritePacket implements PacketWriter. It never fails: nobody listening is
// not an error for telemetry.
func (h *Hub) WritePacket(pkt []byte) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	for id, client := range h.clients {
		if err := client.w.WritePacket(pkt); err != nil {
			glog.V(1).Infof("telemetry: drop client %d: %v", id, err)
			if client.c != nil {
				client.c.Close()
			}
			delete(h.clients, id)
		}
	}
	return nil
}

// Close closes and detaches every client.
func (h *Hub) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	for id, client := range h.clients {
		if client.c != nil {
			client.c.Close()
		}
		delete(h.clients, id)
	}
	return nil
}
