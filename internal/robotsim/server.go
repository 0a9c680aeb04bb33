// Package robotsim is a test-only simulated robot server: it speaks the
// same handshake and 8-slot sliding-window protocol as the real client
// under test, standing in for actual robot hardware. Adapted from the
// teacher's serverudp.go (packetLoop/dispatchCtrl dispatch shape and its
// per-client state map), retargeted from the teacher's META/DATA/EOF/NACK
// exchange onto this protocol's SYN/DATA/ACK/FIN/RST handshake and window.
package robotsim

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"robotudp/internal/protocol"
)

// Fault lets a test mutate or reorder a burst of packets the server is
// about to send, to exercise reordering/duplication/drop scenarios without
// the server itself needing to know about them.
type Fault func(batch []protocol.Packet) []protocol.Packet

// clientState is the per-peer session the server tracks, mirroring the
// teacher's activeTransfers map but keyed on the new protocol's fields.
type clientState struct {
	addr   *net.UDPAddr
	connID uint32
	dir    protocol.Direction

	mu sync.Mutex

	// download (server -> client) bookkeeping
	sendOffset uint32
	remaining  [][]byte

	// upload (client -> server) bookkeeping
	slots     [protocol.WindowSize][]byte
	written   uint32
	recvBuf   []byte
	recvDone  chan struct{}
	recvDoned bool
}

// Server is a minimal reliable-protocol peer driven entirely by incoming
// datagrams, for use as the counterpart in client integration tests.
type Server struct {
	conn      *net.UDPConn
	running   atomic.Bool
	nextConn  atomic.Uint32
	mu        sync.Mutex
	clients   map[string]*clientState
	chunkSize int

	// DownloadData, when set, is served to any client that performs a
	// DOWNLOAD handshake.
	DownloadData []byte
	// DownloadFault, when set, is applied to every window burst before
	// it is written to the socket.
	DownloadFault Fault
}

// New builds a Server with a fresh client table.
func New() *Server {
	return &Server{clients: make(map[string]*clientState), chunkSize: protocol.MaxPayload}
}

// Start listens on host:port ("127.0.0.1:0" for an ephemeral test port) and
// returns the bound address.
func (s *Server) Start(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.nextConn.Store(1)
	s.running.Store(true)
	go s.packetLoop()
	return conn.LocalAddr().(*net.UDPAddr), nil
}

// Stop closes the listening socket.
func (s *Server) Stop() {
	s.running.Store(false)
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *Server) packetLoop() {
	buf := make([]byte, protocol.MaxDatagram)
	for s.running.Load() {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		p, err := protocol.Decode(append([]byte(nil), buf[:n]...))
		if err != nil {
			continue
		}
		s.dispatch(addr, p)
	}
}

func (s *Server) dispatch(addr *net.UDPAddr, p protocol.Packet) {
	switch p.Flag {
	case protocol.FlagSYN:
		s.handleSyn(addr, p)
	case protocol.FlagRST:
		s.mu.Lock()
		delete(s.clients, addr.String())
		s.mu.Unlock()
	case protocol.FlagFIN:
		s.handleClientFin(addr, p)
	case protocol.FlagEmpty:
		s.handleData(addr, p)
	}
}

func (s *Server) handleSyn(addr *net.UDPAddr, p protocol.Packet) {
	key := addr.String()
	s.mu.Lock()
	cs, exists := s.clients[key]
	if !exists {
		dir := protocol.DirDownload
		if len(p.Data) == 1 {
			dir = protocol.Direction(p.Data[0])
		}
		cs = &clientState{addr: addr, connID: s.nextConn.Add(1), dir: dir, recvDone: make(chan struct{})}
		if dir == protocol.DirDownload {
			cs.remaining = chunk(s.DownloadData, s.chunkSize)
		}
		s.clients[key] = cs
	}
	s.mu.Unlock()

	resp := protocol.Packet{ConnID: cs.connID, Seq: 0, Ack: 0, Flag: protocol.FlagSYN, Data: []byte{byte(cs.dir)}}
	s.send(addr, resp)

	if !exists && cs.dir == protocol.DirDownload {
		cs.mu.Lock()
		s.sendWindow(addr, cs)
		cs.mu.Unlock()
	}
}

func chunk(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, append([]byte(nil), data[:n]...))
		data = data[n:]
	}
	return out
}

// sendWindow emits up to WindowSize queued chunks, or a FIN once the queue
// is empty. Must be called with cs.mu held.
func (s *Server) sendWindow(addr *net.UDPAddr, cs *clientState) {
	if len(cs.remaining) == 0 {
		s.sendBatch(addr, []protocol.Packet{protocol.Fin(cs.connID, protocol.LowerSeq(cs.sendOffset), protocol.DirDownload)})
		return
	}
	n := len(cs.remaining)
	if n > protocol.WindowSize {
		n = protocol.WindowSize
	}
	offset := cs.sendOffset
	batch := make([]protocol.Packet, 0, n)
	for i := 0; i < n; i++ {
		c := cs.remaining[i]
		batch = append(batch, protocol.Data(cs.connID, protocol.LowerSeq(offset), c))
		offset += uint32(len(c))
	}
	s.sendBatch(addr, batch)
}

func (s *Server) sendBatch(addr *net.UDPAddr, batch []protocol.Packet) {
	if s.DownloadFault != nil {
		batch = s.DownloadFault(batch)
	}
	for _, p := range batch {
		s.send(addr, p)
	}
}

func (s *Server) handleData(addr *net.UDPAddr, p protocol.Packet) {
	s.mu.Lock()
	cs := s.clients[addr.String()]
	s.mu.Unlock()
	if cs == nil || cs.connID != p.ConnID {
		return
	}

	if cs.dir == protocol.DirDownload {
		// a bare ack advancing the download window
		cs.mu.Lock()
		ackLog := protocol.LiftSeq(cs.sendOffset, p.Ack)
		for ackLog > cs.sendOffset && len(cs.remaining) > 0 {
			cs.sendOffset += uint32(len(cs.remaining[0]))
			cs.remaining = cs.remaining[1:]
		}
		s.sendWindow(addr, cs)
		cs.mu.Unlock()
		return
	}

	// upload direction: reorder window identical in shape to
	// internal/download.Receiver, kept separate here since this is the
	// server side of the same exchange.
	cs.mu.Lock()
	if len(p.Data) > 0 && len(p.Data) <= protocol.MaxPayload {
		idx := protocol.SlotIndex(cs.written, p.Seq)
		if idx >= 0 && idx < protocol.WindowSize && cs.slots[idx] == nil {
			cs.slots[idx] = append([]byte(nil), p.Data...)
		}
	}
	for cs.slots[0] != nil {
		cs.recvBuf = append(cs.recvBuf, cs.slots[0]...)
		cs.written += uint32(len(cs.slots[0]))
		copy(cs.slots[:], cs.slots[1:])
		cs.slots[protocol.WindowSize-1] = nil
	}
	ack := protocol.LowerSeq(cs.written)
	cs.mu.Unlock()

	s.send(addr, protocol.Ack(cs.connID, ack))
}

func (s *Server) handleClientFin(addr *net.UDPAddr, p protocol.Packet) {
	s.mu.Lock()
	cs := s.clients[addr.String()]
	s.mu.Unlock()
	if cs == nil {
		return
	}
	s.send(addr, protocol.Fin(cs.connID, p.Seq, protocol.DirUpload))
	cs.mu.Lock()
	if !cs.recvDoned {
		cs.recvDoned = true
		close(cs.recvDone)
	}
	cs.mu.Unlock()
}

func (s *Server) send(addr *net.UDPAddr, p protocol.Packet) {
	_, _ = s.conn.WriteToUDP(p.Encode(), addr)
}

// Uploaded blocks until the client identified by addr has sent FIN, then
// returns everything the server reassembled from its upload.
func (s *Server) Uploaded(addr *net.UDPAddr, timeout time.Duration) ([]byte, bool) {
	s.mu.Lock()
	cs := s.clients[addr.String()]
	s.mu.Unlock()
	if cs == nil {
		return nil, false
	}
	select {
	case <-cs.recvDone:
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.recvBuf, true
	case <-time.After(timeout):
		return nil, false
	}
}
