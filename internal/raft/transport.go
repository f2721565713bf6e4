package raft

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Transport defines the interface for Raft RPC communication.
// Peers are addressed by their transport address so that membership
// changes need no transport reconfiguration.
type Transport interface {
	// Send sends an RPC to a peer and waits for the response.
	Send(addr string, msgType uint8, data []byte) ([]byte, error)

	// Listen starts listening for incoming RPCs.
	Listen(handler RPCHandler) error

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address.
	LocalAddr() string
}

// RPCHandler handles incoming RPC messages.
// Returns the response data to send back.
type RPCHandler func(msgType uint8, data []byte) []byte

// peerConn is a cached connection to one peer. The mutex serializes
// request/response exchanges so concurrent RPCs to the same peer
// cannot interleave on the wire.
type peerConn struct {
	conn net.Conn
	mu   sync.Mutex
}

// TCPTransport implements Transport using TCP.
type TCPTransport struct {
	addr     string
	listener net.Listener
	conns    map[string]*peerConn // peer address -> connection
	handler  RPCHandler
	timeout  time.Duration
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewTCPTransport creates a new TCP transport listening on addr.
func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{
		addr:    addr,
		conns:   make(map[string]*peerConn),
		timeout: 5 * time.Second,
	}
}

// SetTimeout sets the connection timeout.
func (t *TCPTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// LocalAddr returns the local address.
func (t *TCPTransport) LocalAddr() string {
	return t.addr
}

// Send sends an RPC message to a peer and waits for the response.
// Message format: [type:1][length:4][data:N]
func (t *TCPTransport) Send(addr string, msgType uint8, data []byte) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}

	pc, ok := t.conns[addr]
	if !ok {
		conn, err := net.DialTimeout("tcp", addr, t.timeout)
		if err != nil {
			t.mu.Unlock()
			return nil, ErrConnectFailed
		}
		pc = &peerConn{conn: conn}
		t.conns[addr] = pc
	}
	timeout := t.timeout
	t.mu.Unlock()

	pc.mu.Lock()
	defer pc.mu.Unlock()

	// Set deadline for this exchange
	pc.conn.SetDeadline(time.Now().Add(timeout))

	// Write message: [type:1][length:4][data:N]
	header := make([]byte, 5)
	header[0] = msgType
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(data)))

	if _, err := pc.conn.Write(header); err != nil {
		t.removeConn(addr)
		return nil, exchangeErr(err)
	}
	if _, err := pc.conn.Write(data); err != nil {
		t.removeConn(addr)
		return nil, exchangeErr(err)
	}

	// Read response header
	respHeader := make([]byte, 5)
	if _, err := io.ReadFull(pc.conn, respHeader); err != nil {
		t.removeConn(addr)
		return nil, exchangeErr(err)
	}

	// Read response data
	respLen := binary.LittleEndian.Uint32(respHeader[1:5])
	respData := make([]byte, respLen)
	if respLen > 0 {
		if _, err := io.ReadFull(pc.conn, respData); err != nil {
			t.removeConn(addr)
			return nil, exchangeErr(err)
		}
	}

	return respData, nil
}

// exchangeErr classifies a failed exchange. Deadline expiries become
// ErrTimeout so callers can tell a slow peer from a broken connection.
func exchangeErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return err
}

// Listen starts accepting connections and handling RPCs.
func (t *TCPTransport) Listen(handler RPCHandler) error {
	var err error
	t.listener, err = net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	t.handler = handler

	t.wg.Add(1)
	go t.acceptLoop()

	return nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			continue
		}

		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	for {
		t.mu.RLock()
		closed := t.closed
		timeout := t.timeout
		t.mu.RUnlock()
		if closed {
			return
		}

		// Set read deadline
		conn.SetReadDeadline(time.Now().Add(timeout * 2))

		// Read message header
		header := make([]byte, 5)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		msgType := header[0]
		dataLen := binary.LittleEndian.Uint32(header[1:5])

		// Sanity check: prevent allocation of unreasonably large buffers
		if dataLen > 64*1024*1024 { // 64MB max
			return
		}

		// Read message data
		data := make([]byte, dataLen)
		if dataLen > 0 {
			if _, err := io.ReadFull(conn, data); err != nil {
				return
			}
		}

		// Handle the message
		var resp []byte
		if t.handler != nil {
			resp = t.handler(msgType, data)
		}

		// Write response
		respHeader := make([]byte, 5)
		respHeader[0] = msgType
		binary.LittleEndian.PutUint32(respHeader[1:5], uint32(len(resp)))

		conn.SetWriteDeadline(time.Now().Add(timeout))
		if _, err := conn.Write(respHeader); err != nil {
			return
		}
		if len(resp) > 0 {
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
	}
}

func (t *TCPTransport) removeConn(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pc, ok := t.conns[addr]; ok {
		pc.conn.Close()
		delete(t.conns, addr)
	}
}

// Close shuts down the transport.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	// Close listener
	if t.listener != nil {
		t.listener.Close()
	}

	// Close all peer connections
	t.mu.Lock()
	for _, pc := range t.conns {
		pc.conn.Close()
	}
	t.conns = make(map[string]*peerConn)
	t.mu.Unlock()

	// Wait for goroutines
	t.wg.Wait()

	return nil
}

// InMemoryTransport implements Transport for testing.
type InMemoryTransport struct {
	addr    string
	network *InMemoryNetwork
	handler RPCHandler
	closed  bool
	mu      sync.RWMutex
}

// InMemoryNetwork simulates a network for testing. It can partition
// nodes into groups that cannot reach each other.
type InMemoryNetwork struct {
	transports map[string]*InMemoryTransport
	blocked    map[string]map[string]bool // from -> to -> blocked
	mu         sync.RWMutex
}

// NewInMemoryNetwork creates a new in-memory network.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{
		transports: make(map[string]*InMemoryTransport),
	}
}

// NewTransport creates a new in-memory transport registered at addr.
func (n *InMemoryNetwork) NewTransport(addr string) *InMemoryTransport {
	t := &InMemoryTransport{
		addr:    addr,
		network: n,
	}

	n.mu.Lock()
	n.transports[addr] = t
	n.mu.Unlock()

	return t
}

// Partition splits the network into groups. Traffic between addresses
// in different groups is dropped in both directions.
func (n *InMemoryNetwork) Partition(groups ...[]string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.blocked = make(map[string]map[string]bool)
	for i, from := range groups {
		for j, to := range groups {
			if i == j {
				continue
			}
			for _, f := range from {
				for _, t := range to {
					if n.blocked[f] == nil {
						n.blocked[f] = make(map[string]bool)
					}
					n.blocked[f][t] = true
				}
			}
		}
	}
}

// Heal removes all partitions.
func (n *InMemoryNetwork) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked = nil
}

func (n *InMemoryNetwork) reachable(from, to string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.blocked[from][to]
}

// Send delivers an RPC to a peer if the network allows it.
func (t *InMemoryTransport) Send(addr string, msgType uint8, data []byte) ([]byte, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTransportClosed
	}
	t.mu.RUnlock()

	if !t.network.reachable(t.addr, addr) {
		return nil, ErrConnectFailed
	}

	t.network.mu.RLock()
	peer, ok := t.network.transports[addr]
	t.network.mu.RUnlock()

	if !ok {
		return nil, ErrConnectFailed
	}

	peer.mu.RLock()
	handler := peer.handler
	closed := peer.closed
	peer.mu.RUnlock()

	if closed || handler == nil {
		return nil, ErrConnectFailed
	}

	return handler(msgType, data), nil
}

// Listen starts listening for RPCs.
func (t *InMemoryTransport) Listen(handler RPCHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	return nil
}

// Close shuts down the transport.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handler = nil
	return nil
}

// LocalAddr returns the local address.
func (t *InMemoryTransport) LocalAddr() string {
	return t.addr
}
