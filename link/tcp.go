package link

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/cellfabric/fabric"
	"golang.org/x/xerrors"
)

// timeout bounds both reads and writes, mirroring teacher's
// network/tcp.go networkTimeout.
var timeout = 1 * time.Minute

var dialTimeout = 1 * time.Minute

// TCPConn implements Conn over a plain net.Conn using a 4-byte
// big-endian length prefix followed by a JSON-encoded Frame, grounded
// on teacher's network/tcp.go TCPConn.sendRaw/receiveRawProd.
type TCPConn struct {
	conn net.Conn

	closedMu sync.Mutex
	closed   bool

	receiveMu sync.Mutex
	sendMu    sync.Mutex

	counterSafe
}

// DialTCP opens a TCPConn to addr.
func DialTCP(addr string) (*TCPConn, error) {
	c, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, xerrors.Errorf("dial %s: %v: %w", addr, err, fabric.ErrConnClosed)
	}
	return &TCPConn{conn: c}, nil
}

// NewTCPConn wraps an already-accepted net.Conn.
func NewTCPConn(c net.Conn) *TCPConn {
	return &TCPConn{conn: c}
}

// ListenTCP listens on addr, calling onAccept in a new goroutine for
// every accepted connection until the returned net.Listener is closed.
func ListenTCP(addr string, onAccept func(Conn)) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("listen %s: %v", addr, err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go onAccept(NewTCPConn(c))
		}
	}()
	return ln, nil
}

func (c *TCPConn) SendFrame(f Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	b, err := marshalFrame(f)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := binary.Write(c.conn, binary.BigEndian, uint32(len(b))); err != nil {
		return xerrors.Errorf("write frame length: %v: %w", err, fabric.ErrConnClosed)
	}
	if _, err := c.conn.Write(b); err != nil {
		return xerrors.Errorf("write frame body: %v: %w", err, fabric.ErrConnClosed)
	}
	c.updateTx(uint64(4 + len(b)))
	return nil
}

func (c *TCPConn) ReceiveFrame() (Frame, error) {
	c.receiveMu.Lock()
	defer c.receiveMu.Unlock()

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	var size uint32
	if err := binary.Read(c.conn, binary.BigEndian, &size); err != nil {
		return Frame{}, xerrors.Errorf("read frame length: %v: %w", err, fabric.ErrConnClosed)
	}
	if size > MaxFrameSize {
		return Frame{}, xerrors.Errorf("peer frame of %d bytes: %w", size, fabric.ErrFrameTooLarge)
	}

	b := make([]byte, size)
	var read uint32
	for read < size {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		n, err := c.conn.Read(b[read:])
		if err != nil {
			return Frame{}, xerrors.Errorf("read frame body: %v: %w", err, fabric.ErrConnClosed)
		}
		read += uint32(n)
	}
	c.updateRx(uint64(4 + size))
	return unmarshalFrame(b)
}

func (c *TCPConn) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *TCPConn) Remote() string { return c.conn.RemoteAddr().String() }
