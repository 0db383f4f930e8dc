package link

import (
	"sync"

	"github.com/cellfabric/fabric"
	"golang.org/x/xerrors"
)

// LocalManager tracks every address currently listening and the
// channel-backed connections between them, grounded on teacher's
// network/local.go LocalManager.
type LocalManager struct {
	mu        sync.Mutex
	listening map[string]func(Conn)
}

// NewLocalManager returns a fresh manager with nothing listening yet.
func NewLocalManager() *LocalManager {
	return &LocalManager{listening: make(map[string]func(Conn))}
}

// Listen registers addr as accepting incoming connections; onAccept is
// called, in a new goroutine, for every Dial targeting addr.
func (lm *LocalManager) Listen(addr string, onAccept func(Conn)) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.listening[addr] = onAccept
}

// StopListening withdraws addr from accepting new connections.
func (lm *LocalManager) StopListening(addr string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.listening, addr)
}

// Dial connects local to remote, returning local's end of the pair and
// invoking remote's registered onAccept with the other end. Grounded on
// teacher's network/local.go LocalManager.connect.
func (lm *LocalManager) Dial(local, remote string) (*LocalConn, error) {
	lm.mu.Lock()
	onAccept, ok := lm.listening[remote]
	lm.mu.Unlock()
	if !ok {
		return nil, xerrors.Errorf("dial %s from %s: %w", remote, local, fabric.ErrNotListening)
	}

	toRemote := make(chan Frame, 64)
	toLocal := make(chan Frame, 64)

	outgoing := &LocalConn{localAddr: local, remoteAddr: remote, send: toRemote, recv: toLocal}
	incoming := &LocalConn{localAddr: remote, remoteAddr: local, send: toLocal, recv: toRemote}

	go onAccept(incoming)
	return outgoing, nil
}

// LocalConn is an in-process Conn backed by a pair of buffered
// channels, used by tests and the rack simulator in place of a real
// socket, grounded on teacher's network/local.go LocalConn.
type LocalConn struct {
	localAddr, remoteAddr string
	send, recv            chan Frame

	closedMu sync.Mutex
	closed   bool

	counterSafe
}

func (c *LocalConn) SendFrame(f Frame) error {
	c.closedMu.Lock()
	closed := c.closed
	c.closedMu.Unlock()
	if closed {
		return xerrors.Errorf("send on %s: %w", c.remoteAddr, fabric.ErrConnClosed)
	}
	b, err := marshalFrame(f)
	if err != nil {
		return err
	}
	c.send <- f
	c.updateTx(uint64(len(b)))
	return nil
}

func (c *LocalConn) ReceiveFrame() (Frame, error) {
	f, ok := <-c.recv
	if !ok {
		return Frame{}, xerrors.Errorf("receive on %s: %w", c.localAddr, fabric.ErrConnClosed)
	}
	b, err := marshalFrame(f)
	if err == nil {
		c.updateRx(uint64(len(b)))
	}
	return f, nil
}

func (c *LocalConn) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

func (c *LocalConn) Remote() string { return c.remoteAddr }
