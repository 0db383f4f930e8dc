package link

import (
	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"golang.org/x/xerrors"
)

// BorderConn drives a border (NoC-facing) port, grounded on the
// original Rust source's noc.rs Noc.listen_port loop - read an envelope
// off the wire, hand it to a callback, repeat - simplified from that
// loop's packet-reassembly-then-dispatch shape to a single AppFrame per
// call, since link.Frame/Conn already reassemble at the transport layer.
type BorderConn struct {
	conn   Conn
	portNo fabric.PortNo
}

// NewBorderConn wraps conn, already connected on portNo, as a border
// port carrying AppEnvelope frames instead of FramePacket/FrameControl.
func NewBorderConn(conn Conn, portNo fabric.PortNo) *BorderConn {
	return &BorderConn{conn: conn, portNo: portNo}
}

// Send writes env out over the border connection.
func (b *BorderConn) Send(env AppEnvelope) error {
	return b.conn.SendFrame(AppFrame(env))
}

// Listen reads AppEnvelope frames until the connection closes or
// onEnvelope returns an error, mirroring the per-connection receive
// loop link.Router.handleConn runs for interior ports. A FramePacket or
// FrameControl frame arriving on a border port is a protocol violation
// and ends the loop.
func (b *BorderConn) Listen(onEnvelope func(AppEnvelope) error) error {
	for {
		f, err := b.conn.ReceiveFrame()
		if err != nil {
			return err
		}
		if f.Kind != FrameApp || f.App == nil {
			return xerrors.Errorf("border port %d: got frame kind %d, want FrameApp", b.portNo, f.Kind)
		}
		if err := onEnvelope(*f.App); err != nil {
			return err
		}
	}
}

// Close closes the underlying connection.
func (b *BorderConn) Close() error {
	return b.conn.Close()
}

// BorderAppSink adapts a BorderConn to cellagent.AppSink, so a packet
// reassembled at this cell and destined for the tenant side (spec.md
// §4.6's "deliver packet up to CA") is forwarded out the border port as
// an AppEnvelope tagged with the tree it arrived on.
type BorderAppSink struct {
	Conn *BorderConn
}

// Deliver implements cellagent.AppSink. A packet reassembled at this
// cell and handed up to the CA is ordinary tenant traffic, so it goes
// out tagged Interapplication (spec.md §6's app_msg_type enum;
// original_source/src/app_message.rs's AppInterapplicationMsg is the
// only AppMsgType variant carrying an opaque byte body rootward).
func (s *BorderAppSink) Deliver(treeUuid fabric.Uuid, body []byte) error {
	return s.Conn.Send(AppEnvelope{
		AllowedTree: treeUuid,
		AppMsgType:  string(cellagent.AppMsgInterapplication),
		Direction:   "Rootward",
		Bytes:       body,
	})
}

var _ cellagent.AppSink = (*BorderAppSink)(nil)
