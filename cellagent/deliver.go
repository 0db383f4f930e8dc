package cellagent

import (
	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/packet"
)

// AppSink receives a fully reassembled application payload delivered to
// this cell on treeUuid - the tenant-visible endpoint of a data flow
// that terminated here rather than being forwarded onward (spec.md §4.6
// step 2: "If absent, deliver packet up to CA"; step 2's rootward/
// leafward port-0 cases). fabric/webapi and fabric/rack wire a sink in;
// a CellAgent with none set just counts deliveries.
type AppSink interface {
	Deliver(treeUuid fabric.Uuid, body []byte) error
}

// SetAppSink installs the application-level consumer of packets handed
// up to this cell agent by the packet engine.
func (ca *CellAgent) SetAppSink(sink AppSink) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.appSink = sink
}

// Deliver implements packetengine.CASink: it is called for every packet
// the packet engine cannot forward further - an unrecognized tree, a
// rootward/leafward hop whose destination is port 0, or one leg of an
// AIT handshake. Every call is counted. With no AppSink installed the
// packet is dropped after counting; otherwise every packet, AIT or not,
// is buffered by UniqueMsgId until the IsLast packet arrives, and the
// reassembled body is then handed to the AppSink.
func (ca *CellAgent) Deliver(recvPort fabric.PortNo, p packet.Packet) error {
	ca.mu.Lock()
	ca.noAppDeliveries++
	assembler := ca.assembler
	sink := ca.appSink
	ca.mu.Unlock()

	if sink == nil {
		return nil
	}

	body, complete := assembler.Add(p)
	if !complete {
		return nil
	}
	return sink.Deliver(p.Header.TreeUuid, body)
}

// NoAppDeliveries returns the number of packets handed to Deliver so
// far, for diagnostics when no AppSink is installed.
func (ca *CellAgent) NoAppDeliveries() int {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return ca.noAppDeliveries
}
