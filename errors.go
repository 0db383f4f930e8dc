// Package fabric implements the identifier, naming, and addressing types
// shared by every layer of the cell routing fabric: UUIDs with an embedded
// AIT state machine, fixed-capacity names, and the small value types
// (PortNo, Mask, Path) that the routing table and traph build on.
package fabric

import "golang.org/x/xerrors"

// Sentinel errors shared across the fabric packages. Each is wrapped with
// xerrors.Errorf at the call site that returns it, per the teacher's
// (onet) error-wrapping convention.
var (
	ErrInvalidName         = xerrors.New("invalid name")
	ErrTraphMissing        = xerrors.New("traph missing")
	ErrTreeMissing         = xerrors.New("tree missing")
	ErrPortElementMissing  = xerrors.New("port element missing")
	ErrNoTraphParent       = xerrors.New("traph has no parent element")
	ErrAitHere             = xerrors.New("AIT state not legal on this path")
	ErrUuidMismatch        = xerrors.New("routing entry uuid does not match packet uuid")
	ErrNoSender            = xerrors.New("no channel for port")
	ErrMayNotSend          = xerrors.New("tree does not allow originating messages")
	ErrTreeMapMissing      = xerrors.New("tree name unknown to sender")
	ErrPartition           = xerrors.New("failover search exhausted: tree is partitioned")
	ErrDeserialize         = xerrors.New("malformed trace or packet payload")
	ErrGvmEval             = xerrors.New("impossible GVM expression")
	ErrPortTreeExists      = xerrors.New("port tree already exists under this traph")
	ErrNoReplacementParent = xerrors.New("no replacement parent port available")
	ErrConnClosed          = xerrors.New("connection closed")
	ErrPortNotConnected    = xerrors.New("no connection registered for port")
	ErrFrameTooLarge       = xerrors.New("frame exceeds maximum size")
	ErrNotListening        = xerrors.New("remote address is not listening")
	ErrAlreadyAllocated    = xerrors.New("id already allocated on this cell")
	ErrAppMsgType          = xerrors.New("app message type not valid on this path")
	ErrAppMsgUnimplemented = xerrors.New("app message type not implemented")
)
