// Package trace implements the append-only event log and the replay
// driver of spec.md §6/§4.9, grounded on the teacher's tracing package
// (trace.go's Trace/Span shape, simul.go's in-process collector,
// logger.go's goroutine-id-from-stack trick) but collapsed to the
// concrete record shape spec.md §6 mandates instead of the teacher's
// honeycomb-span tree.
package trace

import "encoding/json"

// Type names the kind of event a Record carries, matching the
// per-subsystem trace/debug flags of spec.md §6 ("all, ca, pe, pe_cm,
// pe_port, flow_control, discover, manifest, saved_msgs, etc.").
type Type string

// Event types a Record may carry. Replay dispatches every type except
// TypePortUp and TypePortDown, which it rejects as unhandled.
const (
	TypeDiscover     Type = "discover"
	TypeDiscoverD    Type = "discover_d"
	TypeHello        Type = "hello"
	TypeStackTree    Type = "stack_tree"
	TypeStackTreeD   Type = "stack_tree_d"
	TypeFailover     Type = "failover"
	TypeFailoverD    Type = "failover_d"
	TypeAppTreeName  Type = "app_tree_name"
	TypePacket       Type = "packet"
	TypePortUp       Type = "port_up"
	TypePortDown     Type = "port_down"
)

// Header is spec.md §6's trace record header:
// "{starting_epoch, epoch, spawning_thread_id, thread_id, event_id[],
// trace_type, module, line_no, function, format, repo}".
type Header struct {
	StartingEpoch    int64    `json:"starting_epoch"`
	Epoch            int64    `json:"epoch"`
	SpawningThreadID string   `json:"spawning_thread_id"`
	ThreadID         string   `json:"thread_id"`
	EventID          []uint64 `json:"event_id"`
	TraceType        Type     `json:"trace_type"`
	Module           string   `json:"module"`
	LineNo           int      `json:"line_no"`
	Function         string   `json:"function"`
	Format           string   `json:"format"`
	Repo             string   `json:"repo"`
}

// Record is one newline-delimited JSON line of the trace file: a header
// plus an opaque, trace-type-specific body.
type Record struct {
	Header Header          `json:"header"`
	Body   json.RawMessage `json:"body"`
}

// NewRecordBody marshals body and wraps it with h into a Record, the
// shape every Sink.Write call and Replay.Next call exchange.
func NewRecordBody(h Header, body interface{}) (Record, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Record{}, err
	}
	return Record{Header: h, Body: raw}, nil
}
