package cellagent

import (
	"sync"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/log"
)

// SenderState tracks the last sender_msg_seq_no seen from each SenderID,
// grounded on ec_message.rs's MsgHeader.sender_msg_seq_no field (marked
// "Debugging only?" in the original). Anomalies are logged, never
// rejected - the sequence number is a diagnostic aid, not a reliability
// mechanism, matching the original's permissive handling.
type SenderState struct {
	mu   sync.Mutex
	last map[fabric.SenderID]int
}

// NewSenderState returns an empty SenderState.
func NewSenderState() *SenderState {
	return &SenderState{last: make(map[fabric.SenderID]int)}
}

// Observe records seqNo as the latest message seen from senderID,
// logging (not rejecting) a non-increasing sequence number.
func (s *SenderState) Observe(senderID fabric.SenderID, seqNo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last[senderID]; ok && seqNo <= prev {
		log.Lvl2("sender", senderID, "seq", seqNo, "did not advance past", prev)
	}
	s.last[senderID] = seqNo
}
