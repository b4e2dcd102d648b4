package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic admission sequence numbers.
// Orders are stamped at the ledger boundary so FIFO priority inside a
// price level is deterministic.
type Sequencer struct {
	next atomic.Uint64
}

func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
