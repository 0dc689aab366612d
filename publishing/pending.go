package publishing

// pendingMessage is a message that has been handed to the broker and is
// awaiting its delivery confirmation, or is queued for the next ready
// transition.
type pendingMessage struct {
	seq     uint64
	msg     Message
	receipt *Receipt
}

// pendingStore records transmitted-but-unconfirmed messages keyed by the
// per-channel sequence number, preserving submission order so recovery can
// replay them exactly as they were sent.
type pendingStore struct {
	entries map[uint64]*pendingMessage
	order   []uint64
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		entries: make(map[uint64]*pendingMessage),
	}
}

// add records a transmitted message under its sequence number.
func (s *pendingStore) add(pm *pendingMessage) {
	s.entries[pm.seq] = pm
	s.order = append(s.order, pm.seq)
}

// resolve removes and returns the entry for seq. The second return is false
// if seq is unknown or was already resolved.
func (s *pendingStore) resolve(seq uint64) (*pendingMessage, bool) {
	pm, ok := s.entries[seq]
	if !ok {
		return nil, false
	}
	delete(s.entries, seq)
	return pm, true
}

// snapshot returns every unresolved entry in submission order and clears
// the store.
func (s *pendingStore) snapshot() []*pendingMessage {
	out := make([]*pendingMessage, 0, len(s.entries))
	for _, seq := range s.order {
		if pm, ok := s.entries[seq]; ok {
			out = append(out, pm)
		}
	}
	s.entries = make(map[uint64]*pendingMessage)
	s.order = nil
	return out
}

// len returns the number of unresolved entries.
func (s *pendingStore) len() int {
	return len(s.entries)
}
