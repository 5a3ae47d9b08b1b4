package channel

// outboundQueue is the bounded FIFO of messages waiting for the channel to
// reconnect. When full, new messages are rejected — the queued messages are
// older but already promised to the caller, so existing order is preserved
// rather than evicting the head.
//
// Not safe for concurrent use; the owning Channel serialises access.
type outboundQueue struct {
	items []Message
	cap   int
}

func newOutboundQueue(capacity int) *outboundQueue {
	return &outboundQueue{cap: capacity}
}

// push appends m and reports whether it was accepted.
func (q *outboundQueue) push(m Message) bool {
	if len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, m)
	return true
}

// drain removes and returns all queued messages in FIFO order.
func (q *outboundQueue) drain() []Message {
	items := q.items
	q.items = nil
	return items
}

// clear discards all queued messages.
func (q *outboundQueue) clear() {
	q.items = nil
}

func (q *outboundQueue) len() int {
	return len(q.items)
}
