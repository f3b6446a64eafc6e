package mqtt

import "github.com/rs/zerolog/log"

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 100

// pendingMsg is a publish queued while the broker was unreachable.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the newest pending messages, oldest first on drain.
// Not safe for concurrent use; RealClient guards it with its mutex.
type ringBuffer struct {
	msgs    []pendingMsg
	next    int
	n       int
	dropped int // since last drain
}

func newRingBuffer(size int) *ringBuffer {
	if size < 1 {
		size = 1
	}
	return &ringBuffer{msgs: make([]pendingMsg, size)}
}

func (r *ringBuffer) push(m pendingMsg) {
	size := len(r.msgs)
	r.msgs[r.next] = m
	r.next = (r.next + 1) % size
	if r.n < size {
		r.n++
		return
	}
	if r.dropped == 0 {
		log.Warn().Int("capacity", size).Msg("mqtt buffer full, dropping oldest")
	}
	r.dropped++
}

// drain returns the pending messages in publish order and empties the buffer.
func (r *ringBuffer) drain() []pendingMsg {
	if r.n == 0 {
		return nil
	}
	size := len(r.msgs)
	out := make([]pendingMsg, 0, r.n)
	for i := r.next - r.n; i < r.next; i++ {
		out = append(out, r.msgs[(i+size)%size])
	}
	if r.dropped > 0 {
		log.Info().Int("dropped", r.dropped).Msg("mqtt buffer overflowed while offline")
	}
	r.next, r.n, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer) len() int { return r.n }
