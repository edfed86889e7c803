package audio

import (
	"context"
	"io"
	"sync"
)

// FrameQueue turns arbitrarily sized PCM16 pushes from a device callback
// into fixed-size frames. When the reader falls behind by more than the
// backlog limit the oldest audio is dropped.
type FrameQueue struct {
	format     Format
	frameBytes int
	maxBytes   int

	mu      sync.Mutex
	buf     []byte
	closed  bool
	dropped int
	ready   chan struct{}
}

// NewFrameQueue returns a queue producing frames of frameSamples frames
// each, keeping at most one second of backlog.
func NewFrameQueue(f Format, frameSamples int) *FrameQueue {
	frameBytes := frameSamples * 2 * f.Channels
	return &FrameQueue{
		format:     f,
		frameBytes: frameBytes,
		maxBytes:   max(f.SampleRate*2*f.Channels, frameBytes),
		ready:      make(chan struct{}, 1),
	}
}

// Push appends raw little-endian PCM16. It never blocks.
func (q *FrameQueue) Push(p []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, p...)
	if over := len(q.buf) - q.maxBytes; over > 0 {
		over += (q.frameBytes - over%q.frameBytes) % q.frameBytes
		over = min(over, len(q.buf))
		q.buf = q.buf[over:]
		q.dropped += over
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Next blocks until a full frame is available, ctx is done, or the queue is
// closed. Remaining partial audio is discarded on close and io.EOF returned.
func (q *FrameQueue) Next(ctx context.Context) ([]int16, error) {
	for {
		q.mu.Lock()
		if len(q.buf) >= q.frameBytes {
			frame := make([]byte, q.frameBytes)
			copy(frame, q.buf)
			q.buf = q.buf[q.frameBytes:]
			q.mu.Unlock()
			buf, err := DecodeChunk(frame, q.format)
			return buf.Samples, err
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Dropped reports how many bytes were discarded for backlog.
func (q *FrameQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
