package listener

import (
	"errors"
	"sync"
)

var ErrPipelineClosed = errors.New("listener: pipeline is closed")

// frameQueue is an unbounded FIFO of raw frames. push never blocks.
type frameQueue struct {
	mu        sync.Mutex
	frames    [][]int16
	closed    bool
	abandoned bool
	notify    chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{notify: make(chan struct{}, 1)}
}

func (q *frameQueue) push(frame []int16) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.abandoned {
		return ErrPipelineClosed
	}
	q.frames = append(q.frames, frame)
	q.signal()
	return nil
}

// pop blocks until a frame is available. It returns false once the queue
// has been closed and drained, or abandoned.
func (q *frameQueue) pop() ([]int16, bool) {
	for {
		q.mu.Lock()
		if q.abandoned {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.notify
	}
}

// close stops further pushes; queued frames are still delivered.
func (q *frameQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signal()
}

// abandon stops further pushes and discards queued frames.
func (q *frameQueue) abandon() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.frames)
	q.abandoned = true
	q.frames = nil
	q.signal()
	return dropped
}

func (q *frameQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
