package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/transcriber"
)

var errFakeSend = errors.New("fake send failure")

// connScript describes how the n-th dialed connection behaves.
type connScript struct {
	dialErr error
	// failAtSend makes the given 1-based send fail; 0 never fails.
	failAtSend int
	// final is reported to the receiver when the connection is closed.
	final string
	// partial is reported when the connection is aborted, like a backend
	// reader that already held text when the socket dropped.
	partial string
}

type fakeDialer struct {
	mu      sync.Mutex
	scripts []connScript
	conns   []*fakeConn
	dials   int
	// sent collects every successfully sent frame across all connections.
	sent [][]byte
}

func (d *fakeDialer) Dial(_ context.Context, receiver transcriber.ResultReceiver) (transcriber.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var script connScript
	if d.dials < len(d.scripts) {
		script = d.scripts[d.dials]
	}
	d.dials++
	if script.dialErr != nil {
		return nil, script.dialErr
	}
	c := &fakeConn{dialer: d, script: script, receiver: receiver}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) sentFrames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) connections() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeConn, len(d.conns))
	copy(out, d.conns)
	return out
}

type fakeConn struct {
	dialer   *fakeDialer
	script   connScript
	receiver transcriber.ResultReceiver

	mu      sync.Mutex
	sends   int
	frames  [][]byte
	closed  bool
	aborted bool
}

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	c.sends++
	fail := c.script.failAtSend != 0 && c.sends >= c.script.failAtSend
	if !fail {
		c.frames = append(c.frames, frame)
	}
	c.mu.Unlock()
	if fail {
		return errFakeSend
	}
	c.dialer.mu.Lock()
	c.dialer.sent = append(c.dialer.sent, frame)
	c.dialer.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.script.final != "" {
		c.receiver.OnFinal(c.script.final)
	}
	return nil
}

func (c *fakeConn) Abort() {
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
	if c.script.partial != "" {
		c.receiver.OnFinal(c.script.partial)
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// blockingDialer never connects until release is closed.
type blockingDialer struct {
	release chan struct{}
}

func (d blockingDialer) Dial(ctx context.Context, _ transcriber.ResultReceiver) (transcriber.Conn, error) {
	select {
	case <-d.release:
	case <-ctx.Done():
	}
	return nil, errors.New("dial released")
}

type recordingSink struct {
	mu          sync.Mutex
	transcripts []transcriber.Transcript
}

func (s *recordingSink) Emit(t transcriber.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, t)
}

func (s *recordingSink) all() []transcriber.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcriber.Transcript, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

type fakeDirectory struct {
	mu    sync.Mutex
	names map[string]string
	bots  map[string]bool
	err   error
	calls int
}

func (d *fakeDirectory) LookupDisplayName(_ context.Context, _, userID string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return "", false, d.err
	}
	return d.names[userID], d.bots[userID], nil
}

// frameOf returns one 6-sample raw frame that resamples to the single value v.
func frameOf(v int16) []int16 {
	return []int16{v, 0, v, 0, v, 0}
}

func waitDone(p *Pipeline) bool {
	select {
	case <-p.Done():
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
