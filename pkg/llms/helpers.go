package llms

import (
	"context"
	"io"
	"time"

	"github.com/maestro-dev/maestro/pkg/protocol"
)

// idleTimeoutReader fails a streaming read when the upstream goes
// silent for longer than the idle window.
type idleTimeoutReader struct {
	ctx  context.Context
	r    io.ReadCloser
	idle time.Duration

	buf []byte
}

func newIdleTimeoutReader(ctx context.Context, r io.ReadCloser, idle time.Duration) io.Reader {
	if idle <= 0 {
		idle = 15 * time.Second
	}
	return &idleTimeoutReader{ctx: ctx, r: r, idle: idle, buf: make([]byte, 32*1024)}
}

type readResult struct {
	n   int
	err error
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	// Read into the internal buffer so a late completion after timeout
	// never scribbles on the caller's slice.
	size := len(p)
	if size > len(r.buf) {
		size = len(r.buf)
	}

	ch := make(chan readResult, 1)
	go func() {
		n, err := r.r.Read(r.buf[:size])
		ch <- readResult{n, err}
	}()

	timer := time.NewTimer(r.idle)
	defer timer.Stop()

	select {
	case res := <-ch:
		copy(p, r.buf[:res.n])
		return res.n, res.err
	case <-timer.C:
		r.r.Close()
		return 0, protocol.Errorf(protocol.KindTimeout, "stream idle for %s", r.idle)
	case <-r.ctx.Done():
		r.r.Close()
		return 0, r.ctx.Err()
	}
}
