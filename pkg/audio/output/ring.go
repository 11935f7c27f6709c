// ABOUTME: Frame-aligned PCM ring shared by callback-driven outputs
// ABOUTME: Wraps smallnest/ringbuffer and counts frames consumed by the device
package output

import (
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// pcmRing is a byte ring that only ever holds whole frames.
// Writers never block; the reader zero-fills on underrun.
type pcmRing struct {
	rb            *ringbuffer.RingBuffer
	bytesPerFrame int
	consumed      atomic.Int64 // frames of real data handed to the device
	underruns     atomic.Int64
}

func newPCMRing(capacityFrames, bytesPerFrame int) *pcmRing {
	return &pcmRing{
		rb:            ringbuffer.New(capacityFrames * bytesPerFrame),
		bytesPerFrame: bytesPerFrame,
	}
}

// write copies as many whole frames of p as fit and returns the frame count
func (r *pcmRing) write(p []byte) int {
	room := r.rb.Free() / r.bytesPerFrame
	frames := len(p) / r.bytesPerFrame
	if frames > room {
		frames = room
	}
	if frames == 0 {
		return 0
	}
	n, _ := r.rb.Write(p[:frames*r.bytesPerFrame])
	return n / r.bytesPerFrame
}

// read fills out from the ring without blocking, zero-filling any shortfall
func (r *pcmRing) read(out []byte) int {
	n, _ := r.rb.TryRead(out)
	n -= n % r.bytesPerFrame
	if n < len(out) {
		clear(out[n:])
		if n == 0 {
			r.underruns.Add(1)
		}
	}
	frames := n / r.bytesPerFrame
	r.consumed.Add(int64(frames))
	return frames
}

// bufferedFrames returns frames written but not yet consumed
func (r *pcmRing) bufferedFrames() int {
	return r.rb.Length() / r.bytesPerFrame
}

// reset drops everything queued and restarts the consumed counter
func (r *pcmRing) reset() {
	r.rb.Reset()
	r.consumed.Store(0)
}
