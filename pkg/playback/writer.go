// ABOUTME: Renderer/writer feeding the output device
// ABOUTME: Bulk writes when idle, frame-by-frame insert/drop when correcting
package playback

import (
	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/Sendspin/sendspin-sync/pkg/audio/output"
)

// writer owns the bytes between the queue and the device. Only the render
// goroutine touches it.
type writer struct {
	out    output.Output
	format audio.Format
	bpf    int

	last    []byte
	hasLast bool

	// Staged output the device has not accepted yet
	pending      []byte
	pendingStart int64 // server time of the first pending frame
	pendingEnd   int64 // server end time of the staged chunk

	// Since the last device flush
	fedFrames       int64
	lastFedServerUs int64
	hasFed          bool

	// Cumulative
	framesWritten  int64
	framesInserted int64
	framesDropped  int64
}

func newWriter(out output.Output, format audio.Format) *writer {
	bpf := format.BytesPerFrame()
	return &writer{
		out:    out,
		format: format,
		bpf:    bpf,
		last:   make([]byte, bpf),
	}
}

// stage prepares one chunk for the device, applying the correction cadence
func (w *writer) stage(c audio.Chunk, s *Schedule) {
	w.pendingStart = c.ServerTimeUs
	w.pendingEnd = c.EndTimeUs(w.format)

	if c.Frames == 0 {
		w.pending = nil
		return
	}

	if !s.Active() {
		w.pending = c.PCM
		copy(w.last, c.PCM[(c.Frames-1)*w.bpf:])
		w.hasLast = true
		return
	}

	buf := make([]byte, 0, len(c.PCM)+w.bpf*4)
	for i := 0; i < c.Frames; i++ {
		frame := c.PCM[i*w.bpf : (i+1)*w.bpf]

		if s.DropEvery > 0 {
			s.dropCountdown--
			if s.dropCountdown <= 0 {
				s.dropCountdown = s.DropEvery
				w.framesDropped++
				continue
			}
		} else if s.InsertEvery > 0 {
			s.insertCountdown--
			if s.insertCountdown <= 0 {
				s.insertCountdown = s.InsertEvery
				if w.hasLast {
					buf = append(buf, w.last...)
				} else {
					buf = append(buf, frame...)
				}
				w.framesInserted++
			}
		}

		buf = append(buf, frame...)
		copy(w.last, frame)
		w.hasLast = true
	}
	w.pending = buf
}

// flush hands staged bytes to the device until it takes them all or stops
// accepting. The unwritten tail is kept for the next call.
func (w *writer) flush() (bool, error) {
	for len(w.pending) > 0 {
		n, err := w.out.Write(w.pending)
		if n > 0 {
			w.pending = w.pending[n*w.bpf:]
			w.framesWritten += int64(n)
			w.fedFrames += int64(n)
			w.hasFed = true
			if len(w.pending) == 0 {
				w.lastFedServerUs = w.pendingEnd
			} else {
				w.pendingStart += w.format.FramesToMicros(int64(n))
				w.lastFedServerUs = w.pendingStart
			}
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// hasPending reports whether staged bytes are waiting for the device
func (w *writer) hasPending() bool {
	return len(w.pending) > 0
}

// pendingFrames returns staged frames not yet accepted
func (w *writer) pendingFrames() int64 {
	return int64(len(w.pending) / w.bpf)
}

// deviceFlushed forgets everything tied to the device's frame position
func (w *writer) deviceFlushed() {
	w.pending = nil
	w.fedFrames = 0
	w.lastFedServerUs = 0
	w.hasFed = false
	w.hasLast = false
}
