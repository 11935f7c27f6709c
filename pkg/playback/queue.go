// ABOUTME: FIFO of timestamped PCM chunks awaiting render
// ABOUTME: Keeps an atomic frame total readable without taking the queue lock
package playback

import (
	"sync"
	"sync/atomic"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
)

// chunkQueue preserves arrival/synthesis order. The frame counter is only
// changed under mu, so it always equals the sum of queued chunk frames.
type chunkQueue struct {
	mu     sync.Mutex
	items  []audio.Chunk
	frames atomic.Int64
}

func (q *chunkQueue) push(chunks ...audio.Chunk) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, c := range chunks {
		q.items = append(q.items, c)
		q.frames.Add(int64(c.Frames))
	}
}

func (q *chunkQueue) pop() (audio.Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return audio.Chunk{}, false
	}
	c := q.items[0]
	q.items[0] = audio.Chunk{}
	q.items = q.items[1:]
	q.frames.Add(-int64(c.Frames))
	return c, true
}

func (q *chunkQueue) peek() (audio.Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return audio.Chunk{}, false
	}
	return q.items[0], true
}

// dropWhile removes head chunks while drop returns true and reports how many went
func (q *chunkQueue) dropWhile(drop func(audio.Chunk) bool) (chunks int, frames int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 && drop(q.items[0]) {
		c := q.items[0]
		q.items[0] = audio.Chunk{}
		q.items = q.items[1:]
		q.frames.Add(-int64(c.Frames))
		chunks++
		frames += int64(c.Frames)
	}
	return chunks, frames
}

// trimHead removes frames from the start of the head chunk, retiming it
func (q *chunkQueue) trimHead(f audio.Format, frames int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || frames <= 0 {
		return
	}
	head := q.items[0]
	if frames >= int64(head.Frames) {
		return
	}
	trimmed := head.TrimFront(f, int(frames), head.ServerTimeUs+f.FramesToMicros(frames))
	trimmed.ClientPlayTimeUs = head.ClientPlayTimeUs + f.FramesToMicros(frames)
	q.items[0] = trimmed
	q.frames.Add(-frames)
}

func (q *chunkQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	q.frames.Store(0)
	return n
}

func (q *chunkQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// queuedFrames returns the frame total without locking
func (q *chunkQueue) queuedFrames() int64 {
	return q.frames.Load()
}
