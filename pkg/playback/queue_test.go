// ABOUTME: Tests for the chunk queue and pending list
// ABOUTME: Order, frame accounting, head trim and oldest-first eviction
package playback

import (
	"testing"

	"github.com/Sendspin/sendspin-sync/pkg/audio"
)

func TestChunkQueueOrderAndFrames(t *testing.T) {
	var q chunkQueue
	q.push(audio.NewChunk(testFormat, 0, pcmFrames(100, 0)),
		audio.NewChunk(testFormat, 10, pcmFrames(50, 0)))
	q.push(audio.NewSilence(testFormat, 20, 25))

	if q.len() != 3 || q.queuedFrames() != 175 {
		t.Fatalf("expected 3 chunks / 175 frames, got %d / %d", q.len(), q.queuedFrames())
	}

	for _, want := range []int64{0, 10, 20} {
		c, ok := q.pop()
		if !ok || c.ServerTimeUs != want {
			t.Fatalf("expected chunk at %d, got %d (ok=%v)", want, c.ServerTimeUs, ok)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("expected empty queue")
	}
	if q.queuedFrames() != 0 {
		t.Errorf("expected 0 frames, got %d", q.queuedFrames())
	}
}

func TestChunkQueueDropWhile(t *testing.T) {
	var q chunkQueue
	for i := int64(0); i < 5; i++ {
		q.push(audio.NewChunk(testFormat, i*chunkUs, pcmFrames(chunkFrames, 0)))
	}

	n, frames := q.dropWhile(func(c audio.Chunk) bool { return c.ServerTimeUs < 2*chunkUs })
	if n != 2 || frames != 2000 {
		t.Errorf("expected 2 chunks / 2000 frames dropped, got %d / %d", n, frames)
	}
	if head, _ := q.peek(); head.ServerTimeUs != 2*chunkUs {
		t.Errorf("unexpected head at %d", head.ServerTimeUs)
	}
	if q.queuedFrames() != 3000 {
		t.Errorf("expected 3000 frames left, got %d", q.queuedFrames())
	}
}

func TestChunkQueueTrimHead(t *testing.T) {
	var q chunkQueue
	c := audio.NewChunk(testFormat, 0, pcmFrames(chunkFrames, 0))
	c.ClientPlayTimeUs = 5_000
	q.push(c)

	q.trimHead(testFormat, 240)
	head, _ := q.peek()
	if head.Frames != 760 || q.queuedFrames() != 760 {
		t.Fatalf("expected 760 frames, got %d (counter %d)", head.Frames, q.queuedFrames())
	}
	if head.ServerTimeUs != 5_000 || head.ClientPlayTimeUs != 10_000 {
		t.Errorf("expected retimed head, got server=%d client=%d", head.ServerTimeUs, head.ClientPlayTimeUs)
	}

	if n := q.clear(); n != 1 || q.queuedFrames() != 0 {
		t.Errorf("expected clear of 1 chunk, got %d (frames %d)", n, q.queuedFrames())
	}
}

func TestPendingListEvictsOldest(t *testing.T) {
	p := newPendingList(3)
	for i := int64(0); i < 5; i++ {
		p.push(i, nil)
	}
	if p.len() != 3 || p.dropped != 2 {
		t.Fatalf("expected 3 held / 2 dropped, got %d / %d", p.len(), p.dropped)
	}

	items := p.take()
	for i, it := range items {
		if it.serverTimeUs != int64(i+2) {
			t.Errorf("item %d: expected ts %d, got %d", i, i+2, it.serverTimeUs)
		}
	}
	if p.len() != 0 {
		t.Error("expected take to empty the list")
	}
}
