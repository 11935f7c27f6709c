// ABOUTME: Bounded holding list for chunks that arrive before the clock is ready
// ABOUTME: Drops the oldest entry when full and replays in arrival order
package playback

type pendingChunk struct {
	serverTimeUs int64
	pcm          []byte
}

// pendingList is guarded by the engine's ingress mutex
type pendingList struct {
	items    []pendingChunk
	capacity int
	dropped  int64
}

func newPendingList(capacity int) *pendingList {
	return &pendingList{capacity: capacity}
}

// push appends a chunk, evicting the oldest when at capacity
func (p *pendingList) push(serverTimeUs int64, pcm []byte) {
	if len(p.items) >= p.capacity {
		p.items[0] = pendingChunk{}
		p.items = p.items[1:]
		p.dropped++
	}
	p.items = append(p.items, pendingChunk{serverTimeUs: serverTimeUs, pcm: pcm})
}

// take returns all held chunks in arrival order and empties the list
func (p *pendingList) take() []pendingChunk {
	items := p.items
	p.items = nil
	return items
}

func (p *pendingList) clear() {
	p.items = nil
}

func (p *pendingList) len() int {
	return len(p.items)
}
