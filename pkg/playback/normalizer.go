// ABOUTME: Gap/overlap normalizer for the incoming chunk stream
// ABOUTME: Fills gaps with silence and trims or drops overlapping audio
package playback

import (
	"github.com/Sendspin/sendspin-sync/pkg/audio"
	"github.com/charmbracelet/log"
)

// NormalizerStats counts what the normalizer changed
type NormalizerStats struct {
	GapsFilled            int64
	SilenceFramesInserted int64
	OverlapsTrimmed       int64
	OverlapFramesTrimmed  int64
	OverlapChunksDropped  int64
	ZeroLengthDropped     int64
	TimelineResets        int64 // jumps too large to fill or trim
}

// Normalizer reconciles each chunk's timestamp with where the previous one ended.
// Not safe for concurrent use.
type Normalizer struct {
	format      audio.Format
	thresholdUs int64
	maxJumpUs   int64 // 0 = unbounded
	expectedUs  int64
	seeded      bool
	stats       NormalizerStats
}

// NewNormalizer creates a normalizer for one stream format. A timestamp
// more than maxJumpUs away from the expected one restarts the timeline
// at that chunk instead of being filled or trimmed.
func NewNormalizer(format audio.Format, gapThresholdUs, maxJumpUs int64) *Normalizer {
	return &Normalizer{format: format, thresholdUs: gapThresholdUs, maxJumpUs: maxJumpUs}
}

// Process returns the chunks to enqueue for one incoming unit, in order:
// an optional silence fill followed by the (possibly trimmed) chunk.
func (n *Normalizer) Process(serverTimeUs int64, pcm []byte) []audio.Chunk {
	chunk := audio.NewChunk(n.format, serverTimeUs, pcm)
	if chunk.Frames == 0 {
		n.stats.ZeroLengthDropped++
		return nil
	}

	if !n.seeded {
		n.seeded = true
		n.expectedUs = chunk.EndTimeUs(n.format)
		return []audio.Chunk{chunk}
	}

	if jump := serverTimeUs - n.expectedUs; n.maxJumpUs > 0 && (jump > n.maxJumpUs || -jump > n.maxJumpUs) {
		n.stats.TimelineResets++
		log.Warn("Stream timestamp jumped, restarting timeline", "jump_ms", jump/1000)
		n.expectedUs = chunk.EndTimeUs(n.format)
		return []audio.Chunk{chunk}
	}

	var out []audio.Chunk

	switch {
	case serverTimeUs > n.expectedUs+n.thresholdUs:
		gapUs := serverTimeUs - n.expectedUs
		frames := n.format.MicrosToFrames(gapUs)
		silence := audio.NewSilence(n.format, n.expectedUs, int(frames))
		out = append(out, silence)
		n.expectedUs += silence.DurationUs(n.format)
		n.stats.GapsFilled++
		n.stats.SilenceFramesInserted += frames
		log.Debug("Filled gap with silence", "gap_us", gapUs, "frames", frames)

	case serverTimeUs < n.expectedUs:
		overlapUs := n.expectedUs - serverTimeUs
		overlap := n.format.MicrosToFramesRounded(overlapUs)
		if overlap >= int64(chunk.Frames) {
			n.stats.OverlapChunksDropped++
			log.Debug("Dropped fully overlapping chunk", "overlap_us", overlapUs, "frames", chunk.Frames)
			return nil
		}
		if overlap > 0 {
			chunk = chunk.TrimFront(n.format, int(overlap), n.expectedUs)
			n.stats.OverlapsTrimmed++
			n.stats.OverlapFramesTrimmed += overlap
		}
	}

	// Advance by duration; jitter under the threshold stays on the timeline
	out = append(out, chunk)
	n.expectedUs += chunk.DurationUs(n.format)
	return out
}

// ExpectedNextUs returns the server time the next chunk should start at
func (n *Normalizer) ExpectedNextUs() (int64, bool) {
	return n.expectedUs, n.seeded
}

// Stats returns the normalizer counters
func (n *Normalizer) Stats() NormalizerStats {
	return n.stats
}

// Reset forgets the expected timestamp; the next chunk re-seeds it.
// Counters are kept.
func (n *Normalizer) Reset() {
	n.seeded = false
	n.expectedUs = 0
}

// SetFormat switches the stream format and re-seeds on the next chunk
func (n *Normalizer) SetFormat(format audio.Format) {
	n.format = format
	n.Reset()
}
