package audio

import "fmt"

// Stitcher concatenates per-line segments. Every segment after the first starts with
// the continuation prefix it was seeded with, so its leading overlap window is dropped.
type Stitcher struct {
	overlapMS  int
	sampleRate int
	parts      [][]float32
	total      int
}

func NewStitcher(overlapMS, sampleRate int) *Stitcher {
	return &Stitcher{overlapMS: overlapMS, sampleRate: sampleRate}
}

// Append adds the next segment in script order.
func (s *Stitcher) Append(seg Segment) error {
	if seg.SampleRate != s.sampleRate {
		return fmt.Errorf("segment %d sample rate %d does not match %d", len(s.parts), seg.SampleRate, s.sampleRate)
	}
	samples := seg.Samples
	if len(s.parts) > 0 {
		drop := WindowSamples(s.overlapMS, s.sampleRate)
		if drop > len(samples) {
			drop = len(samples)
		}
		samples = samples[drop:]
	}
	s.parts = append(s.parts, samples)
	s.total += len(samples)
	return nil
}

// Len is the number of segments appended so far.
func (s *Stitcher) Len() int { return len(s.parts) }

// Result returns the joined waveform.
func (s *Stitcher) Result() Segment {
	out := make([]float32, 0, s.total)
	for _, p := range s.parts {
		out = append(out, p...)
	}
	return Segment{Samples: out, SampleRate: s.sampleRate}
}

// Stitch joins segments in order, trimming the overlap window from all but the first.
func Stitch(segments []Segment, overlapMS, sampleRate int) (Segment, error) {
	st := NewStitcher(overlapMS, sampleRate)
	for _, seg := range segments {
		if err := st.Append(seg); err != nil {
			return Segment{}, err
		}
	}
	return st.Result(), nil
}
