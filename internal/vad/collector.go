// Package vad separates long speech recordings into end-pointed voiced
// segments using a padded sliding-window collector over fixed-size frames.
package vad

import (
	"context"
	"fmt"
	"math"
)

// Segment is a half-open voiced range [Onset, Offset) in samples.
type Segment struct {
	Onset  int `json:"onset"`
	Offset int `json:"offset"`
}

// Detector classifies one frame of audio as speech or not.
type Detector interface {
	IsSpeech(frame []float64, sampleRate int) bool
}

// EnergyDetector flags a frame as speech when its RMS exceeds a threshold.
type EnergyDetector struct {
	Threshold float64
}

func (d EnergyDetector) IsSpeech(frame []float64, _ int) bool {
	sum := 0.0
	for _, v := range frame {
		sum += v * v
	}
	return sum/float64(len(frame)) > d.Threshold*d.Threshold
}

// Segmenter produces voiced segments for a stretch of audio.
type Segmenter interface {
	Segment(ctx context.Context, samples []float64, sampleRate int) ([]Segment, error)
}

// Collector implements the padded sliding-window algorithm: it triggers
// once more than 90% of the frames in the padding window are voiced, and
// detriggers once more than 90% are unvoiced, emitting the collected frames
// as one segment. The window padding keeps a little context around each
// voiced run.
type Collector struct {
	FrameMS   int
	PaddingMS int
	Detector  Detector
}

type flaggedFrame struct {
	onset  int
	length int
	speech bool
}

func (c Collector) Segment(_ context.Context, samples []float64, sampleRate int) ([]Segment, error) {
	if c.FrameMS <= 0 {
		return nil, fmt.Errorf("vad: frame duration must be positive, got %dms", c.FrameMS)
	}
	frameLen := sampleRate * c.FrameMS / 1000
	// Very low declared sample rates truncate to zero-length frames, which
	// would stall the frame loop.
	if frameLen < 1 {
		frameLen = 1
	}
	maxRing := c.PaddingMS / c.FrameMS
	if maxRing < 1 {
		maxRing = 1
	}

	var (
		segments  []Segment
		ring      []flaggedFrame
		voiced    []flaggedFrame
		triggered bool
	)

	flush := func() {
		if len(voiced) == 0 {
			return
		}
		first := voiced[0]
		last := voiced[len(voiced)-1]
		segments = append(segments, Segment{Onset: first.onset, Offset: last.onset + last.length})
		voiced = voiced[:0]
	}

	for onset := 0; onset+frameLen <= len(samples); onset += frameLen {
		frame := flaggedFrame{
			onset:  onset,
			length: frameLen,
			speech: c.Detector.IsSpeech(samples[onset:onset+frameLen], sampleRate),
		}

		if !triggered {
			ring = append(ring, frame)
			if len(ring) > maxRing {
				ring = ring[1:]
			}
			nVoiced := 0
			for _, f := range ring {
				if f.speech {
					nVoiced++
				}
			}
			if float64(nVoiced) > 0.9*float64(maxRing) {
				triggered = true
				voiced = append(voiced, ring...)
				ring = ring[:0]
			}
			continue
		}

		voiced = append(voiced, frame)
		ring = append(ring, frame)
		if len(ring) > maxRing {
			ring = ring[1:]
		}
		nUnvoiced := 0
		for _, f := range ring {
			if !f.speech {
				nUnvoiced++
			}
		}
		if float64(nUnvoiced) > 0.9*float64(maxRing) {
			triggered = false
			flush()
			ring = ring[:0]
		}
	}
	flush()

	return segments, nil
}

// VoicedRMS measures the RMS level over the voiced portions of the audio,
// returning 0 when nothing is voiced. Used to gate and gain-normalize
// babble source segments.
func VoicedRMS(samples []float64, sampleRate int, seg Segmenter) (float64, error) {
	segments, err := seg.Segment(context.Background(), samples, sampleRate)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	n := 0
	for _, s := range segments {
		for _, v := range samples[s.Onset:s.Offset] {
			sum += v * v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return math.Sqrt(sum / float64(n)), nil
}
