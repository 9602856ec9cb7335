// Package render materializes a finalized scene into a multichannel
// sample buffer.
package render

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"

	"github.com/echi-audio/echigen/internal/audio"
	"github.com/echi-audio/echigen/internal/scene"
)

// Renderer places scene events additively into a zero-filled buffer sized
// to the scene's maximum channel and offset, then optionally normalizes
// each channel to a target RMS level.
type Renderer struct {
	AudioRoot string
	TargetRMS float64
	Clip      bool
	Log       *slog.Logger

	// readFile is swappable in tests.
	readFile func(path string) ([]float64, int, error)
}

func NewRenderer(audioRoot string, targetRMS float64, clip bool, log *slog.Logger) *Renderer {
	return &Renderer{
		AudioRoot: audioRoot,
		TargetRMS: targetRMS,
		Clip:      clip,
		Log:       log,
		readFile:  audio.ReadWAV,
	}
}

// Render accumulates every event's samples into buffer[channel-1,
// onset:offset]. Only utterance events on channels >= 1 are placeable;
// anything else in a hand-fed scene file is logged and ignored. Events
// whose audio cannot be read are logged and skipped; the rest of the scene
// still renders. No normalization is applied here.
func (r *Renderer) Render(events []scene.Event) ([][]float64, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("render: empty scene")
	}

	placeable := make([]scene.Event, 0, len(events))
	for _, e := range events {
		if e.Type != scene.EventUtterance || e.Channel < 1 {
			r.Log.Warn("ignoring unplaceable event",
				slog.String("type", e.Type), slog.Int("channel", e.Channel))
			continue
		}
		placeable = append(placeable, e)
	}
	if len(placeable) == 0 {
		return nil, fmt.Errorf("render: no utterance events to place")
	}

	nChannels := 0
	nSamples := 0
	for _, e := range placeable {
		if e.Channel > nChannels {
			nChannels = e.Channel
		}
		if e.Offset > nSamples {
			nSamples = e.Offset
		}
	}
	buffer := make([][]float64, nChannels)
	for i := range buffer {
		buffer[i] = make([]float64, nSamples)
	}

	r.Log.Info("rendering scene",
		slog.Int("channels", nChannels), slog.Int("samples", nSamples))

	skipped := 0
	for _, e := range placeable {
		samples, _, err := r.readFile(filepath.Join(r.AudioRoot, e.Filename))
		if err != nil {
			r.Log.Warn("skipping unreadable source",
				slog.String("file", e.Filename), slog.String("error", err.Error()))
			skipped++
			continue
		}
		channel := buffer[e.Channel-1]
		for i, v := range samples {
			at := e.Onset + i
			if at >= e.Offset || at >= len(channel) {
				break
			}
			channel[at] += v
		}
	}
	if skipped > 0 {
		r.Log.Warn("scene rendered with missing sources", slog.Int("skipped", skipped))
	}
	return buffer, nil
}

// Normalize applies the per-channel gain correction in place: samples below
// the 10th percentile of absolute value are zeroed as crude silence, the
// RMS over the remaining nonzero samples is scaled to the target, and the
// result is optionally hard-clipped to [-1, 1].
func (r *Renderer) Normalize(channels [][]float64) {
	for _, ch := range channels {
		normalizeChannel(ch, r.TargetRMS, r.Clip)
	}
}

func normalizeChannel(ch []float64, targetRMS float64, clip bool) {
	if len(ch) == 0 || targetRMS <= 0 {
		return
	}

	magnitudes := make([]float64, len(ch))
	for i, v := range ch {
		magnitudes[i] = math.Abs(v)
	}
	sort.Float64s(magnitudes)
	threshold := magnitudes[len(magnitudes)/10]

	sum := 0.0
	n := 0
	for i, v := range ch {
		if math.Abs(v) < threshold {
			ch[i] = 0
			continue
		}
		if v != 0 {
			sum += v * v
			n++
		}
	}
	if n == 0 {
		return
	}
	rms := math.Sqrt(sum / float64(n))
	gain := targetRMS / rms
	for i := range ch {
		ch[i] *= gain
		if clip {
			if ch[i] > 1 {
				ch[i] = 1
			} else if ch[i] < -1 {
				ch[i] = -1
			}
		}
	}
}
