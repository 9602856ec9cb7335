// Package audio wraps WAV decode/encode for the rest of the pipeline.
// Samples are carried as float64 in [-1, 1]; files are 16-bit PCM.
package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV decodes a WAV file into normalized samples and its sample rate.
// Multichannel files are reduced to their first channel; corpus utterances
// are expected to be mono.
func ReadWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("decode wav %s: missing format", path)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float64(int(1) << (bitDepth - 1))

	channels := buf.Format.NumChannels
	samples := make([]float64, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, float64(buf.Data[i])/scale)
	}
	return samples, buf.Format.SampleRate, nil
}

// WriteWAV encodes channels of equal length into a 16-bit PCM WAV file,
// creating parent directories as needed. Samples outside [-1, 1] are
// clamped at conversion.
func WriteWAV(path string, channels [][]float64, sampleRate int) error {
	if len(channels) == 0 {
		return fmt.Errorf("write wav %s: no channels", path)
	}
	nSamples := len(channels[0])
	for _, ch := range channels {
		if len(ch) != nSamples {
			return fmt.Errorf("write wav %s: channel lengths differ", path)
		}
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: len(channels), SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, nSamples*len(channels)),
	}
	for i := 0; i < nSamples; i++ {
		for c, ch := range channels {
			buf.Data[i*len(channels)+c] = toPCM16(ch[i])
		}
	}

	enc := wav.NewEncoder(f, sampleRate, 16, len(channels), 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

func toPCM16(v float64) int {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int(math.Round(v * 32767))
}

// RMS returns the root mean square of the samples, 0 for empty input.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
