// Package babble synthesizes diffuse multi-talker background noise from a
// single continuous speech stream.
package babble

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"path/filepath"

	"github.com/echi-audio/echigen/internal/audio"
	"github.com/echi-audio/echigen/internal/corpus"
	"github.com/echi-audio/echigen/internal/scene"
)

// Generator builds babble tracks from the utterance index. Only entries
// with a nonzero measured voice level are used as source material; each
// segment is gain-normalized by its own level before entering the stream.
type Generator struct {
	Index     corpus.Index
	AudioRoot string
	Log       *slog.Logger

	// readFile is swappable in tests.
	readFile func(path string) ([]float64, int, error)
}

func NewGenerator(index corpus.Index, audioRoot string, log *slog.Logger) *Generator {
	return &Generator{Index: index, AudioRoot: audioRoot, Log: log, readFile: audio.ReadWAV}
}

// BaseStream concatenates randomly chosen whole utterances until the
// stream reaches duration samples. The last segment is truncated to fit.
func (g *Generator) BaseStream(rng *rand.Rand, duration int) ([]float64, error) {
	entries := g.Index.Voiced()
	if len(entries) == 0 {
		return nil, fmt.Errorf("babble: no index entries with a nonzero voice level")
	}

	base := make([]float64, duration)
	start := 0
	for start < duration {
		entry := entries[rng.Intn(len(entries))]
		samples, _, err := g.readFile(filepath.Join(g.AudioRoot, entry.FileName))
		if err != nil {
			return nil, fmt.Errorf("babble source %s: %w", entry.FileName, err)
		}
		if len(samples) == 0 {
			continue
		}
		if start+len(samples) > duration {
			samples = samples[:duration-start]
		}
		for i, v := range samples {
			base[start+i] = v / entry.RMSLevelVAD
		}
		start += len(samples)
	}
	return base, nil
}

// Generate produces one babble channel of the given duration by summing
// nSpeakers randomly shifted windows cut from a fresh base stream of
// baseDuration samples. The seed alone fixes the output.
func (g *Generator) Generate(seed int64, duration, nSpeakers, baseDuration int) ([]float64, error) {
	if baseDuration <= duration {
		return nil, fmt.Errorf("babble: base duration %d must exceed output duration %d", baseDuration, duration)
	}
	rng := rand.New(rand.NewSource(seed))

	base, err := g.BaseStream(rng, baseDuration)
	if err != nil {
		return nil, err
	}

	g.Log.Info("mixing babble", slog.Int("speakers", nSpeakers), slog.Int("samples", duration))
	startRange := baseDuration - duration
	out := make([]float64, duration)
	for i := 0; i < nSpeakers; i++ {
		start := rng.Intn(startRange)
		for j := range out {
			out[j] += base[start+j]
		}
	}
	return out, nil
}

// SeedFor derives a deterministic per-channel seed from the master seed
// and the scene's content, so re-rendering the same scene reproduces the
// same noise while distinct channels stay decorrelated.
func SeedFor(masterSeed int64, events []scene.Event, channel int) int64 {
	h := fnv.New64a()
	for _, e := range events {
		fmt.Fprintf(h, "%s:%d:%d:%d:%s;", e.Type, e.Onset, e.Offset, e.Channel, e.Filename)
	}
	fmt.Fprintf(h, "#%d", channel)
	return masterSeed + int64(h.Sum64()&0x7fffffffffff)
}
