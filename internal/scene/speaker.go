package scene

import (
	"log/slog"
	"math/rand"
)

// Utterance is one entry of a speaker's queue: a corpus-relative audio path
// and its length in samples.
type Utterance struct {
	Filename string
	Duration int
}

// Speaker owns an ordered queue of utterances for one speaker identity and
// a cursor into it. A speaker is built once per session and never shared
// between concurrent scene builds.
type Speaker struct {
	id          int
	queue       []Utterance
	cursor      int
	offsetScale float64
	rng         *rand.Rand
	log         *slog.Logger
}

// NewSpeaker builds a speaker from its utterance queue. offsetScale is the
// standard deviation, in samples, of the start-time jitter.
func NewSpeaker(id int, queue []Utterance, offsetScale float64, rng *rand.Rand, log *slog.Logger) *Speaker {
	return &Speaker{id: id, queue: queue, offsetScale: offsetScale, rng: rng, log: log}
}

func (s *Speaker) ID() int { return s.id }

// Next returns the speaker's next utterance, wrapping back to the first
// when the queue is exhausted so a finite corpus can fill an arbitrarily
// long session.
func (s *Speaker) Next() Utterance {
	utt := s.queue[s.cursor]
	s.cursor++
	if s.cursor >= len(s.queue) {
		s.log.Warn("utterance queue exhausted, wrapping", slog.Int("speaker", s.id))
		s.cursor = 0
	}
	return utt
}

// StartOffset draws the zero-mean Gaussian start-time jitter in samples.
func (s *Speaker) StartOffset() int {
	return int(s.rng.NormFloat64() * s.offsetScale)
}
