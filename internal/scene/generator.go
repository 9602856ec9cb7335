package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/echi-audio/echigen/internal/structure"
)

// ErrInvalidStructure marks structures a scene cannot be generated from: a
// conversation with fewer than two distinct speakers, or one referencing a
// speaker that was never supplied. Left unguarded either would spin the
// turn-taking loop forever.
var ErrInvalidStructure = errors.New("invalid structure")

// Generator walks a structure tree and places concrete utterances, turning
// nominal durations in seconds into sample-accurate events. It exclusively
// owns its speakers for the duration of one build.
type Generator struct {
	speakers   []*Speaker // index i holds the speaker for channel i+1
	sampleRate int
	rng        *rand.Rand
	log        *slog.Logger
}

func NewGenerator(speakers []*Speaker, sampleRate int, rng *rand.Rand, log *slog.Logger) *Generator {
	return &Generator{speakers: speakers, sampleRate: sampleRate, rng: rng, log: log}
}

// Generate walks the tree and returns the finalized scene as a sorted
// event list. Pause scratch events are stripped before returning.
func (g *Generator) Generate(root structure.Node) ([]Event, error) {
	sc, err := g.walk(root, New())
	if err != nil {
		return nil, err
	}
	final := New()
	for e := range sc {
		if e.Type != EventPause {
			final.Add(e)
		}
	}
	return final.Events(), nil
}

// walk dispatches on the node kind. It may mutate the scene it is given
// and returns the scene holding all events placed so far.
func (g *Generator) walk(node structure.Node, sc Scene) (Scene, error) {
	switch n := node.(type) {
	case structure.Sequence:
		return g.sequence(n, sc)
	case structure.Splitter:
		return g.splitter(n, sc)
	case structure.Conversation:
		return g.conversation(n, sc)
	case structure.Pause:
		return g.pause(n, sc), nil
	default:
		return nil, fmt.Errorf("unhandled structure node type %q: %w", node.Type(), ErrInvalidStructure)
	}
}

// sequence chains children: each child sees the scene accumulated by its
// earlier siblings.
func (g *Generator) sequence(seq structure.Sequence, sc Scene) (Scene, error) {
	var err error
	for _, element := range seq.Elements {
		sc, err = g.walk(element, sc)
		if err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// splitter runs every child from the same input snapshot and unions the
// results. Children are visited left to right so the random stream stays
// reproducible even though the sub-timelines overlap.
func (g *Generator) splitter(sp structure.Splitter, sc Scene) (Scene, error) {
	branches := make([]Scene, 0, len(sp.Elements))
	for _, element := range sp.Elements {
		branch, err := g.walk(element, sc.Clone())
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	for _, branch := range branches {
		sc.Union(branch)
	}
	return sc, nil
}

// conversation runs the turn-taking loop: speakers alternate (never the
// same speaker twice in a row), each utterance chains onto the previous
// end time plus jitter, and the loop stops just before the first utterance
// that would overshoot the conversation's duration budget. That final
// utterance is discarded, not placed.
func (g *Generator) conversation(conv structure.Conversation, sc Scene) (Scene, error) {
	if err := g.checkConversation(conv); err != nil {
		return nil, err
	}

	endTime := sc.EndTime()
	lastSpeaker := sc.LastSpeaker()
	conversationEnd := endTime + conv.Duration*g.sampleRate

	for {
		speakerID := conv.Speakers[g.rng.Intn(len(conv.Speakers))]
		for speakerID == lastSpeaker {
			speakerID = conv.Speakers[g.rng.Intn(len(conv.Speakers))]
		}
		speaker := g.speakers[speakerID-1]
		utterance := speaker.Next()
		startTime := endTime + speaker.StartOffset()
		if startTime < 0 {
			startTime = 0
		}
		candidateEnd := startTime + utterance.Duration
		if candidateEnd > conversationEnd {
			break
		}
		sc.Add(Event{
			Type:     EventUtterance,
			Onset:    startTime,
			Offset:   candidateEnd,
			Channel:  speakerID,
			Filename: utterance.Filename,
		})
		endTime = candidateEnd
		lastSpeaker = speakerID
	}
	return sc, nil
}

func (g *Generator) checkConversation(conv structure.Conversation) error {
	distinct := make(map[int]struct{}, len(conv.Speakers))
	for _, id := range conv.Speakers {
		if id < 1 || id > len(g.speakers) || g.speakers[id-1] == nil {
			return fmt.Errorf("conversation references unknown speaker %d: %w", id, ErrInvalidStructure)
		}
		distinct[id] = struct{}{}
	}
	if len(distinct) < 2 {
		return fmt.Errorf("conversation needs at least 2 distinct speakers, got %d: %w", len(distinct), ErrInvalidStructure)
	}
	return nil
}

// pause places a scratch event on channel 0 so a later sibling sees a
// shifted end time. Pauses never survive finalization.
func (g *Generator) pause(p structure.Pause, sc Scene) Scene {
	endTime := sc.EndTime()
	sc.Add(Event{
		Type:    EventPause,
		Onset:   endTime,
		Offset:  endTime + p.Duration*g.sampleRate,
		Channel: 0,
	})
	return sc
}
