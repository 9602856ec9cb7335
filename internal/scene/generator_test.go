package scene

import (
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/echi-audio/echigen/internal/structure"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// twoSpeakers builds speakers 1 and 2, each with a single 5-sample
// utterance and no start jitter.
func twoSpeakers(rng *rand.Rand) []*Speaker {
	return []*Speaker{
		NewSpeaker(1, []Utterance{{Filename: "utt1", Duration: 5}}, 0, rng, newLogger()),
		NewSpeaker(2, []Utterance{{Filename: "utt2", Duration: 5}}, 0, rng, newLogger()),
	}
}

func TestConversationFillsDuration(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	gen := NewGenerator(twoSpeakers(rng), 1, rng, newLogger())
	root := structure.Sequence{Elements: []structure.Node{
		structure.Conversation{Speakers: []int{1, 2}, Duration: 10},
	}}
	events, err := gen.Generate(root)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events in a 10-sample conversation, got %d", len(events))
	}
	for _, e := range events {
		if e.Type != EventUtterance {
			t.Fatalf("unexpected event type %q", e.Type)
		}
	}
}

func TestConversationStopsBeforeOvershoot(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	gen := NewGenerator(twoSpeakers(rng), 1, rng, newLogger())
	root := structure.Sequence{Elements: []structure.Node{
		structure.Conversation{Speakers: []int{1, 2}, Duration: 8},
	}}
	events, err := gen.Generate(root)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// A second 5-sample utterance would end at 10, past the 8-sample budget.
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Onset != 0 || e.Offset != 5 {
		t.Fatalf("unexpected placement [%d, %d)", e.Onset, e.Offset)
	}
	if e.Channel != 1 && e.Channel != 2 {
		t.Fatalf("unexpected channel %d", e.Channel)
	}
}

func TestDurationBound(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	speakers := []*Speaker{
		NewSpeaker(1, []Utterance{{Filename: "a", Duration: 3}, {Filename: "b", Duration: 4}}, 0, rng, newLogger()),
		NewSpeaker(2, []Utterance{{Filename: "c", Duration: 4}, {Filename: "d", Duration: 3}}, 0, rng, newLogger()),
	}
	gen := NewGenerator(speakers, 1, rng, newLogger())
	root := structure.Conversation{Speakers: []int{1, 2}, Duration: 20}
	events, err := gen.Generate(root)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, e := range events {
		if e.Offset > 20 {
			t.Fatalf("event offset %d exceeds conversation budget", e.Offset)
		}
		if e.Onset > e.Offset {
			t.Fatalf("event onset %d after offset %d", e.Onset, e.Offset)
		}
	}
}

func TestSpeakerAlternation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	speakers := []*Speaker{
		NewSpeaker(1, []Utterance{{Filename: "a", Duration: 3}}, 0, rng, newLogger()),
		NewSpeaker(2, []Utterance{{Filename: "b", Duration: 3}}, 0, rng, newLogger()),
		NewSpeaker(3, []Utterance{{Filename: "c", Duration: 3}}, 0, rng, newLogger()),
	}
	gen := NewGenerator(speakers, 1, rng, newLogger())
	events, err := gen.Generate(structure.Conversation{Speakers: []int{1, 2, 3}, Duration: 30})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Offset < events[j].Offset })
	for i := 1; i < len(events); i++ {
		if events[i].Channel == events[i-1].Channel {
			t.Fatalf("adjacent events share channel %d", events[i].Channel)
		}
	}
}

func TestDeterminism(t *testing.T) {
	build := func() []Event {
		rng := rand.New(rand.NewSource(99))
		speakers := []*Speaker{
			NewSpeaker(1, []Utterance{{Filename: "a", Duration: 3}, {Filename: "b", Duration: 5}}, 100, rng, newLogger()),
			NewSpeaker(2, []Utterance{{Filename: "c", Duration: 4}}, 100, rng, newLogger()),
		}
		gen := NewGenerator(speakers, 16000, rng, newLogger())
		root := structure.Sequence{Speakers: []int{1, 2}, Elements: []structure.Node{
			structure.Conversation{Speakers: []int{1, 2}, Duration: 2},
			structure.Pause{Duration: 1},
			structure.Conversation{Speakers: []int{1, 2}, Duration: 2},
		}}
		events, err := gen.Generate(root)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		return events
	}
	if !reflect.DeepEqual(build(), build()) {
		t.Fatal("same seed produced different scenes")
	}
}

func TestPauseShiftsAndIsStripped(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	gen := NewGenerator(twoSpeakers(rng), 1, rng, newLogger())
	root := structure.Sequence{Elements: []structure.Node{
		structure.Pause{Duration: 4},
		structure.Conversation{Speakers: []int{1, 2}, Duration: 10},
	}}
	events, err := gen.Generate(root)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, e := range events {
		if e.Type == EventPause {
			t.Fatal("pause event leaked into finalized scene")
		}
		if e.Onset < 4 {
			t.Fatalf("event at %d ignored the leading pause", e.Onset)
		}
	}
	if len(events) == 0 {
		t.Fatal("expected utterances after the pause")
	}
}

func TestSplitterBranchesShareSnapshot(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	speakers := []*Speaker{
		NewSpeaker(1, []Utterance{{Filename: "a", Duration: 4}}, 0, rng, newLogger()),
		NewSpeaker(2, []Utterance{{Filename: "b", Duration: 4}}, 0, rng, newLogger()),
		NewSpeaker(3, []Utterance{{Filename: "c", Duration: 4}}, 0, rng, newLogger()),
		NewSpeaker(4, []Utterance{{Filename: "d", Duration: 4}}, 0, rng, newLogger()),
	}
	gen := NewGenerator(speakers, 1, rng, newLogger())
	root := structure.Splitter{Elements: []structure.Node{
		structure.Conversation{Speakers: []int{1, 2}, Duration: 9},
		structure.Conversation{Speakers: []int{3, 4}, Duration: 9},
	}}
	events, err := gen.Generate(root)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	starts := map[bool]int{}
	for _, e := range events {
		if e.Onset == 0 {
			starts[e.Channel <= 2]++
		}
	}
	if starts[true] != 1 || starts[false] != 1 {
		t.Fatalf("each splitter branch should start from the same empty snapshot, got %v", starts)
	}
}

func TestQueueWrapsAround(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	gen := NewGenerator(twoSpeakers(rng), 1, rng, newLogger())
	events, err := gen.Generate(structure.Conversation{Speakers: []int{1, 2}, Duration: 40})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	perFile := map[string]int{}
	for _, e := range events {
		perFile[e.Filename]++
	}
	// 40 samples of 5-sample utterances force both single-entry queues to
	// wrap, but identical placements collapse in the event set, so just
	// check the conversation kept going past one utterance per speaker.
	if len(events) != 8 {
		t.Fatalf("expected 8 chained events, got %d", len(events))
	}
	if perFile["utt1"] == 0 || perFile["utt2"] == 0 {
		t.Fatalf("expected both speakers to contribute, got %v", perFile)
	}
}

func TestTooFewSpeakersFails(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	gen := NewGenerator(twoSpeakers(rng), 1, rng, newLogger())
	_, err := gen.Generate(structure.Conversation{Speakers: []int{1}, Duration: 10})
	if !errors.Is(err, ErrInvalidStructure) {
		t.Fatalf("expected ErrInvalidStructure, got %v", err)
	}
}

func TestUnknownSpeakerFails(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	gen := NewGenerator(twoSpeakers(rng), 1, rng, newLogger())
	_, err := gen.Generate(structure.Conversation{Speakers: []int{1, 7}, Duration: 10})
	if !errors.Is(err, ErrInvalidStructure) {
		t.Fatalf("expected ErrInvalidStructure, got %v", err)
	}
}
