package pipeline

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"reflect"
	"testing"

	"github.com/echi-audio/echigen/internal/config"
	"github.com/echi-audio/echigen/internal/corpus"
	"github.com/echi-audio/echigen/internal/structure"
	"github.com/echi-audio/echigen/internal/vad"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// smallIndex holds three speakers with two 3-sample utterances each.
func smallIndex() corpus.Index {
	var idx corpus.Index
	for _, speaker := range []int{7, 8, 9} {
		for u := 0; u < 2; u++ {
			idx = append(idx, corpus.Entry{
				FileName:    fileFor(speaker, u),
				Length:      3,
				Speaker:     speaker,
				Utterance:   u,
				RMSLevelVAD: 0.04,
			})
		}
	}
	return idx
}

func fileFor(speaker, utterance int) string {
	return string(rune('0'+speaker)) + "-1-000" + string(rune('0'+utterance)) + ".wav"
}

func TestSpeakerListsEligibility(t *testing.T) {
	idx := corpus.Index{
		{FileName: "a.wav", Length: 100, Speaker: 1},
		{FileName: "b.wav", Length: 5, Speaker: 2},
		{FileName: "c.wav", Length: 100, Speaker: 3},
	}
	lists, err := SpeakerLists(idx, []int{2}, 50, rand.New(rand.NewSource(0)))
	if err != nil {
		t.Fatalf("speaker lists: %v", err)
	}
	if len(lists) != 1 || len(lists[0]) != 2 {
		t.Fatalf("unexpected shape %v", lists)
	}
	for _, id := range lists[0] {
		if id == 2 {
			t.Fatal("speaker 2 lacks material and must not be assigned")
		}
	}
}

func TestSpeakerListsNoEligibleSpeakers(t *testing.T) {
	idx := corpus.Index{{FileName: "a.wav", Length: 10, Speaker: 1}}
	if _, err := SpeakerLists(idx, []int{1}, 100, rand.New(rand.NewSource(0))); err == nil {
		t.Fatal("expected error when no speaker has enough material")
	}
}

func TestSpeakerListsReusesPoolWhenShort(t *testing.T) {
	idx := corpus.Index{
		{FileName: "a.wav", Length: 100, Speaker: 1},
		{FileName: "b.wav", Length: 100, Speaker: 2},
	}
	lists, err := SpeakerLists(idx, []int{2, 2, 2}, 50, rand.New(rand.NewSource(0)))
	if err != nil {
		t.Fatalf("speaker lists: %v", err)
	}
	if len(lists) != 3 {
		t.Fatalf("expected 3 lists, got %d", len(lists))
	}
	for _, list := range lists {
		if len(list) != 2 {
			t.Fatalf("unexpected list %v", list)
		}
		for _, id := range list {
			if id != 1 && id != 2 {
				t.Fatalf("unknown speaker %d", id)
			}
		}
	}
}

func TestSpeakerListsDeterministic(t *testing.T) {
	build := func() [][]int {
		lists, err := SpeakerLists(smallIndex(), []int{2, 2}, 5, rand.New(rand.NewSource(11)))
		if err != nil {
			t.Fatalf("speaker lists: %v", err)
		}
		return lists
	}
	if !reflect.DeepEqual(build(), build()) {
		t.Fatal("same seed produced different speaker lists")
	}
}

func TestSegmenterModes(t *testing.T) {
	cfg := config.Default()
	p := New(cfg, discardLogger())
	seg, err := p.Segmenter()
	if err != nil {
		t.Fatalf("segmenter: %v", err)
	}
	if _, ok := seg.(vad.Collector); !ok {
		t.Fatalf("energy mode should build a collector, got %T", seg)
	}

	cfg.VAD.Mode = "exec"
	cfg.VAD.Command = "python vad.py --aggressive"
	p = New(cfg, discardLogger())
	seg, err = p.Segmenter()
	if err != nil {
		t.Fatalf("segmenter: %v", err)
	}
	if _, ok := seg.(*vad.ExecSegmenter); !ok {
		t.Fatalf("exec mode should build an exec segmenter, got %T", seg)
	}
}

func TestStructureRoot(t *testing.T) {
	cfg := config.Default()
	cfg.Structure.TableSizes = []int{4, 2}
	p := New(cfg, discardLogger())
	root := p.Structure(rand.New(rand.NewSource(0)))
	seq, ok := root.(structure.Sequence)
	if !ok {
		t.Fatalf("root is %T, want sequence", root)
	}
	if !reflect.DeepEqual(seq.Speakers, []int{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("root speakers %v", seq.Speakers)
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = 1
	cfg.Structure.Duration = 10
	cfg.Structure.TableSizes = []int{2}
	cfg.Structure.Segment = false
	cfg.Speaker.OffsetScale = 0
	cfg.Master.Seed = 5
	cfg.Master.Sessions = 1
	return cfg
}

func TestBuildMaster(t *testing.T) {
	p := New(testConfig(), discardLogger())
	sessions, err := p.BuildMaster(context.Background(), smallIndex())
	if err != nil {
		t.Fatalf("build master: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}

	s := sessions[0]
	if s.Session != "session_001" {
		t.Errorf("session name %q", s.Session)
	}
	if s.Duration != 10 || s.SampleRate != 1 {
		t.Errorf("session params %+v", s)
	}
	if len(s.Speakers) != 2 {
		t.Fatalf("expected 2 assigned speakers, got %v", s.Speakers)
	}
	// A 10-sample budget fits three 3-sample utterances; the fourth would
	// end at 12 and is discarded.
	if len(s.Scene) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(s.Scene), s.Scene)
	}
	for _, e := range s.Scene {
		if e.Offset > 10 {
			t.Errorf("event %+v overshoots the session", e)
		}
		if e.Channel != 1 && e.Channel != 2 {
			t.Errorf("event on unexpected channel %d", e.Channel)
		}
		if e.Filename == "" {
			t.Errorf("event without source file: %+v", e)
		}
	}
}

func TestBuildMasterDeterministic(t *testing.T) {
	build := func() string {
		p := New(testConfig(), discardLogger())
		sessions, err := p.BuildMaster(context.Background(), smallIndex())
		if err != nil {
			t.Fatalf("build master: %v", err)
		}
		out := ""
		for _, s := range sessions {
			for _, e := range s.Scene {
				out += e.Filename
			}
			for _, id := range s.Speakers {
				out += string(rune('0' + id))
			}
		}
		return out
	}
	if build() != build() {
		t.Fatal("same seed produced different masters")
	}
}

func TestBuildMasterNeedsMaterial(t *testing.T) {
	cfg := testConfig()
	cfg.Structure.Duration = 1000
	p := New(cfg, discardLogger())
	if _, err := p.BuildMaster(context.Background(), smallIndex()); err == nil {
		t.Fatal("expected error when no speaker has enough material")
	}
}
