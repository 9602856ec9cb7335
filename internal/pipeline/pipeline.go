// Package pipeline orchestrates multi-session corpus builds: structures,
// speaker assignment, scenes and rendered audio.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/echi-audio/echigen/internal/audio"
	"github.com/echi-audio/echigen/internal/babble"
	"github.com/echi-audio/echigen/internal/config"
	"github.com/echi-audio/echigen/internal/corpus"
	"github.com/echi-audio/echigen/internal/master"
	"github.com/echi-audio/echigen/internal/render"
	"github.com/echi-audio/echigen/internal/scene"
	"github.com/echi-audio/echigen/internal/structure"
	"github.com/echi-audio/echigen/internal/vad"
)

// Pipeline runs corpus builds according to one configuration. Each session
// owns its speaker state exclusively; nothing is shared across sessions
// except the single random stream that keeps runs reproducible.
type Pipeline struct {
	cfg    config.Config
	log    *slog.Logger
	tracer trace.Tracer
}

func New(cfg config.Config, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		log:    log,
		tracer: otel.Tracer("echigen/pipeline"),
	}
}

// Segmenter builds the configured voice-activity segmenter.
func (p *Pipeline) Segmenter() (vad.Segmenter, error) {
	switch p.cfg.VAD.Mode {
	case "exec":
		return vad.NewExecSegmenter(p.cfg.VAD.Command)
	default:
		return vad.Collector{
			FrameMS:   p.cfg.VAD.FrameMS,
			PaddingMS: p.cfg.VAD.PaddingMS,
			Detector:  vad.EnergyDetector{Threshold: p.cfg.VAD.Threshold},
		}, nil
	}
}

// Structure generates one random session structure from the configured
// table sizes and segmentation controls.
func (p *Pipeline) Structure(rng *rand.Rand) structure.Node {
	gen := structure.NewGenerator(rng)
	var segmenter structure.Segmenter
	if p.cfg.Structure.Segment {
		segmenter = structure.NewExponentialSegmenter(rng, p.cfg.Structure.HalfLife, p.cfg.Structure.MinDuration)
	}
	return gen.ParallelConversations(p.cfg.Structure.TableSizes, p.cfg.Structure.Duration, segmenter)
}

// Speakers builds the per-channel speaker queues for one session from the
// utterance index. ids[i] feeds channel i+1.
func (p *Pipeline) Speakers(idx corpus.Index, ids []int, rng *rand.Rand) ([]*scene.Speaker, error) {
	speakers := make([]*scene.Speaker, 0, len(ids))
	for _, id := range ids {
		entries := idx.ForSpeaker(id)
		if len(entries) == 0 {
			return nil, fmt.Errorf("no index entries for speaker %d: %w", id, scene.ErrInvalidStructure)
		}
		queue := make([]scene.Utterance, 0, len(entries))
		for _, e := range entries {
			queue = append(queue, scene.Utterance{Filename: e.FileName, Duration: e.Length})
		}
		speakers = append(speakers, scene.NewSpeaker(id, queue, p.cfg.Speaker.OffsetScale, rng, p.log))
	}
	return speakers, nil
}

// SpeakerLists assigns corpus speaker ids to sessions. Only speakers with
// at least minLength samples of material are eligible; the pool is
// reshuffled and reused whenever it runs short, so sessions may share
// speakers in a small corpus.
func SpeakerLists(idx corpus.Index, perSession []int, minLength int, rng *rand.Rand) ([][]int, error) {
	totals := idx.TotalLength()
	var eligible []int
	for id, total := range totals {
		if total >= minLength {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no speakers with at least %d samples of material", minLength)
	}
	sort.Ints(eligible)

	needed := 0
	for _, n := range perSession {
		needed += n
	}
	var pool []int
	for len(pool) < needed {
		shuffled := append([]int(nil), eligible...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		pool = append(pool, shuffled...)
	}

	lists := make([][]int, 0, len(perSession))
	for _, n := range perSession {
		lists = append(lists, append([]int(nil), pool[:n]...))
		pool = pool[n:]
	}
	return lists, nil
}

// BuildMaster generates the whole corpus description: one structure,
// speaker list and scene per session. Structure generation completes for
// every session before any scene is generated.
func (p *Pipeline) BuildMaster(ctx context.Context, idx corpus.Index) ([]master.Session, error) {
	rng := rand.New(rand.NewSource(p.cfg.Master.Seed))

	ctx, span := p.tracer.Start(ctx, "build_master",
		trace.WithAttributes(attribute.Int("sessions", p.cfg.Master.Sessions)))
	defer span.End()

	sessions := make([]master.Session, p.cfg.Master.Sessions)
	for i := range sessions {
		sessions[i] = master.Session{
			Session:    fmt.Sprintf("session_%03d", i+1),
			Duration:   p.cfg.Structure.Duration,
			SampleRate: p.cfg.Audio.SampleRate,
			Structure:  p.Structure(rng),
		}
	}

	perSession := make([]int, len(sessions))
	for i, s := range sessions {
		root, ok := s.Structure.(structure.Sequence)
		if !ok {
			return nil, fmt.Errorf("session %s: unexpected root node %q", s.Session, s.Structure.Type())
		}
		perSession[i] = len(root.Speakers)
	}

	// Speakers need enough material for at least half the session.
	minLength := p.cfg.Structure.Duration * p.cfg.Audio.SampleRate / 2
	lists, err := SpeakerLists(idx, perSession, minLength, rng)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Speakers = lists[i]
	}

	for i := range sessions {
		_, sessionSpan := p.tracer.Start(ctx, "generate_scene",
			trace.WithAttributes(attribute.String("session", sessions[i].Session)))
		speakers, err := p.Speakers(idx, sessions[i].Speakers, rng)
		if err != nil {
			sessionSpan.End()
			return nil, fmt.Errorf("session %s: %w", sessions[i].Session, err)
		}
		gen := scene.NewGenerator(speakers, p.cfg.Audio.SampleRate, rng, p.log)
		events, err := gen.Generate(sessions[i].Structure)
		if err != nil {
			sessionSpan.End()
			return nil, fmt.Errorf("session %s: %w", sessions[i].Session, err)
		}
		sessions[i].Scene = events
		sessionSpan.End()
		p.log.Info("scene generated",
			slog.String("session", sessions[i].Session), slog.Int("events", len(events)))
	}
	return sessions, nil
}

// RenderAll renders every session of a master into a multichannel WAV,
// appending the configured number of babble channels. Failing sessions are
// reported and skipped; an error summarizing the failures is returned once
// the rest of the batch has been processed.
func (p *Pipeline) RenderAll(ctx context.Context, sessions []master.Session, idx corpus.Index) error {
	renderer := render.NewRenderer(p.cfg.Paths.CorpusRoot, p.cfg.Audio.TargetRMS, p.cfg.Audio.Clip, p.log)
	babbleGen := babble.NewGenerator(idx, p.cfg.Paths.CorpusRoot, p.log)

	var failed []string
	for _, s := range sessions {
		_, span := p.tracer.Start(ctx, "render_session",
			trace.WithAttributes(attribute.String("session", s.Session)))
		err := p.renderSession(s, renderer, babbleGen)
		span.End()
		if err != nil {
			p.log.Error("session render failed",
				slog.String("session", s.Session), slog.String("error", err.Error()))
			failed = append(failed, s.Session)
			continue
		}
		p.log.Info("session rendered", slog.String("session", s.Session))
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d sessions failed: %v", len(failed), len(sessions), failed)
	}
	return nil
}

func (p *Pipeline) renderSession(s master.Session, renderer *render.Renderer, babbleGen *babble.Generator) error {
	buffer, err := renderer.Render(s.Scene)
	if err != nil {
		return err
	}
	renderer.Normalize(buffer)

	nSamples := len(buffer[0])
	for c := 0; c < p.cfg.Babble.Channels; c++ {
		seed := babble.SeedFor(p.cfg.Master.Seed, s.Scene, c)
		track, err := babbleGen.Generate(seed, nSamples, p.cfg.Babble.Speakers, nSamples*p.cfg.Babble.BaseStretch)
		if err != nil {
			return err
		}
		if rms := audio.RMS(track); rms > 0 {
			gain := p.cfg.Audio.TargetRMS / rms
			for i := range track {
				track[i] *= gain
			}
		}
		buffer = append(buffer, track)
	}

	out := filepath.Join(p.cfg.Paths.OutputDir, s.Session+".wav")
	return audio.WriteWAV(out, buffer, s.SampleRate)
}
