package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/echi-audio/echigen/internal/audio"
	"github.com/echi-audio/echigen/internal/babble"
	"github.com/echi-audio/echigen/internal/config"
	"github.com/echi-audio/echigen/internal/corpus"
	"github.com/echi-audio/echigen/internal/master"
	"github.com/echi-audio/echigen/internal/pipeline"
	"github.com/echi-audio/echigen/internal/scene"
	"github.com/echi-audio/echigen/internal/structure"
)

var version = "0.1.0-dev"

const usage = `usage: echigen <command> [flags]

commands:
  index      build the utterance index from a corpus root
  structure  generate a random session structure
  scene      instantiate a structure into a scene
  master     build the master description for all sessions
  render     render sessions (or one scene file) into audio
  babble     synthesize a standalone babble track
  segment    split long recordings into voiced segments
  version    print version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var err error
	switch os.Args[1] {
	case "index":
		err = runIndex(os.Args[2:], logger)
	case "structure":
		err = runStructure(os.Args[2:], logger)
	case "scene":
		err = runScene(os.Args[2:], logger)
	case "master":
		err = runMaster(os.Args[2:], logger)
	case "render":
		err = runRender(os.Args[2:], logger)
	case "babble":
		err = runBabble(os.Args[2:], logger)
	case "segment":
		err = runSegment(os.Args[2:], logger)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.String("command", os.Args[1]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	return config.Load(path)
}

func runIndex(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "echi.yaml", "Path to configuration file")
	root := fs.String("root", "", "Corpus root (overrides config)")
	out := fs.String("out", "", "Output CSV path (overrides config)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *root != "" {
		cfg.Paths.CorpusRoot = *root
	}
	if *out != "" {
		cfg.Paths.IndexFile = *out
	}
	if cfg.Paths.CorpusRoot == "" {
		return fmt.Errorf("no corpus root configured")
	}
	if cfg.Paths.IndexFile == "" {
		return fmt.Errorf("no index output path configured")
	}

	p := pipeline.New(cfg, logger)
	segmenter, err := p.Segmenter()
	if err != nil {
		return err
	}
	builder := &corpus.Builder{Root: cfg.Paths.CorpusRoot, Segmenter: segmenter, Log: logger}

	start := time.Now()
	idx, err := builder.Scan()
	if err != nil {
		return err
	}
	logger.Info("corpus scanned",
		slog.Int("utterances", len(idx)), slog.Duration("elapsed", time.Since(start)))

	if err := corpus.WriteCSV(cfg.Paths.IndexFile, idx); err != nil {
		return err
	}
	if cfg.Paths.IndexDB != "" {
		ctx := context.Background()
		store, err := corpus.OpenStore(ctx, cfg.Paths.IndexDB, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Replace(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func runStructure(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("structure", flag.ExitOnError)
	configPath := fs.String("config", "echi.yaml", "Path to configuration file")
	out := fs.String("out", "", "Structure output path (overrides config)")
	seed := fs.Int64("seed", -1, "Random seed (overrides config)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *out != "" {
		cfg.Paths.StructureFile = *out
	}
	if *seed >= 0 {
		cfg.Master.Seed = *seed
	}
	if cfg.Paths.StructureFile == "" {
		return fmt.Errorf("no structure output path configured")
	}

	rng := rand.New(rand.NewSource(cfg.Master.Seed))
	node := pipeline.New(cfg, logger).Structure(rng)

	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return fmt.Errorf("encode structure: %w", err)
	}
	logger.Info("writing structure", slog.String("path", cfg.Paths.StructureFile))
	return os.WriteFile(cfg.Paths.StructureFile, data, 0o644)
}

func runScene(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("scene", flag.ExitOnError)
	configPath := fs.String("config", "echi.yaml", "Path to configuration file")
	structurePath := fs.String("structure", "", "Structure file (overrides config)")
	out := fs.String("out", "", "Scene output path (overrides config)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *structurePath != "" {
		cfg.Paths.StructureFile = *structurePath
	}
	if *out != "" {
		cfg.Paths.SceneFile = *out
	}
	if cfg.Paths.SceneFile == "" {
		return fmt.Errorf("no scene output path configured")
	}
	if len(cfg.Speaker.IDs) == 0 {
		return fmt.Errorf("speaker.ids must be configured to instantiate a scene")
	}

	data, err := os.ReadFile(cfg.Paths.StructureFile)
	if err != nil {
		return fmt.Errorf("read structure: %w", err)
	}
	node, err := structure.Decode(data)
	if err != nil {
		return err
	}

	idx, err := corpus.ReadCSV(cfg.Paths.IndexFile)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(cfg.Master.Seed))
	p := pipeline.New(cfg, logger)
	speakers, err := p.Speakers(idx, cfg.Speaker.IDs, rng)
	if err != nil {
		return err
	}
	events, err := scene.NewGenerator(speakers, cfg.Audio.SampleRate, rng, logger).Generate(node)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}
	logger.Info("writing scene",
		slog.String("path", cfg.Paths.SceneFile), slog.Int("events", len(events)))
	return os.WriteFile(cfg.Paths.SceneFile, encoded, 0o644)
}

func runMaster(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("master", flag.ExitOnError)
	configPath := fs.String("config", "echi.yaml", "Path to configuration file")
	out := fs.String("out", "", "Master output path (overrides config)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *out != "" {
		cfg.Paths.MasterFile = *out
	}
	if cfg.Paths.MasterFile == "" {
		return fmt.Errorf("no master output path configured")
	}

	ctx := context.Background()
	shutdown, err := pipeline.SetupTelemetry(cfg, logger)
	if err != nil {
		return err
	}
	defer shutdown(ctx)

	idx, err := corpus.ReadCSV(cfg.Paths.IndexFile)
	if err != nil {
		return err
	}

	sessions, err := pipeline.New(cfg, logger).BuildMaster(ctx, idx)
	if err != nil {
		return err
	}
	logger.Info("writing master",
		slog.String("path", cfg.Paths.MasterFile), slog.Int("sessions", len(sessions)))
	return master.Save(cfg.Paths.MasterFile, sessions)
}

func runRender(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	configPath := fs.String("config", "echi.yaml", "Path to configuration file")
	masterPath := fs.String("master", "", "Master file (overrides config)")
	scenePath := fs.String("scene", "", "Render a single scene file instead of a master")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *masterPath != "" {
		cfg.Paths.MasterFile = *masterPath
	}
	if cfg.Paths.OutputDir == "" {
		return fmt.Errorf("no output directory configured")
	}

	ctx := context.Background()
	shutdown, err := pipeline.SetupTelemetry(cfg, logger)
	if err != nil {
		return err
	}
	defer shutdown(ctx)

	idx, err := corpus.ReadCSV(cfg.Paths.IndexFile)
	if err != nil {
		return err
	}

	var sessions []master.Session
	if *scenePath != "" {
		data, err := os.ReadFile(*scenePath)
		if err != nil {
			return fmt.Errorf("read scene: %w", err)
		}
		var events []scene.Event
		if err := json.Unmarshal(data, &events); err != nil {
			return fmt.Errorf("decode scene %s: %w", *scenePath, err)
		}
		name := strings.TrimSuffix(filepath.Base(*scenePath), filepath.Ext(*scenePath))
		sessions = []master.Session{{
			Session:    name,
			Duration:   cfg.Structure.Duration,
			SampleRate: cfg.Audio.SampleRate,
			Scene:      events,
		}}
	} else {
		sessions, err = master.Load(cfg.Paths.MasterFile)
		if err != nil {
			return err
		}
	}

	return pipeline.New(cfg, logger).RenderAll(ctx, sessions, idx)
}

func runBabble(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("babble", flag.ExitOnError)
	configPath := fs.String("config", "echi.yaml", "Path to configuration file")
	out := fs.String("out", "", "Babble output WAV path")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("no babble output path set (use -out)")
	}

	idx, err := corpus.ReadCSV(cfg.Paths.IndexFile)
	if err != nil {
		return err
	}

	duration := cfg.Structure.Duration * cfg.Audio.SampleRate
	gen := babble.NewGenerator(idx, cfg.Paths.CorpusRoot, logger)
	track, err := gen.Generate(cfg.Master.Seed, duration, cfg.Babble.Speakers, duration*cfg.Babble.BaseStretch)
	if err != nil {
		return err
	}
	if rms := audio.RMS(track); rms > 0 {
		gain := cfg.Audio.TargetRMS / rms
		for i := range track {
			track[i] *= gain
		}
	}
	return audio.WriteWAV(*out, [][]float64{track}, cfg.Audio.SampleRate)
}

func runSegment(args []string, logger *slog.Logger) error {
	flags := flag.NewFlagSet("segment", flag.ExitOnError)
	configPath := flags.String("config", "echi.yaml", "Path to configuration file")
	inDir := flags.String("in", "", "Directory of recordings to segment")
	outDir := flags.String("outdir", "", "Directory for segmented output")
	flags.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *inDir == "" || *outDir == "" {
		return fmt.Errorf("segment requires -in and -outdir")
	}

	p := pipeline.New(cfg, logger)
	segmenter, err := p.Segmenter()
	if err != nil {
		return err
	}

	ctx := context.Background()
	return filepath.WalkDir(*inDir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}
		rel, err := filepath.Rel(*inDir, path)
		if err != nil {
			return err
		}

		samples, sampleRate, err := audio.ReadWAV(path)
		if err != nil {
			logger.Warn("skipping unreadable recording",
				slog.String("file", rel), slog.String("error", err.Error()))
			return nil
		}
		segments, err := segmenter.Segment(ctx, samples, sampleRate)
		if err != nil {
			return fmt.Errorf("segment %s: %w", rel, err)
		}

		stem := strings.TrimSuffix(rel, filepath.Ext(rel))
		for i, seg := range segments {
			outPath := filepath.Join(*outDir, fmt.Sprintf("%s-%03d.wav", stem, i))
			if err := audio.WriteWAV(outPath, [][]float64{samples[seg.Onset:seg.Offset]}, sampleRate); err != nil {
				return err
			}
		}
		logger.Info("recording segmented",
			slog.String("file", rel), slog.Int("segments", len(segments)))
		return nil
	})
}
