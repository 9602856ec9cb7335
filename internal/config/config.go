package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	TargetRMS  float64 `yaml:"target_rms"`
	Clip       bool    `yaml:"clip"`
}

type PathsConfig struct {
	CorpusRoot    string `yaml:"corpus_root"`
	IndexFile     string `yaml:"index_file"`
	IndexDB       string `yaml:"index_db"`
	StructureFile string `yaml:"structure_file"`
	SceneFile     string `yaml:"scene_file"`
	MasterFile    string `yaml:"master_file"`
	OutputDir     string `yaml:"output_dir"`
}

type StructureConfig struct {
	Duration    int     `yaml:"duration"`
	TableSizes  []int   `yaml:"table_sizes"`
	Segment     bool    `yaml:"segment"`
	HalfLife    float64 `yaml:"half_life"`
	MinDuration int     `yaml:"min_duration"`
}

type SpeakerConfig struct {
	IDs         []int   `yaml:"ids"`
	OffsetScale float64 `yaml:"offset_scale"`
}

type BabbleConfig struct {
	Channels    int `yaml:"n_channels"`
	Speakers    int `yaml:"n_speaker_babble"`
	BaseStretch int `yaml:"base_stretch"`
}

type VADConfig struct {
	Mode      string  `yaml:"mode"` // energy, exec
	Command   string  `yaml:"command"`
	Threshold float64 `yaml:"threshold"`
	FrameMS   int     `yaml:"frame_duration_ms"`
	PaddingMS int     `yaml:"padding_duration_ms"`
}

type MasterConfig struct {
	Seed     int64 `yaml:"seed"`
	Sessions int   `yaml:"n_sessions"`
}

type Config struct {
	CorpusName string          `yaml:"corpus_name"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Audio      AudioConfig     `yaml:"audio"`
	Paths      PathsConfig     `yaml:"paths"`
	Structure  StructureConfig `yaml:"structure"`
	Speaker    SpeakerConfig   `yaml:"speaker"`
	Babble     BabbleConfig    `yaml:"babble"`
	VAD        VADConfig       `yaml:"vad"`
	Master     MasterConfig    `yaml:"master"`
}

func Default() Config {
	return Config{
		CorpusName: "echi",
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			TargetRMS:  0.05,
			Clip:       true,
		},
		Paths: PathsConfig{
			CorpusRoot:    "./data/corpus",
			IndexFile:     "./data/utt_index.csv",
			StructureFile: "./data/structure.json",
			SceneFile:     "./data/scene.json",
			MasterFile:    "./data/master.json",
			OutputDir:     "./data/audio",
		},
		Structure: StructureConfig{
			Duration:    1800,
			TableSizes:  []int{4, 4, 4},
			Segment:     true,
			HalfLife:    600,
			MinDuration: 30,
		},
		Speaker: SpeakerConfig{
			OffsetScale: 4000,
		},
		Babble: BabbleConfig{
			Channels:    4,
			Speakers:    20,
			BaseStretch: 4,
		},
		VAD: VADConfig{
			Mode:      "energy",
			Threshold: 0.01,
			FrameMS:   30,
			PaddingMS: 300,
		},
		Master: MasterConfig{
			Seed:     0,
			Sessions: 1,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.CorpusName, "ECHI_CORPUS_NAME")
	overrideString(&cfg.Telemetry.LogLevel, "ECHI_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ECHI_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ECHI_TELEMETRY_OTLP_INSECURE")
	overrideInt(&cfg.Audio.SampleRate, "ECHI_AUDIO_SAMPLE_RATE")
	overrideFloat(&cfg.Audio.TargetRMS, "ECHI_AUDIO_TARGET_RMS")
	overrideBool(&cfg.Audio.Clip, "ECHI_AUDIO_CLIP")
	overrideString(&cfg.Paths.CorpusRoot, "ECHI_PATHS_CORPUS_ROOT")
	overrideString(&cfg.Paths.IndexFile, "ECHI_PATHS_INDEX_FILE")
	overrideString(&cfg.Paths.IndexDB, "ECHI_PATHS_INDEX_DB")
	overrideString(&cfg.Paths.StructureFile, "ECHI_PATHS_STRUCTURE_FILE")
	overrideString(&cfg.Paths.SceneFile, "ECHI_PATHS_SCENE_FILE")
	overrideString(&cfg.Paths.MasterFile, "ECHI_PATHS_MASTER_FILE")
	overrideString(&cfg.Paths.OutputDir, "ECHI_PATHS_OUTPUT_DIR")
	overrideInt(&cfg.Structure.Duration, "ECHI_STRUCTURE_DURATION")
	overrideIntSlice(&cfg.Structure.TableSizes, "ECHI_STRUCTURE_TABLE_SIZES")
	overrideBool(&cfg.Structure.Segment, "ECHI_STRUCTURE_SEGMENT")
	overrideFloat(&cfg.Structure.HalfLife, "ECHI_STRUCTURE_HALF_LIFE")
	overrideInt(&cfg.Structure.MinDuration, "ECHI_STRUCTURE_MIN_DURATION")
	overrideIntSlice(&cfg.Speaker.IDs, "ECHI_SPEAKER_IDS")
	overrideFloat(&cfg.Speaker.OffsetScale, "ECHI_SPEAKER_OFFSET_SCALE")
	overrideInt(&cfg.Babble.Channels, "ECHI_BABBLE_N_CHANNELS")
	overrideInt(&cfg.Babble.Speakers, "ECHI_BABBLE_N_SPEAKER_BABBLE")
	overrideInt(&cfg.Babble.BaseStretch, "ECHI_BABBLE_BASE_STRETCH")
	overrideString(&cfg.VAD.Mode, "ECHI_VAD_MODE")
	overrideString(&cfg.VAD.Command, "ECHI_VAD_COMMAND")
	overrideFloat(&cfg.VAD.Threshold, "ECHI_VAD_THRESHOLD")
	overrideInt(&cfg.VAD.FrameMS, "ECHI_VAD_FRAME_DURATION_MS")
	overrideInt(&cfg.VAD.PaddingMS, "ECHI_VAD_PADDING_DURATION_MS")
	overrideInt64(&cfg.Master.Seed, "ECHI_MASTER_SEED")
	overrideInt(&cfg.Master.Sessions, "ECHI_MASTER_N_SESSIONS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideIntSlice(target *[]int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var parsed []int
		for _, p := range strings.Split(value, ",") {
			s := strings.TrimSpace(p)
			if s == "" {
				continue
			}
			n, err := strconv.Atoi(s)
			if err != nil {
				return
			}
			parsed = append(parsed, n)
		}
		if len(parsed) > 0 {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.CorpusName == "" {
		return errors.New("corpus_name must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.TargetRMS <= 0 {
		return errors.New("audio.target_rms must be positive")
	}
	if cfg.Structure.Duration <= 0 {
		return errors.New("structure.duration must be positive")
	}
	if len(cfg.Structure.TableSizes) == 0 {
		return errors.New("structure.table_sizes must not be empty")
	}
	for _, size := range cfg.Structure.TableSizes {
		if size <= 0 {
			return errors.New("structure.table_sizes entries must be positive")
		}
	}
	if cfg.Structure.Segment {
		if cfg.Structure.HalfLife <= 0 {
			return errors.New("structure.half_life must be positive when segmentation is enabled")
		}
		if cfg.Structure.MinDuration < 0 {
			return errors.New("structure.min_duration must be >= 0")
		}
	}
	if cfg.Speaker.OffsetScale < 0 {
		return errors.New("speaker.offset_scale must be >= 0")
	}
	if cfg.Babble.Channels < 0 {
		return errors.New("babble.n_channels must be >= 0")
	}
	if cfg.Babble.Channels > 0 {
		if cfg.Babble.Speakers <= 0 {
			return errors.New("babble.n_speaker_babble must be positive")
		}
		if cfg.Babble.BaseStretch < 2 {
			return errors.New("babble.base_stretch must be at least 2")
		}
	}
	switch cfg.VAD.Mode {
	case "energy", "exec":
	default:
		return errors.New("vad.mode must be one of energy|exec")
	}
	if cfg.VAD.Mode == "exec" && cfg.VAD.Command == "" {
		return errors.New("vad.command must be set when mode=exec")
	}
	if cfg.VAD.FrameMS <= 0 {
		return errors.New("vad.frame_duration_ms must be positive")
	}
	if cfg.Master.Sessions <= 0 {
		return errors.New("master.n_sessions must be positive")
	}
	return nil
}
