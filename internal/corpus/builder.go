package corpus

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/echi-audio/echigen/internal/audio"
	"github.com/echi-audio/echigen/internal/vad"
)

// Builder scans a corpus root and produces the utterance index. Unreadable
// files are logged and recorded with zero length and level rather than
// aborting the scan.
type Builder struct {
	Root      string
	Segmenter vad.Segmenter
	Log       *slog.Logger
}

// Scan walks Root for WAV files and builds one entry per file: sample
// length, speaker/chapter/utterance ids parsed from the file stem
// ("speaker-chapter-utterance"), and the VAD-gated RMS level when a
// segmenter is configured.
func (b *Builder) Scan() (Index, error) {
	var idx Index
	err := filepath.WalkDir(b.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}
		rel, err := filepath.Rel(b.Root, path)
		if err != nil {
			return err
		}
		idx = append(idx, b.entry(path, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (b *Builder) entry(path, rel string) Entry {
	e := Entry{FileName: rel}
	e.Speaker, e.Chapter, e.Utterance = parseStem(rel)

	samples, sampleRate, err := audio.ReadWAV(path)
	if err != nil {
		b.Log.Warn("unreadable corpus file, recording zero-length entry",
			slog.String("file", rel), slog.String("error", err.Error()))
		return e
	}
	e.Length = len(samples)

	if b.Segmenter != nil {
		level, err := vad.VoicedRMS(samples, sampleRate, b.Segmenter)
		if err != nil {
			b.Log.Warn("voice level measurement failed",
				slog.String("file", rel), slog.String("error", err.Error()))
		} else {
			e.RMSLevelVAD = level
		}
	}
	return e
}

// parseStem extracts speaker, chapter and utterance ids from file stems of
// the form "speaker-chapter-utterance". Unparseable parts stay zero.
func parseStem(rel string) (speaker, chapter, utterance int) {
	stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	parts := strings.Split(stem, "-")
	if len(parts) > 0 {
		speaker, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		chapter, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		utterance, _ = strconv.Atoi(parts[2])
	}
	return speaker, chapter, utterance
}
