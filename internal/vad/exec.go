package vad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/echi-audio/echigen/internal/audio"
	"github.com/mattn/go-shellwords"
)

// ExecSegmenter delegates voice-activity detection to an external command.
// The audio is handed over as a temp WAV file via --audio; the command
// prints a JSON array of {"onset", "offset"} sample ranges on stdout.
type ExecSegmenter struct {
	cmd []string
}

func NewExecSegmenter(command string) (*ExecSegmenter, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse vad command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("vad command is empty")
	}
	return &ExecSegmenter{cmd: args}, nil
}

func (e *ExecSegmenter) Segment(ctx context.Context, samples []float64, sampleRate int) ([]Segment, error) {
	file, err := os.CreateTemp(os.TempDir(), "echigen_vad_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	file.Close()

	if err := audio.WriteWAV(file.Name(), [][]float64{samples}, sampleRate); err != nil {
		return nil, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("vad command failed: %w: %s", err, stderr.String())
	}

	var segments []Segment
	if err := json.Unmarshal(stdout.Bytes(), &segments); err != nil {
		return nil, fmt.Errorf("decode vad response: %w", err)
	}
	return segments, nil
}
