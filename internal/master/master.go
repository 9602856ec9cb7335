// Package master reads and writes the top-level corpus description: one
// record per session aggregating its structure, speakers and scene.
package master

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/echi-audio/echigen/internal/scene"
	"github.com/echi-audio/echigen/internal/structure"
)

// Session is one generated conversational scenario.
type Session struct {
	Session    string         `json:"session"`
	Duration   int            `json:"duration"`
	SampleRate int            `json:"sample_rate"`
	Structure  structure.Node `json:"structure"`
	Speakers   []int          `json:"speakers"`
	Scene      []scene.Event  `json:"scene"`
}

func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	aux := struct {
		*alias
		Structure json.RawMessage `json:"structure"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Structure) == 0 || bytes.Equal(aux.Structure, []byte("null")) {
		s.Structure = nil
		return nil
	}
	node, err := structure.Decode(aux.Structure)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.Session, err)
	}
	s.Structure = node
	return nil
}

// Save writes the master file as indented JSON.
func Save(path string, sessions []Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode master: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write master: %w", err)
	}
	return nil
}

// Load reads a master file.
func Load(path string) ([]Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master: %w", err)
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decode master %s: %w", path, err)
	}
	return sessions, nil
}
