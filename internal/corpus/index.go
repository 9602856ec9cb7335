// Package corpus manages the utterance index: one row per corpus utterance
// with its speaker identity, length in samples and measured voice level.
package corpus

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Entry describes one corpus utterance.
type Entry struct {
	FileName    string
	Length      int
	Speaker     int
	Chapter     int
	Utterance   int
	RMSLevelVAD float64
}

// Index is the full utterance table for a corpus.
type Index []Entry

// ForSpeaker returns the entries for one speaker id, ordered by file name.
// The ordering fixes the utterance queue a scene build walks through.
func (idx Index) ForSpeaker(speaker int) []Entry {
	var out []Entry
	for _, e := range idx {
		if e.Speaker == speaker {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out
}

// Speakers returns the distinct speaker ids present in the index, sorted.
func (idx Index) Speakers() []int {
	seen := make(map[int]struct{})
	for _, e := range idx {
		seen[e.Speaker] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// TotalLength sums the sample lengths per speaker.
func (idx Index) TotalLength() map[int]int {
	totals := make(map[int]int)
	for _, e := range idx {
		totals[e.Speaker] += e.Length
	}
	return totals
}

// Voiced returns the entries with a nonzero measured voice level, the only
// ones usable as babble source material.
func (idx Index) Voiced() Index {
	var out Index
	for _, e := range idx {
		if e.RMSLevelVAD > 0 {
			out = append(out, e)
		}
	}
	return out
}

var csvHeader = []string{"file_name", "length", "speaker", "chapter", "utterance", "rms_level_vad"}

// ReadCSV loads an index from a CSV file. The rms_level_vad, chapter and
// utterance columns are optional; absent values default to zero.
func ReadCSV(path string) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("index %s is empty", path)
	}

	columns := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		columns[name] = i
	}
	for _, required := range []string{"file_name", "length", "speaker"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("index %s missing column %q", path, required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	idx := make(Index, 0, len(rows)-1)
	for n, row := range rows[1:] {
		length, err := strconv.Atoi(field(row, "length"))
		if err != nil {
			return nil, fmt.Errorf("index %s row %d: bad length: %w", path, n+2, err)
		}
		speaker, err := strconv.Atoi(field(row, "speaker"))
		if err != nil {
			return nil, fmt.Errorf("index %s row %d: bad speaker: %w", path, n+2, err)
		}
		chapter, _ := strconv.Atoi(field(row, "chapter"))
		utterance, _ := strconv.Atoi(field(row, "utterance"))
		rms, _ := strconv.ParseFloat(field(row, "rms_level_vad"), 64)
		idx = append(idx, Entry{
			FileName:    field(row, "file_name"),
			Length:      length,
			Speaker:     speaker,
			Chapter:     chapter,
			Utterance:   utterance,
			RMSLevelVAD: rms,
		})
	}
	return idx, nil
}

// WriteCSV saves the index as CSV.
func WriteCSV(path string, idx Index) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}
	for _, e := range idx {
		row := []string{
			e.FileName,
			strconv.Itoa(e.Length),
			strconv.Itoa(e.Speaker),
			strconv.Itoa(e.Chapter),
			strconv.Itoa(e.Utterance),
			strconv.FormatFloat(e.RMSLevelVAD, 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write index row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
