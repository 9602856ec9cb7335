package corpus

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "index.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreReplaceAndAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idx := sampleIndex()
	if err := s.Replace(ctx, idx); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := s.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(got) != len(idx) {
		t.Fatalf("expected %d entries, got %d", len(idx), len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].FileName >= got[i].FileName {
			t.Fatalf("entries not ordered by file name: %q >= %q", got[i-1].FileName, got[i].FileName)
		}
	}
}

func TestStoreReplaceOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Replace(ctx, sampleIndex()); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	next := Index{{FileName: "x.wav", Length: 1, Speaker: 5}}
	if err := s.Replace(ctx, next); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	got, err := s.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if !reflect.DeepEqual(got, next) {
		t.Fatalf("replace did not overwrite: %v", got)
	}
}

func TestStoreForSpeaker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Replace(ctx, sampleIndex()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := s.ForSpeaker(ctx, 19)
	if err != nil {
		t.Fatalf("for speaker: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for speaker 19, got %d", len(got))
	}
	if got[0].FileName != "19/198/19-198-0000.wav" {
		t.Fatalf("unexpected first entry %q", got[0].FileName)
	}
	empty, err := s.ForSpeaker(ctx, 404)
	if err != nil {
		t.Fatalf("for unknown speaker: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no entries, got %v", empty)
	}
}
