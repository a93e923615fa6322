package recommend

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/edgard/recbot/internal/database"
)

type recordingWriter struct {
	calls [][]database.Candidate
	err   error
}

func (w *recordingWriter) ReplaceCandidates(_ context.Context, candidates []database.Candidate) error {
	w.calls = append(w.calls, candidates)
	return w.err
}

func writeCandidates(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestImporterImportsChangedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "candidates.jsonl")
	writeCandidates(t, path, `{"model":"gamma5","beatmap_id":10,"mods":64,"probability":0.8}
{"model":"Beta","beatmap_id":11,"mods":0,"probability":0.25}
`)
	w := &recordingWriter{}
	imp := NewImporter(path, w, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	n, err := imp.Import(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Import() = %d, %v; want 2", n, err)
	}
	want := []database.Candidate{
		{Model: "gamma5", BeatmapID: 10, Mods: 64, Probability: 0.8},
		{Model: "beta", BeatmapID: 11, Mods: 0, Probability: 0.25},
	}
	if diff := cmp.Diff(want, w.calls[0], cmpopts.IgnoreFields(database.Candidate{}, "ID")); diff != "" {
		t.Errorf("imported candidates mismatch (-want +got):\n%s", diff)
	}

	if n, err := imp.Import(ctx); err != nil || n != 0 {
		t.Errorf("Import() of unchanged file = %d, %v; want 0, nil", n, err)
	}
	if len(w.calls) != 1 {
		t.Errorf("ReplaceCandidates called %d times, want 1", len(w.calls))
	}

	writeCandidates(t, path, `{"model":"beta","beatmap_id":12,"probability":0.5}`)
	if n, err := imp.Import(ctx); err != nil || n != 1 {
		t.Errorf("Import() of changed file = %d, %v; want 1", n, err)
	}
}

func TestImporterRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown model":     `{"model":"alpha","beatmap_id":1,"probability":0.5}`,
		"missing beatmap":   `{"model":"beta","probability":0.5}`,
		"probability range": `{"model":"beta","beatmap_id":1,"probability":1.5}`,
		"negative mods":     `{"model":"beta","beatmap_id":1,"mods":-1,"probability":0.5}`,
		"unknown field":     `{"model":"beta","beatmap_id":1,"probability":0.5,"pp":300}`,
		"broken json":       `{"model":"beta",`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "candidates.jsonl")
			writeCandidates(t, path, `{"model":"beta","beatmap_id":2,"probability":0.5}`+"\n"+content)
			w := &recordingWriter{}

			if _, err := NewImporter(path, w, nil).Import(context.Background()); err == nil || !strings.Contains(err.Error(), "candidate 2") {
				t.Errorf("Import() error = %v, want an error naming candidate 2", err)
			}
			if len(w.calls) != 0 {
				t.Errorf("ReplaceCandidates called for a malformed file")
			}
		})
	}
}

func TestImporterRetriesAfterStoreFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "candidates.jsonl")
	writeCandidates(t, path, `{"model":"beta","beatmap_id":2,"probability":0.5}`)
	boom := errors.New("database is locked")
	w := &recordingWriter{err: boom}
	imp := NewImporter(path, w, nil)

	if _, err := imp.Import(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Import() error = %v, want %v", err, boom)
	}
	w.err = nil
	if n, err := imp.Import(context.Background()); err != nil || n != 1 {
		t.Errorf("Import() after failure = %d, %v; want 1", n, err)
	}
}

func TestImporterDisabled(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	if n, err := NewImporter("", w, nil).Import(context.Background()); err != nil || n != 0 || len(w.calls) != 0 {
		t.Errorf("Import() without a path = %d, %v, calls %d", n, err, len(w.calls))
	}
	if _, err := NewImporter(filepath.Join(t.TempDir(), "missing"), w, nil).Import(context.Background()); err == nil {
		t.Error("Import() of a missing file succeeded")
	}
}
