package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/edgard/recbot/internal/database"
)

// CandidateWriter replaces the stored output of recommendation models.
type CandidateWriter interface {
	ReplaceCandidates(ctx context.Context, candidates []database.Candidate) error
}

// Importer loads precomputed model output from a file of JSON objects, one
// candidate per line:
//
//	{"model":"gamma5","beatmap_id":129891,"mods":64,"probability":0.83}
//
// Every model present in the file replaces its stored candidates. The file
// is read again only after its size or modification time changed.
type Importer struct {
	path  string
	store CandidateWriter
	log   *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

// NewImporter creates an Importer for path. An empty path disables it.
func NewImporter(path string, store CandidateWriter, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{
		path:  path,
		store: store,
		log:   log.With("component", "candidate_importer"),
		size:  -1,
	}
}

// Import stores the candidates of the file if it changed since the last
// successful import and returns how many were stored. A malformed file is
// rejected as a whole.
func (i *Importer) Import(ctx context.Context) (int, error) {
	if i.path == "" {
		return 0, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	info, err := os.Stat(i.path)
	if err != nil {
		return 0, fmt.Errorf("stat candidates file: %w", err)
	}
	if info.Size() == i.size && info.ModTime().Equal(i.modTime) {
		i.log.DebugContext(ctx, "Candidates file unchanged", "path", i.path)
		return 0, nil
	}

	f, err := os.Open(i.path)
	if err != nil {
		return 0, fmt.Errorf("open candidates file: %w", err)
	}
	defer f.Close()

	candidates, err := readCandidates(f)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", i.path, err)
	}
	if err := i.store.ReplaceCandidates(ctx, candidates); err != nil {
		return 0, fmt.Errorf("store candidates: %w", err)
	}

	i.modTime, i.size = info.ModTime(), info.Size()
	i.log.InfoContext(ctx, "Candidates imported", "path", i.path, "count", len(candidates))
	return len(candidates), nil
}

type candidateRecord struct {
	Model       string  `json:"model"`
	BeatmapID   int     `json:"beatmap_id"`
	Mods        int64   `json:"mods"`
	Probability float64 `json:"probability"`
}

func readCandidates(r io.Reader) ([]database.Candidate, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var out []database.Candidate
	for n := 1; ; n++ {
		var rec candidateRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", n, err)
		}

		model, ok := ParseModel(rec.Model)
		switch {
		case !ok:
			return nil, fmt.Errorf("candidate %d: unknown model %q", n, rec.Model)
		case rec.BeatmapID <= 0:
			return nil, fmt.Errorf("candidate %d: invalid beatmap id %d", n, rec.BeatmapID)
		case rec.Mods < 0:
			return nil, fmt.Errorf("candidate %d: invalid mods %d", n, rec.Mods)
		case math.IsNaN(rec.Probability) || rec.Probability < 0 || rec.Probability > 1:
			return nil, fmt.Errorf("candidate %d: probability %v outside [0, 1]", n, rec.Probability)
		}

		out = append(out, database.Candidate{
			Model:       string(model),
			BeatmapID:   rec.BeatmapID,
			Mods:        rec.Mods,
			Probability: rec.Probability,
		})
	}
}
