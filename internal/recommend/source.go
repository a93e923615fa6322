package recommend

import (
	"context"
	"fmt"

	"github.com/edgard/recbot/internal/database"
)

// CandidateStore is the part of the database store that holds the
// precomputed candidates of every model.
type CandidateStore interface {
	QueryCandidates(ctx context.Context, model string, exclude []int, nomod bool, mods int64, limit int) ([]database.Candidate, error)
}

// StoreSource is a CandidateSource backed by precomputed model output.
type StoreSource struct {
	store CandidateStore
}

// NewStoreSource creates a StoreSource.
func NewStoreSource(store CandidateStore) *StoreSource {
	return &StoreSource{store: store}
}

// LoadCandidates returns up to q.Limit candidates of q.Model that are not
// in q.Exclude.
func (s *StoreSource) LoadCandidates(ctx context.Context, q Query) ([]BareRecommendation, error) {
	rows, err := s.store.QueryCandidates(ctx, string(q.Model), q.Exclude, q.NoMod, int64(q.Mods), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("load %s candidates: %w", q.Model, err)
	}
	out := make([]BareRecommendation, 0, len(rows))
	for _, r := range rows {
		out = append(out, BareRecommendation{
			BeatmapID:   r.BeatmapID,
			Mods:        Mods(r.Mods),
			Probability: r.Probability,
		})
	}
	return out, nil
}
