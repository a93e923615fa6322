package recommend

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgard/recbot/internal/chat"
	apperrors "github.com/edgard/recbot/internal/errors"
	"github.com/edgard/recbot/internal/osu"
)

// staticSource serves a fixed list of candidates, honouring Exclude.
type staticSource struct {
	mu         sync.Mutex
	candidates []BareRecommendation
	err        error
	queries    []Query
}

func (s *staticSource) LoadCandidates(_ context.Context, q Query) ([]BareRecommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	var out []BareRecommendation
	for _, c := range s.candidates {
		if !slices.Contains(q.Exclude, c.BeatmapID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ignoringSource always returns its candidates, excluded or not.
type ignoringSource struct {
	candidates []BareRecommendation
	calls      atomic.Int32
}

func (s *ignoringSource) LoadCandidates(context.Context, Query) ([]BareRecommendation, error) {
	s.calls.Add(1)
	return s.candidates, nil
}

type memHistory struct {
	mu        sync.Mutex
	given     map[int][]int
	forgotten map[int]int
}

func newMemHistory() *memHistory {
	return &memHistory{given: map[int][]int{}, forgotten: map[int]int{}}
}

func (h *memHistory) GivenBeatmaps(_ context.Context, userID int) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.given[userID]), nil
}

func (h *memHistory) SaveGiven(_ context.Context, userID, beatmapID int, _ int64, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.given[userID] = append(h.given[userID], beatmapID)
	return nil
}

func (h *memHistory) ForgetGiven(_ context.Context, userID int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.given, userID)
	h.forgotten[userID]++
	return nil
}

func newTestEngine(t *testing.T, source CandidateSource, history History) *Engine {
	t.Helper()
	e, err := NewEngine(Config{Seed: 1}, source, history, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func beatmapOf(t *testing.T, r chat.Response) int {
	t.Helper()
	s, ok := r.(chat.Success)
	if !ok {
		t.Fatalf("response = %#v, want Success", r)
	}
	rest, ok := strings.CutPrefix(s.Content, "https://osu.ppy.sh/b/")
	if !ok {
		t.Fatalf("no beatmap link in %q", s.Content)
	}
	idText, _, _ := strings.Cut(rest, " ")
	id, err := strconv.Atoi(idText)
	if err != nil {
		t.Fatalf("bad beatmap id in %q", s.Content)
	}
	return id
}

func isResetSuggestion(r chat.Response) bool {
	m, ok := r.(chat.Message)
	return ok && strings.Contains(m.Content, "!reset")
}

func TestRecommendExcludesGivenBeatmaps(t *testing.T) {
	t.Parallel()

	src := &staticSource{candidates: []BareRecommendation{
		{BeatmapID: 1, Probability: 0.5},
		{BeatmapID: 2, Probability: 0.3},
		{BeatmapID: 3, Probability: 0.2},
	}}
	e := newTestEngine(t, src, nil)
	ctx := context.Background()

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		r, err := e.Recommend(ctx, 10, nil, Request{})
		if err != nil {
			t.Fatalf("Recommend() error = %v", err)
		}
		id := beatmapOf(t, r)
		if seen[id] {
			t.Fatalf("beatmap %d recommended twice", id)
		}
		seen[id] = true
		if !slices.Contains(e.Exclusions(ctx, 10), id) {
			t.Errorf("beatmap %d missing from exclusions", id)
		}
	}

	r, err := e.Recommend(ctx, 10, nil, Request{})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if !isResetSuggestion(r) {
		t.Errorf("Recommend() after exhaustion = %#v, want reset suggestion", r)
	}
}

func TestRecommendExhaustionAfterConfiguredAttempts(t *testing.T) {
	t.Parallel()

	src := &ignoringSource{candidates: []BareRecommendation{{BeatmapID: 1, Probability: 1}}}
	e, err := NewEngine(Config{Seed: 1, ExhaustionAttempts: 3}, src, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := e.Recommend(ctx, 1, nil, Request{}); err != nil {
		t.Fatal(err)
	}
	src.calls.Store(0)

	r, err := e.Recommend(ctx, 1, nil, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if !isResetSuggestion(r) {
		t.Fatalf("Recommend() = %#v, want reset suggestion", r)
	}
	if got := src.calls.Load(); got != 3 {
		t.Errorf("source calls = %d, want 3", got)
	}
}

func TestRecommendSourceSignalsExhaustion(t *testing.T) {
	t.Parallel()

	src := &staticSource{err: ErrSourceExhausted}
	e := newTestEngine(t, src, nil)

	r, err := e.Recommend(context.Background(), 1, nil, Request{})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if !isResetSuggestion(r) {
		t.Errorf("Recommend() = %#v, want reset suggestion", r)
	}
	if len(src.queries) != 1 {
		t.Errorf("queries = %d, want 1", len(src.queries))
	}
}

func TestRecommendWrapsSourceFailure(t *testing.T) {
	t.Parallel()

	src := &staticSource{err: errors.New("connection reset")}
	e := newTestEngine(t, src, nil)

	_, err := e.Recommend(context.Background(), 1, nil, Request{})
	if !apperrors.IsCommunication(err) {
		t.Fatalf("Recommend() error = %v, want communication error", err)
	}
}

func TestForgetIsIdempotent(t *testing.T) {
	t.Parallel()

	src := &staticSource{candidates: []BareRecommendation{{BeatmapID: 1, Probability: 1}}}
	hist := newMemHistory()
	e := newTestEngine(t, src, hist)
	ctx := context.Background()

	if _, err := e.Recommend(ctx, 5, nil, Request{}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := e.Forget(ctx, 5); err != nil {
			t.Fatalf("Forget() #%d error = %v", i+1, err)
		}
		if got := e.Exclusions(ctx, 5); len(got) != 0 {
			t.Errorf("Exclusions() after Forget #%d = %v, want empty", i+1, got)
		}
	}

	r, err := e.Recommend(ctx, 5, nil, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if got := beatmapOf(t, r); got != 1 {
		t.Errorf("Recommend() after reset = %d, want 1", got)
	}
}

func TestExclusionsSeededFromHistory(t *testing.T) {
	t.Parallel()

	src := &staticSource{candidates: []BareRecommendation{
		{BeatmapID: 1, Probability: 0.9},
		{BeatmapID: 2, Probability: 0.1},
	}}
	hist := newMemHistory()
	hist.given[7] = []int{1}
	e := newTestEngine(t, src, hist)

	r, err := e.Recommend(context.Background(), 7, nil, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if got := beatmapOf(t, r); got != 2 {
		t.Errorf("Recommend() = %d, want 2", got)
	}
	if got := hist.given[7]; !slices.Equal(got, []int{1, 2}) {
		t.Errorf("history = %v, want [1 2]", got)
	}
}

func TestRecommendPassesQuery(t *testing.T) {
	t.Parallel()

	src := &staticSource{candidates: []BareRecommendation{{BeatmapID: 1, Probability: 1}}}
	e := newTestEngine(t, src, nil)

	_, err := e.Recommend(context.Background(), 3, &osu.Stats{PlayCount: 75000}, Request{Mods: Hidden | DoubleTime})
	if err != nil {
		t.Fatal(err)
	}
	q := src.queries[0]
	if q.UserID != 3 || q.Model != Gamma5 || q.Mods != Hidden|DoubleTime || q.Limit != DefaultBatchSize {
		t.Errorf("query = %+v", q)
	}

	_, _ = e.Recommend(context.Background(), 4, &osu.Stats{PlayCount: 10}, Request{Model: Gamma4})
	if got := src.queries[1].Model; got != Gamma4 {
		t.Errorf("forced model = %s, want gamma4", got)
	}
}

func TestRecommendConcurrentSameUser(t *testing.T) {
	t.Parallel()

	var candidates []BareRecommendation
	for id := 1; id <= 5; id++ {
		candidates = append(candidates, BareRecommendation{BeatmapID: id, Probability: 0.2})
	}
	e := newTestEngine(t, &ignoringSource{candidates: candidates}, nil)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := e.Recommend(context.Background(), 1, nil, Request{})
			if err != nil {
				t.Errorf("Recommend() error = %v", err)
				return
			}
			if _, ok := r.(chat.Success); ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 5 {
		t.Errorf("successful recommendations = %d, want 5", got)
	}
	if got := e.Exclusions(context.Background(), 1); !slices.Equal(got, []int{1, 2, 3, 4, 5}) {
		t.Errorf("Exclusions() = %v", got)
	}
}

func TestSampleWeighted(t *testing.T) {
	t.Parallel()

	candidates := []BareRecommendation{
		{BeatmapID: 1, Probability: 0.1},
		{BeatmapID: 2, Probability: 0.0},
		{BeatmapID: 3, Probability: 0.9},
	}
	tests := []struct {
		u    float64
		want int
	}{
		{0, 1},
		{0.05, 1},
		{0.11, 3},
		{0.999, 3},
	}
	for _, tt := range tests {
		if got := sample(candidates, tt.u).BeatmapID; got != tt.want {
			t.Errorf("sample(u=%v) = %d, want %d", tt.u, got, tt.want)
		}
	}

	zero := []BareRecommendation{{BeatmapID: 4}, {BeatmapID: 5}}
	if got := sample(zero, 0.75).BeatmapID; got != 5 {
		t.Errorf("sample(zero weights, 0.75) = %d, want 5", got)
	}
}

func TestSamplingIsDeterministicForSeed(t *testing.T) {
	t.Parallel()

	var candidates []BareRecommendation
	for id := 1; id <= 5; id++ {
		candidates = append(candidates, BareRecommendation{BeatmapID: id, Probability: float64(id)})
	}

	run := func() []int {
		e := newTestEngine(t, &staticSource{candidates: candidates}, nil)
		var order []int
		for i := 0; i < 5; i++ {
			r, err := e.Recommend(context.Background(), 1, nil, Request{})
			if err != nil {
				t.Fatal(err)
			}
			order = append(order, beatmapOf(t, r))
		}
		return order
	}

	first, second := run(), run()
	if !slices.Equal(first, second) {
		t.Errorf("same seed gave %v and %v", first, second)
	}
}
