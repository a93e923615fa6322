package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/edgard/recbot/internal/chat"
	apperrors "github.com/edgard/recbot/internal/errors"
	"github.com/edgard/recbot/internal/osu"
)

const (
	// DefaultExhaustionAttempts is the number of consecutive empty batches
	// after which a user is told to reset.
	DefaultExhaustionAttempts = 2
	// DefaultBatchSize is the number of candidates requested per attempt.
	DefaultBatchSize = 20

	candidateService = "candidate source"

	// BeatmapURL is the link format of a recommended beatmap.
	BeatmapURL = "https://osu.ppy.sh/b/%d"
	// DefaultExhaustedMessage tells the user to reset their exclusions.
	DefaultExhaustedMessage = "I've recommended everything that I can think of. Try other mods or use !reset to start over."
)

// ErrSourceExhausted may be returned by a CandidateSource that knows it has
// nothing left for the query.
var ErrSourceExhausted = errors.New("candidate source exhausted")

// BareRecommendation is a candidate beatmap with its relevance probability.
type BareRecommendation struct {
	BeatmapID   int
	Mods        Mods
	Probability float64
}

// Query describes a batch request to a CandidateSource.
type Query struct {
	UserID  int
	Exclude []int
	Model   Model
	Mods    Mods
	NoMod   bool
	Limit   int
}

// CandidateSource produces candidate batches. An empty batch is valid.
type CandidateSource interface {
	LoadCandidates(ctx context.Context, q Query) ([]BareRecommendation, error)
}

// History persists the beatmaps given to users.
type History interface {
	GivenBeatmaps(ctx context.Context, userID int) ([]int, error)
	SaveGiven(ctx context.Context, userID, beatmapID int, mods int64, at time.Time) error
	ForgetGiven(ctx context.Context, userID int) error
}

// Config holds the engine settings.
type Config struct {
	Tiers              []Tier
	ExhaustionAttempts int
	BatchSize          int
	// Seed makes sampling reproducible. Zero seeds from the clock.
	Seed             uint64
	ExhaustedMessage string
}

// Engine produces recommendations. Safe for concurrent use; the exclusion
// set of each user is guarded by its own lock.
type Engine struct {
	cfg     Config
	tiers   Tiers
	source  CandidateSource
	history History
	log     *slog.Logger
	now     func() time.Time

	sets sync.Map // int -> *exclusionSet

	rngMu sync.Mutex
	rng   *rand.Rand
}

type exclusionSet struct {
	mu     sync.Mutex
	ids    map[int]struct{}
	seeded bool
}

// NewEngine creates an Engine. history may be nil, in which case
// exclusions only live in memory.
func NewEngine(cfg Config, source CandidateSource, history History, log *slog.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("candidate source is required")
	}
	tiers, err := NewTiers(cfg.Tiers)
	if err != nil {
		return nil, fmt.Errorf("invalid model tiers: %w", err)
	}
	if cfg.ExhaustionAttempts <= 0 {
		cfg.ExhaustionAttempts = DefaultExhaustionAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ExhaustedMessage == "" {
		cfg.ExhaustedMessage = DefaultExhaustedMessage
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		tiers:   tiers,
		source:  source,
		history: history,
		log:     log.With("component", "recommend_engine"),
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Recommend picks one beatmap for userID that was not recommended before.
// When nothing is left it returns a message asking the user to reset.
func (e *Engine) Recommend(ctx context.Context, userID int, stats *osu.Stats, req Request) (chat.Response, error) {
	model := req.Model
	if model == "" {
		playCount := 0
		if stats != nil {
			playCount = stats.PlayCount
		}
		model = e.tiers.ModelFor(playCount)
	}

	set := e.exclusions(ctx, userID)

	for attempt := 1; attempt <= e.cfg.ExhaustionAttempts; attempt++ {
		batch, err := e.source.LoadCandidates(ctx, Query{
			UserID:  userID,
			Exclude: set.snapshot(),
			Model:   model,
			Mods:    req.Mods,
			NoMod:   req.NoMod,
			Limit:   e.cfg.BatchSize,
		})
		if errors.Is(err, ErrSourceExhausted) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var appErr apperrors.ApplicationError
			if errors.As(err, &appErr) {
				return nil, err
			}
			return nil, apperrors.NewCommunicationError(candidateService, err)
		}

		pick, ok := set.pickAndExclude(batch, e.draw())
		if !ok {
			e.log.DebugContext(ctx, "No unexcluded candidates in batch",
				"user_id", userID, "model", model, "attempt", attempt, "batch_size", len(batch))
			continue
		}

		e.remember(ctx, userID, pick)
		e.log.InfoContext(ctx, "Recommendation selected",
			"user_id", userID, "model", model, "beatmap_id", pick.BeatmapID, "probability", pick.Probability)
		return chat.Success{Content: formatRecommendation(pick)}, nil
	}

	e.log.InfoContext(ctx, "Candidates exhausted", "user_id", userID, "model", model)
	return chat.Message{Content: e.cfg.ExhaustedMessage}, nil
}

// Forget clears the exclusions of userID. Calling it repeatedly is safe.
func (e *Engine) Forget(ctx context.Context, userID int) error {
	v, _ := e.sets.LoadOrStore(userID, &exclusionSet{})
	set := v.(*exclusionSet)

	set.mu.Lock()
	set.ids = nil
	set.seeded = true
	set.mu.Unlock()

	if e.history == nil {
		return nil
	}
	if err := e.history.ForgetGiven(ctx, userID); err != nil {
		return fmt.Errorf("forget recommendations of user %d: %w", userID, err)
	}
	return nil
}

// Exclusions returns the sorted ids currently excluded for userID.
func (e *Engine) Exclusions(ctx context.Context, userID int) []int {
	ids := e.exclusions(ctx, userID).snapshot()
	sort.Ints(ids)
	return ids
}

// exclusions returns the set of userID, seeding it from history the first
// time. The history call is made without holding the set's lock.
func (e *Engine) exclusions(ctx context.Context, userID int) *exclusionSet {
	v, _ := e.sets.LoadOrStore(userID, &exclusionSet{})
	set := v.(*exclusionSet)

	set.mu.Lock()
	seeded := set.seeded
	set.mu.Unlock()
	if seeded || e.history == nil {
		return set
	}

	given, err := e.history.GivenBeatmaps(ctx, userID)
	if err != nil {
		e.log.WarnContext(ctx, "Failed to load recommendation history", "user_id", userID, "error", err)
		return set
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	if set.seeded {
		return set
	}
	if set.ids == nil {
		set.ids = make(map[int]struct{}, len(given))
	}
	for _, id := range given {
		set.ids[id] = struct{}{}
	}
	set.seeded = true
	return set
}

func (e *Engine) remember(ctx context.Context, userID int, pick BareRecommendation) {
	if e.history == nil {
		return
	}
	if err := e.history.SaveGiven(ctx, userID, pick.BeatmapID, int64(pick.Mods), e.now()); err != nil {
		e.log.WarnContext(ctx, "Failed to save given recommendation",
			"user_id", userID, "beatmap_id", pick.BeatmapID, "error", err)
	}
}

func (e *Engine) draw() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func (s *exclusionSet) snapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

// pickAndExclude filters batch against the set, samples one candidate
// using u in [0,1) and adds it to the set, all under the set's lock.
func (s *exclusionSet) pickAndExclude(batch []BareRecommendation, u float64) (BareRecommendation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	available := make([]BareRecommendation, 0, len(batch))
	for _, c := range batch {
		if _, excluded := s.ids[c.BeatmapID]; !excluded {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return BareRecommendation{}, false
	}

	pick := sample(available, u)
	if s.ids == nil {
		s.ids = make(map[int]struct{})
	}
	s.ids[pick.BeatmapID] = struct{}{}
	return pick, true
}

// sample selects a candidate with chance proportional to its probability.
// Candidates without positive probability are only chosen if none has one.
func sample(candidates []BareRecommendation, u float64) BareRecommendation {
	var total float64
	for _, c := range candidates {
		if c.Probability > 0 {
			total += c.Probability
		}
	}
	if total <= 0 {
		return candidates[int(u*float64(len(candidates)))%len(candidates)]
	}

	target := u * total
	last := 0
	for i, c := range candidates {
		if c.Probability <= 0 {
			continue
		}
		last = i
		target -= c.Probability
		if target < 0 {
			return c
		}
	}
	return candidates[last]
}

func formatRecommendation(r BareRecommendation) string {
	text := fmt.Sprintf(BeatmapURL, r.BeatmapID)
	if r.Mods != 0 {
		text += " +" + r.Mods.String()
	}
	return fmt.Sprintf("%s | %.0f%% match", text, r.Probability*100)
}
