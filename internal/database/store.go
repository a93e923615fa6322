package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// GetAlias returns the user id a normalized handle was last resolved to.
	GetAlias(ctx context.Context, handle string) (userID int, found bool, err error)

	// SaveAlias inserts or replaces the user id of a normalized handle.
	SaveAlias(ctx context.Context, handle string, userID int) error

	// DeleteAlias removes the alias of a handle if it still maps to userID.
	DeleteAlias(ctx context.Context, handle string, userID int) error

	// GetUserData returns the stored data of a user, or a zero record for
	// users the bot has never seen.
	GetUserData(ctx context.Context, userID int) (*UserData, error)

	// SaveUserData inserts or updates the data of a user.
	SaveUserData(ctx context.Context, data *UserData) error

	// RegisterActivity records that the user was seen at the given time.
	RegisterActivity(ctx context.Context, userID int, at time.Time) error

	// GivenBeatmaps returns the beatmaps recommended to a user that have not been forgotten.
	GivenBeatmaps(ctx context.Context, userID int) ([]int, error)

	// SaveGiven records a recommendation.
	SaveGiven(ctx context.Context, userID, beatmapID int, mods int64, at time.Time) error

	// ForgetGiven marks all recommendations of a user as forgotten.
	ForgetGiven(ctx context.Context, userID int) error

	// LastGivenRecommendation returns the latest recommendation of a user. Returns nil, nil if none.
	LastGivenRecommendation(ctx context.Context, userID int) (*GivenRecommendation, error)

	// MarkComplained flags a recommendation the user complained about.
	MarkComplained(ctx context.Context, recommendationID int64) error

	// QueryCandidates returns up to limit candidates of a model, best first,
	// skipping the excluded beatmaps. nomod restricts to candidates without
	// mods; otherwise non-zero mods must match exactly.
	QueryCandidates(ctx context.Context, model string, exclude []int, nomod bool, mods int64, limit int) ([]Candidate, error)

	// ReplaceCandidates replaces the stored output of every model present in
	// candidates in a single transaction. Other models are untouched.
	ReplaceCandidates(ctx context.Context, candidates []Candidate) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) GetAlias(ctx context.Context, handle string) (int, bool, error) {
	if handle == "" {
		return 0, false, fmt.Errorf("handle cannot be empty")
	}

	var userID int
	err := s.db.GetContext(ctx, &userID, `SELECT user_id FROM user_aliases WHERE handle = ?`, handle)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting alias", "handle", handle, "error", err)
		return 0, false, fmt.Errorf("failed to get alias %q: %w", handle, err)
	}
	return userID, true, nil
}

func (s *sqlxStore) SaveAlias(ctx context.Context, handle string, userID int) error {
	if handle == "" {
		return fmt.Errorf("handle cannot be empty")
	}
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}

	alias := UserAlias{Handle: handle, UserID: userID, ResolvedAt: time.Now().UTC()}
	query := `
        INSERT INTO user_aliases (handle, user_id, resolved_at)
        VALUES (:handle, :user_id, :resolved_at)
        ON CONFLICT(handle) DO UPDATE SET
            user_id = excluded.user_id,
            resolved_at = excluded.resolved_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, alias); err != nil {
		s.logger.ErrorContext(ctx, "Error saving alias", "handle", handle, "user_id", userID, "error", err)
		return fmt.Errorf("failed to save alias %q: %w", handle, err)
	}
	return nil
}

func (s *sqlxStore) DeleteAlias(ctx context.Context, handle string, userID int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_aliases WHERE handle = ? AND user_id = ?`, handle, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting alias", "handle", handle, "user_id", userID, "error", err)
		return fmt.Errorf("failed to delete alias %q: %w", handle, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		s.logger.DebugContext(ctx, "Alias deleted", "handle", handle, "user_id", userID)
	}
	return nil
}

func (s *sqlxStore) GetUserData(ctx context.Context, userID int) (*UserData, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var data UserData
	query := `SELECT user_id, last_visited_version, allowed_to_debug, donator, last_activity, created_at, updated_at
	          FROM user_data WHERE user_id = ?`
	err := s.db.GetContext(ctx, &data, query, userID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user data found, using defaults", "user_id", userID)
		return &UserData{UserID: userID}, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching user data",
			"user_id", userID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user data", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user data for user ID %d: %w", userID, err)
	}

	return &data, nil
}

func (s *sqlxStore) SaveUserData(ctx context.Context, data *UserData) error {
	if data == nil {
		return fmt.Errorf("cannot save nil user data")
	}
	if data.UserID == 0 {
		return fmt.Errorf("user data must have a non-zero user_id")
	}

	now := time.Now().UTC()
	if data.CreatedAt.IsZero() {
		data.CreatedAt = now
	}
	data.UpdatedAt = now

	query := `
        INSERT INTO user_data (user_id, last_visited_version, allowed_to_debug, donator, last_activity, created_at, updated_at)
        VALUES (:user_id, :last_visited_version, :allowed_to_debug, :donator, :last_activity, :created_at, :updated_at)
        ON CONFLICT(user_id) DO UPDATE SET
            last_visited_version = excluded.last_visited_version,
            allowed_to_debug = excluded.allowed_to_debug,
            donator = excluded.donator,
            last_activity = excluded.last_activity,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, data); err != nil {
		s.logger.ErrorContext(ctx, "Error saving user data", "user_id", data.UserID, "error", err)
		return fmt.Errorf("failed to save user data for user ID %d: %w", data.UserID, err)
	}

	s.logger.DebugContext(ctx, "User data saved", "user_id", data.UserID)
	return nil
}

func (s *sqlxStore) RegisterActivity(ctx context.Context, userID int, at time.Time) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}

	now := time.Now().UTC()
	query := `
        INSERT INTO user_data (user_id, last_activity, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            last_activity = excluded.last_activity,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.ExecContext(ctx, query, userID, at.UTC(), now, now); err != nil {
		s.logger.ErrorContext(ctx, "Error registering activity", "user_id", userID, "error", err)
		return fmt.Errorf("failed to register activity for user ID %d: %w", userID, err)
	}
	return nil
}

func (s *sqlxStore) GivenBeatmaps(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	query := `SELECT DISTINCT beatmap_id FROM given_recommendations
	          WHERE user_id = ? AND forgotten = 0 ORDER BY beatmap_id`
	if err := s.db.SelectContext(ctx, &ids, query, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching given beatmaps", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to fetch given beatmaps for user ID %d: %w", userID, err)
	}
	return ids, nil
}

func (s *sqlxStore) SaveGiven(ctx context.Context, userID, beatmapID int, mods int64, at time.Time) error {
	rec := GivenRecommendation{UserID: userID, BeatmapID: beatmapID, Mods: mods, GivenAt: at.UTC()}
	query := `
        INSERT INTO given_recommendations (user_id, beatmap_id, mods, given_at, forgotten, complained)
        VALUES (:user_id, :beatmap_id, :mods, :given_at, 0, 0);
    `
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		s.logger.ErrorContext(ctx, "Error saving given recommendation",
			"user_id", userID, "beatmap_id", beatmapID, "error", err)
		return fmt.Errorf("failed to save recommendation of beatmap %d for user ID %d: %w", beatmapID, userID, err)
	}
	return nil
}

func (s *sqlxStore) ForgetGiven(ctx context.Context, userID int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE given_recommendations SET forgotten = 1 WHERE user_id = ? AND forgotten = 0`, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error forgetting recommendations", "user_id", userID, "error", err)
		return fmt.Errorf("failed to forget recommendations for user ID %d: %w", userID, err)
	}
	if affected, err := result.RowsAffected(); err == nil {
		s.logger.InfoContext(ctx, "Recommendations forgotten", "user_id", userID, "count", affected)
	}
	return nil
}

func (s *sqlxStore) LastGivenRecommendation(ctx context.Context, userID int) (*GivenRecommendation, error) {
	var rec GivenRecommendation
	query := `SELECT id, user_id, beatmap_id, mods, given_at, forgotten, complained
	          FROM given_recommendations WHERE user_id = ?
	          ORDER BY given_at DESC, id DESC LIMIT 1`
	err := s.db.GetContext(ctx, &rec, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error fetching last recommendation", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to fetch last recommendation for user ID %d: %w", userID, err)
	}
	return &rec, nil
}

func (s *sqlxStore) MarkComplained(ctx context.Context, recommendationID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE given_recommendations SET complained = 1 WHERE id = ?`, recommendationID)
	if err != nil {
		return fmt.Errorf("failed to mark recommendation %d: %w", recommendationID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected != 1 {
		return fmt.Errorf("recommendation %d not found", recommendationID)
	}
	return nil
}

func (s *sqlxStore) QueryCandidates(ctx context.Context, model string, exclude []int, nomod bool, mods int64, limit int) ([]Candidate, error) {
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, model, beatmap_id, mods, probability FROM model_candidates WHERE model = ?`
	args := []any{model}
	switch {
	case nomod:
		query += ` AND mods = 0`
	case mods != 0:
		query += ` AND mods = ?`
		args = append(args, mods)
	}
	if len(exclude) > 0 {
		query += ` AND beatmap_id NOT IN (?)`
		args = append(args, exclude)
	}
	query += ` ORDER BY probability DESC, beatmap_id LIMIT ?`
	args = append(args, limit)

	if len(exclude) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to expand candidate query: %w", err)
		}
	}

	var candidates []Candidate
	if err := s.db.SelectContext(ctx, &candidates, s.db.Rebind(query), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error querying candidates", "model", model, "error", err)
		return nil, fmt.Errorf("failed to query %s candidates: %w", model, err)
	}

	s.logger.DebugContext(ctx, "Candidates loaded", "model", model, "excluded", len(exclude), "count", len(candidates))
	return candidates, nil
}

func (s *sqlxStore) ReplaceCandidates(ctx context.Context, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	var models []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		if !seen[c.Model] {
			seen[c.Model] = true
			models = append(models, c.Model)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for replacing candidates", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	del, args, err := sqlx.In(`DELETE FROM model_candidates WHERE model IN (?)`, models)
	if err != nil {
		return fmt.Errorf("failed to expand candidate delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(del), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error deleting old candidates", "models", models, "error", err)
		return fmt.Errorf("failed to delete old candidates: %w", err)
	}

	query := `
        INSERT INTO model_candidates (model, beatmap_id, mods, probability)
        VALUES (:model, :beatmap_id, :mods, :probability)
        ON CONFLICT(model, beatmap_id, mods) DO UPDATE SET probability = excluded.probability;
    `
	for i := range candidates {
		if _, err := tx.NamedExecContext(ctx, query, candidates[i]); err != nil {
			s.logger.ErrorContext(ctx, "Error saving candidate",
				"model", candidates[i].Model, "beatmap_id", candidates[i].BeatmapID, "error", err)
			return fmt.Errorf("failed to save candidate %d of model %s: %w",
				candidates[i].BeatmapID, candidates[i].Model, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Candidates replaced", "models", models, "count", len(candidates))
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
