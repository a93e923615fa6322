package database

import (
	"database/sql"
	"time"
)

// UserAlias maps a normalized chat handle to the directory user id it
// resolved to.
type UserAlias struct {
	Handle     string    `db:"handle"`
	UserID     int       `db:"user_id"`
	ResolvedAt time.Time `db:"resolved_at"`
}

// UserData holds the per-user state the bot keeps: the last bot version
// the user has seen, permissions and activity.
type UserData struct {
	UserID             int          `db:"user_id"`
	LastVisitedVersion int          `db:"last_visited_version"`
	AllowedToDebug     bool         `db:"allowed_to_debug"`
	Donator            bool         `db:"donator"`
	LastActivity       sql.NullTime `db:"last_activity"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

// GivenRecommendation records a beatmap recommended to a user. Forgotten
// rows are kept for statistics but no longer exclude the beatmap.
type GivenRecommendation struct {
	ID         int64     `db:"id"`
	UserID     int       `db:"user_id"`
	BeatmapID  int       `db:"beatmap_id"`
	Mods       int64     `db:"mods"`
	GivenAt    time.Time `db:"given_at"`
	Forgotten  bool      `db:"forgotten"`
	Complained bool      `db:"complained"`
}

// Candidate is one precomputed output row of a recommendation model.
type Candidate struct {
	ID          int64   `db:"id"`
	Model       string  `db:"model"`
	BeatmapID   int     `db:"beatmap_id"`
	Mods        int64   `db:"mods"`
	Probability float64 `db:"probability"`
}
