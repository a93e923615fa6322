package osu

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/edgard/recbot/internal/errors"
)

// Beatmap is the metadata of one difficulty of a beatmap set.
type Beatmap struct {
	ID       int
	Artist   string
	Title    string
	Version  string
	Stars    float64
	BPM      float64
	Length   time.Duration
	MaxCombo int
}

// String formats the beatmap the way players name it.
func (b *Beatmap) String() string {
	return fmt.Sprintf("%s - %s [%s]", b.Artist, b.Title, b.Version)
}

type apiBeatmap struct {
	BeatmapID        string `json:"beatmap_id"`
	Artist           string `json:"artist"`
	Title            string `json:"title"`
	Version          string `json:"version"`
	DifficultyRating string `json:"difficultyrating"`
	BPM              string `json:"bpm"`
	TotalLength      string `json:"total_length"`
	MaxCombo         string `json:"max_combo"`
}

// GetBeatmap looks a beatmap difficulty up by id. It returns nil, nil if
// the id is unknown.
func (c *Client) GetBeatmap(ctx context.Context, id int) (*Beatmap, error) {
	var maps []apiBeatmap
	params := url.Values{"b": {strconv.Itoa(id)}, "limit": {"1"}}
	if err := c.get(ctx, "get_beatmaps", params, &maps); err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		return nil, nil
	}

	m := maps[0]
	beatmapID, err := strconv.Atoi(m.BeatmapID)
	if err != nil {
		return nil, apperrors.NewCommunicationError(serviceName,
			fmt.Errorf("%w: invalid beatmap_id %q", apperrors.ErrMalformedResponse, m.BeatmapID))
	}
	return &Beatmap{
		ID:       beatmapID,
		Artist:   m.Artist,
		Title:    m.Title,
		Version:  m.Version,
		Stars:    atofOrZero(m.DifficultyRating),
		BPM:      atofOrZero(m.BPM),
		Length:   time.Duration(atoiOrZero(m.TotalLength)) * time.Second,
		MaxCombo: atoiOrZero(m.MaxCombo),
	}, nil
}
