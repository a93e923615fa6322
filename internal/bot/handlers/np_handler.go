package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/edgard/recbot/internal/chat"
	apperrors "github.com/edgard/recbot/internal/errors"
	"github.com/edgard/recbot/internal/osu"
)

// nowPlayingVerbs are the openings of the actions the osu! client sends for
// "/np".
var nowPlayingVerbs = []string{"is listening to ", "is playing ", "is watching ", "is editing "}

var beatmapLink = regexp.MustCompile(`osu\.ppy\.sh/(?:b|beatmaps)/(\d+)`)

// NewNowPlayingHandler returns the handler for "/np" actions. It answers
// with the metadata of the linked beatmap difficulty.
func NewNowPlayingHandler(deps HandlerDeps) Chain {
	h := nowPlayingHandler{deps}
	c := make(Chain, 0, len(nowPlayingVerbs))
	for _, verb := range nowPlayingVerbs {
		c = append(c, AlwaysHandling(verb, h.handle))
	}
	return c
}

type nowPlayingHandler struct {
	deps HandlerDeps
}

func (h nowPlayingHandler) handle(ctx context.Context, text string, _ *User) (chat.Response, error) {
	m := beatmapLink.FindStringSubmatch(text)
	if m == nil {
		return chat.None, nil
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return chat.None, nil
	}

	b, err := h.deps.Beatmaps.GetBeatmap(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperrors.NewUserError(h.deps.Messages.UnknownBeatmap)
	}
	return chat.Success{Content: describeBeatmap(b)}, nil
}

func describeBeatmap(b *osu.Beatmap) string {
	length := b.Length.Round(time.Second)
	return fmt.Sprintf("%s | %.2f★ | %s BPM | %d:%02d",
		b, b.Stars, strconv.FormatFloat(b.BPM, 'f', -1, 64),
		int(length.Minutes()), int(length.Seconds())%60)
}
