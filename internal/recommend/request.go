package recommend

import (
	"strings"

	apperrors "github.com/edgard/recbot/internal/errors"
)

// Mods is a bit set of game modifiers using the osu! API values.
type Mods int64

const (
	Hidden     Mods = 8
	HardRock   Mods = 16
	DoubleTime Mods = 64
)

var modCodes = []struct {
	code string
	mod  Mods
}{
	{"hd", Hidden},
	{"hr", HardRock},
	{"dt", DoubleTime},
	{"nc", DoubleTime}, // nightcore plays like double time
}

// ParseMods parses a concatenation of two-letter mod codes such as "hdhr".
func ParseMods(token string) (Mods, bool) {
	token = strings.ToLower(token)
	if token == "" || len(token)%2 != 0 {
		return 0, false
	}
	var mods Mods
	for i := 0; i < len(token); i += 2 {
		found := false
		for _, c := range modCodes {
			if token[i:i+2] == c.code {
				mods |= c.mod
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return mods, true
}

func (m Mods) String() string {
	var b strings.Builder
	for _, c := range modCodes[:3] {
		if m&c.mod != 0 {
			b.WriteString(strings.ToUpper(c.code))
		}
	}
	return b.String()
}

// Request holds the user-supplied parameters of a recommendation.
type Request struct {
	Model Model // empty selects the model by play count tier
	NoMod bool
	Mods  Mods
}

// ParseRequest parses the arguments of a recommendation command, for
// example "gamma5 hddt" or "nomod". Invalid arguments yield a UserError.
func ParseRequest(args []string) (Request, error) {
	var req Request
	for _, arg := range args {
		if arg == "" {
			continue
		}
		lower := strings.ToLower(arg)

		if m, ok := ParseModel(lower); ok {
			if req.Model != "" && req.Model != m {
				return Request{}, apperrors.NewUserErrorf("You can only pick one model, but I see %s and %s.", req.Model, m)
			}
			req.Model = m
			continue
		}
		if lower == "nomod" {
			req.NoMod = true
			continue
		}
		if mods, ok := ParseMods(lower); ok {
			req.Mods |= mods
			continue
		}
		return Request{}, apperrors.NewUserErrorf("I don't know what \"%s\" is supposed to mean. Try !help if you need some pointers.", arg)
	}

	if req.NoMod && req.Mods != 0 {
		return Request{}, apperrors.NewUserError("You asked for nomod and for mods at the same time. Pick one.")
	}
	return req, nil
}
