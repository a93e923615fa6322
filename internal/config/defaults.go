package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/edgard/recbot/internal/chat"
	"github.com/edgard/recbot/internal/identity"
	"github.com/edgard/recbot/internal/osu"
	"github.com/edgard/recbot/internal/ratelimit"
	"github.com/edgard/recbot/internal/recommend"
)

// Default values for configuration
const (
	DefaultLogLevel      = "info"
	DefaultBotVersion    = 1
	DefaultHandleTimeout = 30 * time.Second
	DefaultDBPath        = "recbot.db"

	DefaultDirectoryBaseURL    = "https://osu.ppy.sh/api"
	DefaultDirectoryTimeout    = 10 * time.Second
	DefaultDirectoryRPM        = 600
	DefaultDirectoryUserMaxAge = 10 * time.Minute
)

// DefaultMessages are the built-in texts. %s placeholders receive the user's name.
var DefaultMessages = MessagesConfig{
	Help: "Hi! I'm the recommendation bot. Type !r (or !recommend) to get a beatmap recommendation. " +
		"You can pick a model (beta, gamma4, gamma5), ask for nomod or mods like hd, hr, dt. " +
		"!reset forgets what I recommended, !complain reports the last recommendation, !faq answers common questions.",
	FAQ:                "Frequently asked questions: recommendations come from models trained on what players like you play. Ask !help for the commands.",
	Version:            "I've been updated! Type !help to see what's new.",
	Exhausted:          recommend.DefaultExhaustedMessage,
	ResetDone:          "Okay, I forgot everything I recommended to you.",
	ComplaintRecorded:  "Your complaint has been filed. I'll try to do better.",
	NothingToComplain:  "I haven't recommended anything to you yet.",
	UnknownUser:        "I don't know who you are. Please make sure you are using your osu! username.",
	ServiceUnavailable: "I can't reach the osu! servers right now. Please try again in a bit.",
	GeneralError:       "Something went wrong on my side. Please try again later.",
	RateLimited:        "Slow down a little! Try again in a minute.",
	Hug:                "Come here, you!",
	HugAction:          "hugs %s",
	UnknownBeatmap:     "I couldn't find that beatmap. Is it still online?",
	WelcomeInstant:     "beep boop",
	WelcomeBack:        "Welcome back, %s.",
	WelcomeDays:        "%s, nice to see you again.",
	WelcomeLong:        []string{"%s...", "...is that you?", "It's been so long!"},
}

// setDefaults registers defaults with viper. Every key that may come from
// the environment needs a default for viper to pick it up on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", false)

	v.SetDefault("bot.version", DefaultBotVersion)
	v.SetDefault("bot.handle_timeout", DefaultHandleTimeout)

	v.SetDefault("telegram.token", "")
	v.SetDefault("database.path", DefaultDBPath)

	v.SetDefault("directory.base_url", DefaultDirectoryBaseURL)
	v.SetDefault("directory.api_key", "")
	v.SetDefault("directory.timeout", DefaultDirectoryTimeout)
	v.SetDefault("directory.requests_per_minute", DefaultDirectoryRPM)
	v.SetDefault("directory.user_max_age", DefaultDirectoryUserMaxAge)
	v.SetDefault("directory.miss_ttl", identity.DefaultMissTTL)
	v.SetDefault("directory.attempts", osu.DefaultAttempts)
	v.SetDefault("directory.retry_delay", osu.DefaultRetryDelay)
	v.SetDefault("directory.breaker_failures", osu.DefaultBreakerFailures)
	v.SetDefault("directory.breaker_cooldown", osu.DefaultBreakerCooldown)

	v.SetDefault("recommend.exhaustion_attempts", recommend.DefaultExhaustionAttempts)
	v.SetDefault("recommend.batch_size", recommend.DefaultBatchSize)
	v.SetDefault("recommend.seed", 0)
	v.SetDefault("recommend.candidates_file", "")

	v.SetDefault("rate_limit.window", ratelimit.DefaultWindow)
	v.SetDefault("rate_limit.max_events", ratelimit.DefaultMaxEvents)
	v.SetDefault("rate_limit.max_tracked_keys", ratelimit.DefaultMaxTrackedKeys)

	v.SetDefault("queue.capacity", chat.DefaultQueueCapacity)

	v.SetDefault("scheduler.tasks", map[string]any{
		"sql_maintenance":      map[string]any{"enabled": true, "schedule": "0 3 * * *"},
		"rate_limit_eviction":  map[string]any{"enabled": true, "schedule": "*/5 * * * *"},
		"identity_cache_flush": map[string]any{"enabled": true, "schedule": "0 * * * *"},
		"candidate_import":     map[string]any{"enabled": true, "schedule": "*/10 * * * *"},
	})

	m := DefaultMessages
	v.SetDefault("messages.help", m.Help)
	v.SetDefault("messages.faq", m.FAQ)
	v.SetDefault("messages.version", m.Version)
	v.SetDefault("messages.exhausted", m.Exhausted)
	v.SetDefault("messages.reset_done", m.ResetDone)
	v.SetDefault("messages.complaint_recorded", m.ComplaintRecorded)
	v.SetDefault("messages.nothing_to_complain", m.NothingToComplain)
	v.SetDefault("messages.unknown_user", m.UnknownUser)
	v.SetDefault("messages.service_unavailable", m.ServiceUnavailable)
	v.SetDefault("messages.general_error", m.GeneralError)
	v.SetDefault("messages.rate_limited", m.RateLimited)
	v.SetDefault("messages.hug", m.Hug)
	v.SetDefault("messages.hug_action", m.HugAction)
	v.SetDefault("messages.welcome_instant", m.WelcomeInstant)
	v.SetDefault("messages.welcome_back", m.WelcomeBack)
	v.SetDefault("messages.welcome_days", m.WelcomeDays)
	v.SetDefault("messages.welcome_long", m.WelcomeLong)
}
