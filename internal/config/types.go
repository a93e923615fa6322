// Package config loads the bot configuration from a YAML file, BOT_*
// environment variables and built-in defaults, and validates it.
package config

import (
	"errors"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/recbot/internal/recommend"
)

// ErrConfiguration wraps every loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration. Values can be set via environment
// variables prefixed with BOT_ (e.g., BOT_TELEGRAM_TOKEN) or through config.yaml.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Bot       BotConfig       `mapstructure:"bot"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// BotConfig holds settings of the event handling core.
type BotConfig struct {
	// Version is compared with each user's last visited version to decide
	// whether the version message is shown.
	Version       int           `mapstructure:"version"        validate:"gte=0"`
	HandleTimeout time.Duration `mapstructure:"handle_timeout" validate:"min=1s,max=5m"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`

	// BotInfo is filled at startup from getMe.
	BotInfo *models.User `mapstructure:"-"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// DirectoryConfig configures the osu! API client.
type DirectoryConfig struct {
	BaseURL           string        `mapstructure:"base_url"            validate:"required,url"`
	APIKey            string        `mapstructure:"api_key"             validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s,max=2m"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"gte=0"`
	UserMaxAge        time.Duration `mapstructure:"user_max_age"        validate:"gte=0"`
	MissTTL           time.Duration `mapstructure:"miss_ttl"            validate:"gte=0"`
	Attempts          int           `mapstructure:"attempts"            validate:"min=1,max=10"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"         validate:"gte=0"`
	BreakerFailures   int           `mapstructure:"breaker_failures"    validate:"min=1"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"    validate:"min=1s"`
}

type RecommendConfig struct {
	Tiers              []recommend.Tier `mapstructure:"tiers"               validate:"dive"`
	ExhaustionAttempts int              `mapstructure:"exhaustion_attempts" validate:"min=1,max=10"`
	BatchSize          int              `mapstructure:"batch_size"          validate:"min=1,max=500"`
	Seed               uint64           `mapstructure:"seed"`
	// CandidatesFile holds model output as JSON lines. Empty disables
	// importing; the candidates table is then filled by other means.
	CandidatesFile string `mapstructure:"candidates_file"`
}

type RateLimitConfig struct {
	Window         time.Duration `mapstructure:"window"           validate:"min=1s"`
	MaxEvents      int           `mapstructure:"max_events"       validate:"min=1"`
	MaxTrackedKeys int           `mapstructure:"max_tracked_keys" validate:"min=1"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity" validate:"min=1"`
}

// SchedulerConfig maps task names to their settings.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds every text the bot sends that is not built from data.
type MessagesConfig struct {
	Help               string   `mapstructure:"help"                validate:"required"`
	FAQ                string   `mapstructure:"faq"                 validate:"required"`
	Version            string   `mapstructure:"version"             validate:"required"`
	Exhausted          string   `mapstructure:"exhausted"           validate:"required,contains=!reset"`
	ResetDone          string   `mapstructure:"reset_done"          validate:"required"`
	ComplaintRecorded  string   `mapstructure:"complaint_recorded"  validate:"required"`
	NothingToComplain  string   `mapstructure:"nothing_to_complain" validate:"required"`
	UnknownUser        string   `mapstructure:"unknown_user"        validate:"required"`
	ServiceUnavailable string   `mapstructure:"service_unavailable" validate:"required"`
	GeneralError       string   `mapstructure:"general_error"       validate:"required"`
	RateLimited        string   `mapstructure:"rate_limited"        validate:"required"`
	Hug                string   `mapstructure:"hug"                 validate:"required"`
	HugAction          string   `mapstructure:"hug_action"          validate:"required"`
	UnknownBeatmap     string   `mapstructure:"unknown_beatmap"     validate:"required"`
	WelcomeInstant     string   `mapstructure:"welcome_instant"     validate:"required"`
	WelcomeBack        string   `mapstructure:"welcome_back"        validate:"required"`
	WelcomeDays        string   `mapstructure:"welcome_days"        validate:"required"`
	WelcomeLong        []string `mapstructure:"welcome_long"        validate:"min=1"`
}
