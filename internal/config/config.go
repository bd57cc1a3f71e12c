package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string           `yaml:"discord_token"`
	DatabasePath      string           `yaml:"database_path"`
	LogLevel          string           `yaml:"log_level"`
	DefaultLogChannel string           `yaml:"default_log_channel"`
	RetentionDays     int              `yaml:"retention_days"`
	Health            HealthConfig     `yaml:"health"`
	Scheduler         SchedulerConfig  `yaml:"scheduler"`
	Giveaway          GiveawayConfig   `yaml:"giveaway"`
	Premium           PremiumConfig    `yaml:"premium"`
	Revocation        RevocationConfig `yaml:"revocation"`
	Captcha           CaptchaConfig    `yaml:"captcha"`
	Antispam          AntispamConfig   `yaml:"antispam"`
	Tickets           TicketConfig     `yaml:"tickets"`
	EventLog          EventLogConfig   `yaml:"event_log"`
	Activity          ActivityConfig   `yaml:"activity"`
	Notifications     NotifyConfig     `yaml:"notifications"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SchedulerConfig struct {
	// ReconcilePerSecond bounds how fast overdue actions are fired after a restart.
	ReconcilePerSecond float64 `yaml:"reconcile_per_second"`
	ReconcileBurst     int     `yaml:"reconcile_burst"`
}

type GiveawayConfig struct {
	MaxWinners      int    `yaml:"max_winners"`
	MaxDurationDays int    `yaml:"max_duration_days"`
	DefaultEmoji    string `yaml:"default_emoji"`
}

type PremiumConfig struct {
	SupportGuildID       string   `yaml:"support_guild_id"`
	RoleID               string   `yaml:"role_id"`
	AuthorizedIDs        []string `yaml:"authorized_ids"`
	SweepIntervalMinutes int      `yaml:"sweep_interval_minutes"`
	AccountAgeDays       int      `yaml:"account_age_days"`
}

type RevocationConfig struct {
	GuildID          string `yaml:"guild_id"`
	RequestChannelID string `yaml:"request_channel_id"`
	RevokeChannelID  string `yaml:"revoke_channel_id"`
	Threshold        int    `yaml:"threshold"`
	VoteEmoji        string `yaml:"vote_emoji"`
	AgainstEmoji     string `yaml:"against_emoji"`
	MarkerEmoji      string `yaml:"marker_emoji"`
}

type CaptchaConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	CodeLength     int `yaml:"code_length"`
	CleanupSeconds int `yaml:"cleanup_seconds"`
}

type AntispamConfig struct {
	Enabled       bool `yaml:"enabled"`
	Messages      int  `yaml:"messages"`
	WindowSeconds int  `yaml:"window_seconds"`
	MuteMinutes   int  `yaml:"mute_minutes"`
}

type TicketConfig struct {
	CloseDelaySeconds int `yaml:"close_delay_seconds"`
	TranscriptLimit   int `yaml:"transcript_limit"`
}

type EventLogConfig struct {
	Enabled bool `yaml:"enabled"`
	// MessageCache is the per-channel message count kept to report deletes and edits.
	MessageCache int `yaml:"message_cache"`
}

type ActivityConfig struct {
	Enabled              bool `yaml:"enabled"`
	FlushIntervalMinutes int  `yaml:"flush_interval_minutes"`
	MembershipWindowDays int  `yaml:"membership_window_days"`
}

type NotifyConfig struct {
	AuditToChannel bool        `yaml:"audit_to_channel"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Success int `yaml:"success"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:      "/data/guildkeeper.db",
		LogLevel:          "info",
		DefaultLogChannel: "",
		RetentionDays:     14,
		Health:            HealthConfig{Enabled: false, Addr: ":8080"},
		Scheduler:         SchedulerConfig{ReconcilePerSecond: 2, ReconcileBurst: 5},
		Giveaway:          GiveawayConfig{MaxWinners: 20, MaxDurationDays: 30, DefaultEmoji: "🎉"},
		Premium:           PremiumConfig{SweepIntervalMinutes: 10, AccountAgeDays: 7},
		Revocation: RevocationConfig{
			Threshold:    10,
			VoteEmoji:    "👍",
			AgainstEmoji: "👎",
			MarkerEmoji:  "✅",
		},
		Captcha:  CaptchaConfig{TimeoutSeconds: 120, CodeLength: 6, CleanupSeconds: 5},
		Antispam: AntispamConfig{Enabled: true, Messages: 6, WindowSeconds: 8, MuteMinutes: 10},
		Tickets:  TicketConfig{CloseDelaySeconds: 5, TranscriptLimit: 1000},
		EventLog: EventLogConfig{Enabled: true, MessageCache: 200},
		Activity: ActivityConfig{Enabled: true, FlushIntervalMinutes: 2, MembershipWindowDays: 14},
		Notifications: NotifyConfig{
			AuditToChannel: true,
			EmbedColors: EmbedColors{
				Action:  0xF1C40F,
				Success: 0x2ECC71,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
	}
}

func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	return cfg, nil
}

// Read loads the configuration without requiring a Discord token, for
// offline tooling that only touches the database.
func Read() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.DefaultLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Giveaway.MaxWinners = envInt("GIVEAWAY_MAX_WINNERS", cfg.Giveaway.MaxWinners)
	cfg.Premium.SupportGuildID = envString("PREMIUM_SUPPORT_GUILD_ID", cfg.Premium.SupportGuildID)
	cfg.Premium.RoleID = envString("PREMIUM_ROLE_ID", cfg.Premium.RoleID)
	cfg.Premium.AuthorizedIDs = envList("PREMIUM_AUTHORIZED_IDS", cfg.Premium.AuthorizedIDs)
	cfg.Premium.SweepIntervalMinutes = envInt("PREMIUM_SWEEP_INTERVAL_MINUTES", cfg.Premium.SweepIntervalMinutes)
	cfg.Revocation.GuildID = envString("REVOCATION_GUILD_ID", cfg.Revocation.GuildID)
	cfg.Revocation.RequestChannelID = envString("REVOCATION_REQUEST_CHANNEL_ID", cfg.Revocation.RequestChannelID)
	cfg.Revocation.RevokeChannelID = envString("REVOCATION_REVOKE_CHANNEL_ID", cfg.Revocation.RevokeChannelID)
	cfg.Revocation.Threshold = envInt("REVOCATION_THRESHOLD", cfg.Revocation.Threshold)
	cfg.Captcha.TimeoutSeconds = envInt("CAPTCHA_TIMEOUT_SECONDS", cfg.Captcha.TimeoutSeconds)
	cfg.Antispam.Enabled = envBool("ANTISPAM_ENABLED", cfg.Antispam.Enabled)
	cfg.Antispam.Messages = envInt("ANTISPAM_MESSAGES", cfg.Antispam.Messages)
	cfg.Antispam.WindowSeconds = envInt("ANTISPAM_WINDOW_SECONDS", cfg.Antispam.WindowSeconds)
	cfg.Antispam.MuteMinutes = envInt("ANTISPAM_MUTE_MINUTES", cfg.Antispam.MuteMinutes)
	cfg.Tickets.CloseDelaySeconds = envInt("TICKET_CLOSE_DELAY_SECONDS", cfg.Tickets.CloseDelaySeconds)
	cfg.EventLog.Enabled = envBool("EVENT_LOG_ENABLED", cfg.EventLog.Enabled)
	cfg.Activity.Enabled = envBool("ACTIVITY_ENABLED", cfg.Activity.Enabled)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
}

// normalize replaces out-of-range values with the defaults.
func normalize(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Scheduler.ReconcilePerSecond <= 0 {
		cfg.Scheduler.ReconcilePerSecond = defaults.Scheduler.ReconcilePerSecond
	}
	if cfg.Scheduler.ReconcileBurst <= 0 {
		cfg.Scheduler.ReconcileBurst = defaults.Scheduler.ReconcileBurst
	}
	if cfg.Giveaway.MaxWinners <= 0 {
		cfg.Giveaway.MaxWinners = defaults.Giveaway.MaxWinners
	}
	if cfg.Giveaway.MaxDurationDays <= 0 {
		cfg.Giveaway.MaxDurationDays = defaults.Giveaway.MaxDurationDays
	}
	if cfg.Giveaway.DefaultEmoji == "" {
		cfg.Giveaway.DefaultEmoji = defaults.Giveaway.DefaultEmoji
	}
	if cfg.Premium.SweepIntervalMinutes <= 0 {
		cfg.Premium.SweepIntervalMinutes = defaults.Premium.SweepIntervalMinutes
	}
	if cfg.Revocation.Threshold <= 0 {
		cfg.Revocation.Threshold = defaults.Revocation.Threshold
	}
	if cfg.Revocation.VoteEmoji == "" {
		cfg.Revocation.VoteEmoji = defaults.Revocation.VoteEmoji
	}
	if cfg.Revocation.AgainstEmoji == "" {
		cfg.Revocation.AgainstEmoji = defaults.Revocation.AgainstEmoji
	}
	if cfg.Revocation.MarkerEmoji == "" {
		cfg.Revocation.MarkerEmoji = defaults.Revocation.MarkerEmoji
	}
	if cfg.Captcha.TimeoutSeconds <= 0 {
		cfg.Captcha.TimeoutSeconds = defaults.Captcha.TimeoutSeconds
	}
	if cfg.Captcha.CodeLength < 4 {
		cfg.Captcha.CodeLength = defaults.Captcha.CodeLength
	}
	if cfg.Captcha.CleanupSeconds < 0 {
		cfg.Captcha.CleanupSeconds = defaults.Captcha.CleanupSeconds
	}
	if cfg.Antispam.Messages <= 1 {
		cfg.Antispam.Messages = defaults.Antispam.Messages
	}
	if cfg.Antispam.WindowSeconds <= 0 {
		cfg.Antispam.WindowSeconds = defaults.Antispam.WindowSeconds
	}
	if cfg.Antispam.MuteMinutes <= 0 {
		cfg.Antispam.MuteMinutes = defaults.Antispam.MuteMinutes
	}
	if cfg.Tickets.CloseDelaySeconds < 0 {
		cfg.Tickets.CloseDelaySeconds = defaults.Tickets.CloseDelaySeconds
	}
	if cfg.Tickets.TranscriptLimit <= 0 {
		cfg.Tickets.TranscriptLimit = defaults.Tickets.TranscriptLimit
	}
	if cfg.EventLog.MessageCache < 0 {
		cfg.EventLog.MessageCache = defaults.EventLog.MessageCache
	}
	if cfg.Activity.FlushIntervalMinutes <= 0 {
		cfg.Activity.FlushIntervalMinutes = defaults.Activity.FlushIntervalMinutes
	}
	if cfg.Activity.MembershipWindowDays <= 0 {
		cfg.Activity.MembershipWindowDays = defaults.Activity.MembershipWindowDays
	}
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
