package config

import (
	"context"
	"sync/atomic"
	"time"

	jlconfig "github.com/JeremyLoy/config"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"arena-ladder/models"
)

// Settings are the runtime flags read by the ladder services.
type Settings struct {
	DatabaseURL string `config:"DATABASE_URL"`
	RedisAddr   string `config:"REDIS_ADDR"`
	Port        string `config:"PORT"`
	PrettyLogs  bool   `config:"PRETTY_LOGS"`

	AllowedOrigins string `config:"ALLOWED_ORIGINS"`

	GatewayToken      string `config:"GATEWAY_TOKEN"`
	DiscordWebhookURL string `config:"DISCORD_WEBHOOK_URL"`
	ProfileSyncURL    string `config:"PROFILE_SYNC_URL"`
	ServiceToken      string `config:"SERVICE_TOKEN"`

	BlobBackend string `config:"BLOB_BACKEND"` // "r2" or "bolt"
	BoltPath    string `config:"BOLT_PATH"`
	R2AccountID string `config:"R2_ACCOUNT_ID"`
	R2AccessKey string `config:"R2_ACCESS_KEY_ID"`
	R2SecretKey string `config:"R2_SECRET_ACCESS_KEY"`
	R2Bucket    string `config:"R2_BUCKET"`

	LadderEnabled                  bool `config:"LADDER_ENABLED"`
	ReissueUnfinishedMatches       bool `config:"REISSUE_UNFINISHED_MATCHES"`
	BotConsecutiveCrashLimit       int  `config:"BOT_CONSECUTIVE_CRASH_LIMIT"`
	EloSanityCheck                 bool `config:"ELO_SANITY_CHECK"`
	EloStartValue                  int  `config:"ELO_START_VALUE"`
	PriorityCacheTTLSeconds        int  `config:"PRIORITY_CACHE_TTL_SECONDS"`
	NoGameCacheTTLSeconds          int  `config:"NO_GAME_CACHE_TTL_SECONDS"`
	MatchTimeoutMinutes            int  `config:"MATCH_TIMEOUT_MINUTES"`
	MaxRequestedMatches            int  `config:"MAX_REQUESTED_MATCHES"`
	RequestedMatchesRequireTrusted bool `config:"REQUESTED_MATCHES_REQUIRE_TRUSTED"`
	ConfigReloadIntervalSeconds    int  `config:"CONFIG_RELOAD_INTERVAL_SECONDS"`
	OvertimeSweepIntervalSeconds   int  `config:"OVERTIME_SWEEP_INTERVAL_SECONDS"`
	UserSyncIntervalSeconds        int  `config:"USER_SYNC_INTERVAL_SECONDS"`
}

func Defaults() Settings {
	return Settings{
		Port:                         "8080",
		AllowedOrigins:               "http://localhost:3000",
		BlobBackend:                  "bolt",
		BoltPath:                     "ladder-blobs.db",
		LadderEnabled:                true,
		ReissueUnfinishedMatches:     true,
		BotConsecutiveCrashLimit:     0,
		EloSanityCheck:               false,
		EloStartValue:                1600,
		PriorityCacheTTLSeconds:      60,
		NoGameCacheTTLSeconds:        10,
		MatchTimeoutMinutes:          60,
		MaxRequestedMatches:          20,
		ConfigReloadIntervalSeconds:  60,
		OvertimeSweepIntervalSeconds: 60,
		UserSyncIntervalSeconds:      60,
	}
}

func (s Settings) PriorityCacheTTL() time.Duration {
	return time.Duration(s.PriorityCacheTTLSeconds) * time.Second
}

func (s Settings) NoGameCacheTTL() time.Duration {
	return time.Duration(s.NoGameCacheTTLSeconds) * time.Second
}

func (s Settings) interval(seconds int) time.Duration {
	if seconds <= 0 {
		return time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func (s Settings) ConfigReloadInterval() time.Duration { return s.interval(s.ConfigReloadIntervalSeconds) }

func (s Settings) OvertimeSweepInterval() time.Duration {
	return s.interval(s.OvertimeSweepIntervalSeconds)
}

func (s Settings) UserSyncInterval() time.Duration { return s.interval(s.UserSyncIntervalSeconds) }

func (s Settings) MatchTimeout() time.Duration {
	return time.Duration(s.MatchTimeoutMinutes) * time.Minute
}

// Provider hands out the current settings snapshot.
type Provider interface {
	Settings() Settings
}

// Static is a fixed Provider.
type Static Settings

func (s Static) Settings() Settings { return Settings(s) }

// FromEnv loads .env (if present) and the process environment over Defaults.
func FromEnv() (Settings, error) {
	if err := godotenv.Overload(); err != nil {
		log.Debug().Str("component", "config").Msg("[Config] no .env file, using process environment")
	}
	s := Defaults()
	if err := jlconfig.FromEnv().To(&s); err != nil {
		return s, eris.Wrap(err, "failed to read environment")
	}
	return s, nil
}

// Store is a hot-reloadable Provider. Values in the site_settings table
// override the environment.
type Store struct {
	DB      *gorm.DB
	current atomic.Pointer[Settings]
}

func NewStore(db *gorm.DB, initial Settings) *Store {
	st := &Store{DB: db}
	st.current.Store(&initial)
	return st
}

func (st *Store) Settings() Settings {
	return *st.current.Load()
}

// Reload re-reads the environment and the overrides table and swaps the
// snapshot. On failure the previous snapshot stays in place.
func (st *Store) Reload(ctx context.Context) error {
	s, err := FromEnv()
	if err != nil {
		return err
	}
	if st.DB != nil {
		var overrides []models.SiteSetting
		if err := st.DB.WithContext(ctx).Find(&overrides).Error; err != nil {
			return eris.Wrap(err, "failed to load site settings")
		}
		for _, o := range overrides {
			if err := applyOverride(&s, o.Key, o.Value); err != nil {
				log.Warn().Err(err).Str("component", "config").Str("key", o.Key).Msg("[Config] ignoring site setting")
			}
		}
	}
	st.current.Store(&s)
	return nil
}

func applyOverride(s *Settings, key, value string) error {
	switch key {
	case "LADDER_ENABLED":
		return setBool(&s.LadderEnabled, value)
	case "REISSUE_UNFINISHED_MATCHES":
		return setBool(&s.ReissueUnfinishedMatches, value)
	case "BOT_CONSECUTIVE_CRASH_LIMIT":
		return setInt(&s.BotConsecutiveCrashLimit, value)
	case "ELO_SANITY_CHECK":
		return setBool(&s.EloSanityCheck, value)
	case "PRIORITY_CACHE_TTL_SECONDS":
		return setInt(&s.PriorityCacheTTLSeconds, value)
	case "NO_GAME_CACHE_TTL_SECONDS":
		return setInt(&s.NoGameCacheTTLSeconds, value)
	case "MATCH_TIMEOUT_MINUTES":
		return setInt(&s.MatchTimeoutMinutes, value)
	case "MAX_REQUESTED_MATCHES":
		return setInt(&s.MaxRequestedMatches, value)
	case "REQUESTED_MATCHES_REQUIRE_TRUSTED":
		return setBool(&s.RequestedMatchesRequireTrusted, value)
	}
	return eris.Errorf("unknown setting %q", key)
}

func setBool(dst *bool, value string) error {
	v, err := cast.ToBoolE(value)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setInt(dst *int, value string) error {
	v, err := cast.ToIntE(value)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
