// Package config loads run settings from .env, an optional config file and
// VOLSMILE_* environment variables, and builds the components they describe.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bcdannyboy/volsmile/cache"
	"github.com/bcdannyboy/volsmile/calendar"
	"github.com/bcdannyboy/volsmile/engine"
	"github.com/bcdannyboy/volsmile/smile"
	"github.com/bcdannyboy/volsmile/tradier"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOLSMILE"

type Config struct {
	Tradier    TradierConfig    `mapstructure:"tradier"`
	Slack      SlackConfig      `mapstructure:"slack"`
	Run        RunConfig        `mapstructure:"run"`
	Calendar   CalendarConfig   `mapstructure:"calendar"`
	Quotes     QuotesConfig     `mapstructure:"quotes"`
	Parametric ParametricConfig `mapstructure:"parametric"`
	Transform  TransformConfig  `mapstructure:"transform"`
	Greeks     GreeksConfig     `mapstructure:"greeks"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Engine     EngineConfig     `mapstructure:"engine"`
}

type TradierConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

type SlackConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	AppToken string `mapstructure:"app_token"`
	BotToken string `mapstructure:"bot_token"`
}

type RunConfig struct {
	Symbols []string `mapstructure:"symbols"`
	MinDTE  int      `mapstructure:"min_dte"`
	MaxDTE  int      `mapstructure:"max_dte"`
	Output  string   `mapstructure:"output"`
}

type SessionConfig struct {
	Name   string  `mapstructure:"name"`
	Start  string  `mapstructure:"start"`
	End    string  `mapstructure:"end"`
	Weight float64 `mapstructure:"weight"`
}

type CalendarConfig struct {
	Model         string          `mapstructure:"model"`
	Timezone      string          `mapstructure:"timezone"`
	Holidays      []string        `mapstructure:"holidays"`
	ReferenceYear int             `mapstructure:"reference_year"`
	Sessions      []SessionConfig `mapstructure:"sessions"`
}

type QuotesConfig struct {
	Mode        string  `mapstructure:"mode"`
	Nudge       float64 `mapstructure:"nudge"`
	TickSize    float64 `mapstructure:"tick_size"`
	AskFallback bool    `mapstructure:"ask_fallback"`
	VolCeiling  float64 `mapstructure:"vol_ceiling"`
	MinStrike   float64 `mapstructure:"min_strike"`
	MaxStrike   float64 `mapstructure:"max_strike"`
}

type ParametricConfig struct {
	Exponent      float64 `mapstructure:"exponent"`
	HalfCount     int     `mapstructure:"half_count"`
	DensityFactor float64 `mapstructure:"density_factor"`
	WidthSigmas   float64 `mapstructure:"width_sigmas"`
	TailCount     int     `mapstructure:"tail_count"`
	TailLength    float64 `mapstructure:"tail_length"`
}

type TransformConfig struct {
	Mode   string  `mapstructure:"mode"`
	Weight float64 `mapstructure:"weight"`
	Shift  float64 `mapstructure:"shift"`
}

type GreeksConfig struct {
	BumpSigma float64 `mapstructure:"bump_sigma"`
	BumpDays  float64 `mapstructure:"bump_days"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
	// Throttle forwards only every n-th series append; 0 or 1 disables it.
	Throttle int `mapstructure:"throttle"`
}

type EngineConfig struct {
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
	Rescale      bool    `mapstructure:"rescale"`
	Concurrency  int     `mapstructure:"concurrency"`
	Unattended   bool    `mapstructure:"unattended"`
}

func setDefaults(v *viper.Viper) {
	qo := smile.DefaultQuoteOptions()
	mo := smile.DefaultModelOptions()
	eo := engine.DefaultOptions()

	v.SetDefault("tradier.token", "")
	v.SetDefault("tradier.base_url", tradier.DefaultBaseURL)
	v.SetDefault("slack.enabled", false)
	v.SetDefault("slack.app_token", "")
	v.SetDefault("slack.bot_token", "")

	v.SetDefault("run.symbols", []string{"SPY"})
	v.SetDefault("run.min_dte", 5)
	v.SetDefault("run.max_dte", 45)
	v.SetDefault("run.output", "smiles.json")

	v.SetDefault("calendar.model", calendar.Calendar.String())
	v.SetDefault("calendar.timezone", "America/New_York")
	v.SetDefault("calendar.holidays", []string{})
	v.SetDefault("calendar.reference_year", calendar.DefaultReferenceYear)
	v.SetDefault("calendar.sessions", []SessionConfig{})

	v.SetDefault("quotes.mode", qo.Mode.String())
	v.SetDefault("quotes.nudge", qo.Nudge)
	v.SetDefault("quotes.tick_size", qo.TickSize)
	v.SetDefault("quotes.ask_fallback", qo.AskFallback)
	v.SetDefault("quotes.vol_ceiling", qo.VolCeiling)
	v.SetDefault("quotes.min_strike", 0.0)
	v.SetDefault("quotes.max_strike", 0.0)

	v.SetDefault("parametric.exponent", mo.Exponent)
	v.SetDefault("parametric.half_count", mo.HalfCount)
	v.SetDefault("parametric.density_factor", mo.DensityFactor)
	v.SetDefault("parametric.width_sigmas", mo.WidthSigmas)
	v.SetDefault("parametric.tail_count", mo.TailCount)
	v.SetDefault("parametric.tail_length", mo.TailLength)

	v.SetDefault("transform.mode", smile.Identity.String())
	v.SetDefault("transform.weight", 0.0)
	v.SetDefault("transform.shift", 0.0)

	v.SetDefault("greeks.bump_sigma", eo.BumpSigma)
	v.SetDefault("greeks.bump_days", eo.BumpDays)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.sqlite_path", "data/volsmile.db")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_prefix", "volsmile:")
	v.SetDefault("cache.redis_ttl", time.Duration(0))
	v.SetDefault("cache.throttle", 0)

	v.SetDefault("engine.risk_free_rate", eo.RiskFreeRate)
	v.SetDefault("engine.rescale", false)
	v.SetDefault("engine.concurrency", eo.Concurrency)
	v.SetDefault("engine.unattended", false)
}

// Load reads .env (when present), then path (when non-empty) and finally
// VOLSMILE_* variables, e.g. VOLSMILE_TRADIER_TOKEN. The legacy TRADIER_KEY
// variable is honoured when no token is configured.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Tradier.Token == "" {
		cfg.Tradier.Token = os.Getenv("TRADIER_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := calendar.ParseModel(c.Calendar.Model); err != nil {
		return fmt.Errorf("calendar.model: %w", err)
	}
	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		return fmt.Errorf("calendar.timezone: %w", err)
	}
	if _, err := calendar.ParseHolidays(c.Calendar.Holidays); err != nil {
		return fmt.Errorf("calendar.holidays: %w", err)
	}
	for _, s := range c.Calendar.Sessions {
		if _, err := calendar.ParseSession(s.Name, s.Start, s.End, s.Weight); err != nil {
			return fmt.Errorf("calendar.sessions: %w", err)
		}
	}
	if _, err := smile.ParsePriceMode(c.Quotes.Mode); err != nil {
		return fmt.Errorf("quotes.mode: %w", err)
	}
	if c.Quotes.Nudge < 0 || c.Quotes.TickSize < 0 {
		return errors.New("quotes.nudge and quotes.tick_size must not be negative")
	}
	if !(c.Quotes.VolCeiling > 0) {
		return errors.New("quotes.vol_ceiling must be positive")
	}
	if c.Quotes.MaxStrike > 0 && c.Quotes.MaxStrike < c.Quotes.MinStrike {
		return errors.New("quotes.max_strike is below quotes.min_strike")
	}
	if _, err := smile.ParseTransformMode(c.Transform.Mode); err != nil {
		return fmt.Errorf("transform.mode: %w", err)
	}
	if c.Transform.Weight < 0 || c.Transform.Weight > 1 {
		return errors.New("transform.weight must be within [0, 1]")
	}
	if !(c.Greeks.BumpSigma > 0) || !(c.Greeks.BumpDays > 0) {
		return errors.New("greeks bumps must be positive")
	}
	if c.Parametric.HalfCount < 0 || c.Parametric.TailCount < 0 {
		return errors.New("parametric counts must not be negative")
	}
	if !(c.Parametric.TailLength > 0) {
		return errors.New("parametric.tail_length must be positive")
	}
	if c.Run.MinDTE < 0 || c.Run.MaxDTE < c.Run.MinDTE {
		return fmt.Errorf("invalid DTE window [%d, %d]", c.Run.MinDTE, c.Run.MaxDTE)
	}
	if c.Engine.Concurrency <= 0 {
		return errors.New("engine.concurrency must be positive")
	}
	switch c.Cache.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Slack.Enabled && (c.Slack.AppToken == "" || c.Slack.BotToken == "") {
		return errors.New("slack is enabled without app and bot tokens")
	}
	return nil
}

// CalendarEngine builds the time engine described by the calendar section.
func (c *Config) CalendarEngine() (*calendar.Engine, error) {
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return nil, err
	}
	holidays, err := calendar.ParseHolidays(c.Calendar.Holidays)
	if err != nil {
		return nil, err
	}
	var sessions []calendar.Session
	for _, s := range c.Calendar.Sessions {
		sess, err := calendar.ParseSession(s.Name, s.Start, s.End, s.Weight)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return calendar.New(
		calendar.WithLocation(loc),
		calendar.WithHolidays(holidays...),
		calendar.WithSessions(sessions),
		calendar.WithReferenceYear(c.Calendar.ReferenceYear),
	), nil
}

func (c *Config) EngineOptions() (engine.Options, error) {
	model, err := calendar.ParseModel(c.Calendar.Model)
	if err != nil {
		return engine.Options{}, err
	}
	mode, err := smile.ParsePriceMode(c.Quotes.Mode)
	if err != nil {
		return engine.Options{}, err
	}
	transform, err := smile.ParseTransformMode(c.Transform.Mode)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Model:        model,
		Rescale:      c.Engine.Rescale,
		RiskFreeRate: c.Engine.RiskFreeRate,
		Transform:    transform,
		Weight:       c.Transform.Weight,
		Shift:        c.Transform.Shift,
		BumpSigma:    c.Greeks.BumpSigma,
		BumpDays:     c.Greeks.BumpDays,
		Concurrency:  c.Engine.Concurrency,
		Unattended:   c.Engine.Unattended,
		Quotes: smile.QuoteOptions{
			Mode:        mode,
			Nudge:       c.Quotes.Nudge,
			TickSize:    c.Quotes.TickSize,
			AskFallback: c.Quotes.AskFallback,
			VolCeiling:  c.Quotes.VolCeiling,
			MinStrike:   c.Quotes.MinStrike,
			MaxStrike:   c.Quotes.MaxStrike,
		},
		Parametric: smile.ModelOptions{
			Exponent:      c.Parametric.Exponent,
			HalfCount:     c.Parametric.HalfCount,
			DensityFactor: c.Parametric.DensityFactor,
			WidthSigmas:   c.Parametric.WidthSigmas,
			TailCount:     c.Parametric.TailCount,
			TailLength:    c.Parametric.TailLength,
		},
	}, nil
}

// OpenStore connects the configured cache backend. The returned close
// function releases its connections.
func (c *Config) OpenStore(ctx context.Context, logger *logrus.Logger) (cache.Store, func() error, error) {
	var (
		store   cache.Store
		closeFn = func() error { return nil }
	)
	switch c.Cache.Backend {
	case "memory":
		store = cache.NewMemory()
	case "sqlite":
		s, err := cache.NewSQLite(c.Cache.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = s, s.Close
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Cache.RedisAddr,
			Password: c.Cache.RedisPassword,
			DB:       c.Cache.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		store, closeFn = cache.NewRedis(client, c.Cache.RedisPrefix, c.Cache.RedisTTL), client.Close
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if logger != nil {
		logger.WithField("backend", c.Cache.Backend).Info("Cache store ready")
	}
	if c.Cache.Throttle > 1 {
		store = cache.NewThrottled(store, c.Cache.Throttle)
	}
	return store, closeFn, nil
}
