// Package config loads and validates bot configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config captures all bot configuration knobs loaded via Viper.
type Config struct {
	Search   SearchConfig   `mapstructure:"search"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Mail     MailConfig     `mapstructure:"mail"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SearchConfig governs where postings are harvested from.
type SearchConfig struct {
	ListingURL        string   `mapstructure:"listing_url"`
	BaseURL           string   `mapstructure:"base_url"`
	Terms             []string `mapstructure:"terms"`
	UseSearch         bool     `mapstructure:"use_search"`
	Workers           int      `mapstructure:"workers"`
	MaxPages          int      `mapstructure:"max_pages"`
	SearchPauseSecond int      `mapstructure:"search_pause_seconds"`
}

// FilterConfig selects which postings are worth an application.
type FilterConfig struct {
	TargetKeywords  []string `mapstructure:"target_keywords"`
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
	MinYears        int      `mapstructure:"min_years"`
}

// DispatchConfig throttles the application sender. A daily cap of zero
// disables the cap.
type DispatchConfig struct {
	DailyCap       int  `mapstructure:"daily_cap"`
	DelaySeconds   int  `mapstructure:"delay_seconds"`
	RetryOnFailure bool `mapstructure:"retry_on_failure"`
}

// ScheduleConfig controls the cycle cadence and run window.
type ScheduleConfig struct {
	IntervalMinutes int      `mapstructure:"interval_minutes"`
	WindowStart     string   `mapstructure:"window_start"`
	WindowEnd       string   `mapstructure:"window_end"`
	Days            []string `mapstructure:"days"`
	EndOfDayHour    int      `mapstructure:"end_of_day_hour"`
	Timezone        string   `mapstructure:"timezone"`
}

// BrowserConfig configures the shared headless Chrome service.
type BrowserConfig struct {
	Headless          bool    `mapstructure:"headless"`
	UserAgent         string  `mapstructure:"user_agent"`
	MaxParallel       int     `mapstructure:"max_parallel"`
	SessionRetries    int     `mapstructure:"session_retries"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs     int     `mapstructure:"settle_delay_ms"`
	HostQPS           float64 `mapstructure:"host_qps"`
}

// MailConfig configures the SMTP sender. Subject and the body template can
// reference the job record fields; body_file points at an HTML template on
// disk so the cover letter never lives in the config file itself.
type MailConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	Subject    string `mapstructure:"subject"`
	BodyFile   string `mapstructure:"body_file"`
	ResumePath string `mapstructure:"resume_path"`
	DryRun     bool   `mapstructure:"dry_run"`
}

// LedgerConfig sets where application history is kept.
type LedgerConfig struct {
	Path          string `mapstructure:"path"`
	BackupOnReset bool   `mapstructure:"backup_on_reset"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APPLYBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.listing_url", "https://jobs.nvoids.com/search_sph.jsp")
	v.SetDefault("search.use_search", false)
	v.SetDefault("search.workers", 3)
	v.SetDefault("search.max_pages", 5)
	v.SetDefault("search.search_pause_seconds", 5)
	v.SetDefault("filter.min_years", 0)
	v.SetDefault("dispatch.daily_cap", 1000)
	v.SetDefault("dispatch.delay_seconds", 10)
	v.SetDefault("dispatch.retry_on_failure", false)
	v.SetDefault("schedule.interval_minutes", 60)
	v.SetDefault("schedule.window_start", "09:00")
	v.SetDefault("schedule.window_end", "18:00")
	v.SetDefault("schedule.days", []string{"mon", "tue", "wed", "thu", "fri"})
	v.SetDefault("schedule.end_of_day_hour", 22)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", defaultUserAgent)
	v.SetDefault("browser.max_parallel", 3)
	v.SetDefault("browser.session_retries", 3)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.settle_delay_ms", 500)
	v.SetDefault("browser.host_qps", 0.5)
	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.dry_run", true)
	v.SetDefault("ledger.path", "data/applied_jobs.csv")
	v.SetDefault("ledger.backup_on_reset", true)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Search.Workers <= 0 {
		return fmt.Errorf("search.workers must be > 0")
	}
	if c.Search.MaxPages <= 0 {
		return fmt.Errorf("search.max_pages must be > 0")
	}
	if c.Search.UseSearch && c.Search.BaseURL == "" {
		return fmt.Errorf("search.base_url must be set when search.use_search is true")
	}
	if !c.Search.UseSearch && c.Search.ListingURL == "" {
		return fmt.Errorf("search.listing_url must be set when search.use_search is false")
	}
	if c.Filter.MinYears < 0 {
		return fmt.Errorf("filter.min_years must be >= 0")
	}
	if c.Dispatch.DailyCap < 0 {
		return fmt.Errorf("dispatch.daily_cap must be >= 0")
	}
	if c.Dispatch.DelaySeconds < 0 {
		return fmt.Errorf("dispatch.delay_seconds must be >= 0")
	}
	if c.Schedule.IntervalMinutes <= 0 {
		return fmt.Errorf("schedule.interval_minutes must be > 0")
	}
	if c.Schedule.EndOfDayHour < 1 || c.Schedule.EndOfDayHour > 23 {
		return fmt.Errorf("schedule.end_of_day_hour must be 1..23")
	}
	if _, err := c.Schedule.Weekdays(); err != nil {
		return err
	}
	if _, err := c.Schedule.Location(); err != nil {
		return err
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path must be set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !c.Mail.DryRun {
		if c.Mail.From == "" {
			return fmt.Errorf("mail.from must be set when mail.dry_run is false")
		}
		if c.Mail.Host == "" {
			return fmt.Errorf("mail.host must be set when mail.dry_run is false")
		}
	}
	return nil
}

// Pause converts the between-terms delay into a duration.
func (c SearchConfig) Pause() time.Duration {
	return time.Duration(c.SearchPauseSecond) * time.Second
}

// Delay converts the inter-send delay into a duration.
func (c DispatchConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}

// Interval converts the cycle interval into a duration.
func (c ScheduleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Weekdays resolves the configured day names. Full names are accepted; only
// the first three letters matter.
func (c ScheduleConfig) Weekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(c.Days))
	for _, raw := range c.Days {
		name := strings.ToLower(strings.TrimSpace(raw))
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("schedule.days: unknown weekday %q", raw)
		}
		out = append(out, d)
	}
	return out, nil
}

// Location resolves the schedule timezone, defaulting to the system zone.
func (c ScheduleConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// NavTimeout converts the navigation budget into a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// SettleDelay converts the post-load settle delay into a duration.
func (c BrowserConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// Body returns the cover letter template, reading body_file when set.
func (c MailConfig) Body() (string, error) {
	if c.BodyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.BodyFile)
	if err != nil {
		return "", fmt.Errorf("mail.body_file: %w", err)
	}
	return string(data), nil
}
