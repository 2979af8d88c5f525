package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Broker       BrokerConfig       `mapstructure:"broker"`
	CatalogSync  CatalogSyncConfig  `mapstructure:"catalog_sync"`
	TokenRefresh TokenRefreshConfig `mapstructure:"token_refresh"`
	Automation   AutomationConfig   `mapstructure:"automation"`
	Portfolio    PortfolioConfig    `mapstructure:"portfolio"`
	QuoteStream  QuoteStreamConfig  `mapstructure:"quote_stream"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CatalogSync  string `mapstructure:"catalog_sync"`
	TokenRefresh string `mapstructure:"token_refresh"`
	Automation   string `mapstructure:"automation"`
	HistoryPrune string `mapstructure:"history_prune"`
	QuoteRefresh string `mapstructure:"quote_refresh"`
}

type BrokerConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Pause between consecutive per-symbol calls in batched loops.
	SymbolPause time.Duration `mapstructure:"symbol_pause"`
}

type CatalogSyncConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	PageLimit int  `mapstructure:"page_limit"`
}

type TokenRefreshConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	HistoryRetentionDays int           `mapstructure:"history_retention_days"`
}

type AutomationConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	TradeFetchMode string `mapstructure:"trade_fetch_mode"`
	TradeLimit     int    `mapstructure:"trade_limit"`
}

type PortfolioConfig struct {
	// Opt-in prefix matching when resolving holdings by clean base symbol.
	PrefixMatching bool `mapstructure:"prefix_matching"`
}

type QuoteStreamConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Symbols        []string      `mapstructure:"symbols"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.catalog_sync", "0 0 */6 * * *")
	v.SetDefault("cron.token_refresh", "0 */5 * * * *")
	v.SetDefault("cron.automation", "0 * * * * *")
	v.SetDefault("cron.history_prune", "0 30 3 * * *")
	v.SetDefault("cron.quote_refresh", "0 */10 * * * *")
	v.SetDefault("broker.timeout", "30s")
	v.SetDefault("broker.symbol_pause", "100ms")
	v.SetDefault("catalog_sync.enabled", true)
	v.SetDefault("catalog_sync.page_limit", 500)
	v.SetDefault("token_refresh.enabled", true)
	v.SetDefault("token_refresh.max_retries", 5)
	v.SetDefault("token_refresh.retry_delay", "3m")
	v.SetDefault("token_refresh.history_retention_days", 30)
	v.SetDefault("automation.enabled", true)
	v.SetDefault("automation.trade_fetch_mode", "auto")
	v.SetDefault("automation.trade_limit", 100)
	v.SetDefault("portfolio.prefix_matching", false)
	v.SetDefault("quote_stream.enabled", false)
	v.SetDefault("quote_stream.url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("quote_stream.reconnect_delay", "5s")
	v.SetDefault("telegram.enabled", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
