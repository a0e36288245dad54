package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Chain      ChainConfig
	Trading    TradingConfig
	Aggregator AggregatorConfig
	Telegram   TelegramConfig
	Redis      RedisConfig
	Log        LogConfig
}

type ChainConfig struct {
	WSEndpoint    string
	HTTPEndpoint  string
	ChainID       int64
	PrivateKey    string
	WrappedNative string
}

type TradingConfig struct {
	TargetWallets      []string
	Routers            []string
	BuyAmountUSD       float64
	NativeUSDPrice     float64
	BalanceBufferPct   float64
	CooldownSec        int
	SellRetries        int
	SellRetryDelaySec  int
	ReceiptAttempts    int
	ReceiptIntervalSec int
	ShutdownTimeoutSec int
	LedgerPath         string
}

type AggregatorConfig struct {
	BaseURL string
	APIKey  string
}

type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type LogConfig struct {
	Level      string
	Format     string
	Output     string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Load() (*Config, error) {
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.ReadInConfig()

	cfg := &Config{}

	cfg.Chain = ChainConfig{
		WSEndpoint:    envSub("chain.ws_endpoint"),
		HTTPEndpoint:  envSub("chain.http_endpoint"),
		ChainID:       viper.GetInt64("chain.chain_id"),
		PrivateKey:    envSub("chain.private_key"),
		WrappedNative: viper.GetString("chain.wrapped_native"),
	}

	cfg.Trading = TradingConfig{
		TargetWallets:      viper.GetStringSlice("trading.target_wallets"),
		Routers:            viper.GetStringSlice("trading.routers"),
		BuyAmountUSD:       viper.GetFloat64("trading.buy_amount_usd"),
		NativeUSDPrice:     viper.GetFloat64("trading.native_usd_price"),
		BalanceBufferPct:   viper.GetFloat64("trading.balance_buffer_pct"),
		CooldownSec:        viper.GetInt("trading.cooldown_sec"),
		SellRetries:        viper.GetInt("trading.sell_retries"),
		SellRetryDelaySec:  viper.GetInt("trading.sell_retry_delay_sec"),
		ReceiptAttempts:    viper.GetInt("trading.receipt_attempts"),
		ReceiptIntervalSec: viper.GetInt("trading.receipt_interval_sec"),
		ShutdownTimeoutSec: viper.GetInt("trading.shutdown_timeout_sec"),
		LedgerPath:         viper.GetString("trading.ledger_path"),
	}

	cfg.Aggregator = AggregatorConfig{
		BaseURL: viper.GetString("aggregator.base_url"),
		APIKey:  envSub("aggregator.api_key"),
	}

	cfg.Telegram = TelegramConfig{
		Enabled:  viper.GetBool("telegram.enabled"),
		BotToken: envSub("telegram.bot_token"),
		ChatID:   envSub("telegram.chat_id"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  viper.GetBool("redis.enabled"),
		Address:  viper.GetString("redis.address"),
		Password: envSub("redis.password"),
		DB:       viper.GetInt("redis.db"),
	}

	cfg.Log = LogConfig{
		Level:      viper.GetString("log.level"),
		Format:     viper.GetString("log.format"),
		Output:     viper.GetString("log.output"),
		MaxSize:    viper.GetInt("log.max_size"),
		MaxBackups: viper.GetInt("log.max_backups"),
		MaxAge:     viper.GetInt("log.max_age"),
		Compress:   viper.GetBool("log.compress"),
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Trading.BalanceBufferPct == 0 {
		cfg.Trading.BalanceBufferPct = 5
	}
	if cfg.Trading.CooldownSec == 0 {
		cfg.Trading.CooldownSec = 60
	}
	if cfg.Trading.SellRetries == 0 {
		cfg.Trading.SellRetries = 3
	}
	if cfg.Trading.SellRetryDelaySec == 0 {
		cfg.Trading.SellRetryDelaySec = 5
	}
	if cfg.Trading.ReceiptAttempts == 0 {
		cfg.Trading.ReceiptAttempts = 10
	}
	if cfg.Trading.ReceiptIntervalSec == 0 {
		cfg.Trading.ReceiptIntervalSec = 2
	}
	if cfg.Trading.ShutdownTimeoutSec == 0 {
		cfg.Trading.ShutdownTimeoutSec = 30
	}
	if cfg.Trading.LedgerPath == "" {
		cfg.Trading.LedgerPath = "positions.json"
	}
	if cfg.Aggregator.BaseURL == "" {
		cfg.Aggregator.BaseURL = "https://api.0x.org"
	}
}

func validate(cfg *Config) error {
	if cfg.Chain.WSEndpoint == "" {
		return fmt.Errorf("chain.ws_endpoint is required")
	}
	if cfg.Chain.HTTPEndpoint == "" {
		return fmt.Errorf("chain.http_endpoint is required")
	}
	if cfg.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if cfg.Chain.PrivateKey == "" {
		return fmt.Errorf("chain.private_key is required")
	}
	if cfg.Chain.WrappedNative == "" {
		return fmt.Errorf("chain.wrapped_native is required")
	}
	if len(cfg.Trading.TargetWallets) == 0 {
		return fmt.Errorf("trading.target_wallets must list at least one address")
	}
	if cfg.Trading.BuyAmountUSD <= 0 {
		return fmt.Errorf("trading.buy_amount_usd must be positive")
	}
	if cfg.Trading.NativeUSDPrice <= 0 {
		return fmt.Errorf("trading.native_usd_price must be positive")
	}
	return nil
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
