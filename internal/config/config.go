package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"paragon-bot-go/internal/models"

	"github.com/joho/godotenv"
)

const (
	// 环境变量中的账户凭证
	EnvAccountID   = "TRADIER_ACCOUNT_ID"
	EnvAccessToken = "TRADIER_ACCESS_TOKEN"

	liveAPIURL    = "https://api.tradier.com"
	sandboxAPIURL = "https://sandbox.tradier.com"
	liveStreamURL = "wss://ws.tradier.com/v1/markets/events"
)

// LoadConfig 从指定路径加载JSON配置文件，补全默认值，读取环境变量中的凭证并校验
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	ApplyDefaults(config)
	config.AccountID = os.Getenv(EnvAccountID)
	config.AccessToken = os.Getenv(EnvAccessToken)

	return config, nil
}

// LoadEnv 加载 .env 文件（如果存在）。返回 false 表示未找到文件，此时从系统环境变量读取。
func LoadEnv(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("loading %s: %w", path, err)
	}
	return true, nil
}

// ApplyDefaults 为所有未设置的选项填入默认值
func ApplyDefaults(c *models.Config) {
	if c.APIBaseURL == "" {
		c.APIBaseURL = liveAPIURL
		if c.Sandbox {
			c.APIBaseURL = sandboxAPIURL
		}
	}
	if c.StreamURL == "" {
		c.StreamURL = liveStreamURL
	}
	if c.QuoteSource == "" {
		c.QuoteSource = "rest"
	}
	if c.PaperCash == 0 {
		c.PaperCash = 100000
	}
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}
	if c.WakeupTime == "" {
		c.WakeupTime = "03:00"
	}
	if c.TickIntervalSec == 0 {
		c.TickIntervalSec = 60
	}
	if c.HoldLeadMin == 0 {
		c.HoldLeadMin = 30
	}
	if c.LiquidateLeadMin == 0 {
		c.LiquidateLeadMin = 10
	}

	s := &c.Strategy
	if s.MinimumQuotes == 0 {
		s.MinimumQuotes = 80
	}
	if s.RSICutoff == 0 {
		s.RSICutoff = 70
	}
	if s.RSIPeriod == 0 {
		s.RSIPeriod = 7
	}
	if s.MACDFast == 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow == 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal == 0 {
		s.MACDSignal = 9
	}
	if s.BBandPeriod == 0 {
		s.BBandPeriod = 12
	}
	if s.BBandDeviations == 0 {
		s.BBandDeviations = 2
	}
	if s.TradeFraction == 0 {
		s.TradeFraction = 0.05
	}
	if s.CapitalFraction == 0 {
		s.CapitalFraction = 0.5
	}
	if s.MaxLossFraction == 0 {
		s.MaxLossFraction = 0.05
	}
	if s.ADRMultiplier == 0 {
		s.ADRMultiplier = 0.0485
	}
	if s.FixedOffset == 0 {
		s.FixedOffset = 0.01
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "badger"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/ticks"
	}

	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.LogConfig.Output == "" {
		c.LogConfig.Output = "console"
	}
}

// Validate 校验配置，返回所有问题的合并错误
func Validate(c *models.Config, needCredentials bool) error {
	var errs error

	if needCredentials {
		if c.AccountID == "" {
			errs = errors.Join(errs, fmt.Errorf("%s must be set", EnvAccountID))
		}
		if c.AccessToken == "" {
			errs = errors.Join(errs, fmt.Errorf("%s must be set", EnvAccessToken))
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = errors.Join(errs, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err))
	}
	if _, err := time.Parse(models.ClockLayout, c.WakeupTime); err != nil {
		errs = errors.Join(errs, fmt.Errorf("wakeup_time must be HH:MM, got %q", c.WakeupTime))
	}
	if c.TickIntervalSec < 1 {
		errs = errors.Join(errs, fmt.Errorf("tick_interval_sec must be positive"))
	}
	if c.LiquidateLeadMin >= c.HoldLeadMin {
		errs = errors.Join(errs, fmt.Errorf("liquidate_lead_min (%d) must be less than hold_lead_min (%d)", c.LiquidateLeadMin, c.HoldLeadMin))
	}
	if c.PaperCash < 0 {
		errs = errors.Join(errs, fmt.Errorf("paper_cash must not be negative"))
	}
	switch c.QuoteSource {
	case "rest", "stream":
	default:
		errs = errors.Join(errs, fmt.Errorf("quote_source must be rest or stream, got %q", c.QuoteSource))
	}

	s := c.Strategy
	if s.MinimumQuotes <= s.MACDSlow+s.MACDSignal {
		errs = errors.Join(errs, fmt.Errorf("minimum_quotes (%d) must exceed macd_slow+macd_signal (%d)", s.MinimumQuotes, s.MACDSlow+s.MACDSignal))
	}
	for name, f := range map[string]float64{
		"trade_fraction":    s.TradeFraction,
		"capital_fraction":  s.CapitalFraction,
		"max_loss_fraction": s.MaxLossFraction,
	} {
		if f <= 0 || f > 1 {
			errs = errors.Join(errs, fmt.Errorf("%s must be in (0, 1], got %v", name, f))
		}
	}
	// 单笔资金不小于当日交易资金时分配算法永远返回 0 股
	if s.CapitalFraction <= s.TradeFraction {
		errs = errors.Join(errs, fmt.Errorf("capital_fraction (%v) must exceed trade_fraction (%v)", s.CapitalFraction, s.TradeFraction))
	}
	if s.ADRMultiplier < 0 || s.FixedOffset < 0 {
		errs = errors.Join(errs, fmt.Errorf("adr_multiplier and fixed_offset must not be negative"))
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "badger":
		if c.Storage.Path == "" {
			errs = errors.Join(errs, fmt.Errorf("storage.path cannot be empty for badger"))
		}
	case "rqlite":
		if c.Storage.Endpoint == "" {
			errs = errors.Join(errs, fmt.Errorf("storage.endpoint cannot be empty for rqlite"))
		}
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	return errs
}
