package models

import "time"

// Config 结构体定义了交易机器人的所有配置参数
type Config struct {
	AccountID   string  `json:"-"`            // Tradier 账户号，从环境变量读取
	AccessToken string  `json:"-"`            // Tradier API Token，从环境变量读取
	Sandbox     bool    `json:"sandbox"`      // 是否使用沙盒环境
	APIBaseURL  string  `json:"api_base_url"` // REST API 基础地址
	StreamURL   string  `json:"stream_url"`   // 行情 WebSocket 地址
	QuoteSource string  `json:"quote_source"` // 行情来源: "rest" 或 "stream"
	DryRun      bool    `json:"dry_run"`      // 模拟下单：行情来自经纪商，订单由模拟交易所撮合
	PaperCash   float64 `json:"paper_cash"`   // 模拟下单和回测的初始资金(美元)

	Timezone         string `json:"timezone"`           // 交易所时区, e.g., "America/New_York"
	WakeupTime       string `json:"wakeup_time"`        // 每日读取交易日历的时间, e.g., "03:00"
	TickIntervalSec  int    `json:"tick_interval_sec"`  // 每个 tick 的间隔(秒)
	HoldLeadMin      int    `json:"hold_lead_min"`      // 收盘前多少分钟停止开新仓
	LiquidateLeadMin int    `json:"liquidate_lead_min"` // 收盘前多少分钟强制平仓

	Strategy  StrategyConfig `json:"strategy"`
	Storage   StorageConfig  `json:"storage"`
	LogConfig LogConfig      `json:"log"`
}

// StrategyConfig 定义了买卖及资金分配算法的常量
type StrategyConfig struct {
	MinimumQuotes   int     `json:"minimum_quotes"`    // 计算指标所需的最少报价数
	RSICutoff       float64 `json:"rsi_cutoff"`        // 买入所需的最低 RSI
	RSIPeriod       int     `json:"rsi_period"`        // RSI 周期
	MACDFast        int     `json:"macd_fast"`         // MACD 快线周期
	MACDSlow        int     `json:"macd_slow"`         // MACD 慢线周期
	MACDSignal      int     `json:"macd_signal"`       // MACD 信号线周期
	BBandPeriod     int     `json:"bband_period"`      // 布林带周期
	BBandDeviations float64 `json:"bband_deviations"`  // 布林带标准差倍数
	TradeFraction   float64 `json:"trade_fraction"`    // 单笔交易占总权益的比例
	CapitalFraction float64 `json:"capital_fraction"`  // 当日交易资金占总权益的比例
	MaxLossFraction float64 `json:"max_loss_fraction"` // 当日最大亏损占总权益的比例
	ADRMultiplier   float64 `json:"adr_multiplier"`    // Divorce 算法的 ADR 乘数
	FixedOffset     float64 `json:"fixed_offset"`      // Divorce 算法的固定偏移(美元)
}

// StorageConfig 定义了 tick 数据的持久化方式
type StorageConfig struct {
	Backend  string `json:"backend"`  // "badger" 或 "rqlite"
	Path     string `json:"path"`     // BadgerDB 数据目录
	Endpoint string `json:"endpoint"` // rqlite 地址
	User     string `json:"user"`
	Pass     string `json:"pass"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// TickInterval 返回 tick 间隔
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}

// HoldLead 返回停止开新仓的提前量
func (c *Config) HoldLead() time.Duration {
	return time.Duration(c.HoldLeadMin) * time.Minute
}

// LiquidateLead 返回强制平仓的提前量
func (c *Config) LiquidateLead() time.Duration {
	return time.Duration(c.LiquidateLeadMin) * time.Minute
}
