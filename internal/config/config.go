// Package config
package config

import (
	"fmt"
	"sort"
	"time"
)

/*
YAML config example:
strategy_name: "split"
ledger_file: "split-ledger.json"
initial_equity: 10000000
total_budget: 6000000
symbols: ["005930", "000660"]
stocks:
  "005930":
    name: "Samsung Electronics"
    type: "value"
    weight: 0.5
    hold_profit_target: 10
    quick_profit_target: 6
    stop_loss_override: { position_1: -0.12, position_2: -0.18, position_3_plus: -0.22 }
execution:
  buy_poll_interval: "3s"
  buy_timeout: "90s"
broker:
  kind: "paper"
storage:
  driver: "sqlite"
  dsn: "split-journal.db"
...
*/

// Duration is a time.Duration that reads and writes as "90s", "30m" in every
// supported config format.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// InstrumentType drives the cooldown base and factor for a stock.
type InstrumentType string

const (
	Growth  InstrumentType = "growth"
	Value   InstrumentType = "value"
	General InstrumentType = ""
)

func (t InstrumentType) Valid() bool {
	switch t {
	case Growth, Value, General:
		return true
	}
	return false
}

// StopLossTable holds stop-loss bases per tranche position as negative fractions.
type StopLossTable struct {
	Position1     float64 `yaml:"position_1" toml:"position_1" json:"position_1"`
	Position2     float64 `yaml:"position_2" toml:"position_2" json:"position_2"`
	Position3Plus float64 `yaml:"position_3_plus" toml:"position_3_plus" json:"position_3_plus"`
}

// Base returns the base threshold for a 1-based tranche count.
func (t StopLossTable) Base(position int) float64 {
	switch {
	case position <= 1:
		return t.Position1
	case position == 2:
		return t.Position2
	default:
		return t.Position3Plus
	}
}

// RegimeTable holds one value per market regime.
type RegimeTable struct {
	StrongDowntrend float64 `yaml:"strong_downtrend" toml:"strong_downtrend" json:"strong_downtrend"`
	Downtrend       float64 `yaml:"downtrend" toml:"downtrend" json:"downtrend"`
	Neutral         float64 `yaml:"neutral" toml:"neutral" json:"neutral"`
	Uptrend         float64 `yaml:"uptrend" toml:"uptrend" json:"uptrend"`
	StrongUptrend   float64 `yaml:"strong_uptrend" toml:"strong_uptrend" json:"strong_uptrend"`
}

// VolatilityStep applies Adjust when volatility exceeds Above (percent).
type VolatilityStep struct {
	Above  float64 `yaml:"above" toml:"above" json:"above"`
	Adjust float64 `yaml:"adjust" toml:"adjust" json:"adjust"`
}

// TimeTier tightens the stop-loss to Threshold once a position is held MinDays.
type TimeTier struct {
	MinDays   int     `yaml:"min_days" toml:"min_days" json:"min_days"`
	Threshold float64 `yaml:"threshold" toml:"threshold" json:"threshold"`
}

type StopLossConfig struct {
	Base             StopLossTable  `yaml:"base" toml:"base" json:"base"`
	HighVolatility   VolatilityStep `yaml:"high_volatility" toml:"high_volatility" json:"high_volatility"`
	MediumVolatility VolatilityStep `yaml:"medium_volatility" toml:"medium_volatility" json:"medium_volatility"`
	Market           RegimeTable    `yaml:"market" toml:"market" json:"market"`
	TimeTiers        []TimeTier     `yaml:"time_tiers" toml:"time_tiers" json:"time_tiers"`
	ClampLow         float64        `yaml:"clamp_low" toml:"clamp_low" json:"clamp_low"`
	ClampHigh        float64        `yaml:"clamp_high" toml:"clamp_high" json:"clamp_high"`
}

type CooldownConfig struct {
	AfterStopLoss    Duration `yaml:"after_stop_loss" toml:"after_stop_loss" json:"after_stop_loss"`
	AfterProfitTake  Duration `yaml:"after_profit_take" toml:"after_profit_take" json:"after_profit_take"`
	AdaptiveWindow   Duration `yaml:"adaptive_window" toml:"adaptive_window" json:"adaptive_window"`
	GrowthBaseHours  float64  `yaml:"growth_base_hours" toml:"growth_base_hours" json:"growth_base_hours"`
	ValueBaseHours   float64  `yaml:"value_base_hours" toml:"value_base_hours" json:"value_base_hours"`
	DefaultBaseHours float64  `yaml:"default_base_hours" toml:"default_base_hours" json:"default_base_hours"`
	Min              Duration `yaml:"min" toml:"min" json:"min"`
	Max              Duration `yaml:"max" toml:"max" json:"max"`
}

type PullbackConfig struct {
	Base                 []PullbackStep `yaml:"base" toml:"base" json:"base"`
	Default              float64        `yaml:"default" toml:"default" json:"default"`
	OversoldRSI          float64        `yaml:"oversold_rsi" toml:"oversold_rsi" json:"oversold_rsi"`
	OverboughtRSI        float64        `yaml:"overbought_rsi" toml:"overbought_rsi" json:"overbought_rsi"`
	RSIAdjust            float64        `yaml:"rsi_adjust" toml:"rsi_adjust" json:"rsi_adjust"`
	DowntrendAdjust      float64        `yaml:"downtrend_adjust" toml:"downtrend_adjust" json:"downtrend_adjust"`
	UptrendAdjust        float64        `yaml:"uptrend_adjust" toml:"uptrend_adjust" json:"uptrend_adjust"`
	HighVolatility       float64        `yaml:"high_volatility" toml:"high_volatility" json:"high_volatility"`
	HighVolatilityAdjust float64        `yaml:"high_volatility_adjust" toml:"high_volatility_adjust" json:"high_volatility_adjust"`
	ClampLow             float64        `yaml:"clamp_low" toml:"clamp_low" json:"clamp_low"`
	ClampHigh            float64        `yaml:"clamp_high" toml:"clamp_high" json:"clamp_high"`
}

// PullbackStep is the required drop from the previous tranche's entry price
// before Tranche may open.
type PullbackStep struct {
	Tranche int     `yaml:"tranche" toml:"tranche" json:"tranche"`
	Drop    float64 `yaml:"drop" toml:"drop" json:"drop"`
}

// BaseFor returns the configured drop for tranche k, or Default.
func (p PullbackConfig) BaseFor(k int) float64 {
	for _, s := range p.Base {
		if s.Tranche == k {
			return s.Drop
		}
	}
	return p.Default
}

type SellConfig struct {
	QuickProfitRatio   float64 `yaml:"quick_profit_ratio" toml:"quick_profit_ratio" json:"quick_profit_ratio"`
	SafetyFactor       float64 `yaml:"safety_factor" toml:"safety_factor" json:"safety_factor"`
	TimeBasedDays      int     `yaml:"time_based_days" toml:"time_based_days" json:"time_based_days"`
	TimeBasedMinReturn float64 `yaml:"time_based_min_return" toml:"time_based_min_return" json:"time_based_min_return"`
	TimeBasedRatio     float64 `yaml:"time_based_ratio" toml:"time_based_ratio" json:"time_based_ratio"`
}

type BuyConfig struct {
	MinRSI                  float64 `yaml:"min_rsi" toml:"min_rsi" json:"min_rsi"`
	MaxRSI                  float64 `yaml:"max_rsi" toml:"max_rsi" json:"max_rsi"`
	LaterTrancheMaxRSI      float64 `yaml:"later_tranche_max_rsi" toml:"later_tranche_max_rsi" json:"later_tranche_max_rsi"`
	StrongUptrendMaxTranche int     `yaml:"strong_uptrend_max_tranche" toml:"strong_uptrend_max_tranche" json:"strong_uptrend_max_tranche"`
	MaxDailyBuys            int     `yaml:"max_daily_buys" toml:"max_daily_buys" json:"max_daily_buys"`
}

type EmergencyConfig struct {
	Disabled         bool     `yaml:"disabled" toml:"disabled" json:"disabled"`
	MaxPortfolioLoss float64  `yaml:"max_portfolio_loss" toml:"max_portfolio_loss" json:"max_portfolio_loss"`
	DailyStopLimit   int      `yaml:"daily_stop_limit" toml:"daily_stop_limit" json:"daily_stop_limit"`
	ConsecutiveStops int      `yaml:"consecutive_stops" toml:"consecutive_stops" json:"consecutive_stops"`
	Window           Duration `yaml:"window" toml:"window" json:"window"`
}

type ExecutionConfig struct {
	BuyPollInterval  Duration `yaml:"buy_poll_interval" toml:"buy_poll_interval" json:"buy_poll_interval"`
	BuyTimeout       Duration `yaml:"buy_timeout" toml:"buy_timeout" json:"buy_timeout"`
	SellPollInterval Duration `yaml:"sell_poll_interval" toml:"sell_poll_interval" json:"sell_poll_interval"`
	SellTimeout      Duration `yaml:"sell_timeout" toml:"sell_timeout" json:"sell_timeout"`
	BuyMarkup        float64  `yaml:"buy_markup" toml:"buy_markup" json:"buy_markup"`
	SellMarkdown     float64  `yaml:"sell_markdown" toml:"sell_markdown" json:"sell_markdown"`
	MaxPriceJump     float64  `yaml:"max_price_jump" toml:"max_price_jump" json:"max_price_jump"`
	DuplicateGuard   Duration `yaml:"duplicate_guard" toml:"duplicate_guard" json:"duplicate_guard"`
	PendingExpiry    Duration `yaml:"pending_expiry" toml:"pending_expiry" json:"pending_expiry"`
}

type ReconcileConfig struct {
	PriceTolerance  float64  `yaml:"price_tolerance" toml:"price_tolerance" json:"price_tolerance"`
	RestoreBackdate Duration `yaml:"restore_backdate" toml:"restore_backdate" json:"restore_backdate"`
}

type FeeConfig struct {
	Commission float64 `yaml:"commission" toml:"commission" json:"commission"`
	Tax        float64 `yaml:"tax" toml:"tax" json:"tax"`
	SpecialTax float64 `yaml:"special_tax" toml:"special_tax" json:"special_tax"`
}

type BrokerConfig struct {
	// Kind selects the adapter: "paper" or "wallex".
	Kind          string   `yaml:"kind" toml:"kind" json:"kind"`
	APIKey        string   `yaml:"api_key" toml:"api_key" json:"api_key"`
	CallDelay     Duration `yaml:"call_delay" toml:"call_delay" json:"call_delay"`
	RetryAttempts int      `yaml:"retry_attempts" toml:"retry_attempts" json:"retry_attempts"`
	RetryDelay    Duration `yaml:"retry_delay" toml:"retry_delay" json:"retry_delay"`
	PriceCacheTTL Duration `yaml:"price_cache_ttl" toml:"price_cache_ttl" json:"price_cache_ttl"`
	PaperCash     float64  `yaml:"paper_cash" toml:"paper_cash" json:"paper_cash"`
	// LotSize is the exchange quantity of one ledger share.
	LotSize       float64  `yaml:"lot_size" toml:"lot_size" json:"lot_size"`
	QuoteAsset    string   `yaml:"quote_asset" toml:"quote_asset" json:"quote_asset"`
}

type NotifyConfig struct {
	TelegramToken  string   `yaml:"telegram_token" toml:"telegram_token" json:"telegram_token"`
	TelegramChatID string   `yaml:"telegram_chat_id" toml:"telegram_chat_id" json:"telegram_chat_id"`
	Retries        int      `yaml:"retries" toml:"retries" json:"retries"`
	Delay          Duration `yaml:"delay" toml:"delay" json:"delay"`
}

type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver  string `yaml:"driver" toml:"driver" json:"driver"`
	DSN     string `yaml:"dsn" toml:"dsn" json:"dsn"`
	MaxOpen int    `yaml:"max_open" toml:"max_open" json:"max_open"`
	MaxIdle int    `yaml:"max_idle" toml:"max_idle" json:"max_idle"`
}

// SignalConfig points at the analytics output the engine reads indicators
// and regimes from.
type SignalConfig struct {
	File     string   `yaml:"file" toml:"file" json:"file"`
	MaxAge   Duration `yaml:"max_age" toml:"max_age" json:"max_age"`
	CacheTTL Duration `yaml:"cache_ttl" toml:"cache_ttl" json:"cache_ttl"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr" json:"addr"`
}

// StockConfig carries per-instrument settings. Pointer fields are optional
// overrides; nil means "use the global value".
type StockConfig struct {
	Name                     string         `yaml:"name" toml:"name" json:"name"`
	Type                     InstrumentType `yaml:"type" toml:"type" json:"type"`
	Weight                   float64        `yaml:"weight" toml:"weight" json:"weight"`
	HoldProfitTarget         float64        `yaml:"hold_profit_target" toml:"hold_profit_target" json:"hold_profit_target"`
	QuickProfitTarget        float64        `yaml:"quick_profit_target" toml:"quick_profit_target" json:"quick_profit_target"`
	PartialSellRatio         float64        `yaml:"partial_sell_ratio" toml:"partial_sell_ratio" json:"partial_sell_ratio"`
	MinPullback              float64        `yaml:"min_pullback" toml:"min_pullback" json:"min_pullback"`
	MaxRSIBuy                float64        `yaml:"max_rsi_buy" toml:"max_rsi_buy" json:"max_rsi_buy"`
	StopLossOverride         *StopLossTable `yaml:"stop_loss_override,omitempty" toml:"stop_loss_override,omitempty" json:"stop_loss_override,omitempty"`
	HighVolatilityMultiplier *float64       `yaml:"high_volatility_multiplier,omitempty" toml:"high_volatility_multiplier,omitempty" json:"high_volatility_multiplier,omitempty"`
}

type Config struct {
	StrategyName      string   `yaml:"strategy_name" toml:"strategy_name" json:"strategy_name"`
	LedgerFile        string   `yaml:"ledger_file" toml:"ledger_file" json:"ledger_file"`
	LogFile           string   `yaml:"log_file" toml:"log_file" json:"log_file"`
	TickInterval      Duration `yaml:"tick_interval" toml:"tick_interval" json:"tick_interval"`
	ReconcileInterval Duration `yaml:"reconcile_interval" toml:"reconcile_interval" json:"reconcile_interval"`
	SweepInterval     Duration `yaml:"sweep_interval" toml:"sweep_interval" json:"sweep_interval"`
	BackupRetention   Duration `yaml:"backup_retention" toml:"backup_retention" json:"backup_retention"`

	InitialEquity float64   `yaml:"initial_equity" toml:"initial_equity" json:"initial_equity"`
	TotalBudget   float64   `yaml:"total_budget" toml:"total_budget" json:"total_budget"`
	Tranches      int       `yaml:"tranches" toml:"tranches" json:"tranches"`
	TrancheRatios []float64 `yaml:"tranche_ratios" toml:"tranche_ratios" json:"tranche_ratios"`

	Symbols []string               `yaml:"symbols" toml:"symbols" json:"symbols"`
	Stocks  map[string]StockConfig `yaml:"stocks" toml:"stocks" json:"stocks"`

	StopLoss  StopLossConfig  `yaml:"stop_loss" toml:"stop_loss" json:"stop_loss"`
	Cooldown  CooldownConfig  `yaml:"cooldown" toml:"cooldown" json:"cooldown"`
	Pullback  PullbackConfig  `yaml:"pullback" toml:"pullback" json:"pullback"`
	Sell      SellConfig      `yaml:"sell" toml:"sell" json:"sell"`
	Buy       BuyConfig       `yaml:"buy" toml:"buy" json:"buy"`
	Emergency EmergencyConfig `yaml:"emergency" toml:"emergency" json:"emergency"`
	Execution ExecutionConfig `yaml:"execution" toml:"execution" json:"execution"`
	Reconcile ReconcileConfig `yaml:"reconcile" toml:"reconcile" json:"reconcile"`
	Fees      FeeConfig       `yaml:"fees" toml:"fees" json:"fees"`
	Broker    BrokerConfig    `yaml:"broker" toml:"broker" json:"broker"`
	Notify    NotifyConfig    `yaml:"notify" toml:"notify" json:"notify"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage" json:"storage"`
	Signal    SignalConfig    `yaml:"signal" toml:"signal" json:"signal"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics" json:"metrics"`
}

// DefaultStock is the baseline every configured stock is merged onto.
func DefaultStock() StockConfig {
	return StockConfig{
		Type:              General,
		Weight:            0,
		HoldProfitTarget:  10,
		QuickProfitTarget: 6,
		PartialSellRatio:  0.3,
		MinPullback:       2.5,
		MaxRSIBuy:         70,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StrategyName:      "split",
		LedgerFile:        "split-ledger.json",
		LogFile:           "split-trader.log",
		TickInterval:      Duration(time.Minute),
		ReconcileInterval: Duration(30 * time.Minute),
		SweepInterval:     Duration(time.Minute),
		BackupRetention:   Duration(time.Hour),

		Tranches:      5,
		TrancheRatios: []float64{0.15, 0.18, 0.22, 0.25, 0.20},
		Stocks:        map[string]StockConfig{},

		StopLoss: StopLossConfig{
			Base:             StopLossTable{Position1: -0.15, Position2: -0.20, Position3Plus: -0.25},
			HighVolatility:   VolatilityStep{Above: 6.0, Adjust: -0.04},
			MediumVolatility: VolatilityStep{Above: 3.5, Adjust: -0.02},
			Market: RegimeTable{
				StrongDowntrend: -0.03,
				Downtrend:       -0.015,
				Neutral:         0,
				Uptrend:         0.01,
				StrongUptrend:   0.02,
			},
			TimeTiers: []TimeTier{
				{MinDays: 365, Threshold: -0.05},
				{MinDays: 180, Threshold: -0.08},
				{MinDays: 90, Threshold: -0.12},
			},
			ClampLow:  0.5,
			ClampHigh: 1.5,
		},
		Cooldown: CooldownConfig{
			AfterStopLoss:    Duration(24 * time.Hour),
			AfterProfitTake:  Duration(6 * time.Hour),
			AdaptiveWindow:   Duration(72 * time.Hour),
			GrowthBaseHours:  6,
			ValueBaseHours:   8,
			DefaultBaseHours: 6,
			Min:              Duration(time.Hour),
			Max:              Duration(48 * time.Hour),
		},
		Pullback: PullbackConfig{
			Base: []PullbackStep{
				{Tranche: 2, Drop: 0.045},
				{Tranche: 3, Drop: 0.055},
				{Tranche: 4, Drop: 0.070},
				{Tranche: 5, Drop: 0.085},
			},
			Default:              0.06,
			OversoldRSI:          25,
			OverboughtRSI:        75,
			RSIAdjust:            0.01,
			DowntrendAdjust:      -0.015,
			UptrendAdjust:        0.01,
			HighVolatility:       5.0,
			HighVolatilityAdjust: -0.005,
			ClampLow:             0.5,
			ClampHigh:            1.5,
		},
		Sell: SellConfig{
			QuickProfitRatio:   0.5,
			SafetyFactor:       0.95,
			TimeBasedDays:      45,
			TimeBasedMinReturn: 3.0,
			TimeBasedRatio:     0.6,
		},
		Buy: BuyConfig{
			MinRSI:                  15,
			MaxRSI:                  90,
			LaterTrancheMaxRSI:      75,
			StrongUptrendMaxTranche: 3,
			MaxDailyBuys:            2,
		},
		Emergency: EmergencyConfig{
			MaxPortfolioLoss: 0.30,
			DailyStopLimit:   2,
			ConsecutiveStops: 4,
			Window:           Duration(7 * 24 * time.Hour),
		},
		Execution: ExecutionConfig{
			BuyPollInterval:  Duration(3 * time.Second),
			BuyTimeout:       Duration(90 * time.Second),
			SellPollInterval: Duration(2 * time.Second),
			SellTimeout:      Duration(60 * time.Second),
			BuyMarkup:        0.01,
			SellMarkdown:     0.01,
			MaxPriceJump:     0.03,
			DuplicateGuard:   Duration(10 * time.Minute),
			PendingExpiry:    Duration(20 * time.Minute),
		},
		Reconcile: ReconcileConfig{
			PriceTolerance:  0.03,
			RestoreBackdate: Duration(30 * 24 * time.Hour),
		},
		Fees: FeeConfig{
			Commission: 0.00015,
			Tax:        0.0023,
			SpecialTax: 0.0015,
		},
		Broker: BrokerConfig{
			Kind:          "paper",
			CallDelay:     Duration(200 * time.Millisecond),
			RetryAttempts: 3,
			RetryDelay:    Duration(2 * time.Second),
			PriceCacheTTL: Duration(3 * time.Second),
			PaperCash:     10_000_000,
			LotSize:       1,
			QuoteAsset:    "TMN",
		},
		Notify: NotifyConfig{
			Retries: 3,
			Delay:   Duration(5 * time.Second),
		},
		Storage: StorageConfig{
			Driver:  "memory",
			MaxOpen: 10,
			MaxIdle: 5,
		},
		Signal: SignalConfig{
			File:     "split-signals.json",
			MaxAge:   Duration(2 * time.Hour),
			CacheTTL: Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Addr: ":9108",
		},
	}
}

// WatchList returns the symbols to trade in a stable order: Symbols when set,
// otherwise the sorted keys of Stocks.
func (c Config) WatchList() []string {
	if len(c.Symbols) > 0 {
		return append([]string(nil), c.Symbols...)
	}
	out := make([]string, 0, len(c.Stocks))
	for s := range c.Stocks {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Stock returns the settings for symbol merged onto DefaultStock.
func (c Config) Stock(symbol string) StockConfig {
	if s, ok := c.Stocks[symbol]; ok {
		return MergeStock(DefaultStock(), s)
	}
	return DefaultStock()
}

// TrancheRatio returns the budget share of a 1-based tranche index.
func (c Config) TrancheRatio(index int) float64 {
	if index < 1 || index > len(c.TrancheRatios) {
		return 0
	}
	return c.TrancheRatios[index-1]
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.StrategyName == "" {
		return fmt.Errorf("strategy_name is required")
	}
	if c.LedgerFile == "" {
		return fmt.Errorf("ledger_file is required")
	}
	if c.Tranches < 1 || c.Tranches > 10 {
		return fmt.Errorf("tranches must be between 1 and 10, got %d", c.Tranches)
	}
	if len(c.TrancheRatios) != c.Tranches {
		return fmt.Errorf("tranche_ratios has %d entries, want %d", len(c.TrancheRatios), c.Tranches)
	}
	for i, r := range c.TrancheRatios {
		if r <= 0 || r > 1 {
			return fmt.Errorf("tranche_ratios[%d] must be in (0, 1], got %v", i, r)
		}
	}
	if c.TickInterval.D() <= 0 || c.ReconcileInterval.D() <= 0 || c.SweepInterval.D() <= 0 {
		return fmt.Errorf("tick, reconcile and sweep intervals must be positive")
	}
	if err := validateStopLossTable(c.StopLoss.Base); err != nil {
		return fmt.Errorf("stop_loss.base: %w", err)
	}
	if c.StopLoss.ClampLow <= 0 || c.StopLoss.ClampHigh < c.StopLoss.ClampLow {
		return fmt.Errorf("stop_loss clamp must satisfy 0 < clamp_low <= clamp_high")
	}
	if c.Pullback.ClampLow <= 0 || c.Pullback.ClampHigh < c.Pullback.ClampLow {
		return fmt.Errorf("pullback clamp must satisfy 0 < clamp_low <= clamp_high")
	}
	if c.Cooldown.Min.D() <= 0 || c.Cooldown.Max.D() < c.Cooldown.Min.D() {
		return fmt.Errorf("cooldown must satisfy 0 < min <= max")
	}
	if c.Emergency.MaxPortfolioLoss <= 0 || c.Emergency.MaxPortfolioLoss >= 1 {
		return fmt.Errorf("emergency.max_portfolio_loss must be in (0, 1), got %v", c.Emergency.MaxPortfolioLoss)
	}
	ex := c.Execution
	if ex.BuyPollInterval.D() <= 0 || ex.SellPollInterval.D() <= 0 {
		return fmt.Errorf("execution poll intervals must be positive")
	}
	if ex.BuyTimeout.D() < ex.BuyPollInterval.D() || ex.SellTimeout.D() < ex.SellPollInterval.D() {
		return fmt.Errorf("execution timeouts must be at least one poll interval")
	}
	if ex.PendingExpiry.D() < ex.BuyTimeout.D() || ex.PendingExpiry.D() < ex.SellTimeout.D() {
		return fmt.Errorf("execution.pending_expiry must exceed both poll timeouts")
	}
	if c.Broker.LotSize <= 0 {
		return fmt.Errorf("broker.lot_size must be positive")
	}
	if c.Reconcile.PriceTolerance < 0 {
		return fmt.Errorf("reconcile.price_tolerance must not be negative")
	}
	switch c.Broker.Kind {
	case "paper":
	case "wallex":
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required for the wallex broker")
		}
	default:
		return fmt.Errorf("unsupported broker kind: %q", c.Broker.Kind)
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}
	for symbol, s := range c.Stocks {
		if !s.Type.Valid() {
			return fmt.Errorf("stocks.%s.type: unknown instrument type %q", symbol, s.Type)
		}
		if s.StopLossOverride != nil {
			if err := validateStopLossTable(*s.StopLossOverride); err != nil {
				return fmt.Errorf("stocks.%s.stop_loss_override: %w", symbol, err)
			}
		}
	}
	return nil
}

func validateStopLossTable(t StopLossTable) error {
	if t.Position1 >= 0 || t.Position2 >= 0 || t.Position3Plus >= 0 {
		return fmt.Errorf("stop-loss bases must be negative fractions")
	}
	return nil
}
