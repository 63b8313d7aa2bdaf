package config

// Merge overlays override onto base and returns the result. A zero value in
// override means "not set" and keeps the base value; slices replace as a
// whole; Stocks merge key by key through MergeStock. Neither input is
// modified.
func Merge(base, override Config) Config {
	out := base

	out.StrategyName = pick(base.StrategyName, override.StrategyName)
	out.LedgerFile = pick(base.LedgerFile, override.LedgerFile)
	out.LogFile = pick(base.LogFile, override.LogFile)
	out.TickInterval = pick(base.TickInterval, override.TickInterval)
	out.ReconcileInterval = pick(base.ReconcileInterval, override.ReconcileInterval)
	out.SweepInterval = pick(base.SweepInterval, override.SweepInterval)
	out.BackupRetention = pick(base.BackupRetention, override.BackupRetention)
	out.InitialEquity = pick(base.InitialEquity, override.InitialEquity)
	out.TotalBudget = pick(base.TotalBudget, override.TotalBudget)
	out.Tranches = pick(base.Tranches, override.Tranches)
	out.TrancheRatios = pickSlice(base.TrancheRatios, override.TrancheRatios)
	out.Symbols = pickSlice(base.Symbols, override.Symbols)

	out.Stocks = make(map[string]StockConfig, len(base.Stocks)+len(override.Stocks))
	for k, v := range base.Stocks {
		out.Stocks[k] = v
	}
	for k, v := range override.Stocks {
		if cur, ok := out.Stocks[k]; ok {
			out.Stocks[k] = MergeStock(cur, v)
		} else {
			out.Stocks[k] = v
		}
	}

	out.StopLoss = mergeStopLoss(base.StopLoss, override.StopLoss)
	out.Cooldown = mergeCooldown(base.Cooldown, override.Cooldown)
	out.Pullback = mergePullback(base.Pullback, override.Pullback)

	out.Sell = SellConfig{
		QuickProfitRatio:   pick(base.Sell.QuickProfitRatio, override.Sell.QuickProfitRatio),
		SafetyFactor:       pick(base.Sell.SafetyFactor, override.Sell.SafetyFactor),
		TimeBasedDays:      pick(base.Sell.TimeBasedDays, override.Sell.TimeBasedDays),
		TimeBasedMinReturn: pick(base.Sell.TimeBasedMinReturn, override.Sell.TimeBasedMinReturn),
		TimeBasedRatio:     pick(base.Sell.TimeBasedRatio, override.Sell.TimeBasedRatio),
	}
	out.Buy = BuyConfig{
		MinRSI:                  pick(base.Buy.MinRSI, override.Buy.MinRSI),
		MaxRSI:                  pick(base.Buy.MaxRSI, override.Buy.MaxRSI),
		LaterTrancheMaxRSI:      pick(base.Buy.LaterTrancheMaxRSI, override.Buy.LaterTrancheMaxRSI),
		StrongUptrendMaxTranche: pick(base.Buy.StrongUptrendMaxTranche, override.Buy.StrongUptrendMaxTranche),
		MaxDailyBuys:            pick(base.Buy.MaxDailyBuys, override.Buy.MaxDailyBuys),
	}
	out.Emergency = EmergencyConfig{
		Disabled:         base.Emergency.Disabled || override.Emergency.Disabled,
		MaxPortfolioLoss: pick(base.Emergency.MaxPortfolioLoss, override.Emergency.MaxPortfolioLoss),
		DailyStopLimit:   pick(base.Emergency.DailyStopLimit, override.Emergency.DailyStopLimit),
		ConsecutiveStops: pick(base.Emergency.ConsecutiveStops, override.Emergency.ConsecutiveStops),
		Window:           pick(base.Emergency.Window, override.Emergency.Window),
	}
	out.Execution = ExecutionConfig{
		BuyPollInterval:  pick(base.Execution.BuyPollInterval, override.Execution.BuyPollInterval),
		BuyTimeout:       pick(base.Execution.BuyTimeout, override.Execution.BuyTimeout),
		SellPollInterval: pick(base.Execution.SellPollInterval, override.Execution.SellPollInterval),
		SellTimeout:      pick(base.Execution.SellTimeout, override.Execution.SellTimeout),
		BuyMarkup:        pick(base.Execution.BuyMarkup, override.Execution.BuyMarkup),
		SellMarkdown:     pick(base.Execution.SellMarkdown, override.Execution.SellMarkdown),
		MaxPriceJump:     pick(base.Execution.MaxPriceJump, override.Execution.MaxPriceJump),
		DuplicateGuard:   pick(base.Execution.DuplicateGuard, override.Execution.DuplicateGuard),
		PendingExpiry:    pick(base.Execution.PendingExpiry, override.Execution.PendingExpiry),
	}
	out.Reconcile = ReconcileConfig{
		PriceTolerance:  pick(base.Reconcile.PriceTolerance, override.Reconcile.PriceTolerance),
		RestoreBackdate: pick(base.Reconcile.RestoreBackdate, override.Reconcile.RestoreBackdate),
	}
	out.Fees = FeeConfig{
		Commission: pick(base.Fees.Commission, override.Fees.Commission),
		Tax:        pick(base.Fees.Tax, override.Fees.Tax),
		SpecialTax: pick(base.Fees.SpecialTax, override.Fees.SpecialTax),
	}
	out.Broker = BrokerConfig{
		Kind:          pick(base.Broker.Kind, override.Broker.Kind),
		APIKey:        pick(base.Broker.APIKey, override.Broker.APIKey),
		CallDelay:     pick(base.Broker.CallDelay, override.Broker.CallDelay),
		RetryAttempts: pick(base.Broker.RetryAttempts, override.Broker.RetryAttempts),
		RetryDelay:    pick(base.Broker.RetryDelay, override.Broker.RetryDelay),
		PriceCacheTTL: pick(base.Broker.PriceCacheTTL, override.Broker.PriceCacheTTL),
		PaperCash:     pick(base.Broker.PaperCash, override.Broker.PaperCash),
		LotSize:       pick(base.Broker.LotSize, override.Broker.LotSize),
		QuoteAsset:    pick(base.Broker.QuoteAsset, override.Broker.QuoteAsset),
	}
	out.Notify = NotifyConfig{
		TelegramToken:  pick(base.Notify.TelegramToken, override.Notify.TelegramToken),
		TelegramChatID: pick(base.Notify.TelegramChatID, override.Notify.TelegramChatID),
		Retries:        pick(base.Notify.Retries, override.Notify.Retries),
		Delay:          pick(base.Notify.Delay, override.Notify.Delay),
	}
	out.Storage = StorageConfig{
		Driver:  pick(base.Storage.Driver, override.Storage.Driver),
		DSN:     pick(base.Storage.DSN, override.Storage.DSN),
		MaxOpen: pick(base.Storage.MaxOpen, override.Storage.MaxOpen),
		MaxIdle: pick(base.Storage.MaxIdle, override.Storage.MaxIdle),
	}
	out.Signal = SignalConfig{
		File:     pick(base.Signal.File, override.Signal.File),
		MaxAge:   pick(base.Signal.MaxAge, override.Signal.MaxAge),
		CacheTTL: pick(base.Signal.CacheTTL, override.Signal.CacheTTL),
	}
	out.Metrics = MetricsConfig{
		Addr: pick(base.Metrics.Addr, override.Metrics.Addr),
	}
	return out
}

// MergeStock overlays one stock's settings onto another.
func MergeStock(base, override StockConfig) StockConfig {
	out := StockConfig{
		Name:                     pick(base.Name, override.Name),
		Type:                     pick(base.Type, override.Type),
		Weight:                   pick(base.Weight, override.Weight),
		HoldProfitTarget:         pick(base.HoldProfitTarget, override.HoldProfitTarget),
		QuickProfitTarget:        pick(base.QuickProfitTarget, override.QuickProfitTarget),
		PartialSellRatio:         pick(base.PartialSellRatio, override.PartialSellRatio),
		MinPullback:              pick(base.MinPullback, override.MinPullback),
		MaxRSIBuy:                pick(base.MaxRSIBuy, override.MaxRSIBuy),
		StopLossOverride:         base.StopLossOverride,
		HighVolatilityMultiplier: base.HighVolatilityMultiplier,
	}
	if override.StopLossOverride != nil {
		t := *override.StopLossOverride
		out.StopLossOverride = &t
	}
	if override.HighVolatilityMultiplier != nil {
		m := *override.HighVolatilityMultiplier
		out.HighVolatilityMultiplier = &m
	}
	return out
}

func mergeStopLoss(base, override StopLossConfig) StopLossConfig {
	return StopLossConfig{
		Base: StopLossTable{
			Position1:     pick(base.Base.Position1, override.Base.Position1),
			Position2:     pick(base.Base.Position2, override.Base.Position2),
			Position3Plus: pick(base.Base.Position3Plus, override.Base.Position3Plus),
		},
		HighVolatility:   pick(base.HighVolatility, override.HighVolatility),
		MediumVolatility: pick(base.MediumVolatility, override.MediumVolatility),
		Market:           mergeRegime(base.Market, override.Market),
		TimeTiers:        pickSlice(base.TimeTiers, override.TimeTiers),
		ClampLow:         pick(base.ClampLow, override.ClampLow),
		ClampHigh:        pick(base.ClampHigh, override.ClampHigh),
	}
}

func mergeCooldown(base, override CooldownConfig) CooldownConfig {
	return CooldownConfig{
		AfterStopLoss:    pick(base.AfterStopLoss, override.AfterStopLoss),
		AfterProfitTake:  pick(base.AfterProfitTake, override.AfterProfitTake),
		AdaptiveWindow:   pick(base.AdaptiveWindow, override.AdaptiveWindow),
		GrowthBaseHours:  pick(base.GrowthBaseHours, override.GrowthBaseHours),
		ValueBaseHours:   pick(base.ValueBaseHours, override.ValueBaseHours),
		DefaultBaseHours: pick(base.DefaultBaseHours, override.DefaultBaseHours),
		Min:              pick(base.Min, override.Min),
		Max:              pick(base.Max, override.Max),
	}
}

func mergePullback(base, override PullbackConfig) PullbackConfig {
	out := PullbackConfig{
		Default:              pick(base.Default, override.Default),
		OversoldRSI:          pick(base.OversoldRSI, override.OversoldRSI),
		OverboughtRSI:        pick(base.OverboughtRSI, override.OverboughtRSI),
		RSIAdjust:            pick(base.RSIAdjust, override.RSIAdjust),
		DowntrendAdjust:      pick(base.DowntrendAdjust, override.DowntrendAdjust),
		UptrendAdjust:        pick(base.UptrendAdjust, override.UptrendAdjust),
		HighVolatility:       pick(base.HighVolatility, override.HighVolatility),
		HighVolatilityAdjust: pick(base.HighVolatilityAdjust, override.HighVolatilityAdjust),
		ClampLow:             pick(base.ClampLow, override.ClampLow),
		ClampHigh:            pick(base.ClampHigh, override.ClampHigh),
	}
	out.Base = append([]PullbackStep(nil), base.Base...)
	for _, step := range override.Base {
		replaced := false
		for i := range out.Base {
			if out.Base[i].Tranche == step.Tranche {
				out.Base[i] = step
				replaced = true
			}
		}
		if !replaced {
			out.Base = append(out.Base, step)
		}
	}
	return out
}

func mergeRegime(base, override RegimeTable) RegimeTable {
	return RegimeTable{
		StrongDowntrend: pick(base.StrongDowntrend, override.StrongDowntrend),
		Downtrend:       pick(base.Downtrend, override.Downtrend),
		Neutral:         pick(base.Neutral, override.Neutral),
		Uptrend:         pick(base.Uptrend, override.Uptrend),
		StrongUptrend:   pick(base.StrongUptrend, override.StrongUptrend),
	}
}

func pick[T comparable](base, override T) T {
	var zero T
	if override != zero {
		return override
	}
	return base
}

func pickSlice[T any](base, override []T) []T {
	if len(override) > 0 {
		return append([]T(nil), override...)
	}
	return append([]T(nil), base...)
}
