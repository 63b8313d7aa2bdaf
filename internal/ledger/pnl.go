package ledger

import (
	"github.com/amirphl/split-trader/internal/config"
	"github.com/shopspring/decimal"
)

// Fees are proportional trading costs as fractions of the traded value.
type Fees struct {
	Commission float64
	Tax        float64
	SpecialTax float64
}

func FeesFromConfig(c config.FeeConfig) Fees {
	return Fees{Commission: c.Commission, Tax: c.Tax, SpecialTax: c.SpecialTax}
}

// BuyCost is the cash spent to buy qty at price, commission included.
func (f Fees) BuyCost(price float64, qty int64) float64 {
	v := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))
	cost := v.Add(v.Mul(decimal.NewFromFloat(f.Commission)))
	return cost.Round(2).InexactFloat64()
}

// SellProceeds is the cash received from selling qty at price after
// commission and taxes.
func (f Fees) SellProceeds(price float64, qty int64) float64 {
	v := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))
	rate := decimal.NewFromFloat(f.Commission).
		Add(decimal.NewFromFloat(f.Tax)).
		Add(decimal.NewFromFloat(f.SpecialTax))
	return v.Sub(v.Mul(rate)).Round(2).InexactFloat64()
}

// RealizedPnL is the net result of selling qty bought at entry for exit.
func (f Fees) RealizedPnL(entry, exit float64, qty int64) float64 {
	if qty <= 0 {
		return 0
	}
	out := decimal.NewFromFloat(f.SellProceeds(exit, qty)).
		Sub(decimal.NewFromFloat(f.BuyCost(entry, qty)))
	return out.Round(2).InexactFloat64()
}

func addMoney(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}
