// Package broker defines the brokerage boundary of the engine and its
// adapters.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoPrice       = errors.New("no market price")
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrInsufficient  = errors.New("insufficient funds or holdings")
)

// Holding is the broker's view of one position. AveragePrice is zero when
// the broker does not report a cost basis.
type Holding struct {
	Symbol        string
	Quantity      int64
	AveragePrice  float64
	UnrealizedPct float64
}

type Balance struct {
	TotalEquity float64
	Cash        float64
	// Locked is quote cash held by open buy orders, already out of Cash.
	Locked float64
}

// OrderAck is the broker's acceptance of an order. It says nothing about
// whether the order filled.
type OrderAck struct {
	OrderID     string
	Symbol      string
	Side        string
	Quantity    int64
	Price       float64
	SubmittedAt time.Time
}

// Broker is the brokerage account the engine trades against. Quantities are
// whole ledger shares.
type Broker interface {
	Name() string
	GetHoldings(ctx context.Context, symbol string) (Holding, error)
	GetBalance(ctx context.Context) (Balance, error)
	SubmitLimitBuy(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error)
	SubmitLimitSell(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}
