// Package execution submits orders and confirms fills by watching the
// broker-reported position change, tracking unconfirmed orders until they
// fill or expire.
package execution

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateOrder       = errors.New("duplicate-order guard")
	ErrPriceMoved           = errors.New("price moved beyond limit since analysis")
	ErrInsufficientHoldings = errors.New("broker holds less than requested")
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("unknown side %q", string(b))
	}
	return nil
}

type OrderStatus int

const (
	Submitted OrderStatus = iota
	Pending
	Filled
	Expired
)

func (s OrderStatus) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Pending:
		return "pending"
	case Filled:
		return "filled"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "submitted":
		*s = Submitted
	case "pending":
		*s = Pending
	case "filled":
		*s = Filled
	case "expired":
		*s = Expired
	default:
		return fmt.Errorf("unknown order status %q", string(b))
	}
	return nil
}

// PendingOrder is an order whose fill has not been confirmed yet.
type PendingOrder struct {
	ID                     string      `json:"id"`
	Symbol                 string      `json:"symbol"`
	Side                   Side        `json:"side"`
	TrancheIndex           int         `json:"tranche_index"`
	SubmittedAt            time.Time   `json:"submitted_at"`
	QuantityRequested      int64       `json:"quantity_requested"`
	PriceLimit             float64     `json:"price_limit"`
	PreOrderBrokerQuantity int64       `json:"pre_order_broker_quantity"`
	PreOrderAveragePrice   float64     `json:"pre_order_average_price"`
	OrderID                string      `json:"order_id"`
	Reason                 string      `json:"reason"`
	Status                 OrderStatus `json:"status"`
}

// Key identifies the symbol+side slot the order occupies.
func (o PendingOrder) Key() string { return o.Symbol + "/" + o.Side.String() }

// Delta returns how much of the order the broker quantity q shows as filled.
func (o PendingOrder) Delta(q int64) int64 {
	if o.Side == Buy {
		return q - o.PreOrderBrokerQuantity
	}
	return o.PreOrderBrokerQuantity - q
}

// Satisfied reports whether broker quantity q confirms the whole order.
func (o PendingOrder) Satisfied(q int64) bool {
	return o.Delta(q) >= o.QuantityRequested
}

// Fill is the outcome of an execution attempt. Confirmed is false when the
// order was accepted but not seen filling within the polling bound.
type Fill struct {
	Confirmed bool
	Quantity  int64
	Price     float64
	OrderID   string
	At        time.Time
	Order     PendingOrder
}
