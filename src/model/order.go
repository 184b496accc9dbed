package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OrderType is the kind of order requested by the caller.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeSniper OrderType = "SNIPER"
)

// Valid reports whether t is one of the supported order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeSniper:
		return true
	}
	return false
}

// DefaultSlippage is applied when a request omits the slippage tolerance (percent).
const DefaultSlippage = 1.0

// Order is the durable record of a swap request.
// OrderID is assigned before the order is queued and never changes afterwards.
type Order struct {
	OrderID   string      `gorm:"primaryKey;size:36;column:order_id" json:"orderId"`
	UserID    string      `gorm:"size:255;not null;index" json:"userId"`
	OrderType OrderType   `gorm:"size:20;not null" json:"orderType"`
	TokenIn   string      `gorm:"size:255;not null" json:"tokenIn"`
	TokenOut  string      `gorm:"size:255;not null" json:"tokenOut"`
	AmountIn  float64     `gorm:"type:decimal(20,8);not null" json:"amountIn"`
	Slippage  float64     `gorm:"type:decimal(5,2);not null" json:"slippage"`
	Status    OrderStatus `gorm:"size:20;not null;index;default:pending" json:"status"`
	CreatedAt time.Time   `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`

	// One-to-many relation: one order can have many execution attempts
	Executions []ExecutionResult `gorm:"foreignKey:OrderID;references:OrderID" json:"executions,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// CreateOrderRequest is the payload accepted by the intake endpoint.
// Slippage is optional; nil means DefaultSlippage.
type CreateOrderRequest struct {
	UserID    string    `json:"userId"`
	OrderType OrderType `json:"orderType"`
	TokenIn   string    `json:"tokenIn"`
	TokenOut  string    `json:"tokenOut"`
	AmountIn  float64   `json:"amountIn"`
	Slippage  *float64  `json:"slippage,omitempty"`
}

// SlippageOrDefault returns the requested slippage or DefaultSlippage.
func (r CreateOrderRequest) SlippageOrDefault() float64 {
	if r.Slippage == nil {
		return DefaultSlippage
	}
	return *r.Slippage
}

// CreateOrderResponse is returned once an order has been admitted to the queue.
type CreateOrderResponse struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
	Message string      `json:"message"`
}

// Validate checks the request the way the intake endpoint requires.
// Slippage is checked only when supplied.
func (r CreateOrderRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return &ValidationError{Field: "userId", Reason: "is required"}
	case r.OrderType == "":
		return &ValidationError{Field: "orderType", Reason: "is required"}
	case !r.OrderType.Valid():
		return &ValidationError{Field: "orderType", Reason: fmt.Sprintf("unsupported type %q", r.OrderType)}
	case strings.TrimSpace(r.TokenIn) == "":
		return &ValidationError{Field: "tokenIn", Reason: "is required"}
	case strings.TrimSpace(r.TokenOut) == "":
		return &ValidationError{Field: "tokenOut", Reason: "is required"}
	case math.IsNaN(r.AmountIn) || math.IsInf(r.AmountIn, 0) || r.AmountIn <= 0:
		return &ValidationError{Field: "amountIn", Reason: "must be greater than 0"}
	}
	if r.Slippage != nil {
		s := *r.Slippage
		if math.IsNaN(s) || s < 0 || s > 100 {
			return &ValidationError{Field: "slippage", Reason: "must be between 0 and 100"}
		}
	}
	return nil
}
