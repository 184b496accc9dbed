// model/execution.go
package model

import "time"

// Venue identifies a simulated execution counterparty.
type Venue string

const (
	VenueRaydium Venue = "RAYDIUM"
	VenueMeteora Venue = "METEORA"
)

// Quote is a price offered by a venue for one routing decision. Never persisted.
type Quote struct {
	Venue           Venue   `json:"dex"`
	Price           float64 `json:"price"`     // tokenOut per tokenIn
	Fee             float64 `json:"fee"`       // fraction, e.g. 0.003
	Liquidity       float64 `json:"liquidity"` // available depth
	EffectivePrice  float64 `json:"effectivePrice"`
	EstimatedOutput float64 `json:"estimatedOutput"`
}

// ExecutionResult stores one terminal attempt of an order, successful or not.
// Rows are only ever appended; TxHash and FailureReason are mutually exclusive.
type ExecutionResult struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Foreign key to Order
	OrderID string `gorm:"size:36;index;not null" json:"orderId"`
	Attempt int    `gorm:"not null;default:1" json:"attempt"`

	TxHash        *string  `gorm:"size:255" json:"txHash,omitempty"`
	ExecutedPrice *float64 `gorm:"type:decimal(20,8)" json:"executedPrice,omitempty"`
	AmountOut     *float64 `gorm:"type:decimal(20,8)" json:"amountOut,omitempty"`
	DexUsed       *Venue   `gorm:"size:20" json:"dexUsed,omitempty"`
	GasFee        *float64 `gorm:"type:decimal(20,8)" json:"gasFee,omitempty"`
	FailureReason *string  `gorm:"type:text" json:"failureReason,omitempty"`

	ExecutedAt time.Time `json:"executedAt"`
}

// TableName allows you to control the exact table name for execution results.
func (ExecutionResult) TableName() string {
	return "order_executions"
}

// Succeeded reports whether the attempt produced a transaction.
func (r ExecutionResult) Succeeded() bool {
	return r.TxHash != nil && *r.TxHash != "" && r.FailureReason == nil
}

// Detail converts the stored row into the payload sent to subscribers.
func (r ExecutionResult) Detail() *ExecutionDetail {
	d := &ExecutionDetail{OrderID: r.OrderID, GasFee: r.GasFee}
	if r.TxHash != nil {
		d.TxHash = *r.TxHash
	}
	if r.ExecutedPrice != nil {
		d.ExecutedPrice = *r.ExecutedPrice
	}
	if r.AmountOut != nil {
		d.AmountOut = *r.AmountOut
	}
	if r.DexUsed != nil {
		d.DexUsed = *r.DexUsed
	}
	if !r.ExecutedAt.IsZero() {
		at := r.ExecutedAt
		d.ExecutedAt = &at
	}
	return d
}
