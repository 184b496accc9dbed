package pipeline

import (
	"time"

	"orderengine/src/model"
)

// Job is one queued order attempt. It is serialized into the keyed store while
// the order waits, so every field needed to rebuild the order lives here.
type Job struct {
	OrderID    string          `json:"orderId"`
	UserID     string          `json:"userId"`
	OrderType  model.OrderType `json:"orderType"`
	TokenIn    string          `json:"tokenIn"`
	TokenOut   string          `json:"tokenOut"`
	AmountIn   float64         `json:"amountIn"`
	Slippage   float64         `json:"slippage"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// NewJob builds the first attempt of orderID from an already validated request.
func NewJob(orderID string, req model.CreateOrderRequest, now time.Time) Job {
	return Job{
		OrderID:    orderID,
		UserID:     req.UserID,
		OrderType:  req.OrderType,
		TokenIn:    req.TokenIn,
		TokenOut:   req.TokenOut,
		AmountIn:   req.AmountIn,
		Slippage:   req.SlippageOrDefault(),
		Attempt:    1,
		EnqueuedAt: now,
	}
}

// Request rebuilds the intake request the job was created from.
func (j Job) Request() model.CreateOrderRequest {
	slippage := j.Slippage
	return model.CreateOrderRequest{
		UserID:    j.UserID,
		OrderType: j.OrderType,
		TokenIn:   j.TokenIn,
		TokenOut:  j.TokenOut,
		AmountIn:  j.AmountIn,
		Slippage:  &slippage,
	}
}

// Validate rejects jobs that could never execute.
func (j Job) Validate() error {
	if j.OrderID == "" {
		return &model.ValidationError{Field: "orderId", Reason: "is required"}
	}
	return j.Request().Validate()
}

// Order is the durable record created on the first attempt.
func (j Job) Order(now time.Time) *model.Order {
	return &model.Order{
		OrderID:   j.OrderID,
		UserID:    j.UserID,
		OrderType: j.OrderType,
		TokenIn:   j.TokenIn,
		TokenOut:  j.TokenOut,
		AmountIn:  j.AmountIn,
		Slippage:  j.Slippage,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
