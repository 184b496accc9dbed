package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"orderengine/src/model"
	"orderengine/src/utils"
	"orderengine/src/venue"
)

// Store is the durable storage the pipeline writes through.
type Store interface {
	CreateOrderIfAbsent(ctx context.Context, order *model.Order) (bool, error)
	UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus) error
	AppendExecutionResult(ctx context.Context, result *model.ExecutionResult, failureReason string) error
	// ConfirmExecution stores a successful attempt and the confirmed status atomically.
	ConfirmExecution(ctx context.Context, result *model.ExecutionResult) error
}

// Router quotes and fills swaps.
type Router interface {
	BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (venue.Routing, error)
	Execute(ctx context.Context, v model.Venue, tokenIn, tokenOut string, amountIn, slippage float64) (venue.Execution, error)
}

// Publisher delivers status updates to whoever watches an order.
type Publisher interface {
	Publish(orderID string, update model.StatusUpdate)
}

// Outcome classifies a finished run for the queue's retry policy.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// RunResult is returned by every run instead of a panic or a bare error.
type RunResult struct {
	Outcome Outcome
	Err     error
	// Execution is the stored attempt row, nil when nothing was persisted.
	Execution *model.ExecutionResult
}

// ErrIllegalTransition reports a stage sequence the state machine forbids.
var ErrIllegalTransition = errors.New("illegal status transition")

type Executor struct {
	cfg       Config
	logger    *logrus.Entry
	store     Store
	router    Router
	publisher Publisher

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(cfg Config, logger *logrus.Entry, store Store, router Router, publisher Publisher) *Executor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Executor{
		cfg:       cfg,
		logger:    logger.WithField("component", "pipeline"),
		store:     store,
		router:    router,
		publisher: publisher,
		now:       time.Now,
		sleep:     utils.Sleep,
	}
}

// run carries the per-attempt state of one Run call.
type run struct {
	e      *Executor
	job    Job
	log    *logrus.Entry
	status model.OrderStatus
	venue  *model.Venue
}

// Run drives one attempt of job through the state machine, publishing every
// transition in order and persisting the attempt's outcome.
func (e *Executor) Run(ctx context.Context, job Job) RunResult {
	r := &run{
		e:   e,
		job: job,
		log: e.logger.WithFields(logrus.Fields{"order_id": job.OrderID, "attempt": job.Attempt}),
	}

	if err := job.Validate(); err != nil {
		r.log.WithError(err).Error("rejecting invalid job")
		r.publish(model.StatusFailed, "Order execution failed", nil, err)
		return RunResult{Outcome: OutcomeFatal, Err: err}
	}

	result, err := r.execute(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}

	r.log.WithFields(logrus.Fields{
		"tx_hash":    *result.TxHash,
		"dex":        *result.DexUsed,
		"amount_out": *result.AmountOut,
	}).Info("order completed successfully")

	return RunResult{Outcome: OutcomeSucceeded, Execution: result}
}

func (r *run) execute(ctx context.Context) (*model.ExecutionResult, error) {
	e, job := r.e, r.job

	// PENDING
	if err := r.advance(model.StatusPending); err != nil {
		return nil, err
	}
	r.publish(model.StatusPending, "Order received and queued", nil, nil)

	if err := e.sleep(ctx, e.cfg.PendingGrace); err != nil {
		return nil, err
	}

	created, err := e.store.CreateOrderIfAbsent(ctx, job.Order(e.now()))
	if err != nil {
		return nil, &model.PersistenceError{Op: "create order", Err: err}
	}
	if !created {
		// Retry of a stored order: the status row still holds the previous attempt.
		if err := e.store.UpdateStatus(ctx, job.OrderID, model.StatusPending); err != nil {
			return nil, &model.PersistenceError{Op: "update status", Err: err}
		}
	}

	// ROUTING
	if err := r.enter(ctx, model.StatusRouting); err != nil {
		return nil, err
	}
	routing, err := e.router.BestQuote(ctx, job.TokenIn, job.TokenOut, job.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	best := routing.Best.Venue
	r.venue = &best
	r.logRouting(routing)
	r.publish(model.StatusRouting,
		fmt.Sprintf("Comparing venue prices: best quote on %s", best),
		&model.ExecutionDetail{OrderID: job.OrderID, DexUsed: best}, nil)

	// BUILDING
	if err := r.enter(ctx, model.StatusBuilding); err != nil {
		return nil, err
	}
	r.publish(model.StatusBuilding, fmt.Sprintf("Building transaction for %s", best), nil, nil)
	if err := e.sleep(ctx, e.cfg.BuildDelay); err != nil {
		return nil, err
	}

	// SUBMITTED
	if err := r.enter(ctx, model.StatusSubmitted); err != nil {
		return nil, err
	}
	r.publish(model.StatusSubmitted, "Transaction submitted to network", nil, nil)

	fill, err := e.router.Execute(ctx, best, job.TokenIn, job.TokenOut, job.AmountIn, job.Slippage)
	if err != nil {
		return nil, err
	}

	// CONFIRMED
	if err := r.advance(model.StatusConfirmed); err != nil {
		return nil, err
	}
	result := &model.ExecutionResult{
		OrderID:       job.OrderID,
		Attempt:       job.Attempt,
		TxHash:        &fill.TxHash,
		ExecutedPrice: &fill.ExecutedPrice,
		AmountOut:     &fill.AmountOut,
		DexUsed:       &best,
		ExecutedAt:    e.now(),
	}
	if err := e.store.ConfirmExecution(ctx, result); err != nil {
		return nil, &model.PersistenceError{Op: "confirm execution", Err: err}
	}
	r.publish(model.StatusConfirmed, "Order executed successfully", result.Detail(), nil)

	return result, nil
}

// fail records the attempt as FAILED and classifies cause for the queue.
func (r *run) fail(ctx context.Context, cause error) RunResult {
	e, job := r.e, r.job
	r.log.WithError(cause).WithField("stage", r.status).Error("order execution failed")

	// Bookkeeping must land even when the run was cancelled by shutdown.
	ctx = context.WithoutCancel(ctx)
	r.status = model.StatusFailed

	if err := e.store.UpdateStatus(ctx, job.OrderID, model.StatusFailed); err != nil {
		r.log.WithError(err).Warn("failed to mark order as failed")
	}

	result := &model.ExecutionResult{
		OrderID:    job.OrderID,
		Attempt:    job.Attempt,
		DexUsed:    r.venue,
		ExecutedAt: e.now(),
	}
	if err := e.store.AppendExecutionResult(ctx, result, cause.Error()); err != nil {
		r.log.WithError(err).Warn("failed to store failed execution result")
		result = nil
	}

	r.publish(model.StatusFailed, "Order execution failed", nil, cause)

	outcome := OutcomeRetryable
	if !model.IsRetryable(cause) || errors.Is(cause, ErrIllegalTransition) {
		outcome = OutcomeFatal
	}
	return RunResult{Outcome: outcome, Err: cause, Execution: result}
}

// enter advances to next and mirrors it in the durable order row.
func (r *run) enter(ctx context.Context, next model.OrderStatus) error {
	if err := r.advance(next); err != nil {
		return err
	}
	if err := r.e.store.UpdateStatus(ctx, r.job.OrderID, next); err != nil {
		return &model.PersistenceError{Op: "update status", Err: err}
	}
	return nil
}

func (r *run) advance(next model.OrderStatus) error {
	if !r.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.status, next)
	}
	r.status = next
	return nil
}

func (r *run) publish(status model.OrderStatus, message string, data *model.ExecutionDetail, err error) {
	if r.e.publisher == nil {
		return
	}
	update := model.StatusUpdate{
		OrderID:   r.job.OrderID,
		Status:    status,
		Timestamp: r.e.now(),
		Message:   message,
		Data:      data,
	}
	if err != nil {
		update.Error = err.Error()
	}
	r.e.publisher.Publish(r.job.OrderID, update)
}

func (r *run) logRouting(routing venue.Routing) {
	fields := logrus.Fields{"selected": routing.Best.Venue}
	for _, q := range routing.Quotes {
		fields[string(q.Venue)+"_price"] = q.EffectivePrice
		fields[string(q.Venue)+"_output"] = q.EstimatedOutput
	}
	r.log.WithFields(fields).Info("routing decision")
}
